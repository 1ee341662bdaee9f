package pintofs

import (
	"bytes"
)

// NameMax is the longest byte length a path component name may have.
const NameMax = 14

// dirEntrySize is the fixed on-disk size of one directory entry: a u32
// inode sector, a 15-byte null-terminated name, and a 1-byte in-use flag.
const dirEntrySize = 4 + (NameMax + 1) + 1

const (
	selfName   = "."
	parentName = ".."
)

// dirEntry is one fixed-size record inside a directory inode's byte
// content.
type dirEntry struct {
	InodeSector uint32
	Name        [NameMax + 1]byte
	InUse       bool
}

func (e *dirEntry) name() string {
	i := bytes.IndexByte(e.Name[:], 0)
	if i < 0 {
		i = len(e.Name)
	}
	return string(e.Name[:i])
}

func (e *dirEntry) setName(name string) {
	var buf [NameMax + 1]byte
	copy(buf[:], name)
	e.Name = buf
}

func (e *dirEntry) marshal() []byte {
	buf := make([]byte, dirEntrySize)
	putUint32(buf[0:4], e.InodeSector)
	copy(buf[4:4+NameMax+1], e.Name[:])
	if e.InUse {
		buf[dirEntrySize-1] = 1
	}
	return buf
}

func (e *dirEntry) unmarshal(buf []byte) {
	e.InodeSector = getUint32(buf[0:4])
	copy(e.Name[:], buf[4:4+NameMax+1])
	e.InUse = buf[dirEntrySize-1] != 0
}

func putUint32(buf []byte, v uint32) {
	buf[0] = byte(v)
	buf[1] = byte(v >> 8)
	buf[2] = byte(v >> 16)
	buf[3] = byte(v >> 24)
}

func getUint32(buf []byte) uint32 {
	return uint32(buf[0]) | uint32(buf[1])<<8 | uint32(buf[2])<<16 | uint32(buf[3])<<24
}

// Directory is a directory inode wrapped with the entry-sequence
// operations: lookup/add/remove by name, `.`/`..` maintenance, and
// readdir.
type Directory struct {
	fs  *FS
	ino *Inode
}

// createDirectory builds a new directory inode at sector, sized for
// entryCapacity ordinary entries plus the `.`/`..` prelude, and writes
// that prelude. The root directory is its own parent.
func createDirectory(fs *FS, sector uint32, entryCapacity int, parentSector uint32) error {
	length := int64(entryCapacity+2) * dirEntrySize
	if err := createInode(fs, sector, length, true); err != nil {
		return err
	}
	d, err := openDirectory(fs, sector)
	if err != nil {
		return err
	}
	defer d.Close()
	if err := d.add(parentName, parentSector); err != nil {
		return err
	}
	if err := d.add(selfName, sector); err != nil {
		return err
	}
	return nil
}

func openDirectory(fs *FS, sector uint32) (*Directory, error) {
	ino := fs.openInodes.open(fs, sector)
	isDir, err := ino.IsDir()
	if err != nil {
		ino.Close()
		return nil, err
	}
	if !isDir {
		ino.Close()
		return nil, ErrNotADirectory
	}
	return &Directory{fs: fs, ino: ino}, nil
}

// openRootDirectory opens the well-known root directory.
func openRootDirectory(fs *FS) (*Directory, error) {
	return openDirectory(fs, RootDirSector)
}

// Reopen returns a new Directory handle sharing d's underlying inode.
func (d *Directory) Reopen() *Directory {
	return &Directory{fs: d.fs, ino: d.ino.Reopen()}
}

// Close releases d's underlying inode reference.
func (d *Directory) Close() error {
	return d.ino.Close()
}

// Inode returns the directory's underlying inode.
func (d *Directory) Inode() *Inode { return d.ino }

// Inumber returns the directory's unique identifier: its inode sector.
func (d *Directory) Inumber() uint32 { return d.ino.Sector() }

func (d *Directory) readEntryAt(ofs int64, e *dirEntry) (bool, error) {
	buf := make([]byte, dirEntrySize)
	n, err := d.ino.ReadAt(buf, dirEntrySize, ofs)
	if err != nil {
		return false, err
	}
	if n != dirEntrySize {
		return false, nil
	}
	e.unmarshal(buf)
	return true, nil
}

func (d *Directory) writeEntryAt(ofs int64, e *dirEntry) error {
	n, err := d.ino.WriteAt(e.marshal(), dirEntrySize, ofs)
	if err != nil {
		return err
	}
	if n != dirEntrySize {
		return ErrShortIO
	}
	return nil
}

// lookup scans d's entries for name, returning the matching entry and its
// byte offset.
func (d *Directory) lookup(name string) (dirEntry, int64, bool, error) {
	var e dirEntry
	for ofs := int64(0); ; ofs += dirEntrySize {
		ok, err := d.readEntryAt(ofs, &e)
		if err != nil {
			return dirEntry{}, 0, false, err
		}
		if !ok {
			return dirEntry{}, 0, false, nil
		}
		if e.InUse && e.name() == name {
			return e, ofs, true, nil
		}
	}
}

// Lookup searches d for name and, on success, opens and returns the
// referenced inode. The caller must close it.
func (d *Directory) Lookup(name string) (*Inode, error) {
	e, _, ok, err := d.lookup(name)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotFound
	}
	return d.fs.openInodes.open(d.fs, e.InodeSector), nil
}

// add is the entry-writing primitive shared by Create's `.`/`..` prelude
// and the public Add.
func (d *Directory) add(name string, sector uint32) error {
	if len(name) > NameMax {
		return ErrNameTooLong
	}
	if _, _, ok, err := d.lookup(name); err != nil {
		return err
	} else if ok {
		return ErrAlreadyExists
	}

	var e dirEntry
	var ofs int64
	for {
		ok, err := d.readEntryAt(ofs, &e)
		if err != nil {
			return err
		}
		if !ok || !e.InUse {
			break
		}
		ofs += dirEntrySize
	}

	e = dirEntry{InodeSector: sector, InUse: true}
	e.setName(name)
	return d.writeEntryAt(ofs, &e)
}

// Add inserts a new entry named name pointing at inodeSector. It fails
// if name already exists or exceeds NameMax.
func (d *Directory) Add(name string, inodeSector uint32) error {
	if name == selfName || name == parentName {
		return ErrInvalidArgument
	}
	return d.add(name, inodeSector)
}

// NumberEntries counts in-use entries, including `.` and `..`.
func (d *Directory) NumberEntries() (int, error) {
	var e dirEntry
	count := 0
	for ofs := int64(0); ; ofs += dirEntrySize {
		ok, err := d.readEntryAt(ofs, &e)
		if err != nil {
			return 0, err
		}
		if !ok {
			return count, nil
		}
		if e.InUse {
			count++
		}
	}
}

// Remove deletes the entry named name from d. It fails if the name is
// absent, or, when it names a directory, if that directory is any task's
// current working directory, has more than the `.`/`..` prelude left in
// it, or is open more than once. The target inode is marked removed;
// actual sector reclamation is deferred to its final Close.
func (d *Directory) Remove(name string) error {
	if name == selfName || name == parentName {
		return ErrInvalidArgument
	}
	e, ofs, ok, err := d.lookup(name)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFound
	}

	ino := d.fs.openInodes.open(d.fs, e.InodeSector)
	defer ino.Close()

	isDir, err := ino.IsDir()
	if err != nil {
		return err
	}
	if isDir {
		if d.fs.isTaskCwd(ino.Sector()) {
			return ErrInUse
		}
		sub := &Directory{fs: d.fs, ino: ino}
		n, err := sub.NumberEntries()
		if err != nil {
			return err
		}
		if n > 2 {
			return ErrDirectoryNotEmpty
		}
		if ino.OpenCount() > 1 { // more than this Remove call's own reference
			return ErrInUse
		}
	}

	e.InUse = false
	if err := d.writeEntryAt(ofs, &e); err != nil {
		return err
	}
	ino.Remove()
	return nil
}

// DirHandle is a cursor over a directory's entries for Readdir, skipping
// `.` and `..` by name rather than by a fixed entry-index check, so it
// never misreports an entry if the prelude layout ever shifts.
type DirHandle struct {
	dir *Directory
	pos int64
}

// OpenHandle returns a fresh readdir cursor over d.
func (d *Directory) OpenHandle() *DirHandle {
	return &DirHandle{dir: d}
}

// Close releases the handle's underlying directory reference.
func (h *DirHandle) Close() error {
	return h.dir.Close()
}

// Inumber returns the handle's underlying directory's unique identifier:
// its inode sector. Matches spec.md §6's inumber(handle) for the
// directory case.
func (h *DirHandle) Inumber() uint32 { return h.dir.Inumber() }

// IsDir reports whether the handle's underlying inode is a directory.
// Always true for a DirHandle, but exposed so callers that hold a handle
// generically (file or directory) can query it uniformly, matching
// spec.md §6's isdir(handle).
func (h *DirHandle) IsDir() (bool, error) { return h.dir.ino.IsDir() }

// Readdir advances past the next non-`.`/`..` in-use entry and reports
// its name. It returns false at end of directory.
func (h *DirHandle) Readdir() (string, bool, error) {
	var e dirEntry
	for {
		ok, err := h.dir.readEntryAt(h.pos, &e)
		if err != nil {
			return "", false, err
		}
		if !ok {
			return "", false, nil
		}
		h.pos += dirEntrySize
		if !e.InUse {
			continue
		}
		n := e.name()
		if n == selfName || n == parentName {
			continue
		}
		return n, true, nil
	}
}
