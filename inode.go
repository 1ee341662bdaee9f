package pintofs

import (
	"encoding/binary"
	"fmt"
	"sync"
)

// PointersPerSector is the number of uint32 sector pointers that fit in
// one sector (512 / 4).
const PointersPerSector = 128

// MaxFileSize is the largest file size representable by the doubly
// indirect sector map: SectorSize * PointersPerSector * PointersPerSector.
const MaxFileSize = SectorSize * PointersPerSector * PointersPerSector

// inodeMagic identifies a valid on-disk inode.
const inodeMagic = 0x494e4f44

// Well-known sectors, fixed by the on-disk layout.
const (
	FreeMapSector  uint32 = 0
	RootDirSector  uint32 = 1
	noSector       uint32 = 0
	inodeDiskBytes        = 512
)

// on-disk inode byte offsets.
const (
	offIndirectIndex = 0
	offLength        = 4
	offMagic         = 8
	offIsDir         = 12
)

// diskInode is the 512-byte on-disk inode representation. It is never
// cached in memory independent of the buffer cache: every read of length
// or indirectIndex goes through Cache.Read/Cache.WriteAt so a concurrent
// grow is never observed half-applied, avoiding the torn-read hazard of
// caching inode metadata outside the buffer cache.
type diskInode struct {
	IndirectIndex uint32
	Length        int32
	Magic         uint32
	IsDir         bool
}

func (d *diskInode) marshal() []byte {
	buf := make([]byte, inodeDiskBytes)
	binary.LittleEndian.PutUint32(buf[offIndirectIndex:], d.IndirectIndex)
	binary.LittleEndian.PutUint32(buf[offLength:], uint32(d.Length))
	binary.LittleEndian.PutUint32(buf[offMagic:], d.Magic)
	if d.IsDir {
		buf[offIsDir] = 1
	}
	return buf
}

func (d *diskInode) unmarshal(buf []byte) {
	d.IndirectIndex = binary.LittleEndian.Uint32(buf[offIndirectIndex:])
	d.Length = int32(binary.LittleEndian.Uint32(buf[offLength:]))
	d.Magic = binary.LittleEndian.Uint32(buf[offMagic:])
	d.IsDir = buf[offIsDir] != 0
}

// Inode is the in-memory bookkeeping for an opened inode: its identity,
// refcount, removal latch, deny-write count, and the reader/writer
// coordination that serializes grow-writes against everything else
// touching the file.
type Inode struct {
	fs     *FS
	sector uint32

	mu          sync.Mutex
	cond        rwCond
	openCount   int
	removed     bool
	denyWriteCt int
}

// rwCond implements a writers-preferred reader/writer discipline with two
// condition variables over one mutex, the classic Pintos-style synch
// pattern expressed with Go's sync.Cond instead of raw semaphores.
type rwCond struct {
	mu             *sync.Mutex
	okToRead       *sync.Cond
	okToWrite      *sync.Cond
	activeReaders  int
	activeWriters  int
	waitingReaders int
	waitingWriters int
}

func newRWCond(mu *sync.Mutex) rwCond {
	return rwCond{mu: mu, okToRead: sync.NewCond(mu), okToWrite: sync.NewCond(mu)}
}

func (r *rwCond) readerCheckin() {
	r.mu.Lock()
	r.waitingReaders++
	for r.activeWriters+r.waitingWriters > 0 {
		r.okToRead.Wait()
	}
	r.waitingReaders--
	r.activeReaders++
	r.mu.Unlock()
}

func (r *rwCond) readerCheckout() {
	r.mu.Lock()
	r.activeReaders--
	if r.activeReaders == 0 && r.waitingWriters > 0 {
		r.okToWrite.Signal()
	}
	r.mu.Unlock()
}

func (r *rwCond) writerCheckin() {
	r.mu.Lock()
	r.waitingWriters++
	for r.activeWriters+r.activeReaders > 0 {
		r.okToWrite.Wait()
	}
	r.waitingWriters--
	r.activeWriters++
	r.mu.Unlock()
}

func (r *rwCond) writerCheckout() {
	r.mu.Lock()
	r.activeWriters--
	if r.waitingWriters > 0 {
		r.okToWrite.Signal()
	} else {
		r.okToRead.Broadcast()
	}
	r.mu.Unlock()
}

// openTable is the process-wide set of live in-memory Inodes, keyed by
// sector, with open-count-based deduplication.
type openTable struct {
	mu    sync.Mutex
	table map[uint32]*Inode
}

func newOpenTable() *openTable {
	return &openTable{table: make(map[uint32]*Inode)}
}

// count reports how many inodes currently have at least one open
// reference, for tests asserting that a failed path walk leaves nothing
// open.
func (t *openTable) count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.table)
}

// open returns the shared in-memory Inode for sector, incrementing its
// open count, allocating a fresh entry on first open.
func (t *openTable) open(fs *FS, sector uint32) *Inode {
	t.mu.Lock()
	defer t.mu.Unlock()
	if ino, ok := t.table[sector]; ok {
		ino.mu.Lock()
		ino.openCount++
		ino.mu.Unlock()
		return ino
	}
	ino := &Inode{fs: fs, sector: sector, openCount: 1}
	ino.cond = newRWCond(&ino.mu)
	t.table[sector] = ino
	return ino
}

// close decrements ino's open count, removing it from the table and, if
// it was marked removed, freeing its sectors once the count reaches zero.
func (t *openTable) close(ino *Inode) error {
	t.mu.Lock()
	ino.mu.Lock()
	ino.openCount--
	remove := ino.openCount == 0
	wasRemoved := ino.removed
	if remove {
		delete(t.table, ino.sector)
	}
	ino.mu.Unlock()
	t.mu.Unlock()

	if !remove {
		return nil
	}
	if wasRemoved {
		if err := ino.resize(0); err != nil {
			return err
		}
		return ino.fs.freeMap.release(ino.sector, 1)
	}
	return nil
}

// Sector returns the inode's identity: the on-disk sector it occupies.
func (ino *Inode) Sector() uint32 { return ino.sector }

// Reopen duplicates a reference to ino (used by the path resolver and
// directory layer rather than re-opening through the table, since the
// caller already holds a live reference).
func (ino *Inode) Reopen() *Inode {
	ino.mu.Lock()
	ino.openCount++
	ino.mu.Unlock()
	return ino
}

// Close releases one reference to ino.
func (ino *Inode) Close() error {
	return ino.fs.openInodes.close(ino)
}

// Remove latches ino for deletion; actual sector reclamation happens on
// the final Close.
func (ino *Inode) Remove() {
	ino.mu.Lock()
	ino.removed = true
	ino.mu.Unlock()
}

// Removed reports whether ino has been latched for deletion.
func (ino *Inode) Removed() bool {
	ino.mu.Lock()
	defer ino.mu.Unlock()
	return ino.removed
}

// OpenCount reports the inode's current reference count.
func (ino *Inode) OpenCount() int {
	ino.mu.Lock()
	defer ino.mu.Unlock()
	return ino.openCount
}

// DenyWrite asserts an executable-deny-write hold on ino.
func (ino *Inode) DenyWrite() {
	ino.cond.writerCheckin()
	ino.mu.Lock()
	ino.denyWriteCt++
	if ino.denyWriteCt > ino.openCount {
		panic("pintofs: deny_write_count exceeds open_count")
	}
	ino.mu.Unlock()
	ino.cond.writerCheckout()
}

// AllowWrite releases one executable-deny-write hold on ino.
func (ino *Inode) AllowWrite() {
	ino.cond.writerCheckin()
	ino.mu.Lock()
	if ino.denyWriteCt <= 0 {
		ino.mu.Unlock()
		ino.cond.writerCheckout()
		panic("pintofs: allow_write with no matching deny_write")
	}
	ino.denyWriteCt--
	ino.mu.Unlock()
	ino.cond.writerCheckout()
}

func (ino *Inode) readDisk() (diskInode, error) {
	var buf [inodeDiskBytes]byte
	if err := ino.fs.cache.Read(ino.sector, buf[:]); err != nil {
		return diskInode{}, err
	}
	var d diskInode
	d.unmarshal(buf[:])
	if d.Magic != inodeMagic {
		panic(fmt.Sprintf("pintofs: bad inode magic at sector %d", ino.sector))
	}
	return d, nil
}

func (ino *Inode) writeDisk(d *diskInode) error {
	return ino.fs.cache.Write(ino.sector, d.marshal())
}

// Length returns the inode's current length in bytes.
func (ino *Inode) Length() (int64, error) {
	d, err := ino.readDisk()
	if err != nil {
		return 0, err
	}
	return int64(d.Length), nil
}

// IsDir reports whether ino was created as a directory.
func (ino *Inode) IsDir() (bool, error) {
	d, err := ino.readDisk()
	if err != nil {
		return false, err
	}
	return d.IsDir, nil
}

// createInode writes a freshly zeroed on-disk inode at sector and, if
// length > 0, grows it to length via resize. isDir records the explicit
// on-disk kind bit, rather than inferring directory-ness from content.
func createInode(fs *FS, sector uint32, length int64, isDir bool) error {
	d := diskInode{Magic: inodeMagic, IsDir: isDir}
	if err := fs.cache.Write(sector, d.marshal()); err != nil {
		return err
	}
	if length == 0 {
		return nil
	}
	ino := fs.openInodes.open(fs, sector)
	defer ino.Close()
	return ino.resize(length)
}

// byteToSector resolves a logical byte offset to the physical data sector
// containing it, or ok=false if off is beyond the inode's length.
func (ino *Inode) byteToSector(off int64) (sector uint32, err error, ok bool) {
	d, err := ino.readDisk()
	if err != nil {
		return 0, err, false
	}
	if off >= int64(d.Length) {
		return 0, nil, false
	}
	logical := uint32(off / SectorSize)
	i := logical / PointersPerSector
	j := logical % PointersPerSector

	var doubly [PointersPerSector]uint32
	if err := readPtrTable(ino.fs.cache, d.IndirectIndex, &doubly); err != nil {
		return 0, err, false
	}
	var indirect [PointersPerSector]uint32
	if err := readPtrTable(ino.fs.cache, doubly[i], &indirect); err != nil {
		return 0, err, false
	}
	return indirect[j], nil, true
}

func readPtrTable(c *Cache, sector uint32, out *[PointersPerSector]uint32) error {
	var buf [SectorSize]byte
	if err := c.Read(sector, buf[:]); err != nil {
		return err
	}
	for i := range out {
		out[i] = binary.LittleEndian.Uint32(buf[i*4:])
	}
	return nil
}

func writePtrTable(c *Cache, sector uint32, in *[PointersPerSector]uint32) error {
	var buf [SectorSize]byte
	for i, v := range in {
		binary.LittleEndian.PutUint32(buf[i*4:], v)
	}
	return c.Write(sector, buf[:])
}

// ReadAt reads up to size bytes from ino at off into buf, under the
// reader-side discipline: concurrent readers of the same inode proceed
// in parallel, excluded only by an active or waiting writer. It returns
// the number of bytes actually read, which is short at end of file.
func (ino *Inode) ReadAt(buf []byte, size int, off int64) (int, error) {
	ino.cond.readerCheckin()
	defer ino.cond.readerCheckout()

	length, err := ino.Length()
	if err != nil {
		return 0, err
	}

	var read int
	for size > 0 {
		sectorIdx, err, ok := ino.byteToSector(off)
		if err != nil {
			return read, err
		}
		if !ok {
			break
		}
		sectorOfs := int(off % SectorSize)
		inodeLeft := length - off
		sectorLeft := int64(SectorSize - sectorOfs)
		minLeft := inodeLeft
		if sectorLeft < minLeft {
			minLeft = sectorLeft
		}
		chunk := int64(size)
		if chunk > minLeft {
			chunk = minLeft
		}
		if chunk <= 0 {
			break
		}
		if err := ino.fs.cache.ReadAt(sectorIdx, buf[read:read+int(chunk)], int(chunk), sectorOfs); err != nil {
			return read, err
		}
		size -= int(chunk)
		off += chunk
		read += int(chunk)
	}
	return read, nil
}

// WriteAt writes up to size bytes from buf into ino at off, growing the
// file first (under the writer discipline) if the write extends past the
// current length. It returns the number of bytes actually written.
func (ino *Inode) WriteAt(buf []byte, size int, off int64) (int, error) {
	ino.mu.Lock()
	denied := ino.denyWriteCt > 0
	ino.mu.Unlock()
	if denied {
		return 0, nil
	}

	currentLength, err := ino.Length()
	if err != nil {
		return 0, err
	}
	needsGrow := off+int64(size) > currentLength

	if needsGrow {
		ino.cond.writerCheckin()
		defer ino.cond.writerCheckout()
		length, err := ino.Length()
		if err != nil {
			return 0, err
		}
		if off+int64(size) > length {
			if err := ino.resize(off + int64(size)); err != nil {
				return 0, err
			}
		}
	} else {
		ino.cond.readerCheckin()
		defer ino.cond.readerCheckout()
	}

	length, err := ino.Length()
	if err != nil {
		return 0, err
	}

	var written int
	for size > 0 {
		sectorIdx, err, ok := ino.byteToSector(off)
		if err != nil {
			return written, err
		}
		if !ok {
			break
		}
		sectorOfs := int(off % SectorSize)
		inodeLeft := length - off
		sectorLeft := int64(SectorSize - sectorOfs)
		minLeft := inodeLeft
		if sectorLeft < minLeft {
			minLeft = sectorLeft
		}
		chunk := int64(size)
		if chunk > minLeft {
			chunk = minLeft
		}
		if chunk <= 0 {
			break
		}
		if err := ino.fs.cache.WriteAt(sectorIdx, buf[written:written+int(chunk)], int(chunk), sectorOfs); err != nil {
			return written, err
		}
		size -= int(chunk)
		off += chunk
		written += int(chunk)
	}
	return written, nil
}

// resize grows or shrinks ino to exactly newLength bytes, allocating or
// releasing doubly-indirect, indirect, and data sectors as needed and
// zero-filling newly grown regions. On allocation failure partway
// through, it rolls back to the inode's original length and returns the
// failure, leaving no sectors leaked.
func (ino *Inode) resize(newLength int64) error {
	if newLength < 0 || newLength > MaxFileSize {
		return ErrNoSpace
	}

	d, err := ino.readDisk()
	if err != nil {
		return err
	}
	origLength := int64(d.Length)

	if d.IndirectIndex == noSector && newLength == 0 {
		return nil
	}

	if err := ino.doResize(&d, newLength); err != nil {
		_ = ino.doResize(&d, origLength) // best-effort rollback
		return err
	}
	return nil
}

func (ino *Inode) doResize(d *diskInode, newLength int64) error {
	fm := ino.fs.freeMap
	c := ino.fs.cache

	if d.IndirectIndex == noSector {
		sec, err := fm.allocate(1)
		if err != nil {
			return err
		}
		d.IndirectIndex = sec
		var zero [PointersPerSector]uint32
		if err := writePtrTable(c, d.IndirectIndex, &zero); err != nil {
			return err
		}
	}

	var doubly [PointersPerSector]uint32
	if err := readPtrTable(c, d.IndirectIndex, &doubly); err != nil {
		return err
	}

	for i := uint32(0); i < PointersPerSector; i++ {
		levelBase := int64(i) * SectorSize * PointersPerSector

		if newLength > levelBase && doubly[i] == noSector {
			sec, err := fm.allocate(1)
			if err != nil {
				return err
			}
			doubly[i] = sec
			var zero [PointersPerSector]uint32
			if err := writePtrTable(c, doubly[i], &zero); err != nil {
				return err
			}
			// Record the new indirect table right away so a rollback after a
			// later allocation failure can find and release it.
			if err := writePtrTable(c, d.IndirectIndex, &doubly); err != nil {
				return err
			}
		}

		if doubly[i] != noSector {
			var indirect [PointersPerSector]uint32
			if err := readPtrTable(c, doubly[i], &indirect); err != nil {
				return err
			}

			for j := uint32(0); j < PointersPerSector; j++ {
				entryOfs := levelBase + int64(j)*SectorSize
				switch {
				case newLength > entryOfs && indirect[j] == noSector:
					sec, err := fm.allocate(1)
					if err != nil {
						// Record the data sectors this table already holds so
						// the rollback can release them.
						_ = writePtrTable(c, doubly[i], &indirect)
						return err
					}
					indirect[j] = sec
					var zero [SectorSize]byte
					if err := c.Write(sec, zero[:]); err != nil {
						return err
					}
				case newLength <= entryOfs && indirect[j] != noSector:
					if err := fm.release(indirect[j], 1); err != nil {
						return err
					}
					indirect[j] = noSector
				}
			}
			if err := writePtrTable(c, doubly[i], &indirect); err != nil {
				return err
			}

			if newLength <= levelBase {
				if err := fm.release(doubly[i], 1); err != nil {
					return err
				}
				doubly[i] = noSector
			}
		}
	}

	if err := writePtrTable(c, d.IndirectIndex, &doubly); err != nil {
		return err
	}

	if newLength == 0 {
		if err := fm.release(d.IndirectIndex, 1); err != nil {
			return err
		}
		d.IndirectIndex = noSector
	}

	d.Length = int32(newLength)
	return ino.writeDisk(d)
}
