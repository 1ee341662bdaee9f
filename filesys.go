package pintofs

import (
	"log"
	"sync"
)

// rootDirEntries is the number of ordinary (non `.`/`..`) entries the root
// directory is initially sized for. Like ordinary directories it grows by
// resizing its backing inode, so this only sets the size of the first
// allocation, not a hard ceiling.
const rootDirEntries = 16

// FS is the filesystem core: a BlockDev wrapped in a buffer cache, a
// free-sector map, and the table of live in-memory inodes, tied together
// by the directory and path-resolution layers built on top. It is the
// single entry point every Task operates through.
type FS struct {
	dev     BlockDev
	cache   *Cache
	freeMap *FreeMap

	openInodes *openTable

	cwdMu   sync.Mutex
	cwdRefs map[uint32]int // inode sector -> number of tasks using it as cwd
}

// Option configures an FS at construction time, following the functional
// options pattern this repo's dependency stack favors.
type Option func(*FS) error

// WithCacheCapacity overrides the default CacheSize for the buffer cache.
func WithCacheCapacity(n int) Option {
	return func(fs *FS) error {
		fs.cache = NewCache(fs.dev, n)
		return nil
	}
}

// New wires a BlockDev into a ready-to-Init FS.
func New(dev BlockDev, opts ...Option) (*FS, error) {
	fs := &FS{
		dev:        dev,
		openInodes: newOpenTable(),
		cwdRefs:    make(map[uint32]int),
	}
	fs.cache = NewCache(dev, CacheSize)
	for _, opt := range opts {
		if err := opt(fs); err != nil {
			return nil, err
		}
	}
	fs.freeMap = newFreeMap(fs, dev.SectorCount())
	return fs, nil
}

// Init brings the filesystem up. With format true it lays down a fresh
// free map and root directory; otherwise it loads the existing free map
// from FreeMapSector.
func (fs *FS) Init(format bool) error {
	if format {
		log.Printf("pintofs: formatting %d sectors", fs.dev.SectorCount())
		return fs.doFormat()
	}
	return fs.freeMap.open()
}

// doFormat creates the free map (reserving FreeMapSector and
// RootDirSector for itself and the root directory) and then the root
// directory itself, then writes the bitmap and every dirty sector back.
func (fs *FS) doFormat() error {
	if err := fs.freeMap.create(FreeMapSector, RootDirSector); err != nil {
		return err
	}
	if err := createDirectory(fs, RootDirSector, rootDirEntries, RootDirSector); err != nil {
		return err
	}
	// The root directory's sectors were allocated after create first wrote
	// the bitmap, so write it again.
	if err := fs.freeMap.flush(); err != nil {
		return err
	}
	return fs.cache.FlushAll()
}

// Shutdown flushes the free map and every dirty cache entry, then syncs
// the underlying device.
func (fs *FS) Shutdown() error {
	if err := fs.freeMap.close(); err != nil {
		return err
	}
	return fs.cache.FlushAll()
}

// isTaskCwd reports whether any live task currently has sector as its
// current working directory. directory.go's Remove consults this so a
// directory can never be unlinked out from under a task sitting in it.
func (fs *FS) isTaskCwd(sector uint32) bool {
	fs.cwdMu.Lock()
	defer fs.cwdMu.Unlock()
	return fs.cwdRefs[sector] > 0
}

func (fs *FS) addCwdRef(sector uint32) {
	fs.cwdMu.Lock()
	fs.cwdRefs[sector]++
	fs.cwdMu.Unlock()
}

func (fs *FS) dropCwdRef(sector uint32) {
	fs.cwdMu.Lock()
	fs.cwdRefs[sector]--
	if fs.cwdRefs[sector] <= 0 {
		delete(fs.cwdRefs, sector)
	}
	fs.cwdMu.Unlock()
}

// Task is per-caller state the core consumes but does not persist: the
// current working directory a relative path resolves against. The zero
// Task (nil cwd) resolves relative paths against the root, matching a
// freshly started Pintos process.
type Task struct {
	fs  *FS
	cwd *Directory
}

// NewTask returns a Task rooted at fs's root directory.
func (fs *FS) NewTask() *Task {
	return &Task{fs: fs}
}

// Close releases the task's cwd reference. Safe to call on a Task that
// never chdir'd.
func (t *Task) Close() error {
	if t.cwd == nil {
		return nil
	}
	t.fs.dropCwdRef(t.cwd.Inumber())
	return t.cwd.Close()
}

// Chdir changes the task's current working directory to path, which must
// name an existing directory.
func (t *Task) Chdir(path string) error {
	dir, ino, err := t.Verify(path)
	if err != nil {
		return err
	}
	isDir, err := ino.IsDir()
	if err != nil {
		ino.Close()
		dir.Close()
		return err
	}
	if !isDir {
		ino.Close()
		dir.Close()
		return ErrNotADirectory
	}
	dir.Close()
	newCwd := &Directory{fs: t.fs, ino: ino}

	old := t.cwd
	t.fs.addCwdRef(newCwd.Inumber())
	t.cwd = newCwd
	if old != nil {
		t.fs.dropCwdRef(old.Inumber())
		old.Close()
	}
	return nil
}

// Create makes a new file or directory at path. isDir=true with
// initialSize 0 is the common directory-creation case; Mkdir is exactly
// Create(path, 0, true).
func (t *Task) Create(path string, initialSize int64, isDir bool) error {
	dir, err := t.GetLastDir(path)
	if err != nil {
		return err
	}
	defer dir.Close()

	name, err := GetFilenameFromPath(path)
	if err != nil {
		return err
	}
	if name == "" {
		return ErrInvalidArgument
	}

	sector, err := t.fs.freeMap.allocate(1)
	if err != nil {
		return err
	}

	if isDir {
		err = createDirectory(t.fs, sector, rootDirEntries, dir.Inumber())
	} else {
		err = createInode(t.fs, sector, initialSize, false)
	}
	if err != nil {
		t.fs.freeMap.release(sector, 1)
		return err
	}

	if err := dir.Add(name, sector); err != nil {
		// Best-effort cleanup: the inode we just created is now
		// unreachable, so reclaim its sector directly.
		t.fs.freeMap.release(sector, 1)
		return err
	}
	return nil
}

// Mkdir creates a new, empty directory at path.
func (t *Task) Mkdir(path string) error {
	return t.Create(path, 0, true)
}

// Open resolves path and returns its inode. The caller must Close it.
func (t *Task) Open(path string) (*Inode, error) {
	dir, ino, err := t.Verify(path)
	if err != nil {
		return nil, err
	}
	dir.Close()
	return ino, nil
}

// Remove unlinks the entry named by path's last component from its
// parent directory.
func (t *Task) Remove(path string) error {
	dir, err := t.GetLastDir(path)
	if err != nil {
		return err
	}
	defer dir.Close()

	name, err := GetFilenameFromPath(path)
	if err != nil {
		return err
	}
	return dir.Remove(name)
}
