package pintofs

import "sync"

// FreeMap is the free-sector bitmap allocator: the concrete
// allocate/release/open/close/create implementation every other layer
// allocates through.
//
// Like the original Pintos free-map, its bitmap is itself persisted as an
// ordinary file through the inode layer, at the well-known FreeMapSector.
// Bootstrapping this is circular on paper (the bitmap's own data sectors
// must be allocated from the bitmap) and resolved the same way the
// original does it: the in-memory bitmap is built and has its reserved
// sectors marked used *before* the bitmap file's inode is created, so the
// allocations the bitmap file's own growth performs never collide with
// sectors it has already reserved for itself.
type FreeMap struct {
	mu   sync.Mutex
	bits *bitset
	fs   *FS
	ino  *Inode // nil until open/create has run
}

func newFreeMap(fs *FS, sectorCount uint32) *FreeMap {
	return &FreeMap{fs: fs, bits: newBitset(sectorCount)}
}

// allocate finds n consecutive free sectors, marks them used, and
// returns the first. It returns ErrNoSpace if no run of that length
// exists.
func (fm *FreeMap) allocate(n uint32) (uint32, error) {
	fm.mu.Lock()
	defer fm.mu.Unlock()
	start, ok := fm.bits.scanAndFlip(n)
	if !ok {
		return 0, ErrNoSpace
	}
	return start, nil
}

// release marks n sectors starting at start free again.
func (fm *FreeMap) release(start uint32, n uint32) error {
	fm.mu.Lock()
	defer fm.mu.Unlock()
	fm.bits.release(start, n)
	return nil
}

// create builds a fresh, all-free bitmap sized to the device's sector
// count, reserves the well-known sectors, and persists the bitmap as a
// file at FreeMapSector.
func (fm *FreeMap) create(reserved ...uint32) error {
	fm.mu.Lock()
	for _, r := range reserved {
		fm.bits.set(r, true)
	}
	data := fm.bits.marshal()
	fm.mu.Unlock()

	if err := createInode(fm.fs, FreeMapSector, int64(len(data)), false); err != nil {
		return err
	}
	fm.ino = fm.fs.openInodes.open(fm.fs, FreeMapSector)
	return fm.flush()
}

// open loads an existing free-map file from FreeMapSector.
func (fm *FreeMap) open() error {
	fm.ino = fm.fs.openInodes.open(fm.fs, FreeMapSector)
	length, err := fm.ino.Length()
	if err != nil {
		return err
	}
	buf := make([]byte, length)
	if _, err := fm.ino.ReadAt(buf, int(length), 0); err != nil {
		return err
	}
	fm.mu.Lock()
	fm.bits.unmarshal(buf)
	fm.mu.Unlock()
	return nil
}

// flush writes the in-memory bitmap back to its backing file.
func (fm *FreeMap) flush() error {
	fm.mu.Lock()
	data := fm.bits.marshal()
	fm.mu.Unlock()
	_, err := fm.ino.WriteAt(data, len(data), 0)
	return err
}

// close flushes the bitmap and releases the free-map inode.
func (fm *FreeMap) close() error {
	if fm.ino == nil {
		return nil
	}
	if err := fm.flush(); err != nil {
		return err
	}
	return fm.ino.Close()
}

// freeSectors reports how many sectors remain unallocated, for
// diagnostics and tests.
func (fm *FreeMap) freeSectors() uint32 {
	fm.mu.Lock()
	defer fm.mu.Unlock()
	return fm.bits.Len() - fm.bits.countSet()
}
