package pintofs

import (
	"fmt"
	"os"
	"sync"
)

// SectorSize is the fixed size in bytes of every sector on a BlockDev.
const SectorSize = 512

// BlockDev is the raw block-device contract this core is built on. It is
// named as an external collaborator: the filesystem core never assumes
// anything about the medium beyond synchronous, atomic, whole-sector
// read/write.
type BlockDev interface {
	// ReadSector reads exactly SectorSize bytes from sector into buf.
	ReadSector(sector uint32, buf []byte) error
	// WriteSector writes exactly SectorSize bytes from buf to sector.
	WriteSector(sector uint32, buf []byte) error
	// SectorCount returns the total number of addressable sectors.
	SectorCount() uint32
	// Sync flushes any OS-level buffering to stable storage.
	Sync() error
}

// MemBlockDev is an in-memory BlockDev, primarily for tests and for
// volumes that don't need to survive a process restart.
type MemBlockDev struct {
	mu      sync.Mutex
	sectors [][SectorSize]byte
}

// NewMemBlockDev allocates an in-memory block device of the given sector count.
func NewMemBlockDev(sectorCount uint32) *MemBlockDev {
	return &MemBlockDev{sectors: make([][SectorSize]byte, sectorCount)}
}

func (m *MemBlockDev) ReadSector(sector uint32, buf []byte) error {
	if len(buf) != SectorSize {
		return fmt.Errorf("pintofs: read buffer must be %d bytes: %w", SectorSize, ErrShortIO)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if sector >= uint32(len(m.sectors)) {
		return fmt.Errorf("pintofs: sector %d out of range: %w", sector, ErrShortIO)
	}
	copy(buf, m.sectors[sector][:])
	return nil
}

func (m *MemBlockDev) WriteSector(sector uint32, buf []byte) error {
	if len(buf) != SectorSize {
		return fmt.Errorf("pintofs: write buffer must be %d bytes: %w", SectorSize, ErrShortIO)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if sector >= uint32(len(m.sectors)) {
		return fmt.Errorf("pintofs: sector %d out of range: %w", sector, ErrShortIO)
	}
	copy(m.sectors[sector][:], buf)
	return nil
}

func (m *MemBlockDev) SectorCount() uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return uint32(len(m.sectors))
}

func (m *MemBlockDev) Sync() error { return nil }

// FileBlockDev is a BlockDev backed by a regular OS file, the on-disk
// counterpart to MemBlockDev (used by tests).
type FileBlockDev struct {
	f        *os.File
	sectors  uint32
	lockedOK bool
}

// OpenFileBlockDev opens (or creates, sizing it to sectorCount sectors)
// a file-backed volume at path. On platforms with advisory locking
// support, the returned device holds an exclusive lock on path for its
// lifetime; see blockdev_unix.go.
func OpenFileBlockDev(path string, sectorCount uint32, create bool) (*FileBlockDev, error) {
	flags := os.O_RDWR
	if create {
		flags |= os.O_CREATE
	}
	f, err := os.OpenFile(path, flags, 0644)
	if err != nil {
		return nil, err
	}
	if sectorCount == 0 {
		info, err := f.Stat()
		if err != nil {
			f.Close()
			return nil, err
		}
		sectorCount = uint32(info.Size() / SectorSize)
	}
	dev := &FileBlockDev{f: f, sectors: sectorCount}
	if err := dev.lockExclusive(); err != nil {
		f.Close()
		return nil, err
	}
	if err := dev.preallocate(int64(sectorCount) * SectorSize); err != nil {
		f.Close()
		return nil, err
	}
	return dev, nil
}

func (d *FileBlockDev) ReadSector(sector uint32, buf []byte) error {
	if len(buf) != SectorSize {
		return fmt.Errorf("pintofs: read buffer must be %d bytes: %w", SectorSize, ErrShortIO)
	}
	n, err := d.f.ReadAt(buf, int64(sector)*SectorSize)
	if err != nil {
		return err
	}
	if n != SectorSize {
		return ErrShortIO
	}
	return nil
}

func (d *FileBlockDev) WriteSector(sector uint32, buf []byte) error {
	if len(buf) != SectorSize {
		return fmt.Errorf("pintofs: write buffer must be %d bytes: %w", SectorSize, ErrShortIO)
	}
	n, err := d.f.WriteAt(buf, int64(sector)*SectorSize)
	if err != nil {
		return err
	}
	if n != SectorSize {
		return ErrShortIO
	}
	return nil
}

func (d *FileBlockDev) SectorCount() uint32 { return d.sectors }

func (d *FileBlockDev) Sync() error { return d.f.Sync() }

// Close releases the backing file and any advisory lock held on it.
func (d *FileBlockDev) Close() error {
	d.unlock()
	return d.f.Close()
}
