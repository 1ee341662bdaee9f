package pintofs

import (
	"log"
	"sync"
)

// CacheSize is the number of sectors the buffer cache holds at once.
const CacheSize = 64

// cachedSector is one slot of the buffer cache: SectorSize bytes plus the
// bookkeeping needed to know what they hold and whether they need to be
// written back. Every read into, or write out of, data happens while mu
// is held.
type cachedSector struct {
	mu        sync.Mutex
	sectorIdx uint32
	valid     bool
	dirty     bool
	data      [SectorSize]byte
}

// Cache is a bounded, associative write-back buffer cache: at most
// CacheSize entries, LRU-ordered, with a global mutex guarding
// membership/ordering and a per-entry mutex guarding content. It is the
// single choke point between the rest of the core and the BlockDev.
type Cache struct {
	dev      BlockDev
	mu       sync.Mutex
	capacity int
	entries  []*cachedSector // MRU at index 0, LRU at the end
}

// NewCache wraps dev with a write-back cache of the given capacity
// (production callers default to CacheSize; tests use smaller capacities
// to exercise eviction without allocating thousands of sectors).
func NewCache(dev BlockDev, capacity int) *Cache {
	if capacity <= 0 {
		capacity = CacheSize
	}
	return &Cache{dev: dev, capacity: capacity}
}

// PinnedSector is a cachedSector whose mutex the caller holds. Release it
// promptly; holding it blocks eviction and any other reader/writer of the
// same sector.
type PinnedSector struct {
	c *Cache
	e *cachedSector
}

// Data returns the pinned sector's SectorSize-byte backing array.
func (p *PinnedSector) Data() []byte { return p.e.data[:] }

// MarkDirty flags the pinned sector for write-back.
func (p *PinnedSector) MarkDirty() { p.e.dirty = true }

// Release unlocks the pinned sector. It must be called exactly once,
// promptly, for every successful Get.
func (p *PinnedSector) Release() { p.e.mu.Unlock() }

func (c *Cache) indexOfLocked(e *cachedSector) int {
	for i, x := range c.entries {
		if x == e {
			return i
		}
	}
	return -1
}

func (c *Cache) removeLocked(e *cachedSector) {
	i := c.indexOfLocked(e)
	if i < 0 {
		return
	}
	c.entries = append(c.entries[:i], c.entries[i+1:]...)
}

func (c *Cache) moveToFrontLocked(e *cachedSector) {
	i := c.indexOfLocked(e)
	if i <= 0 {
		return
	}
	c.entries = append(c.entries[:i], c.entries[i+1:]...)
	c.entries = append([]*cachedSector{e}, c.entries...)
}

// Get returns the pinned cache entry for sector, reading through to the
// BlockDev on a miss and evicting the LRU entry (writing it back first, if
// dirty) when the cache is full. The caller owns the entry's mutex on
// return and must call Release promptly.
//
// The lookup/insert/evict dance never holds the cache mutex across a
// BlockDev I/O, and a hit that
// races an eviction is detected by rechecking sectorIdx after acquiring
// the entry mutex, retrying from the top if it changed underneath us.
func (c *Cache) Get(sector uint32) (*PinnedSector, error) {
outer:
	for {
		c.mu.Lock()
		for _, e := range c.entries {
			if e.valid && e.sectorIdx == sector {
				c.mu.Unlock()
				e.mu.Lock()
				if e.valid && e.sectorIdx == sector {
					c.mu.Lock()
					c.moveToFrontLocked(e)
					c.mu.Unlock()
					return &PinnedSector{c: c, e: e}, nil
				}
				// evicted out from under us between the scan and the lock; retry.
				e.mu.Unlock()
				continue outer
			}
		}

		if len(c.entries) < c.capacity {
			e := &cachedSector{}
			e.mu.Lock()
			c.entries = append([]*cachedSector{e}, c.entries...)
			c.mu.Unlock()
			if err := c.dev.ReadSector(sector, e.data[:]); err != nil {
				c.mu.Lock()
				c.removeLocked(e)
				c.mu.Unlock()
				e.mu.Unlock()
				return nil, err
			}
			e.sectorIdx = sector
			e.valid = true
			e.dirty = false
			return &PinnedSector{c: c, e: e}, nil
		}

		// Cache full: evict the LRU (tail) entry.
		victim := c.entries[len(c.entries)-1]
		c.mu.Unlock()

		victim.mu.Lock() // blocks until every pinner of the victim releases it
		if victim.dirty {
			log.Printf("pintofs: cache evicting dirty sector %d for %d", victim.sectorIdx, sector)
			if err := c.dev.WriteSector(victim.sectorIdx, victim.data[:]); err != nil {
				victim.mu.Unlock()
				return nil, err
			}
			victim.dirty = false
		}
		if err := c.dev.ReadSector(sector, victim.data[:]); err != nil {
			victim.mu.Unlock()
			return nil, err
		}
		victim.sectorIdx = sector
		victim.valid = true

		c.mu.Lock()
		c.moveToFrontLocked(victim)
		c.mu.Unlock()
		return &PinnedSector{c: c, e: victim}, nil
	}
}

// ReadAt copies size bytes from sector's content at ofs into dst.
func (c *Cache) ReadAt(sector uint32, dst []byte, size, ofs int) error {
	p, err := c.Get(sector)
	if err != nil {
		return err
	}
	defer p.Release()
	copy(dst, p.Data()[ofs:ofs+size])
	return nil
}

// WriteAt copies size bytes from src into sector's content at ofs and
// marks the sector dirty. It goes through Get like any other access, so
// on a miss the sector is read from the BlockDev first, even when ofs=0
// and size=SectorSize overwrite it in full.
func (c *Cache) WriteAt(sector uint32, src []byte, size, ofs int) error {
	p, err := c.Get(sector)
	if err != nil {
		return err
	}
	defer p.Release()
	copy(p.Data()[ofs:ofs+size], src[:size])
	p.MarkDirty()
	return nil
}

// Read copies an entire sector's content into dst, which must be
// SectorSize bytes.
func (c *Cache) Read(sector uint32, dst []byte) error {
	return c.ReadAt(sector, dst, SectorSize, 0)
}

// Write overwrites an entire sector's content with src, which must be
// SectorSize bytes.
func (c *Cache) Write(sector uint32, src []byte) error {
	return c.WriteAt(sector, src, SectorSize, 0)
}

// FlushAll writes back every dirty entry. Called at shutdown and by
// snapshot export so persisted state never trails what callers observed.
func (c *Cache) FlushAll() error {
	c.mu.Lock()
	entries := append([]*cachedSector(nil), c.entries...)
	c.mu.Unlock()

	for _, e := range entries {
		e.mu.Lock()
		if e.dirty {
			if err := c.dev.WriteSector(e.sectorIdx, e.data[:]); err != nil {
				e.mu.Unlock()
				return err
			}
			e.dirty = false
		}
		e.mu.Unlock()
	}
	return c.dev.Sync()
}

// InvalidateAll drops every cached entry without writing it back,
// forcing the next touch of any sector to read through to the BlockDev
// again. Callers that overwrite the device out from under the cache
// (snapshot import restoring a whole volume) must call this first, or
// reads of still-cached sectors would keep returning stale pre-import
// content instead of what was just written underneath the cache.
func (c *Cache) InvalidateAll() {
	c.mu.Lock()
	entries := append([]*cachedSector(nil), c.entries...)
	c.entries = nil
	c.mu.Unlock()

	for _, e := range entries {
		e.mu.Lock()
		e.valid = false
		e.dirty = false
		e.mu.Unlock()
	}
}
