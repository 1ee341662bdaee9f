package pintofs

import "testing"

func TestFreeMapReservesBootSectors(t *testing.T) {
	fsys := newTestFS(t, 64, 0)
	// FreeMapSector and RootDirSector must already be unavailable for
	// allocation, and the free map's own backing sectors must likewise be
	// excluded (it was created and grown before this check runs).
	total := fsys.freeMap.bits.Len()
	free := fsys.freeMap.freeSectors()
	if free >= total {
		t.Fatalf("freeSectors() = %d, want fewer than total %d after format", free, total)
	}
}

func TestFreeMapAllocateAndRelease(t *testing.T) {
	fsys := newTestFS(t, 64, 0)
	before := fsys.freeMap.freeSectors()

	sector, err := fsys.freeMap.allocate(1)
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	if fsys.freeMap.freeSectors() != before-1 {
		t.Fatalf("freeSectors() after allocate = %d, want %d", fsys.freeMap.freeSectors(), before-1)
	}

	if err := fsys.freeMap.release(sector, 1); err != nil {
		t.Fatalf("release: %v", err)
	}
	if fsys.freeMap.freeSectors() != before {
		t.Fatalf("freeSectors() after release = %d, want %d", fsys.freeMap.freeSectors(), before)
	}
}

func TestFreeMapExhaustion(t *testing.T) {
	fsys := newTestFS(t, 20, 0)
	free := fsys.freeMap.freeSectors()
	for i := uint32(0); i < free; i++ {
		if _, err := fsys.freeMap.allocate(1); err != nil {
			t.Fatalf("allocate %d: %v", i, err)
		}
	}
	if _, err := fsys.freeMap.allocate(1); err != ErrNoSpace {
		t.Fatalf("allocate on exhausted map = %v, want ErrNoSpace", err)
	}
}
