package pintofs

import "testing"

func TestBitsetScanAndFlip(t *testing.T) {
	b := newBitset(16)
	start, ok := b.scanAndFlip(3)
	if !ok || start != 0 {
		t.Fatalf("got start=%d ok=%v, want 0 true", start, ok)
	}
	if b.countSet() != 3 {
		t.Fatalf("countSet() = %d, want 3", b.countSet())
	}

	start2, ok := b.scanAndFlip(2)
	if !ok || start2 != 3 {
		t.Fatalf("got start=%d ok=%v, want 3 true", start2, ok)
	}
}

func TestBitsetReleaseAllowsReuse(t *testing.T) {
	b := newBitset(8)
	start, ok := b.scanAndFlip(8)
	if !ok || start != 0 {
		t.Fatalf("expected full allocation to succeed at 0, got %d %v", start, ok)
	}
	if _, ok := b.scanAndFlip(1); ok {
		t.Fatalf("expected allocation to fail on a full bitmap")
	}
	b.release(2, 3)
	start, ok = b.scanAndFlip(3)
	if !ok || start != 2 {
		t.Fatalf("got start=%d ok=%v, want 2 true after release", start, ok)
	}
}

func TestBitsetNoRunLargeEnough(t *testing.T) {
	b := newBitset(4)
	if _, ok := b.scanAndFlip(5); ok {
		t.Fatalf("expected failure requesting more bits than exist")
	}
}

func TestBitsetMarshalRoundTrip(t *testing.T) {
	b := newBitset(24)
	b.set(1, true)
	b.set(20, true)
	data := b.marshal()

	b2 := newBitset(24)
	b2.unmarshal(data)
	if !b2.test(1) || !b2.test(20) {
		t.Fatalf("unmarshal did not preserve set bits")
	}
	if b2.test(2) {
		t.Fatalf("unmarshal set an unexpected bit")
	}
}
