package pintofs

import (
	"io"
	"testing"
)

func newTestFS(t *testing.T, sectors uint32, cacheCapacity int) *FS {
	t.Helper()
	dev := NewMemBlockDev(sectors)
	var opts []Option
	if cacheCapacity > 0 {
		opts = append(opts, WithCacheCapacity(cacheCapacity))
	}
	fsys, err := New(dev, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := fsys.Init(true); err != nil {
		t.Fatalf("Init(true): %v", err)
	}
	return fsys
}

func TestFormatCreatesRootDirectory(t *testing.T) {
	fsys := newTestFS(t, 512, 0)
	task := fsys.NewTask()
	defer task.Close()

	h, err := task.OpenDir("/")
	if err != nil {
		t.Fatalf("OpenDir(/): %v", err)
	}
	defer h.Close()
	if _, ok, err := h.Readdir(); err != nil || ok {
		t.Fatalf("fresh root should be empty, got ok=%v err=%v", ok, err)
	}
}

func TestCreateWriteReadRoundTrip(t *testing.T) {
	fsys := newTestFS(t, 512, 0)
	task := fsys.NewTask()
	defer task.Close()

	if err := task.Create("/hello.txt", 0, false); err != nil {
		t.Fatalf("Create: %v", err)
	}
	h, err := task.OpenFile("/hello.txt")
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	defer h.Close()

	msg := []byte("hello, pintofs")
	if _, err := h.WriteAt(msg, 0); err != nil {
		t.Fatalf("WriteAt: %v", err)
	}
	buf := make([]byte, len(msg))
	n, err := h.ReadAt(buf, 0)
	if err != nil {
		t.Fatalf("ReadAt: %v", err)
	}
	if n != len(msg) || string(buf) != string(msg) {
		t.Fatalf("got %q, want %q", buf[:n], msg)
	}
}

func TestReadPastEndOfFileReturnsShortRead(t *testing.T) {
	fsys := newTestFS(t, 512, 0)
	task := fsys.NewTask()
	defer task.Close()

	if err := task.Create("/f", 0, false); err != nil {
		t.Fatalf("Create: %v", err)
	}
	h, err := task.OpenFile("/f")
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	defer h.Close()

	if _, err := h.WriteAt([]byte("abc"), 0); err != nil {
		t.Fatalf("WriteAt: %v", err)
	}
	buf := make([]byte, 10)
	n, err := h.ReadAt(buf, 0)
	if err != nil {
		t.Fatalf("ReadAt: %v", err)
	}
	if n != 3 {
		t.Fatalf("ReadAt returned %d bytes, want 3 (short read at EOF)", n)
	}
}

func TestMkdirAndNestedFile(t *testing.T) {
	fsys := newTestFS(t, 512, 0)
	task := fsys.NewTask()
	defer task.Close()

	if err := task.Mkdir("/sub"); err != nil {
		t.Fatalf("Mkdir: %v", err)
	}
	if err := task.Create("/sub/inner.txt", 0, false); err != nil {
		t.Fatalf("Create nested file: %v", err)
	}

	h, err := task.OpenFile("/sub/inner.txt")
	if err != nil {
		t.Fatalf("OpenFile nested: %v", err)
	}
	h.Close()
}

func TestCreateDuplicateNameFails(t *testing.T) {
	fsys := newTestFS(t, 512, 0)
	task := fsys.NewTask()
	defer task.Close()

	if err := task.Create("/dup", 0, false); err != nil {
		t.Fatalf("first Create: %v", err)
	}
	if err := task.Create("/dup", 0, false); err != ErrAlreadyExists {
		t.Fatalf("second Create returned %v, want ErrAlreadyExists", err)
	}
}

func TestOpenMissingFails(t *testing.T) {
	fsys := newTestFS(t, 512, 0)
	task := fsys.NewTask()
	defer task.Close()

	if _, err := task.OpenFile("/nope"); err != ErrNotFound {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
}

func TestRemoveThenOpenFails(t *testing.T) {
	fsys := newTestFS(t, 512, 0)
	task := fsys.NewTask()
	defer task.Close()

	if err := task.Create("/gone", 0, false); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := task.Remove("/gone"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, err := task.OpenFile("/gone"); err != ErrNotFound {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
}

func TestRemoveWhileOpenStaysUsableAndReclaimsOnClose(t *testing.T) {
	fsys := newTestFS(t, 512, 0)
	task := fsys.NewTask()
	defer task.Close()

	freeBefore := fsys.freeMap.freeSectors()

	if err := task.Create("/busy", 0, false); err != nil {
		t.Fatalf("Create: %v", err)
	}
	h, err := task.OpenFile("/busy")
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}

	if err := task.Remove("/busy"); err != nil {
		t.Fatalf("Remove of open file: %v", err)
	}

	// The existing handle keeps working after the name is unlinked.
	if _, err := h.WriteAt([]byte("still here"), 0); err != nil {
		t.Fatalf("WriteAt on removed-but-open file: %v", err)
	}
	buf := make([]byte, len("still here"))
	if _, err := h.ReadAt(buf, 0); err != nil {
		t.Fatalf("ReadAt on removed-but-open file: %v", err)
	}
	if string(buf) != "still here" {
		t.Fatalf("got %q, want %q", buf, "still here")
	}

	// A fresh open by name must fail: the directory entry is gone.
	if _, err := task.OpenFile("/busy"); err != ErrNotFound {
		t.Fatalf("OpenFile(/busy) after remove = %v, want ErrNotFound", err)
	}

	// Sectors grown for the write above are still held while the handle
	// stays open...
	if fsys.freeMap.freeSectors() >= freeBefore {
		t.Fatalf("freeSectors() = %d, want fewer than %d while handle is open", fsys.freeMap.freeSectors(), freeBefore)
	}

	// ...and are fully reclaimed once the last reference closes.
	if err := h.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if got := fsys.freeMap.freeSectors(); got != freeBefore {
		t.Fatalf("freeSectors() after final close = %d, want %d (fully reclaimed)", got, freeBefore)
	}
}

func TestRemoveNonEmptyDirFails(t *testing.T) {
	fsys := newTestFS(t, 512, 0)
	task := fsys.NewTask()
	defer task.Close()

	if err := task.Mkdir("/d"); err != nil {
		t.Fatalf("Mkdir: %v", err)
	}
	if err := task.Create("/d/child", 0, false); err != nil {
		t.Fatalf("Create child: %v", err)
	}
	if err := task.Remove("/d"); err != ErrDirectoryNotEmpty {
		t.Fatalf("got %v, want ErrDirectoryNotEmpty", err)
	}
}

func TestChdirAndRelativePaths(t *testing.T) {
	fsys := newTestFS(t, 512, 0)
	task := fsys.NewTask()
	defer task.Close()

	if err := task.Mkdir("/d"); err != nil {
		t.Fatalf("Mkdir: %v", err)
	}
	if err := task.Chdir("/d"); err != nil {
		t.Fatalf("Chdir: %v", err)
	}
	if err := task.Create("rel.txt", 0, false); err != nil {
		t.Fatalf("Create relative: %v", err)
	}
	h, err := task.OpenFile("/d/rel.txt")
	if err != nil {
		t.Fatalf("OpenFile absolute after relative create: %v", err)
	}
	h.Close()
}

func TestRemoveCwdDirFails(t *testing.T) {
	fsys := newTestFS(t, 512, 0)
	task := fsys.NewTask()
	defer task.Close()

	if err := task.Mkdir("/d"); err != nil {
		t.Fatalf("Mkdir: %v", err)
	}
	if err := task.Chdir("/d"); err != nil {
		t.Fatalf("Chdir: %v", err)
	}
	other := fsys.NewTask()
	defer other.Close()
	if err := other.Remove("/d"); err != ErrInUse {
		t.Fatalf("got %v, want ErrInUse", err)
	}
}

func TestNameLengthBoundary(t *testing.T) {
	fsys := newTestFS(t, 512, 0)
	task := fsys.NewTask()
	defer task.Close()

	ok14 := "12345678901234" // 14 bytes: exactly NameMax
	if err := task.Create("/"+ok14, 0, false); err != nil {
		t.Fatalf("14-byte name should be accepted: %v", err)
	}
	bad15 := "123456789012345" // 15 bytes: one over NameMax
	if err := task.Create("/"+bad15, 0, false); err != ErrNameTooLong {
		t.Fatalf("got %v, want ErrNameTooLong for a 15-byte name", err)
	}
}

func TestShutdownPersistsAcrossReopen(t *testing.T) {
	dev := NewMemBlockDev(512)
	fsys, err := New(dev)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := fsys.Init(true); err != nil {
		t.Fatalf("Init(true): %v", err)
	}
	task := fsys.NewTask()
	if err := task.Create("/persisted", 0, false); err != nil {
		t.Fatalf("Create: %v", err)
	}
	h, err := task.OpenFile("/persisted")
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	if _, err := h.WriteAt([]byte("durable"), 0); err != nil {
		t.Fatalf("WriteAt: %v", err)
	}
	h.Close()
	task.Close()
	if err := fsys.Shutdown(); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	fsys2, err := New(dev)
	if err != nil {
		t.Fatalf("New (reopen): %v", err)
	}
	if err := fsys2.Init(false); err != nil {
		t.Fatalf("Init(false): %v", err)
	}
	task2 := fsys2.NewTask()
	defer task2.Close()
	h2, err := task2.OpenFile("/persisted")
	if err != nil {
		t.Fatalf("OpenFile after reopen: %v", err)
	}
	defer h2.Close()
	buf := make([]byte, 7)
	if _, err := io.ReadFull(&ioReaderAt{h2, 0}, buf); err != nil {
		t.Fatalf("ReadFull: %v", err)
	}
	if string(buf) != "durable" {
		t.Fatalf("got %q, want %q", buf, "durable")
	}
}

// ioReaderAt adapts FileHandle.ReadAt to io.Reader at a fixed offset, for
// tests that want io.ReadFull's short-read retry loop.
type ioReaderAt struct {
	h   *FileHandle
	off int64
}

func (r *ioReaderAt) Read(p []byte) (int, error) {
	n, err := r.h.ReadAt(p, r.off)
	r.off += int64(n)
	if n == 0 && err == nil {
		return 0, io.EOF
	}
	return n, err
}
