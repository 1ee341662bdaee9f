package pintofs

import "testing"

func TestRootDirectorySelfAndParent(t *testing.T) {
	fsys := newTestFS(t, 512, 0)
	task := fsys.NewTask()
	defer task.Close()

	root, err := openRootDirectory(fsys)
	if err != nil {
		t.Fatalf("openRootDirectory: %v", err)
	}
	defer root.Close()

	self, err := root.Lookup(selfName)
	if err != nil {
		t.Fatalf("lookup '.': %v", err)
	}
	defer self.Close()
	if self.Sector() != root.Inumber() {
		t.Fatalf("'.' resolves to sector %d, want %d", self.Sector(), root.Inumber())
	}

	parent, err := root.Lookup(parentName)
	if err != nil {
		t.Fatalf("lookup '..': %v", err)
	}
	defer parent.Close()
	if parent.Sector() != root.Inumber() {
		t.Fatalf("root's '..' resolves to sector %d, want itself (%d)", parent.Sector(), root.Inumber())
	}
}

func TestReaddirSkipsDotAndDotDot(t *testing.T) {
	fsys := newTestFS(t, 512, 0)
	task := fsys.NewTask()
	defer task.Close()

	if err := task.Create("/a", 0, false); err != nil {
		t.Fatalf("Create a: %v", err)
	}
	if err := task.Create("/b", 0, false); err != nil {
		t.Fatalf("Create b: %v", err)
	}

	h, err := task.OpenDir("/")
	if err != nil {
		t.Fatalf("OpenDir: %v", err)
	}
	defer h.Close()

	seen := map[string]bool{}
	for {
		name, ok, err := h.Readdir()
		if err != nil {
			t.Fatalf("Readdir: %v", err)
		}
		if !ok {
			break
		}
		seen[name] = true
	}
	if seen["."] || seen[".."] {
		t.Fatalf("Readdir leaked '.' or '..': %v", seen)
	}
	if !seen["a"] || !seen["b"] {
		t.Fatalf("Readdir missing entries: %v", seen)
	}
	if len(seen) != 2 {
		t.Fatalf("Readdir returned %d entries, want 2", len(seen))
	}
}

func TestNumberEntriesCountsPrelude(t *testing.T) {
	fsys := newTestFS(t, 512, 0)
	task := fsys.NewTask()
	defer task.Close()

	if err := task.Mkdir("/sub"); err != nil {
		t.Fatalf("Mkdir: %v", err)
	}
	ino, err := task.Open("/sub")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer ino.Close()
	dir := &Directory{fs: fsys, ino: ino}
	n, err := dir.NumberEntries()
	if err != nil {
		t.Fatalf("NumberEntries: %v", err)
	}
	if n != 2 {
		t.Fatalf("NumberEntries() = %d, want 2 (just '.' and '..')", n)
	}
}

// TestMkdirOpenDirInumberMatchesParentReaddir exercises spec.md §8's
// round-trip property entirely through the public Task API: mkdir(p);
// open(p) must return a directory handle whose inumber equals what
// looking up the name readdir(parent) reports resolves to.
func TestMkdirOpenDirInumberMatchesParentReaddir(t *testing.T) {
	fsys := newTestFS(t, 512, 0)
	task := fsys.NewTask()
	defer task.Close()

	if err := task.Mkdir("/sub"); err != nil {
		t.Fatalf("Mkdir: %v", err)
	}

	parent, err := task.OpenDir("/")
	if err != nil {
		t.Fatalf("OpenDir(/): %v", err)
	}
	defer parent.Close()

	var found bool
	for {
		name, ok, err := parent.Readdir()
		if err != nil {
			t.Fatalf("Readdir: %v", err)
		}
		if !ok {
			break
		}
		if name == "sub" {
			found = true
			break
		}
	}
	if !found {
		t.Fatalf("readdir(/) did not report \"sub\"")
	}

	// The sector readdir(parent)'s entry names resolve to, reached by
	// looking the name up through the public FS facade...
	viaParent, err := task.Open("/sub")
	if err != nil {
		t.Fatalf("Open(/sub) via parent lookup: %v", err)
	}
	defer viaParent.Close()

	// ...must equal the inumber Task.OpenDir's own handle reports.
	h, err := task.OpenDir("/sub")
	if err != nil {
		t.Fatalf("OpenDir(/sub): %v", err)
	}
	defer h.Close()

	isDir, err := h.IsDir()
	if err != nil {
		t.Fatalf("IsDir: %v", err)
	}
	if !isDir {
		t.Fatalf("DirHandle.IsDir() = false, want true")
	}
	if h.Inumber() != viaParent.Sector() {
		t.Fatalf("DirHandle.Inumber() = %d, want %d (parent's lookup of the same name)", h.Inumber(), viaParent.Sector())
	}
}

func TestAddRejectsDotAndDotDot(t *testing.T) {
	fsys := newTestFS(t, 512, 0)
	root, err := openRootDirectory(fsys)
	if err != nil {
		t.Fatalf("openRootDirectory: %v", err)
	}
	defer root.Close()

	if err := root.Add(selfName, 99); err != ErrInvalidArgument {
		t.Fatalf("Add('.') = %v, want ErrInvalidArgument", err)
	}
	if err := root.Add(parentName, 99); err != ErrInvalidArgument {
		t.Fatalf("Add('..') = %v, want ErrInvalidArgument", err)
	}
}
