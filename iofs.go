package pintofs

import (
	"io"
	"io/fs"
	"path"
	"time"
)

// fsFile adapts a FileHandle to fs.File. Task.OpenFSFile is the entry
// point; the package has no fs.FS implementation, so fs.WalkDir and
// similar helpers cannot be pointed at a volume directly.
type fsFile struct {
	h    *FileHandle
	name string
}

// fsDir adapts a DirHandle to fs.ReadDirFile.
type fsDir struct {
	h    *DirHandle
	name string
}

type fsFileInfo struct {
	name  string
	size  int64
	isDir bool
}

var _ fs.File = (*fsFile)(nil)
var _ fs.ReadDirFile = (*fsDir)(nil)
var _ fs.FileInfo = (*fsFileInfo)(nil)

// OpenFSFile resolves path and returns it as an fs.File. If path names a
// directory the returned value also implements fs.ReadDirFile.
func (t *Task) OpenFSFile(p string) (fs.File, error) {
	ino, err := t.Open(p)
	if err != nil {
		return nil, err
	}
	isDir, err := ino.IsDir()
	if err != nil {
		ino.Close()
		return nil, err
	}
	if isDir {
		dir := &Directory{fs: t.fs, ino: ino}
		return &fsDir{h: dir.OpenHandle(), name: p}, nil
	}
	return &fsFile{h: &FileHandle{ino: ino}, name: p}, nil
}

// (fsFile)

func (f *fsFile) Stat() (fs.FileInfo, error) {
	length, err := f.h.Length()
	if err != nil {
		return nil, err
	}
	return &fsFileInfo{name: path.Base(f.name), size: length}, nil
}

func (f *fsFile) Read(buf []byte) (int, error) { return f.h.Read(buf) }
func (f *fsFile) Close() error                 { return f.h.Close() }

// (fsDir)

func (d *fsDir) Stat() (fs.FileInfo, error) {
	return &fsFileInfo{name: path.Base(d.name), isDir: true}, nil
}

func (d *fsDir) Read([]byte) (int, error) { return 0, fs.ErrInvalid }
func (d *fsDir) Close() error             { return d.h.Close() }

func (d *fsDir) ReadDir(n int) ([]fs.DirEntry, error) {
	var out []fs.DirEntry
	for n <= 0 || len(out) < n {
		name, ok, err := d.h.Readdir()
		if err != nil {
			return out, err
		}
		if !ok {
			if n <= 0 {
				break
			}
			if len(out) == 0 {
				return out, io.EOF
			}
			return out, nil
		}
		child, err := d.h.dir.Lookup(name)
		if err != nil {
			return out, err
		}
		isDir, err := child.IsDir()
		if err != nil {
			child.Close()
			return out, err
		}
		length, err := child.Length()
		child.Close()
		if err != nil {
			return out, err
		}
		out = append(out, fs.FileInfoToDirEntry(&fsFileInfo{name: name, size: length, isDir: isDir}))
	}
	return out, nil
}

// (fsFileInfo)

func (fi *fsFileInfo) Name() string       { return fi.name }
func (fi *fsFileInfo) Size() int64        { return fi.size }
func (fi *fsFileInfo) ModTime() time.Time { return time.Time{} }
func (fi *fsFileInfo) IsDir() bool        { return fi.isDir }
func (fi *fsFileInfo) Sys() any           { return nil }

func (fi *fsFileInfo) Mode() fs.FileMode {
	if fi.isDir {
		return fs.ModeDir | 0755
	}
	return 0644
}
