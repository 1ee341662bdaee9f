//go:build fuse

package pintofs

import (
	"context"
	"log"
	"path"
	"syscall"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"
)

// fuseNode mounts a Task's view of the filesystem through go-fuse's
// high-level Inode API. Every fuseNode is a path, resolved fresh against
// the Task on each lookup rather than cached, since writes can
// invalidate a cached resolution at any time.
type fuseNode struct {
	fs.Inode
	task *Task
	path string
}

var (
	_ fs.NodeLookuper  = (*fuseNode)(nil)
	_ fs.NodeReaddirer = (*fuseNode)(nil)
	_ fs.NodeOpener    = (*fuseNode)(nil)
	_ fs.NodeReader    = (*fuseNode)(nil)
	_ fs.NodeWriter    = (*fuseNode)(nil)
	_ fs.NodeGetattrer = (*fuseNode)(nil)
	_ fs.NodeMkdirer   = (*fuseNode)(nil)
	_ fs.NodeCreater   = (*fuseNode)(nil)
	_ fs.NodeUnlinker  = (*fuseNode)(nil)
	_ fs.NodeRmdirer   = (*fuseNode)(nil)
)

// Mount mounts fsys's root at mountpoint and serves requests until the
// returned server's Unmount is called or the process exits.
func Mount(fsys *FS, mountpoint string) (*fuse.Server, error) {
	root := &fuseNode{task: fsys.NewTask(), path: "/"}
	server, err := fs.Mount(mountpoint, root, &fs.Options{
		MountOptions: fuse.MountOptions{FsName: "pintofs"},
	})
	if err != nil {
		return nil, err
	}
	log.Printf("pintofs: mounted at %s", mountpoint)
	return server, nil
}

func (n *fuseNode) child(name string) *fuseNode {
	return &fuseNode{task: n.task, path: path.Join(n.path, name)}
}

func (n *fuseNode) attrFor(ino *Inode, out *fuse.Attr) error {
	isDir, err := ino.IsDir()
	if err != nil {
		return err
	}
	length, err := ino.Length()
	if err != nil {
		return err
	}
	out.Ino = uint64(ino.Sector())
	out.Size = uint64(length)
	if isDir {
		out.Mode = syscall.S_IFDIR | 0755
	} else {
		out.Mode = syscall.S_IFREG | 0644
	}
	return nil
}

func (n *fuseNode) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	child := n.child(name)
	ino, err := n.task.Open(child.path)
	if err != nil {
		return nil, toErrno(err)
	}
	defer ino.Close()
	if err := n.attrFor(ino, &out.Attr); err != nil {
		return nil, toErrno(err)
	}
	mode := uint32(fuse.S_IFREG)
	if isDir, _ := ino.IsDir(); isDir {
		mode = fuse.S_IFDIR
	}
	return n.NewInode(ctx, child, fs.StableAttr{Mode: mode, Ino: uint64(ino.Sector())}), 0
}

func (n *fuseNode) Getattr(ctx context.Context, f fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	ino, err := n.task.Open(n.path)
	if err != nil {
		return toErrno(err)
	}
	defer ino.Close()
	if err := n.attrFor(ino, &out.Attr); err != nil {
		return toErrno(err)
	}
	return 0
}

func (n *fuseNode) Readdir(ctx context.Context) (fs.DirStream, syscall.Errno) {
	h, err := n.task.OpenDir(n.path)
	if err != nil {
		return nil, toErrno(err)
	}
	var entries []fuse.DirEntry
	for {
		name, ok, err := h.Readdir()
		if err != nil {
			h.Close()
			return nil, toErrno(err)
		}
		if !ok {
			break
		}
		entries = append(entries, fuse.DirEntry{Name: name})
	}
	h.Close()
	return fs.NewListDirStream(entries), 0
}

func (n *fuseNode) Open(ctx context.Context, flags uint32) (fs.FileHandle, uint32, syscall.Errno) {
	h, err := n.task.OpenFile(n.path)
	if err != nil {
		return nil, 0, toErrno(err)
	}
	return &fuseFileHandle{h: h}, 0, 0
}

type fuseFileHandle struct {
	h *FileHandle
}

func (n *fuseNode) Read(ctx context.Context, f fs.FileHandle, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	h := f.(*fuseFileHandle).h
	n2, err := h.ReadAt(dest, off)
	if err != nil {
		return nil, toErrno(err)
	}
	return fuse.ReadResultData(dest[:n2]), 0
}

func (n *fuseNode) Write(ctx context.Context, f fs.FileHandle, data []byte, off int64) (uint32, syscall.Errno) {
	h := f.(*fuseFileHandle).h
	written, err := h.WriteAt(data, off)
	if err != nil {
		return 0, toErrno(err)
	}
	return uint32(written), 0
}

func (n *fuseNode) Mkdir(ctx context.Context, name string, mode uint32, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	child := n.child(name)
	if err := n.task.Mkdir(child.path); err != nil {
		return nil, toErrno(err)
	}
	ino, err := n.task.Open(child.path)
	if err != nil {
		return nil, toErrno(err)
	}
	defer ino.Close()
	n.attrFor(ino, &out.Attr)
	return n.NewInode(ctx, child, fs.StableAttr{Mode: fuse.S_IFDIR, Ino: uint64(ino.Sector())}), 0
}

func (n *fuseNode) Create(ctx context.Context, name string, flags uint32, mode uint32, out *fuse.EntryOut) (*fs.Inode, fs.FileHandle, uint32, syscall.Errno) {
	child := n.child(name)
	if err := n.task.Create(child.path, 0, false); err != nil {
		return nil, nil, 0, toErrno(err)
	}
	h, err := n.task.OpenFile(child.path)
	if err != nil {
		return nil, nil, 0, toErrno(err)
	}
	n.attrFor(h.Inode(), &out.Attr)
	node := n.NewInode(ctx, child, fs.StableAttr{Mode: fuse.S_IFREG, Ino: uint64(h.Inode().Sector())})
	return node, &fuseFileHandle{h: h}, 0, 0
}

func (n *fuseNode) Unlink(ctx context.Context, name string) syscall.Errno {
	return toErrno(n.task.Remove(n.child(name).path))
}

func (n *fuseNode) Rmdir(ctx context.Context, name string) syscall.Errno {
	return toErrno(n.task.Remove(n.child(name).path))
}

func toErrno(err error) syscall.Errno {
	switch err {
	case nil:
		return 0
	case ErrNotFound:
		return syscall.ENOENT
	case ErrAlreadyExists:
		return syscall.EEXIST
	case ErrNotADirectory:
		return syscall.ENOTDIR
	case ErrIsADirectory:
		return syscall.EISDIR
	case ErrDirectoryNotEmpty:
		return syscall.ENOTEMPTY
	case ErrInUse:
		return syscall.EBUSY
	case ErrNoSpace:
		return syscall.ENOSPC
	case ErrNameTooLong:
		return syscall.ENAMETOOLONG
	default:
		return syscall.EIO
	}
}
