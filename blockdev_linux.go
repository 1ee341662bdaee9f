//go:build linux

package pintofs

import "golang.org/x/sys/unix"

// preallocate sizes the backing file to size bytes up front so that later
// sector writes never grow the file, matching the fixed SectorCount a
// BlockDev reports at open time.
func (d *FileBlockDev) preallocate(size int64) error {
	if size == 0 {
		return nil
	}
	if err := unix.Fallocate(int(d.f.Fd()), 0, 0, size); err != nil {
		// Fallocate is unsupported on some filesystems (overlayfs, some
		// network mounts); Truncate is enough to make ReadAt/WriteAt within
		// range well-defined even if it leaves the file sparse.
		return d.f.Truncate(size)
	}
	return nil
}
