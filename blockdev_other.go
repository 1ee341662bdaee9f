//go:build !linux && !darwin

package pintofs

// lockExclusive is a no-op on platforms without the advisory locking this
// module wires through golang.org/x/sys/unix.
func (d *FileBlockDev) lockExclusive() error { return nil }

func (d *FileBlockDev) unlock() {}

func (d *FileBlockDev) preallocate(size int64) error {
	if size == 0 {
		return nil
	}
	return d.f.Truncate(size)
}
