//go:build darwin

package pintofs

// preallocate sizes the backing file to size bytes up front. darwin has
// no Fallocate equivalent in golang.org/x/sys/unix, so this just
// truncates; that's enough to make ReadAt/WriteAt within range
// well-defined even though the file is left sparse.
func (d *FileBlockDev) preallocate(size int64) error {
	if size == 0 {
		return nil
	}
	return d.f.Truncate(size)
}
