//go:build linux || darwin

package pintofs

import (
	"log"

	"golang.org/x/sys/unix"
)

// lockExclusive takes an advisory exclusive lock on the backing file for
// the lifetime of the device, guarding against the single-volume model's
// otherwise-unguarded hazard of two processes mounting the same image.
func (d *FileBlockDev) lockExclusive() error {
	if err := unix.Flock(int(d.f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		return err
	}
	d.lockedOK = true
	return nil
}

func (d *FileBlockDev) unlock() {
	if !d.lockedOK {
		return
	}
	if err := unix.Flock(int(d.f.Fd()), unix.LOCK_UN); err != nil {
		log.Printf("pintofs: failed to unlock volume file: %s", err)
	}
	d.lockedOK = false
}
