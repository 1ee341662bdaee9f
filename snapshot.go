package pintofs

import (
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
	"github.com/ulikunitz/xz"
)

// SnapshotCodec names a whole-volume compression format for
// ExportSnapshot/ImportSnapshot, applying one codec to a
// whole-device image instead of individual archive entries.
type SnapshotCodec int

const (
	// CodecZstd compresses with github.com/klauspost/compress/zstd.
	CodecZstd SnapshotCodec = iota
	// CodecXZ compresses with github.com/ulikunitz/xz.
	CodecXZ
)

// ExportSnapshot flushes every dirty cache entry, then writes every
// sector of the device to w through the given codec. It is a point-in-
// time copy: callers wanting a consistent snapshot of a live filesystem
// must quiesce writers themselves first.
func (fs *FS) ExportSnapshot(w io.Writer, codec SnapshotCodec) error {
	if err := fs.cache.FlushAll(); err != nil {
		return err
	}

	cw, closeCW, err := newSnapshotWriter(w, codec)
	if err != nil {
		return err
	}

	var buf [SectorSize]byte
	n := fs.dev.SectorCount()
	for sector := uint32(0); sector < n; sector++ {
		if err := fs.dev.ReadSector(sector, buf[:]); err != nil {
			closeCW()
			return err
		}
		if _, err := cw.Write(buf[:]); err != nil {
			closeCW()
			return err
		}
	}
	return closeCW()
}

// ImportSnapshot overwrites the device's sectors from r, decoding through
// the given codec, then syncs. The device must already have at least as
// many sectors as the snapshot was taken from; ImportSnapshot does not
// resize it. It invalidates the cache first, the read-side counterpart
// of ExportSnapshot's FlushAll: otherwise a still-cached sector would
// keep serving its stale pre-import content after the device underneath
// it has been overwritten.
func (fs *FS) ImportSnapshot(r io.Reader, codec SnapshotCodec) error {
	cr, closeCR, err := newSnapshotReader(r, codec)
	if err != nil {
		return err
	}
	defer closeCR()

	fs.cache.InvalidateAll()

	var buf [SectorSize]byte
	n := fs.dev.SectorCount()
	for sector := uint32(0); sector < n; sector++ {
		if _, err := io.ReadFull(cr, buf[:]); err != nil {
			if err == io.EOF {
				break
			}
			return err
		}
		if err := fs.dev.WriteSector(sector, buf[:]); err != nil {
			return err
		}
	}
	return fs.dev.Sync()
}

func newSnapshotWriter(w io.Writer, codec SnapshotCodec) (io.Writer, func() error, error) {
	switch codec {
	case CodecZstd:
		zw, err := zstd.NewWriter(w)
		if err != nil {
			return nil, nil, err
		}
		return zw, zw.Close, nil
	case CodecXZ:
		xw, err := xz.NewWriter(w)
		if err != nil {
			return nil, nil, err
		}
		return xw, xw.Close, nil
	default:
		return nil, nil, fmt.Errorf("pintofs: unknown snapshot codec %d", codec)
	}
}

func newSnapshotReader(r io.Reader, codec SnapshotCodec) (io.Reader, func() error, error) {
	switch codec {
	case CodecZstd:
		zr, err := zstd.NewReader(r)
		if err != nil {
			return nil, nil, err
		}
		return zr, func() error { zr.Close(); return nil }, nil
	case CodecXZ:
		xr, err := xz.NewReader(r)
		if err != nil {
			return nil, nil, err
		}
		return xr, func() error { return nil }, nil
	default:
		return nil, nil, fmt.Errorf("pintofs: unknown snapshot codec %d", codec)
	}
}
