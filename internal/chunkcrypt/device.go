package chunkcrypt

import (
	"os"
)

// Device is a fixed-size byte container accessible by positional read
// and write. It is intentionally minimal — ReaderAt/WriterAt plus Sync —
// mirroring how block devices are modeled elsewhere in the ecosystem
// (e.g. Fuchsia's block.Device, bb-storage's BlockDevice).
type Device interface {
	ReadAt(p []byte, off int64) (int, error)
	WriteAt(p []byte, off int64) (int, error)
	Sync() error
	Size() int64
	Close() error
}

// fileDevice adapts an *os.File to Device. The device is never created or
// resized by this package — it must already exist at its final size.
type fileDevice struct {
	f    *os.File
	size int64
}

// OpenDevice opens path for positional read/write. It never truncates or
// creates the target; size mismatches are caught by the orchestrator's
// validation against the configured chunk size, not here.
func OpenDevice(path string) (Device, error) {
	f, err := os.OpenFile(path, devOpenFlags, 0)
	if err != nil {
		return nil, newErr(KindIO, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, newErr(KindIO, err)
	}
	return &fileDevice{f: f, size: info.Size()}, nil
}

func (d *fileDevice) ReadAt(p []byte, off int64) (int, error) {
	n, err := d.f.ReadAt(p, off)
	if err != nil {
		return n, newErrAt(KindIO, off, err)
	}
	return n, nil
}

func (d *fileDevice) WriteAt(p []byte, off int64) (int, error) {
	n, err := d.f.WriteAt(p, off)
	if err != nil {
		return n, newErrAt(KindIO, off, err)
	}
	return n, nil
}

func (d *fileDevice) Sync() error {
	if err := d.f.Sync(); err != nil {
		return newErr(KindIO, err)
	}
	return nil
}

func (d *fileDevice) Size() int64 { return d.size }

func (d *fileDevice) Close() error {
	if err := d.f.Close(); err != nil {
		return newErr(KindIO, err)
	}
	return nil
}
