package chunkcrypt

import (
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"

	"github.com/spf13/afero"
)

const offsetFileSize = 8

// OffsetLog is the durable count of bytes from the start of the device
// that have been fully processed, for one mode (enc or dec).
type OffsetLog struct {
	fs   afero.Fs
	path string
}

// NewOffsetLog returns the offset log for mode rooted at dir.
func NewOffsetLog(fs afero.Fs, dir string, mode Mode) *OffsetLog {
	return &OffsetLog{fs: fs, path: filepath.Join(dir, mode.String()+"_offset")}
}

// LoadOrInit reads the persisted offset, creating it at 0 if absent.
func (o *OffsetLog) LoadOrInit() (int64, error) {
	exists, err := afero.Exists(o.fs, o.path)
	if err != nil {
		return 0, newErr(KindIO, err)
	}
	if !exists {
		if err := o.Store(0); err != nil {
			return 0, err
		}
		return 0, nil
	}
	buf, err := afero.ReadFile(o.fs, o.path)
	if err != nil {
		return 0, newErr(KindIO, err)
	}
	if len(buf) != offsetFileSize {
		return 0, newErr(KindCorruptOffset, errors.New("offset file has wrong size"))
	}
	return int64(binary.BigEndian.Uint64(buf)), nil
}

// Store overwrites the offset in place and fsyncs before returning.
func (o *OffsetLog) Store(offset int64) error {
	var buf [offsetFileSize]byte
	binary.BigEndian.PutUint64(buf[:], uint64(offset))
	f, err := o.fs.OpenFile(o.path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return newErr(KindIO, err)
	}
	if _, err := f.Write(buf[:]); err != nil {
		f.Close()
		return newErr(KindIO, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return newErr(KindIO, err)
	}
	return newErrIfNotNil(KindIO, f.Close())
}
