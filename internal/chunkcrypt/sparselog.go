package chunkcrypt

import (
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"

	"github.com/spf13/afero"
)

const sparseEntrySize = 8

// sparseLogFileName implements the naming rule from the workdir layout:
// the sparse log is always physically named by the encrypt mode. During
// an encrypt run that's simply the current mode; during decrypt it's the
// inverse of the current mode.
func sparseLogFileName(mode Mode) string {
	if mode == ModeEncrypt {
		return mode.String() + "_sparse"
	}
	return mode.inverse().String() + "_sparse"
}

// SparseLog is the append-only ordered log of chunk offsets whose
// plaintext was all-zero, written during encrypt and consulted during
// decrypt via a forward cursor.
type SparseLog struct {
	fs   afero.Fs
	path string
}

// NewSparseLog returns the sparse log for mode rooted at dir.
func NewSparseLog(fs afero.Fs, dir string, mode Mode) *SparseLog {
	return &SparseLog{fs: fs, path: filepath.Join(dir, sparseLogFileName(mode))}
}

// Append writes offset as the next entry and fsyncs. Callers are
// responsible for only ever appending in strictly ascending order.
func (s *SparseLog) Append(offset int64) error {
	var buf [sparseEntrySize]byte
	binary.BigEndian.PutUint64(buf[:], uint64(offset))
	f, err := s.fs.OpenFile(s.path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o600)
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

// Cursor is a forward-only reader over a SparseLog, used by decrypt to
// test each chunk offset for sparsity in O(1) amortized time.
type Cursor struct {
	entries []int64
	pos     int
}

// OpenCursor reads the whole sparse log into memory (it is expected to be
// orders of magnitude smaller than the device) and returns a cursor
// positioned at the first entry.
func (s *SparseLog) OpenCursor(deviceSize int64) (*Cursor, error) {
	exists, err := afero.Exists(s.fs, s.path)
	if err != nil {
		return nil, newErr(KindIO, err)
	}
	if !exists {
		return &Cursor{}, nil
	}
	buf, err := afero.ReadFile(s.fs, s.path)
	if err != nil {
		return nil, newErr(KindIO, err)
	}
	if len(buf)%sparseEntrySize != 0 {
		return nil, newErr(KindCorruptSparseLog, errors.New("sparse log size is not a multiple of entry size"))
	}
	n := len(buf) / sparseEntrySize
	entries := make([]int64, n)
	var prev int64 = -1
	for i := 0; i < n; i++ {
		v := int64(binary.BigEndian.Uint64(buf[i*sparseEntrySize : (i+1)*sparseEntrySize]))
		if v <= prev {
			return nil, newErr(KindCorruptSparseLog, errors.New("sparse log entries are not strictly ascending"))
		}
		if v > deviceSize {
			return nil, newErr(KindCorruptSparseLog, errors.New("sparse log entry exceeds device size"))
		}
		entries[i] = v
		prev = v
	}
	return &Cursor{entries: entries}, nil
}

// IsSparse advances the cursor past any entries strictly less than
// target and reports whether the next unconsumed entry equals target.
func (c *Cursor) IsSparse(target int64) bool {
	for c.pos < len(c.entries) && c.entries[c.pos] < target {
		c.pos++
	}
	return c.pos < len(c.entries) && c.entries[c.pos] == target
}
