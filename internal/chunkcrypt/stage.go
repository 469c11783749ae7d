package chunkcrypt

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
)

// ChunkStager implements the crash-safe per-chunk stage/apply/unlink
// protocol: transformed output is written to a sidecar file and fsynced
// before it is ever written to the device, so a crash mid-write always
// leaves a recoverable artifact behind.
type ChunkStager struct {
	fs   afero.Fs
	dir  string
	mode Mode
	log  *logrus.Logger
}

// NewChunkStager returns a stager rooted at dir for mode.
func NewChunkStager(fs afero.Fs, dir string, mode Mode, log *logrus.Logger) *ChunkStager {
	return &ChunkStager{fs: fs, dir: dir, mode: mode, log: log}
}

func (s *ChunkStager) path(offset int64) string {
	return filepath.Join(s.dir, fmt.Sprintf("%s_chunk-%d", s.mode, offset))
}

// Stage writes data to the sidecar file for offset and fsyncs it. data
// must be exactly chunkSize bytes.
func (s *ChunkStager) Stage(offset int64, data []byte) error {
	f, err := s.fs.OpenFile(s.path(offset), os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return newErrAt(KindIO, offset, err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return newErrAt(KindIO, offset, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return newErrAt(KindIO, offset, err)
	}
	if err := f.Close(); err != nil {
		return newErrAt(KindIO, offset, err)
	}
	return nil
}

// Lookup returns the staged bytes for offset if a sidecar file with
// exactly chunkSize bytes exists. It returns (nil, nil) when no stage
// file exists, and a CorruptStage error when one exists with the wrong
// size.
func (s *ChunkStager) Lookup(offset int64, chunkSize int) ([]byte, error) {
	path := s.path(offset)
	exists, err := afero.Exists(s.fs, path)
	if err != nil {
		return nil, newErrAt(KindIO, offset, err)
	}
	if !exists {
		return nil, nil
	}
	data, err := afero.ReadFile(s.fs, path)
	if err != nil {
		return nil, newErrAt(KindIO, offset, err)
	}
	if len(data) != chunkSize {
		return nil, newErrAt(KindCorruptStage, offset, errors.New("stage file has wrong size"))
	}
	return data, nil
}

// Unlink removes the sidecar file for offset. Failures are logged at
// warn level and never returned — they don't compromise correctness,
// per the spec's non-fatal-anomaly policy.
func (s *ChunkStager) Unlink(offset int64) {
	path := s.path(offset)
	if err := s.fs.Remove(path); err != nil && !os.IsNotExist(err) {
		if s.log != nil {
			s.log.WithFields(logrus.Fields{"offset": offset, "path": path}).
				Warnf("failed to unlink stage file: %v", err)
		}
	}
}
