package chunkcrypt

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
)

// PipelineConfig bundles everything the state machine needs to drive a
// single run to completion.
type PipelineConfig struct {
	Mode      Mode
	ChunkSize int
	DryRun    bool
	Device    Device
	Cipher    *CipherStream
	Offsets   *OffsetLog
	Sparse    *SparseLog
	Stager    *ChunkStager
	Fs        afero.Fs
	Dir       string
	Log       *logrus.Logger
	Progress  *Progress
}

// Pipeline drives chunks from the current offset to device size,
// deciding each chunk's fate per spec.md §4.6's four states.
type Pipeline struct {
	cfg    PipelineConfig
	cursor *Cursor // only used in decrypt mode
}

// NewPipeline constructs a pipeline. For decrypt mode it opens the
// sparse-log cursor up front, per spec.md §4.3.
func NewPipeline(cfg PipelineConfig) (*Pipeline, error) {
	p := &Pipeline{cfg: cfg}
	if cfg.Mode == ModeDecrypt {
		cursor, err := cfg.Sparse.OpenCursor(cfg.Device.Size())
		if err != nil {
			return nil, err
		}
		p.cursor = cursor
	}
	return p, nil
}

// Run walks chunks from offset to device size (or exits immediately if
// already done), returning the final offset and the number of sparse
// chunks encountered.
func (p *Pipeline) Run(offset int64) (finalOffset int64, sparseChunks int64, err error) {
	deviceSize := p.cfg.Device.Size()

	if offset >= deviceSize {
		p.cfg.Log.Info("already done")
		return offset, 0, nil
	}

	buf := make([]byte, p.cfg.ChunkSize)
	for offset < deviceSize {
		var wasSparse bool
		offset, wasSparse, err = p.step(offset, buf)
		if err != nil {
			return offset, sparseChunks, err
		}
		if wasSparse {
			sparseChunks++
		}
		if p.cfg.Progress != nil {
			p.cfg.Progress.Report(offset, deviceSize)
		}
	}

	trailing, ferr := p.cfg.Cipher.Finalize()
	if ferr != nil {
		return offset, sparseChunks, ferr
	}
	if len(trailing) > 0 {
		if werr := p.writeFinalSidecar(offset, trailing); werr != nil {
			p.cfg.Log.WithError(werr).Warn("failed to write .final diagnostic sidecar")
		}
		return offset, sparseChunks, newErrAt(KindCipher, offset,
			errors.New("cipher finalize produced unexpected trailing bytes"))
	}

	return offset, sparseChunks, nil
}

// step processes exactly one chunk at offset and returns the next
// offset, whether the chunk was sparse, and any fatal error.
func (p *Pipeline) step(offset int64, buf []byte) (int64, bool, error) {
	// State A — resume from stage.
	staged, err := p.cfg.Stager.Lookup(offset, p.cfg.ChunkSize)
	if err != nil {
		return offset, false, err
	}
	if staged != nil {
		p.cfg.Log.WithField("offset", offset).Debug("resuming from stage file")
		return p.applyAndAdvance(offset, staged)
	}

	// State B — decide sparsity.
	sparse, err := p.isSparse(offset, buf)
	if err != nil {
		return offset, false, err
	}

	// State C — sparse path.
	if sparse {
		return p.handleSparse(offset)
	}

	// State D — transform path.
	return p.handleTransform(offset, buf)
}

func (p *Pipeline) isSparse(offset int64, buf []byte) (bool, error) {
	if p.cfg.Mode == ModeDecrypt {
		return p.cursor.IsSparse(offset), nil
	}
	if _, err := p.cfg.Device.ReadAt(buf, offset); err != nil {
		return false, err
	}
	return isAllZero(buf), nil
}

func (p *Pipeline) handleSparse(offset int64) (int64, bool, error) {
	next := offset + int64(p.cfg.ChunkSize)
	if p.cfg.Mode == ModeEncrypt {
		if err := p.cfg.Sparse.Append(offset); err != nil {
			return offset, true, err
		}
	}
	p.cfg.Log.WithField("offset", offset).Debug("sparse chunk")
	if err := p.cfg.Offsets.Store(next); err != nil {
		return offset, true, err
	}
	return next, true, nil
}

func (p *Pipeline) handleTransform(offset int64, buf []byte) (int64, bool, error) {
	if _, err := p.cfg.Device.ReadAt(buf, offset); err != nil {
		return offset, false, err
	}
	output, err := p.cfg.Cipher.Update(offset, buf)
	if err != nil {
		return offset, false, err
	}
	if err := p.cfg.Stager.Stage(offset, output); err != nil {
		return offset, false, err
	}
	p.cfg.Log.WithField("offset", offset).Debug("transformed chunk")
	return p.applyAndAdvance(offset, output)
}

// applyAndAdvance performs ChunkStager steps 2–4: write to device (unless
// dry-run), advance the offset, unlink the stage file.
func (p *Pipeline) applyAndAdvance(offset int64, data []byte) (int64, bool, error) {
	if !p.cfg.DryRun {
		if _, err := p.cfg.Device.WriteAt(data, offset); err != nil {
			return offset, false, err
		}
		if err := p.cfg.Device.Sync(); err != nil {
			return offset, false, err
		}
	}
	next := offset + int64(p.cfg.ChunkSize)
	if err := p.cfg.Offsets.Store(next); err != nil {
		return offset, false, err
	}
	p.cfg.Stager.Unlink(offset)
	return next, false, nil
}

func (p *Pipeline) writeFinalSidecar(offset int64, trailing []byte) error {
	path := filepath.Join(p.cfg.Dir, fmt.Sprintf("%s_chunk-%d.final", p.cfg.Mode, offset))
	return afero.WriteFile(p.cfg.Fs, path, trailing, os.FileMode(0o600))
}

func isAllZero(b []byte) bool {
	return bytes.Count(b, []byte{0}) == len(b)
}
