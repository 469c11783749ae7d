package chunkcrypt

import (
	"errors"
	"io"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
)

// Config wires together everything the orchestrator needs to run one
// encrypt or decrypt pass over a device.
type Config struct {
	Mode       Mode
	Workdir    string
	DevicePath string
	ChunkSize  int
	DryRun     bool

	// Fs roots all workdir sidecar state. Defaults to afero.NewOsFs()
	// when nil, letting tests inject afero.NewMemMapFs().
	Fs afero.Fs
	// CSPRNG is the secure byte source used only to generate key
	// material on the first encrypt run. Defaults to CSPRNGReader.
	CSPRNG io.Reader
	// Log receives structured progress and diagnostic output. Defaults
	// to a logrus.Logger writing to os.Stderr.
	Log *logrus.Logger
	// ProgressFd is the file descriptor progress output is tied to for
	// TTY detection. Defaults to os.Stderr.Fd().
	ProgressFd uintptr
}

// Summary is returned on a successful run.
type Summary struct {
	BytesProcessed int64
	SparseChunks   int64
	Elapsed        time.Duration
	AlreadyDone    bool
}

// Run validates cfg, acquires the workdir lock, initializes or loads all
// persisted state, and drives the chunk pipeline to completion.
func Run(cfg Config) (Summary, error) {
	if cfg.Fs == nil {
		cfg.Fs = afero.NewOsFs()
	}
	if cfg.CSPRNG == nil {
		cfg.CSPRNG = NewCSPRNGReader()
	}
	if cfg.Log == nil {
		cfg.Log = logrus.New()
		cfg.Log.SetOutput(os.Stderr)
	}
	if cfg.ProgressFd == 0 {
		cfg.ProgressFd = os.Stderr.Fd()
	}
	if cfg.ChunkSize == 0 {
		cfg.ChunkSize = 4096
	}

	if err := validateConfig(cfg); err != nil {
		return Summary{}, err
	}

	// The lock is a real flock on a real file descriptor: it only makes
	// sense when the workdir actually lives on the OS filesystem. Tests
	// that swap in afero.NewMemMapFs() have no real directory to lock
	// and don't need one, since there's no second process to race with.
	release := func() error { return nil }
	if _, isOsFs := cfg.Fs.(*afero.OsFs); isOsFs {
		var lockErr error
		release, lockErr = AcquireWorkdirLock(cfg.Workdir)
		if lockErr != nil {
			return Summary{}, lockErr
		}
	}
	defer func() {
		if cerr := release(); cerr != nil {
			cfg.Log.WithError(cerr).Warn("failed to release workdir lock")
		}
	}()

	device, err := OpenDevice(cfg.DevicePath)
	if err != nil {
		return Summary{}, err
	}
	defer func() {
		if cerr := device.Close(); cerr != nil {
			cfg.Log.WithError(cerr).Warn("failed to close device")
		}
	}()

	if device.Size()%int64(cfg.ChunkSize) != 0 {
		return Summary{}, newErr(KindConfigMismatch, errors.New("device size is not a multiple of chunk size"))
	}

	keyStore := NewKeyMaterialStore(cfg.Fs, cfg.Workdir)
	material, err := keyStore.Ensure(cfg.Mode, cfg.CSPRNG)
	if err != nil {
		return Summary{}, err
	}

	cipherStream, err := NewCipherStream(cfg.Mode, material.Key, material.IV)
	if err != nil {
		return Summary{}, err
	}
	if cipherStream.BlockSize() != 16 {
		return Summary{}, newErr(KindConfigMismatch, errors.New("cipher block size must be 16"))
	}

	offsets := NewOffsetLog(cfg.Fs, cfg.Workdir, cfg.Mode)
	offset, err := offsets.LoadOrInit()
	if err != nil {
		return Summary{}, err
	}

	sparse := NewSparseLog(cfg.Fs, cfg.Workdir, cfg.Mode)
	stager := NewChunkStager(cfg.Fs, cfg.Workdir, cfg.Mode, cfg.Log)
	progress := NewProgress(cfg.Log, cfg.ProgressFd)

	pipeline, err := NewPipeline(PipelineConfig{
		Mode:      cfg.Mode,
		ChunkSize: cfg.ChunkSize,
		DryRun:    cfg.DryRun,
		Device:    device,
		Cipher:    cipherStream,
		Offsets:   offsets,
		Sparse:    sparse,
		Stager:    stager,
		Fs:        cfg.Fs,
		Dir:       cfg.Workdir,
		Log:       cfg.Log,
		Progress:  progress,
	})
	if err != nil {
		return Summary{}, err
	}

	start := time.Now()
	finalOffset, sparseChunks, err := pipeline.Run(offset)
	elapsed := time.Since(start)
	if err != nil {
		return Summary{}, err
	}

	summary := Summary{
		BytesProcessed: finalOffset,
		SparseChunks:   sparseChunks,
		Elapsed:        elapsed,
		AlreadyDone:    finalOffset == offset,
	}
	cfg.Log.WithFields(logrus.Fields{
		"bytes_processed": summary.BytesProcessed,
		"sparse_chunks":   summary.SparseChunks,
		"elapsed":         summary.Elapsed,
	}).Info("run complete")
	return summary, nil
}

func validateConfig(cfg Config) error {
	if cfg.Workdir == "" {
		return newErr(KindUsage, errors.New("workdir is required"))
	}
	if cfg.DevicePath == "" {
		return newErr(KindUsage, errors.New("device path is required"))
	}
	if cfg.ChunkSize <= 0 || cfg.ChunkSize%16 != 0 {
		return newErr(KindConfigMismatch, errors.New("chunk size must be a positive multiple of 16"))
	}
	return nil
}
