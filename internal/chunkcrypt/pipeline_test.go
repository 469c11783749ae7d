package chunkcrypt

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
)

func newTestDevice(t *testing.T, content []byte) Device {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "device-*.img")
	require.NoError(t, err)
	_, err = f.Write(content)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	dev, err := OpenDevice(f.Name())
	require.NoError(t, err)
	t.Cleanup(func() { dev.Close() })
	return dev
}

func readAllDevice(t *testing.T, dev Device) []byte {
	t.Helper()
	buf := make([]byte, dev.Size())
	_, err := dev.ReadAt(buf, 0)
	require.NoError(t, err)
	return buf
}

func newPipelineConfig(t *testing.T, mode Mode, fs afero.Fs, dir string, dev Device, key, iv []byte, chunkSize int) PipelineConfig {
	t.Helper()
	cipher, err := NewCipherStream(mode, key, iv)
	require.NoError(t, err)
	log := logrus.New()
	log.SetOutput(bytes.NewBuffer(nil))
	return PipelineConfig{
		Mode:      mode,
		ChunkSize: chunkSize,
		Device:    dev,
		Cipher:    cipher,
		Offsets:   NewOffsetLog(fs, dir, mode),
		Sparse:    NewSparseLog(fs, dir, mode),
		Stager:    NewChunkStager(fs, dir, mode, log),
		Fs:        fs,
		Dir:       dir,
		Log:       log,
		Progress:  NewProgress(log, 0),
	}
}

func TestPipelineRoundTrip(t *testing.T) {
	key := randomBytes(t, keySize)
	iv := randomBytes(t, ivSize)

	for _, chunkSize := range []int{16, 64, 4096} {
		for _, nChunks := range []int{0, 1, 2, 64} {
			plaintext := randomBytes(t, chunkSize*nChunks)

			encFs := afero.NewMemMapFs()
			encDev := newTestDevice(t, plaintext)
			encCfg := newPipelineConfig(t, ModeEncrypt, encFs, "/wd", encDev, key, iv, chunkSize)
			encPipeline, err := NewPipeline(encCfg)
			require.NoError(t, err)
			_, _, err = encPipeline.Run(0)
			require.NoError(t, err)

			ciphertext := readAllDevice(t, encDev)
			if nChunks > 0 {
				require.NotEqual(t, plaintext, ciphertext)
			}

			decFs := afero.NewMemMapFs()
			decDev := newTestDevice(t, ciphertext)
			decCfg := newPipelineConfig(t, ModeDecrypt, decFs, "/wd", decDev, key, iv, chunkSize)
			decPipeline, err := NewPipeline(decCfg)
			require.NoError(t, err)
			_, _, err = decPipeline.Run(0)
			require.NoError(t, err)

			require.Equal(t, plaintext, readAllDevice(t, decDev))
		}
	}
}

func TestPipelinePreservesSparseChunks(t *testing.T) {
	key := randomBytes(t, keySize)
	iv := randomBytes(t, ivSize)
	chunkSize := 64

	plaintext := make([]byte, chunkSize*3)
	copy(plaintext[chunkSize:2*chunkSize], bytes.Repeat([]byte{0xbb}, chunkSize))
	// chunk 0 and chunk 2 are left all-zero (sparse); chunk 1 is non-zero.

	encFs := afero.NewMemMapFs()
	encDev := newTestDevice(t, plaintext)
	encCfg := newPipelineConfig(t, ModeEncrypt, encFs, "/wd", encDev, key, iv, chunkSize)
	encPipeline, err := NewPipeline(encCfg)
	require.NoError(t, err)
	_, sparseChunks, err := encPipeline.Run(0)
	require.NoError(t, err)
	require.Equal(t, int64(2), sparseChunks)

	ciphertext := readAllDevice(t, encDev)
	require.True(t, isAllZero(ciphertext[0:chunkSize]), "sparse chunk must stay untouched on the device")
	require.True(t, isAllZero(ciphertext[2*chunkSize:3*chunkSize]))

	exists, err := afero.Exists(encFs, "/wd/enc_sparse")
	require.NoError(t, err)
	require.True(t, exists)

	// Decrypt runs against the same workdir so it reads the enc_sparse
	// log written above.
	decFs := encFs
	decDev := newTestDevice(t, ciphertext)
	decCfg := newPipelineConfig(t, ModeDecrypt, decFs, "/wd", decDev, key, iv, chunkSize)
	decPipeline, err := NewPipeline(decCfg)
	require.NoError(t, err)
	_, decSparseChunks, err := decPipeline.Run(0)
	require.NoError(t, err)
	require.Equal(t, int64(2), decSparseChunks)
	require.Equal(t, plaintext, readAllDevice(t, decDev))
}

func TestPipelineAlreadyDoneShortCircuits(t *testing.T) {
	key := randomBytes(t, keySize)
	iv := randomBytes(t, ivSize)
	chunkSize := 64
	dev := newTestDevice(t, randomBytes(t, chunkSize*2))
	fs := afero.NewMemMapFs()
	cfg := newPipelineConfig(t, ModeEncrypt, fs, "/wd", dev, key, iv, chunkSize)
	pipeline, err := NewPipeline(cfg)
	require.NoError(t, err)

	finalOffset, sparseChunks, err := pipeline.Run(dev.Size())
	require.NoError(t, err)
	require.Equal(t, dev.Size(), finalOffset)
	require.Equal(t, int64(0), sparseChunks)
}

func TestPipelineResumesFromStageFile(t *testing.T) {
	key := randomBytes(t, keySize)
	iv := randomBytes(t, ivSize)
	chunkSize := 64
	plaintext := randomBytes(t, chunkSize*3)

	fs := afero.NewMemMapFs()
	dev := newTestDevice(t, plaintext)
	cipher, err := NewCipherStream(ModeEncrypt, key, iv)
	require.NoError(t, err)

	// Simulate a crash that happened right after the stage file for the
	// first chunk was fsynced, but before the device write and the
	// offset-log advance.
	buf := make([]byte, chunkSize)
	_, err = dev.ReadAt(buf, 0)
	require.NoError(t, err)
	ciphertext0, err := cipher.Update(0, buf)
	require.NoError(t, err)

	log := logrus.New()
	log.SetOutput(bytes.NewBuffer(nil))
	stager := NewChunkStager(fs, "/wd", ModeEncrypt, log)
	require.NoError(t, stager.Stage(0, ciphertext0))

	cfg := newPipelineConfig(t, ModeEncrypt, fs, "/wd", dev, key, iv, chunkSize)
	pipeline, err := NewPipeline(cfg)
	require.NoError(t, err)

	_, _, err = pipeline.Run(0)
	require.NoError(t, err)

	result := readAllDevice(t, dev)
	require.Equal(t, ciphertext0, result[0:chunkSize], "resumed chunk must match what was staged before the crash")

	staged, err := stager.Lookup(0, chunkSize)
	require.NoError(t, err)
	require.Nil(t, staged, "stage file must be unlinked once its chunk is durably applied")
}

func TestPipelineDryRunStagesWithoutWritingDevice(t *testing.T) {
	key := randomBytes(t, keySize)
	iv := randomBytes(t, ivSize)
	chunkSize := 64
	plaintext := randomBytes(t, chunkSize*2)

	fs := afero.NewMemMapFs()
	dev := newTestDevice(t, plaintext)
	cfg := newPipelineConfig(t, ModeEncrypt, fs, "/wd", dev, key, iv, chunkSize)
	cfg.DryRun = true
	pipeline, err := NewPipeline(cfg)
	require.NoError(t, err)

	finalOffset, _, err := pipeline.Run(0)
	require.NoError(t, err)
	require.Equal(t, dev.Size(), finalOffset, "dry run still advances the offset log to completion")
	require.Equal(t, plaintext, readAllDevice(t, dev), "dry run must never write to the device")
}

func TestPipelineWritesFinalSidecarOnTrailingBytes(t *testing.T) {
	fs := afero.NewMemMapFs()
	cfg := newPipelineConfig(t, ModeEncrypt, fs, "/wd", newTestDevice(t, make([]byte, 0)), randomBytes(t, keySize), randomBytes(t, ivSize), 64)
	pipeline, err := NewPipeline(cfg)
	require.NoError(t, err)
	err = pipeline.writeFinalSidecar(128, []byte{1, 2, 3})
	require.NoError(t, err)

	data, err := afero.ReadFile(fs, filepath.Join("/wd", "enc_chunk-128.final"))
	require.NoError(t, err)
	require.Equal(t, []byte{1, 2, 3}, data)
}
