package chunkcrypt

import (
	"encoding/binary"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
)

func TestSparseLogCursorEmptyLog(t *testing.T) {
	fs := afero.NewMemMapFs()
	log := NewSparseLog(fs, "/wd", ModeDecrypt)

	cursor, err := log.OpenCursor(1 << 20)
	require.NoError(t, err)
	require.False(t, cursor.IsSparse(0))
}

func TestSparseLogCursorSequentialScan(t *testing.T) {
	fs := afero.NewMemMapFs()
	enc := NewSparseLog(fs, "/wd", ModeEncrypt)
	require.NoError(t, enc.Append(0))
	require.NoError(t, enc.Append(8192))

	dec := NewSparseLog(fs, "/wd", ModeDecrypt)
	cursor, err := dec.OpenCursor(16384)
	require.NoError(t, err)

	require.True(t, cursor.IsSparse(0))
	require.False(t, cursor.IsSparse(4096))
	require.True(t, cursor.IsSparse(8192))
	require.False(t, cursor.IsSparse(12288))
}

func TestSparseLogSameModeNameDuringEncryptAndDecrypt(t *testing.T) {
	require.Equal(t, "enc_sparse", sparseLogFileName(ModeEncrypt))
	require.Equal(t, "enc_sparse", sparseLogFileName(ModeDecrypt))
}

func TestSparseLogRejectsNonAscendingEntries(t *testing.T) {
	fs := afero.NewMemMapFs()
	buf := make([]byte, 16)
	binary.BigEndian.PutUint64(buf[0:8], 4096)
	binary.BigEndian.PutUint64(buf[8:16], 4096)
	require.NoError(t, afero.WriteFile(fs, "/wd/enc_sparse", buf, 0o600))

	log := NewSparseLog(fs, "/wd", ModeEncrypt)
	_, err := log.OpenCursor(1 << 20)
	require.Error(t, err)
	var cerr *Error
	require.ErrorAs(t, err, &cerr)
	require.Equal(t, KindCorruptSparseLog, cerr.Kind)
}

func TestSparseLogRejectsEntryBeyondDeviceSize(t *testing.T) {
	fs := afero.NewMemMapFs()
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, 1<<20)
	require.NoError(t, afero.WriteFile(fs, "/wd/enc_sparse", buf, 0o600))

	log := NewSparseLog(fs, "/wd", ModeEncrypt)
	_, err := log.OpenCursor(4096)
	require.Error(t, err)
	var cerr *Error
	require.ErrorAs(t, err, &cerr)
	require.Equal(t, KindCorruptSparseLog, cerr.Kind)
}
