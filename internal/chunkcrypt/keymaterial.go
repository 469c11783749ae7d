package chunkcrypt

import (
	"errors"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/afero"
)

const (
	keyFileName = ".key"
	ivFileName  = ".iv"
	keySize     = 32
	ivSize      = 16
)

// KeyMaterial holds the immutable 32-byte key and 16-byte IV used for the
// whole run. It is created once on the first encrypt and loaded unchanged
// on every subsequent run.
type KeyMaterial struct {
	Key []byte
	IV  []byte
}

// KeyMaterialStore implements create-once, load-always persistence of
// KeyMaterial inside the workdir.
type KeyMaterialStore struct {
	fs  afero.Fs
	dir string
}

// NewKeyMaterialStore returns a store rooted at dir on fs.
func NewKeyMaterialStore(fs afero.Fs, dir string) *KeyMaterialStore {
	return &KeyMaterialStore{fs: fs, dir: dir}
}

// Ensure loads existing key material, or — when mode is Encrypt and either
// file is missing — generates fresh material from csprng and persists it
// before returning. Decrypt never fabricates key material.
func (s *KeyMaterialStore) Ensure(mode Mode, csprng io.Reader) (*KeyMaterial, error) {
	keyPath := filepath.Join(s.dir, keyFileName)
	ivPath := filepath.Join(s.dir, ivFileName)

	keyExists, err := afero.Exists(s.fs, keyPath)
	if err != nil {
		return nil, newErr(KindIO, err)
	}
	ivExists, err := afero.Exists(s.fs, ivPath)
	if err != nil {
		return nil, newErr(KindIO, err)
	}

	if !keyExists || !ivExists {
		if mode != ModeEncrypt {
			return nil, newErr(KindMissingKeyMaterial, errors.New("key material absent on decrypt"))
		}
		if err := s.create(keyPath, keySize, csprng); err != nil {
			return nil, err
		}
		if err := s.create(ivPath, ivSize, csprng); err != nil {
			return nil, err
		}
	}

	key, err := s.load(keyPath, keySize)
	if err != nil {
		return nil, err
	}
	iv, err := s.load(ivPath, ivSize)
	if err != nil {
		return nil, err
	}
	return &KeyMaterial{Key: key, IV: iv}, nil
}

func (s *KeyMaterialStore) create(path string, size int, csprng io.Reader) error {
	buf := make([]byte, size)
	if _, err := io.ReadFull(csprng, buf); err != nil {
		return newErr(KindIO, err)
	}
	f, err := s.fs.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return newErr(KindIO, err)
	}
	if _, err := f.Write(buf); err != nil {
		f.Close()
		return newErr(KindIO, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return newErr(KindIO, err)
	}
	return newErrIfNotNil(KindIO, f.Close())
}

func (s *KeyMaterialStore) load(path string, size int) ([]byte, error) {
	buf, err := afero.ReadFile(s.fs, path)
	if err != nil {
		return nil, newErr(KindIO, err)
	}
	if len(buf) != size {
		return nil, newErr(KindCorruptKeyMaterial, errors.New("unexpected key material size"))
	}
	return buf, nil
}

func newErrIfNotNil(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return newErr(kind, err)
}
