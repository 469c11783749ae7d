package chunkcrypt

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/binary"
	"errors"
)

// CipherStream is the contract over a block cipher in CBC mode with
// padding disabled. Every Update call must return output of exactly the
// same length as its input; Finalize must return no trailing bytes for
// well-formed, block-aligned input.
//
// This implementation resolves the open question in spec.md §9: rather
// than chaining CBC state across the whole device (which would make
// stage-resume incorrect, since the resuming process never replayed the
// chunk whose ciphertext is already on disk), each chunk is encrypted
// independently under a CBC instance re-seeded from a per-chunk IV
// derived from the immutable base IV and the chunk's offset. Sparse
// chunks simply never call Update, so they never touch the cipher at
// all — satisfying invariant 5 in spec.md §3 trivially, since there is
// no cross-chunk state to get out of sync in the first place.
type CipherStream struct {
	mode  Mode
	block cipher.Block
	iv    []byte
}

// NewCipherStream builds an AES-256-CBC stream for mode using key and iv.
// key must be 32 bytes and iv must be 16 bytes.
func NewCipherStream(mode Mode, key, iv []byte) (*CipherStream, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, newErr(KindCipher, err)
	}
	if block.BlockSize() != 16 {
		return nil, newErr(KindConfigMismatch, errors.New("cipher block size is not 16"))
	}
	if len(iv) != block.BlockSize() {
		return nil, newErr(KindCipher, errors.New("iv size does not match cipher block size"))
	}
	return &CipherStream{mode: mode, block: block, iv: iv}, nil
}

// BlockSize returns the underlying cipher's block size.
func (c *CipherStream) BlockSize() int { return c.block.BlockSize() }

// deriveChunkIV produces the per-chunk IV: the base IV XORed with the
// chunk's big-endian offset broadcast across the IV's bytes. It is
// deterministic given (baseIV, offset), which is exactly what lets
// encrypt and decrypt — run in entirely separate processes, possibly
// years apart — agree on the same per-chunk keystream without either
// side replaying any prior chunk's state.
func deriveChunkIV(baseIV []byte, offset int64) []byte {
	var offBuf [8]byte
	binary.BigEndian.PutUint64(offBuf[:], uint64(offset))
	chunkIV := make([]byte, len(baseIV))
	for i := range chunkIV {
		chunkIV[i] = baseIV[i] ^ offBuf[i%8]
	}
	return chunkIV
}

// Update transforms a single chunk at offset. input must be a whole
// multiple of the block size; output is always the same length as input.
func (c *CipherStream) Update(offset int64, input []byte) ([]byte, error) {
	bs := c.block.BlockSize()
	if len(input)%bs != 0 {
		return nil, newErrAt(KindCipher, offset, errors.New("input is not a multiple of the block size"))
	}
	iv := deriveChunkIV(c.iv, offset)
	var bm cipher.BlockMode
	if c.mode == ModeEncrypt {
		bm = cipher.NewCBCEncrypter(c.block, iv)
	} else {
		bm = cipher.NewCBCDecrypter(c.block, iv)
	}
	output := make([]byte, len(input))
	bm.CryptBlocks(output, input)
	if len(output) != len(input) {
		return nil, newErrAt(KindCipher, offset, errors.New("output length does not match input length"))
	}
	return output, nil
}

// Finalize reports any trailing bytes left over after the last chunk.
// Because each chunk is transformed independently with no carried CBC
// state, well-formed block-aligned input always finalizes to nothing;
// this always returns an empty slice, but the signature is kept so the
// pipeline can still treat a hypothetical non-empty result as the hard
// error spec.md §9 calls for.
func (c *CipherStream) Finalize() ([]byte, error) {
	return nil, nil
}
