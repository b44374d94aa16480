// Package cryptoutils provides the deterministic random source shared by the
// obfuscation passes. Two runs with the same seed yield the same stream, so
// obfuscated builds are reproducible.
package cryptoutils

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	"encoding/binary"
)

// CryptoUtils is a seeded stream of uniform words and bytes. The generator is
// AES-256 in CTR mode keyed by SHA-256 of the seed; the keystream is the
// output. It is deterministic, not hardened against an adversary who holds
// the seed.
type CryptoUtils struct {
	stream cipher.Stream
}

// New constructs a generator seeded from s.
func New(s string) *CryptoUtils {
	c := &CryptoUtils{}
	c.PRNGSeed(s)
	return c
}

// PRNGSeed resets the generator state from the seed string.
func (c *CryptoUtils) PRNGSeed(s string) {
	key := sha256.Sum256([]byte(s))
	block, err := aes.NewCipher(key[:])
	if err != nil {
		panic(err)
	}
	iv := make([]byte, aes.BlockSize)
	c.stream = cipher.NewCTR(block, iv)
}

// GetBytes fills buf with the next keystream bytes.
func (c *CryptoUtils) GetBytes(buf []byte) {
	for i := range buf {
		buf[i] = 0
	}
	c.stream.XORKeyStream(buf, buf)
}

// GetUint32 returns the next 32-bit word.
func (c *CryptoUtils) GetUint32() uint32 {
	var b [4]byte
	c.GetBytes(b[:])
	return binary.LittleEndian.Uint32(b[:])
}
