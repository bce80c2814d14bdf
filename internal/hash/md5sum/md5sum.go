// Package md5sum provides MD5 hashing utilities.
//
// MD5 is used for content checksums and deterministic chunk IDs, not for
// anything security-sensitive; collisions only cost a redundant re-embed.
package md5sum

import (
	"crypto/md5" //nolint:gosec // change detection, not cryptography
	"encoding/hex"
)

// Hasher implements crawler.Hasher using MD5.
type Hasher struct{}

// New returns an MD5 hasher.
func New() *Hasher {
	return &Hasher{}
}

// Hash hashes the input and returns a hex digest.
func (h *Hasher) Hash(data []byte) (string, error) {
	sum := md5.Sum(data) //nolint:gosec // see package doc
	return hex.EncodeToString(sum[:]), nil
}
