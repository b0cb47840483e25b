// Package sha256 digests archived artifacts.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/JakeFAU/reverse-image-archiver/internal/capture"
)

var _ capture.Hasher = (*Hasher)(nil)

// Hasher implements capture.Hasher using SHA-256.
type Hasher struct{}

// New returns a SHA-256 hasher.
func New() *Hasher {
	return &Hasher{}
}

// Hash returns the lowercase hex SHA-256 digest of data.
func (h *Hasher) Hash(data []byte) (string, error) {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
