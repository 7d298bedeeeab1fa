// Package fingerprint identifies image content: exact identity by SHA-256 of the
// raw bytes and visual similarity by perceptual hashes.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
)

// Compute returns the hex SHA-256 of data. Two uploads are the same photo
// exactly when their fingerprints are equal.
func Compute(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// ComputeReader hashes a stream and returns the fingerprint with the byte count.
func ComputeReader(r io.Reader) (string, int64, error) {
	h := sha256.New()
	n, err := io.Copy(h, r)
	if err != nil {
		return "", n, fmt.Errorf("failed to hash content: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}
