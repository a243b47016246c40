// Package fingerprint computes content digests used for change
// detection. Digests identify changed files only; they carry no
// security guarantee beyond collision resistance.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
)

// chunkSize bounds memory use while hashing large files.
const chunkSize = 64 * 1024

// Reader streams r through SHA-256 and returns the hex digest.
func Reader(r io.Reader) (string, error) {
	h := sha256.New()
	buf := make([]byte, chunkSize)
	if _, err := io.CopyBuffer(h, r, buf); err != nil {
		return "", fmt.Errorf("fingerprint read: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// File hashes the file at path. The handle is released on every path.
func File(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	return Reader(f)
}
