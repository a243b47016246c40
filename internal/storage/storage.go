package storage

import (
	"context"
	"io"
	"strings"
	"time"
)

// User-metadata keys attached to every uploaded object. Restore reads
// them back to decide whether decryption and decompression apply, so
// a backup remains restorable without the local manifest.
const (
	MetaFingerprint = "fingerprint"
	MetaEncrypted   = "encrypted"
	MetaCompression = "compression"
	MetaSource      = "source"
)

type ObjectInfo struct {
	Key      string
	Size     int64
	Modified time.Time
	ETag     string
	Metadata map[string]string
}

type Storage interface {
	Put(ctx context.Context, key string, reader io.Reader, size int64, metadata map[string]string) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Stat(ctx context.Context, key string) (ObjectInfo, error)
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
}

// MetaValue looks up a user-metadata key tolerating the header
// canonicalization S3 clients apply (title case, X-Amz-Meta- prefix).
func MetaValue(metadata map[string]string, key string) string {
	for k, v := range metadata {
		name := strings.TrimPrefix(strings.ToLower(k), "x-amz-meta-")
		if name == key {
			return v
		}
	}
	return ""
}
