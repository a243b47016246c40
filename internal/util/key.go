package util

import (
	"path"
	"path/filepath"
	"strings"
	"time"
)

var slugReplacer = strings.NewReplacer("/", "_", "\\", "_", ":", "_", " ", "_")

// Slug derives a key-safe identifier from a local source path. Two
// distinct source paths never collapse to the same slug unless they
// differ only in separator characters.
func Slug(sourcePath string) string {
	cleaned := strings.Trim(filepath.ToSlash(filepath.Clean(sourcePath)), "/")
	cleaned = strings.TrimPrefix(cleaned, "./")
	return slugReplacer.Replace(cleaned)
}

// ObjectKey constructs the remote key for a source file. Versioned
// mode qualifies every upload with a UTC timestamp so history is
// retained; fixed mode reuses a stable key per source path.
func ObjectKey(prefix, sourcePath, mode string, when time.Time, suffix string) string {
	parts := []string{}
	if prefix != "" {
		parts = append(parts, strings.Trim(prefix, "/"))
	}
	slug := Slug(sourcePath)
	base := path.Base(filepath.ToSlash(sourcePath))
	if mode == "fixed" {
		parts = append(parts, slug+suffix)
		return path.Join(parts...)
	}
	parts = append(parts, slug, when.UTC().Format("20060102T150405Z")+"_"+base+suffix)
	return path.Join(parts...)
}

// ObjectSuffix builds the extension chain recorded on an object key.
func ObjectSuffix(compressionExt string, encrypted bool) string {
	suffix := compressionExt
	if encrypted {
		suffix += ".enc"
	}
	return suffix
}
