// Package manifest persists the local record of what was last
// uploaded, keyed by source path. It survives process restarts so
// incremental comparison works across separate scheduled runs.
package manifest

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"
)

const entriesBucket = "entries"

var ErrNotFound = errors.New("manifest entry not found")

// Entry records one tracked source file. Fingerprint always reflects
// the plaintext content, even when the stored object is encrypted.
type Entry struct {
	Path        string    `json:"path"`
	Fingerprint string    `json:"fingerprint"`
	Key         string    `json:"key"`
	Encrypted   bool      `json:"encrypted"`
	Compression string    `json:"compression,omitempty"`
	SizeBytes   int64     `json:"size_bytes"`
	UploadedAt  time.Time `json:"uploaded_at"`
}

type Store struct {
	db *bbolt.DB
}

// Open creates or opens the manifest database at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("create manifest dir: %w", err)
	}
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open manifest db: %w", err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(entriesBucket))
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init manifest bucket: %w", err)
	}
	return &Store{db: db}, nil
}

// Get returns the entry for a source path, or ErrNotFound.
func (s *Store) Get(path string) (*Entry, error) {
	var entry *Entry
	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(entriesBucket))
		if bucket == nil {
			return ErrNotFound
		}
		raw := bucket.Get([]byte(path))
		if raw == nil {
			return ErrNotFound
		}
		var e Entry
		if err := json.Unmarshal(raw, &e); err != nil {
			return fmt.Errorf("decode manifest entry %s: %w", path, err)
		}
		entry = &e
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// Put writes or replaces the entry for entry.Path.
func (s *Store) Put(entry Entry) error {
	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode manifest entry %s: %w", entry.Path, err)
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(entriesBucket)).Put([]byte(entry.Path), raw)
	})
}

// Delete removes the entry for a source path if present.
func (s *Store) Delete(path string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(entriesBucket)).Delete([]byte(path))
	})
}

// All returns every entry, in key order.
func (s *Store) All() ([]Entry, error) {
	var entries []Entry
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(entriesBucket)).ForEach(func(_, raw []byte) error {
			var e Entry
			if err := json.Unmarshal(raw, &e); err != nil {
				return err
			}
			entries = append(entries, e)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}
