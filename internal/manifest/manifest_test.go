package manifest

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPutGetRoundTrip(t *testing.T) {
	store, err := Open(filepath.Join(t.TempDir(), "manifest.db"))
	require.NoError(t, err)
	defer store.Close()

	entry := Entry{
		Path:        "/var/log/server.log",
		Fingerprint: "831de44d5854f4c38209bd2e091a7925731fc70514afea3fd548147985f87ad6",
		Key:         "backups/var_log_server.log/20250101T000000Z_server.log",
		Encrypted:   true,
		SizeBytes:   10,
		UploadedAt:  time.Now().UTC().Truncate(time.Second),
	}
	require.NoError(t, store.Put(entry))

	got, err := store.Get(entry.Path)
	require.NoError(t, err)
	require.Equal(t, entry, *got)
}

func TestGetMissingReturnsNotFound(t *testing.T) {
	store, err := Open(filepath.Join(t.TempDir(), "manifest.db"))
	require.NoError(t, err)
	defer store.Close()

	_, err = store.Get("/no/such/path")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "manifest.db")

	store, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, store.Put(Entry{Path: "a.log", Fingerprint: "abc", Key: "k1"}))
	require.NoError(t, store.Close())

	reopened, err := Open(path)
	require.NoError(t, err)
	defer reopened.Close()

	got, err := reopened.Get("a.log")
	require.NoError(t, err)
	require.Equal(t, "abc", got.Fingerprint)
}

func TestDeleteAndAll(t *testing.T) {
	store, err := Open(filepath.Join(t.TempDir(), "manifest.db"))
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.Put(Entry{Path: "a.log", Fingerprint: "1"}))
	require.NoError(t, store.Put(Entry{Path: "b.log", Fingerprint: "2"}))

	entries, err := store.All()
	require.NoError(t, err)
	require.Len(t, entries, 2)

	require.NoError(t, store.Delete("a.log"))
	_, err = store.Get("a.log")
	require.ErrorIs(t, err, ErrNotFound)
}
