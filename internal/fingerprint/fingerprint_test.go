package fingerprint

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

func TestReaderKnownDigest(t *testing.T) {
	digest, err := Reader(bytes.NewReader([]byte("HELLO\nLOG\n")))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := "831de44d5854f4c38209bd2e091a7925731fc70514afea3fd548147985f87ad6"
	if digest != want {
		t.Fatalf("unexpected digest: %s", digest)
	}
}

func TestFileDeterministic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "server.log")
	if err := os.WriteFile(path, []byte("HELLO\nLOG\n"), 0o600); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	first, err := File(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := File(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first != second {
		t.Fatalf("digest not deterministic: %s vs %s", first, second)
	}
}

func TestFileMissing(t *testing.T) {
	if _, err := File(filepath.Join(t.TempDir(), "absent")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}
