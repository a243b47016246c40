package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/rmcgill/file-backup-utility/internal/cryptoutil"
	"github.com/rmcgill/file-backup-utility/internal/errs"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !cfg.Backup.Incremental {
		t.Fatalf("incremental should default to true")
	}
	if cfg.Backup.KeyMode != KeyModeVersioned {
		t.Fatalf("unexpected key mode: %s", cfg.Backup.KeyMode)
	}
	if cfg.Storage.Backend != "local" {
		t.Fatalf("unexpected backend: %s", cfg.Storage.Backend)
	}
	if cfg.Global.OperationTimeout == 0 {
		t.Fatalf("operation timeout default missing")
	}
}

func TestValidateMissingS3Credentials(t *testing.T) {
	cfg := &Config{
		Backup:  BackupConfig{KeyMode: KeyModeVersioned},
		Storage: StorageConfig{Backend: "s3", S3: S3Store{Endpoint: "minio:9000", Bucket: "backups"}},
	}
	err := cfg.Validate()
	if err == nil {
		t.Fatalf("expected error for missing credentials")
	}
	if !errors.Is(err, errs.ErrConfig) {
		t.Fatalf("expected ErrConfig, got: %v", err)
	}
}

func TestValidateEncryptionWithoutKey(t *testing.T) {
	cfg := &Config{
		Backup: BackupConfig{KeyMode: KeyModeVersioned, Encryption: true},
	}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected error for enabled encryption without key")
	}
}

func TestValidateBadKeyMode(t *testing.T) {
	cfg := &Config{Backup: BackupConfig{KeyMode: "sometimes"}}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected error for bad key mode")
	}
}

func TestLoadEncryptedConfig(t *testing.T) {
	dir := t.TempDir()
	plainPath := filepath.Join(dir, "fbu.yaml")
	encPath := filepath.Join(dir, "fbu.yaml.enc")

	body := "storage:\n  backend: local\n  local:\n    path: /srv/backups\n"
	if err := os.WriteFile(plainPath, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	key, err := cryptoutil.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	if err := EncryptConfigFile(plainPath, encPath, key); err != nil {
		t.Fatalf("encrypt config: %v", err)
	}

	t.Setenv("FBU_CONFIG_KEY", key)
	cfg, err := Load(encPath)
	if err != nil {
		t.Fatalf("load encrypted config: %v", err)
	}
	if cfg.Storage.Local.Path != "/srv/backups" {
		t.Fatalf("unexpected local path: %s", cfg.Storage.Local.Path)
	}
}

func TestLoadEncryptedConfigWithoutKey(t *testing.T) {
	dir := t.TempDir()
	plainPath := filepath.Join(dir, "fbu.yaml")
	encPath := filepath.Join(dir, "fbu.yaml.enc")
	if err := os.WriteFile(plainPath, []byte("storage:\n  backend: local\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	key, err := cryptoutil.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	if err := EncryptConfigFile(plainPath, encPath, key); err != nil {
		t.Fatalf("encrypt config: %v", err)
	}

	t.Setenv("FBU_CONFIG_KEY", "")
	if _, err := Load(encPath); err == nil {
		t.Fatalf("expected error when FBU_CONFIG_KEY is unset")
	}
}
