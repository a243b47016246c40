package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/rmcgill/file-backup-utility/internal/compress"
	"github.com/rmcgill/file-backup-utility/internal/cryptoutil"
	"github.com/rmcgill/file-backup-utility/internal/errs"
)

const (
	envPrefix = "FBU"
)

// Load reads configuration from a file (optionally encrypted), env vars, and defaults.
func Load(path string) (*Config, error) {
	vp := viper.New()
	vp.SetEnvPrefix(envPrefix)
	vp.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	vp.AutomaticEnv()

	setDefaults(vp)

	resolved, err := resolveConfigPath(path)
	if err != nil {
		return nil, err
	}

	if resolved != "" {
		data, readErr := os.ReadFile(resolved)
		if readErr != nil {
			return nil, fmt.Errorf("read config: %w", readErr)
		}
		if isEncryptedPath(resolved) {
			if typ := configTypeFromPath(resolved); typ != "" {
				vp.SetConfigType(typ)
			}
			key := os.Getenv("FBU_CONFIG_KEY")
			if key == "" {
				key = vp.GetString("global.config_passphrase")
			}
			if key == "" {
				return nil, errors.New("config file is encrypted but FBU_CONFIG_KEY is not set")
			}
			plain, decErr := decryptConfig(data, key)
			if decErr != nil {
				return nil, fmt.Errorf("decrypt config: %w", decErr)
			}
			if err := vp.ReadConfig(bytes.NewReader(plain)); err != nil {
				return nil, fmt.Errorf("parse config: %w", err)
			}
		} else {
			vp.SetConfigFile(resolved)
			if err := vp.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := vp.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	expandEnv(&cfg)
	applyPostLoadDefaults(&cfg)
	return &cfg, nil
}

// Validate rejects broken configuration before any I/O is attempted.
func (cfg *Config) Validate() error {
	switch cfg.Backup.KeyMode {
	case KeyModeVersioned, KeyModeFixed:
	default:
		return errs.Config("invalid key_mode %q (expected versioned or fixed)", cfg.Backup.KeyMode)
	}
	switch cfg.Backup.Compression {
	case "", compress.TypeNone, compress.TypeGzip, compress.TypeZstd:
	default:
		return errs.Config("invalid compression %q", cfg.Backup.Compression)
	}
	if cfg.Backup.Encryption {
		if cfg.Backup.EncryptionKey == "" {
			return errs.Config("encryption is enabled but encryption_key is empty")
		}
		if _, err := cryptoutil.ParseKey(cfg.Backup.EncryptionKey); err != nil {
			return errs.Config("invalid encryption_key: %v", err)
		}
	}
	if cfg.Storage.Backend == "s3" {
		if cfg.Storage.S3.Endpoint == "" || cfg.Storage.S3.Bucket == "" {
			return errs.Config("s3 endpoint and bucket are required")
		}
		if cfg.Storage.S3.AccessKey == "" || cfg.Storage.S3.SecretKey == "" {
			return errs.Config("s3 access_key and secret_key are required")
		}
	}
	return nil
}

func resolveConfigPath(path string) (string, error) {
	if path != "" {
		return path, nil
	}
	if envPath := os.Getenv("FBU_CONFIG"); envPath != "" {
		return envPath, nil
	}

	candidates := []string{
		"fbu.yaml",
		"fbu.yml",
		"fbu.toml",
		"fbu.json",
	}
	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			return c, nil
		}
	}

	configDir, err := os.UserConfigDir()
	if err == nil {
		base := filepath.Join(configDir, "fbu")
		for _, c := range candidates {
			p := filepath.Join(base, c)
			if _, err := os.Stat(p); err == nil {
				return p, nil
			}
		}
		for _, c := range []string{"fbu.yaml.enc", "fbu.yml.enc", "fbu.toml.enc"} {
			p := filepath.Join(base, c)
			if _, err := os.Stat(p); err == nil {
				return p, nil
			}
		}
	}

	return "", nil
}

func isEncryptedPath(path string) bool {
	return strings.HasSuffix(path, ".enc") || strings.HasSuffix(path, ".encrypted")
}

func configTypeFromPath(path string) string {
	switch {
	case strings.HasSuffix(path, ".toml") || strings.HasSuffix(path, ".toml.enc") || strings.HasSuffix(path, ".toml.encrypted"):
		return "toml"
	case strings.HasSuffix(path, ".json") || strings.HasSuffix(path, ".json.enc") || strings.HasSuffix(path, ".json.encrypted"):
		return "json"
	default:
		return "yaml"
	}
}

func setDefaults(vp *viper.Viper) {
	vp.SetDefault("global.log_level", "info")
	vp.SetDefault("global.log_format", "json")
	vp.SetDefault("global.manifest_path", filepath.Join(".fbu", "manifest.db"))
	vp.SetDefault("global.operation_timeout", "1h")
	vp.SetDefault("backup.incremental", true)
	vp.SetDefault("backup.compression", "none")
	vp.SetDefault("backup.key_mode", KeyModeVersioned)
	vp.SetDefault("backup.retry_count", 1)
	vp.SetDefault("backup.retry_backoff", "10s")
	vp.SetDefault("restore.dir", "restored")
	vp.SetDefault("storage.backend", "local")
	vp.SetDefault("storage.local.path", "./backups")
	vp.SetDefault("schedule.timezone", "")
}

func applyPostLoadDefaults(cfg *Config) {
	if cfg.Backup.RetryBackoff == 0 {
		cfg.Backup.RetryBackoff = 10 * time.Second
	}
	if cfg.Global.OperationTimeout == 0 {
		cfg.Global.OperationTimeout = time.Hour
	}
}

func expandEnv(cfg *Config) {
	cfg.Backup.EncryptionKey = os.ExpandEnv(cfg.Backup.EncryptionKey)
	cfg.Storage.S3.AccessKey = os.ExpandEnv(cfg.Storage.S3.AccessKey)
	cfg.Storage.S3.SecretKey = os.ExpandEnv(cfg.Storage.S3.SecretKey)
	cfg.Storage.S3.SessionToken = os.ExpandEnv(cfg.Storage.S3.SessionToken)
	for i := range cfg.Notifications.Webhooks {
		cfg.Notifications.Webhooks[i].URL = os.ExpandEnv(cfg.Notifications.Webhooks[i].URL)
	}
}

func decryptConfig(ciphertext []byte, key string) ([]byte, error) {
	parsed, err := cryptoutil.ParseKey(key)
	if err != nil {
		return nil, err
	}
	return cryptoutil.DecryptConfig(ciphertext, parsed)
}
