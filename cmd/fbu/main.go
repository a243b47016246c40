package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/rmcgill/file-backup-utility/internal/app"
	"github.com/rmcgill/file-backup-utility/internal/config"
	"github.com/rmcgill/file-backup-utility/internal/cryptoutil"
	"github.com/rmcgill/file-backup-utility/internal/logging"
	"github.com/rmcgill/file-backup-utility/internal/manifest"
	"github.com/rmcgill/file-backup-utility/internal/notify"
	"github.com/rmcgill/file-backup-utility/internal/storage"
	"github.com/rmcgill/file-backup-utility/internal/util"
	"github.com/rmcgill/file-backup-utility/internal/version"
)

type rootFlags struct {
	ConfigPath string
	LogLevel   string
	LogFormat  string
}

type overrideFlags struct {
	SourcePaths   []string
	Storage       string
	LocalPath     string
	S3Endpoint    string
	S3Bucket      string
	S3AccessKey   string
	S3SecretKey   string
	S3Region      string
	S3UseSSL      string
	S3PathStyle   string
	Incremental   string
	Encrypt       bool
	EncryptionKey string
	KeyMode       string
	Compression   string
}

func main() {
	root := &rootFlags{}
	overrides := &overrideFlags{}

	rootCmd := &cobra.Command{
		Use:   "fbu",
		Short: "Incremental encrypted file backup to object storage",
	}

	rootCmd.PersistentFlags().StringVar(&root.ConfigPath, "config", "", "Path to config file (yaml/toml/json or .enc)")
	rootCmd.PersistentFlags().StringVar(&root.LogLevel, "log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&root.LogFormat, "log-format", "", "Log format (json, console)")

	rootCmd.PersistentFlags().StringSliceVar(&overrides.SourcePaths, "source", nil, "Source file(s) to back up")
	rootCmd.PersistentFlags().StringVar(&overrides.Storage, "storage", "", "Storage backend (local, s3)")
	rootCmd.PersistentFlags().StringVar(&overrides.LocalPath, "storage-path", "", "Local storage path")
	rootCmd.PersistentFlags().StringVar(&overrides.S3Endpoint, "s3-endpoint", "", "S3 endpoint (MinIO/OSS)")
	rootCmd.PersistentFlags().StringVar(&overrides.S3Bucket, "s3-bucket", "", "S3 bucket")
	rootCmd.PersistentFlags().StringVar(&overrides.S3AccessKey, "s3-access-key", "", "S3 access key")
	rootCmd.PersistentFlags().StringVar(&overrides.S3SecretKey, "s3-secret-key", "", "S3 secret key")
	rootCmd.PersistentFlags().StringVar(&overrides.S3Region, "s3-region", "", "S3 region")
	rootCmd.PersistentFlags().StringVar(&overrides.S3UseSSL, "s3-ssl", "", "Use SSL for S3 endpoint (true/false)")
	rootCmd.PersistentFlags().StringVar(&overrides.S3PathStyle, "s3-path-style", "", "Force path-style S3 (true/false)")
	rootCmd.PersistentFlags().StringVar(&overrides.Incremental, "incremental", "", "Skip unchanged files (true/false)")
	rootCmd.PersistentFlags().BoolVar(&overrides.Encrypt, "encrypt", false, "Enable encryption")
	rootCmd.PersistentFlags().StringVar(&overrides.EncryptionKey, "encryption-key", "", "Encryption key (base64 or hex)")
	rootCmd.PersistentFlags().StringVar(&overrides.KeyMode, "key-mode", "", "Object key mode (versioned, fixed)")
	rootCmd.PersistentFlags().StringVar(&overrides.Compression, "compression", "", "Compression (none/gzip/zstd)")

	rootCmd.AddCommand(newBackupCmd(root, overrides))
	rootCmd.AddCommand(newRestoreCmd(root, overrides))
	rootCmd.AddCommand(newListCmd(root, overrides))
	rootCmd.AddCommand(newValidateCmd(root, overrides))
	rootCmd.AddCommand(newKeygenCmd())
	rootCmd.AddCommand(newConfigCmd())
	rootCmd.AddCommand(newVersionCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newBackupCmd(root *rootFlags, overrides *overrideFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "backup",
		Short: "Back up configured files",
		RunE: func(cmd *cobra.Command, args []string) error {
			appSvc, cleanup, err := buildApp(root, overrides)
			if err != nil {
				return err
			}
			defer cleanup()

			ctx, cancel := context.WithTimeout(context.Background(), appSvc.Cfg.Global.OperationTimeout)
			defer cancel()

			var results []app.FileResult
			err = util.Retry(ctx, appSvc.Cfg.Backup.RetryCount, appSvc.Cfg.Backup.RetryBackoff, func() error {
				var runErr error
				results, runErr = appSvc.Backup(ctx)
				return runErr
			})
			if err != nil {
				return err
			}

			failed := 0
			for _, res := range results {
				if res.Status == app.StatusFailed {
					failed++
					fmt.Fprintf(os.Stderr, "FAILED\t%s\t%v\n", res.Path, res.Err)
					continue
				}
				fmt.Printf("%s\t%s\t%s\n", strings.ToUpper(string(res.Status)), res.Path, res.Key)
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d file(s) failed", failed, len(results))
			}
			return nil
		},
	}
}

func newRestoreCmd(root *rootFlags, overrides *overrideFlags) *cobra.Command {
	var key string
	var dest string

	cmd := &cobra.Command{
		Use:   "restore",
		Short: "Restore a backup (interactive unless --key is given)",
		RunE: func(cmd *cobra.Command, args []string) error {
			appSvc, cleanup, err := buildApp(root, overrides)
			if err != nil {
				return err
			}
			defer cleanup()

			ctx, cancel := context.WithTimeout(context.Background(), appSvc.Cfg.Global.OperationTimeout)
			defer cancel()

			if key != "" {
				if dest == "" {
					info, err := appSvc.Storage.Stat(ctx, key)
					if err != nil {
						return err
					}
					dest, err = appSvc.RestoreTo(ctx, info, appSvc.Cfg.Restore.Dir)
					if err != nil {
						return err
					}
				} else if err := appSvc.Restore(ctx, key, dest); err != nil {
					return err
				}
				fmt.Printf("restored %s\n", dest)
				return nil
			}

			items, err := appSvc.List(ctx)
			if err != nil {
				return err
			}
			obj, err := promptSelection(items)
			if err != nil {
				return err
			}
			destDir := appSvc.Cfg.Restore.Dir
			if dest != "" {
				destDir = dest
			}
			restored, err := appSvc.RestoreTo(ctx, obj, destDir)
			if err != nil {
				return err
			}
			fmt.Printf("restored %s\n", restored)
			return nil
		},
	}

	cmd.Flags().StringVar(&key, "key", "", "Backup object key to restore")
	cmd.Flags().StringVar(&dest, "dest", "", "Destination file (with --key) or directory")
	return cmd
}

// promptSelection is the interactive selection strategy. It stays out
// of the orchestrator so restore can be driven without console I/O.
func promptSelection(items []storage.ObjectInfo) (storage.ObjectInfo, error) {
	if len(items) == 0 {
		return storage.ObjectInfo{}, fmt.Errorf("no backups found")
	}
	fmt.Printf("Found %d backup(s):\n\n", len(items))
	fmt.Printf("%-4s %-60s %-12s %-20s %s\n", "#", "Key", "Size", "Modified", "Encrypted")
	for i, item := range items {
		enc := "no"
		if strings.EqualFold(storage.MetaValue(item.Metadata, storage.MetaEncrypted), "true") || strings.HasSuffix(item.Key, ".enc") {
			enc = "yes"
		}
		fmt.Printf("%-4d %-60s %-12d %-20s %s\n", i+1, item.Key, item.Size, item.Modified.Format(time.RFC3339), enc)
	}
	fmt.Print("\nSelect a backup number (or q to quit): ")

	scanner := bufio.NewScanner(os.Stdin)
	if !scanner.Scan() {
		return storage.ObjectInfo{}, fmt.Errorf("no selection made")
	}
	choice := strings.TrimSpace(scanner.Text())
	if strings.EqualFold(choice, "q") {
		return storage.ObjectInfo{}, fmt.Errorf("restore cancelled")
	}
	idx, err := strconv.Atoi(choice)
	if err != nil || idx < 1 || idx > len(items) {
		return storage.ObjectInfo{}, fmt.Errorf("invalid selection %q", choice)
	}
	return items[idx-1], nil
}

func newListCmd(root *rootFlags, overrides *overrideFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List available backups, most recent first",
		RunE: func(cmd *cobra.Command, args []string) error {
			appSvc, cleanup, err := buildApp(root, overrides)
			if err != nil {
				return err
			}
			defer cleanup()

			ctx, cancel := context.WithTimeout(context.Background(), appSvc.Cfg.Global.OperationTimeout)
			defer cancel()
			items, err := appSvc.List(ctx)
			if err != nil {
				return err
			}
			for _, item := range items {
				fmt.Printf("%s\t%d\t%s\n", item.Key, item.Size, item.Modified.Format(time.RFC3339))
			}
			return nil
		},
	}
}

func newValidateCmd(root *rootFlags, overrides *overrideFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate configuration and storage connectivity",
		RunE: func(cmd *cobra.Command, args []string) error {
			appSvc, cleanup, err := buildApp(root, overrides)
			if err != nil {
				return err
			}
			defer cleanup()

			ctx, cancel := context.WithTimeout(context.Background(), appSvc.Cfg.Global.OperationTimeout)
			defer cancel()
			if err := appSvc.Validate(ctx); err != nil {
				return err
			}
			fmt.Println("validation succeeded")
			return nil
		},
	}
}

func newKeygenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "keygen",
		Short: "Generate a new encryption key",
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := cryptoutil.GenerateKey()
			if err != nil {
				return err
			}
			fmt.Printf("FBU_BACKUP_ENCRYPTION_KEY=%s\n", key)
			return nil
		},
	}
}

func newConfigCmd() *cobra.Command {
	var input string
	var output string
	var key string

	cmd := &cobra.Command{
		Use:   "config",
		Short: "Config utilities",
	}

	encrypt := &cobra.Command{
		Use:   "encrypt",
		Short: "Encrypt a config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if input == "" || output == "" || key == "" {
				return fmt.Errorf("--input, --output, and --key are required")
			}
			return config.EncryptConfigFile(input, output, key)
		},
	}
	encrypt.Flags().StringVar(&input, "input", "", "Input config file")
	encrypt.Flags().StringVar(&output, "output", "", "Output encrypted config file")
	encrypt.Flags().StringVar(&key, "key", "", "Encryption key (base64 or hex)")

	cmd.AddCommand(encrypt)
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("fbu %s (commit %s, built %s)\n", version.Version, version.Commit, version.Date)
		},
	}
}

func buildApp(root *rootFlags, overrides *overrideFlags) (*app.App, func(), error) {
	cfg, err := config.Load(root.ConfigPath)
	if err != nil {
		return nil, nil, err
	}
	applyOverrides(cfg, root, overrides)
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}

	logger := logging.Configure(cfg.Global.LogLevel, cfg.Global.LogFormat)
	store, err := storage.New(cfg.Storage)
	if err != nil {
		return nil, nil, err
	}
	man, err := manifest.Open(cfg.Global.ManifestPath)
	if err != nil {
		return nil, nil, err
	}
	appSvc := app.New(cfg, store, man, logger, notify.FromConfig(cfg.Notifications))
	return appSvc, func() { _ = man.Close() }, nil
}

func applyOverrides(cfg *config.Config, root *rootFlags, overrides *overrideFlags) {
	if root.LogLevel != "" {
		cfg.Global.LogLevel = root.LogLevel
	}
	if root.LogFormat != "" {
		cfg.Global.LogFormat = root.LogFormat
	}

	if len(overrides.SourcePaths) > 0 {
		cfg.Source.Paths = overrides.SourcePaths
	}
	if overrides.Storage != "" {
		cfg.Storage.Backend = overrides.Storage
	}
	if overrides.LocalPath != "" {
		cfg.Storage.Local.Path = overrides.LocalPath
	}
	if overrides.S3Endpoint != "" {
		cfg.Storage.S3.Endpoint = overrides.S3Endpoint
	}
	if overrides.S3Bucket != "" {
		cfg.Storage.S3.Bucket = overrides.S3Bucket
	}
	if overrides.S3AccessKey != "" {
		cfg.Storage.S3.AccessKey = overrides.S3AccessKey
	}
	if overrides.S3SecretKey != "" {
		cfg.Storage.S3.SecretKey = overrides.S3SecretKey
	}
	if overrides.S3Region != "" {
		cfg.Storage.S3.Region = overrides.S3Region
	}
	if overrides.S3UseSSL != "" {
		cfg.Storage.S3.UseSSL = strings.EqualFold(overrides.S3UseSSL, "true") || overrides.S3UseSSL == "1"
	}
	if overrides.S3PathStyle != "" {
		cfg.Storage.S3.ForcePathStyle = strings.EqualFold(overrides.S3PathStyle, "true") || overrides.S3PathStyle == "1"
	}

	if overrides.Incremental != "" {
		cfg.Backup.Incremental = strings.EqualFold(overrides.Incremental, "true") || overrides.Incremental == "1"
	}
	if overrides.Encrypt {
		cfg.Backup.Encryption = true
	}
	if overrides.EncryptionKey != "" {
		cfg.Backup.EncryptionKey = overrides.EncryptionKey
	}
	if overrides.KeyMode != "" {
		cfg.Backup.KeyMode = strings.ToLower(overrides.KeyMode)
	}
	if overrides.Compression != "" {
		cfg.Backup.Compression = strings.ToLower(overrides.Compression)
	}

	cfg.Storage.Backend = strings.ToLower(cfg.Storage.Backend)
	cfg.Backup.Compression = strings.ToLower(cfg.Backup.Compression)
	cfg.Backup.KeyMode = strings.ToLower(cfg.Backup.KeyMode)
}
