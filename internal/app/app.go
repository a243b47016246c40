// Package app wires the backup and restore orchestrators. Each file
// is processed to completion before the next begins; failures of one
// file never abort the rest of a run.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/rmcgill/file-backup-utility/internal/compress"
	"github.com/rmcgill/file-backup-utility/internal/config"
	"github.com/rmcgill/file-backup-utility/internal/cryptoutil"
	"github.com/rmcgill/file-backup-utility/internal/errs"
	"github.com/rmcgill/file-backup-utility/internal/fingerprint"
	"github.com/rmcgill/file-backup-utility/internal/lock"
	"github.com/rmcgill/file-backup-utility/internal/manifest"
	"github.com/rmcgill/file-backup-utility/internal/notify"
	"github.com/rmcgill/file-backup-utility/internal/progress"
	"github.com/rmcgill/file-backup-utility/internal/storage"
	"github.com/rmcgill/file-backup-utility/internal/util"
)

type App struct {
	Cfg      *config.Config
	Storage  storage.Storage
	Manifest *manifest.Store
	Log      zerolog.Logger
	Notifier notify.Notifier
}

func New(cfg *config.Config, store storage.Storage, man *manifest.Store, log zerolog.Logger, notifier notify.Notifier) *App {
	return &App{Cfg: cfg, Storage: store, Manifest: man, Log: log, Notifier: notifier}
}

type Status string

const (
	StatusUploaded Status = "uploaded"
	StatusSkipped  Status = "skipped"
	StatusFailed   Status = "failed"
)

// FileResult reports the outcome of a single file within a run.
type FileResult struct {
	Path   string
	Key    string
	Status Status
	Entry  *manifest.Entry
	Err    error
}

// ShouldUpload is the incremental decision policy. It returns false
// only when incremental mode is on, a prior entry exists, its
// fingerprint equals the current one, and the encryption setting is
// unchanged. Every ambiguous state uploads.
func ShouldUpload(entry *manifest.Entry, fp string, incremental, encrypt bool) bool {
	if !incremental || entry == nil {
		return true
	}
	return entry.Fingerprint != fp || entry.Encrypted != encrypt
}

// Backup processes every configured source path. Per-file failures
// are recorded in the returned results; only configuration, lock,
// and window problems abort the whole run.
func (a *App) Backup(ctx context.Context) ([]FileResult, error) {
	start := time.Now()
	var results []FileResult
	var opErr error
	defer func() {
		a.notifyRun(ctx, "backup", start, results, opErr)
	}()

	if len(a.Cfg.Source.Paths) == 0 {
		opErr = errs.Config("no source paths configured")
		return nil, opErr
	}
	if err := a.Cfg.Validate(); err != nil {
		opErr = err
		return nil, err
	}

	guard, err := lock.Acquire(a.Cfg.Global.LockFile)
	if err != nil {
		opErr = err
		return nil, err
	}
	defer guard.Release()

	ok, err := util.InWindow(time.Now(), a.Cfg.Schedule.WindowStart, a.Cfg.Schedule.WindowEnd, a.Cfg.Schedule.Timezone)
	if err != nil {
		opErr = err
		return nil, err
	}
	if !ok {
		opErr = fmt.Errorf("current time is outside configured backup window")
		return nil, opErr
	}

	for _, src := range a.Cfg.Source.Paths {
		res := a.BackupFile(ctx, src)
		if res.Err != nil {
			a.Log.Error().Err(res.Err).Str("path", res.Path).Str("key", res.Key).Msg("backup failed for file")
		} else {
			a.Log.Info().Str("path", res.Path).Str("key", res.Key).Str("status", string(res.Status)).Msg("backup file done")
		}
		results = append(results, res)
	}
	return results, nil
}

// BackupFile fingerprints one file, decides whether to upload, runs
// the compress/encrypt/upload pipeline, and persists the manifest
// entry only after the upload is confirmed.
func (a *App) BackupFile(ctx context.Context, src string) FileResult {
	res := FileResult{Path: src, Status: StatusFailed}

	fp, err := fingerprint.File(src)
	if err != nil {
		res.Err = errs.LocalIO(err)
		return res
	}

	entry, err := a.Manifest.Get(src)
	if err != nil && !errors.Is(err, manifest.ErrNotFound) {
		res.Err = fmt.Errorf("read manifest: %w", err)
		return res
	}

	if !ShouldUpload(entry, fp, a.Cfg.Backup.Incremental, a.Cfg.Backup.Encryption) {
		a.Log.Debug().Str("path", src).Str("fingerprint", fp).Msg("content unchanged, skipping upload")
		res.Status = StatusSkipped
		res.Key = entry.Key
		res.Entry = entry
		return res
	}

	var keyBytes []byte
	if a.Cfg.Backup.Encryption {
		keyBytes, err = cryptoutil.ParseKey(a.Cfg.Backup.EncryptionKey)
		if err != nil {
			res.Err = errs.Config("invalid encryption_key: %v", err)
			return res
		}
	}

	suffix := util.ObjectSuffix(compress.Extension(a.Cfg.Backup.Compression), a.Cfg.Backup.Encryption)
	key := util.ObjectKey(a.Cfg.Storage.Prefix, src, a.Cfg.Backup.KeyMode, time.Now(), suffix)
	res.Key = key

	file, err := os.Open(src)
	if err != nil {
		res.Err = errs.LocalIO(err)
		return res
	}
	defer file.Close()
	stat, err := file.Stat()
	if err != nil {
		res.Err = errs.LocalIO(err)
		return res
	}

	metadata := map[string]string{
		storage.MetaFingerprint: fp,
		storage.MetaEncrypted:   fmt.Sprintf("%t", a.Cfg.Backup.Encryption),
		storage.MetaSource:      filepath.ToSlash(src),
	}
	if a.Cfg.Backup.Compression != "" && a.Cfg.Backup.Compression != compress.TypeNone {
		metadata[storage.MetaCompression] = a.Cfg.Backup.Compression
	}

	meter := progress.NewMeter(a.Log, "upload "+path.Base(filepath.ToSlash(src)), stat.Size())

	pipeReader, pipeWriter := io.Pipe()
	eg, egCtx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		defer pipeReader.Close()
		if err := a.Storage.Put(egCtx, key, pipeReader, -1, metadata); err != nil {
			return errs.Remote(err)
		}
		return nil
	})

	eg.Go(func() error {
		// Encryption is the outermost wire layer so restore can
		// decrypt before decompressing.
		writer := io.Writer(pipeWriter)
		var closers []io.Closer
		if a.Cfg.Backup.Encryption {
			encWriter, err := cryptoutil.EncryptWriter(writer, keyBytes)
			if err != nil {
				_ = pipeWriter.CloseWithError(err)
				return err
			}
			writer = encWriter
			closers = append(closers, encWriter)
		}
		if a.Cfg.Backup.Compression != "" && a.Cfg.Backup.Compression != compress.TypeNone {
			compWriter, err := compress.WrapWriter(a.Cfg.Backup.Compression, writer)
			if err != nil {
				_ = pipeWriter.CloseWithError(err)
				return err
			}
			writer = compWriter
			closers = append(closers, compWriter)
		}
		if _, err := io.Copy(writer, meter.Reader(file)); err != nil {
			_ = pipeWriter.CloseWithError(err)
			return errs.LocalIO(err)
		}
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i].Close(); err != nil {
				_ = pipeWriter.CloseWithError(err)
				return err
			}
		}
		return pipeWriter.Close()
	})

	if err := eg.Wait(); err != nil {
		res.Err = err
		return res
	}

	newEntry := manifest.Entry{
		Path:        src,
		Fingerprint: fp,
		Key:         key,
		Encrypted:   a.Cfg.Backup.Encryption,
		Compression: metadata[storage.MetaCompression],
		SizeBytes:   meter.Transferred(),
		UploadedAt:  time.Now().UTC(),
	}
	if err := a.Manifest.Put(newEntry); err != nil {
		// The object landed; a stale manifest only means the next run
		// re-uploads, which is the safe direction.
		a.Log.Warn().Err(err).Str("path", src).Msg("failed to persist manifest entry")
	}
	res.Status = StatusUploaded
	res.Entry = &newEntry
	return res
}

// List returns the remote backups under the configured prefix, most
// recent first.
func (a *App) List(ctx context.Context) ([]storage.ObjectInfo, error) {
	items, err := a.Storage.List(ctx, a.Cfg.Storage.Prefix)
	if err != nil {
		return nil, errs.Remote(err)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Modified.After(items[j].Modified) })
	return items, nil
}

// Restore downloads the object at key, reverses encryption and
// compression as flagged in its metadata, and writes the plaintext to
// destPath. It never touches the backup manifest.
func (a *App) Restore(ctx context.Context, key, destPath string) error {
	start := time.Now()
	var opErr error
	defer func() {
		a.notifyRestore(ctx, key, destPath, start, opErr)
	}()

	guard, err := lock.Acquire(a.Cfg.Global.LockFile)
	if err != nil {
		opErr = err
		return err
	}
	defer guard.Release()

	info, err := a.Storage.Stat(ctx, key)
	if err != nil {
		opErr = errs.Remote(err)
		return opErr
	}

	encrypted := objectEncrypted(info)
	if encrypted && a.Cfg.Backup.EncryptionKey == "" {
		opErr = errs.Config("backup %s is encrypted but no encryption_key is configured", key)
		return opErr
	}

	tmp, err := os.CreateTemp(filepath.Dir(destPath), ".fbu-restore-*")
	if err != nil {
		// Destination directory may not exist yet; create and retry.
		if mkErr := os.MkdirAll(filepath.Dir(destPath), 0o750); mkErr != nil {
			opErr = errs.LocalIO(mkErr)
			return opErr
		}
		tmp, err = os.CreateTemp(filepath.Dir(destPath), ".fbu-restore-*")
		if err != nil {
			opErr = errs.LocalIO(err)
			return opErr
		}
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if err := a.download(ctx, key, info.Size, tmp); err != nil {
		_ = tmp.Close()
		opErr = err
		return err
	}
	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		_ = tmp.Close()
		opErr = errs.LocalIO(err)
		return opErr
	}
	defer tmp.Close()

	payload := io.Reader(tmp)
	if encrypted {
		keyBytes, err := cryptoutil.ParseKey(a.Cfg.Backup.EncryptionKey)
		if err != nil {
			opErr = errs.Config("invalid encryption_key: %v", err)
			return opErr
		}
		payload, err = cryptoutil.DecryptReader(payload, keyBytes)
		if err != nil {
			opErr = errs.Decrypt(err)
			return opErr
		}
	}

	compReader, err := compress.WrapReader(objectCompression(info), payload)
	if err != nil {
		// gzip reads its header eagerly, so a wrong key can surface
		// here rather than during the copy.
		if encrypted {
			opErr = errs.Decrypt(err)
		} else {
			opErr = err
		}
		return opErr
	}
	defer compReader.Close()

	dest, err := os.OpenFile(destPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		opErr = errs.LocalIO(err)
		return opErr
	}

	tracked := &writeTracker{w: dest}
	if _, err := io.Copy(tracked, compReader); err != nil {
		_ = dest.Close()
		_ = os.Remove(destPath)
		switch {
		case tracked.err != nil:
			opErr = errs.LocalIO(tracked.err)
		case encrypted:
			opErr = errs.Decrypt(err)
		default:
			opErr = errs.LocalIO(err)
		}
		return opErr
	}
	if err := dest.Close(); err != nil {
		opErr = errs.LocalIO(err)
		return opErr
	}
	a.Log.Info().Str("key", key).Str("dest", destPath).Msg("restore completed")
	return nil
}

// RestoreTo resolves a destination file name inside destDir from the
// object's recorded source path and restores into it.
func (a *App) RestoreTo(ctx context.Context, obj storage.ObjectInfo, destDir string) (string, error) {
	dest := filepath.Join(destDir, RestoredName(obj))
	return dest, a.Restore(ctx, obj.Key, dest)
}

// Validate checks configuration and remote reachability without side
// effects.
func (a *App) Validate(ctx context.Context) error {
	if err := a.Cfg.Validate(); err != nil {
		return err
	}
	if _, err := a.Storage.List(ctx, a.Cfg.Storage.Prefix); err != nil {
		return errs.Remote(err)
	}
	return nil
}

func (a *App) download(ctx context.Context, key string, size int64, dst io.Writer) error {
	reader, err := a.Storage.Get(ctx, key)
	if err != nil {
		return errs.Remote(err)
	}
	defer reader.Close()
	meter := progress.NewMeter(a.Log, "download "+path.Base(key), size)
	if _, err := io.Copy(dst, meter.Reader(reader)); err != nil {
		return errs.Remote(err)
	}
	return nil
}

// RestoredName derives the local file name a restored object should
// get: the original base name when recorded, otherwise the object key
// base with the pipeline extensions stripped.
func RestoredName(obj storage.ObjectInfo) string {
	if src := storage.MetaValue(obj.Metadata, storage.MetaSource); src != "" {
		return path.Base(src)
	}
	name := path.Base(obj.Key)
	for _, ext := range []string{".enc", ".zst", ".gz"} {
		name = strings.TrimSuffix(name, ext)
	}
	if i := strings.Index(name, "_"); i > 0 && i < len(name)-1 {
		// Versioned keys carry a leading timestamp.
		if _, err := time.Parse("20060102T150405Z", name[:i]); err == nil {
			name = name[i+1:]
		}
	}
	return name
}

func objectEncrypted(info storage.ObjectInfo) bool {
	if v := storage.MetaValue(info.Metadata, storage.MetaEncrypted); v != "" {
		return strings.EqualFold(v, "true")
	}
	return strings.HasSuffix(info.Key, ".enc")
}

func objectCompression(info storage.ObjectInfo) string {
	if v := storage.MetaValue(info.Metadata, storage.MetaCompression); v != "" {
		return v
	}
	trimmed := strings.TrimSuffix(info.Key, ".enc")
	switch {
	case strings.HasSuffix(trimmed, ".gz"):
		return compress.TypeGzip
	case strings.HasSuffix(trimmed, ".zst"):
		return compress.TypeZstd
	default:
		return compress.TypeNone
	}
}

type writeTracker struct {
	w   io.Writer
	err error
}

func (t *writeTracker) Write(p []byte) (int, error) {
	n, err := t.w.Write(p)
	if err != nil {
		t.err = err
	}
	return n, err
}

func (a *App) notifyRun(ctx context.Context, kind string, start time.Time, results []FileResult, opErr error) {
	if a.Notifier == nil {
		return
	}
	event := notify.Event{
		Type:      kind,
		Message:   fmt.Sprintf("%s run, %d file(s)", kind, len(results)),
		Status:    statusFromErr(opErr),
		StartedAt: start,
		EndedAt:   time.Now(),
		Duration:  time.Since(start).String(),
	}
	for _, res := range results {
		switch res.Status {
		case StatusUploaded:
			event.Uploaded++
		case StatusSkipped:
			event.Skipped++
		case StatusFailed:
			event.Failed++
		}
	}
	if opErr == nil && event.Failed > 0 {
		event.Status = "partial"
	}
	if opErr != nil {
		event.Error = opErr.Error()
	}
	_ = a.Notifier.Notify(context.WithoutCancel(ctx), event)
}

func (a *App) notifyRestore(ctx context.Context, key, dest string, start time.Time, opErr error) {
	if a.Notifier == nil {
		return
	}
	event := notify.Event{
		Type:      "restore",
		Message:   fmt.Sprintf("restore %s", key),
		Status:    statusFromErr(opErr),
		Key:       key,
		Path:      dest,
		StartedAt: start,
		EndedAt:   time.Now(),
		Duration:  time.Since(start).String(),
	}
	if opErr != nil {
		event.Error = opErr.Error()
	}
	_ = a.Notifier.Notify(context.WithoutCancel(ctx), event)
}

func statusFromErr(err error) string {
	if err == nil {
		return "success"
	}
	return "failed"
}
