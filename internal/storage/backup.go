package storage

import (
	"archive/zip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/haasonsaas/recall/internal/events"
)

const (
	manifestName  = "metadata.json"
	backupVersion = "1"
	timeLayout    = "20060102-150405"

	metadataSnapshot = "metadata.db"
	vectorSnapshot   = "vectors.db"
	filesSubdir      = "files"
)

// BackupOptions controls what CreateBackup produces. Encrypt implies a
// single-file artifact, so it zips the backup directory first.
type BackupOptions struct {
	IncludeFiles bool
	Compress     bool
	Encrypt      bool
}

// Manifest describes a backup artifact. It is written as metadata.json
// inside every backup.
type Manifest struct {
	Timestamp time.Time        `json:"timestamp"`
	Version   string           `json:"version"`
	Contents  ManifestContents `json:"contents"`
	Encrypted bool             `json:"encrypted"`
}

// ManifestContents records which components a backup carries.
type ManifestContents struct {
	SQLite    bool  `json:"sqlite"`
	Vector    bool  `json:"vector"`
	Files     bool  `json:"files"`
	FileCount int   `json:"file_count,omitempty"`
	FileSize  int64 `json:"file_size,omitempty"`
}

// BackupInfo describes one listable artifact in the backup directory.
type BackupInfo struct {
	Name      string    `json:"name"`
	Path      string    `json:"path"`
	CreatedAt time.Time `json:"created_at"`
	Size      int64     `json:"size"`
	Encrypted bool      `json:"encrypted"`
	Zipped    bool      `json:"zipped"`
}

// CreateBackup snapshots both stores (and optionally user files) into a
// timestamped artifact under the backup directory. All work happens at a
// temp path; a failed backup leaves nothing behind.
func (m *Manager) CreateBackup(ctx context.Context, opts BackupOptions) (*BackupInfo, error) {
	if opts.Encrypt && m.cipher == nil {
		return nil, fmt.Errorf("encrypted backup requested but no cipher configured")
	}
	if err := os.MkdirAll(m.backupDir, 0o700); err != nil {
		return nil, fmt.Errorf("create backup dir: %w", err)
	}

	ts := time.Now().UTC()
	name := ts.Format(timeLayout)
	tmp := filepath.Join(m.backupDir, "."+name+".tmp")
	if err := os.MkdirAll(tmp, 0o700); err != nil {
		return nil, fmt.Errorf("create staging dir: %w", err)
	}
	defer os.RemoveAll(tmp)

	if err := m.meta.Backup(ctx, filepath.Join(tmp, metadataSnapshot)); err != nil {
		return nil, err
	}
	if err := m.vectors.Backup(ctx, filepath.Join(tmp, vectorSnapshot)); err != nil {
		return nil, err
	}

	manifest := Manifest{
		Timestamp: ts,
		Version:   backupVersion,
		Contents:  ManifestContents{SQLite: true, Vector: true},
		Encrypted: opts.Encrypt,
	}
	if opts.IncludeFiles && m.filesDir != "" {
		count, size, err := copyDir(m.filesDir, filepath.Join(tmp, filesSubdir), m.exclude)
		if err != nil {
			return nil, fmt.Errorf("copy user files: %w", err)
		}
		manifest.Contents.Files = true
		manifest.Contents.FileCount = count
		manifest.Contents.FileSize = size
	}
	if err := writeManifest(filepath.Join(tmp, manifestName), &manifest); err != nil {
		return nil, err
	}

	var final string
	switch {
	case opts.Encrypt:
		zipTmp := filepath.Join(m.backupDir, "."+name+".zip.tmp")
		defer os.Remove(zipTmp)
		if err := zipDir(tmp, zipTmp); err != nil {
			return nil, err
		}
		final = filepath.Join(m.backupDir, name+".enc")
		encTmp := final + ".tmp"
		defer os.Remove(encTmp)
		if err := m.cipher.SealFile(zipTmp, encTmp); err != nil {
			return nil, fmt.Errorf("seal backup: %w", err)
		}
		if err := os.Rename(encTmp, final); err != nil {
			return nil, err
		}
	case opts.Compress:
		final = filepath.Join(m.backupDir, name+".zip")
		zipTmp := final + ".tmp"
		defer os.Remove(zipTmp)
		if err := zipDir(tmp, zipTmp); err != nil {
			return nil, err
		}
		if err := os.Rename(zipTmp, final); err != nil {
			return nil, err
		}
	default:
		final = filepath.Join(m.backupDir, name)
		if err := os.Rename(tmp, final); err != nil {
			return nil, fmt.Errorf("finalize backup: %w", err)
		}
	}

	info := &BackupInfo{
		Name:      filepath.Base(final),
		Path:      final,
		CreatedAt: ts,
		Size:      artifactSize(final),
		Encrypted: opts.Encrypt,
		Zipped:    opts.Compress || opts.Encrypt,
	}
	m.logger.Info(ctx, "backup created", "name", info.Name, "size", info.Size)
	if m.metrics != nil {
		m.metrics.BackupsTotal.Inc()
	}
	if m.bus != nil {
		m.bus.Publish(ctx, events.TopicBackupCreated, map[string]any{
			"name": info.Name, "path": info.Path,
		})
	}
	return info, nil
}

// RestoreBackup validates the named artifact's manifest and swaps both
// store files in place. The caller must guarantee no requests are in
// flight; both stores are reopened before this returns.
func (m *Manager) RestoreBackup(ctx context.Context, name string) error {
	path, err := m.resolveArtifact(name)
	if err != nil {
		return err
	}

	dir := path
	if strings.HasSuffix(path, ".enc") || strings.HasSuffix(path, ".zip") {
		work, err := os.MkdirTemp(m.backupDir, ".restore-*")
		if err != nil {
			return fmt.Errorf("create restore dir: %w", err)
		}
		defer os.RemoveAll(work)

		zipPath := path
		if strings.HasSuffix(path, ".enc") {
			if m.cipher == nil {
				return fmt.Errorf("backup %s is encrypted but no cipher configured", name)
			}
			zipPath = filepath.Join(work, "backup.zip")
			if err := m.cipher.UnsealFile(path, zipPath); err != nil {
				return fmt.Errorf("unseal backup: %w", err)
			}
		}
		dir = filepath.Join(work, "contents")
		if err := extractZip(zipPath, dir); err != nil {
			return err
		}
	}

	manifest, err := readManifest(filepath.Join(dir, manifestName))
	if err != nil {
		return err
	}
	if manifest.Version != backupVersion {
		return fmt.Errorf("unsupported backup version %q", manifest.Version)
	}
	if !manifest.Contents.SQLite || !manifest.Contents.Vector {
		return fmt.Errorf("backup %s is missing store snapshots", name)
	}

	if err := m.meta.Restore(filepath.Join(dir, metadataSnapshot)); err != nil {
		return fmt.Errorf("restore metadata store: %w", err)
	}
	if err := m.vectors.Restore(filepath.Join(dir, vectorSnapshot)); err != nil {
		return fmt.Errorf("restore vector store: %w", err)
	}
	if manifest.Contents.Files && m.filesDir != "" {
		if _, _, err := copyDir(filepath.Join(dir, filesSubdir), m.filesDir, nil); err != nil {
			return fmt.Errorf("restore user files: %w", err)
		}
	}

	m.logger.Info(ctx, "backup restored", "name", name)
	if m.metrics != nil {
		m.metrics.RestoresTotal.Inc()
	}
	if m.bus != nil {
		m.bus.Publish(ctx, events.TopicBackupRestored, map[string]any{"name": name})
	}
	return nil
}

// ListBackups returns the artifacts in the backup directory, newest first.
// Staging paths (dot-prefixed) are not listed.
func (m *Manager) ListBackups(ctx context.Context) ([]*BackupInfo, error) {
	entries, err := os.ReadDir(m.backupDir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read backup dir: %w", err)
	}

	var out []*BackupInfo
	for _, e := range entries {
		name := e.Name()
		if strings.HasPrefix(name, ".") {
			continue
		}
		stamp := strings.TrimSuffix(strings.TrimSuffix(name, ".enc"), ".zip")
		created, err := time.Parse(timeLayout, stamp)
		if err != nil {
			continue
		}
		path := filepath.Join(m.backupDir, name)
		out = append(out, &BackupInfo{
			Name:      name,
			Path:      path,
			CreatedAt: created,
			Size:      artifactSize(path),
			Encrypted: strings.HasSuffix(name, ".enc"),
			Zipped:    strings.HasSuffix(name, ".zip") || strings.HasSuffix(name, ".enc"),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

// DeleteBackup removes the named artifact.
func (m *Manager) DeleteBackup(ctx context.Context, name string) error {
	path, err := m.resolveArtifact(name)
	if err != nil {
		return err
	}
	return os.RemoveAll(path)
}

// CleanupOldBackups deletes artifacts older than maxAgeDays, then any
// beyond the newest maxCount. A non-positive bound disables that rule.
// Returns the number deleted.
func (m *Manager) CleanupOldBackups(ctx context.Context, maxCount, maxAgeDays int) (int, error) {
	backups, err := m.ListBackups(ctx)
	if err != nil {
		return 0, err
	}

	deleted := 0
	remaining := backups[:0]
	if maxAgeDays > 0 {
		cutoff := time.Now().UTC().AddDate(0, 0, -maxAgeDays)
		for _, b := range backups {
			if b.CreatedAt.Before(cutoff) {
				if err := os.RemoveAll(b.Path); err != nil {
					return deleted, err
				}
				deleted++
				continue
			}
			remaining = append(remaining, b)
		}
	} else {
		remaining = backups
	}

	if maxCount > 0 && len(remaining) > maxCount {
		for _, b := range remaining[maxCount:] {
			if err := os.RemoveAll(b.Path); err != nil {
				return deleted, err
			}
			deleted++
		}
	}
	if deleted > 0 {
		m.logger.Info(ctx, "backup retention applied", "deleted", deleted)
	}
	return deleted, nil
}

// resolveArtifact maps a bare artifact name to its path inside the backup
// directory, rejecting anything that could escape it.
func (m *Manager) resolveArtifact(name string) (string, error) {
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		return "", fmt.Errorf("invalid backup name %q", name)
	}
	path := filepath.Join(m.backupDir, name)
	if _, err := os.Stat(path); err != nil {
		return "", fmt.Errorf("backup %s: %w", name, err)
	}
	return path, nil
}

func writeManifest(path string, manifest *Manifest) error {
	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}
	return os.WriteFile(path, data, 0o600)
}

func readManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	var manifest Manifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}
	return &manifest, nil
}

// artifactSize measures a file, or the recursive total for a directory.
func artifactSize(path string) int64 {
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	if !info.IsDir() {
		return info.Size()
	}
	var total int64
	filepath.WalkDir(path, func(_ string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		if fi, err := d.Info(); err == nil {
			total += fi.Size()
		}
		return nil
	})
	return total
}

// copyDir copies src into dst recursively and reports file count and
// total bytes. Files whose base name or relative path matches one of the
// glob patterns are skipped.
func copyDir(src, dst string, exclude []string) (int, int64, error) {
	count := 0
	var size int64
	err := filepath.WalkDir(src, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0o700)
		}
		if excluded(rel, exclude) {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		if err := os.WriteFile(target, data, 0o600); err != nil {
			return err
		}
		count++
		size += int64(len(data))
		return nil
	})
	return count, size, err
}

func excluded(rel string, patterns []string) bool {
	slashed := filepath.ToSlash(rel)
	base := filepath.Base(rel)
	for _, p := range patterns {
		if ok, _ := filepath.Match(p, base); ok {
			return true
		}
		if ok, _ := filepath.Match(p, slashed); ok {
			return true
		}
	}
	return false
}

// zipDir writes the contents of dir (not the dir itself) into a zip file.
func zipDir(dir, dst string) error {
	f, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("create archive: %w", err)
	}
	defer f.Close()

	zw := zip.NewWriter(f)
	err = filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		w, err := zw.Create(filepath.ToSlash(rel))
		if err != nil {
			return err
		}
		src, err := os.Open(path)
		if err != nil {
			return err
		}
		defer src.Close()
		_, err = io.Copy(w, src)
		return err
	})
	if err != nil {
		zw.Close()
		return fmt.Errorf("write archive: %w", err)
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("finish archive: %w", err)
	}
	return f.Sync()
}

// extractZip unpacks an archive into dst, rejecting entries that would
// escape it.
func extractZip(src, dst string) error {
	r, err := zip.OpenReader(src)
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}
	defer r.Close()

	for _, file := range r.File {
		target := filepath.Join(dst, filepath.FromSlash(file.Name))
		if !strings.HasPrefix(target, filepath.Clean(dst)+string(os.PathSeparator)) {
			return fmt.Errorf("archive entry %q escapes destination", file.Name)
		}
		if file.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o700); err != nil {
				return err
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o700); err != nil {
			return err
		}
		rc, err := file.Open()
		if err != nil {
			return err
		}
		out, err := os.Create(target)
		if err != nil {
			rc.Close()
			return err
		}
		if _, err := io.Copy(out, rc); err != nil {
			out.Close()
			rc.Close()
			return err
		}
		out.Close()
		rc.Close()
	}
	return nil
}
