// Copyright (C) 2026 Anchorage Systems (dev@anchorage.sh)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/anchorage-io/anchorage/cmd/anchorage/config"
	"github.com/anchorage-io/anchorage/pkg/logging"
)

// =============================================================================
// Backup Manager
// =============================================================================

// BackupManager captures and restores install-dir snapshots.
//
// # Description
//
// Snapshots are tar.gz archives under the backup root, each certified by
// a manifest sidecar. The sidecar is written strictly after the archive
// is complete and renamed into place, so listing manifests never shows a
// half-written backup. The backup root must live outside the install
// dir (enforced by config validation) so wiping the install dir can
// never destroy its own rollback point.
//
// # Thread Safety
//
// BackupManager is stateless; concurrent Create calls produce distinct
// IDs and never collide.
type BackupManager struct {
	cfg config.Config
	log *logging.Logger
}

// NewBackupManager creates a manager for the configured backup root.
func NewBackupManager(cfg config.Config, log *logging.Logger) *BackupManager {
	if log == nil {
		log = logging.Default()
	}
	return &BackupManager{cfg: cfg, log: log}
}

// newBackupID builds a sortable, collision-free identifier.
func newBackupID(now time.Time) string {
	return now.Format("20060102-150405") + "-" + uuid.NewString()[:8]
}

// Create captures every existing candidate path into a new archive.
//
// # Description
//
// Candidate paths are taken relative to the install dir; absent ones are
// recorded as skipped, not errors (a degraded install still deserves a
// snapshot of whatever remains). The archive is written to a .partial
// file and renamed only on success, and the manifest is written after
// that rename.
//
// # Outputs
//
//   - BackupManifest: The completed snapshot description
//   - error: Wraps ErrBackupFailed; on error no manifest exists and the
//     install dir was not touched
func (b *BackupManager) Create(ctx context.Context) (BackupManifest, error) {
	manifest := BackupManifest{
		BackupID:  newBackupID(time.Now()),
		CreatedAt: time.Now().UTC(),
		SourceDir: b.cfg.InstallDir,
	}

	if err := os.MkdirAll(b.cfg.BackupRoot, 0o750); err != nil {
		return BackupManifest{}, fmt.Errorf("%w: cannot create backup root: %v", ErrBackupFailed, err)
	}

	finalPath := filepath.Join(b.cfg.BackupRoot, manifest.ArchiveName())
	partialPath := finalPath + ".partial"

	included, skipped, err := b.writeArchive(ctx, partialPath)
	if err != nil {
		os.Remove(partialPath)
		return BackupManifest{}, fmt.Errorf("%w: %v", ErrBackupFailed, err)
	}
	manifest.Included = included
	manifest.Skipped = skipped

	if err := os.Rename(partialPath, finalPath); err != nil {
		os.Remove(partialPath)
		return BackupManifest{}, fmt.Errorf("%w: cannot finalize archive: %v", ErrBackupFailed, err)
	}

	info, err := os.Stat(finalPath)
	if err != nil {
		return BackupManifest{}, fmt.Errorf("%w: archive vanished after rename: %v", ErrBackupFailed, err)
	}
	manifest.ArchiveBytes = info.Size()

	if err := writeManifest(b.cfg.BackupRoot, manifest); err != nil {
		// Without its manifest the archive is invisible to listing and
		// restore; remove it rather than strand an orphan.
		os.Remove(finalPath)
		return BackupManifest{}, fmt.Errorf("%w: %v", ErrBackupFailed, err)
	}

	b.log.Info("backup created",
		"backup_id", manifest.BackupID,
		"included", len(manifest.Included),
		"skipped", len(manifest.Skipped),
		"bytes", manifest.ArchiveBytes)
	return manifest, nil
}

// writeArchive streams all existing candidate paths into path.
func (b *BackupManager) writeArchive(ctx context.Context, path string) ([]IncludedPath, []string, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o640)
	if err != nil {
		return nil, nil, fmt.Errorf("cannot create archive: %w", err)
	}
	defer f.Close()

	gz := gzip.NewWriter(f)
	tw := tar.NewWriter(gz)

	var included []IncludedPath
	var skipped []string

	for _, rel := range b.cfg.Backup.CandidatePaths {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}

		abs := filepath.Join(b.cfg.InstallDir, rel)
		info, err := os.Lstat(abs)
		if err != nil {
			if os.IsNotExist(err) {
				skipped = append(skipped, rel)
				continue
			}
			return nil, nil, fmt.Errorf("cannot stat %s: %w", abs, err)
		}

		size, err := b.addPath(tw, abs, rel, info)
		if err != nil {
			return nil, nil, err
		}
		included = append(included, IncludedPath{
			Path:      rel,
			Dir:       info.IsDir(),
			SizeBytes: size,
		})
	}

	if err := tw.Close(); err != nil {
		return nil, nil, fmt.Errorf("cannot finish archive: %w", err)
	}
	if err := gz.Close(); err != nil {
		return nil, nil, fmt.Errorf("cannot finish compression: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, nil, fmt.Errorf("cannot flush archive: %w", err)
	}
	return included, skipped, nil
}

// addPath writes one file or directory tree into the archive and returns
// the total bytes captured under it.
func (b *BackupManager) addPath(tw *tar.Writer, abs, rel string, info fs.FileInfo) (int64, error) {
	if !info.IsDir() {
		return addFileEntry(tw, abs, rel, info)
	}

	var total int64
	err := filepath.WalkDir(abs, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		sub, err := filepath.Rel(abs, p)
		if err != nil {
			return err
		}
		name := rel
		if sub != "." {
			name = filepath.Join(rel, sub)
		}

		fi, err := d.Info()
		if err != nil {
			return err
		}
		if d.IsDir() {
			hdr, err := tar.FileInfoHeader(fi, "")
			if err != nil {
				return err
			}
			hdr.Name = filepath.ToSlash(name) + "/"
			return tw.WriteHeader(hdr)
		}
		n, err := addFileEntry(tw, p, name, fi)
		total += n
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("cannot archive %s: %w", rel, err)
	}
	return total, nil
}

// addFileEntry writes a single regular file or symlink.
func addFileEntry(tw *tar.Writer, abs, name string, info fs.FileInfo) (int64, error) {
	link := ""
	if info.Mode()&fs.ModeSymlink != 0 {
		target, err := os.Readlink(abs)
		if err != nil {
			return 0, fmt.Errorf("cannot read symlink %s: %w", abs, err)
		}
		link = target
	}

	hdr, err := tar.FileInfoHeader(info, link)
	if err != nil {
		return 0, fmt.Errorf("cannot describe %s: %w", abs, err)
	}
	hdr.Name = filepath.ToSlash(name)
	if err := tw.WriteHeader(hdr); err != nil {
		return 0, fmt.Errorf("cannot write header for %s: %w", name, err)
	}
	if link != "" || !info.Mode().IsRegular() {
		return 0, nil
	}

	f, err := os.Open(abs)
	if err != nil {
		return 0, fmt.Errorf("cannot open %s: %w", abs, err)
	}
	defer f.Close()

	n, err := io.Copy(tw, f)
	if err != nil {
		return n, fmt.Errorf("cannot copy %s: %w", abs, err)
	}
	return n, nil
}

// =============================================================================
// Restore
// =============================================================================

// Restore extracts a backup into targetDir.
//
// # Description
//
// Restoration is best effort per entry: a single unreadable or
// unwritable entry is logged and skipped so the remaining entries still
// land. The error reports how many entries failed; errors.Is matches
// ErrRestoreFailed. Entries whose names escape targetDir are rejected
// outright, failed or not.
func (b *BackupManager) Restore(ctx context.Context, backupID, targetDir string) error {
	manifest, err := readManifest(b.cfg.BackupRoot, backupID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRestoreFailed, err)
	}

	f, err := os.Open(filepath.Join(b.cfg.BackupRoot, manifest.ArchiveName()))
	if err != nil {
		return fmt.Errorf("%w: cannot open archive: %v", ErrRestoreFailed, err)
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return fmt.Errorf("%w: corrupt archive %s: %v", ErrRestoreFailed, backupID, err)
	}
	defer gz.Close()

	if err := os.MkdirAll(targetDir, 0o750); err != nil {
		return fmt.Errorf("%w: cannot create target dir: %v", ErrRestoreFailed, err)
	}

	tr := tar.NewReader(gz)
	var failed int
	var restored int
	for {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%w: %v", ErrRestoreFailed, err)
		}

		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("%w: corrupt archive %s: %v", ErrRestoreFailed, backupID, err)
		}

		dest, err := safeJoin(targetDir, hdr.Name)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrRestoreFailed, err)
		}

		if err := extractEntry(tr, hdr, dest); err != nil {
			b.log.Warn("restore entry failed", "entry", hdr.Name, "error", err)
			failed++
			continue
		}
		restored++
	}

	if failed > 0 {
		return fmt.Errorf("%w: %d of %d entries could not be restored", ErrRestoreFailed, failed, failed+restored)
	}
	b.log.Info("backup restored", "backup_id", backupID, "entries", restored, "target", targetDir)
	return nil
}

// safeJoin joins an archive entry name under root, rejecting names that
// would escape it.
func safeJoin(root, name string) (string, error) {
	cleaned := filepath.Clean(filepath.FromSlash(name))
	if filepath.IsAbs(cleaned) || cleaned == ".." || strings.HasPrefix(cleaned, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("archive entry %q escapes restore target", name)
	}
	return filepath.Join(root, cleaned), nil
}

// extractEntry materializes one tar entry at dest.
func extractEntry(tr *tar.Reader, hdr *tar.Header, dest string) error {
	switch hdr.Typeflag {
	case tar.TypeDir:
		return os.MkdirAll(dest, fs.FileMode(hdr.Mode)&0o777|0o700)
	case tar.TypeSymlink:
		if filepath.IsAbs(hdr.Linkname) || strings.HasPrefix(filepath.Clean(hdr.Linkname), "..") {
			return fmt.Errorf("symlink target %q not allowed", hdr.Linkname)
		}
		os.Remove(dest)
		return os.Symlink(hdr.Linkname, dest)
	case tar.TypeReg:
		if err := os.MkdirAll(filepath.Dir(dest), 0o750); err != nil {
			return err
		}
		out, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, fs.FileMode(hdr.Mode)&0o777)
		if err != nil {
			return err
		}
		if _, err := io.Copy(out, tr); err != nil {
			out.Close()
			return err
		}
		return out.Close()
	default:
		return fmt.Errorf("unsupported entry type %d", hdr.Typeflag)
	}
}

// =============================================================================
// Listing and Deletion
// =============================================================================

// List returns all complete backups, newest first.
func (b *BackupManager) List() ([]BackupManifest, error) {
	return listManifests(b.cfg.BackupRoot)
}

// Latest returns the newest backup, if any exist.
func (b *BackupManager) Latest() (BackupManifest, bool, error) {
	manifests, err := b.List()
	if err != nil || len(manifests) == 0 {
		return BackupManifest{}, false, err
	}
	return manifests[0], true, nil
}

// Delete removes one backup. The manifest goes first so a crash between
// the two removals leaves an orphan archive (harmless, invisible to
// listing) rather than a manifest pointing at nothing.
func (b *BackupManager) Delete(backupID string) error {
	manifestPath := filepath.Join(b.cfg.BackupRoot, backupID+manifestSuffix)
	if err := os.Remove(manifestPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("cannot remove manifest %s: %w", backupID, err)
	}
	archivePath := filepath.Join(b.cfg.BackupRoot, backupID+archiveSuffix)
	if err := os.Remove(archivePath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("cannot remove archive %s: %w", backupID, err)
	}
	return nil
}
