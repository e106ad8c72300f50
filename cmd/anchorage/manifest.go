// Copyright (C) 2026 Anchorage Systems (dev@anchorage.sh)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// manifestSuffix names the sidecar written next to each archive. The
// sidecar is written only after the archive write completes, so a
// manifest's existence certifies a complete archive.
const manifestSuffix = ".manifest.yaml"

// archiveSuffix names the backup archive format.
const archiveSuffix = ".tar.gz"

// IncludedPath is one captured path inside a backup.
type IncludedPath struct {
	// Path is relative to the install dir.
	Path string `yaml:"path"`

	// Dir is true for directory trees.
	Dir bool `yaml:"dir"`

	// SizeBytes is the total byte count captured under Path.
	SizeBytes int64 `yaml:"size_bytes"`
}

// BackupManifest describes one completed backup archive.
type BackupManifest struct {
	// BackupID is the unique identifier, also the archive basename.
	BackupID string `yaml:"backup_id"`

	// CreatedAt is the capture timestamp.
	CreatedAt time.Time `yaml:"created_at"`

	// SourceDir is the install dir the paths were captured from.
	SourceDir string `yaml:"source_dir"`

	// Included lists every path that made it into the archive, in the
	// order it was written.
	Included []IncludedPath `yaml:"included"`

	// Skipped lists configured candidate paths absent at capture time.
	Skipped []string `yaml:"skipped,omitempty"`

	// ArchiveBytes is the size of the finished archive on disk.
	ArchiveBytes int64 `yaml:"archive_bytes"`
}

// ArchiveName returns the archive filename for this manifest.
func (m BackupManifest) ArchiveName() string {
	return m.BackupID + archiveSuffix
}

// ManifestName returns the sidecar filename for this manifest.
func (m BackupManifest) ManifestName() string {
	return m.BackupID + manifestSuffix
}

// ContainsPath reports whether a relative path was captured.
func (m BackupManifest) ContainsPath(rel string) bool {
	for _, p := range m.Included {
		if p.Path == rel {
			return true
		}
	}
	return false
}

// writeManifest persists the sidecar atomically (write temp, rename).
func writeManifest(dir string, m BackupManifest) error {
	data, err := yaml.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to encode manifest %s: %w", m.BackupID, err)
	}

	final := filepath.Join(dir, m.ManifestName())
	tmp := final + ".tmp"
	if err := os.WriteFile(tmp, data, 0o640); err != nil {
		return fmt.Errorf("failed to write manifest %s: %w", m.BackupID, err)
	}
	if err := os.Rename(tmp, final); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to finalize manifest %s: %w", m.BackupID, err)
	}
	return nil
}

// readManifest loads one sidecar by backup ID.
func readManifest(dir, backupID string) (BackupManifest, error) {
	var m BackupManifest
	data, err := os.ReadFile(filepath.Join(dir, backupID+manifestSuffix))
	if err != nil {
		return m, fmt.Errorf("failed to read manifest %s: %w", backupID, err)
	}
	if err := yaml.Unmarshal(data, &m); err != nil {
		return m, fmt.Errorf("failed to parse manifest %s: %w", backupID, err)
	}
	if m.BackupID == "" {
		return m, fmt.Errorf("manifest %s has no backup_id", backupID)
	}
	return m, nil
}

// listManifests returns every readable manifest in dir, newest first.
//
// Archives without a sidecar are incomplete by definition and are not
// listed; unreadable sidecars are skipped rather than failing the whole
// listing.
func listManifests(dir string) ([]BackupManifest, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read backup dir %s: %w", dir, err)
	}

	var manifests []BackupManifest
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), manifestSuffix) {
			continue
		}
		id := strings.TrimSuffix(e.Name(), manifestSuffix)
		m, err := readManifest(dir, id)
		if err != nil {
			continue
		}
		manifests = append(manifests, m)
	}

	sort.Slice(manifests, func(i, j int) bool {
		return manifests[i].CreatedAt.After(manifests[j].CreatedAt)
	})
	return manifests, nil
}
