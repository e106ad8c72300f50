// Copyright (C) 2026 Anchorage Systems (dev@anchorage.sh)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var (
	headingStyle  = lipgloss.NewStyle().Bold(true)
	okStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	conflictStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	unknownStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	detailStyle   = lipgloss.NewStyle().Faint(true)
)

// RenderConflictReport formats a detection pass for the terminal.
func RenderConflictReport(report ConflictReport) string {
	var b strings.Builder
	b.WriteString(headingStyle.Render("Conflict check") + "\n")

	writeCategory(&b, "Install directory", len(report.Directories), categoryUncertain(report, "directories"))
	for _, d := range report.Directories {
		b.WriteString(detailStyle.Render(fmt.Sprintf("    %s (%s)", d.Path, d.Reason)) + "\n")
	}

	writeCategory(&b, "Containers", len(report.Containers), categoryUncertain(report, "containers"))
	for _, c := range report.Containers {
		state := "stopped"
		if c.Running {
			state = "running"
		}
		b.WriteString(detailStyle.Render(fmt.Sprintf("    %s (%s: %s)", c.ContainerName, state, c.Status)) + "\n")
	}

	writeCategory(&b, "Networks", len(report.Networks), categoryUncertain(report, "networks"))
	for _, n := range report.Networks {
		b.WriteString(detailStyle.Render("    "+n.NetworkName) + "\n")
	}

	writePortCategory(&b, report.Ports)
	writeCategory(&b, "Cron entries", len(report.Cron), categoryUncertain(report, "cron"))
	for _, c := range report.Cron {
		b.WriteString(detailStyle.Render("    "+c.Entry) + "\n")
	}

	b.WriteString("\n")
	switch {
	case report.HasConflicts():
		b.WriteString(conflictStyle.Render("Existing installation detected.") + "\n")
	case report.HasUncertainty():
		b.WriteString(unknownStyle.Render("No conflicts found, but some checks could not complete.") + "\n")
	default:
		b.WriteString(okStyle.Render("Host is clean.") + "\n")
	}
	return b.String()
}

func writeCategory(b *strings.Builder, label string, count int, uncertain bool) {
	switch {
	case uncertain:
		fmt.Fprintf(b, "  %s %s\n", unknownStyle.Render("?"), label+": could not determine")
	case count > 0:
		fmt.Fprintf(b, "  %s %s\n", conflictStyle.Render("✗"), fmt.Sprintf("%s: %d found", label, count))
	default:
		fmt.Fprintf(b, "  %s %s\n", okStyle.Render("✓"), label+": clear")
	}
}

// writePortCategory handles the per-port unknown flag ports carry
// instead of a category-wide marker.
func writePortCategory(b *strings.Builder, ports []PortConflict) {
	occupied := 0
	unknown := 0
	for _, p := range ports {
		if p.Unknown {
			unknown++
		} else {
			occupied++
		}
	}

	switch {
	case occupied > 0:
		fmt.Fprintf(b, "  %s Ports: %d occupied\n", conflictStyle.Render("✗"), occupied)
	case unknown > 0:
		fmt.Fprintf(b, "  %s Ports: %d could not be determined\n", unknownStyle.Render("?"), unknown)
	default:
		fmt.Fprintf(b, "  %s Ports: clear\n", okStyle.Render("✓"))
	}
	for _, p := range ports {
		if p.Unknown {
			b.WriteString(detailStyle.Render(fmt.Sprintf("    %d: no inspection tool available", p.Port)) + "\n")
		} else if p.Owner != "" {
			b.WriteString(detailStyle.Render(fmt.Sprintf("    %d: %s", p.Port, p.Owner)) + "\n")
		} else {
			b.WriteString(detailStyle.Render(fmt.Sprintf("    %d: in use", p.Port)) + "\n")
		}
	}
}

func categoryUncertain(report ConflictReport, name string) bool {
	for _, c := range report.Uncertain {
		if c == name {
			return true
		}
	}
	return false
}

// RenderBackupList formats backups for `anchorage backup list`.
func RenderBackupList(manifests []BackupManifest) string {
	if len(manifests) == 0 {
		return "No backups found.\n"
	}
	var b strings.Builder
	b.WriteString(headingStyle.Render("Backups (newest first)") + "\n")
	for _, m := range manifests {
		fmt.Fprintf(&b, "  %s  %s  %d paths  %s\n",
			m.BackupID,
			m.CreatedAt.Local().Format("2006-01-02 15:04:05"),
			len(m.Included),
			humanBytes(m.ArchiveBytes))
	}
	return b.String()
}

func humanBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
