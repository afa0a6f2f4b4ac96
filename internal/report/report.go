// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package report renders reconciliation pass reports for terminals and logs.
package report

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/autobrr/qbtsync/internal/reconcile"
)

// MaxNames is the number of torrent names listed per action row.
const MaxNames = 10

var (
	orange = lipgloss.Color("#E5A00D")
	dim    = lipgloss.Color("#6B7280")
	green  = lipgloss.Color("#10B981")
	red    = lipgloss.Color("#EF4444")

	titleStyle   = lipgloss.NewStyle().Bold(true)
	dimStyle     = lipgloss.NewStyle().Foreground(dim)
	successStyle = lipgloss.NewStyle().Foreground(green)
	errorStyle   = lipgloss.NewStyle().Foreground(red)
	badgeStyle   = lipgloss.NewStyle().Bold(true).Foreground(orange)
	headerStyle  = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle    = lipgloss.NewStyle().Padding(0, 1)
)

const dryRunBadge = "[DRY RUN]"

var kindOrder = []reconcile.ActionKind{
	reconcile.ActionDelete,
	reconcile.ActionAdd,
	reconcile.ActionRecategorize,
	reconcile.ActionRelocate,
	reconcile.ActionSyncFileSelection,
}

// Render writes a human readable summary of the pass to w.
func Render(w io.Writer, r *reconcile.PassReport) error {
	_, err := io.WriteString(w, String(r))
	return err
}

// String renders the pass: a header line, then one block per child.
func String(r *reconcile.PassReport) string {
	if r == nil {
		return ""
	}

	var b strings.Builder
	b.WriteString(header(r))
	b.WriteString("\n")

	if r.Err != nil {
		b.WriteString(errorStyle.Render(fmt.Sprintf("pass aborted: %v", r.Err)))
		b.WriteString("\n")
		return b.String()
	}

	for _, child := range r.Children {
		b.WriteString("\n")
		b.WriteString(renderChild(child, r.DryRun))
	}

	return b.String()
}

func header(r *reconcile.PassReport) string {
	var parts []string
	if r.DryRun {
		parts = append(parts, badgeStyle.Render(dryRunBadge))
	}
	parts = append(parts, titleStyle.Render("qbtsync pass"))
	parts = append(parts, dimStyle.Render(fmt.Sprintf(
		"master=%s torrents=%d eligible=%d children=%d duration=%s",
		r.Master, r.MasterTorrents, r.Eligible, len(r.Children), r.Duration().Round(time.Millisecond),
	)))
	return strings.Join(parts, " ")
}

func renderChild(c reconcile.ChildReport, dryRun bool) string {
	var b strings.Builder

	title := titleStyle.Render(c.Instance)
	if dryRun {
		title = badgeStyle.Render(dryRunBadge) + " " + title
	}
	b.WriteString(title)
	if c.Err == nil {
		b.WriteString(dimStyle.Render(fmt.Sprintf(" (%d torrents)", c.ChildTorrents)))
	}
	b.WriteString("\n")

	if c.Err != nil {
		b.WriteString(errorStyle.Render(fmt.Sprintf("  error: %v", c.Err)))
		b.WriteString("\n")
		return b.String()
	}

	if len(c.Outcomes) == 0 {
		b.WriteString(successStyle.Render("  in sync, nothing to do"))
		b.WriteString("\n")
		return b.String()
	}

	if rows := actionRows(c.Outcomes, dryRun); len(rows) > 0 {
		t := table.New().
			Border(lipgloss.NormalBorder()).
			BorderStyle(dimStyle).
			Headers("ACTION", "COUNT", "TORRENTS").
			Rows(rows...).
			StyleFunc(func(row, _ int) lipgloss.Style {
				if row == table.HeaderRow {
					return headerStyle
				}
				return cellStyle
			})
		b.WriteString(t.String())
		b.WriteString("\n")
	}

	for _, o := range c.Outcomes {
		if o.Status != reconcile.OutcomeFailed {
			continue
		}
		b.WriteString(errorStyle.Render(fmt.Sprintf("  failed: %s: %v", o.Action.Describe(dryRun), o.Err)))
		b.WriteString("\n")
	}

	b.WriteString(tallyLine(c.Tally()))
	b.WriteString("\n")
	return b.String()
}

// actionRows groups applied and dry-run outcomes by kind.
func actionRows(outcomes []reconcile.ActionOutcome, dryRun bool) [][]string {
	names := make(map[reconcile.ActionKind][]string)
	for _, o := range outcomes {
		if o.Status != reconcile.OutcomeApplied && o.Status != reconcile.OutcomeSkippedDryRun {
			continue
		}
		names[o.Action.Kind] = append(names[o.Action.Kind], o.Action.Name)
	}

	var rows [][]string
	for _, kind := range kindOrder {
		n := names[kind]
		if len(n) == 0 {
			continue
		}
		rows = append(rows, []string{KindLabel(kind, dryRun), fmt.Sprintf("%d", len(n)), truncateNames(n, MaxNames)})
	}
	return rows
}

// KindLabel names an action kind in past tense, or with "would" for dry runs.
func KindLabel(kind reconcile.ActionKind, dryRun bool) string {
	var live, dry string
	switch kind {
	case reconcile.ActionDelete:
		live, dry = "deleted", "delete"
	case reconcile.ActionAdd:
		live, dry = "added", "add"
	case reconcile.ActionRecategorize:
		live, dry = "recategorized", "recategorize"
	case reconcile.ActionRelocate:
		live, dry = "relocated", "relocate"
	case reconcile.ActionSyncFileSelection:
		live, dry = "synced files", "sync files"
	default:
		live, dry = string(kind), string(kind)
	}
	if dryRun {
		return "would " + dry
	}
	return live
}

func truncateNames(names []string, limit int) string {
	if len(names) <= limit {
		return strings.Join(names, ", ")
	}
	return fmt.Sprintf("%s, ... and %d more", strings.Join(names[:limit], ", "), len(names)-limit)
}

func tallyLine(t reconcile.Tally) string {
	line := fmt.Sprintf("  applied %d, skipped %d, failed %d", t.Applied, t.Skipped, t.Failed)
	if t.Cancelled > 0 {
		line += fmt.Sprintf(", cancelled %d", t.Cancelled)
	}
	if t.Failed > 0 || t.Cancelled > 0 {
		return errorStyle.Render(line)
	}
	return dimStyle.Render(line)
}
