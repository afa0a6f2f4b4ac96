// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package report

import (
	"bytes"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autobrr/qbtsync/internal/reconcile"
)

func outcome(kind reconcile.ActionKind, name string, status reconcile.OutcomeStatus) reconcile.ActionOutcome {
	return reconcile.ActionOutcome{
		Action: reconcile.SyncAction{Kind: kind, Hash: name, Name: name, Reason: reconcile.ReasonOrphaned},
		Status: status,
	}
}

func basePass(dryRun bool, children ...reconcile.ChildReport) *reconcile.PassReport {
	start := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	return &reconcile.PassReport{
		Master:         "master",
		DryRun:         dryRun,
		StartedAt:      start,
		FinishedAt:     start.Add(1500 * time.Millisecond),
		MasterTorrents: 12,
		Eligible:       9,
		Children:       children,
	}
}

func TestStringDryRun(t *testing.T) {
	t.Parallel()

	out := String(basePass(true, reconcile.ChildReport{
		Instance:      "child-1",
		ChildTorrents: 4,
		Outcomes: []reconcile.ActionOutcome{
			outcome(reconcile.ActionAdd, "Movie.2024", reconcile.OutcomeSkippedDryRun),
			outcome(reconcile.ActionDelete, "Old.Show", reconcile.OutcomeSkippedDryRun),
		},
	}))

	assert.Contains(t, out, "[DRY RUN]")
	assert.Contains(t, out, "master=master torrents=12 eligible=9 children=1 duration=1.5s")
	assert.Contains(t, out, "child-1")
	assert.Contains(t, out, "(4 torrents)")
	assert.Contains(t, out, "would add")
	assert.Contains(t, out, "would delete")
	assert.Contains(t, out, "Movie.2024")
	assert.Contains(t, out, "applied 0, skipped 2, failed 0")
	assert.NotContains(t, out, "added")
}

func TestStringLive(t *testing.T) {
	t.Parallel()

	failed := outcome(reconcile.ActionRecategorize, "Broken", reconcile.OutcomeFailed)
	failed.Err = errors.New("boom")

	out := String(basePass(false,
		reconcile.ChildReport{
			Instance:      "child-1",
			ChildTorrents: 3,
			Outcomes: []reconcile.ActionOutcome{
				outcome(reconcile.ActionRelocate, "Moved", reconcile.OutcomeApplied),
				failed,
				outcome(reconcile.ActionAdd, "Late", reconcile.OutcomeCancelled),
			},
		},
		reconcile.ChildReport{Instance: "child-2", Err: errors.New("instance child-2: list torrents: refused")},
		reconcile.ChildReport{Instance: "child-3", ChildTorrents: 9},
	))

	assert.NotContains(t, out, "[DRY RUN]")
	assert.NotContains(t, out, "would")
	assert.Contains(t, out, "relocated")
	assert.Contains(t, out, "failed: recategorized Broken")
	assert.Contains(t, out, "boom")
	assert.Contains(t, out, "applied 1, skipped 0, failed 1, cancelled 1")
	assert.Contains(t, out, "error: instance child-2: list torrents: refused")
	assert.Contains(t, out, "in sync, nothing to do")
}

func TestStringAborted(t *testing.T) {
	t.Parallel()

	pass := basePass(false)
	pass.Err = errors.New("instance master: list torrents: timeout")

	out := String(pass)
	assert.Contains(t, out, "pass aborted: instance master: list torrents: timeout")
	assert.Empty(t, String(nil))
}

func TestTruncateNames(t *testing.T) {
	t.Parallel()

	var names []string
	for i := range 13 {
		names = append(names, fmt.Sprintf("t%d", i))
	}

	tests := []struct {
		name  string
		names []string
		want  string
	}{
		{name: "under limit", names: names[:2], want: "t0, t1"},
		{name: "at limit", names: names[:MaxNames], want: "t0, t1, t2, t3, t4, t5, t6, t7, t8, t9"},
		{name: "over limit", names: names, want: "t0, t1, t2, t3, t4, t5, t6, t7, t8, t9, ... and 3 more"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, truncateNames(tt.names, MaxNames))
		})
	}
}

func TestKindLabel(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "would sync files", KindLabel(reconcile.ActionSyncFileSelection, true))
	assert.Equal(t, "synced files", KindLabel(reconcile.ActionSyncFileSelection, false))
	assert.Equal(t, "would delete", KindLabel(reconcile.ActionDelete, true))
	assert.Equal(t, "recategorized", KindLabel(reconcile.ActionRecategorize, false))
}

func TestRender(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	require.NoError(t, Render(&buf, basePass(false, reconcile.ChildReport{Instance: "child-1"})))
	assert.Contains(t, buf.String(), "qbtsync pass")
}
