// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package reconcile

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFileSelectionDiff(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		current FileSelection
		target  FileSelection
		want    FileSelection
	}{
		{
			name:    "identical selections",
			current: FileSelection{0: true, 1: false},
			target:  FileSelection{0: true, 1: false},
			want:    FileSelection{},
		},
		{
			name:    "only differing keys are returned",
			current: FileSelection{0: true, 1: true, 2: true},
			target:  FileSelection{0: true, 1: false, 2: true},
			want:    FileSelection{1: false},
		},
		{
			name:    "missing key on target counts as wanted",
			current: FileSelection{0: false, 1: true},
			target:  FileSelection{1: true},
			want:    FileSelection{0: true},
		},
		{
			name:    "missing key on current counts as wanted",
			current: FileSelection{},
			target:  FileSelection{3: false, 4: true},
			want:    FileSelection{3: false},
		},
		{
			name:    "nil current",
			current: nil,
			target:  FileSelection{0: false},
			want:    FileSelection{0: false},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, tt.current.Diff(tt.target))
		})
	}
}

func TestFileSelectionApplyConverges(t *testing.T) {
	t.Parallel()

	current := FileSelection{0: true, 1: false, 2: true}
	target := FileSelection{0: false, 1: true}

	applied := current.Apply(current.Diff(target))
	assert.Empty(t, applied.Diff(target))
	assert.Equal(t, FileSelection{0: true, 1: false, 2: true}, current, "apply must not mutate the receiver")
}

func TestFileSelectionIndices(t *testing.T) {
	t.Parallel()

	sel := FileSelection{4: false, 1: true, 0: false, 3: true}
	wanted, unwanted := sel.Indices()
	assert.Equal(t, []int{1, 3}, wanted)
	assert.Equal(t, []int{0, 4}, unwanted)
	assert.Equal(t, []int{0, 4}, sel.Unwanted())
}

func TestTorrentRecordCompleted(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		state    TorrentState
		progress float64
		want     bool
	}{
		{name: "seeding", state: StateSeeding, progress: 1, want: true},
		{name: "completed paused", state: StateCompleted, progress: 1, want: true},
		{name: "checking at full progress", state: StateChecking, progress: 1, want: true},
		{name: "downloading", state: StateDownloading, progress: 0.4, want: false},
		{name: "paused mid download", state: StatePaused, progress: 0.9, want: false},
		{name: "errored at full progress", state: StateErrored, progress: 1, want: false},
		{name: "missing files at full progress", state: StateMissingFiles, progress: 1, want: false},
		{name: "unknown at full progress", state: StateUnknown, progress: 1, want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			r := TorrentRecord{State: tt.state, Progress: tt.progress}
			assert.Equal(t, tt.want, r.Completed())
		})
	}
}

func TestNewSnapshot(t *testing.T) {
	t.Parallel()

	snap := NewSnapshot("child", []TorrentRecord{
		{Hash: " ABCDEF ", Name: "first"},
		{Hash: "abcdef", Name: "duplicate"},
		{Hash: "", Name: "no hash"},
		{Hash: "012345", Name: "second"},
	})

	assert.Len(t, snap, 2)
	assert.Equal(t, "first", snap["abcdef"].Name)
	assert.Equal(t, []string{"012345", "abcdef"}, snap.Hashes())

	without := snap.Without(CleanupSet{"abcdef": ReasonOrphaned})
	assert.Len(t, without, 1)
	assert.Len(t, snap, 2)
}

func TestSyncActionDescribe(t *testing.T) {
	t.Parallel()

	master := seeding("aa", "Movie.2024")
	child := master
	child.SavePath = "/old"

	relocate := NewRelocate(master, child)
	assert.Equal(t, "would relocate Movie.2024: save /old -> /data/movies", relocate.Describe(true))
	assert.Equal(t, "relocated Movie.2024: save /old -> /data/movies", relocate.Describe(false))

	del := NewDelete(TorrentRecord{Hash: "bb"}, ReasonOrphaned)
	assert.Equal(t, "would delete bb (orphaned)", del.Describe(true))
}
