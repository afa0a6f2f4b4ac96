// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package reconcile

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	t.Parallel()

	healthy := seeding("aa", "healthy")
	broken := seeding("bb", "broken")
	broken.State = StateErrored
	missing := seeding("cc", "missing")
	missing.State = StateMissingFiles
	orphan := seeding("dd", "orphan")
	stopped := seeding("ee", "stopped")
	young := seeding("ff", "young")
	young.State = StateDownloading

	raw := Snapshot{"aa": healthy, "bb": broken, "cc": missing, "ee": stopped, "ff": young}
	view := raw.Without(CleanupSet{"ee": ReasonStoppedOnMaster})

	tests := []struct {
		name  string
		child Snapshot
		raw   Snapshot
		want  CleanupSet
	}{
		{
			name:  "healthy torrent present on master",
			child: Snapshot{"aa": healthy},
			raw:   raw,
			want:  CleanupSet{},
		},
		{
			name:  "errored and missing files are flagged even when on master",
			child: Snapshot{"bb": broken, "cc": missing},
			raw:   raw,
			want:  CleanupSet{"bb": ReasonErrored, "cc": ReasonMissingFiles},
		},
		{
			name:  "orphan",
			child: Snapshot{"dd": orphan},
			raw:   raw,
			want:  CleanupSet{"dd": ReasonOrphaned},
		},
		{
			name:  "stopped on master",
			child: Snapshot{"ee": stopped},
			raw:   raw,
			want:  CleanupSet{"ee": ReasonStoppedOnMaster},
		},
		{
			name:  "stopped on master without raw snapshot is an orphan",
			child: Snapshot{"ee": stopped},
			raw:   nil,
			want:  CleanupSet{"ee": ReasonOrphaned},
		},
		{
			name:  "ineligible master torrent keeps its child copy",
			child: Snapshot{"ff": seeding("ff", "young")},
			raw:   raw,
			want:  CleanupSet{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, Classify(tt.child, view, tt.raw))
		})
	}
}

func TestCleanupActionsSortedByHash(t *testing.T) {
	t.Parallel()

	child := Snapshot{"cc": seeding("cc", "c"), "aa": seeding("aa", "a"), "bb": seeding("bb", "b")}
	actions := cleanupActions(child, CleanupSet{"cc": ReasonOrphaned, "aa": ReasonErrored, "bb": ReasonMissingFiles})

	var hashes []string
	for _, a := range actions {
		assert.Equal(t, ActionDelete, a.Kind)
		hashes = append(hashes, a.Hash)
	}
	assert.Equal(t, []string{"aa", "bb", "cc"}, hashes)
	assert.Equal(t, ReasonErrored, actions[0].Reason)
}
