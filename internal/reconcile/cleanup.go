// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package reconcile

import "slices"

// Classify flags child torrents that must be deleted before the diff runs:
// unhealthy torrents and torrents missing from the master view. raw is the
// master snapshot before the stopped filter was applied and is only used to
// tell a stopped master torrent apart from a true orphan; it may be nil.
func Classify(child, view, raw Snapshot) CleanupSet {
	set := make(CleanupSet)
	for h, r := range child {
		switch r.State {
		case StateErrored:
			set[h] = ReasonErrored
			continue
		case StateMissingFiles:
			set[h] = ReasonMissingFiles
			continue
		}

		if _, ok := view[h]; ok {
			continue
		}
		if _, ok := raw[h]; ok {
			set[h] = ReasonStoppedOnMaster
			continue
		}
		set[h] = ReasonOrphaned
	}
	return set
}

// cleanupActions turns the set into delete actions ordered by hash.
func cleanupActions(child Snapshot, set CleanupSet) []SyncAction {
	hashes := make([]string, 0, len(set))
	for h := range set {
		hashes = append(hashes, h)
	}
	slices.Sort(hashes)

	out := make([]SyncAction, 0, len(hashes))
	for _, h := range hashes {
		out = append(out, NewDelete(child[h], set[h]))
	}
	return out
}
