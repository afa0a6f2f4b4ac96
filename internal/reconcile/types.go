// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package reconcile

import (
	"slices"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// TorrentState is the normalized lifecycle state of a torrent, independent of
// the client that reported it.
type TorrentState string

const (
	StateDownloading  TorrentState = "downloading"
	StateSeeding      TorrentState = "seeding"
	StateCompleted    TorrentState = "completed"
	StatePaused       TorrentState = "paused"
	StateErrored      TorrentState = "errored"
	StateMissingFiles TorrentState = "missing-files"
	StateChecking     TorrentState = "checking"
	StateUnknown      TorrentState = "unknown"
)

// Unhealthy reports whether the state marks a torrent that must be removed
// from a child before reconciliation.
func (s TorrentState) Unhealthy() bool {
	return s == StateErrored || s == StateMissingFiles
}

// FileSelection maps a file index to whether the file is wanted. A missing
// index is treated as wanted.
type FileSelection map[int]bool

// Wanted reports the selection of a single file.
func (s FileSelection) Wanted(index int) bool {
	wanted, ok := s[index]
	return !ok || wanted
}

// Diff returns the entries of target whose value differs from s. Only
// differing keys are included.
func (s FileSelection) Diff(target FileSelection) FileSelection {
	diff := make(FileSelection)
	for idx := range target {
		if s.Wanted(idx) != target.Wanted(idx) {
			diff[idx] = target.Wanted(idx)
		}
	}
	for idx := range s {
		if _, seen := target[idx]; seen {
			continue
		}
		if !s.Wanted(idx) {
			diff[idx] = true
		}
	}
	return diff
}

// Apply returns a copy of s with diff merged in.
func (s FileSelection) Apply(diff FileSelection) FileSelection {
	out := make(FileSelection, len(s)+len(diff))
	for idx, wanted := range s {
		out[idx] = wanted
	}
	for idx, wanted := range diff {
		out[idx] = wanted
	}
	return out
}

// Unwanted returns the sorted indices of deselected files.
func (s FileSelection) Unwanted() []int {
	var out []int
	for idx, wanted := range s {
		if !wanted {
			out = append(out, idx)
		}
	}
	slices.Sort(out)
	return out
}

// Indices returns the sorted indices grouped by target value.
func (s FileSelection) Indices() (wanted, unwanted []int) {
	for idx, w := range s {
		if w {
			wanted = append(wanted, idx)
		} else {
			unwanted = append(unwanted, idx)
		}
	}
	slices.Sort(wanted)
	slices.Sort(unwanted)
	return wanted, unwanted
}

// TorrentRecord is one torrent as seen on one instance at one moment.
type TorrentRecord struct {
	Hash         string
	Name         string
	Category     string
	SavePath     string
	DownloadPath string
	State        TorrentState
	// Stopped is set when the client reports the torrent as stopped or paused
	// by the user, regardless of completion.
	Stopped     bool
	SeedingTime time.Duration
	Progress    float64
	// Files is nil until fetched.
	Files FileSelection
}

// Completed reports whether the torrent holds all of its wanted data.
func (r TorrentRecord) Completed() bool {
	switch r.State {
	case StateSeeding, StateCompleted:
		return true
	case StateErrored, StateMissingFiles:
		return false
	}
	return r.Progress >= 1
}

// DisplayName returns the name, falling back to the hash.
func (r TorrentRecord) DisplayName() string {
	if r.Name != "" {
		return r.Name
	}
	return r.Hash
}

// NormalizeHash returns the canonical form of an infohash used as a join key.
func NormalizeHash(hash string) string {
	return strings.ToLower(strings.TrimSpace(hash))
}

// Snapshot is the torrent set of one instance keyed by normalized hash.
type Snapshot map[string]TorrentRecord

// NewSnapshot indexes records by hash. Duplicate hashes keep the first record.
func NewSnapshot(instance string, records []TorrentRecord) Snapshot {
	snap := make(Snapshot, len(records))
	for _, r := range records {
		r.Hash = NormalizeHash(r.Hash)
		if r.Hash == "" {
			continue
		}
		if _, dup := snap[r.Hash]; dup {
			log.Warn().Str("instance", instance).Str("hash", r.Hash).Msg("reconcile: duplicate hash in snapshot, keeping first")
			continue
		}
		snap[r.Hash] = r
	}
	return snap
}

// Hashes returns the snapshot keys in sorted order.
func (s Snapshot) Hashes() []string {
	out := make([]string, 0, len(s))
	for h := range s {
		out = append(out, h)
	}
	slices.Sort(out)
	return out
}

// Without returns a copy of s minus the given hashes.
func (s Snapshot) Without(hashes map[string]CleanupReason) Snapshot {
	out := make(Snapshot, len(s))
	for h, r := range s {
		if _, drop := hashes[h]; drop {
			continue
		}
		out[h] = r
	}
	return out
}
