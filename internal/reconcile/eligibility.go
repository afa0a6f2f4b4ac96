// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package reconcile

import (
	"time"

	"github.com/rs/zerolog/log"
)

type EligibilityOptions struct {
	MinSeeding time.Duration
	Exclude    *ExcludeFilter
}

// MasterView returns the master snapshot used for orphan detection. When
// treatStoppedAsRemoved is set, stopped master torrents are dropped from it
// so their child copies are cleaned up.
func MasterView(master Snapshot, treatStoppedAsRemoved bool) Snapshot {
	if !treatStoppedAsRemoved {
		return master
	}

	view := make(Snapshot, len(master))
	dropped := 0
	for h, r := range master {
		if r.Stopped {
			dropped++
			continue
		}
		view[h] = r
	}

	if dropped > 0 {
		log.Info().Int("count", dropped).Msg("reconcile: treating stopped master torrents as removed")
	}
	return view
}

// IsEligible reports whether a master torrent may be propagated to children.
func IsEligible(r TorrentRecord, opts EligibilityOptions) bool {
	if !r.Completed() {
		return false
	}
	if r.SeedingTime < opts.MinSeeding {
		return false
	}

	excluded, err := opts.Exclude.Match(r)
	if err != nil {
		log.Warn().Err(err).Str("hash", r.Hash).Str("name", r.Name).Msg("reconcile: exclude expression failed, treating torrent as excluded")
		return false
	}
	return !excluded
}

// Eligible filters the master view down to torrents that children should hold.
// Ineligible torrents are invisible to the diff.
func Eligible(view Snapshot, opts EligibilityOptions) Snapshot {
	out := make(Snapshot, len(view))
	for h, r := range view {
		if IsEligible(r, opts) {
			out[h] = r
			continue
		}
		log.Trace().
			Str("hash", h).
			Str("name", r.Name).
			Str("state", string(r.State)).
			Dur("seedingTime", r.SeedingTime).
			Msg("reconcile: master torrent not eligible")
	}
	return out
}
