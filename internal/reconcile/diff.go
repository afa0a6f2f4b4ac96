// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package reconcile

import (
	"context"

	"github.com/rs/zerolog/log"
)

type DiffOptions struct {
	MasterInstance     string
	SyncFileSelections bool
}

// Differ computes the plan that drives one child toward the eligible master set.
type Differ struct {
	client  TorrentClient
	masters *SelectionCache
	opts    DiffOptions
}

func NewDiffer(client TorrentClient, masters *SelectionCache, opts DiffOptions) *Differ {
	return &Differ{client: client, masters: masters, opts: opts}
}

// Diff builds the plan for child. Cleanup deletions come first, ordered by
// hash, followed by per-torrent actions in hash order. Torrents present only
// on the child are left alone. The only error returned is context
// cancellation; failures to read file selections skip that torrent's
// selection sync for this pass.
func (d *Differ) Diff(ctx context.Context, child string, eligible, childSnap Snapshot, cleanup CleanupSet) (SyncPlan, error) {
	plan := SyncPlan(cleanupActions(childSnap, cleanup))
	remaining := childSnap.Without(cleanup)

	for _, h := range eligible.Hashes() {
		if err := ctx.Err(); err != nil {
			return plan, err
		}

		m := eligible[h]
		c, onChild := remaining[h]

		if !onChild {
			plan = append(plan, NewAdd(d.opts.MasterInstance, m, d.masterUnwanted(ctx, m)))
			continue
		}

		if m.Category != c.Category {
			plan = append(plan, NewRecategorize(m, c))
		}
		if m.SavePath != c.SavePath || m.DownloadPath != c.DownloadPath {
			plan = append(plan, NewRelocate(m, c))
		}

		if d.opts.SyncFileSelections {
			if diff, ok := d.selectionDiff(ctx, child, m, c); ok && len(diff) > 0 {
				plan = append(plan, NewSyncFileSelection(m, diff))
			}
		}
	}

	return plan, nil
}

func (d *Differ) masterSelection(ctx context.Context, m TorrentRecord) (FileSelection, error) {
	if m.Files != nil {
		return m.Files, nil
	}
	return d.masters.Get(ctx, d.opts.MasterInstance, m.Hash)
}

func (d *Differ) masterUnwanted(ctx context.Context, m TorrentRecord) []int {
	if !d.opts.SyncFileSelections {
		return nil
	}

	sel, err := d.masterSelection(ctx, m)
	if err != nil {
		log.Warn().Err(err).Str("hash", m.Hash).Str("name", m.Name).Msg("reconcile: could not read master file selection, adding with all files wanted")
		return nil
	}
	return sel.Unwanted()
}

func (d *Differ) selectionDiff(ctx context.Context, child string, m, c TorrentRecord) (FileSelection, bool) {
	master, err := d.masterSelection(ctx, m)
	if err != nil {
		log.Warn().Err(err).Str("hash", m.Hash).Str("name", m.Name).Msg("reconcile: could not read master file selection, skipping file sync")
		return nil, false
	}

	current := c.Files
	if current == nil {
		current, err = d.client.GetFileSelection(ctx, child, c.Hash)
		if err != nil {
			log.Warn().Err(err).Str("instance", child).Str("hash", c.Hash).Str("name", c.Name).Msg("reconcile: could not read child file selection, skipping file sync")
			return nil, false
		}
	}

	return current.Diff(master), true
}
