// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package reconcile

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

const (
	defaultConcurrency = 4
	selectionCacheTTL  = 10 * time.Minute
)

// Options configures a reconciliation pass.
type Options struct {
	Master                string
	Children              []string
	MinSeeding            time.Duration
	Exclude               *ExcludeFilter
	TreatStoppedAsRemoved bool
	SyncFileSelections    bool
	DeleteFiles           bool
	DryRun                bool
	// Concurrency bounds how many children are reconciled at once.
	Concurrency int
}

// Engine runs reconciliation passes of a master against its children.
type Engine struct {
	client TorrentClient
	opts   Options
}

func NewEngine(client TorrentClient, opts Options) *Engine {
	if opts.Concurrency <= 0 {
		opts.Concurrency = defaultConcurrency
	}
	return &Engine{client: client, opts: opts}
}

func (e *Engine) Options() Options {
	return e.opts
}

// Run executes one pass. The master is read once and shared read-only by all
// children. A master failure aborts the pass with a *TransportError; a child
// failure is recorded in that child's report and does not affect siblings.
// The returned report is never nil.
func (e *Engine) Run(ctx context.Context) (*PassReport, error) {
	report := &PassReport{
		Master:    e.opts.Master,
		DryRun:    e.opts.DryRun,
		StartedAt: time.Now(),
	}
	defer func() { report.FinishedAt = time.Now() }()

	records, err := e.client.ListTorrents(ctx, e.opts.Master)
	if err != nil {
		var te *TransportError
		if !errors.As(err, &te) {
			err = &TransportError{Instance: e.opts.Master, Op: "list torrents", Err: err}
		}
		report.Err = err
		return report, err
	}

	raw := NewSnapshot(e.opts.Master, records)
	view := MasterView(raw, e.opts.TreatStoppedAsRemoved)
	eligible := Eligible(view, EligibilityOptions{MinSeeding: e.opts.MinSeeding, Exclude: e.opts.Exclude})
	report.MasterTorrents = len(raw)
	report.Eligible = len(eligible)

	log.Info().
		Str("instance", e.opts.Master).
		Int("torrents", len(raw)).
		Int("eligible", len(eligible)).
		Bool("dryRun", e.opts.DryRun).
		Msg("reconcile: master snapshot loaded")

	cache := NewSelectionCache(e.client, selectionCacheTTL)
	defer cache.Close()

	differ := NewDiffer(e.client, cache, DiffOptions{
		MasterInstance:     e.opts.Master,
		SyncFileSelections: e.opts.SyncFileSelections,
	})
	executor := NewExecutor(e.client, e.opts.DeleteFiles)

	report.Children = make([]ChildReport, len(e.opts.Children))

	var g errgroup.Group
	g.SetLimit(e.opts.Concurrency)

	for i, child := range e.opts.Children {
		g.Go(func() error {
			report.Children[i] = e.reconcileChild(ctx, child, raw, view, eligible, differ, executor)
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return report, err
	}
	return report, nil
}

func (e *Engine) reconcileChild(ctx context.Context, child string, raw, view, eligible Snapshot, differ *Differ, executor *Executor) ChildReport {
	cr := ChildReport{Instance: child}

	if err := ctx.Err(); err != nil {
		cr.Err = err
		return cr
	}

	records, err := e.client.ListTorrents(ctx, child)
	if err != nil {
		var te *TransportError
		if !errors.As(err, &te) {
			err = &TransportError{Instance: child, Op: "list torrents", Err: err}
		}
		log.Error().Err(err).Str("instance", child).Msg("reconcile: child unreachable, skipping")
		cr.Err = err
		return cr
	}

	snap := NewSnapshot(child, records)
	cr.ChildTorrents = len(snap)
	cr.Cleanup = Classify(snap, view, raw)

	plan, err := differ.Diff(ctx, child, eligible, snap, cr.Cleanup)
	cr.Plan = plan
	if err != nil {
		cr.Err = err
		return cr
	}

	counts := plan.Counts()
	log.Info().
		Str("instance", child).
		Int("torrents", len(snap)).
		Int("delete", counts[ActionDelete]).
		Int("add", counts[ActionAdd]).
		Int("recategorize", counts[ActionRecategorize]).
		Int("relocate", counts[ActionRelocate]).
		Int("fileSync", counts[ActionSyncFileSelection]).
		Msg("reconcile: plan computed")

	cr.Outcomes = executor.Execute(ctx, child, plan, e.opts.DryRun)
	return cr
}
