// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package reconcile

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

type OutcomeStatus string

const (
	OutcomeApplied       OutcomeStatus = "applied"
	OutcomeSkippedDryRun OutcomeStatus = "skipped-dry-run"
	OutcomeFailed        OutcomeStatus = "failed"
	OutcomeCancelled     OutcomeStatus = "cancelled"
)

// ActionOutcome records what happened to one planned action.
type ActionOutcome struct {
	Action   SyncAction
	Status   OutcomeStatus
	Err      error
	Duration time.Duration
}

// Executor applies plans to a child.
type Executor struct {
	client      TorrentClient
	deleteFiles bool
}

func NewExecutor(client TorrentClient, deleteFiles bool) *Executor {
	return &Executor{client: client, deleteFiles: deleteFiles}
}

// Execute applies plan in order. A failed action does not stop the ones after
// it. In dry-run mode no mutating call is made. Once ctx is cancelled the
// action in flight is allowed to finish and the rest are reported cancelled.
func (e *Executor) Execute(ctx context.Context, instance string, plan SyncPlan, dryRun bool) []ActionOutcome {
	outcomes := make([]ActionOutcome, 0, len(plan))

	for i, action := range plan {
		if ctx.Err() != nil {
			for _, rest := range plan[i:] {
				outcomes = append(outcomes, ActionOutcome{Action: rest, Status: OutcomeCancelled, Err: ctx.Err()})
			}
			log.Warn().Str("instance", instance).Int("remaining", len(plan)-i).Msg("reconcile: pass cancelled, remaining actions skipped")
			break
		}

		if dryRun {
			log.Info().Str("instance", instance).Str("action", string(action.Kind)).Str("hash", action.Hash).Msg("[DRY RUN] " + action.Describe(true))
			outcomes = append(outcomes, ActionOutcome{Action: action, Status: OutcomeSkippedDryRun})
			continue
		}

		start := time.Now()
		err := e.apply(context.WithoutCancel(ctx), instance, action)
		outcome := ActionOutcome{Action: action, Status: OutcomeApplied, Duration: time.Since(start)}
		if err != nil {
			outcome.Status = OutcomeFailed
			outcome.Err = &ActionError{Instance: instance, Action: action, Err: err}
			log.Error().Err(err).Str("instance", instance).Str("action", string(action.Kind)).Str("hash", action.Hash).Str("name", action.Name).Msg("reconcile: action failed")
		} else {
			log.Info().Str("instance", instance).Str("action", string(action.Kind)).Str("hash", action.Hash).Msg(action.Describe(false))
		}
		outcomes = append(outcomes, outcome)
	}

	return outcomes
}

func (e *Executor) apply(ctx context.Context, instance string, a SyncAction) error {
	switch a.Kind {
	case ActionDelete:
		return e.client.DeleteTorrent(ctx, instance, a.Hash, e.deleteFiles)
	case ActionAdd:
		return e.client.AddTorrent(ctx, instance, AddRequest{
			Source:       a.Source,
			Category:     a.Category,
			SavePath:     a.SavePath,
			DownloadPath: a.DownloadPath,
			Unwanted:     a.Unwanted,
		})
	case ActionRecategorize:
		return e.client.SetCategory(ctx, instance, a.Hash, a.Category)
	case ActionRelocate:
		return e.client.SetLocation(ctx, instance, LocationRequest{
			Hash:             a.Hash,
			SavePath:         a.SavePath,
			DownloadPath:     a.DownloadPath,
			PrevSavePath:     a.PrevSavePath,
			PrevDownloadPath: a.PrevDownloadPath,
		})
	case ActionSyncFileSelection:
		return e.client.SetFileSelection(ctx, instance, a.Hash, a.Selection)
	default:
		return fmt.Errorf("unknown action kind %q", a.Kind)
	}
}
