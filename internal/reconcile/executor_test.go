// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package reconcile

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func statuses(outcomes []ActionOutcome) []OutcomeStatus {
	out := make([]OutcomeStatus, 0, len(outcomes))
	for _, o := range outcomes {
		out = append(out, o.Status)
	}
	return out
}

func threeActionPlan() SyncPlan {
	m := seeding("aa", "a")
	c := m
	c.Category = "old"
	return SyncPlan{
		NewDelete(seeding("zz", "z"), ReasonOrphaned),
		NewRecategorize(m, c),
		NewAdd("master", seeding("bb", "b"), nil),
	}
}

func TestExecutorDryRun(t *testing.T) {
	t.Parallel()

	client := newFakeClient()
	client.put("master", seeding("bb", "b"))
	client.put("child", seeding("zz", "z"), seeding("aa", "a"))

	outcomes := NewExecutor(client, false).Execute(context.Background(), "child", threeActionPlan(), true)

	assert.Equal(t, 0, client.mutationCount())
	assert.Equal(t, []OutcomeStatus{OutcomeSkippedDryRun, OutcomeSkippedDryRun, OutcomeSkippedDryRun}, statuses(outcomes))
}

func TestExecutorFailureIsolation(t *testing.T) {
	t.Parallel()

	client := newFakeClient()
	client.put("master", seeding("bb", "b"))
	client.put("child", seeding("zz", "z"), seeding("aa", "a"))
	client.failOn[ActionRecategorize] = errFake

	outcomes := NewExecutor(client, false).Execute(context.Background(), "child", threeActionPlan(), false)

	require.Len(t, outcomes, 3)
	assert.Equal(t, []OutcomeStatus{OutcomeApplied, OutcomeFailed, OutcomeApplied}, statuses(outcomes))
	assert.Equal(t, 3, client.mutationCount())

	var actionErr *ActionError
	require.ErrorAs(t, outcomes[1].Err, &actionErr)
	assert.Equal(t, "child", actionErr.Instance)
	assert.Equal(t, ActionRecategorize, actionErr.Action.Kind)
	assert.ErrorIs(t, outcomes[1].Err, errFake)
}

func TestExecutorDeleteFilesFlag(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		deleteFiles bool
		want        string
	}{
		{name: "keeps data by default", deleteFiles: false, want: "delete child zz files=false"},
		{name: "removes data when configured", deleteFiles: true, want: "delete child zz files=true"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			client := newFakeClient()
			client.put("child", seeding("zz", "z"))
			plan := SyncPlan{NewDelete(seeding("zz", "z"), ReasonOrphaned)}

			NewExecutor(client, tt.deleteFiles).Execute(context.Background(), "child", plan, false)
			assert.Equal(t, []string{tt.want}, client.mutations)
		})
	}
}

func TestExecutorCancellationFinishesInFlightAction(t *testing.T) {
	t.Parallel()

	client := newFakeClient()
	client.put("master", seeding("bb", "b"))
	client.put("child", seeding("zz", "z"), seeding("aa", "a"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	client.cancelHook = func(call string) {
		if strings.HasPrefix(call, "delete") {
			cancel()
		}
	}

	outcomes := NewExecutor(client, false).Execute(ctx, "child", threeActionPlan(), false)

	assert.Equal(t, []OutcomeStatus{OutcomeApplied, OutcomeCancelled, OutcomeCancelled}, statuses(outcomes))
	assert.Equal(t, 1, client.mutationCount())
	assert.True(t, errors.Is(outcomes[1].Err, context.Canceled))
}

func TestExecutorUnknownAction(t *testing.T) {
	t.Parallel()

	client := newFakeClient()
	outcomes := NewExecutor(client, false).Execute(context.Background(), "child", SyncPlan{{Kind: "bogus", Hash: "aa"}}, false)
	require.Len(t, outcomes, 1)
	assert.Equal(t, OutcomeFailed, outcomes[0].Status)
}
