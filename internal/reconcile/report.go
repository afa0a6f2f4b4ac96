// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package reconcile

import "time"

// Tally counts outcomes by status.
type Tally struct {
	Applied   int
	Skipped   int
	Failed    int
	Cancelled int
}

func (t Tally) Total() int {
	return t.Applied + t.Skipped + t.Failed + t.Cancelled
}

// ChildReport summarizes the reconciliation of one child.
type ChildReport struct {
	Instance      string
	ChildTorrents int
	Cleanup       CleanupSet
	Plan          SyncPlan
	Outcomes      []ActionOutcome
	// Err is set when the child could not be reconciled at all.
	Err error
}

func (r ChildReport) Tally() Tally {
	var t Tally
	for _, o := range r.Outcomes {
		switch o.Status {
		case OutcomeApplied:
			t.Applied++
		case OutcomeSkippedDryRun:
			t.Skipped++
		case OutcomeFailed:
			t.Failed++
		case OutcomeCancelled:
			t.Cancelled++
		}
	}
	return t
}

// PassReport summarizes one reconciliation pass across all children.
type PassReport struct {
	Master         string
	DryRun         bool
	StartedAt      time.Time
	FinishedAt     time.Time
	MasterTorrents int
	Eligible       int
	// Err is set when the pass was aborted before children were processed.
	Err      error
	Children []ChildReport
}

func (p *PassReport) Duration() time.Duration {
	return p.FinishedAt.Sub(p.StartedAt)
}

// Tally sums outcomes over all children.
func (p *PassReport) Tally() Tally {
	var t Tally
	for _, c := range p.Children {
		ct := c.Tally()
		t.Applied += ct.Applied
		t.Skipped += ct.Skipped
		t.Failed += ct.Failed
		t.Cancelled += ct.Cancelled
	}
	return t
}

// ChildErrors returns the number of children that could not be reconciled.
func (p *PassReport) ChildErrors() int {
	n := 0
	for _, c := range p.Children {
		if c.Err != nil {
			n++
		}
	}
	return n
}
