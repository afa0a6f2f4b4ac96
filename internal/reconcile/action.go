// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package reconcile

import (
	"fmt"
	"strings"
)

type ActionKind string

const (
	ActionDelete            ActionKind = "delete"
	ActionAdd               ActionKind = "add"
	ActionRecategorize      ActionKind = "recategorize"
	ActionRelocate          ActionKind = "relocate"
	ActionSyncFileSelection ActionKind = "sync-file-selection"
)

// CleanupReason explains why a child torrent is scheduled for deletion.
type CleanupReason string

const (
	ReasonErrored         CleanupReason = "errored"
	ReasonMissingFiles    CleanupReason = "missing-files"
	ReasonOrphaned        CleanupReason = "orphaned"
	ReasonStoppedOnMaster CleanupReason = "stopped-on-master"
)

// CleanupSet holds the child hashes flagged for pre-flight deletion.
type CleanupSet map[string]CleanupReason

// TorrentSource identifies where the payload for an Add comes from.
type TorrentSource struct {
	Instance string
	Hash     string
	Name     string
}

// SyncAction is a single idempotent change to apply to a child. Only the
// fields relevant to Kind are set.
type SyncAction struct {
	Kind ActionKind
	Hash string
	Name string

	// delete
	Reason CleanupReason

	// add
	Source   TorrentSource
	Unwanted []int

	// add, recategorize
	Category     string
	PrevCategory string

	// add, relocate
	SavePath         string
	DownloadPath     string
	PrevSavePath     string
	PrevDownloadPath string

	// sync-file-selection
	Selection FileSelection
}

func NewDelete(rec TorrentRecord, reason CleanupReason) SyncAction {
	return SyncAction{Kind: ActionDelete, Hash: rec.Hash, Name: rec.DisplayName(), Reason: reason}
}

func NewAdd(masterInstance string, rec TorrentRecord, unwanted []int) SyncAction {
	return SyncAction{
		Kind:         ActionAdd,
		Hash:         rec.Hash,
		Name:         rec.DisplayName(),
		Source:       TorrentSource{Instance: masterInstance, Hash: rec.Hash, Name: rec.Name},
		Category:     rec.Category,
		SavePath:     rec.SavePath,
		DownloadPath: rec.DownloadPath,
		Unwanted:     unwanted,
	}
}

func NewRecategorize(master, child TorrentRecord) SyncAction {
	return SyncAction{
		Kind:         ActionRecategorize,
		Hash:         master.Hash,
		Name:         master.DisplayName(),
		Category:     master.Category,
		PrevCategory: child.Category,
	}
}

func NewRelocate(master, child TorrentRecord) SyncAction {
	return SyncAction{
		Kind:             ActionRelocate,
		Hash:             master.Hash,
		Name:             master.DisplayName(),
		SavePath:         master.SavePath,
		DownloadPath:     master.DownloadPath,
		PrevSavePath:     child.SavePath,
		PrevDownloadPath: child.DownloadPath,
	}
}

func NewSyncFileSelection(master TorrentRecord, diff FileSelection) SyncAction {
	return SyncAction{Kind: ActionSyncFileSelection, Hash: master.Hash, Name: master.DisplayName(), Selection: diff}
}

// Describe renders the action for humans. Dry-run descriptions use "would".
func (a SyncAction) Describe(dryRun bool) string {
	verb := func(live, dry string) string {
		if dryRun {
			return "would " + dry
		}
		return live
	}

	switch a.Kind {
	case ActionDelete:
		return fmt.Sprintf("%s %s (%s)", verb("deleted", "delete"), a.Name, a.Reason)
	case ActionAdd:
		desc := fmt.Sprintf("%s %s to %s", verb("added", "add"), a.Name, a.SavePath)
		if a.Category != "" {
			desc += fmt.Sprintf(" [%s]", a.Category)
		}
		if len(a.Unwanted) > 0 {
			desc += fmt.Sprintf(" with %d file(s) deselected", len(a.Unwanted))
		}
		return desc
	case ActionRecategorize:
		return fmt.Sprintf("%s %s: %q -> %q", verb("recategorized", "recategorize"), a.Name, a.PrevCategory, a.Category)
	case ActionRelocate:
		var moves []string
		if a.SavePath != a.PrevSavePath {
			moves = append(moves, fmt.Sprintf("save %s -> %s", a.PrevSavePath, a.SavePath))
		}
		if a.DownloadPath != a.PrevDownloadPath {
			moves = append(moves, fmt.Sprintf("download %s -> %s", a.PrevDownloadPath, a.DownloadPath))
		}
		return fmt.Sprintf("%s %s: %s", verb("relocated", "relocate"), a.Name, strings.Join(moves, ", "))
	case ActionSyncFileSelection:
		wanted, unwanted := a.Selection.Indices()
		return fmt.Sprintf("%s files of %s: +%d -%d", verb("synced", "sync"), a.Name, len(wanted), len(unwanted))
	}
	return fmt.Sprintf("%s %s", a.Kind, a.Name)
}

// SyncPlan is the ordered list of actions for one child in one pass.
type SyncPlan []SyncAction

// Counts tallies actions by kind.
func (p SyncPlan) Counts() map[ActionKind]int {
	counts := make(map[ActionKind]int)
	for _, a := range p {
		counts[a.Kind]++
	}
	return counts
}

func (p SyncPlan) Empty() bool {
	return len(p) == 0
}
