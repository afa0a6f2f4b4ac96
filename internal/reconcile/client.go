// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package reconcile

import "context"

// AddRequest carries everything a child needs to start tracking a torrent
// that already exists on the master.
type AddRequest struct {
	Source       TorrentSource
	Category     string
	SavePath     string
	DownloadPath string
	// Unwanted file indices are deselected right after the torrent is added.
	Unwanted []int
}

// LocationRequest moves a torrent. Only paths that differ from the previous
// values are changed.
type LocationRequest struct {
	Hash             string
	SavePath         string
	DownloadPath     string
	PrevSavePath     string
	PrevDownloadPath string
}

// TorrentClient is the capability the engine needs from a torrent client.
// Every failure to reach an instance must be returned as a *TransportError.
type TorrentClient interface {
	ListTorrents(ctx context.Context, instance string) ([]TorrentRecord, error)
	GetFileSelection(ctx context.Context, instance, hash string) (FileSelection, error)
	DeleteTorrent(ctx context.Context, instance, hash string, deleteFiles bool) error
	AddTorrent(ctx context.Context, instance string, req AddRequest) error
	SetCategory(ctx context.Context, instance, hash, category string) error
	SetLocation(ctx context.Context, instance string, req LocationRequest) error
	SetFileSelection(ctx context.Context, instance, hash string, diff FileSelection) error
}
