// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package qbittorrent

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/anacrolix/torrent/metainfo"
	qbt "github.com/autobrr/go-qbittorrent"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/autobrr/qbtsync/internal/reconcile"
)

var (
	ErrUnsupported    = errors.New("not supported by this qBittorrent version")
	ErrTorrentMissing = errors.New("torrent did not appear after add")
)

const (
	addVisibleTimeout = 15 * time.Second
	addPollInterval   = 500 * time.Millisecond
)

type TransportOptions struct {
	SkipHashCheck bool
}

// Transport implements reconcile.TorrentClient on top of a ClientPool.
type Transport struct {
	pool *ClientPool
	opts TransportOptions

	createdCategories     sync.Map
	categoryCreationGroup singleflight.Group
}

var _ reconcile.TorrentClient = (*Transport)(nil)

func NewTransport(pool *ClientPool, opts TransportOptions) *Transport {
	return &Transport{pool: pool, opts: opts}
}

func transportErr(instance, op string, err error) error {
	return &reconcile.TransportError{Instance: instance, Op: op, Err: err}
}

func (t *Transport) client(ctx context.Context, instance string) (*Client, error) {
	client, err := t.pool.GetClient(ctx, instance)
	if err != nil {
		return nil, transportErr(instance, "connect", err)
	}
	return client, nil
}

func (t *Transport) ListTorrents(ctx context.Context, instance string) ([]reconcile.TorrentRecord, error) {
	client, err := t.client(ctx, instance)
	if err != nil {
		return nil, err
	}

	torrents, err := client.GetTorrentsCtx(ctx, qbt.TorrentFilterOptions{})
	if err != nil {
		t.pool.RemoveClient(instance)
		return nil, transportErr(instance, "list torrents", err)
	}

	records := make([]reconcile.TorrentRecord, 0, len(torrents))
	for _, torrent := range torrents {
		records = append(records, toRecord(torrent))
	}
	return records, nil
}

func (t *Transport) GetFileSelection(ctx context.Context, instance, hash string) (reconcile.FileSelection, error) {
	client, err := t.client(ctx, instance)
	if err != nil {
		return nil, err
	}

	files, err := client.GetFilesInformationCtx(ctx, hash)
	if err != nil {
		return nil, transportErr(instance, "get files", err)
	}
	if files == nil {
		return reconcile.FileSelection{}, nil
	}

	return toFileSelection(*files), nil
}

func (t *Transport) DeleteTorrent(ctx context.Context, instance, hash string, deleteFiles bool) error {
	client, err := t.client(ctx, instance)
	if err != nil {
		return err
	}

	if err := client.DeleteTorrentsCtx(ctx, []string{hash}, deleteFiles); err != nil {
		return transportErr(instance, "delete torrent", err)
	}
	return nil
}

// AddTorrent adds the master's torrent to instance. With unwanted files the
// torrent is added stopped, deselected and then resumed; the resume runs on
// every exit path once the add went through.
func (t *Transport) AddTorrent(ctx context.Context, instance string, req reconcile.AddRequest) (err error) {
	source, err := t.client(ctx, req.Source.Instance)
	if err != nil {
		return err
	}
	target, err := t.client(ctx, instance)
	if err != nil {
		return err
	}

	if req.Category != "" {
		if err := t.ensureCategory(ctx, target, req.Category, ""); err != nil {
			log.Warn().
				Err(err).
				Str("instance", instance).
				Str("category", req.Category).
				Msg("sync: failed to create category, qBittorrent will create it on add")
		}
	}

	options := addOptions(req, t.opts.SkipHashCheck)
	hash := reconcile.NormalizeHash(req.Source.Hash)

	payload, err := t.exportTorrent(ctx, source, hash)
	switch {
	case err == nil:
		err = target.AddTorrentFromMemoryCtx(ctx, payload, options)
	case errors.Is(err, ErrUnsupported):
		var magnet string
		magnet, err = magnetURI(hash, req.Source.Name)
		if err == nil {
			log.Debug().Str("instance", instance).Str("hash", hash).Msg("sync: torrent export unsupported on master, adding by magnet")
			err = target.AddTorrentFromUrlCtx(ctx, magnet, options)
		}
	default:
		return err
	}

	if err != nil && !isAlreadyPresent(err) {
		return transportErr(instance, "add torrent", err)
	}

	if len(req.Unwanted) == 0 {
		return nil
	}

	defer func() {
		resumeErr := target.ResumeCtx(ctx, []string{hash})
		if resumeErr == nil {
			return
		}
		if err == nil {
			err = transportErr(instance, "resume torrent", resumeErr)
			return
		}
		log.Warn().Err(resumeErr).Str("instance", instance).Str("hash", hash).Msg("sync: failed to resume torrent after add")
	}()

	if !t.waitForTorrent(ctx, target, hash, addVisibleTimeout) {
		return transportErr(instance, "add torrent", errors.Wrapf(ErrTorrentMissing, "hash %s", hash))
	}

	if err := setFilePriority(ctx, target, hash, req.Unwanted, 0); err != nil {
		return transportErr(instance, "deselect files", err)
	}
	return nil
}

func (t *Transport) SetCategory(ctx context.Context, instance, hash, category string) error {
	client, err := t.client(ctx, instance)
	if err != nil {
		return err
	}

	if category != "" {
		if err := t.ensureCategory(ctx, client, category, ""); err != nil {
			return transportErr(instance, "create category", err)
		}
	}

	if err := client.SetCategoryCtx(ctx, []string{hash}, category); err != nil {
		return transportErr(instance, "set category", err)
	}
	return nil
}

// SetLocation pauses the torrent, moves the paths that changed and resumes it.
// A download path move on an instance without temp path support fails after
// the save path was moved.
func (t *Transport) SetLocation(ctx context.Context, instance string, req reconcile.LocationRequest) error {
	client, err := t.client(ctx, instance)
	if err != nil {
		return err
	}

	moveSave := req.SavePath != req.PrevSavePath
	moveDownload := req.DownloadPath != req.PrevDownloadPath
	if !moveSave && !moveDownload {
		return nil
	}

	downloadSupported := client.SupportsTorrentTmpPath()
	if !moveSave && !downloadSupported {
		return transportErr(instance, "set download path", ErrUnsupported)
	}

	hashes := []string{req.Hash}
	if err := client.PauseCtx(ctx, hashes); err != nil {
		return transportErr(instance, "pause torrent", err)
	}
	defer func() {
		if err := client.ResumeCtx(ctx, hashes); err != nil {
			log.Warn().Err(err).Str("instance", instance).Str("hash", req.Hash).Msg("sync: failed to resume torrent after relocation")
		}
	}()

	if moveSave {
		if err := client.SetLocationCtx(ctx, hashes, req.SavePath); err != nil {
			return transportErr(instance, "set save path", err)
		}
	}

	if moveDownload {
		if !downloadSupported {
			return transportErr(instance, "set download path", ErrUnsupported)
		}
		if err := client.SetDownloadPathCtx(ctx, hashes, req.DownloadPath); err != nil {
			return transportErr(instance, "set download path", err)
		}
	}

	return nil
}

func (t *Transport) SetFileSelection(ctx context.Context, instance, hash string, diff reconcile.FileSelection) error {
	client, err := t.client(ctx, instance)
	if err != nil {
		return err
	}

	if !client.SupportsFilePriority() {
		return transportErr(instance, "set file priority", ErrUnsupported)
	}

	wanted, unwanted := diff.Indices()
	if err := setFilePriority(ctx, client, hash, unwanted, 0); err != nil {
		return transportErr(instance, "deselect files", err)
	}
	if err := setFilePriority(ctx, client, hash, wanted, 1); err != nil {
		return transportErr(instance, "select files", err)
	}
	return nil
}

type filePrioritySetter interface {
	SetFilePriorityCtx(ctx context.Context, hash string, ids string, priority int) error
}

func setFilePriority(ctx context.Context, client filePrioritySetter, hash string, indices []int, priority int) error {
	if len(indices) == 0 {
		return nil
	}

	if err := client.SetFilePriorityCtx(ctx, hash, joinIndices(indices), priority); err != nil {
		switch {
		case errors.Is(err, qbt.ErrInvalidPriority):
			return fmt.Errorf("invalid file priority %d: %w", priority, err)
		case errors.Is(err, qbt.ErrTorrentMetdataNotDownloadedYet):
			return fmt.Errorf("torrent metadata not downloaded yet: %w", err)
		}
		return err
	}
	return nil
}

func joinIndices(indices []int) string {
	parts := make([]string, len(indices))
	for i, idx := range indices {
		parts[i] = strconv.Itoa(idx)
	}
	return strings.Join(parts, "|")
}

// exportTorrent returns the .torrent payload from the master. The payload is
// parsed to catch truncated exports; an infohash mismatch is only logged.
func (t *Transport) exportTorrent(ctx context.Context, source *Client, hash string) ([]byte, error) {
	if !source.SupportsTorrentExport() {
		return nil, ErrUnsupported
	}

	data, err := source.ExportTorrentCtx(ctx, hash)
	if err != nil {
		return nil, transportErr(source.Name(), "export torrent", err)
	}

	got, err := torrentInfoHash(data)
	if err != nil {
		return nil, transportErr(source.Name(), "export torrent", err)
	}
	if !strings.EqualFold(got, hash) {
		log.Warn().Str("instance", source.Name()).Str("hash", hash).Str("exportedHash", got).Msg("sync: exported torrent infohash differs from master hash")
	}
	return data, nil
}

func torrentInfoHash(data []byte) (string, error) {
	mi, err := metainfo.Load(bytes.NewReader(data))
	if err != nil {
		return "", errors.Wrap(err, "parse torrent file")
	}
	if _, err := mi.UnmarshalInfo(); err != nil {
		return "", errors.Wrap(err, "parse torrent info")
	}
	return mi.HashInfoBytes().HexString(), nil
}

func magnetURI(hash, name string) (string, error) {
	var ih metainfo.Hash
	if err := ih.FromHexString(hash); err != nil {
		return "", errors.Wrapf(err, "invalid infohash %q", hash)
	}
	m := metainfo.Magnet{InfoHash: ih, DisplayName: name}
	return m.String(), nil
}

func addOptions(req reconcile.AddRequest, skipHashCheck bool) map[string]string {
	options := map[string]string{
		"autoTMM":       "false",
		"savepath":      req.SavePath,
		"skip_checking": strconv.FormatBool(skipHashCheck),
	}

	if req.Category != "" {
		options["category"] = req.Category
	}

	// useDownloadPath and downloadPath are not officially documented by the qBittorrent API
	if req.DownloadPath != "" {
		options["useDownloadPath"] = "true"
		options["downloadPath"] = req.DownloadPath
	}

	// Deselect files before any data is touched
	if len(req.Unwanted) > 0 {
		options["paused"] = "true"
		options["stopped"] = "true"
	}

	return options
}

func isAlreadyPresent(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "409") || strings.Contains(msg, "already")
}

func (t *Transport) waitForTorrent(ctx context.Context, client *Client, hash string, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		torrents, err := client.GetTorrentsCtx(ctx, qbt.TorrentFilterOptions{Hashes: []string{hash}})
		if err == nil && len(torrents) > 0 {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(addPollInterval):
		}
	}
	return false
}

func (t *Transport) ensureCategory(ctx context.Context, client *Client, category, savePath string) error {
	key := client.Name() + ":" + category

	if _, ok := t.createdCategories.Load(key); ok {
		return nil
	}

	_, err, _ := t.categoryCreationGroup.Do(key, func() (any, error) {
		if _, ok := t.createdCategories.Load(key); ok {
			return nil, nil
		}

		categories, err := client.GetCategoriesCtx(ctx)
		if err != nil {
			return nil, err
		}

		if _, exists := categories[category]; exists {
			t.createdCategories.Store(key, true)
			return nil, nil
		}

		if strings.Contains(category, "/") && !client.SupportsSubcategories() {
			log.Debug().Str("instance", client.Name()).Str("category", category).Msg("sync: subcategories unsupported, creating flat category")
		}

		if err := client.CreateCategoryCtx(ctx, category, savePath); err != nil {
			return nil, err
		}

		t.createdCategories.Store(key, true)
		log.Debug().
			Str("instance", client.Name()).
			Str("category", category).
			Msg("sync: created category")

		return nil, nil
	})

	return err
}

// normalizeState maps a qBittorrent state onto the engine's states. stopped
// reports whether the torrent was stopped or paused by the user.
func normalizeState(state qbt.TorrentState) (normalized reconcile.TorrentState, stopped bool) {
	switch state {
	case qbt.TorrentStateError:
		return reconcile.StateErrored, false
	case qbt.TorrentStateMissingFiles:
		return reconcile.StateMissingFiles, false
	case qbt.TorrentStateUploading, qbt.TorrentStateStalledUp, qbt.TorrentStateForcedUp:
		return reconcile.StateSeeding, false
	case qbt.TorrentStatePausedUp, qbt.TorrentStateStoppedUp:
		return reconcile.StateCompleted, true
	case qbt.TorrentStateQueuedUp:
		return reconcile.StateCompleted, false
	case qbt.TorrentStateDownloading, qbt.TorrentStateMetaDl, qbt.TorrentStateStalledDl,
		qbt.TorrentStateForcedDl, qbt.TorrentStateQueuedDl, qbt.TorrentStateAllocating:
		return reconcile.StateDownloading, false
	case qbt.TorrentStatePausedDl, qbt.TorrentStateStoppedDl:
		return reconcile.StatePaused, true
	case qbt.TorrentStateCheckingUp, qbt.TorrentStateCheckingDl, qbt.TorrentStateCheckingResumeData,
		qbt.TorrentStateMoving:
		return reconcile.StateChecking, false
	default:
		return reconcile.StateUnknown, false
	}
}

func toRecord(t qbt.Torrent) reconcile.TorrentRecord {
	state, stopped := normalizeState(t.State)
	return reconcile.TorrentRecord{
		Hash:         reconcile.NormalizeHash(t.Hash),
		Name:         t.Name,
		Category:     t.Category,
		SavePath:     t.SavePath,
		DownloadPath: t.DownloadPath,
		State:        state,
		Stopped:      stopped,
		SeedingTime:  time.Duration(t.SeedingTime) * time.Second,
		Progress:     t.Progress,
	}
}

func toFileSelection(files qbt.TorrentFiles) reconcile.FileSelection {
	sel := make(reconcile.FileSelection, len(files))
	for _, f := range files {
		sel[f.Index] = f.Priority != 0
	}
	return sel
}
