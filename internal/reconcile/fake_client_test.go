// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package reconcile

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sync"
	"time"
)

var errFake = errors.New("fake failure")

// fakeClient is an in-memory TorrentClient. Mutating calls change the stored
// state so a second pass sees the result of the first.
type fakeClient struct {
	mu       sync.Mutex
	torrents map[string]map[string]TorrentRecord
	files    map[string]map[string]FileSelection

	listErr  map[string]error
	filesErr map[string]error
	failOn   map[ActionKind]error

	mutations  []string
	fileReads  map[string]int
	cancelHook func(call string)
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		torrents:  make(map[string]map[string]TorrentRecord),
		files:     make(map[string]map[string]FileSelection),
		listErr:   make(map[string]error),
		filesErr:  make(map[string]error),
		failOn:    make(map[ActionKind]error),
		fileReads: make(map[string]int),
	}
}

func (f *fakeClient) put(instance string, records ...TorrentRecord) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.torrents[instance] == nil {
		f.torrents[instance] = make(map[string]TorrentRecord)
		f.files[instance] = make(map[string]FileSelection)
	}
	for _, r := range records {
		f.torrents[instance][r.Hash] = r
		if r.Files != nil {
			f.files[instance][r.Hash] = r.Files
		}
	}
}

func (f *fakeClient) record(call string) {
	f.mutations = append(f.mutations, call)
	if f.cancelHook != nil {
		f.cancelHook(call)
	}
}

func (f *fakeClient) mutationCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.mutations)
}

func (f *fakeClient) ListTorrents(_ context.Context, instance string) ([]TorrentRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.listErr[instance]; err != nil {
		return nil, &TransportError{Instance: instance, Op: "list torrents", Err: err}
	}
	out := make([]TorrentRecord, 0, len(f.torrents[instance]))
	for _, r := range f.torrents[instance] {
		r.Files = nil
		out = append(out, r)
	}
	return out, nil
}

func (f *fakeClient) GetFileSelection(_ context.Context, instance, hash string) (FileSelection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := instance + ":" + hash
	f.fileReads[key]++
	if err := f.filesErr[key]; err != nil {
		return nil, &TransportError{Instance: instance, Op: "get files", Err: err}
	}
	return maps.Clone(f.files[instance][hash]), nil
}

func (f *fakeClient) DeleteTorrent(_ context.Context, instance, hash string, deleteFiles bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record(fmt.Sprintf("delete %s %s files=%t", instance, hash, deleteFiles))
	if err := f.failOn[ActionDelete]; err != nil {
		return err
	}
	delete(f.torrents[instance], hash)
	delete(f.files[instance], hash)
	return nil
}

func (f *fakeClient) AddTorrent(_ context.Context, instance string, req AddRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record(fmt.Sprintf("add %s %s", instance, req.Source.Hash))
	if err := f.failOn[ActionAdd]; err != nil {
		return err
	}

	src, ok := f.torrents[req.Source.Instance][req.Source.Hash]
	if !ok {
		return fmt.Errorf("source torrent %s not found", req.Source.Hash)
	}
	if f.torrents[instance] == nil {
		f.torrents[instance] = make(map[string]TorrentRecord)
		f.files[instance] = make(map[string]FileSelection)
	}

	src.Category = req.Category
	src.SavePath = req.SavePath
	src.DownloadPath = req.DownloadPath
	src.State = StateSeeding
	src.SeedingTime = 0
	src.Files = nil
	f.torrents[instance][src.Hash] = src

	sel := make(FileSelection)
	for idx := range f.files[req.Source.Instance][req.Source.Hash] {
		sel[idx] = true
	}
	for _, idx := range req.Unwanted {
		sel[idx] = false
	}
	f.files[instance][src.Hash] = sel
	return nil
}

func (f *fakeClient) SetCategory(_ context.Context, instance, hash, category string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record(fmt.Sprintf("category %s %s %s", instance, hash, category))
	if err := f.failOn[ActionRecategorize]; err != nil {
		return err
	}
	r := f.torrents[instance][hash]
	r.Category = category
	f.torrents[instance][hash] = r
	return nil
}

func (f *fakeClient) SetLocation(_ context.Context, instance string, req LocationRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record(fmt.Sprintf("location %s %s", instance, req.Hash))
	if err := f.failOn[ActionRelocate]; err != nil {
		return err
	}
	r := f.torrents[instance][req.Hash]
	r.SavePath = req.SavePath
	r.DownloadPath = req.DownloadPath
	f.torrents[instance][req.Hash] = r
	return nil
}

func (f *fakeClient) SetFileSelection(_ context.Context, instance, hash string, diff FileSelection) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record(fmt.Sprintf("files %s %s", instance, hash))
	if err := f.failOn[ActionSyncFileSelection]; err != nil {
		return err
	}
	f.files[instance][hash] = f.files[instance][hash].Apply(diff)
	return nil
}

func seeding(hash, name string) TorrentRecord {
	return TorrentRecord{
		Hash:        hash,
		Name:        name,
		Category:    "movies",
		SavePath:    "/data/movies",
		State:       StateSeeding,
		SeedingTime: 2 * time.Hour,
		Progress:    1,
	}
}
