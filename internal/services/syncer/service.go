// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package syncer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/autobrr/qbtsync/internal/domain"
	"github.com/autobrr/qbtsync/internal/metrics"
	"github.com/autobrr/qbtsync/internal/reconcile"
	"github.com/autobrr/qbtsync/internal/report"
)

// Service runs reconciliation passes, once or on an interval, using the most
// recently loaded config.
type Service struct {
	client  reconcile.TorrentClient
	metrics *metrics.Manager
	out     io.Writer

	cfgMu sync.RWMutex
	cfg   domain.Config

	lastMu     sync.RWMutex
	lastReport *reconcile.PassReport

	// passMu serializes passes so a slow pass never overlaps the next tick.
	passMu   sync.Mutex
	now      func() time.Time
	interval func() time.Duration
}

const fallbackInterval = 30 * time.Minute

// NewService constructs a Service. metrics and out may be nil.
func NewService(cfg domain.Config, client reconcile.TorrentClient, metricsManager *metrics.Manager, out io.Writer) *Service {
	if out == nil {
		out = io.Discard
	}
	svc := &Service{
		client:  client,
		metrics: metricsManager,
		out:     out,
		cfg:     cfg,
		now:     time.Now,
	}
	svc.interval = svc.configuredInterval
	return svc
}

func (s *Service) configuredInterval() time.Duration {
	if interval := s.config().Daemon.Interval(); interval > 0 {
		return interval
	}
	return fallbackInterval
}

// UpdateConfig swaps in a reloaded config. Sync settings apply from the next
// pass; instances are fixed for the lifetime of the transport.
func (s *Service) UpdateConfig(cfg *domain.Config) {
	if cfg == nil {
		return
	}

	s.cfgMu.Lock()
	defer s.cfgMu.Unlock()

	next := *cfg
	next.Master = s.cfg.Master
	next.Children = s.cfg.Children
	s.cfg = next

	log.Info().
		Bool("dryRun", next.Sync.DryRun).
		Int("minSeedingMinutes", next.Sync.MinSeedingTimeMinutes).
		Dur("interval", next.Daemon.Interval()).
		Msg("sync: settings reloaded, applying on next pass")
}

func (s *Service) config() domain.Config {
	s.cfgMu.RLock()
	defer s.cfgMu.RUnlock()
	return s.cfg
}

// EngineOptions translates the config into engine options.
func EngineOptions(cfg domain.Config) (reconcile.Options, error) {
	exclude, err := reconcile.CompileExclude(cfg.Sync.Exclude)
	if err != nil {
		return reconcile.Options{}, err
	}

	return reconcile.Options{
		Master:                cfg.Master.Name,
		Children:              cfg.ChildNames(),
		MinSeeding:            cfg.Sync.MinSeeding(),
		Exclude:               exclude,
		TreatStoppedAsRemoved: cfg.Sync.TreatStoppedAsRemoved,
		SyncFileSelections:    cfg.Sync.SyncFileSelections,
		DeleteFiles:           cfg.Sync.DeleteFiles,
		DryRun:                cfg.Sync.DryRun,
		Concurrency:           cfg.Sync.Concurrency,
	}, nil
}

// RunOnce executes a single pass, records metrics and renders the report.
// The returned report is nil only when the engine could not be configured.
func (s *Service) RunOnce(ctx context.Context) (*reconcile.PassReport, error) {
	s.passMu.Lock()
	defer s.passMu.Unlock()

	opts, err := EngineOptions(s.config())
	if err != nil {
		return nil, err
	}

	engine := reconcile.NewEngine(s.client, opts)
	passReport, err := engine.Run(ctx)

	if s.metrics != nil {
		s.metrics.RecordPass(passReport, err)
	}

	s.lastMu.Lock()
	s.lastReport = passReport
	s.lastMu.Unlock()

	if renderErr := report.Render(s.out, passReport); renderErr != nil {
		log.Warn().Err(renderErr).Msg("sync: failed to write pass report")
	}

	logPass(passReport, err)
	return passReport, err
}

func logPass(r *reconcile.PassReport, err error) {
	if r == nil {
		return
	}

	if err != nil {
		if errors.Is(err, context.Canceled) {
			log.Warn().Str("master", r.Master).Msg("sync: pass cancelled")
			return
		}
		log.Error().Err(err).Str("master", r.Master).Msg("sync: pass aborted")
		return
	}

	tally := r.Tally()
	log.Info().
		Str("master", r.Master).
		Bool("dryRun", r.DryRun).
		Int("eligible", r.Eligible).
		Int("applied", tally.Applied).
		Int("skipped", tally.Skipped).
		Int("failed", tally.Failed).
		Int("childErrors", r.ChildErrors()).
		Dur("duration", r.Duration()).
		Msg("sync: pass finished")
}

// LastReport returns the report of the most recent pass, if any.
func (s *Service) LastReport() *reconcile.PassReport {
	s.lastMu.RLock()
	defer s.lastMu.RUnlock()
	return s.lastReport
}

// Start runs a pass immediately and then once per configured interval until
// ctx is cancelled. A failed pass is logged and the loop keeps going. The
// interval is re-read after each pass so reloads take effect.
func (s *Service) Start(ctx context.Context) error {
	if s == nil {
		return fmt.Errorf("sync service is nil")
	}

	for {
		if _, err := s.RunOnce(ctx); err != nil && ctx.Err() == nil {
			var te *reconcile.TransportError
			if !errors.As(err, &te) {
				log.Error().Err(err).Msg("sync: pass could not start")
			}
		}

		interval := s.interval()
		log.Debug().Time("nextPass", s.now().Add(interval)).Msg("sync: waiting for next pass")

		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			log.Info().Msg("sync: daemon stopped")
			return nil
		case <-timer.C:
		}
	}
}
