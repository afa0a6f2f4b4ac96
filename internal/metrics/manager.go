// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package metrics

import (
	"context"
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/qbtsync/internal/reconcile"
)

const namespace = "qbtsync"

// Pass results recorded in qbtsync_passes_total.
const (
	ResultSuccess   = "success"
	ResultFailed    = "failed"
	ResultCancelled = "cancelled"
)

type Manager struct {
	registry *prometheus.Registry

	passesTotal       *prometheus.CounterVec
	passDuration      prometheus.Histogram
	lastPassTimestamp prometheus.Gauge
	eligibleTorrents  prometheus.Gauge
	actionsTotal      *prometheus.CounterVec
	childErrorsTotal  *prometheus.CounterVec
}

func NewManager() *Manager {
	registry := prometheus.NewRegistry()

	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Manager{
		registry: registry,
		passesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "passes_total",
			Help:      "Reconciliation passes by result",
		}, []string{"result"}),
		passDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pass_duration_seconds",
			Help:      "Duration of reconciliation passes",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600},
		}),
		lastPassTimestamp: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_pass_timestamp_seconds",
			Help:      "Unix time the last reconciliation pass finished",
		}),
		eligibleTorrents: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "master_eligible_torrents",
			Help:      "Master torrents eligible for replication in the last pass",
		}),
		actionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "actions_total",
			Help:      "Sync actions by child instance, action kind and outcome",
		}, []string{"instance", "action", "outcome"}),
		childErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "child_errors_total",
			Help:      "Children that could not be reconciled during a pass",
		}, []string{"instance"}),
	}

	registry.MustRegister(
		m.passesTotal,
		m.passDuration,
		m.lastPassTimestamp,
		m.eligibleTorrents,
		m.actionsTotal,
		m.childErrorsTotal,
	)

	log.Debug().Msg("Metrics manager initialized")

	return m
}

func (m *Manager) GetRegistry() *prometheus.Registry {
	return m.registry
}

// PassResult classifies a finished pass for the result label.
func PassResult(report *reconcile.PassReport, err error) string {
	switch {
	case errors.Is(err, context.Canceled):
		return ResultCancelled
	case err != nil, report == nil, report.Err != nil:
		return ResultFailed
	}
	return ResultSuccess
}

// RecordPass updates all pass metrics from a finished report. err is the
// error returned alongside the report by the engine.
func (m *Manager) RecordPass(report *reconcile.PassReport, err error) {
	m.passesTotal.WithLabelValues(PassResult(report, err)).Inc()
	if report == nil {
		return
	}

	if !report.FinishedAt.IsZero() {
		m.passDuration.Observe(report.Duration().Seconds())
		m.lastPassTimestamp.Set(float64(report.FinishedAt.Unix()))
	}

	if report.Err == nil {
		m.eligibleTorrents.Set(float64(report.Eligible))
	}

	for _, child := range report.Children {
		if child.Err != nil {
			m.childErrorsTotal.WithLabelValues(child.Instance).Inc()
		}
		for _, o := range child.Outcomes {
			m.actionsTotal.WithLabelValues(child.Instance, string(o.Action.Kind), string(o.Status)).Inc()
		}
	}
}
