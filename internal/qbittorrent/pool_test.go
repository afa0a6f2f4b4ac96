// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package qbittorrent

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autobrr/qbtsync/internal/domain"
)

func TestCalculateBackoff(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		attempts int
		initial  time.Duration
		max      time.Duration
		want     time.Duration
	}{
		{name: "first attempt", attempts: 1, initial: initialBackoff, max: maxBackoff, want: 10 * time.Second},
		{name: "second attempt doubles", attempts: 2, initial: initialBackoff, max: maxBackoff, want: 20 * time.Second},
		{name: "capped at max", attempts: 5, initial: initialBackoff, max: maxBackoff, want: maxBackoff},
		{name: "ban backoff", attempts: 2, initial: banInitialBackoff, max: banMaxBackoff, want: 10 * time.Minute},
		{name: "large attempts do not overflow", attempts: 200, initial: banInitialBackoff, max: banMaxBackoff, want: banMaxBackoff},
		{name: "zero attempts treated as first", attempts: 0, initial: initialBackoff, max: maxBackoff, want: initialBackoff},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, calculateBackoff(tt.attempts, tt.initial, tt.max))
		})
	}
}

func TestIsBanError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "banned", err: errors.New("Your IP is banned after too many failed attempts"), want: true},
		{name: "forbidden", err: errors.New("unexpected status: 403 Forbidden"), want: true},
		{name: "connection refused", err: errors.New("dial tcp 127.0.0.1:8080: connect: connection refused"), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, isBanError(tt.err))
		})
	}
}

func newTestPool(retries int, factory clientFactory) *ClientPool {
	pool := NewClientPool([]domain.InstanceConfig{{Name: "master", Host: "http://master"}, {Name: "child-1", Host: "http://child"}}, retries)
	pool.retryDelay = time.Millisecond
	pool.newClient = factory
	return pool
}

func TestClientPoolUnknownInstance(t *testing.T) {
	t.Parallel()

	pool := newTestPool(0, func(context.Context, domain.InstanceConfig) (*Client, error) {
		t.Fatal("factory must not be called for unknown instances")
		return nil, nil
	})

	_, err := pool.GetClient(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrClientNotFound)
}

func TestClientPoolClosed(t *testing.T) {
	t.Parallel()

	pool := newTestPool(0, nil)
	require.NoError(t, pool.Close())
	require.NoError(t, pool.Close())

	_, err := pool.GetClient(context.Background(), "master")
	assert.ErrorIs(t, err, ErrPoolClosed)
}

func TestClientPoolRetriesThenBacksOff(t *testing.T) {
	t.Parallel()

	calls := 0
	pool := newTestPool(2, func(_ context.Context, inst domain.InstanceConfig) (*Client, error) {
		calls++
		assert.Equal(t, "child-1", inst.Name)
		return nil, errors.New("connection refused")
	})

	_, err := pool.GetClient(context.Background(), "child-1")
	require.Error(t, err)
	assert.Equal(t, 3, calls)
	assert.True(t, pool.isInBackoff("child-1"))
	assert.False(t, pool.isInBackoff("master"))

	_, err = pool.GetClient(context.Background(), "child-1")
	assert.ErrorContains(t, err, "backoff period")
	assert.Equal(t, 3, calls)

	pool.ResetFailureTracking("child-1")
	assert.False(t, pool.isInBackoff("child-1"))
}

func TestClientPoolDoesNotRetryBans(t *testing.T) {
	t.Parallel()

	calls := 0
	pool := newTestPool(5, func(context.Context, domain.InstanceConfig) (*Client, error) {
		calls++
		return nil, errors.New("user's IP is banned for too many failed login attempts")
	})

	_, err := pool.GetClient(context.Background(), "master")
	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.True(t, pool.isInBackoff("master"))
}

func TestClientPoolCachesClient(t *testing.T) {
	t.Parallel()

	calls := 0
	pool := newTestPool(0, func(_ context.Context, inst domain.InstanceConfig) (*Client, error) {
		calls++
		return &Client{name: inst.Name, isHealthy: true, lastHealthCheck: time.Now()}, nil
	})

	first, err := pool.GetClient(context.Background(), "master")
	require.NoError(t, err)
	second, err := pool.GetClient(context.Background(), "master")
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, 1, calls)
	assert.Equal(t, "master", first.Name())

	pool.RemoveClient("master")
	_, err = pool.GetClient(context.Background(), "master")
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}
