// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package qbittorrent

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/avast/retry-go"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/qbtsync/internal/domain"
)

var (
	ErrClientNotFound = errors.New("qBittorrent instance not configured")
	ErrPoolClosed     = errors.New("client pool is closed")
)

// Backoff constants
const (
	// Normal failure backoff durations
	initialBackoff = 10 * time.Second
	maxBackoff     = 1 * time.Minute

	// Ban-related backoff durations
	banInitialBackoff = 5 * time.Minute
	banMaxBackoff     = 1 * time.Hour

	defaultRetryDelay = 2 * time.Second
)

// failureInfo tracks failure state and backoff for an instance
type failureInfo struct {
	nextRetry time.Time
	attempts  int
}

type clientFactory func(ctx context.Context, instance domain.InstanceConfig) (*Client, error)

// ClientPool manages one logged-in client per configured instance
type ClientPool struct {
	instances      map[string]domain.InstanceConfig
	clients        map[string]*Client
	retries        int
	retryDelay     time.Duration
	newClient      clientFactory
	mu             sync.RWMutex
	creationMu     sync.Mutex
	creationLocks  map[string]*sync.Mutex
	closed         bool
	failureTracker map[string]*failureInfo
}

// NewClientPool creates a pool for the given instances. Clients are created
// lazily; a failed login is retried up to retries times before the instance
// is put into backoff.
func NewClientPool(instances []domain.InstanceConfig, retries int) *ClientPool {
	byName := make(map[string]domain.InstanceConfig, len(instances))
	for _, inst := range instances {
		byName[inst.Name] = inst
	}

	return &ClientPool{
		instances:      byName,
		clients:        make(map[string]*Client),
		retries:        retries,
		retryDelay:     defaultRetryDelay,
		newClient:      NewClient,
		creationLocks:  make(map[string]*sync.Mutex),
		failureTracker: make(map[string]*failureInfo),
	}
}

// getInstanceLock gets or creates a per-instance creation lock
func (cp *ClientPool) getInstanceLock(name string) *sync.Mutex {
	cp.creationMu.Lock()
	defer cp.creationMu.Unlock()

	if lock, exists := cp.creationLocks[name]; exists {
		return lock
	}

	lock := &sync.Mutex{}
	cp.creationLocks[name] = lock
	return lock
}

// GetClient returns a healthy client for the named instance, logging in on first use
func (cp *ClientPool) GetClient(ctx context.Context, name string) (*Client, error) {
	cp.mu.RLock()
	if cp.closed {
		cp.mu.RUnlock()
		return nil, ErrPoolClosed
	}

	client, exists := cp.clients[name]
	cp.mu.RUnlock()

	if exists {
		if client.IsHealthy() {
			return client, nil
		}

		if err := client.HealthCheck(ctx); err != nil {
			cp.trackFailure(name, err)
			return nil, errors.Wrap(err, "client healthcheck failed")
		}
		cp.ResetFailureTracking(name)
		return client, nil
	}

	return cp.createClient(ctx, name)
}

func (cp *ClientPool) createClient(ctx context.Context, name string) (*Client, error) {
	instance, ok := cp.instances[name]
	if !ok {
		return nil, errors.Wrapf(ErrClientNotFound, "instance %q", name)
	}

	instanceLock := cp.getInstanceLock(name)
	instanceLock.Lock()
	defer instanceLock.Unlock()

	cp.mu.RLock()
	inBackoff := cp.isInBackoffLocked(name)
	if client, exists := cp.clients[name]; exists && client.IsHealthy() {
		cp.mu.RUnlock()
		return client, nil
	}
	cp.mu.RUnlock()

	if inBackoff {
		return nil, fmt.Errorf("instance %s is in backoff period, will retry later", name)
	}

	var client *Client
	err := retry.Do(
		func() error {
			c, err := cp.newClient(ctx, instance)
			if err != nil {
				return err
			}
			client = c
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(uint(cp.retries)+1),
		retry.Delay(cp.retryDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool { return !isBanError(err) }),
		retry.OnRetry(func(n uint, err error) {
			log.Debug().Err(err).Str("instance", name).Uint("attempt", n+1).Msg("Retrying qBittorrent login")
		}),
	)
	if err != nil {
		cp.trackFailure(name, err)
		return nil, fmt.Errorf("failed to create client: %w", err)
	}

	cp.mu.Lock()
	cp.clients[name] = client
	cp.mu.Unlock()
	cp.ResetFailureTracking(name)

	return client, nil
}

// RemoveClient drops a client so the next GetClient logs in again
func (cp *ClientPool) RemoveClient(name string) {
	cp.mu.Lock()
	delete(cp.clients, name)
	cp.mu.Unlock()

	log.Debug().Str("instance", name).Msg("Removed client from pool")
}

// Close releases all clients
func (cp *ClientPool) Close() error {
	cp.mu.Lock()
	defer cp.mu.Unlock()

	if cp.closed {
		return nil
	}

	cp.closed = true
	for name := range cp.clients {
		delete(cp.clients, name)
	}
	cp.failureTracker = make(map[string]*failureInfo)

	log.Debug().Msg("Client pool closed")
	return nil
}

// isInBackoff checks if an instance is in backoff period
func (cp *ClientPool) isInBackoff(name string) bool {
	cp.mu.RLock()
	defer cp.mu.RUnlock()
	return cp.isInBackoffLocked(name)
}

// isInBackoffLocked checks if an instance is in backoff period (caller must hold lock)
func (cp *ClientPool) isInBackoffLocked(name string) bool {
	info, exists := cp.failureTracker[name]
	if !exists {
		return false
	}
	return time.Now().Before(info.nextRetry)
}

// trackFailure records a failure and applies exponential backoff
func (cp *ClientPool) trackFailure(name string, err error) {
	cp.mu.Lock()
	defer cp.mu.Unlock()

	info, exists := cp.failureTracker[name]
	if !exists {
		info = &failureInfo{}
		cp.failureTracker[name] = info
	}

	info.attempts++

	var backoffDuration time.Duration
	if isBanError(err) {
		backoffDuration = calculateBackoff(info.attempts, banInitialBackoff, banMaxBackoff)
		log.Warn().Str("instance", name).Int("attempts", info.attempts).Dur("backoffDuration", backoffDuration).Msg("IP ban detected, applying extended backoff")
	} else {
		backoffDuration = calculateBackoff(info.attempts, initialBackoff, maxBackoff)
		log.Debug().Str("instance", name).Int("attempts", info.attempts).Dur("backoffDuration", backoffDuration).Msg("Connection failure, applying backoff")
	}

	info.nextRetry = time.Now().Add(backoffDuration)
}

// calculateBackoff returns exponential backoff duration with limits
func calculateBackoff(attempts int, initialDuration, maxDuration time.Duration) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	if attempts > 16 {
		return maxDuration
	}
	return min(time.Duration(1<<(attempts-1))*initialDuration, maxDuration)
}

// ResetFailureTracking clears failure tracking after a successful connection
func (cp *ClientPool) ResetFailureTracking(name string) {
	cp.mu.Lock()
	defer cp.mu.Unlock()

	if _, exists := cp.failureTracker[name]; exists {
		delete(cp.failureTracker, name)
		log.Debug().Str("instance", name).Msg("Reset failure tracking after successful connection")
	}
}

// isBanError checks if the error indicates an IP ban
func isBanError(err error) bool {
	if err == nil {
		return false
	}

	errorStr := strings.ToLower(err.Error())

	return strings.Contains(errorStr, "ip is banned") ||
		strings.Contains(errorStr, "too many failed login attempts") ||
		strings.Contains(errorStr, "banned") ||
		strings.Contains(errorStr, "rate limit") ||
		strings.Contains(errorStr, "403") ||
		strings.Contains(errorStr, "forbidden")
}
