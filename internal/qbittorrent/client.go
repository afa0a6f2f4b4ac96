// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package qbittorrent

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/Masterminds/semver/v3"
	qbt "github.com/autobrr/go-qbittorrent"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/qbtsync/internal/domain"
)

var (
	exportTorrentMinVersion  = semver.MustParse("2.8.11")
	filePriorityMinVersion   = semver.MustParse("2.2.0")
	subcategoriesMinVersion  = semver.MustParse("2.9.0")
	torrentTmpPathMinVersion = semver.MustParse("2.8.4")
)

const minHealthCheckInterval = 20 * time.Second

type Client struct {
	*qbt.Client
	name                   string
	host                   string
	basicUser              string
	basicPass              string
	webAPIVersion          string
	supportsTorrentExport  bool
	supportsFilePriority   bool
	supportsSubcategories  bool
	supportsTorrentTmpPath bool
	lastHealthCheck        time.Time
	isHealthy              bool
	mu                     sync.RWMutex
	healthMu               sync.RWMutex
}

// NewClient logs in to the instance and detects what its WebAPI supports.
func NewClient(ctx context.Context, instance domain.InstanceConfig) (*Client, error) {
	timeout := instance.Timeout()

	cfg := qbt.Config{
		Host:          instance.Host,
		Username:      instance.Username,
		Password:      instance.Password,
		Timeout:       int(timeout.Seconds()),
		TLSSkipVerify: instance.TLSSkipVerify,
	}

	if instance.BasicUsername != "" {
		cfg.BasicUser = instance.BasicUsername
		cfg.BasicPass = instance.BasicPassword
	}

	qbtClient := qbt.NewClient(cfg)

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := qbtClient.LoginCtx(ctx); err != nil {
		return nil, fmt.Errorf("failed to connect to qBittorrent instance: %w", err)
	}

	client := &Client{
		Client:          qbtClient,
		name:            instance.Name,
		host:            instance.Host,
		basicUser:       instance.BasicUsername,
		basicPass:       instance.BasicPassword,
		lastHealthCheck: time.Now(),
		isHealthy:       true,
	}

	if err := client.RefreshCapabilities(ctx); err != nil {
		log.Warn().
			Err(err).
			Str("instance", instance.Name).
			Str("host", instance.Host).
			Msg("Failed to refresh qBittorrent capabilities during client creation")
		client.updateHealthStatus(false)
	} else {
		client.updateHealthStatus(true)
	}

	log.Debug().
		Str("instance", instance.Name).
		Str("host", instance.Host).
		Str("webAPIVersion", client.GetWebAPIVersion()).
		Bool("supportsTorrentExport", client.SupportsTorrentExport()).
		Bool("supportsFilePriority", client.SupportsFilePriority()).
		Bool("supportsTorrentTmpPath", client.SupportsTorrentTmpPath()).
		Bool("tlsSkipVerify", instance.TLSSkipVerify).
		Msg("qBittorrent client created successfully")

	return client, nil
}

func (c *Client) Name() string {
	return c.name
}

func (c *Client) GetLastHealthCheck() time.Time {
	c.healthMu.RLock()
	defer c.healthMu.RUnlock()
	return c.lastHealthCheck
}

func (c *Client) updateHealthStatus(healthy bool) {
	c.healthMu.Lock()
	defer c.healthMu.Unlock()
	c.isHealthy = healthy
	c.lastHealthCheck = time.Now()
}

func (c *Client) IsHealthy() bool {
	c.healthMu.RLock()
	defer c.healthMu.RUnlock()
	return c.isHealthy
}

// RefreshCapabilities fetches the latest WebAPI version information and recalculates feature support flags.
func (c *Client) RefreshCapabilities(ctx context.Context) error {
	version, err := c.Client.GetWebAPIVersionCtx(ctx)
	if err != nil {
		return err
	}

	version = strings.TrimSpace(version)
	if version == "" {
		return fmt.Errorf("web API version is empty")
	}

	c.mu.Lock()
	c.applyCapabilitiesLocked(version)
	c.mu.Unlock()

	return nil
}

func (c *Client) applyCapabilitiesLocked(version string) {
	c.webAPIVersion = version

	v, err := semver.NewVersion(version)
	if err != nil {
		log.Warn().
			Str("instance", c.name).
			Str("webAPIVersion", version).
			Err(err).
			Msg("Failed to parse qBittorrent WebAPI version; leaving capability flags unchanged")
		return
	}

	c.supportsTorrentExport = !v.LessThan(exportTorrentMinVersion)
	c.supportsFilePriority = !v.LessThan(filePriorityMinVersion)
	c.supportsSubcategories = !v.LessThan(subcategoriesMinVersion)
	c.supportsTorrentTmpPath = !v.LessThan(torrentTmpPathMinVersion)
}

func (c *Client) HealthCheck(ctx context.Context) error {
	if c.IsHealthy() && time.Now().Add(-minHealthCheckInterval).Before(c.GetLastHealthCheck()) {
		return nil
	}

	if err := c.RefreshCapabilities(ctx); err != nil {
		c.updateHealthStatus(false)
		return errors.Wrap(err, "health check failed")
	}

	c.updateHealthStatus(true)
	return nil
}

func (c *Client) GetWebAPIVersion() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.webAPIVersion
}

func (c *Client) SupportsTorrentExport() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.supportsTorrentExport
}

func (c *Client) SupportsFilePriority() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.supportsFilePriority
}

func (c *Client) SupportsSubcategories() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.supportsSubcategories
}

func (c *Client) SupportsTorrentTmpPath() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.supportsTorrentTmpPath
}

// SetDownloadPathCtx calls torrents/setDownloadPath, which go-qbittorrent does
// not wrap. The request reuses the library's HTTP client so the session cookie
// from login is sent along.
func (c *Client) SetDownloadPathCtx(ctx context.Context, hashes []string, path string) error {
	form := url.Values{
		"hashes": {strings.Join(hashes, "|")},
		"path":   {path},
	}

	resp, err := c.postForm(ctx, "torrents/setDownloadPath", form)
	if err != nil {
		return err
	}

	// Session expired; log in again and retry once.
	if resp.StatusCode == http.StatusForbidden {
		drainBody(resp)
		if err := c.Client.LoginCtx(ctx); err != nil {
			return errors.Wrap(err, "re-login")
		}
		resp, err = c.postForm(ctx, "torrents/setDownloadPath", form)
		if err != nil {
			return err
		}
	}
	defer drainBody(resp)

	switch resp.StatusCode {
	case http.StatusOK:
		return nil
	case http.StatusBadRequest:
		return errors.New("set download path: path is empty")
	case http.StatusForbidden:
		return errors.New("set download path: user does not have write access to directory")
	case http.StatusConflict:
		return errors.New("set download path: unable to create download directory")
	default:
		return errors.Errorf("set download path: unexpected status %d", resp.StatusCode)
	}
}

func (c *Client) postForm(ctx context.Context, endpoint string, form url.Values) (*http.Response, error) {
	target := strings.TrimRight(c.host, "/") + "/api/v2/" + endpoint

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, errors.Wrapf(err, "build %s request", endpoint)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if c.basicUser != "" {
		req.SetBasicAuth(c.basicUser, c.basicPass)
	}

	resp, err := c.Client.GetHTTPClient().Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "%s request", endpoint)
	}
	return resp, nil
}

func drainBody(resp *http.Response) {
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
}
