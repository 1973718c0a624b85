// ABOUTME: HTTP clients for reaching the backend directly or over a Tailscale tailnet
// ABOUTME: Only connection setup is bounded by a timeout; streams stay open indefinitely

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"tailscale.com/tsnet"

	"github.com/2389/otto/internal/config"
)

const defaultDialTimeout = 10 * time.Second

// newHTTPClient returns a client with no overall timeout, so long turns are
// never cut off, but with bounded dialing and TLS setup.
func newHTTPClient(dialTimeout time.Duration) *http.Client {
	if dialTimeout <= 0 {
		dialTimeout = defaultDialTimeout
	}
	return &http.Client{
		Transport: &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			DialContext:         (&net.Dialer{Timeout: dialTimeout}).DialContext,
			TLSHandshakeTimeout: dialTimeout,
			ForceAttemptHTTP2:   true,
		},
	}
}

// tailnetClient joins the tailnet as a tsnet node and returns a client whose
// connections go through it. The returned close func stops the node.
func tailnetClient(ctx context.Context, cfg config.TailscaleConfig, logger *slog.Logger) (*http.Client, func() error, error) {
	stateDir, err := resolveTailscaleStateDir(cfg.StateDir)
	if err != nil {
		return nil, nil, err
	}
	if err := os.MkdirAll(stateDir, 0700); err != nil {
		return nil, nil, fmt.Errorf("creating tailscale state dir: %w", err)
	}

	authKey := cfg.AuthKey
	if authKey == "" {
		authKey = os.Getenv("TS_AUTHKEY")
	}

	srv := &tsnet.Server{
		Hostname:  cfg.Hostname,
		Dir:       stateDir,
		Ephemeral: cfg.Ephemeral,
		AuthKey:   authKey,
		Logf:      func(string, ...any) {},
	}

	logger.Info("starting tailscale node", "hostname", cfg.Hostname, "state_dir", stateDir, "ephemeral", cfg.Ephemeral)
	status, err := srv.Up(ctx)
	if err != nil {
		_ = srv.Close()
		if authKey == "" {
			err = errors.Join(err, errors.New("no auth key: set tailscale.auth_key or TS_AUTHKEY"))
		}
		return nil, nil, fmt.Errorf("starting tailscale: %w", err)
	}
	if len(status.TailscaleIPs) > 0 {
		logger.Info("tailscale node up", "ip", status.TailscaleIPs[0].String())
	}

	return srv.HTTPClient(), srv.Close, nil
}

// resolveTailscaleStateDir returns the state directory, using default if not configured.
func resolveTailscaleStateDir(configured string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory for tailscale state (set tailscale.state_dir explicitly): %w", err)
	}
	return filepath.Join(homeDir, ".local", "share", "otto", "tailscale"), nil
}
