// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HomeHeaven Contributors

package main

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/homeheaven/homeheaven/internal/config"
	"github.com/homeheaven/homeheaven/internal/notify"
	"github.com/homeheaven/homeheaven/internal/observability"
	"github.com/homeheaven/homeheaven/pkg/errutil"
)

const testSecret = "0123456789abcdef0123456789abcdef"

// fakeMigrator records calls and returns canned errors.
type fakeMigrator struct {
	mu       sync.Mutex
	calls    []string
	upErr    error
	downErr  error
	stepsErr error
	forceErr error
	version  uint
	dirty    bool
	pending  []uint
	closeErr error
}

func (f *fakeMigrator) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

func (f *fakeMigrator) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeMigrator) Up() error         { f.record("up"); return f.upErr }
func (f *fakeMigrator) Down() error       { f.record("down"); return f.downErr }
func (f *fakeMigrator) Steps(n int) error { f.record("steps"); return f.stepsErr }
func (f *fakeMigrator) Force(v int) error { f.record("force"); return f.forceErr }
func (f *fakeMigrator) Close() error      { f.record("close"); return f.closeErr }

func (f *fakeMigrator) Version() (uint, bool, error) {
	f.record("version")
	return f.version, f.dirty, nil
}

func (f *fakeMigrator) PendingMigrations() ([]uint, error) {
	f.record("pending")
	return f.pending, nil
}

func serveConfig() *config.Config {
	cfg := config.Defaults()
	cfg.HTTP.Addr = "127.0.0.1:0"
	cfg.Metrics.Addr = ""
	cfg.Database.URL = "postgres://localhost/homeheaven"
	cfg.Token.Secret = testSecret
	return cfg
}

type serveHarness struct {
	deps     *Deps
	migrator *fakeMigrator
	events   []string
	mu       sync.Mutex
	addr     chan string
	obs      *observability.Server
}

func newServeHarness(t *testing.T) *serveHarness {
	t.Helper()
	h := &serveHarness{migrator: &fakeMigrator{}, addr: make(chan string, 1)}
	h.deps = &Deps{
		DatabaseOpener: func(_ context.Context, _ string, _ *slog.Logger) (Database, error) {
			h.event("open")
			pool, err := pgxmock.NewPool()
			if err != nil {
				return nil, err
			}
			return pool, nil
		},
		MigratorFactory: func(string) (SchemaMigrator, error) {
			h.event("migrate")
			return h.migrator, nil
		},
		ObservabilityServerFactory: func(addr string, ready observability.ReadinessChecker) ObservabilityServer {
			h.obs = observability.NewServer(addr, ready)
			return h.obs
		},
		ListenerFactory: func(network, address string) (net.Listener, error) {
			l, err := net.Listen(network, address)
			if err != nil {
				return nil, err
			}
			h.addr <- l.Addr().String()
			return l, nil
		},
	}

	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })
	return h
}

func (h *serveHarness) event(e string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, e)
}

func (h *serveHarness) Events() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.events...)
}

func testCommand() (*cobra.Command, *bytes.Buffer, *bytes.Buffer) {
	cmd := &cobra.Command{}
	stdout, stderr := new(bytes.Buffer), new(bytes.Buffer)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	return cmd, stdout, stderr
}

func waitForHTTP(t *testing.T, url string, want int) {
	t.Helper()
	require.Eventually(t, func() bool {
		resp, err := http.Get(url) //nolint:noctx // test helper
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		return resp.StatusCode == want
	}, 5*time.Second, 20*time.Millisecond)
}

func TestRunServe_ServesUntilCanceled(t *testing.T) {
	h := newServeHarness(t)
	cmd, _, stderr := testCommand()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- runServeWithDeps(ctx, serveConfig(), cmd, h.deps) }()

	var addr string
	select {
	case addr = <-h.addr:
	case err := <-done:
		t.Fatalf("serve returned early: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("listener never created")
	}
	waitForHTTP(t, "http://"+addr+"/api/auth/unknown", http.StatusNotFound)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not stop")
	}

	assert.Equal(t, []string{"open", "migrate"}, h.Events(), "database is opened before migrating")
	assert.Equal(t, []string{"up", "close"}, h.migrator.Calls())
	assert.Contains(t, stderr.String(), "homeheaven ready")
	assert.Contains(t, stderr.String(), "recovery codes are printed to stdout")
}

func TestRunServe_ObservabilityReadiness(t *testing.T) {
	h := newServeHarness(t)
	cfg := serveConfig()
	cfg.Metrics.Addr = "127.0.0.1:0"
	cmd, _, _ := testCommand()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- runServeWithDeps(ctx, cfg, cmd, h.deps) }()

	var addr string
	select {
	case addr = <-h.addr:
	case err := <-done:
		t.Fatalf("serve returned early: %v", err)
	}
	waitForHTTP(t, "http://"+addr+"/api/auth/unknown", http.StatusNotFound)
	require.NotNil(t, h.obs)
	metricsURL := "http://" + h.obs.Addr()
	waitForHTTP(t, metricsURL+"/healthz/readiness", http.StatusOK)

	resp, err := http.Get("http://" + addr + "/api/auth/me") //nolint:noctx // test
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, err = http.Get(metricsURL + "/metrics") //nolint:noctx // test
	require.NoError(t, err)
	var body bytes.Buffer
	_, _ = body.ReadFrom(resp.Body)
	resp.Body.Close()
	assert.Contains(t, body.String(), `homeheaven_http_requests_total{method="GET",route="/api/auth/me",status="401"}`)
	assert.Contains(t, body.String(), "homeheaven_recovery_codes_outstanding")

	cancel()
	require.NoError(t, <-done)
}

func TestRunServe_Failures(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(*serveHarness, *config.Config)
		wantCode string
	}{
		{
			name:     "invalid config",
			mutate:   func(_ *serveHarness, c *config.Config) { c.Token.Secret = "short" },
			wantCode: "CONFIG_INVALID",
		},
		{
			name: "database unavailable",
			mutate: func(h *serveHarness, _ *config.Config) {
				h.deps.DatabaseOpener = func(context.Context, string, *slog.Logger) (Database, error) {
					return nil, errors.New("connection refused")
				}
			},
			wantCode: "SERVE_DATABASE_FAILED",
		},
		{
			name:     "migration fails",
			mutate:   func(h *serveHarness, _ *config.Config) { h.migrator.upErr = errors.New("dirty database") },
			wantCode: "SERVE_MIGRATE_FAILED",
		},
		{
			name: "listen fails",
			mutate: func(h *serveHarness, _ *config.Config) {
				h.deps.ListenerFactory = func(string, string) (net.Listener, error) {
					return nil, errors.New("address in use")
				}
			},
			wantCode: "SERVE_LISTEN_FAILED",
		},
		{
			name:     "invalid recovery ttl",
			mutate:   func(_ *serveHarness, c *config.Config) { c.Recovery.CodeTTL = 0 },
			wantCode: "CONFIG_INVALID",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newServeHarness(t)
			cfg := serveConfig()
			tt.mutate(h, cfg)
			cmd, _, _ := testCommand()

			err := runServeWithDeps(context.Background(), cfg, cmd, h.deps)
			errutil.AssertErrorCode(t, err, tt.wantCode)
		})
	}
}

func TestRunServe_LogsDoNotContainSecret(t *testing.T) {
	h := newServeHarness(t)
	cmd, _, stderr := testCommand()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- runServeWithDeps(ctx, serveConfig(), cmd, h.deps) }()
	<-h.addr
	cancel()
	require.NoError(t, <-done)

	assert.False(t, strings.Contains(stderr.String(), testSecret))
}

func TestNewNotifier_PrintsCodes(t *testing.T) {
	var out bytes.Buffer
	n := newNotifier(serveConfig(), &out, slog.New(slog.DiscardHandler))
	assert.IsType(t, &notify.ConsoleNotifier{}, n)

	require.NoError(t, n.Send(context.Background(), "alice@x.com", "4321"))
	assert.Contains(t, out.String(), "Your OTP for password reset is: 4321")
}
