// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HomeHeaven Contributors

//go:build integration

package auth_test

import (
	"context"
	"log/slog"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/homeheaven/homeheaven/internal/auth"
	"github.com/homeheaven/homeheaven/internal/auth/authtest"
	authpg "github.com/homeheaven/homeheaven/internal/auth/postgres"
	"github.com/homeheaven/homeheaven/internal/httpapi"
	"github.com/homeheaven/homeheaven/internal/store"
)

func TestAuth(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Auth Integration Suite")
}

// testEnv holds the database and API shared by every spec.
type testEnv struct {
	ctx       context.Context
	pool      *pgxpool.Pool
	container testcontainers.Container
	connStr   string
}

var env *testEnv

var _ = BeforeSuite(func() {
	var err error
	env, err = setupAuthTestEnv()
	Expect(err).NotTo(HaveOccurred())
})

var _ = AfterSuite(func() {
	if env != nil {
		env.cleanup()
	}
})

func setupAuthTestEnv() (*testEnv, error) {
	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"postgres:18-alpine",
		postgres.WithDatabase("homeheaven_test"),
		postgres.WithUsername("homeheaven"),
		postgres.WithPassword("homeheaven"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		return nil, err
	}

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, err
	}

	m, err := store.NewMigrator(connStr)
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, err
	}
	upErr := m.Up()
	_ = m.Close()
	if upErr != nil {
		_ = container.Terminate(ctx)
		return nil, upErr
	}

	pool, err := store.Open(ctx, connStr, store.OpenConfig{Logger: slog.New(slog.DiscardHandler)})
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, err
	}

	return &testEnv{
		ctx:       ctx,
		pool:      pool,
		container: container,
		connStr:   connStr,
	}, nil
}

func (e *testEnv) cleanup() {
	if e.pool != nil {
		e.pool.Close()
	}
	if e.container != nil {
		_ = e.container.Terminate(e.ctx)
	}
}

// truncateUsers empties the users table between specs.
func truncateUsers() {
	_, err := env.pool.Exec(env.ctx, "TRUNCATE users")
	Expect(err).NotTo(HaveOccurred())
}

// api is a running HTTP API over the shared database.
type api struct {
	server   *httptest.Server
	notifier *authtest.RecordingNotifier
	clock    *authtest.ManualClock
	users    *authpg.UserRepository
}

func newAPI() *api {
	logger := slog.New(slog.DiscardHandler)
	clock := authtest.NewManualClock(time.Now())
	notifier := &authtest.RecordingNotifier{}

	codes := auth.NewRecoveryCodeStore(auth.RecoveryCodeStoreConfig{Clock: clock.Now})
	DeferCleanup(codes.Close)

	recovery, err := auth.NewRecoveryManager(codes, notifier, auth.RecoveryManagerConfig{Logger: logger})
	Expect(err).NotTo(HaveOccurred())

	users := authpg.NewUserRepository(env.pool)
	svc, err := auth.NewService(users, auth.NewArgon2idHasher(), authtest.NewTokenIssuer(clock.Now), recovery,
		auth.ServiceConfig{Logger: logger, Clock: clock.Now})
	Expect(err).NotTo(HaveOccurred())

	server := httptest.NewServer(httpapi.NewRouter(svc, httpapi.Options{Logger: logger}))
	DeferCleanup(server.Close)
	return &api{server: server, notifier: notifier, clock: clock, users: users}
}
