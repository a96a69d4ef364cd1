// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HomeHeaven Contributors

// Package httpapi exposes the auth service as a JSON HTTP API.
package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/homeheaven/homeheaven/internal/auth"
)

// AuthService is the part of *auth.Service the API calls.
type AuthService interface {
	Register(ctx context.Context, req auth.RegisterRequest) (*auth.User, error)
	Login(ctx context.Context, username, password string) (*auth.LoginResult, error)
	Authenticate(token string) (*auth.Claims, error)
	RequestReset(ctx context.Context, email string) error
	CompleteReset(ctx context.Context, req auth.CompleteResetRequest) error
	ResetWithPIN(ctx context.Context, req auth.PINResetRequest) error
}

// RequestObserver records completed requests. *observability.Metrics
// satisfies it.
type RequestObserver interface {
	ObserveHTTPRequest(route, method string, status int, elapsed time.Duration)
}

// Options configures NewRouter.
type Options struct {
	// Logger defaults to slog.Default().
	Logger *slog.Logger

	// Observer receives request metrics. Optional.
	Observer RequestObserver

	// MaxBodyBytes bounds request bodies. Defaults to 1 MiB.
	MaxBodyBytes int64
}

const defaultMaxBodyBytes = 1 << 20

// API holds the handlers.
type API struct {
	svc      AuthService
	logger   *slog.Logger
	observer RequestObserver
	maxBody  int64
}

// NewRouter builds the /api/auth routes.
func NewRouter(svc AuthService, opts Options) *mux.Router {
	a := &API{
		svc:      svc,
		logger:   opts.Logger,
		observer: opts.Observer,
		maxBody:  opts.MaxBodyBytes,
	}
	if a.logger == nil {
		a.logger = slog.Default()
	}
	if a.maxBody <= 0 {
		a.maxBody = defaultMaxBodyBytes
	}

	r := mux.NewRouter()
	r.Use(a.requestID, a.instrument, a.recoverPanic)
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusNotFound, errorBody{Code: "NOT_FOUND", Message: "not found"})
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, errorBody{Code: "METHOD_NOT_ALLOWED", Message: "method not allowed"})
	})

	api := r.PathPrefix("/api/auth").Subrouter()
	api.HandleFunc("/register", a.handleRegister).Methods(http.MethodPost)
	api.HandleFunc("/login", a.handleLogin).Methods(http.MethodPost)
	api.HandleFunc("/forgot-password/send-otp", a.handleSendOTP).Methods(http.MethodPost)
	api.HandleFunc("/forgot-password/verify-otp", a.handleVerifyOTP).Methods(http.MethodPost)
	api.HandleFunc("/forgot-password", a.handlePINReset).Methods(http.MethodPost)
	api.HandleFunc("/logout", a.handleLogout).Methods(http.MethodPost)
	api.Handle("/me", a.requireBearer(http.HandlerFunc(a.handleMe))).Methods(http.MethodGet)

	return r
}
