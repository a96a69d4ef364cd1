// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HomeHeaven Contributors

package auth

import (
	"context"
	"crypto/rand"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"time"

	"github.com/samber/oops"
)

// Recovery code configuration.
const (
	RecoveryCodeDigits = 4
	RecoveryCodeTTL    = 10 * time.Minute
)

// recoveryCodeSpace is 10^RecoveryCodeDigits.
var recoveryCodeSpace = big.NewInt(10000)

// Notifier delivers a recovery code to a destination. The transport is owned
// by the implementation.
type Notifier interface {
	Send(ctx context.Context, destination, code string) error
}

// RecoveryManagerConfig configures a RecoveryManager.
type RecoveryManagerConfig struct {
	// CodeTTL defaults to RecoveryCodeTTL if zero or negative.
	CodeTTL time.Duration

	// Random is the entropy source for codes. Defaults to crypto/rand.Reader.
	Random io.Reader

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// RecoveryManager issues, dispatches and verifies single-use recovery codes.
type RecoveryManager struct {
	store    *RecoveryCodeStore
	notifier Notifier
	ttl      time.Duration
	random   io.Reader
	logger   *slog.Logger
}

// NewRecoveryManager creates a new RecoveryManager.
func NewRecoveryManager(store *RecoveryCodeStore, notifier Notifier, cfg RecoveryManagerConfig) (*RecoveryManager, error) {
	if store == nil {
		return nil, oops.Code("RECOVERY_INVALID_CONFIG").Errorf("recovery code store is required")
	}
	if notifier == nil {
		return nil, oops.Code("RECOVERY_INVALID_CONFIG").Errorf("notifier is required")
	}

	ttl := cfg.CodeTTL
	if ttl <= 0 {
		ttl = RecoveryCodeTTL
	}
	random := cfg.Random
	if random == nil {
		random = rand.Reader
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &RecoveryManager{
		store:    store,
		notifier: notifier,
		ttl:      ttl,
		random:   random,
		logger:   logger,
	}, nil
}

// RequestCode generates a fresh code for destination, stores it (replacing
// any earlier code) and dispatches it through the notifier. If dispatch
// fails the code stays stored and a RESET_DELIVERY_FAILED error is returned.
func (m *RecoveryManager) RequestCode(ctx context.Context, destination string) error {
	code, err := m.generateCode()
	if err != nil {
		return oops.Code("RECOVERY_CODE_GENERATE_FAILED").Wrap(err)
	}

	// Store before dispatch so no store lock is held during the notifier call.
	m.store.Put(destination, code, m.ttl)

	if err := m.notifier.Send(ctx, destination, code); err != nil {
		m.logger.WarnContext(ctx, "recovery code delivery failed",
			"operation", "notify",
			"destination", destination,
			"error", err.Error(),
		)
		// Not wrapped: a code carried by err would shadow CodeDeliveryFailed.
		return oops.Code(CodeDeliveryFailed).
			With("operation", "notify").
			With("cause", err.Error()).
			Errorf(msgDeliveryFailed)
	}

	m.logger.InfoContext(ctx, "recovery code dispatched", "destination", destination)
	return nil
}

// Discard drops any outstanding code for destination.
func (m *RecoveryManager) Discard(destination string) {
	m.store.Delete(destination)
}

// VerifyCode consumes the code for destination. It returns false for an
// unknown destination, an expired code or a wrong code alike.
func (m *RecoveryManager) VerifyCode(destination, code string) bool {
	return m.store.TakeIfValid(destination, code)
}

// generateCode draws a uniformly distributed zero-padded numeric code.
func (m *RecoveryManager) generateCode() (string, error) {
	n, err := rand.Int(m.random, recoveryCodeSpace)
	if err != nil {
		return "", err //nolint:wrapcheck // wrapped by caller
	}
	return fmt.Sprintf("%0*d", RecoveryCodeDigits, n.Int64()), nil
}
