// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HomeHeaven Contributors

// Package authtest provides in-memory collaborators for auth tests.
package authtest

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/homeheaven/homeheaven/internal/auth"
)

// UserStore is an in-memory auth.UserRepository with case-insensitive
// username and email uniqueness.
type UserStore struct {
	mu    sync.Mutex
	users map[ulid.ULID]auth.User
}

// NewUserStore creates an empty UserStore.
func NewUserStore() *UserStore {
	return &UserStore{users: make(map[ulid.ULID]auth.User)}
}

// Create stores a copy of user.
func (s *UserStore) Create(_ context.Context, user *auth.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if strings.EqualFold(u.Username, user.Username) || strings.EqualFold(u.Email, user.Email) {
			return auth.ErrDuplicate
		}
	}
	s.users[user.ID] = *user
	return nil
}

// GetByID returns a copy of the user with id.
func (s *UserStore) GetByID(_ context.Context, id ulid.ULID) (*auth.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, auth.ErrNotFound
	}
	return &u, nil
}

// GetByUsername returns a copy of the user with username.
func (s *UserStore) GetByUsername(_ context.Context, username string) (*auth.User, error) {
	return s.find(func(u auth.User) bool { return strings.EqualFold(u.Username, username) })
}

// GetByEmail returns a copy of the user with email.
func (s *UserStore) GetByEmail(_ context.Context, email string) (*auth.User, error) {
	return s.find(func(u auth.User) bool { return strings.EqualFold(u.Email, strings.TrimSpace(email)) })
}

// ExistsByUsername reports whether username is taken.
func (s *UserStore) ExistsByUsername(ctx context.Context, username string) (bool, error) {
	_, err := s.GetByUsername(ctx, username)
	return err == nil, nil
}

// ExistsByEmail reports whether email is taken.
func (s *UserStore) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	_, err := s.GetByEmail(ctx, email)
	return err == nil, nil
}

// UpdatePassword replaces the password hash for id.
func (s *UserStore) UpdatePassword(_ context.Context, id ulid.ULID, passwordHash string) error {
	return s.update(id, func(u *auth.User) { u.PasswordHash = passwordHash })
}

// UpdateLastLogin sets the last login time for id.
func (s *UserStore) UpdateLastLogin(_ context.Context, id ulid.ULID, at time.Time) error {
	return s.update(id, func(u *auth.User) { u.LastLogin = &at })
}

// UpdateRole sets the role for id.
func (s *UserStore) UpdateRole(_ context.Context, id ulid.ULID, role auth.Role) error {
	return s.update(id, func(u *auth.User) { u.Role = role })
}

// Put stores user directly, bypassing uniqueness checks.
func (s *UserStore) Put(user auth.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[user.ID] = user
}

// Remove deletes the user with id, if present.
func (s *UserStore) Remove(id ulid.ULID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.users, id)
}

func (s *UserStore) find(match func(auth.User) bool) (*auth.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if match(u) {
			found := u
			return &found, nil
		}
	}
	return nil, auth.ErrNotFound
}

func (s *UserStore) update(id ulid.ULID, fn func(*auth.User)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return auth.ErrNotFound
	}
	fn(&u)
	u.UpdatedAt = time.Now().UTC()
	s.users[id] = u
	return nil
}

// Delivery is one notifier call.
type Delivery struct {
	Destination string
	Code        string
}

// RecordingNotifier records every Send and optionally fails.
type RecordingNotifier struct {
	mu         sync.Mutex
	deliveries []Delivery
	err        error
}

// Send records the delivery and returns the configured error.
func (n *RecordingNotifier) Send(_ context.Context, destination, code string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.deliveries = append(n.deliveries, Delivery{Destination: destination, Code: code})
	return n.err
}

// FailWith makes subsequent sends return err. Pass nil to succeed again.
func (n *RecordingNotifier) FailWith(err error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.err = err
}

// Deliveries returns a copy of the recorded deliveries.
func (n *RecordingNotifier) Deliveries() []Delivery {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]Delivery(nil), n.deliveries...)
}

// LastCode returns the most recently sent code, or "" if none.
func (n *RecordingNotifier) LastCode() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.deliveries) == 0 {
		return ""
	}
	return n.deliveries[len(n.deliveries)-1].Code
}

// ManualClock is an auth.Clock that only moves when told to.
type ManualClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewManualClock creates a clock fixed at start.
func NewManualClock(start time.Time) *ManualClock {
	return &ManualClock{now: start}
}

// Now returns the current manual time.
func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *ManualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// TestSecret is a 32-byte signing secret for tests.
//
//nolint:gosec // G101: test-only key
const TestSecret = "test-secret-0123456789abcdef0123"

// NewTokenIssuer returns an issuer with a single test key.
func NewTokenIssuer(clock auth.Clock) *auth.TokenIssuer {
	issuer, err := auth.NewTokenIssuer([]auth.SigningKey{{ID: "test", Secret: []byte(TestSecret)}}, clock)
	if err != nil {
		panic("authtest: " + err.Error())
	}
	return issuer
}
