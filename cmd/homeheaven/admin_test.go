// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HomeHeaven Contributors

package main

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/oklog/ulid/v2"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/homeheaven/homeheaven/internal/auth"
	"github.com/homeheaven/homeheaven/internal/auth/authtest"
	"github.com/homeheaven/homeheaven/pkg/errutil"
)

func seedUser(t *testing.T, store *authtest.UserStore, username string) *auth.User {
	t.Helper()
	user, err := auth.NewUser(username, username+"@x.com", "", "pw-hash", "")
	require.NoError(t, err)
	require.NoError(t, store.Create(context.Background(), user))
	return user
}

func TestSetRole(t *testing.T) {
	ctx := context.Background()
	store := authtest.NewUserStore()
	user := seedUser(t, store, "alice")

	changed, err := setRole(ctx, store, "ALICE", auth.RoleAdmin)
	require.NoError(t, err)
	assert.True(t, changed)

	got, err := store.GetByID(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, auth.RoleAdmin, got.Role)

	changed, err = setRole(ctx, store, "alice", auth.RoleAdmin)
	require.NoError(t, err)
	assert.False(t, changed, "promoting an admin is a no-op")

	changed, err = setRole(ctx, store, "alice", auth.RoleUser)
	require.NoError(t, err)
	assert.True(t, changed)
}

func TestSetRole_UnknownUser(t *testing.T) {
	_, err := setRole(context.Background(), authtest.NewUserStore(), "ghost", auth.RoleAdmin)
	errutil.AssertErrorCode(t, err, "ADMIN_USER_NOT_FOUND")
	errutil.AssertErrorContext(t, err, "username", "ghost")
}

type failingRoleRepo struct {
	user      *auth.User
	getErr    error
	updateErr error
}

func (f failingRoleRepo) GetByUsername(context.Context, string) (*auth.User, error) {
	return f.user, f.getErr
}

func (f failingRoleRepo) UpdateRole(context.Context, ulid.ULID, auth.Role) error {
	return f.updateErr
}

func TestSetRole_RepositoryFailures(t *testing.T) {
	user, err := auth.NewUser("alice", "alice@x.com", "", "pw-hash", "")
	require.NoError(t, err)

	_, err = setRole(context.Background(), failingRoleRepo{getErr: errors.New("timeout")}, "alice", auth.RoleAdmin)
	errutil.AssertErrorCode(t, err, "ADMIN_ROLE_FAILED")
	errutil.AssertErrorContext(t, err, "operation", "get user")

	_, err = setRole(context.Background(), failingRoleRepo{user: user, updateErr: errors.New("timeout")}, "alice", auth.RoleAdmin)
	errutil.AssertErrorCode(t, err, "ADMIN_ROLE_FAILED")
	errutil.AssertErrorContext(t, err, "operation", "update role")
}

func TestAdminPromote_ThroughPostgresRepository(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	user, err := auth.NewUser("alice", "alice@x.com", "5551234567", "pw-hash", "pin-hash")
	require.NoError(t, err)

	mock.ExpectQuery(`FROM users WHERE LOWER\(username\) = LOWER\(\$1\)`).WithArgs("alice").
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "username", "email", "phone", "password_hash", "pin_hash",
			"role", "active", "last_login", "created_at", "updated_at",
		}).AddRow(
			user.ID.String(), user.Username, user.Email, user.Phone, user.PasswordHash, user.PINHash,
			"USER", true, user.LastLogin, user.CreatedAt, user.UpdatedAt,
		))
	mock.ExpectExec(`UPDATE users SET role`).WithArgs(user.ID.String(), "ADMIN", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	var gotURL string
	deps := &Deps{DatabaseOpener: func(_ context.Context, url string, _ *slog.Logger) (Database, error) {
		gotURL = url
		return mock, nil
	}}

	out, err := runCLI(t, newAdminCmd(deps), "admin", "promote", "alice", "--database-url", "postgres://db/app")
	require.NoError(t, err)

	assert.Equal(t, "postgres://db/app", gotURL)
	assert.Contains(t, out, "alice now has role ADMIN")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAdmin_Errors(t *testing.T) {
	t.Run("missing database url", func(t *testing.T) {
		_, err := runCLI(t, newAdminCmd(&Deps{}), "admin", "promote", "alice")
		errutil.AssertErrorCode(t, err, "CONFIG_INVALID")
	})

	t.Run("database unavailable", func(t *testing.T) {
		deps := &Deps{DatabaseOpener: func(context.Context, string, *slog.Logger) (Database, error) {
			return nil, errors.New("connection refused")
		}}
		_, err := runCLI(t, newAdminCmd(deps), "admin", "demote", "alice", "--database-url", "postgres://db/app")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "connection refused")
	})

	t.Run("username required", func(t *testing.T) {
		_, err := runCLI(t, newAdminCmd(&Deps{}), "admin", "promote")
		require.Error(t, err)
	})
}

func TestHashPassword(t *testing.T) {
	cmd := NewHashPasswordCmd()
	out := new(strings.Builder)
	cmd.SetOut(out)
	cmd.SetIn(strings.NewReader("correct horse\n"))
	cmd.SetArgs([]string{})

	require.NoError(t, cmd.Execute())

	hash := strings.TrimSpace(out.String())
	assert.True(t, strings.HasPrefix(hash, "$argon2id$"), hash)
	assert.True(t, auth.NewArgon2idHasher().Verify("correct horse", hash))
}

func TestHashPassword_Errors(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"empty input", ""},
		{"too short", "abc\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd := NewHashPasswordCmd()
			cmd.SetOut(new(strings.Builder))
			cmd.SetErr(new(strings.Builder))
			cmd.SetIn(strings.NewReader(tt.input))
			cmd.SetArgs([]string{})
			require.Error(t, cmd.Execute())
		})
	}
}
