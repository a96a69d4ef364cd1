// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HomeHeaven Contributors

package main

import (
	"bufio"
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/homeheaven/homeheaven/internal/auth"
	"github.com/homeheaven/homeheaven/internal/auth/postgres"
)

// RoleRepository is the part of auth.UserRepository the admin commands use.
type RoleRepository interface {
	GetByUsername(ctx context.Context, username string) (*auth.User, error)
	UpdateRole(ctx context.Context, id ulid.ULID, role auth.Role) error
}

// NewAdminCmd creates the admin command group.
func NewAdminCmd() *cobra.Command {
	return newAdminCmd(nil)
}

func newAdminCmd(deps *Deps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "admin",
		Short: "Administrative account operations",
	}
	addDatabaseFlag(cmd)

	cmd.AddCommand(newSetRoleCmd(deps, "promote", auth.RoleAdmin, "Grant the ADMIN role to a user"))
	cmd.AddCommand(newSetRoleCmd(deps, "demote", auth.RoleUser, "Return a user to the USER role"))
	return cmd
}

func newSetRoleCmd(deps *Deps, use string, role auth.Role, short string) *cobra.Command {
	return &cobra.Command{
		Use:   use + " USERNAME",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRoleRepository(cmd, deps, func(ctx context.Context, repo RoleRepository) error {
				changed, err := setRole(ctx, repo, args[0], role)
				if err != nil {
					return err
				}
				if !changed {
					cmd.Printf("%s already has role %s\n", args[0], role)
					return nil
				}
				cmd.Printf("%s now has role %s\n", args[0], role)
				return nil
			})
		},
	}
}

// setRole changes username's role. It reports false when the user already
// holds role.
func setRole(ctx context.Context, repo RoleRepository, username string, role auth.Role) (bool, error) {
	user, err := repo.GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, auth.ErrNotFound) {
			return false, oops.Code("ADMIN_USER_NOT_FOUND").With("username", username).Errorf("no user named %q", username)
		}
		return false, oops.Code("ADMIN_ROLE_FAILED").With("operation", "get user").Wrap(err)
	}
	if user.Role == role {
		return false, nil
	}
	if err := repo.UpdateRole(ctx, user.ID, role); err != nil {
		return false, oops.Code("ADMIN_ROLE_FAILED").With("operation", "update role").Wrap(err)
	}
	return true, nil
}

func withRoleRepository(cmd *cobra.Command, deps *Deps, fn func(context.Context, RoleRepository) error) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cfg.Database.URL == "" {
		return oops.Code("CONFIG_INVALID").With("key", "database.url").
			Errorf("database url is required (set DATABASE_URL or --database-url)")
	}

	ctx := cmd.Context()
	db, err := deps.withDefaults().DatabaseOpener(ctx, cfg.Database.URL, slog.Default())
	if err != nil {
		return err //nolint:wrapcheck // store errors carry codes
	}
	defer db.Close()
	return fn(ctx, postgres.NewUserRepository(db))
}

// NewHashPasswordCmd creates the hash-password command.
func NewHashPasswordCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-password",
		Short: "Hash a password read from stdin",
		Long: `Read one password line from stdin and print its argon2id hash, for
seeding accounts directly in the database.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
			if err != nil && line == "" {
				return oops.Code("HASH_READ_FAILED").Wrap(err)
			}
			password := strings.TrimRight(line, "\r\n")
			if err := auth.ValidatePassword(password); err != nil {
				return err //nolint:wrapcheck // validation errors carry codes
			}
			hash, err := auth.NewArgon2idHasher().Hash(password)
			if err != nil {
				return err //nolint:wrapcheck // hasher errors carry codes
			}
			cmd.Println(hash)
			return nil
		},
	}
}
