// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HomeHeaven Contributors

package main

import (
	"bytes"
	"errors"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/homeheaven/homeheaven/internal/config"
	"github.com/homeheaven/homeheaven/pkg/errutil"
)

// runCLI executes sub as a child of a root carrying the persistent --config
// flag, the way NewRootCmd wires it.
func runCLI(t *testing.T, sub *cobra.Command, args ...string) (string, error) {
	t.Helper()
	t.Setenv(config.EnvDatabaseURL, "")
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	root := &cobra.Command{Use: "homeheaven", SilenceUsage: true, SilenceErrors: true}
	root.PersistentFlags().String("config", "", "")
	root.AddCommand(sub)

	out := new(bytes.Buffer)
	root.SetOut(out)
	root.SetErr(out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func migratorDeps(m *fakeMigrator, gotURL *string) *Deps {
	return &Deps{
		MigratorFactory: func(url string) (SchemaMigrator, error) {
			*gotURL = url
			return m, nil
		},
	}
}

func TestMigrateUp(t *testing.T) {
	m := &fakeMigrator{pending: []uint{1, 2}}
	var url string

	out, err := runCLI(t, newMigrateCmd(migratorDeps(m, &url)), "migrate", "up", "--database-url", "postgres://db/app")
	require.NoError(t, err)

	assert.Equal(t, "postgres://db/app", url)
	assert.Equal(t, []string{"pending", "up", "close"}, m.Calls())
	assert.Contains(t, out, "Applied 000001_create_users")
	assert.Contains(t, out, "Applied 000002_users_case_insensitive_unique")
}

func TestMigrateUp_NothingPending(t *testing.T) {
	m := &fakeMigrator{}
	var url string

	out, err := runCLI(t, newMigrateCmd(migratorDeps(m, &url)), "migrate", "up", "--database-url", "postgres://db/app")
	require.NoError(t, err)

	assert.Equal(t, []string{"pending", "close"}, m.Calls())
	assert.Contains(t, out, "Schema is up to date")
}

func TestMigrateUp_UsesEnvironment(t *testing.T) {
	m := &fakeMigrator{}
	var url string
	cmd := newMigrateCmd(migratorDeps(m, &url))

	root := &cobra.Command{Use: "homeheaven", SilenceUsage: true, SilenceErrors: true}
	root.PersistentFlags().String("config", "", "")
	root.AddCommand(cmd)
	root.SetOut(new(bytes.Buffer))
	root.SetArgs([]string{"migrate", "up"})
	t.Setenv(config.EnvDatabaseURL, "postgres://env/app")
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	require.NoError(t, root.Execute())
	assert.Equal(t, "postgres://env/app", url)
}

func TestMigrateDown(t *testing.T) {
	t.Run("one step", func(t *testing.T) {
		m := &fakeMigrator{}
		var url string
		out, err := runCLI(t, newMigrateCmd(migratorDeps(m, &url)), "migrate", "down", "--database-url", "postgres://db/app")
		require.NoError(t, err)
		assert.Equal(t, []string{"steps", "close"}, m.Calls())
		assert.Contains(t, out, "Rolled back one migration")
	})

	t.Run("all", func(t *testing.T) {
		m := &fakeMigrator{}
		var url string
		out, err := runCLI(t, newMigrateCmd(migratorDeps(m, &url)), "migrate", "down", "--all", "--database-url", "postgres://db/app")
		require.NoError(t, err)
		assert.Equal(t, []string{"down", "close"}, m.Calls())
		assert.Contains(t, out, "Rolled back all migrations")
	})

	t.Run("error surfaces", func(t *testing.T) {
		m := &fakeMigrator{stepsErr: errors.New("boom")}
		var url string
		_, err := runCLI(t, newMigrateCmd(migratorDeps(m, &url)), "migrate", "down", "--database-url", "postgres://db/app")
		require.Error(t, err)
		assert.Equal(t, []string{"steps", "close"}, m.Calls(), "migrator is closed on failure")
	})
}

func TestMigrateVersion(t *testing.T) {
	tests := []struct {
		name    string
		version uint
		dirty   bool
		want    string
	}{
		{"none applied", 0, false, "No migrations applied"},
		{"clean", 2, false, "Version 000002_users_case_insensitive_unique\n"},
		{"dirty", 1, true, "Version 000001_create_users (dirty)"},
		{"unknown version", 99, false, "Version 99\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := &fakeMigrator{version: tt.version, dirty: tt.dirty}
			var url string
			out, err := runCLI(t, newMigrateCmd(migratorDeps(m, &url)), "migrate", "version", "--database-url", "postgres://db/app")
			require.NoError(t, err)
			assert.Contains(t, out, tt.want)
		})
	}
}

func TestMigrateForce(t *testing.T) {
	m := &fakeMigrator{}
	var url string
	out, err := runCLI(t, newMigrateCmd(migratorDeps(m, &url)), "migrate", "force", "1", "--database-url", "postgres://db/app")
	require.NoError(t, err)
	assert.Equal(t, []string{"force", "close"}, m.Calls())
	assert.Contains(t, out, "Forced version 1")
}

func TestMigrateForce_InvalidVersionNeverOpensMigrator(t *testing.T) {
	m := &fakeMigrator{}
	var url string
	_, err := runCLI(t, newMigrateCmd(migratorDeps(m, &url)), "migrate", "force", "abc", "--database-url", "postgres://db/app")
	errutil.AssertErrorCode(t, err, "INVALID_VERSION")
	assert.Empty(t, m.Calls())
}

func TestMigrate_RequiresDatabaseURL(t *testing.T) {
	m := &fakeMigrator{}
	var url string
	_, err := runCLI(t, newMigrateCmd(migratorDeps(m, &url)), "migrate", "up")
	errutil.AssertErrorCode(t, err, "CONFIG_INVALID")
	errutil.AssertErrorContext(t, err, "key", "database.url")
	assert.Empty(t, m.Calls())
}

func TestMigrate_FactoryError(t *testing.T) {
	deps := &Deps{MigratorFactory: func(string) (SchemaMigrator, error) {
		return nil, errors.New("bad url")
	}}
	_, err := runCLI(t, newMigrateCmd(deps), "migrate", "version", "--database-url", "postgres://db/app")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad url")
}

func TestParseForceVersion(t *testing.T) {
	tests := []struct {
		name        string
		input       string
		wantVersion int
		wantErr     bool
	}{
		{name: "valid integer", input: "3", wantVersion: 3},
		{name: "zero", input: "0", wantVersion: 0},
		{name: "nil version", input: "-1", wantVersion: -1},
		{name: "leading whitespace", input: "  42", wantVersion: 42},
		{name: "below nil version", input: "-2", wantErr: true},
		{name: "non-numeric", input: "abc", wantErr: true},
		{name: "float", input: "1.5", wantErr: true},
		{name: "empty", input: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			version, err := parseForceVersion(tt.input)
			if tt.wantErr {
				errutil.AssertErrorCode(t, err, "INVALID_VERSION")
				assert.Equal(t, 0, version)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantVersion, version)
		})
	}
}
