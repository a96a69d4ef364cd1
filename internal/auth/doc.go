// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HomeHeaven Contributors

// Package auth provides the credential and session subsystem for HomeHeaven.
//
// # Primitives
//
// The leaf components have no dependencies on each other:
//   - Argon2idHasher - password hashing and constant-time verification
//   - TokenIssuer - signed, time-bounded bearer tokens
//   - RecoveryCodeStore - concurrent expiring destination->code map
//
// # Services
//
// Service types coordinate the primitives:
//   - RecoveryManager - one-time recovery code generation, dispatch and verification
//   - Service - registration, login, bearer authentication and password reset
//
// Services are created with New* constructors that validate dependencies.
// User records and code delivery are owned by collaborators behind the
// UserRepository and Notifier interfaces.
package auth
