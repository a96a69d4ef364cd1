// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HomeHeaven Contributors

package auth

import (
	"errors"

	"github.com/samber/oops"
)

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrDuplicate is returned by repositories when a unique constraint is violated.
var ErrDuplicate = errors.New("duplicate")

// Error codes surfaced to callers. Validation codes carry a user-facing
// message; authentication and reset codes carry a fixed generic message.
const (
	CodeValidationFailed    = "AUTH_VALIDATION_FAILED"
	CodePasswordMismatch    = "AUTH_PASSWORD_MISMATCH"
	CodeUsernameTaken       = "AUTH_USERNAME_TAKEN"
	CodeEmailTaken          = "AUTH_EMAIL_TAKEN"
	CodeAccountExists       = "AUTH_ACCOUNT_EXISTS"
	CodeInvalidCredentials  = "AUTH_INVALID_CREDENTIALS"
	CodeTokenInvalid        = "AUTH_TOKEN_INVALID"
	CodeDestinationNotFound = "RESET_DESTINATION_NOT_FOUND"
	CodeResetCodeInvalid    = "RESET_CODE_INVALID"
	CodeDeliveryFailed      = "RESET_DELIVERY_FAILED"
	CodeResetPINInvalid     = "RESET_PIN_INVALID"
)

const (
	msgInvalidCredentials  = "invalid username or password"
	msgInvalidToken        = "invalid or expired token"
	msgInvalidResetCode    = "invalid or expired code"
	msgInvalidResetPIN     = "invalid email or PIN"
	msgDestinationNotFound = "no account found with this email"
	msgPasswordMismatch    = "passwords do not match"
	msgAccountExists       = "username or email already exists"
	msgDeliveryFailed      = "failed to send recovery code, please try again later"
)

// errInvalidCredentials is the single error returned for every login failure.
func errInvalidCredentials() error {
	return oops.Code(CodeInvalidCredentials).Errorf(msgInvalidCredentials)
}

// errInvalidToken is the single error returned for every token verification failure.
func errInvalidToken() error {
	return oops.Code(CodeTokenInvalid).Errorf(msgInvalidToken)
}

func errPasswordMismatch() error {
	return oops.Code(CodePasswordMismatch).Errorf(msgPasswordMismatch)
}

func errValidation(field, format string, args ...any) error {
	return oops.Code(CodeValidationFailed).
		With("field", field).
		Errorf(format, args...)
}
