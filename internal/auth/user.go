// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HomeHeaven Contributors

package auth

import (
	"context"
	"net/mail"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// Role is the authorization role embedded in bearer tokens.
type Role string

// Roles.
const (
	RoleUser  Role = "USER"
	RoleAdmin Role = "ADMIN"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAdmin
}

// Account field constraints.
const (
	MinUsernameLength = 3
	MaxUsernameLength = 50
	MinPasswordLength = 6
	PINLength         = 4
)

var (
	phoneRegex = regexp.MustCompile(`^[0-9]{10,15}$`)
	pinRegex   = regexp.MustCompile(`^[0-9]{4}$`)
)

// User is an account identity.
type User struct {
	ID           ulid.ULID
	Username     string
	Email        string
	Phone        string
	PasswordHash string
	PINHash      string
	Role         Role
	Active       bool
	LastLogin    *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// NewUser creates a validated active User with role USER.
// Returns an error if any required fields are invalid.
func NewUser(username, email, phone, passwordHash, pinHash string) (*User, error) {
	if err := ValidateUsername(username); err != nil {
		return nil, err
	}
	if err := ValidateEmail(email); err != nil {
		return nil, err
	}
	if passwordHash == "" {
		return nil, oops.Code("AUTH_INVALID_PASSWORD").Errorf("password hash cannot be empty")
	}

	now := time.Now().UTC()
	return &User{
		ID:           ulid.Make(),
		Username:     username,
		Email:        NormalizeEmail(email),
		Phone:        phone,
		PasswordHash: passwordHash,
		PINHash:      pinHash,
		Role:         RoleUser,
		Active:       true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

// NormalizeEmail returns the canonical form used for lookups and recovery keys.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ValidateUsername checks the username length bounds, counted in characters.
func ValidateUsername(username string) error {
	if strings.TrimSpace(username) == "" {
		return errValidation("username", "username is required")
	}
	if n := utf8.RuneCountInString(username); n < MinUsernameLength || n > MaxUsernameLength {
		return errValidation("username", "username must be between %d and %d characters",
			MinUsernameLength, MaxUsernameLength)
	}
	return nil
}

// ValidateEmail checks that email is a bare address.
func ValidateEmail(email string) error {
	email = strings.TrimSpace(email)
	if email == "" {
		return errValidation("email", "email is required")
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return errValidation("email", "email must be valid")
	}
	return nil
}

// ValidatePhone checks the optional phone number format.
func ValidatePhone(phone string) error {
	if phone == "" {
		return nil
	}
	if !phoneRegex.MatchString(phone) {
		return errValidation("phone", "phone must be 10-15 digits")
	}
	return nil
}

// ValidatePassword checks the password policy.
func ValidatePassword(password string) error {
	if password == "" {
		return errValidation("password", "password is required")
	}
	if len(password) < MinPasswordLength {
		return errValidation("password", "password must be at least %d characters", MinPasswordLength)
	}
	return nil
}

// ValidatePIN checks that pin is exactly PINLength digits.
func ValidatePIN(pin string) error {
	if !pinRegex.MatchString(pin) {
		return errValidation("pin", "PIN must be exactly %d digits", PINLength)
	}
	return nil
}

// UserRepository manages user persistence.
type UserRepository interface {
	// Create stores a new user. Returns ErrDuplicate if the username or
	// email is already taken.
	Create(ctx context.Context, user *User) error

	// GetByID retrieves a user by ID.
	GetByID(ctx context.Context, id ulid.ULID) (*User, error)

	// GetByUsername retrieves a user by username (case-insensitive).
	// Returns ErrNotFound if no user has the given username.
	GetByUsername(ctx context.Context, username string) (*User, error)

	// GetByEmail retrieves a user by email (case-insensitive).
	// Returns ErrNotFound if no user has the given email.
	GetByEmail(ctx context.Context, email string) (*User, error)

	// ExistsByUsername reports whether a user with the username exists.
	ExistsByUsername(ctx context.Context, username string) (bool, error)

	// ExistsByEmail reports whether a user with the email exists.
	ExistsByEmail(ctx context.Context, email string) (bool, error)

	// UpdatePassword updates only the password hash for a user.
	UpdatePassword(ctx context.Context, id ulid.ULID, passwordHash string) error

	// UpdateLastLogin records a successful login.
	UpdateLastLogin(ctx context.Context, id ulid.ULID, at time.Time) error

	// UpdateRole changes a user's role. Administrative use only.
	UpdateRole(ctx context.Context, id ulid.ULID, role Role) error
}
