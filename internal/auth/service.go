// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HomeHeaven Contributors

package auth

import (
	"context"
	"errors"
	"log/slog"
	"regexp"
	"time"

	"github.com/samber/oops"
)

// dummyPasswordHash is used when a user doesn't exist to prevent timing attacks.
// We still run password verification to make response time consistent.
// This is NOT a real credential - it's a fake hash that will never match any password.
//
//nolint:gosec // G101: This is an intentionally fake hash for timing attack prevention, not a credential.
const dummyPasswordHash = "$argon2id$v=19$m=65536,t=1,p=4$AAAAAAAAAAAAAAAAAAAAAA$AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"

var recoveryCodeRegex = regexp.MustCompile(`^[0-9]{4}$`)

// EventRecorder counts authentication outcomes.
type EventRecorder interface {
	RecordAuthEvent(operation, outcome string)
}

type nopRecorder struct{}

func (nopRecorder) RecordAuthEvent(string, string) {}

// Outcome labels passed to EventRecorder.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomeError   = "error"
)

// ServiceConfig configures a Service.
type ServiceConfig struct {
	// TokenTTL is the lifetime of issued bearer tokens.
	// Defaults to DefaultTokenTTL if zero or negative.
	TokenTTL time.Duration

	// HideUnknownDestinations makes RequestReset acknowledge unknown emails
	// exactly like known ones instead of returning RESET_DESTINATION_NOT_FOUND.
	HideUnknownDestinations bool

	// Clock defaults to time.Now.
	Clock Clock

	// Logger defaults to slog.Default().
	Logger *slog.Logger

	// Recorder receives outcome counts. Optional.
	Recorder EventRecorder
}

// RegisterRequest holds the fields for a new account.
type RegisterRequest struct {
	Username        string
	Email           string
	Phone           string
	Password        string
	ConfirmPassword string
	PIN             string
}

// LoginResult is returned on successful login.
type LoginResult struct {
	Token     string
	TokenType string
	ExpiresAt time.Time
	Username  string
	Email     string
	Role      Role
}

// CompleteResetRequest carries a recovery code and the replacement password.
type CompleteResetRequest struct {
	Email           string
	Code            string
	NewPassword     string
	ConfirmPassword string
}

// PINResetRequest carries the account PIN and the replacement password.
type PINResetRequest struct {
	Email           string
	PIN             string
	NewPassword     string
	ConfirmPassword string
}

// Service provides registration, login, bearer authentication and password
// reset. It holds no per-user state between calls.
type Service struct {
	users    UserRepository
	hasher   PasswordHasher
	tokens   *TokenIssuer
	recovery *RecoveryManager

	tokenTTL    time.Duration
	hideUnknown bool
	clock       Clock
	logger      *slog.Logger
	recorder    EventRecorder
}

// NewService creates a new Service.
func NewService(
	users UserRepository,
	hasher PasswordHasher,
	tokens *TokenIssuer,
	recovery *RecoveryManager,
	cfg ServiceConfig,
) (*Service, error) {
	if users == nil {
		return nil, oops.Code("AUTH_INVALID_CONFIG").Errorf("user repository is required")
	}
	if hasher == nil {
		return nil, oops.Code("AUTH_INVALID_CONFIG").Errorf("password hasher is required")
	}
	if tokens == nil {
		return nil, oops.Code("AUTH_INVALID_CONFIG").Errorf("token issuer is required")
	}
	if recovery == nil {
		return nil, oops.Code("AUTH_INVALID_CONFIG").Errorf("recovery manager is required")
	}

	s := &Service{
		users:       users,
		hasher:      hasher,
		tokens:      tokens,
		recovery:    recovery,
		tokenTTL:    cfg.TokenTTL,
		hideUnknown: cfg.HideUnknownDestinations,
		clock:       cfg.Clock,
		logger:      cfg.Logger,
		recorder:    cfg.Recorder,
	}
	if s.tokenTTL <= 0 {
		s.tokenTTL = DefaultTokenTTL
	}
	if s.clock == nil {
		s.clock = time.Now
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.recorder == nil {
		s.recorder = nopRecorder{}
	}
	return s, nil
}

// Register creates a new active account with role USER.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (*User, error) {
	user, err := s.register(ctx, req)
	s.record("register", err)
	return user, err
}

func (s *Service) register(ctx context.Context, req RegisterRequest) (*User, error) {
	if err := validateRegistration(req); err != nil {
		return nil, err
	}
	if req.Password != req.ConfirmPassword {
		return nil, errPasswordMismatch()
	}

	taken, err := s.users.ExistsByUsername(ctx, req.Username)
	if err != nil {
		return nil, oops.Code("AUTH_REGISTER_FAILED").
			With("operation", "exists by username").
			Wrap(err)
	}
	if taken {
		return nil, oops.Code(CodeUsernameTaken).Errorf("username already exists")
	}

	taken, err = s.users.ExistsByEmail(ctx, req.Email)
	if err != nil {
		return nil, oops.Code("AUTH_REGISTER_FAILED").
			With("operation", "exists by email").
			Wrap(err)
	}
	if taken {
		return nil, oops.Code(CodeEmailTaken).Errorf("email already exists")
	}

	passwordHash, err := s.hasher.Hash(req.Password)
	if err != nil {
		return nil, oops.Code("AUTH_REGISTER_FAILED").
			With("operation", "hash password").
			Wrap(err)
	}
	pinHash, err := s.hasher.Hash(req.PIN)
	if err != nil {
		return nil, oops.Code("AUTH_REGISTER_FAILED").
			With("operation", "hash pin").
			Wrap(err)
	}

	user, err := NewUser(req.Username, req.Email, req.Phone, passwordHash, pinHash)
	if err != nil {
		return nil, err
	}

	if err := s.users.Create(ctx, user); err != nil {
		// Lost a race with a concurrent registration after the exists checks.
		if errors.Is(err, ErrDuplicate) {
			return nil, oops.Code(CodeAccountExists).Errorf(msgAccountExists)
		}
		return nil, oops.Code("AUTH_REGISTER_FAILED").
			With("operation", "create user").
			Wrap(err)
	}

	s.logger.InfoContext(ctx, "user registered", "username", user.Username, "user_id", user.ID.String())
	return user, nil
}

// Login authenticates a user and issues a bearer token.
// Unknown users, wrong passwords and inactive accounts produce the same error,
// and an unknown user still costs one hash verification.
func (s *Service) Login(ctx context.Context, username, password string) (*LoginResult, error) {
	result, err := s.login(ctx, username, password)
	s.record("login", err)
	return result, err
}

func (s *Service) login(ctx context.Context, username, password string) (*LoginResult, error) {
	user, lookupErr := s.users.GetByUsername(ctx, username)

	targetHash := dummyPasswordHash
	userExists := false
	switch {
	case lookupErr == nil:
		targetHash = user.PasswordHash
		userExists = true
	case !errors.Is(lookupErr, ErrNotFound):
		return nil, oops.Code("AUTH_LOGIN_FAILED").
			With("operation", "get user by username").
			Wrap(lookupErr)
	}

	valid := s.hasher.Verify(password, targetHash)
	if !userExists || !valid || !user.Active {
		return nil, errInvalidCredentials()
	}

	if s.hasher.NeedsUpgrade(user.PasswordHash) {
		s.upgradeHash(ctx, user, password)
	}

	token, expiresAt, err := s.tokens.Issue(user.Username, user.Role, s.tokenTTL)
	if err != nil {
		return nil, oops.Code("AUTH_LOGIN_FAILED").
			With("operation", "issue token").
			Wrap(err)
	}

	now := s.clock().UTC()
	if err := s.users.UpdateLastLogin(ctx, user.ID, now); err != nil {
		s.logger.WarnContext(ctx, "best-effort last login update failed",
			"user_id", user.ID.String(),
			"operation", "update_last_login",
			"error", err.Error(),
		)
	}

	s.logger.InfoContext(ctx, "user logged in", "username", user.Username)
	return &LoginResult{
		Token:     token,
		TokenType: TokenType,
		ExpiresAt: expiresAt,
		Username:  user.Username,
		Email:     user.Email,
		Role:      user.Role,
	}, nil
}

// upgradeHash re-encodes a legacy password hash after a successful login.
func (s *Service) upgradeHash(ctx context.Context, user *User, password string) {
	newHash, err := s.hasher.Hash(password)
	if err == nil {
		err = s.users.UpdatePassword(ctx, user.ID, newHash)
	}
	if err != nil {
		s.logger.WarnContext(ctx, "best-effort password hash upgrade failed",
			"user_id", user.ID.String(),
			"operation", "upgrade_hash",
			"error", err.Error(),
		)
		return
	}
	user.PasswordHash = newHash
}

// Authenticate verifies a bearer token and returns its claims.
func (s *Service) Authenticate(token string) (*Claims, error) {
	return s.tokens.Verify(token)
}

// RequestReset sends a recovery code to the account registered with email.
func (s *Service) RequestReset(ctx context.Context, email string) error {
	err := s.requestReset(ctx, email)
	s.record("reset_request", err)
	return err
}

func (s *Service) requestReset(ctx context.Context, email string) error {
	if err := ValidateEmail(email); err != nil {
		return err
	}

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			return oops.Code("RESET_REQUEST_FAILED").
				With("operation", "get user by email").
				Wrap(err)
		}
		if s.hideUnknown {
			s.logger.DebugContext(ctx, "reset requested for unknown email")
			return nil
		}
		return oops.Code(CodeDestinationNotFound).Errorf(msgDestinationNotFound)
	}

	//nolint:wrapcheck // RecoveryManager errors already carry codes
	return s.recovery.RequestCode(ctx, user.Email)
}

// CompleteReset replaces the password of the account holding a valid
// recovery code. Unknown, expired and mismatched codes all return
// RESET_CODE_INVALID. The code is consumed once the account is found, so a
// failed password write requires a new code.
func (s *Service) CompleteReset(ctx context.Context, req CompleteResetRequest) error {
	err := s.completeReset(ctx, req)
	s.record("reset_complete", err)
	return err
}

func (s *Service) completeReset(ctx context.Context, req CompleteResetRequest) error {
	if err := ValidateEmail(req.Email); err != nil {
		return err
	}
	if !recoveryCodeRegex.MatchString(req.Code) {
		return errValidation("code", "code must be %d digits", RecoveryCodeDigits)
	}
	if err := ValidatePassword(req.NewPassword); err != nil {
		return err
	}
	if req.NewPassword != req.ConfirmPassword {
		return errPasswordMismatch()
	}

	// Look the account up first so a failed read leaves the code usable.
	user, err := s.users.GetByEmail(ctx, req.Email)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return oops.Code("RESET_PASSWORD_FAILED").
			With("operation", "get user by email").
			Wrap(err)
	}

	if !s.recovery.VerifyCode(req.Email, req.Code) || user == nil {
		return oops.Code(CodeResetCodeInvalid).Errorf(msgInvalidResetCode)
	}

	if err := s.setPassword(ctx, user, req.NewPassword); err != nil {
		return err
	}

	s.logger.InfoContext(ctx, "password reset with recovery code", "username", user.Username)
	return nil
}

// ResetWithPIN replaces the password of the account whose email and PIN
// match. Unknown emails and wrong PINs return the same RESET_PIN_INVALID error.
func (s *Service) ResetWithPIN(ctx context.Context, req PINResetRequest) error {
	err := s.resetWithPIN(ctx, req)
	s.record("reset_pin", err)
	return err
}

func (s *Service) resetWithPIN(ctx context.Context, req PINResetRequest) error {
	if err := ValidateEmail(req.Email); err != nil {
		return err
	}
	if err := ValidatePIN(req.PIN); err != nil {
		return err
	}
	if err := ValidatePassword(req.NewPassword); err != nil {
		return err
	}
	if req.NewPassword != req.ConfirmPassword {
		return errPasswordMismatch()
	}

	user, err := s.users.GetByEmail(ctx, req.Email)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return oops.Code("RESET_PASSWORD_FAILED").
			With("operation", "get user by email").
			Wrap(err)
	}

	targetHash := dummyPasswordHash
	if user != nil && user.PINHash != "" {
		targetHash = user.PINHash
	}
	valid := s.hasher.Verify(req.PIN, targetHash)
	if user == nil || user.PINHash == "" || !valid {
		return oops.Code(CodeResetPINInvalid).Errorf(msgInvalidResetPIN)
	}

	if err := s.setPassword(ctx, user, req.NewPassword); err != nil {
		return err
	}

	s.recovery.Discard(user.Email)
	s.logger.InfoContext(ctx, "password reset with PIN", "username", user.Username)
	return nil
}

func (s *Service) setPassword(ctx context.Context, user *User, password string) error {
	hash, err := s.hasher.Hash(password)
	if err != nil {
		return oops.Code("RESET_PASSWORD_FAILED").
			With("operation", "hash password").
			Wrap(err)
	}
	if err := s.users.UpdatePassword(ctx, user.ID, hash); err != nil {
		return oops.Code("RESET_PASSWORD_FAILED").
			With("operation", "update password").
			With("user_id", user.ID.String()).
			Wrap(err)
	}
	return nil
}

func (s *Service) record(operation string, err error) {
	outcome := OutcomeSuccess
	if err != nil {
		outcome = OutcomeError
		if IsRejection(err) {
			outcome = OutcomeFailure
		}
	}
	s.recorder.RecordAuthEvent(operation, outcome)
}

// IsRejection reports whether err is a refused request rather than an
// internal failure. Errors carry the code of their deepest oops layer, so
// anything not listed here is treated as internal.
func IsRejection(err error) bool {
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return false
	}
	switch oopsErr.Code() {
	case CodeValidationFailed, CodePasswordMismatch, CodeUsernameTaken, CodeEmailTaken,
		CodeAccountExists, CodeInvalidCredentials, CodeTokenInvalid, CodeDestinationNotFound,
		CodeResetCodeInvalid, CodeResetPINInvalid:
		return true
	}
	return false
}

func validateRegistration(req RegisterRequest) error {
	if err := ValidateUsername(req.Username); err != nil {
		return err
	}
	if err := ValidateEmail(req.Email); err != nil {
		return err
	}
	if err := ValidatePhone(req.Phone); err != nil {
		return err
	}
	if err := ValidatePassword(req.Password); err != nil {
		return err
	}
	if req.ConfirmPassword == "" {
		return errValidation("confirmPassword", "confirm password is required")
	}
	return ValidatePIN(req.PIN)
}
