// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HomeHeaven Contributors

package httpapi

import (
	"net/http"
	"time"

	"github.com/samber/oops"

	"github.com/homeheaven/homeheaven/internal/auth"
)

type registerRequest struct {
	Username        string `json:"username"`
	Email           string `json:"email"`
	Phone           string `json:"phone"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirmPassword"`
	PIN             string `json:"pin"`
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type sendOTPRequest struct {
	Email string `json:"email"`
}

type verifyOTPRequest struct {
	Email           string `json:"email"`
	OTP             string `json:"otp"`
	NewPassword     string `json:"newPassword"`
	ConfirmPassword string `json:"confirmPassword"`
}

type pinResetRequest struct {
	Email           string `json:"email"`
	PIN             string `json:"pin"`
	NewPassword     string `json:"newPassword"`
	ConfirmPassword string `json:"confirmPassword"`
}

// AuthResponse is returned by a successful login.
type AuthResponse struct {
	Token     string    `json:"token"`
	Type      string    `json:"type"`
	ExpiresAt time.Time `json:"expiresAt"`
	Username  string    `json:"username"`
	Email     string    `json:"email"`
	Role      string    `json:"role"`
}

// MeResponse describes the bearer of a verified token.
type MeResponse struct {
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type messageBody struct {
	Message string `json:"message"`
}

func (a *API) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !a.decode(w, r, &req) {
		return
	}
	_, err := a.svc.Register(r.Context(), auth.RegisterRequest{
		Username:        req.Username,
		Email:           req.Email,
		Phone:           req.Phone,
		Password:        req.Password,
		ConfirmPassword: req.ConfirmPassword,
		PIN:             req.PIN,
	})
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, messageBody{Message: "User registered successfully"})
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !a.decode(w, r, &req) {
		return
	}
	result, err := a.svc.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, AuthResponse{
		Token:     result.Token,
		Type:      result.TokenType,
		ExpiresAt: result.ExpiresAt,
		Username:  result.Username,
		Email:     result.Email,
		Role:      string(result.Role),
	})
}

func (a *API) handleSendOTP(w http.ResponseWriter, r *http.Request) {
	var req sendOTPRequest
	if !a.decode(w, r, &req) {
		return
	}
	if err := a.svc.RequestReset(r.Context(), req.Email); err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, messageBody{Message: "OTP sent to your email. Please check your inbox."})
}

func (a *API) handleVerifyOTP(w http.ResponseWriter, r *http.Request) {
	var req verifyOTPRequest
	if !a.decode(w, r, &req) {
		return
	}
	err := a.svc.CompleteReset(r.Context(), auth.CompleteResetRequest{
		Email:           req.Email,
		Code:            req.OTP,
		NewPassword:     req.NewPassword,
		ConfirmPassword: req.ConfirmPassword,
	})
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, messageBody{Message: "Password reset successfully"})
}

func (a *API) handlePINReset(w http.ResponseWriter, r *http.Request) {
	var req pinResetRequest
	if !a.decode(w, r, &req) {
		return
	}
	err := a.svc.ResetWithPIN(r.Context(), auth.PINResetRequest{
		Email:           req.Email,
		PIN:             req.PIN,
		NewPassword:     req.NewPassword,
		ConfirmPassword: req.ConfirmPassword,
	})
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, messageBody{Message: "Password reset successfully"})
}

// handleLogout acknowledges a logout. Tokens are stateless; the client
// discards its copy.
func (a *API) handleLogout(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, messageBody{Message: "Logged out successfully"})
}

func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	claims, ok := ClaimsFromContext(r.Context())
	if !ok {
		a.writeError(w, r, oops.Code("HTTP_CLAIMS_MISSING").Errorf("route is not behind bearer middleware"))
		return
	}
	writeJSON(w, http.StatusOK, MeResponse{
		Username:  claims.Subject,
		Role:      string(claims.Role),
		ExpiresAt: claims.ExpiresAt,
	})
}
