// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HomeHeaven Contributors

package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/samber/oops"

	"github.com/homeheaven/homeheaven/internal/auth"
	"github.com/homeheaven/homeheaven/pkg/errutil"
)

// Transport-level error codes.
const (
	CodeMalformedRequest = "REQUEST_MALFORMED"
	CodeRequestTooLarge  = "REQUEST_TOO_LARGE"
	CodeInternal         = "INTERNAL"
)

const (
	msgInternal        = "internal server error"
	msgDeliveryFailed  = "failed to send recovery code, please try again later"
	msgMalformed       = "request body must be a JSON object"
	msgRequestTooLarge = "request body too large"
)

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

// statusFor maps an error code to an HTTP status.
func statusFor(code string) int {
	switch code {
	case auth.CodeValidationFailed, auth.CodePasswordMismatch, auth.CodeUsernameTaken,
		auth.CodeEmailTaken, auth.CodeAccountExists, CodeMalformedRequest:
		return http.StatusBadRequest
	case auth.CodeInvalidCredentials, auth.CodeTokenInvalid, auth.CodeResetCodeInvalid,
		auth.CodeResetPINInvalid:
		return http.StatusUnauthorized
	case auth.CodeDestinationNotFound:
		return http.StatusNotFound
	case CodeRequestTooLarge:
		return http.StatusRequestEntityTooLarge
	case auth.CodeDeliveryFailed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// writeError writes err as JSON. Rejections carry their own message;
// everything else is logged and reported with a fixed message.
func (a *API) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := errutil.Code(err)
	status := statusFor(code)

	body := errorBody{Code: code, Message: msgInternal}
	switch {
	case status == http.StatusBadGateway:
		body.Message = msgDeliveryFailed
		a.logger.WarnContext(r.Context(), "request failed", "code", code, "request_id", RequestID(r.Context()))
	case status >= http.StatusInternalServerError:
		body.Code = CodeInternal
		errutil.LogErrorContext(r.Context(), a.logger, "request failed", err)
	default:
		body.Message = err.Error()
		if field, ok := errutil.Context(err, "field"); ok {
			body.Field, _ = field.(string)
		}
	}

	if status == http.StatusUnauthorized && code == auth.CodeTokenInvalid {
		w.Header().Set("WWW-Authenticate", `Bearer realm="homeheaven"`)
	}
	writeJSON(w, status, body)
}

// decode reads a JSON request body into dst. It writes the error response
// and returns false on failure.
func (a *API) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, a.maxBody)
	dec := json.NewDecoder(r.Body)
	err := dec.Decode(dst)
	if err == nil && dec.More() {
		err = errors.New("trailing data after JSON object")
	}
	if err == nil {
		return true
	}

	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		a.writeError(w, r, oops.Code(CodeRequestTooLarge).With("limit", tooLarge.Limit).Errorf(msgRequestTooLarge))
		return false
	}
	if errors.Is(err, io.EOF) {
		a.writeError(w, r, oops.Code(CodeMalformedRequest).Errorf(msgMalformed))
		return false
	}
	a.writeError(w, r, oops.Code(CodeMalformedRequest).Wrapf(err, msgMalformed))
	return false
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	//nolint:errcheck // client may disconnect
	json.NewEncoder(w).Encode(v)
}
