// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HomeHeaven Contributors

//go:build integration

package auth_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention

	"github.com/homeheaven/homeheaven/internal/auth"
	"github.com/homeheaven/homeheaven/internal/httpapi"
)

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Field   string `json:"field"`
}

func (a *api) call(method, path string, body any, token string) (*http.Response, []byte) {
	GinkgoHelper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		Expect(err).NotTo(HaveOccurred())
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(env.ctx, method, a.server.URL+path, reader)
	Expect(err).NotTo(HaveOccurred())
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := a.server.Client().Do(req)
	Expect(err).NotTo(HaveOccurred())
	defer resp.Body.Close()

	var out bytes.Buffer
	_, err = out.ReadFrom(resp.Body)
	Expect(err).NotTo(HaveOccurred())
	return resp, out.Bytes()
}

func (a *api) register(username, email, password, pin string) {
	GinkgoHelper()
	resp, body := a.call(http.MethodPost, "/api/auth/register", map[string]string{
		"username":        username,
		"email":           email,
		"phone":           "5551234567",
		"password":        password,
		"confirmPassword": password,
		"pin":             pin,
	}, "")
	Expect(resp.StatusCode).To(Equal(http.StatusCreated), string(body))
}

func (a *api) login(username, password string) (int, httpapi.AuthResponse) {
	GinkgoHelper()
	resp, body := a.call(http.MethodPost, "/api/auth/login", map[string]string{
		"username": username,
		"password": password,
	}, "")
	var out httpapi.AuthResponse
	if resp.StatusCode == http.StatusOK {
		Expect(json.Unmarshal(body, &out)).To(Succeed())
	}
	return resp.StatusCode, out
}

func decodeAPIError(body []byte) apiError {
	GinkgoHelper()
	var out apiError
	Expect(json.Unmarshal(body, &out)).To(Succeed())
	return out
}

var _ = Describe("Account lifecycle", func() {
	var a *api

	BeforeEach(func() {
		truncateUsers()
		a = newAPI()
	})

	Describe("registration", func() {
		It("persists a USER account with hashed credentials", func() {
			a.register("alice", "Alice@Example.com", "secret1", "1234")

			var passwordHash, pinHash, role, email string
			err := env.pool.QueryRow(env.ctx,
				`SELECT password_hash, pin_hash, role, email FROM users WHERE username = 'alice'`).
				Scan(&passwordHash, &pinHash, &role, &email)
			Expect(err).NotTo(HaveOccurred())

			Expect(passwordHash).To(HavePrefix("$argon2id$"))
			Expect(passwordHash).NotTo(ContainSubstring("secret1"))
			Expect(pinHash).To(HavePrefix("$argon2id$"))
			Expect(role).To(Equal("USER"))
			Expect(email).To(Equal("alice@example.com"))
		})

		It("rejects a username that differs only in case", func() {
			a.register("alice", "alice@example.com", "secret1", "1234")

			resp, body := a.call(http.MethodPost, "/api/auth/register", map[string]string{
				"username": "ALICE", "email": "other@example.com", "phone": "5551234567",
				"password": "secret1", "confirmPassword": "secret1", "pin": "1234",
			}, "")
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
			Expect(decodeAPIError(body).Code).To(Equal(auth.CodeUsernameTaken))
		})

		It("rejects an email already in use", func() {
			a.register("alice", "alice@example.com", "secret1", "1234")

			resp, body := a.call(http.MethodPost, "/api/auth/register", map[string]string{
				"username": "bob", "email": "ALICE@example.com", "phone": "5551234567",
				"password": "secret1", "confirmPassword": "secret1", "pin": "1234",
			}, "")
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
			Expect(decodeAPIError(body).Code).To(Equal(auth.CodeEmailTaken))
		})
	})

	Describe("login", func() {
		BeforeEach(func() {
			a.register("alice", "alice@example.com", "secret1", "1234")
		})

		It("issues a bearer token accepted by /me and records the login time", func() {
			status, session := a.login("alice", "secret1")
			Expect(status).To(Equal(http.StatusOK))
			Expect(session.Type).To(Equal(auth.TokenType))
			Expect(session.Role).To(Equal("USER"))

			resp, body := a.call(http.MethodGet, "/api/auth/me", nil, session.Token)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(string(body)).To(ContainSubstring(`"username":"alice"`))

			var lastLogin *time.Time
			Expect(env.pool.QueryRow(env.ctx, `SELECT last_login FROM users WHERE username = 'alice'`).
				Scan(&lastLogin)).To(Succeed())
			Expect(lastLogin).NotTo(BeNil())
		})

		It("does not reveal whether the username exists", func() {
			wrongPassword, _ := a.login("alice", "nope-nope")
			unknownUser, _ := a.login("mallory", "secret1")
			Expect(wrongPassword).To(Equal(http.StatusUnauthorized))
			Expect(unknownUser).To(Equal(http.StatusUnauthorized))
		})

		It("rejects tokens once they expire", func() {
			_, session := a.login("alice", "secret1")
			a.clock.Advance(auth.DefaultTokenTTL + time.Second)

			resp, body := a.call(http.MethodGet, "/api/auth/me", nil, session.Token)
			Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
			Expect(decodeAPIError(body).Code).To(Equal(auth.CodeTokenInvalid))
		})

		It("carries a role change into new tokens", func() {
			user, err := a.users.GetByUsername(env.ctx, "alice")
			Expect(err).NotTo(HaveOccurred())
			Expect(a.users.UpdateRole(env.ctx, user.ID, auth.RoleAdmin)).To(Succeed())

			_, session := a.login("alice", "secret1")
			Expect(session.Role).To(Equal("ADMIN"))
		})
	})

	Describe("password recovery", func() {
		BeforeEach(func() {
			a.register("alice", "alice@example.com", "secret1", "1234")
		})

		requestCode := func() string {
			GinkgoHelper()
			resp, _ := a.call(http.MethodPost, "/api/auth/forgot-password/send-otp",
				map[string]string{"email": "Alice@Example.com"}, "")
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			code := a.notifier.LastCode()
			Expect(code).To(HaveLen(auth.RecoveryCodeDigits))
			return code
		}

		verify := func(code, password string) (*http.Response, []byte) {
			return a.call(http.MethodPost, "/api/auth/forgot-password/verify-otp", map[string]string{
				"email": "alice@example.com", "otp": code,
				"newPassword": password, "confirmPassword": password,
			}, "")
		}

		It("resets the stored password with an emailed code", func() {
			code := requestCode()
			Expect(a.notifier.Deliveries()[0].Destination).To(Equal("alice@example.com"))

			resp, body := verify(code, "newpass1")
			Expect(resp.StatusCode).To(Equal(http.StatusOK), string(body))

			old, _ := a.login("alice", "secret1")
			Expect(old).To(Equal(http.StatusUnauthorized))
			fresh, _ := a.login("alice", "newpass1")
			Expect(fresh).To(Equal(http.StatusOK))

			resp, body = verify(code, "another1")
			Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
			Expect(decodeAPIError(body).Code).To(Equal(auth.CodeResetCodeInvalid))
		})

		It("honors only the latest code", func() {
			first := requestCode()
			second := requestCode()
			if first == second {
				Skip("random codes collided")
			}

			resp, _ := verify(first, "newpass1")
			Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
			resp, _ = verify(second, "newpass1")
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
		})

		It("expires codes after their lifetime", func() {
			code := requestCode()
			a.clock.Advance(auth.RecoveryCodeTTL + time.Second)

			resp, body := verify(code, "newpass1")
			Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
			Expect(decodeAPIError(body).Code).To(Equal(auth.CodeResetCodeInvalid))

			status, _ := a.login("alice", "secret1")
			Expect(status).To(Equal(http.StatusOK), "password unchanged")
		})

		It("resets with the account PIN", func() {
			resp, _ := a.call(http.MethodPost, "/api/auth/forgot-password", map[string]string{
				"email": "alice@example.com", "pin": "1234",
				"newPassword": "newpass1", "confirmPassword": "newpass1",
			}, "")
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			status, _ := a.login("alice", "newpass1")
			Expect(status).To(Equal(http.StatusOK))
		})

		It("reports an unknown destination", func() {
			resp, body := a.call(http.MethodPost, "/api/auth/forgot-password/send-otp",
				map[string]string{"email": "nobody@example.com"}, "")
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
			Expect(decodeAPIError(body).Code).To(Equal(auth.CodeDestinationNotFound))
			Expect(a.notifier.Deliveries()).To(BeEmpty())
		})

		It("never echoes the code in responses", func() {
			code := requestCode()
			_, body := verify(code, "newpass1")
			Expect(strings.Contains(string(body), code)).To(BeFalse())
		})
	})
})
