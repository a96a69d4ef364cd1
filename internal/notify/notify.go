// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HomeHeaven Contributors

// Package notify renders password recovery messages for development use.
// Delivery to real mailboxes is left to deployments, which plug their own
// auth.Notifier into the service.
package notify

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"text/template"
	"time"

	"github.com/samber/oops"

	"github.com/homeheaven/homeheaven/internal/auth"
)

// Message headers.
const (
	Subject     = "HomeHeaven - Password Reset OTP"
	DefaultFrom = "no-reply@homeheaven.local"
)

var bodyTemplate = template.Must(template.New("recovery").Parse(`Hello,

Your OTP for password reset is: {{.Code}}

This OTP is valid for {{.Minutes}} minutes.

If you didn't request this, please ignore this email.

Best regards,
HomeHeaven Team
`))

// Render builds the RFC 5322 message carrying code.
func Render(from, to, code string, ttl time.Duration) ([]byte, error) {
	if strings.ContainsAny(to, "\r\n") || strings.ContainsAny(from, "\r\n") {
		return nil, oops.Code("NOTIFY_INVALID_ADDRESS").Errorf("address contains a line break")
	}

	var body bytes.Buffer
	err := bodyTemplate.Execute(&body, struct {
		Code    string
		Minutes int
	}{Code: code, Minutes: int(ttl.Minutes())})
	if err != nil {
		return nil, oops.Code("NOTIFY_RENDER_FAILED").Wrap(err)
	}

	var msg bytes.Buffer
	fmt.Fprintf(&msg, "From: %s\r\n", from)
	fmt.Fprintf(&msg, "To: %s\r\n", to)
	fmt.Fprintf(&msg, "Subject: %s\r\n", Subject)
	msg.WriteString("MIME-Version: 1.0\r\n")
	msg.WriteString("Content-Type: text/plain; charset=UTF-8\r\n\r\n")
	msg.WriteString(strings.ReplaceAll(body.String(), "\n", "\r\n"))
	return msg.Bytes(), nil
}

// ConsoleNotifier writes recovery messages to a writer instead of mailing
// them. The log only records the destination.
type ConsoleNotifier struct {
	mu     sync.Mutex
	w      io.Writer
	from   string
	ttl    time.Duration
	logger *slog.Logger
}

// NewConsoleNotifier creates a ConsoleNotifier writing to w. An empty from
// uses DefaultFrom.
func NewConsoleNotifier(w io.Writer, from string, ttl time.Duration, logger *slog.Logger) *ConsoleNotifier {
	if from == "" {
		from = DefaultFrom
	}
	if ttl <= 0 {
		ttl = auth.RecoveryCodeTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ConsoleNotifier{w: w, from: from, ttl: ttl, logger: logger}
}

// Send writes the message for destination.
func (n *ConsoleNotifier) Send(ctx context.Context, destination, code string) error {
	msg, err := Render(n.from, destination, code, n.ttl)
	if err != nil {
		return err
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	if _, err := fmt.Fprintf(n.w, "----- outgoing mail -----\n%s-------------------------\n", msg); err != nil {
		return oops.Code("NOTIFY_SEND_FAILED").With("operation", "console write").Wrap(err)
	}
	n.logger.InfoContext(ctx, "recovery message written to console", "destination", destination)
	return nil
}

var _ auth.Notifier = (*ConsoleNotifier)(nil)
