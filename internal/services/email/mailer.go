// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package email

import (
	"context"
	"time"

	"codeberg.org/oliverandrich/student-portal/internal/i18n"
)

// Purpose selects the wording of a passcode message.
type Purpose string

const (
	PurposeSignup Purpose = "signup"
	PurposeReset  Purpose = "reset"
	PurposeResend Purpose = "resend"
)

// Mailer renders passcode messages in the locale carried by ctx and hands
// them to a Sender.
type Mailer struct {
	sender Sender
	ttl    time.Duration
}

// NewMailer creates a mailer announcing codes valid for ttl.
func NewMailer(sender Sender, ttl time.Duration) *Mailer {
	return &Mailer{sender: sender, ttl: ttl}
}

// SendCode delivers code to the given address.
func (m *Mailer) SendCode(ctx context.Context, purpose Purpose, to, code string) error {
	subject := i18n.T(ctx, "email_"+string(purpose)+"_subject")
	body := i18n.TData(ctx, "email_"+string(purpose)+"_body", map[string]any{
		"Code":    code,
		"Minutes": int(m.ttl.Minutes()),
	})

	return m.sender.Send(ctx, to, subject, body)
}
