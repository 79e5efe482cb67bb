// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package email_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"codeberg.org/oliverandrich/student-portal/internal/config"
	"codeberg.org/oliverandrich/student-portal/internal/i18n"
	"codeberg.org/oliverandrich/student-portal/internal/services/email"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/language"
)

func validSMTPConfig() *config.SMTPConfig {
	return &config.SMTPConfig{
		Host:     "smtp.example.com",
		Port:     587,
		Username: "testuser",
		Password: "testpass",
		From:     "noreply@example.com",
		FromName: "Test App",
		TLS:      true,
	}
}

type recordedMessage struct {
	to, subject, body string
}

type recordingSender struct {
	err      error
	messages []recordedMessage
}

func (r *recordingSender) Send(_ context.Context, to, subject, body string) error {
	r.messages = append(r.messages, recordedMessage{to, subject, body})
	return r.err
}

func TestNewSMTPSender(t *testing.T) {
	svc, err := email.NewSMTPSender(validSMTPConfig())

	require.NoError(t, err)
	assert.NotNil(t, svc)
}

func TestNewSMTPSender_MissingHost(t *testing.T) {
	cfg := validSMTPConfig()
	cfg.Host = ""

	_, err := email.NewSMTPSender(cfg)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "SMTP host is required")
}

func TestNewSMTPSender_MissingFrom(t *testing.T) {
	cfg := validSMTPConfig()
	cfg.From = ""

	_, err := email.NewSMTPSender(cfg)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "SMTP from address is required")
}

func TestSMTPSender_InvalidRecipient(t *testing.T) {
	svc, err := email.NewSMTPSender(validSMTPConfig())
	require.NoError(t, err)

	err = svc.Send(context.Background(), "not an address", "subject", "body")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "setting to address")
}

func TestNewSender_FallsBackToLog(t *testing.T) {
	sender, err := email.NewSender(&config.SMTPConfig{})

	require.NoError(t, err)
	assert.IsType(t, &email.LogSender{}, sender)
}

func TestNewSender_SMTP(t *testing.T) {
	sender, err := email.NewSender(validSMTPConfig())

	require.NoError(t, err)
	assert.IsType(t, &email.SMTPSender{}, sender)
}

func TestLogSender(t *testing.T) {
	var buf bytes.Buffer
	sender := email.NewLogSender(slog.New(slog.NewTextHandler(&buf, nil)))

	err := sender.Send(context.Background(), "alice@vu.edu.pk", "Your code", "Code 123456")

	require.NoError(t, err)
	assert.Contains(t, buf.String(), "email_logged")
	assert.Contains(t, buf.String(), "alice@vu.edu.pk")
	assert.Contains(t, buf.String(), "123456")
}

func TestMailer_SendCode(t *testing.T) {
	require.NoError(t, i18n.Init())
	rec := &recordingSender{}
	mailer := email.NewMailer(rec, 10*time.Minute)
	ctx := i18n.WithLocale(context.Background(), language.English)

	for _, purpose := range []email.Purpose{email.PurposeSignup, email.PurposeReset, email.PurposeResend} {
		require.NoError(t, mailer.SendCode(ctx, purpose, "alice@vu.edu.pk", "654321"))
	}

	require.Len(t, rec.messages, 3)
	subjects := map[string]bool{}
	for _, m := range rec.messages {
		assert.Equal(t, "alice@vu.edu.pk", m.to)
		assert.Contains(t, m.body, "654321")
		assert.Contains(t, m.body, "10 minutes")
		assert.NotContains(t, m.subject, "email_", "subject must be translated")
		subjects[m.subject] = true
	}
	assert.Len(t, subjects, 3, "each purpose has its own subject")
}

func TestMailer_Urdu(t *testing.T) {
	require.NoError(t, i18n.Init())
	rec := &recordingSender{}
	mailer := email.NewMailer(rec, 10*time.Minute)
	ctx := i18n.WithLocale(context.Background(), language.Urdu)

	require.NoError(t, mailer.SendCode(ctx, email.PurposeSignup, "alice@vu.edu.pk", "654321"))

	require.Len(t, rec.messages, 1)
	assert.Contains(t, rec.messages[0].body, "654321")
	assert.NotContains(t, rec.messages[0].body, "verification code")
}

func TestMailer_PropagatesSendError(t *testing.T) {
	require.NoError(t, i18n.Init())
	rec := &recordingSender{err: errors.New("relay down")}
	mailer := email.NewMailer(rec, 10*time.Minute)

	err := mailer.SendCode(context.Background(), email.PurposeReset, "alice@vu.edu.pk", "654321")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "relay down")
}
