package email

import (
	"context"
	"net/smtp"
	"strings"
	"testing"
	"time"

	"github.com/smallbiznis/accessportal/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func invitation() Invitation {
	return Invitation{
		To:               "sam@acme.test",
		RecipientName:    "Sam Support",
		OrganizationName: "Acme Corp",
		Role:             "org_admin",
		AppURL:           "https://portal.acme.test/",
		Token:            "tok+en/1",
		ExpiresAt:        time.Date(2025, 3, 4, 10, 0, 0, 0, time.UTC),
	}
}

func TestBuildInvitation(t *testing.T) {
	msg, err := BuildInvitation(invitation())
	require.NoError(t, err)

	assert.Equal(t, []string{"sam@acme.test"}, msg.To)
	assert.Equal(t, "You're invited to Acme Corp", msg.Subject)
	assert.Contains(t, msg.Text, "https://portal.acme.test/invite?token=tok%2Ben%2F1")
	assert.Contains(t, msg.HTML, "https://portal.acme.test/invite?token=tok%2Ben%2F1")
	assert.Contains(t, msg.HTML, "Hi Sam Support")
	assert.Contains(t, msg.Text, "2025-03-04 10:00 UTC")
	assert.Contains(t, msg.Text, "with the org admin role")
}

func TestBuildInvitationValidation(t *testing.T) {
	inv := invitation()
	inv.To = ""
	_, err := BuildInvitation(inv)
	assert.ErrorIs(t, err, ErrNoRecipient)

	inv = invitation()
	inv.AppURL = " "
	_, err = BuildInvitation(inv)
	assert.ErrorIs(t, err, ErrInvalidAppURL)
}

func TestLogProviderMasksRecipient(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	provider := NewLogProvider(zap.New(core))

	msg, err := BuildInvitation(invitation())
	require.NoError(t, err)
	require.NoError(t, provider.Send(context.Background(), msg))

	entries := logs.FilterMessage("email queued").All()
	require.Len(t, entries, 1)
	for _, field := range entries[0].Context {
		assert.NotContains(t, field.String, "tok")
	}
	assert.NotContains(t, entries[0].ContextMap()["to"], "sam@acme.test")
}

func TestSMTPProviderComposesMultipart(t *testing.T) {
	var captured []byte
	var capturedTo []string
	provider := NewSMTP(Config{Host: "mail.test", Port: 587, From: "portal@acme.test"})
	provider.send = func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		assert.Equal(t, "mail.test:587", addr)
		assert.Nil(t, a)
		captured = msg
		capturedTo = to
		return nil
	}

	msg, err := BuildInvitation(invitation())
	require.NoError(t, err)
	require.NoError(t, provider.Send(context.Background(), msg))

	body := string(captured)
	assert.Equal(t, []string{"sam@acme.test"}, capturedTo)
	assert.True(t, strings.HasPrefix(body, "From: portal@acme.test\r\n"))
	assert.Contains(t, body, "multipart/alternative")
	assert.Contains(t, body, "text/plain; charset=UTF-8")
	assert.Contains(t, body, "text/html; charset=UTF-8")
}

func TestNewFromConfigDefaultsToLog(t *testing.T) {
	provider := NewFromConfig(config.Config{}, zap.NewNop())
	_, ok := provider.(*LogProvider)
	assert.True(t, ok)

	provider = NewFromConfig(config.Config{Email: config.EmailConfig{Transport: "smtp", SMTPHost: "mail.test", SMTPPort: 25}}, zap.NewNop())
	_, ok = provider.(*SMTPProvider)
	assert.True(t, ok)
}
