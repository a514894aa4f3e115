package email

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	htmltemplate "html/template"
	"net/url"
	"strings"
	texttemplate "text/template"
	"time"
)

//go:embed templates/*
var templateFS embed.FS

var (
	htmlTemplates = htmltemplate.Must(htmltemplate.ParseFS(templateFS, "templates/*.html"))
	textTemplates = texttemplate.Must(texttemplate.ParseFS(templateFS, "templates/*.txt"))
)

var (
	ErrNoRecipient   = errors.New("no_recipient")
	ErrInvalidAppURL = errors.New("invalid_app_url")
)

type Message struct {
	To      []string
	Subject string
	HTML    string
	Text    string
}

type Invitation struct {
	To               string
	RecipientName    string
	OrganizationName string
	Role             string
	AppURL           string
	Token            string
	ExpiresAt        time.Time
}

type invitationData struct {
	RecipientName    string
	OrganizationName string
	Role             string
	InviteURL        string
	ExpiresAt        time.Time
}

// InviteURL returns {appURL}/invite?token=...
func InviteURL(appURL, token string) (string, error) {
	base := strings.TrimRight(strings.TrimSpace(appURL), "/")
	if base == "" {
		return "", ErrInvalidAppURL
	}
	return base + "/invite?token=" + url.QueryEscape(token), nil
}

func BuildInvitation(inv Invitation) (Message, error) {
	to := strings.TrimSpace(inv.To)
	if to == "" {
		return Message{}, ErrNoRecipient
	}
	link, err := InviteURL(inv.AppURL, inv.Token)
	if err != nil {
		return Message{}, err
	}
	name := strings.TrimSpace(inv.RecipientName)
	if name == "" {
		name = to
	}
	data := invitationData{
		RecipientName:    name,
		OrganizationName: inv.OrganizationName,
		Role:             strings.ReplaceAll(strings.TrimSpace(inv.Role), "_", " "),
		InviteURL:        link,
		ExpiresAt:        inv.ExpiresAt.UTC(),
	}

	var html, text bytes.Buffer
	if err := htmlTemplates.ExecuteTemplate(&html, "invitation.html", data); err != nil {
		return Message{}, fmt.Errorf("render invitation html: %w", err)
	}
	if err := textTemplates.ExecuteTemplate(&text, "invitation.txt", data); err != nil {
		return Message{}, fmt.Errorf("render invitation text: %w", err)
	}

	return Message{
		To:      []string{to},
		Subject: fmt.Sprintf("You're invited to %s", inv.OrganizationName),
		HTML:    html.String(),
		Text:    text.String(),
	}, nil
}
