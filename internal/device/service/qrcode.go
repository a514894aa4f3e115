package service

import (
	"encoding/base64"
	"net/url"
	"strings"

	qrcode "github.com/skip2/go-qrcode"
)

const qrSize = 256

func enrollURL(appURL, token string) string {
	return strings.TrimRight(appURL, "/") + "/enroll?token=" + url.QueryEscape(token)
}

// renderQRCode returns the base64 PNG of content.
func renderQRCode(content string) (string, error) {
	qr, err := qrcode.New(content, qrcode.Medium)
	if err != nil {
		return "", err
	}
	png, err := qr.PNG(qrSize)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(png), nil
}
