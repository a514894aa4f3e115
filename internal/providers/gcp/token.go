package gcp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/smallbiznis/accessportal/internal/providers/apiclient"
)

const (
	computeScope = "https://www.googleapis.com/auth/compute"
	jwtBearer    = "urn:ietf:params:oauth:grant-type:jwt-bearer"
)

func parseServiceAccount(raw string) (*ServiceAccountKey, error) {
	var key ServiceAccountKey
	if err := json.Unmarshal([]byte(raw), &key); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidServiceAccount, err)
	}
	if key.ClientEmail == "" || key.PrivateKey == "" || key.ProjectID == "" {
		return nil, ErrInvalidServiceAccount
	}
	return &key, nil
}

// signAssertion builds the RS256 JWT exchanged for an access token.
func signAssertion(key *ServiceAccountKey, audience string, now time.Time) (string, error) {
	privateKey, err := jwt.ParseRSAPrivateKeyFromPEM([]byte(key.PrivateKey))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidServiceAccount, err)
	}
	claims := jwt.MapClaims{
		"iss":   key.ClientEmail,
		"scope": computeScope,
		"aud":   audience,
		"iat":   now.Unix(),
		"exp":   now.Add(time.Hour).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	if key.PrivateKeyID != "" {
		token.Header["kid"] = key.PrivateKeyID
	}
	return token.SignedString(privateKey)
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
	TokenType   string `json:"token_type"`
}

func (s *Service) accessToken(ctx context.Context, key *ServiceAccountKey) (string, error) {
	tokenURL := s.settings.Get().GCP.TokenURL
	assertion, err := signAssertion(key, tokenURL, s.clock.Now())
	if err != nil {
		return "", err
	}

	form := url.Values{}
	form.Set("grant_type", jwtBearer)
	form.Set("assertion", assertion)

	client := apiclient.New(providerName, tokenURL,
		apiclient.WithHTTPClient(s.httpClient),
		apiclient.WithTimeout(s.settings.Get().GCP.Timeout),
		apiclient.WithMetrics(s.metrics),
	)
	var resp tokenResponse
	if err := client.DoRaw(ctx, http.MethodPost, "", strings.NewReader(form.Encode()), "application/x-www-form-urlencoded", &resp); err != nil {
		return "", err
	}
	if resp.AccessToken == "" {
		return "", fmt.Errorf("gcp: empty access token")
	}
	return resp.AccessToken, nil
}
