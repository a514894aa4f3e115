// Package apiclient is the shared JSON-over-HTTP transport used by every
// provider integration.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/smallbiznis/accessportal/internal/observability/metrics"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

const maxErrorBody = 64 << 10

// APIError is returned for transport failures and non-2xx responses. Body
// holds the raw response text; no structure is assumed.
type APIError struct {
	Provider   string
	Method     string
	Path       string
	StatusCode int
	Body       string
	Err        error
}

func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s %s %s: %v", e.Provider, e.Method, e.Path, e.Err)
	}
	return fmt.Sprintf("%s %s %s: status %d: %s", e.Provider, e.Method, e.Path, e.StatusCode, strings.TrimSpace(e.Body))
}

func (e *APIError) Unwrap() error { return e.Err }

// Authorizer decorates an outbound request with credentials.
type Authorizer func(req *http.Request)

func Bearer(token string) Authorizer {
	return func(req *http.Request) {
		req.Header.Set("Authorization", "Bearer "+token)
	}
}

type Client struct {
	provider   string
	baseURL    string
	httpClient *http.Client
	authorize  Authorizer
	metrics    *metrics.Metrics
	tracer     trace.Tracer
}

type Option func(*Client)

func WithHTTPClient(c *http.Client) Option {
	return func(client *Client) {
		if c != nil {
			cp := *c
			client.httpClient = &cp
		}
	}
}

func WithAuthorizer(a Authorizer) Option {
	return func(client *Client) { client.authorize = a }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(client *Client) { client.metrics = m }
}

func WithTimeout(d time.Duration) Option {
	return func(client *Client) {
		if d > 0 {
			client.httpClient.Timeout = d
		}
	}
}

func New(provider, baseURL string, opts ...Option) *Client {
	c := &Client{
		provider:   provider,
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
		tracer:     otel.Tracer("accessportal/providers"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) BaseURL() string { return c.baseURL }

// Do sends a JSON request and decodes a JSON response into out when out is
// non-nil. A *[]byte out receives the raw body.
func (c *Client) Do(ctx context.Context, method, path string, in any, out any) error {
	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode %s request: %w", c.provider, err)
		}
		body = bytes.NewReader(payload)
	}
	return c.DoRaw(ctx, method, path, body, "application/json", out)
}

// DoRaw sends body as-is with the given content type.
func (c *Client) DoRaw(ctx context.Context, method, path string, body io.Reader, contentType string, out any) error {
	ctx, span := c.tracer.Start(ctx, c.provider+" "+method,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("provider", c.provider),
			attribute.String("http.request.method", method),
		),
	)
	defer span.End()

	started := time.Now()
	status, err := c.do(ctx, method, path, body, contentType, out)
	c.metrics.RecordProviderRequest(ctx, c.provider, status, time.Since(started))

	span.SetAttributes(attribute.Int("http.response.status_code", status))
	if err != nil {
		span.SetStatus(codes.Error, c.provider+" request failed")
	}
	return err
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader, contentType string, out any) (int, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return 0, &APIError{Provider: c.provider, Method: method, Path: path, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	if body != nil && contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if c.authorize != nil {
		c.authorize(req)
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, &APIError{Provider: c.provider, Method: method, Path: path, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return resp.StatusCode, &APIError{
			Provider:   c.provider,
			Method:     method,
			Path:       path,
			StatusCode: resp.StatusCode,
			Body:       string(raw),
		}
	}

	if raw, ok := out.(*[]byte); ok {
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return resp.StatusCode, &APIError{Provider: c.provider, Method: method, Path: path, StatusCode: resp.StatusCode, Err: err}
		}
		*raw = data
		return resp.StatusCode, nil
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, resp.Body)
		return resp.StatusCode, nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return resp.StatusCode, &APIError{
			Provider:   c.provider,
			Method:     method,
			Path:       path,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("decode response: %w", err),
		}
	}
	return resp.StatusCode, nil
}
