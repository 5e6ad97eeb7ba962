package adapter

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/keithlinneman/coachdesk-api/internal/apperr"
	"github.com/keithlinneman/coachdesk-api/internal/retry"
	"github.com/keithlinneman/coachdesk-api/internal/version"
)

const maxErrorBody = 4 << 10

// StatusError is a non-2xx provider response. It exposes the upstream
// status to retry classification without becoming the status of the
// inbound request.
type StatusError struct {
	Service string
	Method  string
	Path    string
	Status  int
	Body    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s %s: upstream status %d", e.Service, e.Method, e.Path, e.Status)
}

func (e *StatusError) StatusCode() int { return e.Status }

type ClientOptions struct {
	// Service names the provider in logs, spans and metrics.
	Service string
	BaseURL string
	APIKey  string

	// Timeout bounds a single attempt.
	Timeout time.Duration
	Retry   retry.Options

	// Transport overrides the otelhttp-wrapped default transport.
	Transport http.RoundTripper
}

// Client is a JSON-over-HTTP provider client.
type Client struct {
	service string
	base    string
	apiKey  string
	http    *http.Client
	retry   retry.Options
}

func NewClient(opts ClientOptions) (*Client, error) {
	if opts.Service == "" {
		return nil, errors.New("adapter client: service name is required")
	}
	if opts.BaseURL == "" {
		return nil, fmt.Errorf("adapter client %s: base URL is required", opts.Service)
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	rt := opts.Transport
	if rt == nil {
		rt = http.DefaultTransport
	}
	return &Client{
		service: opts.Service,
		base:    strings.TrimRight(opts.BaseURL, "/"),
		apiKey:  opts.APIKey,
		http: &http.Client{
			Timeout: opts.Timeout,
			Transport: otelhttp.NewTransport(rt,
				otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
					return opts.Service + " " + r.Method
				}),
			),
		},
		retry: opts.Retry,
	}, nil
}

// Do sends in as JSON and decodes the response into out when non-nil.
// One Idempotency-Key is generated per call and reused on every attempt,
// so a retried write is applied by the provider at most once.
func (c *Client) Do(ctx context.Context, method, path string, in, out any) error {
	var body []byte
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return apperr.Wrapf(err, "encode %s request", c.service)
		}
		body = b
	}
	idemKey := uuid.NewString()

	opts := c.retry
	opts.Name = c.service + " " + method + " " + path

	return retry.Run(ctx, opts, func(ctx context.Context) error {
		return c.attempt(ctx, method, path, idemKey, body, out)
	})
}

func (c *Client) attempt(ctx context.Context, method, path, idemKey string, body []byte, out any) error {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, rd)
	if err != nil {
		return apperr.Wrapf(err, "build %s request", c.service)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", version.UserAgent())
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	if method != http.MethodGet && method != http.MethodHead {
		req.Header.Set("Idempotency-Key", idemKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &StatusError{
			Service: c.service,
			Method:  method,
			Path:    path,
			Status:  resp.StatusCode,
			Body:    string(b),
		}
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return apperr.Wrapf(err, "decode %s response", c.service)
	}
	return nil
}
