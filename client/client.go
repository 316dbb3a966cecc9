// Package client talks to a fitcipher server and keeps the secret key on
// the caller's side.
//
// Client is the thin HTTP layer. Session adds the key handling: it
// encrypts runs before they leave the process and decrypts the totals the
// server returns.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/fitcipher/fitcipher/service"
)

// StatusError is returned for a non-2xx response.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server returned %d %s", e.StatusCode, http.StatusText(e.StatusCode))
	}
	return fmt.Sprintf("server returned %d %s: %s", e.StatusCode, http.StatusText(e.StatusCode), e.Message)
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.http = hc
	}
}

// WithTimeout sets the timeout of every request.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.http.Timeout = d
	}
}

// WithLogger sets the logger.
func WithLogger(logger logrus.FieldLogger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// Client calls the /api/metrics endpoints.
type Client struct {
	baseURL string
	http    *http.Client
	logger  logrus.FieldLogger
}

// New returns a Client for the server at baseURL, e.g. "http://localhost:8080".
func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid server url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid server url %q: scheme must be http or https", baseURL)
	}

	discard := logrus.New()
	discard.SetOutput(io.Discard)

	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 30 * time.Second},
		logger:  discard,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// GetKeys returns the key material the server publishes.
func (c *Client) GetKeys(ctx context.Context) (service.KeysResponse, error) {
	var res service.KeysResponse
	err := c.do(ctx, http.MethodGet, "/api/metrics/keys", nil, &res)
	return res, err
}

// RegisterPublicKey binds pk, a public key transport string, on the server.
func (c *Client) RegisterPublicKey(ctx context.Context, pk string) error {
	return c.do(ctx, http.MethodPut, "/api/metrics/keys", service.RegisterKeyRequest{PublicKey: pk}, nil)
}

// SubmitRecord sends one encrypted run and returns the record ID.
func (c *Client) SubmitRecord(ctx context.Context, item service.RunItem) (string, error) {
	var res service.SubmitResponse
	if err := c.do(ctx, http.MethodPost, "/api/metrics", item, &res); err != nil {
		return "", err
	}
	return res.ID, nil
}

// GetAggregate returns the encrypted totals.
func (c *Client) GetAggregate(ctx context.Context) (service.SummaryItem, error) {
	var res service.SummaryItem
	err := c.do(ctx, http.MethodGet, "/api/metrics", nil, &res)
	return res, err
}

// GetParams returns the scheme parameters of the server.
func (c *Client) GetParams(ctx context.Context) (service.ParamsResponse, error) {
	var res service.ParamsResponse
	err := c.do(ctx, http.MethodGet, "/api/metrics/params", nil, &res)
	return res, err
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		rd = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	c.logger.WithFields(logrus.Fields{
		"method":   method,
		"path":     path,
		"status":   resp.StatusCode,
		"duration": time.Since(start),
	}).Debug("request")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		serr := &StatusError{StatusCode: resp.StatusCode}
		var e service.ErrorResponse
		if data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16)); err == nil {
			if json.Unmarshal(data, &e) == nil && e.Error != "" {
				serr.Message = e.Error
			} else {
				serr.Message = strings.TrimSpace(string(data))
			}
		}
		return serr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}
