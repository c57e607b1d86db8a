// Package client is a typed HTTP client for the vearch master and router REST APIs.
// It never retries on its own; callers that need to wait for a condition use Poll.
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

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Options configures a Client.
type Options struct {
	RouterURL         string
	DataURL           string
	Timeout           time.Duration
	RequestsPerSecond float64
	HTTPClient        *http.Client
	Logger            *zap.Logger
}

// Client issues requests against one vearch cluster.
type Client struct {
	routerURL string
	dataURL   string
	http      *http.Client
	limiter   *rate.Limiter
	logger    *zap.Logger
}

// New validates the endpoints and builds a Client.
func New(opts Options) (*Client, error) {
	router, err := normalizeBase(opts.RouterURL)
	if err != nil {
		return nil, fmt.Errorf("router url: %w", err)
	}
	data, err := normalizeBase(opts.DataURL)
	if err != nil {
		return nil, fmt.Errorf("data url: %w", err)
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: opts.Timeout}
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Client{routerURL: router, dataURL: data, http: hc, logger: logger}
	if opts.RequestsPerSecond > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), 1)
	}
	return c, nil
}

func normalizeBase(raw string) (string, error) {
	if raw == "" {
		return "", fmt.Errorf("is empty")
	}
	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	if u.Host == "" {
		return "", fmt.Errorf("%q has no host", raw)
	}
	return strings.TrimRight(u.String(), "/"), nil
}

// RouterURL returns the base URL of the administration endpoints.
func (c *Client) RouterURL() string { return c.routerURL }

// DataURL returns the base URL of the document endpoints.
func (c *Client) DataURL() string { return c.dataURL }

// Response is the raw outcome of one call. Non-2xx statuses are data, not errors.
type Response struct {
	Status  int
	Body    []byte
	Elapsed time.Duration
}

// OK reports whether the status is 2xx.
func (r *Response) OK() bool {
	return r.Status >= 200 && r.Status < 300
}

// Decode unmarshals the body into v.
func (r *Response) Decode(v any) error {
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("decode %d response: %w", r.Status, err)
	}
	return nil
}

// Value decodes the body into generic JSON values.
func (r *Response) Value() (any, error) {
	var v any
	if err := r.Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}

// TransportError means no HTTP response was received.
type TransportError struct {
	Op     string
	Method string
	URL    string
	Err    error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %s %s: %v", e.Op, e.Method, e.URL, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

const (
	contentJSON   = "application/json"
	contentNDJSON = "application/x-ndjson"
)

func (c *Client) do(ctx context.Context, op, method, target string, body []byte, contentType string) (*Response, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, &TransportError{Op: op, Method: method, URL: target, Err: err}
		}
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, &TransportError{Op: op, Method: method, URL: target, Err: err}
	}
	if body != nil {
		req.Header.Set("Content-Type", contentType)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Debug("request failed", zap.String("op", op), zap.String("url", target), zap.Error(err))
		return nil, &TransportError{Op: op, Method: method, URL: target, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{Op: op, Method: method, URL: target, Err: fmt.Errorf("read body: %w", err)}
	}
	elapsed := time.Since(start)
	c.logger.Debug("request",
		zap.String("op", op),
		zap.String("method", method),
		zap.String("url", target),
		zap.Int("status", resp.StatusCode),
		zap.Duration("elapsed", elapsed),
	)
	return &Response{Status: resp.StatusCode, Body: data, Elapsed: elapsed}, nil
}

func (c *Client) doJSON(ctx context.Context, op, method, target string, payload any) (*Response, error) {
	if payload == nil {
		return c.do(ctx, op, method, target, nil, "")
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("%s: encode request: %w", op, err)
	}
	return c.do(ctx, op, method, target, body, contentJSON)
}

func join(base string, segments ...string) string {
	var b strings.Builder
	b.WriteString(base)
	for _, s := range segments {
		b.WriteByte('/')
		b.WriteString(url.PathEscape(s))
	}
	return b.String()
}
