package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"contentcrush/cmd/internal/metrics"
)

const (
	defaultRequestTimeout = 30 * time.Second
	maxResponseBytes      = 10 << 20 // 10 MiB
)

// SessionSource is what the wrapper needs from the auth layer. Defined here,
// at the consumer, so api does not depend on the auth package.
type SessionSource interface {
	// AccessToken returns the current access token, if any.
	AccessToken() (string, bool)

	// Refresh exchanges the refresh credential for a new access token.
	// Concurrent callers must coalesce into one in-flight exchange.
	Refresh(ctx context.Context) error
}

// Client is the HTTP request wrapper for /api/... endpoints.
type Client struct {
	log  *slog.Logger
	base *url.URL
	http *http.Client
	sess SessionSource

	retry   RetryPolicy
	metrics *metrics.Metrics

	// onUnauthorized fires at most once per arm cycle; re-armed after a
	// successful login. This is the redirect-to-/auth equivalent without
	// the redirect loop.
	hookMu         sync.Mutex
	hookArmed      bool
	onUnauthorized func()
}

// Option configures optional client dependencies.
type Option func(*Client)

// WithHTTPClient overrides the underlying *http.Client (tests, proxies).
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if c == nil || h == nil {
			return
		}
		c.http = h
	}
}

// WithRetryPolicy overrides the shared retry policy.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(c *Client) {
		if c == nil {
			return
		}
		c.retry = p
	}
}

// WithMetrics attaches instrumentation.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) {
		if c == nil {
			return
		}
		c.metrics = m
	}
}

// WithUnauthorizedHook sets the forced-login callback.
func WithUnauthorizedHook(fn func()) Option {
	return func(c *Client) {
		if c == nil {
			return
		}
		c.onUnauthorized = fn
	}
}

// WithLogger overrides the default logger.
func WithLogger(log *slog.Logger) Option {
	return func(c *Client) {
		if c == nil || log == nil {
			return
		}
		c.log = log
	}
}

// NewClient constructs the wrapper. The default transport carries a cookie
// jar so cookie-transport sessions work without extra wiring.
func NewClient(baseURL string, sess SessionSource, opts ...Option) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("unsupported scheme: %q", base.Scheme)
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}

	c := &Client{
		log:       slog.Default(),
		base:      base,
		http:      &http.Client{Timeout: defaultRequestTimeout, Jar: jar},
		sess:      sess,
		retry:     DefaultRetryPolicy(),
		hookArmed: true,
	}

	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(c)
	}
	return c, nil
}

// RetryPolicy returns the client's policy so other call sites (query cache)
// share the same bound and backoff.
func (c *Client) RetryPolicy() RetryPolicy { return c.retry }

// HTTPClient exposes the underlying client (the refresh exchange reuses its
// cookie jar).
func (c *Client) HTTPClient() *http.Client { return c.http }

// BaseURL returns the configured backend origin.
func (c *Client) BaseURL() *url.URL {
	u := *c.base
	return &u
}

// RearmUnauthorizedHook re-enables the forced-login callback. Called after a
// successful login so a later session loss can fire it again.
func (c *Client) RearmUnauthorizedHook() {
	c.hookMu.Lock()
	c.hookArmed = true
	c.hookMu.Unlock()
}

func (c *Client) fireUnauthorized() {
	c.hookMu.Lock()
	armed := c.hookArmed
	c.hookArmed = false
	c.hookMu.Unlock()

	if armed && c.onUnauthorized != nil {
		c.onUnauthorized()
	}
}

// Result is one successful (2xx) response.
type Result struct {
	Status int
	Header http.Header
	Body   []byte
}

// Decode unmarshals the JSON body into v.
func (r *Result) Decode(v any) error {
	if r == nil || len(r.Body) == 0 {
		return io.EOF
	}
	return json.Unmarshal(r.Body, v)
}

// requestOptions are per-call knobs.
type requestOptions struct {
	returnNilOnUnauthorized bool
	header                  http.Header
}

// RequestOption configures one call.
type RequestOption func(*requestOptions)

// ReturnNilOnUnauthorized makes a 401 yield (nil, nil) instead of triggering
// refresh or the unauthorized hook. Used by "who am I" style probes.
func ReturnNilOnUnauthorized() RequestOption {
	return func(o *requestOptions) { o.returnNilOnUnauthorized = true }
}

// WithHeader adds a header to the request.
func WithHeader(key, value string) RequestOption {
	return func(o *requestOptions) {
		if o.header == nil {
			o.header = http.Header{}
		}
		o.header.Add(key, value)
	}
}

// Get is shorthand for Do(ctx, GET, path, nil).
func (c *Client) Get(ctx context.Context, path string, opts ...RequestOption) (*Result, error) {
	return c.Do(ctx, http.MethodGet, path, nil, opts...)
}

// Post is shorthand for Do(ctx, POST, path, body).
func (c *Client) Post(ctx context.Context, path string, body any, opts ...RequestOption) (*Result, error) {
	return c.Do(ctx, http.MethodPost, path, body, opts...)
}

// Do performs one API call with auth, refresh-on-expiry, and bounded retry.
//
// Flow:
//   - 2xx: returned as Result.
//   - 401: with ReturnNilOnUnauthorized -> (nil, nil). Otherwise one refresh,
//     then one re-send; a second 401 or a failed refresh fires the hook and
//     returns ErrUnauthorized.
//   - 403 with expired marker: exactly one refresh, then re-sends bounded by
//     the retry policy; exhaustion fires the hook and returns ErrTokenExpired.
//   - other 403: ErrForbidden (wrapped APIError detail in message).
//   - other non-2xx: *APIError. Transport failure: *NetworkError.
func (c *Client) Do(ctx context.Context, method, path string, body any, opts ...RequestOption) (*Result, error) {
	var ro requestOptions
	for _, opt := range opts {
		if opt != nil {
			opt(&ro)
		}
	}

	var bodyBytes []byte
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal body: %w", err)
		}
		bodyBytes = b
	}

	refreshed := false
	retries := 0

	for {
		res, err := c.send(ctx, method, path, bodyBytes, ro.header)
		if err != nil {
			return nil, err
		}

		switch {
		case res.Status >= 200 && res.Status < 300:
			return res, nil

		case res.Status == http.StatusUnauthorized:
			if ro.returnNilOnUnauthorized {
				return nil, nil
			}
			if refreshed {
				c.fireUnauthorized()
				return nil, ErrUnauthorized
			}
			if err := c.refresh(ctx); err != nil {
				c.log.Info("api.refresh.fail", "path", path, "err", err)
				c.fireUnauthorized()
				return nil, fmt.Errorf("%w: refresh failed: %v", ErrUnauthorized, err)
			}
			refreshed = true
			continue

		case res.Status == http.StatusForbidden && isExpiredTokenBody(res.Body):
			if !refreshed {
				if err := c.refresh(ctx); err != nil {
					c.log.Info("api.refresh.fail", "path", path, "err", err)
					c.fireUnauthorized()
					return nil, fmt.Errorf("%w: refresh failed: %v", ErrUnauthorized, err)
				}
				refreshed = true
			}
			if retries >= c.retry.MaxRetries {
				c.fireUnauthorized()
				return nil, fmt.Errorf("%w: retries exhausted after %d attempts", ErrTokenExpired, retries+1)
			}
			retries++
			c.metrics.IncHTTPRetry()
			c.log.Debug("api.retry", "path", path, "attempt", retries)
			if err := c.retry.wait(ctx, retries); err != nil {
				return nil, err
			}
			continue

		case res.Status == http.StatusForbidden:
			return nil, fmt.Errorf("%w: %s", ErrForbidden, strings.TrimSpace(string(res.Body)))

		default:
			return nil, &APIError{Status: res.Status, Body: string(res.Body)}
		}
	}
}

func (c *Client) refresh(ctx context.Context) error {
	if c.sess == nil {
		return ErrUnauthorized
	}
	return c.sess.Refresh(ctx)
}

// send performs a single HTTP exchange, re-reading the token each time so a
// retried request carries the refreshed credential.
func (c *Client) send(ctx context.Context, method, path string, body []byte, extra http.Header) (*Result, error) {
	p, query := path, ""
	if i := strings.Index(path, "?"); i >= 0 {
		p, query = path[:i], path[i+1:]
	}
	u := c.base.JoinPath(p)
	u.RawQuery = query

	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), rd)
	if err != nil {
		return nil, err
	}

	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, vs := range extra {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if c.sess != nil {
		if tok, ok := c.sess.AccessToken(); ok {
			req.Header.Set("Authorization", "Bearer "+tok)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		c.metrics.IncHTTPRequest(method, "network_error")
		return nil, &NetworkError{URL: u.String(), Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		c.metrics.IncHTTPRequest(method, "network_error")
		return nil, &NetworkError{URL: u.String(), Err: err}
	}

	c.metrics.IncHTTPRequest(method, strconv.Itoa(resp.StatusCode))
	return &Result{Status: resp.StatusCode, Header: resp.Header, Body: data}, nil
}
