// Package transport issues requests against the remote asynchronous job
// endpoints. It attaches the session credential, decodes service-reported
// error envelopes, detects session expiry (retrying once after a refresh),
// and supports streamed request and response bodies for the data plane.
package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/go-resty/resty/v2"

	"github.com/perrin/forcebulk/internal/logger"
)

const sessionHeader = "X-SFDC-Session"

// Request describes one call against the async job root.
type Request struct {
	Method string
	Path   string // relative to the async root, e.g. "/job/750x0/batch"
	Body   any    // JSON-encoded when non-nil
	Raw    io.Reader
	// ContentType defaults to application/json for Body and text/csv for Raw.
	ContentType string
}

// Response is a buffered response body with its status code.
type Response struct {
	Status int
	Body   []byte
}

// Transport is the narrow interface the bulk engine consumes.
type Transport interface {
	// Do issues a request and buffers the response body.
	Do(ctx context.Context, req Request) (*Response, error)

	// Stream issues a request and returns the raw response body for the
	// caller to consume. The caller owns the returned ReadCloser.
	Stream(ctx context.Context, req Request) (io.ReadCloser, error)
}

// Client is the resty-backed Transport implementation.
type Client struct {
	http      *resty.Client
	log       *logger.Logger
	refresher Refresher

	mu      sync.RWMutex
	session *Session
}

// Option configures a Client.
type Option func(*Client)

// WithRefresher installs a session refresher; expired-session responses are
// retried once after a successful refresh.
func WithRefresher(r Refresher) Option {
	return func(c *Client) { c.refresher = r }
}

// WithLogger overrides the default logger.
func WithLogger(l *logger.Logger) Option {
	return func(c *Client) { c.log = l }
}

// WithHTTPClient overrides the underlying resty client.
func WithHTTPClient(h *resty.Client) Option {
	return func(c *Client) { c.http = h }
}

// New creates a transport bound to the given session.
func New(session *Session, opts ...Option) *Client {
	c := &Client{
		http:    resty.New(),
		log:     logger.GetDefault().WithField(logger.FieldComponent, "transport"),
		session: session,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Session returns the current session.
func (c *Client) Session() *Session {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.session
}

func (c *Client) endpoint(path string) string {
	c.mu.RLock()
	s := c.session
	c.mu.RUnlock()
	base := strings.TrimSuffix(s.InstanceURL, "/")
	return fmt.Sprintf("%s/services/async/%s%s", base, s.APIVersion, path)
}

func (c *Client) token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.session.AccessToken
}

// Do implements Transport. A session-expired envelope triggers one refresh
// and one replay, except for streamed request bodies, which cannot be
// replayed once consumed.
func (c *Client) Do(ctx context.Context, req Request) (*Response, error) {
	resp, err := c.once(ctx, req)
	if c.shouldRetry(err) && req.Raw == nil {
		if rerr := c.refresh(ctx); rerr != nil {
			return nil, rerr
		}
		return c.once(ctx, req)
	}
	return resp, err
}

// Stream implements Transport.
func (c *Client) Stream(ctx context.Context, req Request) (io.ReadCloser, error) {
	rc, err := c.stream(ctx, req)
	if c.shouldRetry(err) {
		if rerr := c.refresh(ctx); rerr != nil {
			return nil, rerr
		}
		return c.stream(ctx, req)
	}
	return rc, err
}

func (c *Client) once(ctx context.Context, req Request) (*Response, error) {
	r := c.newRequest(ctx, req)

	resp, err := r.Execute(req.Method, c.endpoint(req.Path))
	if err != nil {
		return nil, fmt.Errorf("transport: %s %s: %w", req.Method, req.Path, err)
	}
	if resp.StatusCode() >= 400 {
		return nil, parseAPIError(resp.StatusCode(), resp.Body())
	}
	return &Response{Status: resp.StatusCode(), Body: resp.Body()}, nil
}

func (c *Client) stream(ctx context.Context, req Request) (io.ReadCloser, error) {
	r := c.newRequest(ctx, req)
	r.SetDoNotParseResponse(true)

	resp, err := r.Execute(req.Method, c.endpoint(req.Path))
	if err != nil {
		return nil, fmt.Errorf("transport: %s %s: %w", req.Method, req.Path, err)
	}
	if resp.StatusCode() >= 400 {
		body, _ := io.ReadAll(resp.RawBody())
		resp.RawBody().Close()
		return nil, parseAPIError(resp.StatusCode(), body)
	}
	return resp.RawBody(), nil
}

func (c *Client) newRequest(ctx context.Context, req Request) *resty.Request {
	r := c.http.R().
		SetContext(ctx).
		SetHeader(sessionHeader, c.token())

	switch {
	case req.Raw != nil:
		r.SetHeader("Content-Type", orDefault(req.ContentType, "text/csv"))
		r.SetBody(req.Raw)
	case req.Body != nil:
		r.SetHeader("Content-Type", orDefault(req.ContentType, "application/json"))
		r.SetBody(req.Body)
	default:
		r.SetHeader("Accept", "application/json")
	}
	return r
}

func (c *Client) shouldRetry(err error) bool {
	if err == nil || c.refresher == nil {
		return false
	}
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.SessionExpired()
}

func (c *Client) refresh(ctx context.Context) error {
	c.log.Info("session expired, refreshing")
	session, err := c.refresher.Refresh(ctx)
	if err != nil {
		return fmt.Errorf("transport: refresh session: %w", err)
	}
	c.mu.Lock()
	c.session = session
	c.mu.Unlock()
	return nil
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
