// Package solver implements the optimizer client over HTTP.
package solver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kilianp07/erg/core/logger"
	"github.com/kilianp07/erg/core/model"
	coresolver "github.com/kilianp07/erg/core/solver"
)

const (
	schedulePath = "/api/v1/schedule"
	healthPath   = "/api/v1/health"

	// maxBody bounds the response size read from the solver.
	maxBody = 8 << 20
)

// Option customizes an HTTPClient.
type Option func(*HTTPClient)

// WithToken sets the bearer token sent with every request.
func WithToken(token string) Option {
	return func(c *HTTPClient) { c.token = token }
}

// Authorizer sets credentials on outgoing requests.
type Authorizer interface {
	SetAuthHeader(r *http.Request) error
}

// WithAuthorizer authenticates requests with a, for instance OAuth2 client
// credentials. It takes precedence over WithToken. When a also implements
// Invalidate() it is called after the solver rejects the credentials.
func WithAuthorizer(a Authorizer) Option {
	return func(c *HTTPClient) { c.auth = a }
}

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *HTTPClient) { c.http = h }
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(c *HTTPClient) { c.log = logger.OrNop(l) }
}

// WithClock overrides the time source used to stamp fetched schedules.
func WithClock(now func() time.Time) Option {
	return func(c *HTTPClient) { c.now = now }
}

// HTTPClient posts scheduling problems to the optimizer API.
type HTTPClient struct {
	baseURL string
	token   string
	auth    Authorizer
	http    *http.Client
	log     logger.Logger
	now     func() time.Time
}

var _ coresolver.Client = (*HTTPClient)(nil)

// New returns a client for the solver at baseURL.
func New(baseURL string, opts ...Option) *HTTPClient {
	c := &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 30 * time.Second},
		log:     logger.Nop{},
		now:     time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Fetch submits req and returns the validated schedule.
func (c *HTTPClient) Fetch(ctx context.Context, req coresolver.Request) (*model.Schedule, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+schedulePath, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", coresolver.ErrUnreachable, err)
	}
	id := uuid.NewString()
	if err := c.headers(httpReq); err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Request-ID", id)

	c.log.Debugw("solver request", map[string]any{
		"request_id": id,
		"boxes":      len(req.Boxes),
		"periods":    len(req.Tariff.Periods),
		"horizon":    req.Horizon.End.Sub(req.Horizon.Start).String(),
	})

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", coresolver.ErrUnreachable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", coresolver.ErrUnreachable, err)
	}
	if err := statusError(resp, body); err != nil {
		c.rejected(err)
		return nil, err
	}
	s, err := coresolver.DecodeResponse(body, req.Horizon, c.now())
	if err != nil {
		return nil, err
	}
	c.log.Debugw("solver response", map[string]any{
		"request_id":  id,
		"assignments": len(s.Assignments),
	})
	return s, nil
}

// Health calls the solver health endpoint.
func (c *HTTPClient) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+healthPath, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", coresolver.ErrUnreachable, err)
	}
	if err := c.headers(req); err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", coresolver.ErrUnreachable, err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	err = statusError(resp, body)
	c.rejected(err)
	return err
}

func (c *HTTPClient) headers(r *http.Request) error {
	switch {
	case c.auth != nil:
		if err := c.auth.SetAuthHeader(r); err != nil {
			return fmt.Errorf("%w: %w", coresolver.ErrUnauthorized, err)
		}
	case c.token != "":
		r.Header.Set("Authorization", "Bearer "+c.token)
	}
	r.Header.Set("Accept", "application/json")
	return nil
}

// rejected drops cached credentials after an authorization failure.
func (c *HTTPClient) rejected(err error) {
	if inv, ok := c.auth.(interface{ Invalidate() }); ok && errors.Is(err, coresolver.ErrUnauthorized) {
		inv.Invalidate()
	}
}

func statusError(resp *http.Response, body []byte) error {
	switch {
	case resp.StatusCode == http.StatusOK:
		return nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w: HTTP %d", coresolver.ErrUnauthorized, resp.StatusCode)
	case resp.StatusCode == http.StatusTooManyRequests:
		return &coresolver.RateLimitError{RetryAfter: retryAfter(resp.Header.Get("Retry-After"), time.Now())}
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: HTTP %d: %s", coresolver.ErrUnreachable, resp.StatusCode, snippet(body))
	default:
		return fmt.Errorf("%w: HTTP %d: %s", coresolver.ErrInvalidResponse, resp.StatusCode, snippet(body))
	}
}

// retryAfter parses a Retry-After header given either in seconds or as an
// HTTP date.
func retryAfter(v string, now time.Time) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := t.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}

func snippet(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) > 200 {
		s = s[:200] + "..."
	}
	return s
}
