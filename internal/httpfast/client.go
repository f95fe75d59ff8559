// Package httpfast is a small fasthttp GET client with bounded retries.
package httpfast

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/valyala/fasthttp"
)

const defaultUserAgent = "ccrl-live-notifier/1.0"

// StatusError is returned for any non-2xx response. Redirects are not
// followed and surface here too.
type StatusError struct {
	URL    string
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: status=%d body=%s", e.URL, e.Status, e.Body)
}

// IsStatus reports whether err is a StatusError with one of codes.
func IsStatus(err error, codes ...int) bool {
	var se *StatusError
	if !errors.As(err, &se) {
		return false
	}
	for _, c := range codes {
		if se.Status == c {
			return true
		}
	}
	return false
}

type Client struct {
	http *fasthttp.Client

	userAgent      string
	defaultTimeout time.Duration
	retryMax       int
	backoffBase    time.Duration
}

type Option func(*Client)

func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.defaultTimeout = d
		}
	}
}

// WithRetry sets the total number of attempts for retryable failures.
func WithRetry(max int) Option {
	return func(c *Client) { c.retryMax = max }
}

func WithUserAgent(ua string) Option {
	return func(c *Client) {
		if strings.TrimSpace(ua) != "" {
			c.userAgent = ua
		}
	}
}

func WithBackoff(base time.Duration) Option {
	return func(c *Client) { c.backoffBase = base }
}

// WithDial replaces the dialer, e.g. with an in-memory listener in tests.
func WithDial(dial func(addr string) (net.Conn, error)) Option {
	return func(c *Client) { c.http.Dial = dial }
}

func New(opts ...Option) *Client {
	c := &Client{
		http: &fasthttp.Client{
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    10 * time.Second,
			MaxConnsPerHost: 16,
		},
		userAgent:      defaultUserAgent,
		defaultTimeout: 10 * time.Second,
		retryMax:       3,
		backoffBase:    100 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get fetches url and returns the status and a copy of the body. Transport
// errors and 5xx responses are retried with exponential backoff. A 2xx returns
// a nil error; anything else returns *StatusError along with the body.
func (c *Client) Get(ctx context.Context, url string) (int, []byte, error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer func() {
		fasthttp.ReleaseRequest(req)
		fasthttp.ReleaseResponse(resp)
	}()

	req.Header.SetMethod(fasthttp.MethodGet)
	req.SetRequestURI(url)
	req.Header.SetUserAgent(c.userAgent)

	attempts := c.retryMax
	if attempts <= 0 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return 0, nil, err
		}
		resp.Reset()
		err := c.http.DoDeadline(req, resp, c.computeDeadline(ctx))
		if err != nil {
			lastErr = fmt.Errorf("GET %s: %w", url, err)
			if attempt == attempts {
				return 0, nil, lastErr
			}
			if sleepErr := c.sleepWithContext(ctx, c.backoffDuration(attempt)); sleepErr != nil {
				return 0, nil, lastErr
			}
			continue
		}

		status := resp.StatusCode()
		body := append([]byte(nil), resp.Body()...)
		if status >= 200 && status < 300 {
			return status, body, nil
		}
		lastErr = &StatusError{URL: url, Status: status, Body: truncate(string(body), 512)}
		if attempt == attempts || !shouldRetryStatus(status) {
			return status, body, lastErr
		}
		if sleepErr := c.sleepWithContext(ctx, c.backoffDuration(attempt)); sleepErr != nil {
			return status, body, lastErr
		}
	}

	if lastErr == nil {
		lastErr = errors.New("unknown error")
	}
	return 0, nil, lastErr
}

func (c *Client) computeDeadline(ctx context.Context) time.Time {
	clientDL := time.Now().Add(c.defaultTimeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(clientDL) {
		return dl
	}
	return clientDL
}

func (c *Client) sleepWithContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (c *Client) backoffDuration(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 6 {
		attempt = 6
	}
	return time.Duration(1<<uint(attempt-1)) * c.backoffBase // base, 2x base ...
}

func shouldRetryStatus(code int) bool {
	switch code {
	case 500, 502, 503, 504:
		return true
	default:
		return false
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
