// Package clients is a Go client for the bookhold HTTP API. Calls go
// through a circuit breaker so a failing server is not hammered.
package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"bookhold/internal/apperror"

	"github.com/sony/gobreaker"
)

type Client struct {
	baseURL string
	http    *http.Client
	breaker *gobreaker.CircuitBreaker
}

// Options tunes the breaker. Zero values pick the defaults below.
type Options struct {
	Timeout          time.Duration
	ConsecutiveFails uint32
	OpenFor          time.Duration
	HTTPClient       *http.Client
}

func New(baseURL string, opts Options) *Client {
	if opts.Timeout == 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.ConsecutiveFails == 0 {
		opts.ConsecutiveFails = 5
	}
	if opts.OpenFor == 0 {
		opts.OpenFor = 30 * time.Second
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: opts.Timeout}
	}

	return &Client{
		baseURL: baseURL,
		http:    hc,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "bookhold-api",
			Timeout: opts.OpenFor,
			ReadyToTrip: func(c gobreaker.Counts) bool {
				return c.ConsecutiveFailures >= opts.ConsecutiveFails
			},
			// a 4xx answer means the server is healthy
			IsSuccessful: func(err error) bool {
				return err == nil || apperror.KindOf(err) != apperror.KindInternal
			},
		}),
	}
}

// BreakerState reports the breaker's state, e.g. "closed" or "open".
func (c *Client) BreakerState() string {
	return c.breaker.State().String()
}

// ErrBreakerOpen is returned without contacting the server.
var ErrBreakerOpen = gobreaker.ErrOpenState

type errorBody struct {
	Error  string `json:"error"`
	Reason string `json:"reason"`
}

// do sends in as JSON and decodes the 2xx response into out. Error
// responses come back as apperror values carrying the server's reason.
func (c *Client) do(ctx context.Context, method, path, token string, in, out any) error {
	_, err := c.breaker.Execute(func() (any, error) {
		return nil, c.roundTrip(ctx, method, path, token, in, out)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	return err
}

func (c *Client) roundTrip(ctx context.Context, method, path, token string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var eb errorBody
		_ = json.NewDecoder(resp.Body).Decode(&eb)
		return statusError(resp.StatusCode, eb)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func statusError(status int, eb errorBody) error {
	var kind apperror.Kind
	switch status {
	case http.StatusNotFound:
		kind = apperror.KindNotFound
	case http.StatusConflict:
		kind = apperror.KindConflict
	case http.StatusBadRequest:
		kind = apperror.KindValidation
	case http.StatusForbidden:
		kind = apperror.KindForbidden
	case http.StatusUnauthorized:
		kind = apperror.KindUnauthorized
	case http.StatusTooManyRequests:
		kind = apperror.KindRateLimited
	default:
		return fmt.Errorf("unexpected status code: %d: %s", status, eb.Error)
	}
	return &apperror.Error{Kind: kind, Reason: apperror.Reason(eb.Reason), Message: eb.Error}
}
