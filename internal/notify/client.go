// Package notify talks to the external sender verification and document
// upload services.
package notify

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
)

// ErrUnavailable is returned while the circuit breaker is open.
var ErrUnavailable = errors.New("service unavailable")

// StatusError is returned for responses outside the 2xx range.
type StatusError struct {
	Method     string
	URL        string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d on %s %s: %s", e.StatusCode, e.Method, e.URL, e.Body)
}

// response is a fully read HTTP response.
type response struct {
	StatusCode int
	Body       []byte
}

// Client is a small HTTP client shared by the Verifier and Uploader.
// It bounds each request with a timeout, retries 429 responses with
// backoff, and stops calling a service that keeps failing.
type Client struct {
	httpClient *http.Client
	cb         *gobreaker.CircuitBreaker
	maxRetries int
	maxBackoff time.Duration
}

// NewClient returns a client whose breaker is identified by name.
func NewClient(name string, timeout time.Duration, log logrus.FieldLogger) *Client {
	return newClient(name, &http.Client{Timeout: timeout}, log)
}

func newClient(name string, httpClient *http.Client, log logrus.FieldLogger) *Client {
	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.WithFields(logrus.Fields{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("circuit breaker state changed")
		},
	}

	return &Client{
		httpClient: httpClient,
		cb:         gobreaker.NewCircuitBreaker(settings),
		maxRetries: 3,
		maxBackoff: 30 * time.Second,
	}
}

// do sends the request built by newReq. newReq is called once per
// attempt so request bodies can be replayed. Only transport errors,
// 5xx responses and exhausted rate limits count against the breaker;
// other statuses are returned to the caller to interpret.
func (c *Client) do(ctx context.Context, newReq func(ctx context.Context) (*http.Request, error)) (*response, error) {
	out, err := c.cb.Execute(func() (interface{}, error) {
		return c.attempt(ctx, newReq)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("%s: %w", c.cb.Name(), ErrUnavailable)
	}
	if err != nil {
		var se *StatusError
		if errors.As(err, &se) {
			return &response{StatusCode: se.StatusCode, Body: []byte(se.Body)}, err
		}
		return nil, err
	}
	return out.(*response), nil
}

func (c *Client) attempt(ctx context.Context, newReq func(ctx context.Context) (*http.Request, error)) (*response, error) {
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		req, err := newReq(ctx)
		if err != nil {
			return nil, fmt.Errorf("creating request: %w", err)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("executing request %s %s: %w", req.Method, req.URL.Redacted(), err)
		}

		body, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			return nil, fmt.Errorf("reading response body: %w", readErr)
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			lastErr = &StatusError{Method: req.Method, URL: req.URL.Redacted(), StatusCode: resp.StatusCode, Body: string(body)}

			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(c.retryAfter(resp, attempt)):
				continue
			}
		}

		if resp.StatusCode >= 500 {
			return nil, &StatusError{Method: req.Method, URL: req.URL.Redacted(), StatusCode: resp.StatusCode, Body: string(body)}
		}
		return &response{StatusCode: resp.StatusCode, Body: body}, nil
	}

	return nil, fmt.Errorf("max retries (%d) exceeded: %w", c.maxRetries, lastErr)
}

// retryAfter honours a Retry-After header in seconds and otherwise
// backs off exponentially from one second.
func (c *Client) retryAfter(resp *http.Response, attempt int) time.Duration {
	if header := resp.Header.Get("Retry-After"); header != "" {
		if seconds, err := strconv.Atoi(header); err == nil && seconds >= 0 {
			return min(time.Duration(seconds)*time.Second, c.maxBackoff)
		}
	}
	return min(time.Duration(1<<uint(attempt))*time.Second, c.maxBackoff)
}
