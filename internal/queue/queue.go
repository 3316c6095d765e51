// Package queue implements the HTTP client that polls a Riak
// replication queue for the next record. Adapted from the original
// source's HTTP-based queue fetch client.
package queue

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HTTPError is returned when the queue responds with any status other
// than 200 OK.
type HTTPError struct {
	StatusCode int
	Status     string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("queue: unexpected status %s", e.Status)
}

// Client polls a single Riak replication queue over HTTP.
type Client struct {
	httpClient *http.Client
	baseURL    string
}

// New creates a Client targeting the given host/port/queue (spec §4.5, §6.2).
func New(host string, port int, queueName string) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		baseURL:    fmt.Sprintf("http://%s:%d/queuename/%s", host, port, queueName),
	}
}

// Fetch pulls the next record from the queue. A 200 response with an
// empty body is the "no record ready" case and is returned as a
// zero-length, nil-error slice; the decoder's own empty-marker byte
// handles the "explicit empty record" case separately.
func (c *Client) Fetch(ctx context.Context) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?object_format=internal", nil)
	if err != nil {
		return nil, fmt.Errorf("queue: build request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("queue: fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &HTTPError{StatusCode: resp.StatusCode, Status: resp.Status}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("queue: read body: %w", err)
	}
	return body, nil
}

// Backoff computes the exponential-with-full-jitter delay for the
// given retry attempt (0-indexed): base doubled once per attempt and
// capped at max (spec §4.5). With a nil jitter that capped value is
// returned as is; otherwise the result is jitter(capped), which for full
// jitter lies anywhere in [0, capped].
func Backoff(attempt int, base, max time.Duration, jitter func(n int64) int64) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d > max {
			d = max
			break
		}
	}
	if d > max {
		d = max
	}
	if jitter == nil {
		return d
	}
	return time.Duration(jitter(int64(d)))
}
