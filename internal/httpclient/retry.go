package httpclient

import (
	"context"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// RetryPolicy controls the single in-client retry applied to site and
// platform API calls. The pipeline workers layer their own longer backoff on
// top of this for connection-level failures.
type RetryPolicy struct {
	// Retry429 honours a Retry-After pause (capped at Max429Wait) and
	// retries once.
	Retry429   bool
	Max429Wait time.Duration
	// Retry5xx waits Backoff5xx and retries once.
	Retry5xx   bool
	Backoff5xx time.Duration
}

// DefaultRetryPolicy retries 429 with the server's Retry-After capped at one
// minute, and 5xx after a one-second pause.
var DefaultRetryPolicy = RetryPolicy{
	Retry429:   true,
	Max429Wait: 60 * time.Second,
	Retry5xx:   true,
	Backoff5xx: 1 * time.Second,
}

// DoWithRetry performs req, retrying once on 429 or 5xx when the policy
// allows. Other 4xx responses are returned as-is. The retried request is
// rebuilt from req's method, URL and headers; bodies are not replayed, so
// this is only for GET-shaped calls. Caller closes resp.Body on nil error.
func DoWithRetry(ctx context.Context, client *http.Client, req *http.Request, policy RetryPolicy) (*http.Response, error) {
	if client == nil {
		client = Default()
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}

	var wait time.Duration
	switch code := resp.StatusCode; {
	case code == http.StatusTooManyRequests && policy.Retry429:
		wait = parseRetryAfter(resp.Header.Get("Retry-After"), policy.Max429Wait)
	case code >= 500 && policy.Retry5xx:
		wait = policy.Backoff5xx
	default:
		return resp, nil
	}

	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(wait):
	}

	retry, err := http.NewRequestWithContext(ctx, req.Method, req.URL.String(), nil)
	if err != nil {
		return nil, err
	}
	for k, v := range req.Header {
		retry.Header[k] = v
	}
	return client.Do(retry)
}

// parseRetryAfter reads a Retry-After value, either delay-seconds or an HTTP
// date, capped at max. Unparseable values fall back to one second.
func parseRetryAfter(s string, max time.Duration) time.Duration {
	s = strings.TrimSpace(s)
	if sec, err := strconv.Atoi(s); err == nil && sec >= 0 {
		d := time.Duration(sec) * time.Second
		if d > max {
			return max
		}
		return d
	}
	if t, err := time.Parse(time.RFC1123, s); err == nil {
		until := time.Until(t)
		switch {
		case until <= 0:
			return 0
		case until > max:
			return max
		}
		return until
	}
	return 1 * time.Second
}
