package feed

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/rewired-gh/quakewatch/internal/logger"
)

// maxBodyBytes bounds a feed response; the USGS month feed is well under it.
const maxBodyBytes = 64 << 20

// StatusError reports a non-success HTTP status from a feed endpoint.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("feed %s returned status %d", e.URL, e.StatusCode)
}

// Client performs rate-limited GET requests with retry on network errors and
// 5xx responses.
type Client struct {
	httpClient     *http.Client
	limiter        *rate.Limiter
	userAgent      string
	maxRetries     int
	retryDelayBase time.Duration
}

// ClientOptions configures a Client. Zero values select defaults.
type ClientOptions struct {
	Timeout           time.Duration
	MaxRetries        int
	RetryDelayBase    time.Duration
	RequestsPerMinute int
	UserAgent         string
}

// NewClient creates a new feed HTTP client
func NewClient(opts ClientOptions) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.MaxRetries < 1 {
		opts.MaxRetries = 1
	}
	if opts.RetryDelayBase < 0 {
		opts.RetryDelayBase = 0
	}
	if opts.RequestsPerMinute < 1 {
		opts.RequestsPerMinute = 30
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "quakewatch/1.0"
	}

	return &Client{
		httpClient: &http.Client{
			Timeout: opts.Timeout,
		},
		limiter:        rate.NewLimiter(rate.Every(time.Minute/time.Duration(opts.RequestsPerMinute)), 1),
		userAgent:      opts.UserAgent,
		maxRetries:     opts.MaxRetries,
		retryDelayBase: opts.RetryDelayBase,
	}
}

// Get fetches url and returns the response body.
func (c *Client) Get(ctx context.Context, url string) ([]byte, error) {
	var lastErr error

	for i := 0; i < c.maxRetries; i++ {
		if i > 0 {
			delay := time.Duration(i) * c.retryDelayBase
			logger.Debug("Retrying feed request to %s in %v (attempt %d/%d): %v", url, delay, i+1, c.maxRetries, lastErr)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limit wait: %w", err)
		}

		body, retry, err := c.do(ctx, url)
		if err == nil {
			return body, nil
		}
		lastErr = err
		if !retry {
			return nil, err
		}
	}

	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}

// do performs one attempt. retry reports whether the failure is transient.
func (c *Client) do(ctx context.Context, url string) (body []byte, retry bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, false, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, ctx.Err() == nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, resp.StatusCode >= 500, &StatusError{URL: url, StatusCode: resp.StatusCode}
	}

	body, err = io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, true, fmt.Errorf("failed to read response body: %w", err)
	}
	return body, false, nil
}
