// Package httpclient is the paced, rate-limit aware JSON client used by every
// remote source adapter.
package httpclient

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/goccy/go-json"
	"github.com/hashicorp/go-retryablehttp"
	"golang.org/x/time/rate"

	"trends-importer/internal/fault"
	"trends-importer/internal/logger"
)

const (
	defaultTimeout      = 30 * time.Second
	defaultRate         = 5
	defaultBurst        = 5
	defaultMaxRetries   = 4
	defaultRetryWaitMin = 100 * time.Millisecond
	defaultRetryWaitMax = 10 * time.Second

	// Upstream payloads are a few MB at most; anything bigger is garbage.
	maxBodySize = 64 << 20
)

// Client fetches JSON documents from one upstream service
type Client struct {
	baseURL string
	http    *retryablehttp.Client
	limiter *rate.Limiter
	log     *logger.Logger
}

// Option configures a Client
type Option func(*Client)

// WithRateLimit paces requests to r per second with the given burst
func WithRateLimit(r float64, burst int) Option {
	return func(c *Client) {
		c.limiter = rate.NewLimiter(rate.Limit(r), burst)
	}
}

// WithRetry bounds the 429 retry policy
func WithRetry(maxRetries int, waitMin, waitMax time.Duration) Option {
	return func(c *Client) {
		c.http.RetryMax = maxRetries
		c.http.RetryWaitMin = waitMin
		c.http.RetryWaitMax = waitMax
	}
}

// WithTimeout sets the per-attempt timeout
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		c.http.HTTPClient.Timeout = timeout
	}
}

// WithLogger routes request and retry logging through log
func WithLogger(log *logger.Logger) Option {
	return func(c *Client) {
		c.log = log
		c.http.Logger = log.Logger
	}
}

// New creates a client rooted at baseURL
func New(baseURL string, opts ...Option) *Client {
	rc := retryablehttp.NewClient()
	rc.HTTPClient.Timeout = defaultTimeout
	rc.RetryMax = defaultMaxRetries
	rc.RetryWaitMin = defaultRetryWaitMin
	rc.RetryWaitMax = defaultRetryWaitMax
	rc.CheckRetry = retryOnlyRateLimited
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler
	rc.Logger = nil

	c := &Client{
		baseURL: baseURL,
		http:    rc,
		limiter: rate.NewLimiter(defaultRate, defaultBurst),
		log:     logger.Discard(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// retryOnlyRateLimited retries 429 responses and nothing else. Connection
// failures and other statuses are terminal for the call.
func retryOnlyRateLimited(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	if err != nil {
		return false, err
	}
	return resp.StatusCode == http.StatusTooManyRequests, nil
}

// URL joins path and query onto the base URL
func (c *Client) URL(path string, query url.Values) string {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return u
}

// Get returns the raw body of a 200 response. Errors are classified:
// fault.ErrNoData for permanent 4xx, fault.ErrRateLimited once retries are
// spent, fault.ErrNetwork for everything else.
func (c *Client) Get(ctx context.Context, path string, query url.Values) ([]byte, error) {
	target := c.URL(path, query)

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("GET %s: %w: %w", target, fault.ErrNetwork, err)
	}

	req, err := retryablehttp.NewRequest(http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req = req.WithContext(ctx)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("GET %s: %w: %w", target, fault.ErrNetwork, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, fault.WrapHTTPStatus(resp.StatusCode, target)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("GET %s: reading body: %w: %w", target, fault.ErrNetwork, err)
	}
	c.log.Debug("fetched", "url", target, "bytes", len(body))
	return body, nil
}

// GetJSON fetches and decodes into out. A body that does not decode is a
// fault.ErrParse.
func (c *Client) GetJSON(ctx context.Context, path string, query url.Values, out any) error {
	body, err := c.Get(ctx, path, query)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fault.Parse("GET "+c.URL(path, query), err)
	}
	return nil
}
