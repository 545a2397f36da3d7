package marketplace

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// Client talks to the marketplace search provider. All calls go through one
// rate-limited HTTP client; the caller is responsible for spacing.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	userAgent  string
	retry      RetryPolicy
	sleep      func(time.Duration)
}

// NewClient creates a marketplace API client.
func NewClient(baseURL, apiKey, userAgent string, timeout time.Duration, retry RetryPolicy) *Client {
	return &Client{
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		baseURL:   baseURL,
		apiKey:    apiKey,
		userAgent: userAgent,
		retry:     retry,
		sleep:     time.Sleep,
	}
}

// get performs one API call with transient-failure retries. Terminal errors
// and non-retryable statuses are returned immediately.
func (c *Client) get(ctx context.Context, path string, params url.Values) ([]byte, error) {
	params.Set("api_key", c.apiKey)
	reqURL := c.baseURL + path + "?" + params.Encode()
	op := "GET " + path

	var lastErr error
	for attempt := 0; attempt <= c.retry.MaxAttempts; attempt++ {
		if attempt > 0 {
			delay := c.retry.Delay(attempt)
			select {
			case <-ctx.Done():
				return nil, &TransientError{Op: op, Err: ctx.Err()}
			default:
			}
			c.sleep(delay)
		}

		body, err := c.doOnce(ctx, op, reqURL)
		if err == nil {
			return body, nil
		}
		if !IsTransient(err) {
			return nil, err
		}
		lastErr = err
	}
	return nil, lastErr
}

func (c *Client) doOnce(ctx context.Context, op, reqURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%s: build request: %w", op, err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &TransientError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, &TransientError{Op: op, Err: err}
		}
		return body, nil
	case resp.StatusCode == http.StatusUnauthorized,
		resp.StatusCode == http.StatusPaymentRequired,
		resp.StatusCode == http.StatusForbidden,
		resp.StatusCode == http.StatusTooManyRequests:
		return nil, &TerminalError{Op: op, Status: resp.StatusCode,
			Err: fmt.Errorf("auth/quota failure")}
	case resp.StatusCode >= 500:
		return nil, &TransientError{Op: op,
			Err: fmt.Errorf("server error: status %d", resp.StatusCode)}
	default:
		return nil, fmt.Errorf("%s: unexpected status %d", op, resp.StatusCode)
	}
}

func decode(body []byte, v any) error {
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
