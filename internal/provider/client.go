// Package provider talks to the remote search gateway that serves flight,
// hotel and activity offers, and resolves place names to provider codes.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/kalambet/tripd/internal/search"
)

const (
	defaultTimeout     = 30 * time.Second
	defaultMaxAttempts = 3
	defaultBackoff     = 500 * time.Millisecond
	maxErrorBody       = 512
)

// Client calls a search gateway over HTTP. One client serves every
// category; the category selects the endpoint.
type Client struct {
	apiKey      string
	baseURL     string
	httpClient  *http.Client
	maxAttempts int
	backoff     time.Duration
}

// NewClient creates a gateway client.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		apiKey:      apiKey,
		baseURL:     strings.TrimRight(baseURL, "/"),
		httpClient:  &http.Client{Timeout: defaultTimeout},
		maxAttempts: defaultMaxAttempts,
		backoff:     defaultBackoff,
	}
}

// WithRetry sets the attempt budget and the initial backoff.
func (c *Client) WithRetry(attempts int, backoff time.Duration) *Client {
	if attempts > 0 {
		c.maxAttempts = attempts
	}
	if backoff >= 0 {
		c.backoff = backoff
	}
	return c
}

type searchResponse struct {
	Offers []search.Offer `json:"offers"`
}

// Search posts q to /v1/search/{category}. Rate-limit and server errors are
// retried with exponential backoff; anything else fails at once.
func (c *Client) Search(ctx context.Context, q search.Query) ([]search.Offer, error) {
	body, err := json.Marshal(q)
	if err != nil {
		return nil, fmt.Errorf("marshaling query: %w", err)
	}

	var lastErr error
	for attempt := range c.maxAttempts {
		offers, err := c.do(ctx, string(q.Category), body)
		if err == nil {
			return offers, nil
		}
		if !isRetryable(err) {
			return nil, err
		}
		lastErr = err
		if attempt < c.maxAttempts-1 {
			backoff := time.Duration(float64(c.backoff) * math.Pow(2, float64(attempt)))
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}
	}
	return nil, fmt.Errorf("%s search failed after %d attempts: %w", q.Category, c.maxAttempts, lastErr)
}

// statusError is returned for non-2xx responses.
type statusError struct {
	status int
	body   string
}

func (e *statusError) Error() string {
	if e.body == "" {
		return fmt.Sprintf("unexpected status %d", e.status)
	}
	return fmt.Sprintf("unexpected status %d: %s", e.status, e.body)
}

func isRetryable(err error) bool {
	se, ok := err.(*statusError)
	if !ok {
		return false
	}
	return se.status == http.StatusTooManyRequests || se.status >= 500
}

func (c *Client) do(ctx context.Context, category string, body []byte) ([]search.Offer, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/search/"+category, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &statusError{status: resp.StatusCode, body: strings.TrimSpace(string(b))}
	}

	var out searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	return out.Offers, nil
}

// Unavailable is used when no gateway is configured; every search fails and
// surfaces as an outage placeholder.
type Unavailable struct{}

func (Unavailable) Search(ctx context.Context, q search.Query) ([]search.Offer, error) {
	return nil, fmt.Errorf("no %s provider configured", q.Category)
}
