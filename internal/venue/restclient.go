package venue

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"golang.org/x/time/rate"
)

// Client wraps a retryablehttp.Client with a per-venue token bucket, shared
// by the binance and bybit adapters. Grounded on the retry shape
// NimbleMarkets-dbn-go uses for its downloader.
type Client struct {
	base    string
	http    *retryablehttp.Client
	limiter *rate.Limiter
}

// NewClient builds a rate-limited retryable HTTP client for a venue's base
// URL. ratePerSecond sizes both the token bucket and its burst.
func NewClient(base string, ratePerSecond float64, logger *log.Logger) *Client {
	client := retryablehttp.NewClient()
	client.RetryMax = 3
	client.RetryWaitMin = 200 * time.Millisecond
	client.RetryWaitMax = 2 * time.Second
	client.HTTPClient.Timeout = 30 * time.Second
	if logger != nil {
		client.Logger = logger
	}
	return &Client{
		base:    base,
		http:    client,
		limiter: rate.NewLimiter(rate.Limit(ratePerSecond), int(ratePerSecond)+1),
	}
}

// GetJSON performs a rate-limited GET against path?query and decodes the
// JSON body into out.
func (c *Client) GetJSON(ctx context.Context, path string, query url.Values, out interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	u := c.base + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("venue: %s returned %d: %s", u, resp.StatusCode, string(body))
	}
	return json.Unmarshal(body, out)
}

// SignedRequest performs a rate-limited authenticated request. Signing is
// venue-specific; callers pass a sign func that mutates query in place and
// returns headers to attach before the request is sent.
func (c *Client) SignedRequest(ctx context.Context, method, path string, query url.Values, sign func(query url.Values, timestamp int64) map[string]string, out interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	if query == nil {
		query = url.Values{}
	}
	timestamp := time.Now().UnixMilli()
	headers := sign(query, timestamp)

	u := c.base + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, method, u, nil)
	if err != nil {
		return err
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("venue: %s %s returned %d: %s", method, u, resp.StatusCode, string(body))
	}
	if out != nil {
		return json.Unmarshal(body, out)
	}
	return nil
}

// IsLeverageUnchanged reports whether err represents a venue "leverage not
// modified" response, which the trader treats as success.
func IsLeverageUnchanged(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "leverage not modified") || strings.Contains(msg, "no need to change leverage")
}

// IsMarginTypeUnchanged reports whether err represents a venue "margin type
// unchanged" response, also treated as success.
func IsMarginTypeUnchanged(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "no need to change margin type")
}
