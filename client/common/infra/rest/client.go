// Package rest is a JSON-over-HTTP client that spreads requests across a
// set of equivalent API endpoints and parks failing ones for a cooldown.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"msg_client/client/common/env"
)

const (
	defaultHTTPTimeout      = 10 * time.Second
	defaultFailThreshold    = 3
	defaultEndpointCooldown = 10 * time.Second
)

var ErrNoEndpoints = errors.New("rest endpoint is not configured")

// StatusError is a non-2xx answer that was not retried.
type StatusError struct {
	Status   int
	Endpoint string
	Body     string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("rest status %d endpoint=%s", e.Status, e.Endpoint)
	}
	return fmt.Sprintf("rest status %d endpoint=%s body=%s", e.Status, e.Endpoint, e.Body)
}

type Request struct {
	Method string
	Path   string
	Query  url.Values
	Bearer string
	// JSON is encoded as the body unless Body is set.
	JSON        any
	Body        []byte
	ContentType string
}

type Client struct {
	endpoints []string
	http      *http.Client
	next      uint32

	threshold int
	cooldown  time.Duration

	mu        sync.Mutex
	failures  map[string]int
	coolUntil map[string]time.Time
}

func NewClient(endpoints ...string) *Client {
	normalized := normalizeEndpoints(endpoints)
	return &Client{
		endpoints: normalized,
		http:      &http.Client{Timeout: env.Millis("REST_HTTP_TIMEOUT_MS", defaultHTTPTimeout)},
		threshold: env.Int("REST_FAIL_THRESHOLD", defaultFailThreshold),
		cooldown:  env.Millis("REST_COOLDOWN_MS", defaultEndpointCooldown),
		failures:  make(map[string]int, len(normalized)),
		coolUntil: make(map[string]time.Time, len(normalized)),
	}
}

func (c *Client) Endpoints() []string {
	return append([]string(nil), c.endpoints...)
}

// Do sends req to the first healthy endpoint and decodes a JSON answer into
// out when out is non-nil. Transport errors and 5xx move on to the next
// endpoint; other non-2xx answers return a *StatusError at once.
func (c *Client) Do(ctx context.Context, req Request, out any) error {
	if len(c.endpoints) == 0 {
		return ErrNoEndpoints
	}
	body, contentType, err := encodeBody(req)
	if err != nil {
		return err
	}
	path := req.Path
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	if len(req.Query) > 0 {
		path += "?" + req.Query.Encode()
	}
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	start := int(atomic.AddUint32(&c.next, 1)-1) % len(c.endpoints)
	var lastErr error
	for offset := 0; offset < len(c.endpoints); offset++ {
		endpoint := c.endpoints[(start+offset)%len(c.endpoints)]
		if c.isCoolingDown(endpoint, time.Now()) {
			continue
		}

		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		httpReq, reqErr := http.NewRequestWithContext(ctx, method, endpoint+path, reader)
		if reqErr != nil {
			return reqErr
		}
		httpReq.Header.Set("Accept", "application/json")
		if contentType != "" {
			httpReq.Header.Set("Content-Type", contentType)
		}
		if token := strings.TrimSpace(req.Bearer); token != "" {
			httpReq.Header.Set("Authorization", "Bearer "+token)
		}

		resp, doErr := c.http.Do(httpReq)
		if doErr != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			lastErr = fmt.Errorf("rest request failed endpoint=%s: %w", endpoint, doErr)
			c.onFailure(endpoint, time.Now())
			continue
		}

		if resp.StatusCode >= 500 {
			_ = resp.Body.Close()
			lastErr = &StatusError{Status: resp.StatusCode, Endpoint: endpoint}
			c.onFailure(endpoint, time.Now())
			continue
		}
		if resp.StatusCode >= 300 {
			snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			_ = resp.Body.Close()
			c.onSuccess(endpoint)
			return &StatusError{Status: resp.StatusCode, Endpoint: endpoint, Body: strings.TrimSpace(string(snippet))}
		}

		var decodeErr error
		if out != nil && resp.StatusCode != http.StatusNoContent {
			decodeErr = json.NewDecoder(resp.Body).Decode(out)
			if errors.Is(decodeErr, io.EOF) {
				decodeErr = nil
			}
		}
		_ = resp.Body.Close()
		if decodeErr != nil {
			c.onFailure(endpoint, time.Now())
			return fmt.Errorf("decode response endpoint=%s: %w", endpoint, decodeErr)
		}
		c.onSuccess(endpoint)
		return nil
	}

	if lastErr == nil {
		return errors.New("rest request failed: all endpoints cooling down")
	}
	return lastErr
}

func encodeBody(req Request) ([]byte, string, error) {
	if req.Body != nil {
		return req.Body, req.ContentType, nil
	}
	if req.JSON == nil {
		return nil, req.ContentType, nil
	}
	b, err := json.Marshal(req.JSON)
	if err != nil {
		return nil, "", err
	}
	return b, "application/json", nil
}

func normalizeEndpoints(endpoints []string) []string {
	trimmed := make([]string, 0, len(endpoints))
	for _, endpoint := range endpoints {
		trimmed = append(trimmed, strings.TrimRight(strings.TrimSpace(endpoint), "/"))
	}
	return env.DedupeTrim(trimmed)
}

func (c *Client) isCoolingDown(endpoint string, now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	until, ok := c.coolUntil[endpoint]
	if !ok {
		return false
	}
	if now.After(until) {
		delete(c.coolUntil, endpoint)
		return false
	}
	return true
}

func (c *Client) onFailure(endpoint string, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	count := c.failures[endpoint] + 1
	c.failures[endpoint] = count
	if count >= c.threshold {
		c.coolUntil[endpoint] = now.Add(c.cooldown)
		c.failures[endpoint] = 0
	}
}

func (c *Client) onSuccess(endpoint string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures[endpoint] = 0
	delete(c.coolUntil, endpoint)
}
