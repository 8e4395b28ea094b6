// Package rest is the shared HTTP plumbing for the backend REST API: request
// pacing, bearer auth, JSON bodies and status mapping.
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
	"time"

	"golang.org/x/time/rate"

	"cfdfeed/config"
	"cfdfeed/internal/metrics"
	"cfdfeed/logger"
)

var (
	// ErrUnexpectedStatus wraps every non-2xx response.
	ErrUnexpectedStatus = errors.New("unexpected status")
	// ErrUnauthorized is returned for 401 and 403 responses.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrNotConfigured is returned when no base URL is set.
	ErrNotConfigured = errors.New("api base url not configured")
)

// StatusError carries the status and a trimmed body of a failed request.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s %d", ErrUnexpectedStatus, e.Status)
	}
	return fmt.Sprintf("%s %d: %s", ErrUnexpectedStatus, e.Status, e.Body)
}

func (e *StatusError) Is(target error) bool {
	if target == ErrUnexpectedStatus {
		return true
	}
	return target == ErrUnauthorized && (e.Status == http.StatusUnauthorized || e.Status == http.StatusForbidden)
}

// Client issues paced JSON requests against one base URL.
type Client struct {
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
	log     *logger.Log
}

// NewClient builds a client from cfg. A zero requests_per_second disables
// pacing.
func NewClient(cfg config.APIConfig, httpClient *http.Client) *Client {
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	limit := rate.Inf
	burst := cfg.RateLimit.BurstSize
	if cfg.RateLimit.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RateLimit.RequestsPerSecond)
	}
	if burst <= 0 {
		burst = 1
	}

	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		http:    httpClient,
		limiter: rate.NewLimiter(limit, burst),
		log:     logger.GetLogger(),
	}
}

// Request describes one call. Path is appended to the base URL.
type Request struct {
	Method string
	Path   string
	Query  url.Values
	Token  string
	Body   interface{}
}

// Do sends req and decodes a JSON response into out when out is non-nil.
func (c *Client) Do(ctx context.Context, req Request, out interface{}) error {
	if c.baseURL == "" {
		return ErrNotConfigured
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}

	target := c.baseURL + req.Path
	if len(req.Query) > 0 {
		target += "?" + req.Query.Encode()
	}

	var body io.Reader
	if req.Body != nil {
		payload, err := json.Marshal(req.Body)
		if err != nil {
			return fmt.Errorf("encode request body: %w", err)
		}
		body = bytes.NewReader(payload)
	}

	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return err
	}
	httpReq.Header.Set("Accept", "application/json")
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if req.Token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+req.Token)
	}

	start := time.Now()
	resp, err := c.http.Do(httpReq)
	if err != nil {
		metrics.RecordAPIRequest(req.Path, 0)
		return fmt.Errorf("%s %s: %w", method, req.Path, err)
	}
	defer resp.Body.Close()

	metrics.RecordAPIRequest(req.Path, resp.StatusCode)
	logger.LogPerformanceEntry(c.log.WithComponent("rest_client").WithField("path", req.Path), "rest_client", method, time.Since(start), logger.Fields{"status": resp.StatusCode})

	if resp.StatusCode == http.StatusTooManyRequests {
		metrics.ReportRateLimited(c.log, req.Path)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &StatusError{Status: resp.StatusCode, Body: strings.TrimSpace(string(snippet))}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", req.Path, err)
	}
	return nil
}
