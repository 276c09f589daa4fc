// Package directory implements the client for the user/license directory,
// the external system of record for entitlement data. Connection-class
// failures are retried with bounded backoff; business errors (not found,
// malformed attributes) are surfaced immediately and never retried.
package directory

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"licsvc/pkg/contracts/domain"
)

// Config holds the directory client settings.
type Config struct {
	BaseURL      string
	APIKey       string
	Timeout      time.Duration
	RetryMax     int
	RetryWaitMin time.Duration
	RetryWaitMax time.Duration
}

// Client is the HTTP implementation of the directory repository.
type Client struct {
	http    *retryablehttp.Client
	baseURL *url.URL
	apiKey  string
	logger  *slog.Logger
}

// errorBody is the directory's error response envelope.
type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// usageRequest is the record-usage request payload.
type usageRequest struct {
	InstanceID string `json:"instance_id"`
}

// NewClient builds a directory client with bounded retry for
// connection-class failures only. 4xx responses are never retried; the
// default retryablehttp policy already confines retries to transport errors
// and 5xx statuses.
func NewClient(cfg Config, logger *slog.Logger) (*Client, error) {
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("directory: invalid base URL: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	rc := retryablehttp.NewClient()
	rc.RetryMax = cfg.RetryMax
	rc.RetryWaitMin = cfg.RetryWaitMin
	rc.RetryWaitMax = cfg.RetryWaitMax
	rc.HTTPClient.Timeout = cfg.Timeout
	rc.Logger = nil

	return &Client{
		http:    rc,
		baseURL: base,
		apiKey:  cfg.APIKey,
		logger:  logger.With(slog.String("component", "directory")),
	}, nil
}

// Ping probes the directory's health endpoint. Used by the service's own
// health detail reporting; failures are connection-class by definition.
func (c *Client) Ping(ctx context.Context) error {
	u := c.baseURL.JoinPath("healthz")
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return fmt.Errorf("directory: build request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return &ConnectionError{Op: "ping", Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return &ConnectionError{Op: "ping", Err: fmt.Errorf("unexpected status %d", resp.StatusCode)}
	}
	return nil
}

// GetEntitlement fetches the entitlement record for userID.
func (c *Client) GetEntitlement(ctx context.Context, userID string) (*domain.EntitlementRecord, error) {
	return c.fetch(ctx, http.MethodGet, "/v1/users/"+url.PathEscape(userID)+"/entitlement", nil, "get entitlement")
}

// RecordUsage binds instanceID to the user's record and decrements the
// remaining activation count, returning the mutated record.
func (c *Client) RecordUsage(ctx context.Context, userID, instanceID string) (*domain.EntitlementRecord, error) {
	body, err := json.Marshal(usageRequest{InstanceID: instanceID})
	if err != nil {
		return nil, fmt.Errorf("directory: marshal usage request: %w", err)
	}
	return c.fetch(ctx, http.MethodPost, "/v1/users/"+url.PathEscape(userID)+"/usage", body, "record usage")
}

func (c *Client) fetch(ctx context.Context, method, path string, body []byte, op string) (*domain.EntitlementRecord, error) {
	u := c.baseURL.JoinPath(path)

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return nil, fmt.Errorf("directory: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.WarnContext(ctx, "directory call failed",
			slog.String("operation", op),
			slog.Duration("elapsed", time.Since(start)),
			slog.String("error", err.Error()),
		)
		return nil, &ConnectionError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.mapError(resp, op)
	}

	var record domain.EntitlementRecord
	if err := json.NewDecoder(resp.Body).Decode(&record); err != nil {
		return nil, fmt.Errorf("%w: undecodable entitlement body", ErrAttributeInvalid)
	}
	if record.UserID == "" || record.Status == "" {
		return nil, fmt.Errorf("%w: user_id/status", ErrAttributeMissing)
	}

	c.logger.DebugContext(ctx, "directory call completed",
		slog.String("operation", op),
		slog.Duration("elapsed", time.Since(start)),
	)
	return &record, nil
}

// mapError translates non-200 directory responses into the typed error set.
func (c *Client) mapError(resp *http.Response, op string) error {
	var eb errorBody
	_ = json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&eb)

	switch resp.StatusCode {
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusConflict:
		return ErrUsageExceeded
	case http.StatusUnprocessableEntity:
		if eb.Code == "ATTRIBUTE_MISSING" {
			return fmt.Errorf("%w: %s", ErrAttributeMissing, eb.Message)
		}
		return fmt.Errorf("%w: %s", ErrAttributeInvalid, eb.Message)
	default:
		// 5xx after retry exhaustion, or anything unrecognized: treat as a
		// connection-class outage so the stale-cache path can take over.
		return &ConnectionError{Op: op, Err: fmt.Errorf("unexpected status %d: %s", resp.StatusCode, eb.Message)}
	}
}
