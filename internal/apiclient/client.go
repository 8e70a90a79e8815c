package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rideline/ridectl/internal/common/domain"
	"github.com/rideline/ridectl/internal/domain/credential"
)

const maxResponseBytes = 4 << 20

// Client is the authenticated HTTP client every remote service goes through.
type Client struct {
	baseURL    string
	httpClient *http.Client
	store      credential.Store
	logger     *zap.Logger

	now             func() time.Time
	retryInitial    time.Duration
	retryMaxRetries uint64
}

// Option customizes a Client.
type Option func(*Client)

// WithRetry sets the backoff used for idempotent requests.
func WithRetry(initial time.Duration, maxRetries uint64) Option {
	return func(c *Client) {
		c.retryInitial = initial
		c.retryMaxRetries = maxRetries
	}
}

// WithClock overrides the clock used for token expiry checks.
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

// New creates a Client for the given API base URL.
func New(baseURL string, httpClient *http.Client, store credential.Store, logger *zap.Logger, opts ...Option) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	c := &Client{
		baseURL:         strings.TrimRight(baseURL, "/"),
		httpClient:      httpClient,
		store:           store,
		logger:          logger,
		now:             time.Now,
		retryInitial:    500 * time.Millisecond,
		retryMaxRetries: 3,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Store returns the credential store the client authenticates with.
func (c *Client) Store() credential.Store { return c.store }

// Get performs a GET and decodes the unwrapped payload into out.
func (c *Client) Get(ctx context.Context, path string, out any, keys ...string) error {
	return c.Do(ctx, http.MethodGet, path, nil, out, keys...)
}

// Post performs a POST with a JSON body.
func (c *Client) Post(ctx context.Context, path string, body, out any, keys ...string) error {
	return c.Do(ctx, http.MethodPost, path, body, out, keys...)
}

// Patch performs a PATCH with a JSON body.
func (c *Client) Patch(ctx context.Context, path string, body, out any, keys ...string) error {
	return c.Do(ctx, http.MethodPatch, path, body, out, keys...)
}

// Do sends a request. The bearer token is attached when credentials are
// stored; an expired token or a 401 clears them and yields ErrUnauthorized.
// GETs are retried with backoff on transport errors, 429 and 5xx.
func (c *Client) Do(ctx context.Context, method, path string, body, out any, keys ...string) error {
	token, err := c.bearer(ctx)
	if err != nil {
		return err
	}

	var payload []byte
	if body != nil {
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
	}

	var raw []byte
	attempt := func() error {
		respBody, status, sendErr := c.send(ctx, method, path, payload, token)
		if sendErr != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return sendErr
		}
		raw = respBody
		if status == http.StatusUnauthorized {
			c.clearCredentials(ctx)
			return backoff.Permanent(domain.NewUnauthorizedError(messageFrom(raw, "session is no longer valid")))
		}
		if status < 200 || status > 299 {
			mapped := statusError(status, raw)
			if status == http.StatusTooManyRequests || status >= 500 {
				return mapped
			}
			return backoff.Permanent(mapped)
		}
		return nil
	}

	if method == http.MethodGet && c.retryMaxRetries > 0 {
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = c.retryInitial
		err = backoff.Retry(attempt, backoff.WithContext(backoff.WithMaxRetries(b, c.retryMaxRetries), ctx))
	} else {
		err = attempt()
		var perm *backoff.PermanentError
		if errors.As(err, &perm) {
			err = perm.Err
		}
	}
	if err != nil {
		return err
	}

	if out == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	inner, err := Unwrap(raw, keys...)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(inner, out); err != nil {
		return fmt.Errorf("failed to decode %s %s response: %w", method, path, err)
	}
	return nil
}

func (c *Client) bearer(ctx context.Context) (string, error) {
	if c.store == nil {
		return "", nil
	}
	creds, err := c.store.Load(ctx)
	if err != nil {
		if errors.Is(err, credential.ErrNoCredentials) {
			return "", nil
		}
		return "", fmt.Errorf("failed to load credentials: %w", err)
	}
	if creds.Expired(c.now()) {
		c.clearCredentials(ctx)
		return "", domain.NewUnauthorizedError("session expired")
	}
	return creds.Token, nil
}

func (c *Client) send(ctx context.Context, method, path string, payload []byte, token string) ([]byte, int, error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to build request: %w", err)
	}

	requestID := uuid.NewString()
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-ID", requestID)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Debug("request failed",
			zap.String("method", method),
			zap.String("path", path),
			zap.String("request_id", requestID),
			zap.Error(err),
		)
		return nil, 0, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("failed to read response: %w", err)
	}

	c.logger.Debug("request completed",
		zap.String("method", method),
		zap.String("path", path),
		zap.String("request_id", requestID),
		zap.Int("status", resp.StatusCode),
		zap.Duration("took", time.Since(start)),
	)
	return raw, resp.StatusCode, nil
}

func (c *Client) clearCredentials(ctx context.Context) {
	if c.store == nil {
		return
	}
	if err := c.store.Clear(context.WithoutCancel(ctx)); err != nil {
		c.logger.Error("failed to clear credentials after rejection", zap.Error(err))
		return
	}
	c.logger.Info("stored credentials cleared after server rejected them")
}

func statusError(status int, body []byte) error {
	msg := messageFrom(body, http.StatusText(status))
	switch status {
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return domain.NewValidationError(msg)
	case http.StatusForbidden:
		return domain.NewForbiddenError(msg)
	case http.StatusNotFound:
		return &domain.Error{Kind: domain.ErrNotFound, Message: msg, Status: status}
	case http.StatusConflict:
		return domain.NewConflictError(msg)
	default:
		return domain.NewRemoteError(status, msg)
	}
}
