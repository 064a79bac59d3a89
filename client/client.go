// Package client calls actors served by an rpcactor host over the envelope
// and duplex transports.
package client

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

	"github.com/gorilla/rpc/v2/json2"
	"github.com/lguibr/rpcactor/envelope"
	"go.uber.org/zap"
)

const (
	maxRetries    = 3
	retryBaseWait = 100 * time.Millisecond
)

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithLogger sets the client logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithRetryWait sets the base wait between retries.
func WithRetryWait(d time.Duration) Option {
	return func(c *Client) { c.retryWait = d }
}

// Client sends envelope requests to one host.
type Client struct {
	baseURL   string
	http      *http.Client
	logger    *zap.Logger
	retryWait time.Duration
}

// New returns a Client for the host at baseURL (for example
// "http://localhost:3001").
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		http:      &http.Client{Timeout: 30 * time.Second},
		logger:    zap.NewNop(),
		retryWait: retryBaseWait,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Call invokes method on actor with params and decodes the result into
// reply. Remote failures are returned as *json2.Error carrying the wire code.
func (c *Client) Call(ctx context.Context, actor, method string, params, reply any) error {
	body, err := json2.EncodeClientRequest(method, params)
	if err != nil {
		return fmt.Errorf("failed to encode client params: %w", err)
	}
	raw, err := c.post(ctx, actor, body)
	if err != nil {
		return err
	}
	var resp envelope.Response
	if err := json.Unmarshal(raw, &resp); err != nil {
		return fmt.Errorf("failed to decode client response: %w", err)
	}
	return decodeResult(resp, reply)
}

// Batch sends reqs as one batch. Responses come back in request order.
func (c *Client) Batch(ctx context.Context, actor string, reqs []envelope.Request) ([]envelope.Response, error) {
	body, err := json.Marshal(reqs)
	if err != nil {
		return nil, fmt.Errorf("failed to encode batch: %w", err)
	}
	raw, err := c.post(ctx, actor, body)
	if err != nil {
		return nil, err
	}
	var resps []envelope.Response
	if err := json.Unmarshal(raw, &resps); err != nil {
		return nil, fmt.Errorf("failed to decode batch response: %w", err)
	}
	return resps, nil
}

// Result decodes one envelope response into reply, returning its error as
// a *json2.Error.
func Result(resp envelope.Response, reply any) error {
	return decodeResult(resp, reply)
}

func decodeResult(resp envelope.Response, reply any) error {
	if resp.Error != nil {
		return &json2.Error{Code: json2.ErrorCode(resp.Error.Code), Message: resp.Error.Message}
	}
	if reply == nil {
		return nil
	}
	raw, ok := resp.Result.(json.RawMessage)
	if !ok {
		return json2.ErrNullResult
	}
	return json.Unmarshal(raw, reply)
}

func (c *Client) post(ctx context.Context, actor string, body []byte) ([]byte, error) {
	uri := c.baseURL + "/" + actor + "/rpc"

	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			wait := c.retryWait * time.Duration(1<<(attempt-1))
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(wait):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, uri, bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			lastErr = err
			c.logger.Debug("request attempt failed",
				zap.Int("attempt", attempt+1),
				zap.Bool("retryable", isRetryableError(err)),
				zap.Error(err))
			if isRetryableError(err) {
				continue
			}
			return nil, fmt.Errorf("failed to issue request: %w", err)
		}

		raw, err := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if err != nil {
			lastErr = err
			continue
		}
		if resp.StatusCode == http.StatusBadGateway || resp.StatusCode == http.StatusServiceUnavailable {
			lastErr = fmt.Errorf("received status code: %d", resp.StatusCode)
			continue
		}
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			var body struct {
				Error *json2.Error `json:"error"`
			}
			if json.Unmarshal(raw, &body) == nil && body.Error != nil {
				return nil, body.Error
			}
			return nil, fmt.Errorf("received status code: %d", resp.StatusCode)
		}
		return raw, nil
	}
	return nil, fmt.Errorf("failed to issue request after %d retries: %w", maxRetries, lastErr)
}

// isRetryableError checks if an error is transient and worth retrying
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "EOF") ||
		strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "broken pipe")
}
