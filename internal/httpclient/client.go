// Package httpclient implements the resilient JSON client shared by every
// remote operation: per-attempt timeouts, bounded retry with exponential
// backoff, correlation-ID tagging and typed error classification.
//
// Retry policy: only HTTP 429, HTTP 503, request timeouts and low-level
// connection failures are retried. Every other status fails immediately.
// The delay before retry n (0-indexed) is baseDelay << n, with no jitter;
// it is bounded in practice by the per-attempt timeout and the retry count.
package httpclient

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-retryablehttp"

	"github.com/RegistryAccord/registryaccord-cli-go/internal/errs"
	"github.com/RegistryAccord/registryaccord-cli-go/internal/model"
)

const headerCorrelationID = "X-Correlation-Id"

// Options configure a Client. Zero Timeout and BaseDelay fall back to the
// documented defaults (5s, 1s); a negative Retries falls back to the
// default of 3, so zero retries stays expressible.
type Options struct {
	Timeout   time.Duration
	Retries   int
	BaseDelay time.Duration
	Logger    *slog.Logger
}

// Client performs JSON HTTP calls. Each call is independent and stateless;
// the only shared state is the configured defaults.
type Client struct {
	timeout   time.Duration
	retries   int
	baseDelay time.Duration
	logger    *slog.Logger
}

// New returns a Client with the given options applied over defaults.
func New(opts Options) *Client {
	c := &Client{
		timeout:   5000 * time.Millisecond,
		retries:   opts.Retries,
		baseDelay: 1000 * time.Millisecond,
		logger:    slog.Default(),
	}
	if opts.Timeout > 0 {
		c.timeout = opts.Timeout
	}
	if opts.Retries < 0 {
		c.retries = 3
	}
	if opts.BaseDelay > 0 {
		c.baseDelay = opts.BaseDelay
	}
	if opts.Logger != nil {
		c.logger = opts.Logger
	}
	return c
}

// RequestOption overrides a client default for a single call.
type RequestOption func(*callOptions)

type callOptions struct {
	timeout time.Duration
}

// WithTimeout overrides the per-attempt timeout for one call.
func WithTimeout(d time.Duration) RequestOption {
	return func(o *callOptions) {
		o.timeout = d
	}
}

// Do performs a JSON request and returns the raw JSON body of a 2xx
// response. body, when non-nil, is marshalled as the JSON request body.
// Terminal failures are classified *errs.Error values carrying the
// correlation identifier attached to the outbound request.
func (c *Client) Do(ctx context.Context, method, url string, body any, opts ...RequestOption) (json.RawMessage, error) {
	call := callOptions{timeout: c.timeout}
	for _, opt := range opts {
		opt(&call)
	}

	correlationID := newCorrelationID()

	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return nil, errs.Wrap(errs.KindValidation, "encode request body", err)
		}
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, method, url, bytes.NewReader(payload))
	if err != nil {
		return nil, errs.Wrap(errs.KindValidation, fmt.Sprintf("build request for %s", url), err)
	}
	req.Header.Set(headerCorrelationID, correlationID)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.newRetryClient(call.timeout).Do(req)
	if err != nil && resp == nil {
		c.logger.Warn("request failed", "method", method, "url", url, "correlationId", correlationID, "error", err)
		return nil, &errs.Error{
			Kind:          errs.KindNetwork,
			Message:       fmt.Sprintf("%s %s failed", method, url),
			CorrelationID: correlationID,
			Err:           err,
		}
	}
	defer func() { _ = resp.Body.Close() }()

	raw, readErr := io.ReadAll(resp.Body)
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if readErr != nil {
			return nil, &errs.Error{
				Kind:          errs.KindNetwork,
				Message:       fmt.Sprintf("read response from %s", url),
				CorrelationID: correlationID,
				Err:           readErr,
			}
		}
		if len(raw) == 0 {
			return json.RawMessage("null"), nil
		}
		if !json.Valid(raw) {
			// Parse failure on a success status is its own failure mode,
			// distinct from the transport classification below.
			return nil, &errs.Error{
				Kind:          errs.KindValidation,
				Message:       fmt.Sprintf("decode response from %s: body is not valid JSON", url),
				CorrelationID: correlationID,
			}
		}
		return json.RawMessage(raw), nil
	}

	classified := classify(resp.StatusCode, method, url, raw, correlationID)
	c.logger.Warn("request rejected",
		"method", method, "url", url,
		"status", resp.StatusCode, "correlationId", correlationID)
	return nil, classified
}

// DoInto performs Do and unmarshals the response body into out.
func (c *Client) DoInto(ctx context.Context, method, url string, body, out any, opts ...RequestOption) error {
	raw, err := c.Do(ctx, method, url, body, opts...)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return errs.Wrap(errs.KindValidation, fmt.Sprintf("decode response from %s", url), err)
	}
	return nil
}

// PutBytes transmits a raw payload with a PUT, outside the JSON envelope
// but under the same retry policy and correlation tagging. Used for binary
// media transfer.
func (c *Client) PutBytes(ctx context.Context, url, contentType string, payload []byte) error {
	correlationID := newCorrelationID()

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(payload))
	if err != nil {
		return errs.Wrap(errs.KindValidation, fmt.Sprintf("build request for %s", url), err)
	}
	req.Header.Set(headerCorrelationID, correlationID)
	req.Header.Set("Content-Type", contentType)

	resp, err := c.newRetryClient(c.timeout).Do(req)
	if err != nil && resp == nil {
		return &errs.Error{
			Kind:          errs.KindNetwork,
			Message:       fmt.Sprintf("PUT %s failed", url),
			CorrelationID: correlationID,
			Err:           err,
		}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	raw, _ := io.ReadAll(resp.Body)
	return classify(resp.StatusCode, http.MethodPut, url, raw, correlationID)
}

// newRetryClient builds the underlying retrying client. A fresh instance
// per call keeps calls independent and lets the timeout vary per call.
func (c *Client) newRetryClient(timeout time.Duration) *retryablehttp.Client {
	rc := retryablehttp.NewClient()
	rc.RetryMax = c.retries
	rc.Logger = nil
	rc.HTTPClient.Timeout = timeout
	rc.CheckRetry = checkRetry
	base := c.baseDelay
	rc.Backoff = func(_, _ time.Duration, attemptNum int, _ *http.Response) time.Duration {
		return base << attemptNum
	}
	// Surface the last response after exhausting retries so the terminal
	// status can be classified instead of collapsing into a generic error.
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler
	return rc
}

// Transport errors that are permanent rather than transient, matched the
// same way retryablehttp.DefaultRetryPolicy matches them.
var (
	redirectsErrorRe = regexp.MustCompile(`stopped after \d+ redirects\z`)
	schemeErrorRe    = regexp.MustCompile(`unsupported protocol scheme`)
)

// checkRetry is the single predicate deciding retryability over the unified
// outcome (transport error or HTTP status). Timeouts and connection
// failures arrive as err and are retried; redirect loops, bad URL schemes
// and certificate failures fail fast. Only 429 and 503 are retryable
// statuses.
func checkRetry(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	if err != nil {
		var urlErr *url.Error
		if errors.As(err, &urlErr) {
			if redirectsErrorRe.MatchString(urlErr.Error()) || schemeErrorRe.MatchString(urlErr.Error()) {
				return false, nil
			}
			var unknownAuthority x509.UnknownAuthorityError
			var certErr *tls.CertificateVerificationError
			if errors.As(urlErr.Err, &unknownAuthority) || errors.As(urlErr.Err, &certErr) {
				return false, nil
			}
		}
		return true, nil
	}
	switch resp.StatusCode {
	case http.StatusTooManyRequests, http.StatusServiceUnavailable:
		return true, nil
	}
	return false, nil
}

// classify maps a terminal HTTP status onto the error taxonomy: 401/403 are
// auth failures, 5xx are server failures, and remaining 4xx map to the
// network/transport class per the process exit-code contract. The upstream
// error envelope, when present, contributes its message.
func classify(status int, method, url string, body []byte, correlationID string) *errs.Error {
	message := fmt.Sprintf("%s %s returned status %d", method, url, status)
	var envelope model.ErrorEnvelope
	if json.Unmarshal(body, &envelope) == nil && envelope.Error != nil && envelope.Error.Message != "" {
		message = fmt.Sprintf("%s: %s", message, envelope.Error.Message)
	}

	kind := errs.KindNetwork
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		kind = errs.KindAuth
	case status >= 500:
		kind = errs.KindServer
	}
	return &errs.Error{
		Kind:          kind,
		Message:       message,
		CorrelationID: correlationID,
		Status:        status,
	}
}

// newCorrelationID mints the opaque per-request trace token. The prefix
// marks client provenance when the ID shows up in service logs.
func newCorrelationID() string {
	return "racli-" + uuid.NewString()[:8]
}
