package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/testrelay/testrelay/internal/backoff"
	"github.com/testrelay/testrelay/internal/metrics"
	"github.com/testrelay/testrelay/internal/tracing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Client performs one logical request per Send call: bounded attempts,
// exponential backoff between them, a fresh per-attempt timeout, and a
// structured error on final failure. It knows nothing about test semantics.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logger     *slog.Logger

	maxRetries int
	timeout    time.Duration
	policy     string
	baseDelay  time.Duration
	maxDelay   time.Duration
	retryOn429 bool

	mu  sync.Mutex
	rng *rand.Rand
}

type Options struct {
	BaseURL    string
	Token      string
	MaxRetries int
	Timeout    time.Duration
	Policy     string
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	RetryOn429 bool
	Logger     *slog.Logger

	// HTTPClient overrides the underlying client; per-attempt timeouts are
	// enforced through the request context, not http.Client.Timeout.
	HTTPClient *http.Client
}

func New(opts Options) *Client {
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 3
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = 250 * time.Millisecond
	}
	if opts.MaxDelay <= 0 {
		opts.MaxDelay = 10 * time.Second
	}
	if opts.Policy == "" {
		opts.Policy = "exp_equal_jitter"
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{}
	}
	return &Client{
		baseURL:    opts.BaseURL,
		token:      opts.Token,
		httpClient: opts.HTTPClient,
		logger:     opts.Logger,
		maxRetries: opts.MaxRetries,
		timeout:    opts.Timeout,
		policy:     opts.Policy,
		baseDelay:  opts.BaseDelay,
		maxDelay:   opts.MaxDelay,
		retryOn429: opts.RetryOn429,
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Send marshals body (if non-nil), posts it to baseURL+path and decodes a
// 2xx response into out (if non-nil). Transient failures are absorbed by
// the retry budget; the returned error on exhaustion wraps the last cause.
func (c *Client) Send(ctx context.Context, method, path string, body any, out any) error {
	var payload []byte
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return &SerializationError{Err: err}
		}
		payload = b
	}

	ctx, span := otel.Tracer("testrelay/transport").Start(ctx, "testrelay.http.send",
		trace.WithAttributes(
			attribute.String("http.method", method),
			attribute.String("testrelay.path", path),
		),
	)
	defer span.End()

	start := time.Now()
	defer func() {
		metrics.UploadLatencySeconds.WithLabelValues(path).Observe(time.Since(start).Seconds())
	}()

	var lastErr error
	for attempt := 0; attempt < c.maxRetries; attempt++ {
		metrics.RequestAttemptsTotal.WithLabelValues(path).Inc()

		err := c.attempt(ctx, method, path, payload, out)
		if err == nil {
			span.SetAttributes(attribute.Int("testrelay.attempts", attempt+1))
			return nil
		}
		if !c.retryable(err) {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return err
		}
		lastErr = err

		if attempt == c.maxRetries-1 {
			break
		}
		cause := retryCause(err)
		metrics.RequestRetriesTotal.WithLabelValues(path, cause).Inc()
		delay := c.delay(attempt)
		c.logger.Debug("transient failure, backing off",
			"path", path, "attempt", attempt+1, "delay", delay, "err", err)
		if sleepOrDone(ctx, delay) != nil {
			break
		}
	}

	err := fmt.Errorf("request %s %s failed after %d attempts: %w", method, path, c.maxRetries, lastErr)
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

func (c *Client) attempt(ctx context.Context, method, path string, payload []byte, out any) error {
	attemptCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, method, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return &SerializationError{Err: err}
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	tracing.InjectHeaders(attemptCtx, req.Header)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if isTimeout(err) {
			return &TimeoutError{Err: err}
		}
		return &NetworkError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		// Keep enough body for diagnostics without buffering huge payloads.
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &StatusError{Code: resp.StatusCode, Body: string(bytes.TrimSpace(snippet))}
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &SerializationError{Err: err}
	}
	return nil
}

func (c *Client) retryable(err error) bool {
	var ne *NetworkError
	if errors.As(err, &ne) {
		return true
	}
	var te *TimeoutError
	if errors.As(err, &te) {
		return true
	}
	var se *StatusError
	if errors.As(err, &se) {
		if se.Code >= 500 {
			return true
		}
		return se.Code == http.StatusTooManyRequests && c.retryOn429
	}
	return false
}

func retryCause(err error) string {
	var se *StatusError
	if errors.As(err, &se) {
		return "status_" + strconv.Itoa(se.Code)
	}
	var te *TimeoutError
	if errors.As(err, &te) {
		return "timeout"
	}
	return "network"
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var nerr net.Error
	return errors.As(err, &nerr) && nerr.Timeout()
}

func sleepOrDone(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// delay serializes access to the rng; Send may run from many goroutines.
func (c *Client) delay(attempt int) time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return backoff.Compute(c.policy, c.baseDelay, c.maxDelay, attempt, c.rng)
}
