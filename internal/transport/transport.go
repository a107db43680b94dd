// Package transport sends requests to the config server pool: it picks a
// healthy server, rewrites the URL under the context path, records the
// health outcome, and retries transient failures with exponential backoff.
package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/vitaliisemenov/nacos-config-go/internal/serverpool"
	"github.com/vitaliisemenov/nacos-config-go/pkg/metrics"
)

// Request is one logical call to the config service. Path is relative to
// the context path. Form, when set, is sent URL-encoded as the body.
type Request struct {
	Operation string // metrics/log label, e.g. "get_config"
	Method    string
	Path      string
	Query     url.Values
	Form      url.Values
	Header    http.Header
	Timeout   time.Duration // whole-call budget including retries; 0 means none
}

// Response is the terminal outcome of a Send: the last HTTP response seen,
// body fully read.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Config tunes the retry policy.
type Config struct {
	ContextPath string
	MaxRetry    int
	RetryDelay  time.Duration
}

// Transport is safe for concurrent use. It owns a single pooled HTTP
// client shared by every request.
type Transport struct {
	pool   *serverpool.Pool
	client *http.Client
	cfg    Config
	logger *slog.Logger
	stats  *metrics.ClientMetrics
}

// New builds a transport over the given pool. A nil httpClient gets a
// pooled default.
func New(pool *serverpool.Pool, httpClient *http.Client, cfg Config, logger *slog.Logger, stats *metrics.ClientMetrics) *Transport {
	if logger == nil {
		logger = slog.Default()
	}
	if httpClient == nil {
		httpClient = NewHTTPClient()
	}
	return &Transport{
		pool:   pool,
		client: httpClient,
		cfg:    cfg,
		logger: logger,
		stats:  stats,
	}
}

// NewHTTPClient builds the pooled HTTP client the transport uses by
// default. Timeouts are enforced per request through contexts, not here,
// because long-polling probes legitimately outlive any fixed client
// timeout.
func NewHTTPClient() *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
			ForceAttemptHTTP2:   true,
			DialContext: (&net.Dialer{
				Timeout:   5 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			TLSHandshakeTimeout:   5 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
		},
	}
}

// Send performs the request against the pool. Each attempt selects a
// server anew, so retries naturally fail over. Server errors (5xx) and 429
// are retried with exponential backoff until the retry budget runs out, at
// which point the last response is returned as-is; the caller maps status
// codes to error kinds. A transport-level failure after all retries is
// returned as an error. Caller cancellation is never retried.
func (t *Transport) Send(ctx context.Context, req *Request) (*Response, error) {
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	start := time.Now()
	resp, err := backoff.RetryWithData(
		func() (*Response, error) { return t.sendOnce(ctx, req) },
		t.newBackOff(ctx),
	)
	if t.stats != nil {
		t.stats.RequestDuration.WithLabelValues(req.Operation).Observe(time.Since(start).Seconds())
	}
	if err != nil {
		var last *lastResponseError
		if errors.As(err, &last) {
			// Retry budget exhausted on a retryable status: surface the
			// response itself.
			return last.resp, nil
		}
		return nil, err
	}
	return resp, nil
}

// newBackOff builds the retry schedule: retryDelay, then doubling each
// attempt, maxRetry attempts on top of the first.
func (t *Transport) newBackOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = t.cfg.RetryDelay
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxInterval = 5 * time.Minute
	b.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(t.cfg.MaxRetry)), ctx)
}

// lastResponseError carries a retryable response through the backoff loop
// so the final one can be surfaced when the budget runs out.
type lastResponseError struct {
	resp *Response
}

func (e *lastResponseError) Error() string {
	return fmt.Sprintf("server returned status %d", e.resp.StatusCode)
}

// sendOnce performs a single attempt and classifies the outcome for both
// the health accounting and the retry policy.
func (t *Transport) sendOnce(ctx context.Context, req *Request) (*Response, error) {
	server := t.pool.Select()

	httpReq, err := t.buildRequest(ctx, server, req)
	if err != nil {
		return nil, backoff.Permanent(err)
	}

	httpResp, err := t.client.Do(httpReq)
	if err != nil {
		t.pool.MarkFailed(server)
		if ctx.Err() != nil {
			// Caller cancellation or deadline surfaces unchanged and is
			// not retried.
			return nil, backoff.Permanent(ctx.Err())
		}
		t.logger.Warn("config server request failed",
			slog.String("operation", req.Operation),
			slog.String("server", server),
			slog.String("error", err.Error()))
		t.countRetry(req.Operation)
		return nil, err
	}

	body, readErr := io.ReadAll(httpResp.Body)
	httpResp.Body.Close()
	if readErr != nil {
		t.pool.MarkFailed(server)
		t.countRetry(req.Operation)
		return nil, readErr
	}

	resp := &Response{
		StatusCode: httpResp.StatusCode,
		Header:     httpResp.Header,
		Body:       body,
	}

	switch httpResp.StatusCode {
	case http.StatusInternalServerError, http.StatusBadGateway, http.StatusServiceUnavailable:
		t.pool.MarkFailed(server)
	default:
		t.pool.MarkHealthy(server)
	}

	if isRetryableStatus(httpResp.StatusCode) {
		t.logger.Warn("config server returned retryable status",
			slog.String("operation", req.Operation),
			slog.String("server", server),
			slog.Int("status", httpResp.StatusCode))
		t.countRetry(req.Operation)
		return nil, &lastResponseError{resp: resp}
	}
	return resp, nil
}

func isRetryableStatus(status int) bool {
	return status >= 500 || status == http.StatusTooManyRequests
}

func (t *Transport) countRetry(operation string) {
	if t.stats != nil {
		t.stats.RetryAttemptsTotal.WithLabelValues(operation).Inc()
	}
}

// buildRequest rewrites the logical request onto one concrete server.
func (t *Transport) buildRequest(ctx context.Context, server string, req *Request) (*http.Request, error) {
	endpoint := fmt.Sprintf("%s/%s/%s", server, t.cfg.ContextPath, strings.TrimPrefix(req.Path, "/"))
	if len(req.Query) > 0 {
		endpoint += "?" + req.Query.Encode()
	}

	var body io.Reader
	if len(req.Form) > 0 {
		body = strings.NewReader(req.Form.Encode())
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, endpoint, body)
	if err != nil {
		return nil, err
	}
	for name, values := range req.Header {
		for _, v := range values {
			httpReq.Header.Add(name, v)
		}
	}
	if len(req.Form) > 0 {
		httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	return httpReq, nil
}

// Close releases idle connections held by the pooled client.
func (t *Transport) Close() {
	if tr, ok := t.client.Transport.(*http.Transport); ok {
		tr.CloseIdleConnections()
	}
}
