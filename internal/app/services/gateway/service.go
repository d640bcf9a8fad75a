// Package gateway is the single path to the upstream reporting API. Every
// fetch goes through Service.Fetch, which attaches credentials, enforces
// the shared rate limit, retries retryable failures with exponential
// backoff, and classifies every outcome into a FetchResult. Fetch never
// returns an error; failures are values.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/liveiq-tools/report-layer/internal/app/domain/report"
	"github.com/liveiq-tools/report-layer/internal/app/metrics"
	"github.com/liveiq-tools/report-layer/pkg/logger"
)

const (
	// maxBodyBytes bounds how much of a response body is read. Oversized
	// 2xx bodies become ParseError rather than exhausting memory.
	maxBodyBytes = 10 << 20

	// snippetLen bounds how much of an error body lands in a message.
	snippetLen = 256
)

// Config controls gateway behavior. Zero fields fall back to upstream
// defaults: 10s request timeout, 3 attempts, 1s backoff doubling to 10s,
// 60 requests/minute.
type Config struct {
	BaseURL       string
	Timeout       time.Duration
	MaxAttempts   int
	BackoffBase   time.Duration
	BackoffFactor float64
	MaxBackoff    time.Duration
	Jitter        float64
	RatePerMinute int
	Burst         int
}

func (c *Config) applyDefaults() {
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = time.Second
	}
	if c.BackoffFactor <= 1 {
		c.BackoffFactor = 2
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 10 * time.Second
	}
	if c.Jitter <= 0 {
		c.Jitter = 0.2
	}
	if c.Burst <= 0 {
		c.Burst = 1
	}
}

// Service fetches reports from the upstream API.
type Service struct {
	cfg     Config
	client  *http.Client
	limiter *rate.Limiter
	log     *logger.Logger
}

// New constructs a gateway. The limiter is shared by every caller so the
// upstream requests-per-minute budget holds across concurrent batches.
func New(cfg Config, log *logger.Logger) (*Service, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base url is required")
	}
	cfg.applyDefaults()
	if log == nil {
		log = logger.NewDefault("gateway")
	}

	limit := rate.Inf
	if cfg.RatePerMinute > 0 {
		limit = rate.Limit(float64(cfg.RatePerMinute) / 60.0)
	}

	return &Service{
		cfg: cfg,
		client: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
				DialContext: (&net.Dialer{
					Timeout:   10 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
			},
		},
		limiter: rate.NewLimiter(limit, cfg.Burst),
		log:     log,
	}, nil
}

// BaseURL returns the configured upstream base URL.
func (s *Service) BaseURL() string { return s.cfg.BaseURL }

// Fetch executes one report request to completion. The returned result is
// terminal: retryable failures have already been retried up to the
// configured bound. ctx cancellation stops retries and surfaces a Timeout
// kind result.
func (s *Service) Fetch(ctx context.Context, req report.FetchRequest) report.FetchResult {
	start := time.Now()
	done := metrics.FetchStarted(string(req.Endpoint))

	res := s.fetch(ctx, req)
	res.Elapsed = time.Since(start)

	outcome := "ok"
	if !res.OK {
		outcome = string(res.Kind)
	}
	retries := res.Attempts - 1
	if retries < 0 {
		retries = 0
	}
	done(outcome, retries, res.Elapsed)

	if res.OK {
		s.log.Debugf("fetched %s store %s in %s (%d attempts)", req.Endpoint, req.StoreID, res.Elapsed.Round(time.Millisecond), res.Attempts)
	} else {
		s.log.Warnf("fetch %s store %s failed: %s: %s", req.Endpoint, req.StoreID, res.Kind, res.Message)
	}
	return res
}

// GetJSON fetches an arbitrary API path under the same credentials, client
// and rate-limit discipline as report fetches, without retry. Store
// discovery uses it for pagination, where the caller owns degradation.
func (s *Service) GetJSON(ctx context.Context, path, clientID, clientSecret string) (json.RawMessage, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("awaiting rate limit: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, s.cfg.BaseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("api-client", clientID)
	httpReq.Header.Set("api-key", clientSecret)
	httpReq.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, errors.New(statusMessage(resp.StatusCode, body))
	}
	if !json.Valid(body) {
		return nil, errors.New("response body is not valid JSON")
	}
	return json.RawMessage(body), nil
}

func (s *Service) fetch(ctx context.Context, req report.FetchRequest) report.FetchResult {
	if !req.Endpoint.Valid() {
		return report.Failure(report.KindClientError, fmt.Sprintf("unknown endpoint %q", req.Endpoint), 0, 0)
	}
	if req.ClientID == "" || req.ClientSecret == "" {
		return report.Failure(report.KindClientError, "missing credentials", 0, 0)
	}

	target := s.cfg.BaseURL + req.Endpoint.Path(req.StoreID, req.DateStart, req.DateEnd)

	var last report.FetchResult
	for attempt := 1; attempt <= s.cfg.MaxAttempts; attempt++ {
		if err := s.limiter.Wait(ctx); err != nil {
			return report.Failure(report.KindTimeout, "request cancelled while awaiting rate limit", attempt-1, 0)
		}

		last = s.attempt(ctx, target, req, attempt)
		if last.OK || !last.Kind.Retryable() || attempt == s.cfg.MaxAttempts {
			return last
		}

		delay := s.backoff(attempt)
		s.log.Warnf("fetch %s store %s attempt %d/%d failed (%s), retrying in %s",
			req.Endpoint, req.StoreID, attempt, s.cfg.MaxAttempts, last.Kind, delay.Round(time.Millisecond))

		select {
		case <-ctx.Done():
			return last
		case <-time.After(delay):
		}
	}
	return last
}

func (s *Service) attempt(ctx context.Context, target string, req report.FetchRequest, attempt int) report.FetchResult {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return report.Failure(report.KindClientError, fmt.Sprintf("build request: %v", err), attempt, 0)
	}
	httpReq.Header.Set("api-client", req.ClientID)
	httpReq.Header.Set("api-key", req.ClientSecret)
	httpReq.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(httpReq)
	if err != nil {
		kind, msg := s.classifyTransport(err)
		return report.Failure(kind, msg, attempt, 0)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		kind, msg := s.classifyTransport(err)
		return report.Failure(kind, msg, attempt, 0)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return report.Failure(report.KindRateLimited, statusMessage(resp.StatusCode, body), attempt, 0)
	case resp.StatusCode >= 500:
		return report.Failure(report.KindServerError, statusMessage(resp.StatusCode, body), attempt, 0)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return report.Failure(report.KindClientError, statusMessage(resp.StatusCode, body), attempt, 0)
	}

	if !json.Valid(body) {
		return report.Failure(report.KindParseError, "response body is not valid JSON", attempt, 0)
	}
	return report.Success(json.RawMessage(body), attempt, 0)
}

func (s *Service) classifyTransport(err error) (report.ErrorKind, string) {
	if errors.Is(err, context.Canceled) {
		return report.KindTimeout, "request cancelled"
	}
	var urlErr *url.Error
	if (errors.As(err, &urlErr) && urlErr.Timeout()) || errors.Is(err, context.DeadlineExceeded) {
		return report.KindTimeout, fmt.Sprintf("request timed out after %s", s.cfg.Timeout)
	}
	// Anything else at the transport level (refused connection, DNS, reset)
	// is treated as a retryable server-side fault.
	return report.KindServerError, fmt.Sprintf("request failed: %v", err)
}

func (s *Service) backoff(attempt int) time.Duration {
	delay := float64(s.cfg.BackoffBase) * math.Pow(s.cfg.BackoffFactor, float64(attempt-1))
	if delay > float64(s.cfg.MaxBackoff) {
		delay = float64(s.cfg.MaxBackoff)
	}
	delay += delay * s.cfg.Jitter * (rand.Float64()*2 - 1)
	return time.Duration(delay)
}

func statusMessage(code int, body []byte) string {
	snippet := strings.TrimSpace(string(body))
	if len(snippet) > snippetLen {
		snippet = snippet[:snippetLen]
	}
	if snippet == "" {
		return fmt.Sprintf("status %d", code)
	}
	return fmt.Sprintf("status %d: %s", code, snippet)
}
