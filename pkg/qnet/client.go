// Package qnet provides the resilient Q-Net OpenAPI client: a TTL cache,
// linear-backoff retries and result-code classification wrapped around
// outbound HTTP GETs to the national qualification services.
package qnet

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/qnetstudy/qnet-study-server/pkg/cache"
	"github.com/qnetstudy/qnet-study-server/pkg/quota"
)

// Prometheus metrics for upstream operations.
var (
	qnetRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "qnet_requests_total",
		Help: "Total Q-Net fetches by endpoint and outcome",
	}, []string{"endpoint", "status"})

	qnetRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "qnet_request_duration_seconds",
		Help:    "Q-Net fetch duration in seconds by endpoint",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
	}, []string{"endpoint"})

	qnetErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "qnet_errors_total",
		Help: "Total Q-Net errors by class",
	}, []string{"class"})

	qnetRetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "qnet_retries_total",
		Help: "Total number of retry attempts by endpoint",
	}, []string{"endpoint"})

	qnetRetryBackoffSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "qnet_retry_backoff_seconds",
		Help:    "Backoff duration for retries by endpoint",
		Buckets: []float64{1, 2, 4, 6, 10},
	}, []string{"endpoint"})

	qnetRetryExhaustedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "qnet_retry_exhausted_total",
		Help: "Total number of fetches that exhausted max attempts by endpoint",
	}, []string{"endpoint"})
)

// ErrorClass represents a classification of upstream failures.
type ErrorClass string

const (
	// ErrorClassTransport represents dial, timeout and connection errors.
	ErrorClassTransport ErrorClass = "transport"

	// ErrorClassUpstreamGeneral represents the embedded result code 99.
	ErrorClassUpstreamGeneral ErrorClass = "upstream_general"

	// ErrorClassUpstreamSpecific represents any other embedded error code.
	ErrorClassUpstreamSpecific ErrorClass = "upstream_specific"

	// ErrorClassQuota represents a locally refused call after the daily
	// quota was reported spent.
	ErrorClassQuota ErrorClass = "quota"
)

// UpstreamResult is the outcome of a successful fetch: the upstream HTTP
// status and the raw body, passed through untouched.
type UpstreamResult struct {
	StatusCode int
	Body       string
}

// Default upstream endpoints and limits.
const (
	// DefaultTestInfoBaseURL serves the exam-schedule operations
	// (getPEList, getMCList, getEList, getCList, getFeeList, getJMList).
	DefaultTestInfoBaseURL = "http://openapi.q-net.or.kr/api/service/rest/InquiryTestInformationNTQSVC"

	// DefaultQualificationBaseURL serves the qualification-list
	// operation (getList).
	DefaultQualificationBaseURL = "http://openapi.q-net.or.kr/api/service/rest/InquiryListNationalQualifcationSVC"

	// DefaultTimeout bounds a single upstream attempt. An expired
	// attempt counts as a transport failure and is retried.
	DefaultTimeout = 30 * time.Second
)

// Client is the Q-Net client.
type Client struct {
	httpClient *http.Client
	cache      cache.Store
	quota      *quota.Tracker
	config     Config
	logger     zerolog.Logger
}

// Config holds the client configuration.
type Config struct {
	// ServiceKey is the data-portal credential (REQUIRED). It is
	// injected into outgoing query strings and never participates in
	// cache key derivation.
	ServiceKey string

	// TestInfoBaseURL serves the exam-schedule operations.
	TestInfoBaseURL string

	// QualificationBaseURL serves the qualification-list operation.
	QualificationBaseURL string

	// Cache is the response cache (REQUIRED). One store is shared by
	// all concurrent fetches; it is the only cross-request state.
	Cache cache.Store

	// Quota optionally gates fetches on the per-key daily limit.
	// Nil disables quota tracking.
	Quota *quota.Tracker

	// Timeout bounds each upstream attempt.
	Timeout time.Duration

	// Retry configures the linear backoff policy.
	Retry RetryConfig
}

// DefaultConfig returns a configuration with the public Q-Net base URLs,
// the default per-attempt timeout and the standard retry policy. The
// caller still provides the service key and a cache store.
func DefaultConfig(serviceKey string, store cache.Store) Config {
	return Config{
		ServiceKey:           serviceKey,
		TestInfoBaseURL:      DefaultTestInfoBaseURL,
		QualificationBaseURL: DefaultQualificationBaseURL,
		Cache:                store,
		Timeout:              DefaultTimeout,
		Retry:                DefaultRetryConfig(),
	}
}

// New creates a new Q-Net client.
// A missing credential fails here, not on the first request.
func New(cfg Config) (*Client, error) {
	if cfg.ServiceKey == "" {
		return nil, fmt.Errorf("service key is required")
	}

	if cfg.Cache == nil {
		return nil, fmt.Errorf("cache store is required")
	}

	if cfg.TestInfoBaseURL == "" {
		return nil, fmt.Errorf("test info base URL is required")
	}

	if cfg.QualificationBaseURL == "" {
		return nil, fmt.Errorf("qualification base URL is required")
	}

	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = DefaultRetryConfig()
	}

	// Initialize logger
	logger := log.With().Str("component", "qnet-client").Logger()

	return &Client{
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		cache:  cfg.Cache,
		quota:  cfg.Quota,
		config: cfg,
		logger: logger,
	}, nil
}

// qualificationEndpoints are served by the qualification-list base URL;
// every other operation belongs to the test-information service.
var qualificationEndpoints = map[string]bool{
	EndpointQualificationList: true,
}

// Fetch performs one cached, retried GET against the given upstream
// operation. params must not contain the service key; the credential is
// injected after the cache fingerprint is computed.
//
// A cache hit returns immediately with status 200 and the cached body;
// no network call is made and the retry policy is not invoked. A miss
// goes upstream under the retry policy, and only a terminal success is
// written back to the cache.
func (c *Client) Fetch(ctx context.Context, endpoint string, params map[string]string) (*UpstreamResult, error) {
	// Request timing
	startTime := time.Now()
	defer func() {
		qnetRequestDuration.WithLabelValues(endpoint).Observe(time.Since(startTime).Seconds())
	}()

	// Step 1: Check cache
	cacheKey := cache.Key{
		Endpoint: endpoint,
		Params:   params,
	}

	cached, err := c.cache.Get(ctx, cacheKey)
	if err != nil && err != cache.ErrCacheMiss {
		c.logger.Warn().Err(err).Str("endpoint", endpoint).Msg("Cache get error")
	}
	if cached != nil {
		c.logger.Debug().
			Str("endpoint", endpoint).
			Bool("cache_hit", true).
			Dur("age", cached.Age()).
			Msg("Serving cached response")
		qnetRequestsTotal.WithLabelValues(endpoint, "cache_hit").Inc()
		return &UpstreamResult{StatusCode: http.StatusOK, Body: cached.Body}, nil
	}

	// Step 2: Check the daily quota before going upstream
	if c.quota != nil {
		allowed, qerr := c.quota.Allow(ctx)
		if qerr != nil {
			c.logger.Warn().Err(qerr).Msg("Quota check failed")
		} else if !allowed {
			qnetErrorsTotal.WithLabelValues(string(ErrorClassQuota)).Inc()
			qnetRequestsTotal.WithLabelValues(endpoint, "quota_blocked").Inc()
			return nil, &UpstreamError{
				Endpoint: endpoint,
				Class:    ErrorClassQuota,
				Err:      ErrQuotaExhausted,
			}
		}
	}

	// Step 3: Fetch under the retry policy
	var result *UpstreamResult

	retryErr := retryWithBackoff(ctx, c.config.Retry, c.logger, endpoint, func() (ErrorClass, error) {
		res, class, attemptErr := c.doAttempt(ctx, endpoint, params)
		if attemptErr != nil {
			return class, attemptErr
		}
		result = res
		return "", nil
	})
	if retryErr != nil {
		return nil, retryErr
	}

	// Step 4: Cache the terminal success
	if err := c.cache.Set(ctx, cacheKey, cache.NewEntry(result.Body, result.StatusCode)); err != nil {
		c.logger.Warn().Err(err).Str("endpoint", endpoint).Msg("Failed to cache response")
	}

	return result, nil
}

// doAttempt performs a single upstream GET and classifies its outcome.
func (c *Client) doAttempt(ctx context.Context, endpoint string, params map[string]string) (*UpstreamResult, ErrorClass, error) {
	requestURL, err := c.buildURL(endpoint, params)
	if err != nil {
		return nil, ErrorClassTransport, fmt.Errorf("build url: %w", err)
	}

	c.logger.Debug().
		Str("endpoint", endpoint).
		Str("url", redactServiceKey(requestURL)).
		Msg("Requesting upstream")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
	if err != nil {
		return nil, ErrorClassTransport, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Timeouts and connection failures are retryable
		qnetErrorsTotal.WithLabelValues(string(ErrorClassTransport)).Inc()
		qnetRequestsTotal.WithLabelValues(endpoint, "transport_error").Inc()
		return nil, ErrorClassTransport, &UpstreamError{
			Endpoint: endpoint,
			Class:    ErrorClassTransport,
			Err:      err,
		}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		qnetErrorsTotal.WithLabelValues(string(ErrorClassTransport)).Inc()
		qnetRequestsTotal.WithLabelValues(endpoint, "transport_error").Inc()
		return nil, ErrorClassTransport, &UpstreamError{
			Endpoint: endpoint,
			Class:    ErrorClassTransport,
			Err:      fmt.Errorf("read body: %w", err),
		}
	}

	// Every completed HTTP exchange counts against the daily quota
	if c.quota != nil {
		if err := c.quota.RecordCall(ctx); err != nil {
			c.logger.Warn().Err(err).Msg("Failed to record quota call")
		}
	}

	text := string(body)
	scan := ScanResultCode(text)

	switch {
	case scan.Code == ResultCodeSuccess:
		qnetRequestsTotal.WithLabelValues(endpoint, fmt.Sprintf("%d", resp.StatusCode)).Inc()
		return &UpstreamResult{StatusCode: resp.StatusCode, Body: text}, "", nil

	case scan.Code == ResultCodeGeneralError:
		// The portal's catch-all failure, usually transient
		qnetErrorsTotal.WithLabelValues(string(ErrorClassUpstreamGeneral)).Inc()
		qnetRequestsTotal.WithLabelValues(endpoint, "upstream_error").Inc()
		return nil, ErrorClassUpstreamGeneral, &UpstreamError{
			Endpoint:   endpoint,
			StatusCode: resp.StatusCode,
			ResultCode: scan.Code,
			ResultMsg:  scan.Message,
			Class:      ErrorClassUpstreamGeneral,
		}

	case scan.Code != "":
		// A named failure repeats identically on every attempt
		if scan.Code == ResultCodeQuotaExceeded && c.quota != nil {
			if err := c.quota.RecordLimitExceeded(ctx); err != nil {
				c.logger.Warn().Err(err).Msg("Failed to record quota exhaustion")
			}
		}
		qnetErrorsTotal.WithLabelValues(string(ErrorClassUpstreamSpecific)).Inc()
		qnetRequestsTotal.WithLabelValues(endpoint, "upstream_error").Inc()
		c.logger.Error().
			Str("endpoint", endpoint).
			Int("status_code", resp.StatusCode).
			Str("result_code", scan.Code).
			Str("result_name", ResultCodeName(scan.Code)).
			Str("result_msg", scan.Message).
			Msg("Upstream returned a specific error code")
		return nil, ErrorClassUpstreamSpecific, &UpstreamError{
			Endpoint:   endpoint,
			StatusCode: resp.StatusCode,
			ResultCode: scan.Code,
			ResultMsg:  scan.Message,
			Class:      ErrorClassUpstreamSpecific,
		}

	default:
		// No marker at all: pass the body through untouched and let the
		// caller decide what a non-standard body means
		c.logger.Warn().
			Str("endpoint", endpoint).
			Int("status_code", resp.StatusCode).
			Str("body_preview", preview(text, 200)).
			Msg("Upstream body has no result-code marker")
		qnetRequestsTotal.WithLabelValues(endpoint, fmt.Sprintf("%d", resp.StatusCode)).Inc()
		return &UpstreamResult{StatusCode: resp.StatusCode, Body: text}, "", nil
	}
}

// buildURL assembles the upstream URL for an endpoint, injecting the
// service key into the query string. Cache key derivation ran before
// this, so the credential never reaches it.
func (c *Client) buildURL(endpoint string, params map[string]string) (string, error) {
	base := c.config.TestInfoBaseURL
	if qualificationEndpoints[endpoint] {
		base = c.config.QualificationBaseURL
	}

	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/" + endpoint

	query := u.Query()
	query.Set("serviceKey", c.config.ServiceKey)
	for k, v := range params {
		if k == "serviceKey" {
			continue
		}
		query.Set(k, v)
	}
	u.RawQuery = query.Encode()

	return u.String(), nil
}

// redactServiceKey masks the credential in a URL destined for logs.
func redactServiceKey(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	query := u.Query()
	if query.Has("serviceKey") {
		query.Set("serviceKey", "REDACTED")
		u.RawQuery = query.Encode()
	}
	return u.String()
}

// preview truncates a body for log output.
func preview(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// Cache returns the underlying cache store.
func (c *Client) Cache() cache.Store {
	return c.cache
}
