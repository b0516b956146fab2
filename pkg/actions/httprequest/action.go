// Package httprequest provides the http plan action.
package httprequest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/dukex/conduit/pkg/protocol"
	"github.com/dukex/conduit/pkg/template"
	"github.com/sethvargo/go-retry"
)

const defaultTimeout = 30 * time.Second

var (
	// ErrHTTPRequestURLInvalid is returned when the configuration has no url.
	ErrHTTPRequestURLInvalid = errors.New("invalid HTTP request url")
	// ErrHTTPServerError is returned when the server keeps answering with 5xx.
	ErrHTTPServerError = errors.New("server error during HTTP request")
	// ErrUnexpectedStatus is returned when expect_status is set and not met.
	ErrUnexpectedStatus = errors.New("unexpected HTTP status")
)

// Action performs an HTTP request with optional headers, body and retries.
type Action struct {
	Method       string
	URL          string
	Headers      map[string]string
	Body         string
	Timeout      time.Duration
	ExpectStatus int
	Retry        RetryConfig
}

// RetryConfig defines retry behavior for HTTP requests.
type RetryConfig struct {
	Attempts int
	Delay    time.Duration
}

// NewAction creates a new Action from configuration.
func NewAction(config map[string]any) (*Action, error) {
	url, _ := config["url"].(string)
	if url == "" {
		return nil, fmt.Errorf("missing or invalid 'url' in configuration: %w", ErrHTTPRequestURLInvalid)
	}

	method, _ := config["method"].(string)
	if method == "" {
		method = http.MethodGet
	}

	body, _ := config["body"].(string)

	headers := make(map[string]string)

	if headersMap, ok := config["headers"].(map[string]any); ok {
		for k, v := range headersMap {
			if strVal, ok := v.(string); ok {
				headers[k] = strVal
			}
		}
	}

	timeout := defaultTimeout

	if raw, ok := config["timeout"].(string); ok && raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid 'timeout': %w", err)
		}

		timeout = d
	}

	expect, _ := toInt(config["expect_status"])

	return &Action{
		Method:       strings.ToUpper(method),
		URL:          url,
		Headers:      headers,
		Body:         body,
		Timeout:      timeout,
		ExpectStatus: expect,
		Retry:        parseRetryConfig(config["retry"]),
	}, nil
}

func parseRetryConfig(retryConfig any) RetryConfig {
	cfg := RetryConfig{Attempts: 1}

	retryMap, ok := retryConfig.(map[string]any)
	if !ok {
		return cfg
	}

	if attempts, ok := toInt(retryMap["attempts"]); ok && attempts > 0 {
		cfg.Attempts = attempts
	}

	if delay, ok := toInt(retryMap["delay"]); ok && delay > 0 {
		cfg.Delay = time.Duration(delay) * time.Millisecond
	}

	return cfg
}

func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}

// Execute performs the request. Connection errors and 5xx answers are retried
// up to Retry.Attempts times. In a dry run only the request is rendered.
func (a *Action) Execute(ctx context.Context, actionCtx protocol.ActionContext, logger *slog.Logger) (any, error) {
	logger = logger.With("action_type", "http")

	url, err := template.RenderStringWithContext(a.URL, actionCtx)
	if err != nil {
		return nil, fmt.Errorf("failed to render url template: %w", err)
	}

	if actionCtx.DryRun {
		logger.InfoContext(ctx, "Dry run, request not sent", "method", a.Method, "url", url)

		return map[string]any{"method": a.Method, "url": url, "dry_run": true}, nil
	}

	logger.InfoContext(ctx, "Executing HTTP request", "method", a.Method, "url", url)

	client := &http.Client{Timeout: a.Timeout}
	backoff := retry.WithMaxRetries(uint64(a.Retry.Attempts-1), retry.NewConstant(max(a.Retry.Delay, time.Millisecond)))

	var (
		resp    *http.Response
		attempt int
	)

	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		if attempt > 1 {
			logger.InfoContext(ctx, fmt.Sprintf("HTTP request retry attempt %d/%d", attempt, a.Retry.Attempts))
		}

		req, err := a.buildRequest(ctx, url, actionCtx)
		if err != nil {
			return err
		}

		r, err := client.Do(req)
		if err != nil {
			return retry.RetryableError(fmt.Errorf("http request failed: %w", err))
		}

		if r.StatusCode >= http.StatusInternalServerError {
			_ = r.Body.Close()

			return retry.RetryableError(fmt.Errorf("status %d: %w", r.StatusCode, ErrHTTPServerError))
		}

		resp = r

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("all %d attempts failed: %w", attempt, err)
	}

	return a.processResponse(ctx, resp, logger)
}

func (a *Action) buildRequest(ctx context.Context, url string, actionCtx protocol.ActionContext) (*http.Request, error) {
	body, err := template.RenderStringWithContext(a.Body, actionCtx)
	if err != nil {
		return nil, fmt.Errorf("failed to render body template: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, a.Method, url, strings.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create http request: %w", err)
	}

	for key, value := range a.Headers {
		headerValue, err := template.RenderStringWithContext(value, actionCtx)
		if err != nil {
			return nil, fmt.Errorf("failed to render header '%s' template: %w", key, err)
		}

		req.Header.Set(key, headerValue)
	}

	return req, nil
}

func (a *Action) processResponse(ctx context.Context, resp *http.Response, logger *slog.Logger) (any, error) {
	defer func() {
		_ = resp.Body.Close()
	}()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	var body any

	err = json.Unmarshal(bodyBytes, &body)
	if err != nil {
		body = string(bodyBytes)
	}

	result := map[string]any{
		"status_code": resp.StatusCode,
		"body":        body,
		"headers":     resp.Header,
	}

	logger.InfoContext(ctx, "HTTP request completed", "status", resp.StatusCode, "body_length", len(bodyBytes))

	if a.ExpectStatus != 0 && resp.StatusCode != a.ExpectStatus {
		return result, fmt.Errorf("got %d, want %d: %w", resp.StatusCode, a.ExpectStatus, ErrUnexpectedStatus)
	}

	return result, nil
}
