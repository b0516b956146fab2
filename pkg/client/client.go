// Package client holds the HTTP clients between controller and nodes.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	NodePrefix       = "/node"
	ControllerPrefix = "/controller"
	defaultTimeout   = 30 * time.Second
)

// ErrRemote is wrapped by every RemoteError.
var ErrRemote = errors.New("remote call failed")

// RemoteError is a non-2xx answer, decoded from an RFC 7807 body when present.
type RemoteError struct {
	StatusCode int    `json:"status"`
	Title      string `json:"title"`
	Detail     string `json:"detail"`
}

func (e *RemoteError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("remote returned %d %s: %s", e.StatusCode, e.Title, e.Detail)
	}

	return fmt.Sprintf("remote returned %d %s", e.StatusCode, e.Title)
}

func (e *RemoteError) Unwrap() error {
	return ErrRemote
}

// StatusCode returns the HTTP status of a RemoteError in err's chain, or 0.
func StatusCode(err error) int {
	var remote *RemoteError
	if errors.As(err, &remote) {
		return remote.StatusCode
	}

	return 0
}

// Option configures a client.
type Option func(*base)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(c *http.Client) Option {
	return func(b *base) { b.http = c }
}

// WithAuthorization sends the given Authorization header on every call.
func WithAuthorization(header string) Option {
	return func(b *base) { b.authorization = header }
}

// WithReferrer sends the given Referer header on every call.
func WithReferrer(referrer string) Option {
	return func(b *base) { b.referrer = referrer }
}

type base struct {
	root          string
	http          *http.Client
	authorization string
	referrer      string
}

func newBase(root string, opts []Option) base {
	b := base{
		root: strings.TrimRight(root, "/"),
		http: &http.Client{Timeout: defaultTimeout},
	}

	for _, opt := range opts {
		opt(&b)
	}

	return b
}

func (b *base) do(ctx context.Context, method, path string, query url.Values, contentType string, body io.Reader, out any) error {
	target := b.root + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}

	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	req.Header.Set("Accept", "application/json")

	if b.authorization != "" {
		req.Header.Set("Authorization", b.authorization)
	}

	if b.referrer != "" {
		req.Header.Set("Referer", b.referrer)
	}

	resp, err := b.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, target, err)
	}

	defer func() {
		_ = resp.Body.Close()
	}()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		remote := &RemoteError{}
		if json.Unmarshal(payload, remote) != nil || remote.StatusCode == 0 {
			remote = &RemoteError{Title: http.StatusText(resp.StatusCode), Detail: strings.TrimSpace(string(payload))}
		}

		remote.StatusCode = resp.StatusCode

		return remote
	}

	if out == nil || len(payload) == 0 {
		return nil
	}

	err = json.Unmarshal(payload, out)
	if err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	return nil
}

func jsonBody(v any) (io.Reader, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	return strings.NewReader(string(data)), nil
}

// ControllerURLFromReferrer derives {scheme}://{host}/controller from the
// Referer a controller sent with a start request.
func ControllerURLFromReferrer(referrer string) (string, error) {
	u, err := url.Parse(referrer)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("cannot derive controller url from referrer %q", referrer)
	}

	return u.Scheme + "://" + u.Host + ControllerPrefix, nil
}
