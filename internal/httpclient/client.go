package httpclient

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/torosent/crudfire/internal/auth"
	"github.com/torosent/crudfire/internal/workflow"
)

// DefaultMaxBodySize is the response body limit used when none is set.
const DefaultMaxBodySize int64 = 64 << 20

var _ workflow.Transport = (*Transport)(nil)

// Transport executes workflow calls over HTTP.
type Transport struct {
	client      *http.Client
	headers     http.Header
	auth        auth.Provider
	maxBodySize int64
}

// TransportOption customizes a Transport.
type TransportOption func(*Transport)

// WithMaxBodySize limits how many bytes of each response body are read.
// Longer bodies are cut and reported as Truncated. Zero reads bodies in full.
func WithMaxBodySize(n int64) TransportOption {
	return func(t *Transport) {
		if n >= 0 {
			t.maxBodySize = n
		}
	}
}

// NewTransport validates the default headers and returns a Transport. auth
// may be nil.
func NewTransport(client *http.Client, headers map[string]string, provider auth.Provider, opts ...TransportOption) (*Transport, error) {
	if client == nil {
		return nil, errors.New("http client cannot be nil")
	}
	canonical, err := canonicalHeaders(headers)
	if err != nil {
		return nil, err
	}
	t := &Transport{client: client, headers: canonical, auth: provider, maxBodySize: DefaultMaxBodySize}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

func canonicalHeaders(headers map[string]string) (http.Header, error) {
	out := make(http.Header, len(headers))
	for key, value := range headers {
		trimmedKey := strings.TrimSpace(key)
		if trimmedKey == "" || strings.ContainsAny(trimmedKey, "\r\n") {
			return nil, fmt.Errorf("invalid header key %q", key)
		}
		canonicalKey := http.CanonicalHeaderKey(trimmedKey)
		if strings.ContainsAny(value, "\r\n") {
			return nil, fmt.Errorf("invalid header value for %s", canonicalKey)
		}
		out.Set(canonicalKey, value)
	}
	return out, nil
}

// Call sends one request and reads the response body. Per-call headers
// override the defaults.
func (t *Transport) Call(ctx context.Context, method, url string, body []byte, header http.Header) (workflow.Response, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	var reader io.Reader = http.NoBody
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return workflow.Response{}, err
	}

	for key, values := range t.headers {
		req.Header[key] = append([]string(nil), values...)
	}
	for key, values := range header {
		req.Header.Del(key)
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}
	if t.auth != nil {
		if err := t.auth.InjectHeader(ctx, req); err != nil {
			return workflow.Response{}, fmt.Errorf("auth provider inject header: %w", err)
		}
	}

	start := time.Now()
	resp, err := t.client.Do(req)
	if err != nil {
		return workflow.Response{Duration: time.Since(start)}, err
	}
	defer resp.Body.Close()

	// Body read errors are non-fatal; the status is still usable.
	data, truncated, bodyErr := t.readBody(resp.Body)
	if bodyErr != nil {
		data = nil
	}
	return workflow.Response{
		Status:    resp.StatusCode,
		Body:      data,
		Duration:  time.Since(start),
		Truncated: truncated,
	}, nil
}

// readBody reads up to maxBodySize bytes. One extra byte is requested so an
// exactly-sized body is not mistaken for a cut one.
func (t *Transport) readBody(body io.Reader) ([]byte, bool, error) {
	if t.maxBodySize == 0 {
		data, err := io.ReadAll(body)
		return data, false, err
	}
	data, err := io.ReadAll(io.LimitReader(body, t.maxBodySize+1))
	if int64(len(data)) > t.maxBodySize {
		return data[:t.maxBodySize], true, err
	}
	return data, false, err
}

// NewClient returns an http.Client suited to many concurrent virtual users.
func NewClient(timeout time.Duration) *http.Client {
	if timeout < 0 {
		timeout = 0
	}

	dialer := &net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}

	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          256,
		MaxIdleConnsPerHost:   64,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	return &http.Client{
		Timeout:   timeout,
		Transport: transport,
	}
}
