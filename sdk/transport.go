package sdk

import (
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

// Transport exchanges one signed request with the gateway and returns the
// raw response body.
//
// The executor owns application-level retries; a Transport only handles
// connection-level concerns. Implementations must be safe for concurrent use
// and must bound every exchange by timeout.
//
// The default is HTTPTransport. An alternative built on fasthttp lives in
// the fasttransport package, and tests can use TransportFunc:
//
//	client.SetTransport(sdk.TransportFunc(func(ctx context.Context, req *sdk.SignedRequest, timeout time.Duration) ([]byte, error) {
//	    return []byte(`{"time_get_response":{"time":"2024-01-01 00:00:00"}}`), nil
//	}))
type Transport interface {
	Do(ctx context.Context, req *SignedRequest, timeout time.Duration) ([]byte, error)
}

// TransportFunc adapts a plain function to Transport
type TransportFunc func(ctx context.Context, req *SignedRequest, timeout time.Duration) ([]byte, error)

// Do calls f
func (f TransportFunc) Do(ctx context.Context, req *SignedRequest, timeout time.Duration) ([]byte, error) {
	return f(ctx, req, timeout)
}

// userAgent is sent with every request.
var userAgent = "taobao-top-go-sdk/" + Version

// HTTPTransport is the default Transport. It shares one pooled connection
// set across calls and retries connection failures and selected 5xx
// statuses a bounded number of times before giving up.
type HTTPTransport struct {
	client        *retryablehttp.Client
	config        TransportConfig
	retryStatuses map[int]struct{}
}

// NewHTTPTransport creates an HTTP transport from cfg. Zero fields take
// their defaults.
//
// Example:
//
//	transport := sdk.NewHTTPTransport(sdk.TransportConfig{
//	    MaxIdleConns: 200,
//	    MaxRetries:   1,
//	})
//	client.SetTransport(transport)
func NewHTTPTransport(cfg TransportConfig) *HTTPTransport {
	cfg.applyDefaults()

	pool := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        cfg.MaxIdleConns,
		MaxConnsPerHost:     cfg.MaxConnsPerHost,
		IdleConnTimeout:     cfg.IdleConnTimeout,
		TLSHandshakeTimeout: 10 * time.Second,
	}

	maxRedirects := cfg.MaxRedirects
	httpClient := &http.Client{
		Transport: pool,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return fmt.Errorf("stopped after %d redirects", maxRedirects)
			}
			return nil
		},
	}

	t := &HTTPTransport{
		config:        cfg,
		retryStatuses: make(map[int]struct{}, len(cfg.RetryStatuses)),
	}
	for _, s := range cfg.RetryStatuses {
		t.retryStatuses[s] = struct{}{}
	}

	rc := retryablehttp.NewClient()
	rc.HTTPClient = httpClient
	rc.Logger = nil
	rc.RetryMax = cfg.MaxRetries
	rc.RetryWaitMin = cfg.RetryWaitMin
	rc.RetryWaitMax = cfg.RetryWaitMax
	rc.CheckRetry = t.checkRetry
	t.client = rc

	return t
}

// checkRetry retries connection errors the way retryablehttp does by
// default, but only the configured statuses among responses.
func (t *HTTPTransport) checkRetry(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	if err != nil {
		return retryablehttp.DefaultRetryPolicy(ctx, nil, err)
	}
	_, ok := t.retryStatuses[resp.StatusCode]
	return ok, nil
}

// Do sends req and returns the decoded body. Non-2xx responses are returned
// as-is so the platform's JSON error payload gets classified.
func (t *HTTPTransport) Do(ctx context.Context, req *SignedRequest, timeout time.Duration) ([]byte, error) {
	op := req.HTTPMethod + " " + req.URL

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	httpReq, err := t.newRequest(ctx, req)
	if err != nil {
		return nil, &TransportError{Op: op, Err: err}
	}

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return nil, &TransportError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	body, err := readBody(resp)
	if err != nil {
		return nil, &TransportError{Op: "reading response", Err: err}
	}
	return body, nil
}

func (t *HTTPTransport) newRequest(ctx context.Context, req *SignedRequest) (*retryablehttp.Request, error) {
	var (
		httpReq *retryablehttp.Request
		err     error
	)
	switch req.HTTPMethod {
	case http.MethodGet:
		httpReq, err = retryablehttp.NewRequestWithContext(ctx, http.MethodGet, req.QueryURL(), nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
	default:
		body, contentType, encErr := req.EncodeBody()
		if encErr != nil {
			return nil, encErr
		}
		httpReq, err = retryablehttp.NewRequestWithContext(ctx, http.MethodPost, req.URL, body)
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		httpReq.Header.Set("Content-Type", contentType)
	}

	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("Accept-Encoding", "gzip")
	httpReq.Header.Set("Connection", "close")
	httpReq.Header.Set("User-Agent", userAgent)
	for key, value := range t.config.Headers {
		httpReq.Header.Set(key, value)
	}
	return httpReq, nil
}

// readBody reads the response, inflating it when the gateway gzipped it.
// Setting Accept-Encoding ourselves disables net/http's transparent
// decompression.
func readBody(resp *http.Response) ([]byte, error) {
	if !strings.EqualFold(resp.Header.Get("Content-Encoding"), "gzip") {
		return io.ReadAll(resp.Body)
	}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	return gunzip(raw)
}

func gunzip(raw []byte) ([]byte, error) {
	zr, err := gzip.NewReader(bytes.NewReader(raw))
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open gzip body: %w", err)
	}
	defer zr.Close()
	out, err := io.ReadAll(zr)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress body: %w", err)
	}
	return out, nil
}

// Close releases idle pooled connections
func (t *HTTPTransport) Close() error {
	t.client.HTTPClient.CloseIdleConnections()
	return nil
}
