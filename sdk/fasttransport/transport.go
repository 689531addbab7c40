// Package fasttransport implements sdk.Transport on valyala/fasthttp.
//
// It trades net/http compatibility for lower allocation per call and suits
// processes issuing many small calls against one gateway:
//
//	client, _ := sdk.NewClient(config)
//	client.SetTransport(fasttransport.New(fasttransport.Config{MaxConnsPerHost: 64}))
//
// Connection-level retries are limited to fasthttp's own idempotent-request
// handling; application retries stay with the sdk executor.
package fasttransport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/valyala/fasthttp"

	"github.com/birbparty/taobao-top/sdk"
)

// defaultTimeout bounds attempts made without a timeout.
const defaultTimeout = 20 * time.Second

// Config holds fasthttp client settings
type Config struct {
	// MaxConnsPerHost bounds open connections to the gateway.
	// Default: 512
	MaxConnsPerHost int

	// MaxIdleConnDuration closes connections idle for longer.
	// Default: 90s
	MaxIdleConnDuration time.Duration

	// MaxRedirects bounds redirect following.
	// Default: 5
	MaxRedirects int

	// Headers are extra headers sent with every request.
	Headers map[string]string
}

// Transport is an sdk.Transport backed by a fasthttp.Client.
type Transport struct {
	client       *fasthttp.Client
	maxRedirects int
	headers      map[string]string
}

// New creates a transport. Zero fields take their defaults.
func New(cfg Config) *Transport {
	if cfg.MaxConnsPerHost <= 0 {
		cfg.MaxConnsPerHost = fasthttp.DefaultMaxConnsPerHost
	}
	if cfg.MaxIdleConnDuration <= 0 {
		cfg.MaxIdleConnDuration = 90 * time.Second
	}
	if cfg.MaxRedirects <= 0 {
		cfg.MaxRedirects = 5
	}

	return &Transport{
		client: &fasthttp.Client{
			Name:                "taobao-top-go-sdk/" + sdk.Version,
			MaxConnsPerHost:     cfg.MaxConnsPerHost,
			MaxIdleConnDuration: cfg.MaxIdleConnDuration,
		},
		maxRedirects: cfg.MaxRedirects,
		headers:      cfg.Headers,
	}
}

// Do implements sdk.Transport. The attempt is bounded by timeout and by the
// deadline of ctx, whichever comes first.
func (t *Transport) Do(ctx context.Context, req *sdk.SignedRequest, timeout time.Duration) ([]byte, error) {
	op := req.HTTPMethod + " " + req.URL
	if err := ctx.Err(); err != nil {
		return nil, &sdk.TransportError{Op: op, Err: err}
	}

	if timeout <= 0 {
		timeout = defaultTimeout
	}
	deadline := time.Now().Add(timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	freq := fasthttp.AcquireRequest()
	defer fasthttp.ReleaseRequest(freq)
	fresp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseResponse(fresp)

	if err := t.fill(freq, req); err != nil {
		return nil, &sdk.TransportError{Op: op, Err: err}
	}

	if err := t.doRedirects(freq, fresp, deadline); err != nil {
		if errors.Is(err, fasthttp.ErrTimeout) && ctx.Err() != nil {
			err = ctx.Err()
		}
		return nil, &sdk.TransportError{Op: op, Err: err}
	}

	body, err := t.body(fresp)
	if err != nil {
		return nil, &sdk.TransportError{Op: "reading response", Err: err}
	}
	return body, nil
}

func (t *Transport) fill(freq *fasthttp.Request, req *sdk.SignedRequest) error {
	if req.HTTPMethod == http.MethodGet {
		freq.Header.SetMethod(http.MethodGet)
		freq.SetRequestURI(req.QueryURL())
	} else {
		body, contentType, err := req.EncodeBody()
		if err != nil {
			return err
		}
		freq.Header.SetMethod(http.MethodPost)
		freq.SetRequestURI(req.URL)
		freq.Header.SetContentType(contentType)
		freq.SetBodyRaw(body)
	}

	freq.Header.Set("Accept", "application/json")
	freq.Header.Set("Accept-Encoding", "gzip")
	freq.SetConnectionClose()
	for key, value := range t.headers {
		freq.Header.Set(key, value)
	}
	return nil
}

// doRedirects follows redirects itself so that POST bodies are not
// replayed against a different host.
func (t *Transport) doRedirects(freq *fasthttp.Request, fresp *fasthttp.Response, deadline time.Time) error {
	for redirects := 0; ; redirects++ {
		if err := t.client.DoDeadline(freq, fresp, deadline); err != nil {
			return err
		}
		if !fasthttp.StatusCodeIsRedirect(fresp.StatusCode()) {
			return nil
		}
		if redirects >= t.maxRedirects {
			return fmt.Errorf("stopped after %d redirects", t.maxRedirects)
		}
		location := fresp.Header.Peek(fasthttp.HeaderLocation)
		if len(location) == 0 {
			return nil
		}
		freq.URI().UpdateBytes(location)
		if fresp.StatusCode() == fasthttp.StatusSeeOther {
			freq.Header.SetMethod(http.MethodGet)
			freq.ResetBody()
		}
		fresp.Reset()
	}
}

func (t *Transport) body(fresp *fasthttp.Response) ([]byte, error) {
	if bytes.EqualFold(fresp.Header.Peek(fasthttp.HeaderContentEncoding), []byte("gzip")) {
		return fresp.BodyGunzip()
	}
	return append([]byte(nil), fresp.Body()...), nil
}

// Close closes idle connections
func (t *Transport) Close() error {
	t.client.CloseIdleConnections()
	return nil
}
