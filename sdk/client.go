package sdk

import (
	"context"
	"fmt"
	"io"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// tracerName is the instrumentation scope of client spans.
const tracerName = "github.com/birbparty/taobao-top/sdk"

// DefaultTokenExpiry is used when an access token is set without an expiry.
var DefaultTokenExpiry = time.Unix(math.MaxInt32, 0)

// Client is a TOP API client. It signs every call with the app credentials,
// attaches the current access token and retries transient failures.
//
// All methods are safe for concurrent use. Calls share the transport's
// connection pool.
//
// Example:
//
//	client, err := sdk.NewClient(sdk.DefaultConfig().WithCredentials(appKey, appSecret))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	client.SetAccessToken(sessionKey, time.Now().Add(24*time.Hour))
//
//	resp, err := client.Call(ctx, "item_get", sdk.Params{
//	    "num_iid": 520000,
//	    "fields":  "title,price",
//	})
//	if err != nil {
//	    if apiErr, ok := sdk.AsAPIError(err); ok {
//	        log.Printf("call failed: %s", apiErr.Verbose())
//	    }
//	    return
//	}
//	item := resp.Result("taobao.item.get")["item"]
type Client struct {
	config   *Config
	endpoint string
	builder  *requestBuilder
	exec     *executor
	tracer   trace.Tracer
	now      func() time.Time

	mu        sync.RWMutex
	transport Transport
	owned     io.Closer
	token     string
	expiresAt time.Time
	closed    bool
}

// NewClient creates a new client with the given configuration.
// The config is validated and defaults are applied to it.
//
// Example:
//
//	config := sdk.DefaultConfig().
//	    WithCredentials("12345678", "app-secret").
//	    WithDomain("https://eco.taobao.com")
//
//	client, err := sdk.NewClient(config)
func NewClient(config *Config) (*Client, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	endpoint, err := ResolveEndpoint(config.Domain)
	if err != nil {
		return nil, err
	}

	c := &Client{
		config:   config,
		endpoint: endpoint,
		tracer:   otel.Tracer(tracerName),
		now:      time.Now,
	}
	c.builder = &requestBuilder{
		appKey:     config.AppKey,
		secret:     config.AppSecret,
		signMethod: config.SignMethod,
		now:        func() time.Time { return c.now() },
	}
	c.exec = &executor{
		policy:       NewRetryPolicy(config.RetrySubCodes, config.RetryCount, config.Backoff),
		shortTimeout: config.ShortTimeout,
		longTimeout:  config.LongTimeout,
		limiter:      config.RateLimiter,
		observer:     config.Observer,
		log:          &callLogger{log: config.Logger},
		sleep:        sleepContext,
	}

	if config.Transport != nil {
		c.transport = config.Transport
	} else {
		t := NewHTTPTransport(config.TransportConfig)
		c.transport = t
		c.owned = t
	}

	return c, nil
}

// Endpoint returns the resolved router URL
func (c *Client) Endpoint() string {
	return c.endpoint
}

// RetryPolicy returns the effective retry policy
func (c *Client) RetryPolicy() *RetryPolicy {
	return c.exec.policy
}

// SetAccessToken sets the session token sent with every call until
// expiresAt. A zero expiresAt means DefaultTokenExpiry.
func (c *Client) SetAccessToken(token string, expiresAt time.Time) {
	if expiresAt.IsZero() {
		expiresAt = DefaultTokenExpiry
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = token
	c.expiresAt = expiresAt
}

// ClearAccessToken drops the session token
func (c *Client) ClearAccessToken() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = ""
	c.expiresAt = time.Time{}
}

// AccessToken returns the current token and its expiry
func (c *Client) AccessToken() (string, time.Time) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token, c.expiresAt
}

// IsExpired reports whether calls are currently unauthenticated: no token
// is set or its expiry has passed.
func (c *Client) IsExpired() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.isExpiredLocked()
}

func (c *Client) isExpiredLocked() bool {
	return c.token == "" || !c.now().Before(c.expiresAt)
}

// SetTransport replaces the transport used by subsequent calls. A
// transport built by NewClient is closed.
func (c *Client) SetTransport(t Transport) {
	c.mu.Lock()
	owned := c.owned
	c.transport = t
	c.owned = nil
	c.mu.Unlock()
	if owned != nil {
		_ = owned.Close()
	}
}

// Call invokes the remote method named by a call name, translated by
// MethodName: "item_get" calls taobao.item.get and "tmall__item_get" calls
// tmall.item.get.
func (c *Client) Call(ctx context.Context, name string, params Params) (Response, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: call name cannot be empty", ErrInvalidRequest)
	}
	return c.Invoke(ctx, MethodName(name), params)
}

// Invoke calls a fully qualified remote method such as "taobao.time.get".
func (c *Client) Invoke(ctx context.Context, method string, params Params) (Response, error) {
	if method == "" {
		return nil, fmt.Errorf("%w: method cannot be empty", ErrInvalidRequest)
	}
	merged := params.clone()
	merged[FieldMethod] = method
	return c.Execute(ctx, merged)
}

// Execute sends params as they are, with the envelope and signature added.
// params must name the remote method itself. An empty parameter set fails
// with ErrInvalidRequest before anything is sent.
func (c *Client) Execute(ctx context.Context, params Params) (Response, error) {
	c.mu.RLock()
	if c.closed {
		c.mu.RUnlock()
		return nil, ErrClientClosed
	}
	transport := c.transport
	token := ""
	if !c.isExpiredLocked() {
		token = c.token
	}
	c.mu.RUnlock()

	if len(params) == 0 {
		return nil, fmt.Errorf("%w: no parameters", ErrInvalidRequest)
	}
	if token != "" {
		if _, ok := params[FieldSession]; !ok {
			params = params.clone()
			params[FieldSession] = token
		}
	}

	req, err := c.builder.build(c.endpoint, c.config.HTTPMethod, params)
	if err != nil {
		return nil, err
	}

	method := req.Method()
	callID := uuid.NewString()

	ctx, span := c.tracer.Start(ctx, "top.call", trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("top.method", method),
			attribute.String("top.call_id", callID),
			attribute.Bool("top.upload", req.HasFiles()),
		))
	defer span.End()

	c.exec.observer.OnCallStart(method)
	start := time.Now()

	resp, attempts, err := c.exec.run(ctx, transport, callID, req)

	c.exec.observer.OnCallEnd(callID, method, attempts, time.Since(start), err)
	span.SetAttributes(attribute.Int("top.attempts", attempts))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetStatus(codes.Ok, "")
	return resp, nil
}

// Close closes the client and the transport it created. Calls made after
// Close fail with ErrClientClosed.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	if c.owned != nil {
		return c.owned.Close()
	}
	return nil
}
