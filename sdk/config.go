package sdk

import (
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// DefaultDomain is the public gateway used when no domain is configured.
const DefaultDomain = "gw.api.taobao.com"

// Config holds the configuration for a TOP client.
// Only the app credentials are required; every other field has a default.
//
// Configuration can be built using the fluent builder pattern:
//
//	config := sdk.DefaultConfig().
//	    WithCredentials("12345678", "app-secret").
//	    WithDomain("https://eco.taobao.com").
//	    WithRetryCount(3).
//	    WithRetrySubCodes("isp.my-flaky-error")
//
//	client, err := sdk.NewClient(config)
type Config struct {
	// AppKey identifies the application.
	AppKey string

	// AppSecret is the shared signing secret.
	AppSecret string

	// Domain is the gateway host, optionally with a scheme. The scheme
	// defaults to http and /router/rest is always appended.
	// Default: "gw.api.taobao.com"
	Domain string

	// SignMethod selects the signature algorithm.
	// Default: SignHMAC
	SignMethod SignMethod

	// HTTPMethod is POST or GET. Calls with file parameters must use POST.
	// Default: POST
	HTTPMethod string

	// Transport replaces the HTTP transport. If nil, an HTTPTransport is
	// built from TransportConfig.
	Transport Transport

	// RetrySubCodes are retried in addition to DefaultRetrySubCodes().
	RetrySubCodes []string

	// RetryCount is the number of attempts per call, including the first.
	// Negative values mean a single attempt.
	// Default: 5
	RetryCount int

	// Backoff schedules sleeps after rate-limit responses.
	// Default: DefaultExponentialBackoff()
	Backoff BackoffStrategy

	// ShortTimeout bounds attempts without file parameters.
	// Default: 5s
	ShortTimeout time.Duration

	// LongTimeout bounds attempts with file parameters.
	// Default: 20s
	LongTimeout time.Duration

	// TransportConfig configures the default HTTP transport.
	TransportConfig TransportConfig

	// Logger receives one TOP_API_CALL entry per attempt.
	// If nil, nothing is logged.
	Logger logrus.FieldLogger

	// Observer for monitoring calls.
	// If nil, NoopObserver is used.
	Observer Observer

	// RateLimiter, if set, is waited on before every attempt.
	RateLimiter *rate.Limiter
}

// TransportConfig holds HTTP transport configuration.
//
// Example:
//
//	config.TransportConfig = sdk.TransportConfig{
//	    MaxIdleConns:    200,
//	    MaxConnsPerHost: 50,
//	    MaxRetries:      1,
//	}
type TransportConfig struct {
	// MaxIdleConns controls the maximum number of idle connections
	// across all hosts.
	// Default: 100
	MaxIdleConns int

	// MaxConnsPerHost controls the maximum connections per host.
	// Default: 10
	MaxConnsPerHost int

	// IdleConnTimeout is the maximum time an idle connection will remain idle
	// before closing itself.
	// Default: 90s
	IdleConnTimeout time.Duration

	// MaxRetries is the number of connection-level retries beneath the
	// executor's own attempts.
	// Default: 3
	MaxRetries int

	// RetryWaitMin is the first connection-level retry wait; later waits
	// double up to RetryWaitMax.
	// Default: 300ms
	RetryWaitMin time.Duration

	// RetryWaitMax caps connection-level retry waits.
	// Default: 2.4s
	RetryWaitMax time.Duration

	// RetryStatuses are HTTP statuses retried at the connection level.
	// Default: 500, 502, 504
	RetryStatuses []int

	// MaxRedirects bounds redirect following.
	// Default: 5
	MaxRedirects int

	// Headers are extra headers sent with every request.
	Headers map[string]string
}

// DefaultTransportConfig returns the transport defaults
func DefaultTransportConfig() TransportConfig {
	return TransportConfig{
		MaxIdleConns:    100,
		MaxConnsPerHost: 10,
		IdleConnTimeout: 90 * time.Second,
		MaxRetries:      3,
		RetryWaitMin:    300 * time.Millisecond,
		RetryWaitMax:    2400 * time.Millisecond,
		RetryStatuses:   []int{http.StatusInternalServerError, http.StatusBadGateway, http.StatusGatewayTimeout},
		MaxRedirects:    5,
	}
}

func (tc *TransportConfig) applyDefaults() {
	def := DefaultTransportConfig()
	if tc.MaxIdleConns <= 0 {
		tc.MaxIdleConns = def.MaxIdleConns
	}
	if tc.MaxConnsPerHost <= 0 {
		tc.MaxConnsPerHost = def.MaxConnsPerHost
	}
	if tc.IdleConnTimeout <= 0 {
		tc.IdleConnTimeout = def.IdleConnTimeout
	}
	if tc.MaxRetries < 0 {
		tc.MaxRetries = 0
	}
	if tc.RetryWaitMin <= 0 {
		tc.RetryWaitMin = def.RetryWaitMin
	}
	if tc.RetryWaitMax < tc.RetryWaitMin {
		tc.RetryWaitMax = def.RetryWaitMax
		if tc.RetryWaitMax < tc.RetryWaitMin {
			tc.RetryWaitMax = tc.RetryWaitMin
		}
	}
	if tc.RetryStatuses == nil {
		tc.RetryStatuses = def.RetryStatuses
	}
	if tc.MaxRedirects <= 0 {
		tc.MaxRedirects = def.MaxRedirects
	}
}

// DefaultConfig returns a Config with defaults for everything but the
// credentials:
//   - Domain: gw.api.taobao.com over http
//   - Sign method: hmac
//   - Attempts: 5 per call
//   - Timeouts: 5s, or 20s with file parameters
//
// Example:
//
//	config := sdk.DefaultConfig().WithCredentials(appKey, appSecret)
//	client, err := sdk.NewClient(config)
func DefaultConfig() *Config {
	return &Config{
		Domain:          DefaultDomain,
		SignMethod:      SignHMAC,
		HTTPMethod:      http.MethodPost,
		RetryCount:      5,
		Backoff:         DefaultExponentialBackoff(),
		ShortTimeout:    5 * time.Second,
		LongTimeout:     20 * time.Second,
		TransportConfig: DefaultTransportConfig(),
		Observer:        &NoopObserver{},
	}
}

// WithCredentials sets the app key and secret
func (c *Config) WithCredentials(appKey, appSecret string) *Config {
	c.AppKey = appKey
	c.AppSecret = appSecret
	return c
}

// WithDomain sets the gateway domain.
//
// Example:
//
//	config := sdk.DefaultConfig().
//	    WithDomain("https://eco.taobao.com")
func (c *Config) WithDomain(domain string) *Config {
	c.Domain = domain
	return c
}

// WithSignMethod sets the signature algorithm
func (c *Config) WithSignMethod(method SignMethod) *Config {
	c.SignMethod = method
	return c
}

// WithHTTPMethod sets whether calls are sent as GET or POST
func (c *Config) WithHTTPMethod(method string) *Config {
	c.HTTPMethod = method
	return c
}

// WithTransport replaces the HTTP transport
func (c *Config) WithTransport(t Transport) *Config {
	c.Transport = t
	return c
}

// WithRetrySubCodes adds retryable sub-codes on top of the defaults.
//
// Example:
//
//	config := sdk.DefaultConfig().
//	    WithRetrySubCodes("isv.item-is-locked", "isp.my-flaky-error")
func (c *Config) WithRetrySubCodes(codes ...string) *Config {
	c.RetrySubCodes = append(c.RetrySubCodes, codes...)
	return c
}

// WithRetryCount sets the number of attempts per call
func (c *Config) WithRetryCount(n int) *Config {
	c.RetryCount = n
	return c
}

// WithBackoff sets the rate-limit backoff strategy
func (c *Config) WithBackoff(b BackoffStrategy) *Config {
	c.Backoff = b
	return c
}

// WithTimeouts sets the per-attempt timeouts without and with files
func (c *Config) WithTimeouts(short, long time.Duration) *Config {
	c.ShortTimeout = short
	c.LongTimeout = long
	return c
}

// WithLogger sets the call logger.
//
// Example:
//
//	logger := logrus.New()
//	logger.SetLevel(logrus.DebugLevel)
//	config := sdk.DefaultConfig().WithLogger(logger)
func (c *Config) WithLogger(logger logrus.FieldLogger) *Config {
	c.Logger = logger
	return c
}

// WithObserver sets a custom observer for monitoring calls
func (c *Config) WithObserver(observer Observer) *Config {
	c.Observer = observer
	return c
}

// WithRateLimit waits on a token bucket of r calls per second with the given
// burst before every attempt.
func (c *Config) WithRateLimit(r float64, burst int) *Config {
	if burst < 1 {
		burst = 1
	}
	c.RateLimiter = rate.NewLimiter(rate.Limit(r), burst)
	return c
}

// Validate validates the configuration and sets defaults for missing values.
// This is called automatically by NewClient.
func (c *Config) Validate() error {
	if c.AppKey == "" {
		return fmt.Errorf("%w: app key is required", ErrInvalidConfig)
	}
	if c.AppSecret == "" {
		return fmt.Errorf("%w: app secret is required", ErrInvalidConfig)
	}
	if c.Domain == "" {
		c.Domain = DefaultDomain
	}
	if c.SignMethod == "" {
		c.SignMethod = SignHMAC
	}
	if !c.SignMethod.Valid() {
		return fmt.Errorf("%w: unsupported sign method %q", ErrInvalidConfig, c.SignMethod)
	}
	switch c.HTTPMethod {
	case "":
		c.HTTPMethod = http.MethodPost
	case http.MethodGet, http.MethodPost:
	default:
		return fmt.Errorf("%w: unsupported HTTP method %q", ErrInvalidConfig, c.HTTPMethod)
	}
	if c.RetryCount == 0 {
		c.RetryCount = 5
	}
	if c.RetryCount < 0 {
		c.RetryCount = 1
	}
	if c.Backoff == nil {
		c.Backoff = DefaultExponentialBackoff()
	}
	if c.ShortTimeout <= 0 {
		c.ShortTimeout = 5 * time.Second
	}
	if c.LongTimeout <= 0 {
		c.LongTimeout = 20 * time.Second
	}
	c.TransportConfig.applyDefaults()
	if c.Logger == nil {
		c.Logger = newDiscardLogger()
	}
	if c.Observer == nil {
		c.Observer = &NoopObserver{}
	}
	return nil
}
