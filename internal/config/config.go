// Package config loads topctl and topgateway settings from the environment.
// A .env file in the working directory is read first when present; real
// environment variables win over it.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/birbparty/taobao-top/internal/audit"
	"github.com/birbparty/taobao-top/internal/session"
	"github.com/birbparty/taobao-top/internal/telemetry"
	"github.com/birbparty/taobao-top/sdk"
	"github.com/birbparty/taobao-top/sdk/fasttransport"
)

// Transport names accepted by TOP_TRANSPORT
const (
	TransportHTTP     = "http"
	TransportFastHTTP = "fasthttp"
)

// Config holds the settings of both binaries
type Config struct {
	AppKey        string        `env:"TOP_APP_KEY"`
	AppSecret     string        `env:"TOP_APP_SECRET"`
	Domain        string        `env:"TOP_DOMAIN" envDefault:"gw.api.taobao.com"`
	SignMethod    string        `env:"TOP_SIGN_METHOD" envDefault:"hmac"`
	HTTPMethod    string        `env:"TOP_HTTP_METHOD" envDefault:"POST"`
	RetryCount    int           `env:"TOP_RETRY_COUNT" envDefault:"5"`
	RetrySubCodes []string      `env:"TOP_RETRY_SUB_CODES" envSeparator:","`
	RateLimit     float64       `env:"TOP_RATE_LIMIT" envDefault:"0"`
	RateBurst     int           `env:"TOP_RATE_BURST" envDefault:"1"`
	ShortTimeout  time.Duration `env:"TOP_TIMEOUT" envDefault:"5s"`
	LongTimeout   time.Duration `env:"TOP_UPLOAD_TIMEOUT" envDefault:"20s"`
	Transport     string        `env:"TOP_TRANSPORT" envDefault:"http"`

	RedisEnabled bool `env:"REDIS_ENABLED" envDefault:"false"`
	Redis        session.Config

	NATSEnabled bool `env:"NATS_ENABLED" envDefault:"false"`
	NATS        audit.Config

	Telemetry telemetry.Config
	Gateway   GatewayConfig
}

// GatewayConfig configures the mock gateway binary
type GatewayConfig struct {
	Addr string `env:"GATEWAY_ADDR" envDefault:":8080"`
	// Apps maps app keys to secrets, e.g. "12345678:secret,23456789:other"
	Apps map[string]string `env:"GATEWAY_APPS" envSeparator:"," envKeyValSeparator:":"`
	// Latency is added to every answer
	Latency time.Duration `env:"GATEWAY_LATENCY" envDefault:"0s"`
}

// Load reads the given dotenv files, or .env when none are named, and then
// parses the environment. Missing dotenv files are ignored.
func Load(files ...string) (*Config, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load %s: %w", f, err)
		}
	}
	return Parse(env.Options{})
}

// Parse parses the configuration with the given env options. Tests pass
// Options.Environment to avoid touching the process environment.
func Parse(opts env.Options) (*Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}
	switch cfg.Transport {
	case TransportHTTP, TransportFastHTTP:
	default:
		return nil, fmt.Errorf("%w: unknown transport %q", sdk.ErrInvalidConfig, cfg.Transport)
	}
	return &cfg, nil
}

// SDK converts the settings into a client config. The caller still owns
// observer wiring.
func (c *Config) SDK(log logrus.FieldLogger) *sdk.Config {
	config := sdk.DefaultConfig().
		WithCredentials(c.AppKey, c.AppSecret).
		WithDomain(c.Domain).
		WithSignMethod(sdk.SignMethod(c.SignMethod)).
		WithHTTPMethod(c.HTTPMethod).
		WithRetryCount(c.RetryCount).
		WithRetrySubCodes(c.RetrySubCodes...).
		WithTimeouts(c.ShortTimeout, c.LongTimeout).
		WithLogger(log)

	if c.RateLimit > 0 {
		config.WithRateLimit(c.RateLimit, c.RateBurst)
	}
	if c.Transport == TransportFastHTTP {
		config.WithTransport(fasttransport.New(fasttransport.Config{}))
	}
	return config
}
