package audit

import "time"

// Config holds NATS settings for the call audit stream
type Config struct {
	URL      string `env:"NATS_URL" envDefault:"nats://localhost:4222"`
	Name     string `env:"NATS_CLIENT_NAME" envDefault:"taobao-top"`
	User     string `env:"NATS_USER"`
	Password string `env:"NATS_PASSWORD"`

	// SubjectPrefix is prepended to "call" and "attempt"
	SubjectPrefix string `env:"NATS_SUBJECT_PREFIX" envDefault:"top.audit"`

	// Stream, when set, is created as a JetStream stream capturing every
	// audit subject
	Stream       string        `env:"NATS_STREAM"`
	StreamMaxAge time.Duration `env:"NATS_STREAM_MAX_AGE" envDefault:"168h"`
}
