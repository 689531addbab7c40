// Package audit publishes a record of every TOP call attempt to NATS.
package audit

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"

	"github.com/birbparty/taobao-top/sdk"
)

// AttemptRecord is published for every attempt
type AttemptRecord struct {
	CallID     string    `json:"call_id"`
	Method     string    `json:"method"`
	Attempt    int       `json:"attempt"`
	DurationMS int64     `json:"duration_ms"`
	Code       int       `json:"code,omitempty"`
	SubCode    string    `json:"sub_code,omitempty"`
	RequestID  string    `json:"request_id,omitempty"`
	Error      string    `json:"error,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// CallRecord is published when a logical call ends
type CallRecord struct {
	CallID     string    `json:"call_id"`
	Method     string    `json:"method"`
	Attempts   int       `json:"attempts"`
	DurationMS int64     `json:"duration_ms"`
	Error      string    `json:"error,omitempty"`
	SubCode    string    `json:"sub_code,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// Publisher implements sdk.Observer by publishing call records. Publishing
// never blocks a call: failures are logged and dropped.
type Publisher struct {
	nc     *nats.Conn
	config *Config
	log    logrus.FieldLogger
	owned  bool
}

// Connect dials NATS and returns a publisher owning the connection
func Connect(config *Config, log logrus.FieldLogger) (*Publisher, error) {
	opts := []nats.Option{
		nats.Name(config.Name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				log.WithError(err).Warn("NATS disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.WithField("url", nc.ConnectedUrl()).Info("NATS reconnected")
		}),
	}
	if config.User != "" && config.Password != "" {
		opts = append(opts, nats.UserInfo(config.User, config.Password))
	}

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	p, err := NewPublisher(nc, config, log)
	if err != nil {
		nc.Close()
		return nil, err
	}
	p.owned = true
	return p, nil
}

// NewPublisher publishes on an existing connection. When config.Stream is
// set the stream is created or updated first.
func NewPublisher(nc *nats.Conn, config *Config, log logrus.FieldLogger) (*Publisher, error) {
	p := &Publisher{nc: nc, config: config, log: log}
	if config.Stream != "" {
		if err := p.ensureStream(); err != nil {
			return nil, err
		}
	}
	return p, nil
}

func (p *Publisher) ensureStream() error {
	js, err := p.nc.JetStream()
	if err != nil {
		return fmt.Errorf("failed to create JetStream context: %w", err)
	}

	cfg := &nats.StreamConfig{
		Name:        p.config.Stream,
		Description: "TOP call audit records",
		Subjects:    []string{p.config.SubjectPrefix + ".>"},
		Retention:   nats.LimitsPolicy,
		MaxAge:      p.config.StreamMaxAge,
		Storage:     nats.FileStorage,
	}
	if _, err := js.AddStream(cfg); err != nil {
		if _, err = js.UpdateStream(cfg); err != nil {
			return fmt.Errorf("failed to create/update audit stream: %w", err)
		}
	}
	return nil
}

// CallSubject is the subject of call records
func (p *Publisher) CallSubject() string {
	return p.config.SubjectPrefix + ".call"
}

// AttemptSubject is the subject of attempt records
func (p *Publisher) AttemptSubject() string {
	return p.config.SubjectPrefix + ".attempt"
}

func (p *Publisher) publish(subject string, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		p.log.WithError(err).Warn("failed to encode audit record")
		return
	}
	if err := p.nc.Publish(subject, data); err != nil {
		p.log.WithError(err).WithField("subject", subject).Warn("failed to publish audit record")
	}
}

// OnCallStart implements sdk.Observer
func (p *Publisher) OnCallStart(method string) {}

// OnAttempt implements sdk.Observer
func (p *Publisher) OnAttempt(event sdk.AttemptEvent) {
	rec := AttemptRecord{
		CallID:     event.CallID,
		Method:     event.Method,
		Attempt:    event.Attempt,
		DurationMS: event.Duration.Milliseconds(),
		Code:       event.Code,
		SubCode:    event.SubCode,
		RequestID:  event.RequestID,
		Timestamp:  time.Now().UTC(),
	}
	if event.Err != nil {
		rec.Error = event.Err.Error()
	}
	p.publish(p.AttemptSubject(), rec)
}

// OnRetry implements sdk.Observer
func (p *Publisher) OnRetry(method string, attempt int, delay time.Duration, err *sdk.APIError) {}

// OnCallEnd implements sdk.Observer
func (p *Publisher) OnCallEnd(callID, method string, attempts int, duration time.Duration, err error) {
	rec := CallRecord{
		CallID:     callID,
		Method:     method,
		Attempts:   attempts,
		DurationMS: duration.Milliseconds(),
		Timestamp:  time.Now().UTC(),
	}
	if err != nil {
		rec.Error = err.Error()
		if apiErr, ok := sdk.AsAPIError(err); ok {
			rec.SubCode = apiErr.SubCode
		}
	}
	p.publish(p.CallSubject(), rec)
}

// Flush waits until published records reached the server
func (p *Publisher) Flush() error {
	return p.nc.Flush()
}

// Close flushes pending records and closes an owned connection
func (p *Publisher) Close() error {
	if !p.owned {
		return p.nc.Flush()
	}
	return p.nc.Drain()
}
