package telemetry

import (
	"context"
	"io"
	"sync"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/trace"
)

var (
	mu     sync.RWMutex
	logger *logrus.Entry
)

// NewLogger builds a logger writing to out. Unknown levels fall back to
// info; LogFormat "text" selects the logrus text formatter, anything else
// JSON.
func NewLogger(cfg *Config, out io.Writer) *logrus.Entry {
	base := logrus.New()
	base.SetOutput(out)

	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	base.SetLevel(level)

	if cfg.LogFormat == "text" {
		base.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		base.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime:  "@timestamp",
				logrus.FieldKeyLevel: "level",
				logrus.FieldKeyMsg:   "message",
			},
		})
	}

	return base.WithFields(logrus.Fields{
		"service.name":    cfg.ServiceName,
		"service.version": cfg.ServiceVersion,
		"environment":     cfg.Environment,
	})
}

// InitLogger installs the process logger
func InitLogger(cfg *Config, out io.Writer) *logrus.Entry {
	l := NewLogger(cfg, out)
	mu.Lock()
	logger = l
	mu.Unlock()
	return l
}

// L returns the process logger, or the logrus standard logger before
// InitLogger.
func L() *logrus.Entry {
	mu.RLock()
	defer mu.RUnlock()
	if logger == nil {
		return logrus.NewEntry(logrus.StandardLogger())
	}
	return logger
}

// WithContext adds trace information to the logger
func WithContext(ctx context.Context) *logrus.Entry {
	entry := L().WithContext(ctx)

	span := trace.SpanFromContext(ctx)
	if span.SpanContext().IsValid() {
		entry = entry.WithFields(logrus.Fields{
			"trace.id": span.SpanContext().TraceID().String(),
			"span.id":  span.SpanContext().SpanID().String(),
		})
	}

	return entry
}
