package sdk

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// callLogMessage is the message of every per-attempt log entry.
const callLogMessage = "TOP_API_CALL"

// infoMethodPrefixes are logged at Info instead of Debug.
var infoMethodPrefixes = []string{"taobao.ump", "taobao.promotion"}

// newDiscardLogger returns the default library logger, which writes nothing.
func newDiscardLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

// callLogger writes one entry per completed attempt. It never affects the
// outcome of a call.
type callLogger struct {
	log logrus.FieldLogger
}

// attempt logs a completed attempt. resp may be nil when the transport
// failed.
func (l *callLogger) attempt(callID string, attempt int, elapsed time.Duration, req *SignedRequest, resp Response, transportErr error) {
	fields := logrus.Fields{
		"call_id":    callID,
		"attempt":    attempt,
		"elapsed_ms": elapsed.Milliseconds(),
		"method":     req.Method(),
		"input":      req.Render(),
	}
	if transportErr != nil {
		fields["error"] = transportErr.Error()
		l.log.WithFields(fields).Warn(callLogMessage)
		return
	}
	fields["output"] = renderPayload(resp)

	entry := l.log.WithFields(fields)
	switch _, failed := resp[errorResponseKey]; {
	case failed:
		entry.Warn(callLogMessage)
	case hasInfoPrefix(req.Method()):
		entry.Info(callLogMessage)
	default:
		entry.Debug(callLogMessage)
	}
}

// backoff logs a rate-limit sleep.
func (l *callLogger) backoff(callID, method string, delay time.Duration) {
	l.log.WithFields(logrus.Fields{
		"call_id": callID,
		"method":  method,
		"sleep":   delay.String(),
	}).Warn("meet access-control, sleeping")
}

func hasInfoPrefix(method string) bool {
	for _, prefix := range infoMethodPrefixes {
		if strings.HasPrefix(method, prefix) {
			return true
		}
	}
	return false
}

func renderPayload(resp Response) string {
	data, err := renderJSON(resp)
	if err != nil {
		return fmt.Sprintf("%v", map[string]interface{}(resp))
	}
	return data
}
