package sdk

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"
)

// executor runs the attempt loop of one logical call: send, decode,
// classify, and either return, retry or fail.
type executor struct {
	policy       *RetryPolicy
	shortTimeout time.Duration
	longTimeout  time.Duration
	limiter      *rate.Limiter
	observer     Observer
	log          *callLogger
	sleep        func(ctx context.Context, d time.Duration) error
}

// run sends req until it succeeds, fails permanently or runs out of
// attempts. It returns the number of attempts made.
func (e *executor) run(ctx context.Context, transport Transport, callID string, req *SignedRequest) (Response, int, error) {
	timeout := e.shortTimeout
	if req.HasFiles() {
		timeout = e.longTimeout
	}
	span := trace.SpanFromContext(ctx)

	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, attempt - 1, fmt.Errorf("call %s aborted: %w", req.Method(), err)
		}
		if e.limiter != nil {
			if err := e.limiter.Wait(ctx); err != nil {
				return nil, attempt - 1, fmt.Errorf("rate limiter wait failed: %w", err)
			}
		}
		if err := req.Rewind(); err != nil {
			return nil, attempt - 1, err
		}

		start := time.Now()
		body, err := transport.Do(ctx, req, timeout)
		elapsed := time.Since(start)

		if err != nil {
			err = asTransportError(req, err)
			e.log.attempt(callID, attempt, elapsed, req, nil, err)
			e.observer.OnAttempt(AttemptEvent{
				CallID:   callID,
				Method:   req.Method(),
				Attempt:  attempt,
				Duration: elapsed,
				Err:      err,
			})
			span.AddEvent("attempt", trace.WithAttributes(
				attribute.Int("top.attempt", attempt),
				attribute.String("top.error", err.Error()),
			))
			return nil, attempt, err
		}

		resp := decodeResponse(body)
		e.log.attempt(callID, attempt, elapsed, req, resp, nil)

		section, failed := resp.errorSection()
		if !failed {
			e.observer.OnAttempt(AttemptEvent{
				CallID:   callID,
				Method:   req.Method(),
				Attempt:  attempt,
				Duration: elapsed,
			})
			span.AddEvent("attempt", trace.WithAttributes(attribute.Int("top.attempt", attempt)))
			return resp, attempt, nil
		}

		apiErr := newAPIError(section, req, attempt)
		e.observer.OnAttempt(AttemptEvent{
			CallID:    callID,
			Method:    req.Method(),
			Attempt:   attempt,
			Duration:  elapsed,
			Code:      apiErr.Code,
			SubCode:   apiErr.SubCode,
			RequestID: apiErr.RequestID,
		})
		span.AddEvent("attempt", trace.WithAttributes(
			attribute.Int("top.attempt", attempt),
			attribute.Int("top.code", apiErr.Code),
			attribute.String("top.sub_code", apiErr.SubCode),
		))

		switch e.policy.classify(apiErr.SubCode, attempt) {
		case decideRetry:
			e.observer.OnRetry(req.Method(), attempt, 0, apiErr)
		case decideBackoff:
			delay := e.policy.Backoff.NextInterval(attempt)
			e.log.backoff(callID, req.Method(), delay)
			e.observer.OnRetry(req.Method(), attempt, delay, apiErr)
			if err := e.sleep(ctx, delay); err != nil {
				return nil, attempt, fmt.Errorf("call %s aborted during backoff: %w", req.Method(), err)
			}
		default:
			return nil, attempt, apiErr
		}
	}
}

// asTransportError wraps a transport failure unless it already is one.
func asTransportError(req *SignedRequest, err error) error {
	var tErr *TransportError
	if errors.As(err, &tErr) {
		return err
	}
	return &TransportError{Op: req.HTTPMethod + " " + req.URL, Err: err}
}

// sleepContext waits for d or until ctx is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
