package sdk

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type panicObserver struct {
	NoopObserver
}

func (p *panicObserver) OnCallStart(method string) {
	panic("observer failure")
}

func TestMetricsCollector(t *testing.T) {
	metrics := NewMetricsCollector()

	metrics.OnCallStart("taobao.item.get")
	metrics.OnAttempt(AttemptEvent{Method: "taobao.item.get", Attempt: 1, SubCode: SubCodeCallLimited})
	metrics.OnRetry("taobao.item.get", 1, 100*time.Millisecond, &APIError{SubCode: SubCodeCallLimited})
	metrics.OnAttempt(AttemptEvent{Method: "taobao.item.get", Attempt: 2})
	metrics.OnCallEnd("call-1", "taobao.item.get", 2, 150*time.Millisecond, nil)

	metrics.OnCallStart("taobao.trade.get")
	metrics.OnAttempt(AttemptEvent{Method: "taobao.trade.get", Attempt: 1, SubCode: "isv.invalid-parameter"})
	metrics.OnCallEnd("call-1", "taobao.trade.get", 1, 10*time.Millisecond, errors.New("failed"))

	snapshot := metrics.GetMetrics()
	assert.Equal(t, int64(1), snapshot["calls"].(map[string]int64)["taobao.item.get"])
	assert.Equal(t, int64(2), snapshot["attempts"].(map[string]int64)["taobao.item.get"])
	assert.Equal(t, int64(1), snapshot["retries"].(map[string]int64)["taobao.item.get"])
	assert.Equal(t, int64(1), snapshot["errors"].(map[string]int64)["taobao.trade.get"])
	assert.Zero(t, snapshot["errors"].(map[string]int64)["taobao.item.get"])
	assert.Equal(t, int64(1), snapshot["sub_codes"].(map[string]int64)[SubCodeCallLimited])
	assert.Equal(t, []time.Duration{150 * time.Millisecond}, snapshot["latencies"].(map[string][]time.Duration)["taobao.item.get"])

	// Snapshots are detached from the collector.
	snapshot["calls"].(map[string]int64)["taobao.item.get"] = 99
	assert.Equal(t, int64(1), metrics.GetMetrics()["calls"].(map[string]int64)["taobao.item.get"])
}

func TestCompositeObserver(t *testing.T) {
	first := NewMetricsCollector()
	second := NewMetricsCollector()
	composite := NewCompositeObserver(first, nil, &panicObserver{}, second)

	assert.NotPanics(t, func() {
		composite.OnCallStart("taobao.time.get")
	})
	composite.OnAttempt(AttemptEvent{Method: "taobao.time.get", Attempt: 1})
	composite.OnRetry("taobao.time.get", 1, 0, nil)
	composite.OnCallEnd("call-1", "taobao.time.get", 1, time.Millisecond, nil)

	for _, m := range []*MetricsCollector{first, second} {
		snapshot := m.GetMetrics()
		assert.Equal(t, int64(1), snapshot["calls"].(map[string]int64)["taobao.time.get"])
		assert.Equal(t, int64(1), snapshot["attempts"].(map[string]int64)["taobao.time.get"])
		assert.Equal(t, int64(1), snapshot["retries"].(map[string]int64)["taobao.time.get"])
	}
}

func TestAttemptEvent_Failed(t *testing.T) {
	assert.False(t, AttemptEvent{}.Failed())
	assert.True(t, AttemptEvent{SubCode: "isv.invalid-parameter"}.Failed())
	assert.True(t, AttemptEvent{Err: errors.New("reset")}.Failed())
}
