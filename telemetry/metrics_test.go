package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func TestHistogramsInitialized(t *testing.T) {
	Init()

	if PublishDuration == nil {
		t.Error("PublishDuration histogram not initialized")
	}
	if CycleDuration == nil {
		t.Error("CycleDuration histogram not initialized")
	}
}

func TestCountersInitialized(t *testing.T) {
	Init()

	counters := []struct {
		name string
		c    prometheus.Counter
	}{
		{"PublishCycles", PublishCycles},
		{"PublishesSucceeded", PublishesSucceeded},
		{"PublishesFailed", PublishesFailed},
		{"TokenRefreshes", TokenRefreshes},
		{"TokenRefreshFailures", TokenRefreshFailures},
		{"SamplesWritten", SamplesWritten},
		{"SampleWriteFailures", SampleWriteFailures},
	}
	for _, tc := range counters {
		if tc.c == nil {
			t.Errorf("%s counter not initialized", tc.name)
		}
	}
}

func TestInitIdempotent(t *testing.T) {
	Init()
	first := PublishCycles
	Init() // second call must not re-register or replace
	if PublishCycles != first {
		t.Error("Init replaced metrics on second call")
	}
}

func TestTimeFuncRecordsObservation(t *testing.T) {
	Init()

	d := TimeFunc(PublishDuration, func() { time.Sleep(5 * time.Millisecond) })
	if d < 5*time.Millisecond {
		t.Errorf("TimeFunc returned %v, want >= 5ms", d)
	}
	// nil observer must not panic
	TimeFunc(nil, func() {})
}

func TestGaugesTolerateNil(t *testing.T) {
	// Before Init in a fresh process these would be nil; the setters guard.
	SetDueQueueDepth(3)
	SetSchedulerRunning(true)
	SetSchedulerRunning(false)
}

func TestCorrelationRoundTrip(t *testing.T) {
	ctx := WithCorrelation(context.Background(), "abc-123")
	if got := GetCorrelation(ctx); got != "abc-123" {
		t.Errorf("GetCorrelation = %q, want abc-123", got)
	}
	if got := GetCorrelation(context.Background()); got != "" {
		t.Errorf("GetCorrelation on empty ctx = %q, want empty", got)
	}
	if l := LoggerWithCorr(ctx); l == nil {
		t.Error("LoggerWithCorr returned nil")
	}
}
