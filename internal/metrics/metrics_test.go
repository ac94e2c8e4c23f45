package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestEncoderMetricsCache(t *testing.T) {
	SetEncoderRunning(false)

	if m := GetEncoderMetrics(); m.Running || m.FPS != 0 {
		t.Errorf("expected zero metrics, got %+v", m)
	}

	SetEncoderRunning(true)
	SetEncoderProgress(120, 9.5, 0.98, 2, 1)

	m := GetEncoderMetrics()
	if !m.Running {
		t.Error("expected running")
	}
	if m.Frames != 120 || m.FPS != 9.5 || m.Speed != 0.98 {
		t.Errorf("progress = %+v", m)
	}
	if m.DroppedFrames != 2 || m.DuplicateFrames != 1 {
		t.Errorf("drop/dup = %+v", m)
	}
	if got := testutil.ToFloat64(encoderFPS); got != 9.5 {
		t.Errorf("fps gauge = %v, want 9.5", got)
	}

	// Returned value is a copy
	m.FPS = 999
	if GetEncoderMetrics().FPS != 9.5 {
		t.Error("cache was modified through returned value")
	}

	SetEncoderRunning(false)
	if m := GetEncoderMetrics(); m.Running || m.Frames != 0 {
		t.Errorf("expected cleared metrics after stop, got %+v", m)
	}
	if got := testutil.ToFloat64(encoderRunning); got != 0 {
		t.Errorf("running gauge = %v, want 0", got)
	}
}

func TestEncoderCounters(t *testing.T) {
	before := testutil.ToFloat64(encoderFailures.WithLabelValues("PIPE_BROKEN"))
	RecordEncoderFailure("PIPE_BROKEN")
	RecordEncoderFailure("PIPE_BROKEN")
	if got := testutil.ToFloat64(encoderFailures.WithLabelValues("PIPE_BROKEN")); got != before+2 {
		t.Errorf("failures = %v, want %v", got, before+2)
	}

	starts := testutil.ToFloat64(encoderStarts.WithLabelValues("file"))
	RecordEncoderStart("file")
	if got := testutil.ToFloat64(encoderStarts.WithLabelValues("file")); got != starts+1 {
		t.Errorf("starts = %v, want %v", got, starts+1)
	}
}

func TestRecordTick(t *testing.T) {
	delivered := testutil.ToFloat64(captureTicks.WithLabelValues("delivered"))
	dropped := testutil.ToFloat64(captureTicks.WithLabelValues("dropped"))
	decode := testutil.ToFloat64(captureDrops.WithLabelValues("decode"))

	RecordTick("delivered", "", 20*time.Millisecond)
	RecordTick("dropped", "decode", 5*time.Millisecond)

	if got := testutil.ToFloat64(captureTicks.WithLabelValues("delivered")); got != delivered+1 {
		t.Errorf("delivered = %v, want %v", got, delivered+1)
	}
	if got := testutil.ToFloat64(captureTicks.WithLabelValues("dropped")); got != dropped+1 {
		t.Errorf("dropped = %v, want %v", got, dropped+1)
	}
	if got := testutil.ToFloat64(captureDrops.WithLabelValues("decode")); got != decode+1 {
		t.Errorf("decode drops = %v, want %v", got, decode+1)
	}
}

func TestSetSessionState(t *testing.T) {
	SetSessionState("active")
	SetSessionState("delivering")

	if got := testutil.ToFloat64(sessionState.WithLabelValues("delivering")); got != 1 {
		t.Errorf("delivering = %v, want 1", got)
	}
	if got := testutil.ToFloat64(sessionState.WithLabelValues("active")); got != 0 {
		t.Errorf("active = %v, want 0", got)
	}

	SetSessionState("idle")
	if got := testutil.ToFloat64(sessionState.WithLabelValues("delivering")); got != 0 {
		t.Errorf("delivering after idle = %v, want 0", got)
	}
}
