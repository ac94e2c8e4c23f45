// Package metrics provides Prometheus metrics for the capture loop, the
// session and the ffmpeg encoder.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	encoderFPS = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "browsercast",
		Subsystem: "encoder",
		Name:      "fps",
		Help:      "Current ffmpeg encoding FPS",
	})

	encoderSpeed = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "browsercast",
		Subsystem: "encoder",
		Name:      "processing_speed",
		Help:      "ffmpeg processing speed multiplier",
	})

	encoderFrames = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "browsercast",
		Subsystem: "encoder",
		Name:      "frames",
		Help:      "Frames encoded by the current ffmpeg process",
	})

	encoderDroppedFrames = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "browsercast",
		Subsystem: "encoder",
		Name:      "dropped_frames_total",
		Help:      "Frames dropped by the current ffmpeg process",
	})

	encoderDuplicateFrames = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "browsercast",
		Subsystem: "encoder",
		Name:      "duplicate_frames_total",
		Help:      "Frames duplicated by the current ffmpeg process",
	})

	encoderRunning = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "browsercast",
		Subsystem: "encoder",
		Name:      "running",
		Help:      "1 while an ffmpeg process is accepting frames",
	})

	encoderStarts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "browsercast",
		Subsystem: "encoder",
		Name:      "starts_total",
		Help:      "Successful encoder launches by protocol",
	}, []string{"protocol"})

	encoderFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "browsercast",
		Subsystem: "encoder",
		Name:      "failures_total",
		Help:      "Encoder failures by error code",
	}, []string{"code"})

	// Local cache for SSE exporter access.
	encoderCache   EncoderMetrics
	encoderCacheMu sync.RWMutex
)

// EncoderMetrics holds current metric values for the running encoder.
type EncoderMetrics struct {
	Running         bool
	Frames          float64
	FPS             float64
	Speed           float64
	DroppedFrames   float64
	DuplicateFrames float64
}

// SetEncoderProgress records one ffmpeg progress block.
func SetEncoderProgress(frames, fps, speed, dropped, dup float64) {
	encoderFrames.Set(frames)
	encoderFPS.Set(fps)
	encoderSpeed.Set(speed)
	encoderDroppedFrames.Set(dropped)
	encoderDuplicateFrames.Set(dup)

	encoderCacheMu.Lock()
	encoderCache.Frames = frames
	encoderCache.FPS = fps
	encoderCache.Speed = speed
	encoderCache.DroppedFrames = dropped
	encoderCache.DuplicateFrames = dup
	encoderCacheMu.Unlock()
}

// SetEncoderRunning flips the running gauge. Stopping clears progress.
func SetEncoderRunning(running bool) {
	encoderCacheMu.Lock()
	defer encoderCacheMu.Unlock()
	if running {
		encoderRunning.Set(1)
		encoderCache.Running = true
		return
	}
	encoderRunning.Set(0)
	encoderFrames.Set(0)
	encoderFPS.Set(0)
	encoderSpeed.Set(0)
	encoderDroppedFrames.Set(0)
	encoderDuplicateFrames.Set(0)
	encoderCache = EncoderMetrics{}
}

// RecordEncoderStart counts a successful launch.
func RecordEncoderStart(protocol string) {
	encoderStarts.WithLabelValues(protocol).Inc()
}

// RecordEncoderFailure counts a launch or delivery failure.
func RecordEncoderFailure(code string) {
	encoderFailures.WithLabelValues(code).Inc()
}

// GetEncoderMetrics returns current encoder metric values.
func GetEncoderMetrics() EncoderMetrics {
	encoderCacheMu.RLock()
	defer encoderCacheMu.RUnlock()
	return encoderCache
}
