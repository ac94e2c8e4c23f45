package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	captureTicks = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "browsercast",
		Subsystem: "capture",
		Name:      "ticks_total",
		Help:      "Capture loop ticks by outcome",
	}, []string{"outcome"})

	captureDrops = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "browsercast",
		Subsystem: "capture",
		Name:      "dropped_total",
		Help:      "Dropped ticks by reason",
	}, []string{"reason"})

	captureTickDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "browsercast",
		Subsystem: "capture",
		Name:      "tick_duration_seconds",
		Help:      "Time spent capturing, normalizing and delivering one frame",
		Buckets:   []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5},
	})

	sessionState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "browsercast",
		Subsystem: "session",
		Name:      "state",
		Help:      "1 for the current session state",
	}, []string{"state"})

	sessionStateMu   sync.Mutex
	currentSessState string
)

// RecordTick counts one loop tick. reason is only used for dropped ticks.
func RecordTick(outcome, reason string, d time.Duration) {
	captureTicks.WithLabelValues(outcome).Inc()
	if reason != "" {
		captureDrops.WithLabelValues(reason).Inc()
	}
	captureTickDuration.Observe(d.Seconds())
}

// SetSessionState marks state as current and clears the previous one.
func SetSessionState(state string) {
	sessionStateMu.Lock()
	defer sessionStateMu.Unlock()
	if currentSessState != "" && currentSessState != state {
		sessionState.WithLabelValues(currentSessState).Set(0)
	}
	sessionState.WithLabelValues(state).Set(1)
	currentSessState = state
}
