package exporters

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/smazurov/browsercast/internal/events"
	"github.com/smazurov/browsercast/internal/metrics"
)

// EventPublisher interface for publishing events.
type EventPublisher interface {
	Publish(ev events.Event)
}

// PipelineStats are the capture counters sampled on each export.
type PipelineStats struct {
	State    string
	Ticks    uint64
	Captured uint64
	Dropped  uint64
	Sent     uint64
}

// StatsFunc samples the current pipeline counters.
type StatsFunc func() PipelineStats

// SSEExporter periodically publishes pipeline metrics as events.
type SSEExporter struct {
	eventBus EventPublisher
	stats    StatsFunc
	interval time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewSSEExporter creates a new SSE exporter.
func NewSSEExporter(eventBus EventPublisher, stats StatsFunc) *SSEExporter {
	return &SSEExporter{
		eventBus: eventBus,
		stats:    stats,
		interval: 1 * time.Second,
	}
}

// Start begins the SSE export loop.
func (s *SSEExporter) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go s.run(ctx)
}

// Stop stops the SSE exporter and waits for the goroutine to finish.
func (s *SSEExporter) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
}

func (s *SSEExporter) run(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.publishMetrics()
		}
	}
}

func (s *SSEExporter) publishMetrics() {
	var st PipelineStats
	if s.stats != nil {
		st = s.stats()
	}
	em := metrics.GetEncoderMetrics()
	s.eventBus.Publish(events.PipelineMetricsEvent{
		EventType:    "pipeline_metrics",
		State:        st.State,
		Ticks:        st.Ticks,
		Captured:     st.Captured,
		Dropped:      st.Dropped,
		Sent:         st.Sent,
		EncoderFPS:   strconv.FormatFloat(em.FPS, 'f', 2, 64),
		EncoderSpeed: strconv.FormatFloat(em.Speed, 'f', 2, 64),
		EncoderDrops: strconv.FormatFloat(em.DroppedFrames, 'f', 0, 64),
	})
}

// GetEventTypes returns event types for SSE endpoint registration.
func GetEventTypes() map[string]any {
	return map[string]any{
		"pipeline-metrics": events.PipelineMetricsEvent{},
	}
}

// GetEventRoutes returns the routing configuration for events.
func GetEventRoutes() map[string]string {
	return map[string]string{
		"pipeline-metrics": "events",
	}
}
