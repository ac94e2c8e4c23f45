package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/sse"

	"github.com/smazurov/browsercast/internal/events"
	"github.com/smazurov/browsercast/internal/metrics/exporters"
)

// registerMetricsRoutes registers the pipeline metrics SSE endpoint.
func (s *Server) registerMetricsRoutes() {
	sse.Register(s.api, huma.Operation{
		OperationID: "metrics-stream",
		Method:      http.MethodGet,
		Path:        "/api/metrics",
		Summary:     "Metrics Server-Sent Events Stream",
		Description: "Capture counters and encoder progress, once per second",
		Tags:        []string{"metrics"},
		Security:    withAuth(),
		Errors:      []int{401},
	}, exporters.GetEventTypes(), func(ctx context.Context, input *struct{}, send sse.Sender) {
		eventCh := make(chan any, 10)
		unsubscribe := events.SubscribeToChannel[events.PipelineMetricsEvent](s.eventBus, eventCh)
		defer unsubscribe()

		forward(ctx, eventCh, send)
	})
}
