package api

import (
	"context"
	"maps"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/sse"

	"github.com/smazurov/browsercast/internal/events"
	"github.com/smazurov/browsercast/internal/metrics/exporters"
)

// registerSSERoutes registers the session event stream.
func (s *Server) registerSSERoutes() {
	sse.Register(s.api, huma.Operation{
		OperationID: "events-stream",
		Method:      http.MethodGet,
		Path:        "/api/events",
		Summary:     "Server-Sent Events Stream",
		Description: "Session state changes, reconfigurations, delivery failures, pipeline metrics and recorder activity",
		Tags:        []string{"events"},
		Security:    withAuth(),
		Errors:      []int{401},
	}, func() map[string]any {
		eventTypes := map[string]any{
			"session-state-changed": events.SessionStateChangedEvent{},
			"session-reconfigured":  events.SessionReconfiguredEvent{},
			"delivery-failed":       events.DeliveryFailedEvent{},
			"highlight-captured":    events.HighlightCapturedEvent{},
			"recorder-state":        events.RecorderStateEvent{},
			"recorder-metrics":      events.RecorderMetricsEvent{},
		}
		maps.Copy(eventTypes, exporters.GetEventTypes())
		return eventTypes
	}(), func(ctx context.Context, _ *struct{}, send sse.Sender) {
		eventCh := make(chan any, 10)

		unsubscribers := []func(){
			events.SubscribeToChannel[events.SessionStateChangedEvent](s.eventBus, eventCh),
			events.SubscribeToChannel[events.SessionReconfiguredEvent](s.eventBus, eventCh),
			events.SubscribeToChannel[events.DeliveryFailedEvent](s.eventBus, eventCh),
			events.SubscribeToChannel[events.HighlightCapturedEvent](s.eventBus, eventCh),
			events.SubscribeToChannel[events.PipelineMetricsEvent](s.eventBus, eventCh),
			events.SubscribeToChannel[events.RecorderStateEvent](s.eventBus, eventCh),
			events.SubscribeToChannel[events.RecorderMetricsEvent](s.eventBus, eventCh),
		}
		defer func() {
			for _, unsub := range unsubscribers {
				unsub()
			}
		}()

		// current state first so late subscribers need not poll
		st := s.session.Status()
		if err := send.Data(events.SessionStateChangedEvent{
			SessionID:     st.ID,
			State:         string(st.State),
			PreviousState: string(st.State),
			Protocol:      string(st.Config.Protocol),
			Timestamp:     time.Now().UTC().Format(time.RFC3339),
		}); err != nil {
			return
		}

		forward(ctx, eventCh, send)
	})
}

// forward relays bus events to the client until it disconnects.
func forward(ctx context.Context, eventCh <-chan any, send sse.Sender) {
	for {
		select {
		case <-ctx.Done():
			return
		case event := <-eventCh:
			if err := send.Data(event); err != nil {
				return
			}
		}
	}
}
