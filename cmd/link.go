package cmd

import (
	"context"
	"log/slog"
	"time"

	"github.com/smazurov/browsercast/internal/events"
	"github.com/smazurov/browsercast/internal/metrics/exporters"
	"github.com/smazurov/browsercast/internal/nats"
	"github.com/smazurov/browsercast/internal/session"
)

// recorderLink reports a recorder's session over NATS until closed.
type recorderLink struct {
	*nats.RecorderClient
	exporter *exporters.SSEExporter
	unsubs   []func()
}

// linkRecorder connects to the server and forwards state changes, delivery
// failures and once-a-second pipeline metrics. A failed connect is logged
// and the recorder keeps running unlinked.
func linkRecorder(
	ctx context.Context,
	url, recorderID string,
	bus *events.Bus,
	sess *session.Session,
	logger *slog.Logger,
) *recorderLink {
	client := nats.NewRecorderClient(url, recorderID, logger)
	_ = client.Connect()

	link := &recorderLink{RecorderClient: client}
	link.unsubs = append(link.unsubs,
		bus.Subscribe(func(e events.SessionStateChangedEvent) {
			client.PublishState(nats.StateMessage{
				Timestamp:     e.Timestamp,
				State:         e.State,
				PreviousState: e.PreviousState,
				Protocol:      e.Protocol,
			})
		}),
		bus.Subscribe(func(e events.DeliveryFailedEvent) {
			client.PublishState(nats.StateMessage{
				Timestamp: e.Timestamp,
				State:     string(sess.State()),
				Error:     e.Code + ": " + e.Error,
			})
		}),
		bus.Subscribe(func(e events.PipelineMetricsEvent) {
			client.PublishMetrics(nats.MetricsMessage{
				Timestamp:    time.Now().UTC().Format(time.RFC3339),
				State:        e.State,
				Ticks:        e.Ticks,
				Captured:     e.Captured,
				Dropped:      e.Dropped,
				Sent:         e.Sent,
				EncoderFPS:   e.EncoderFPS,
				EncoderSpeed: e.EncoderSpeed,
			})
		}),
	)

	link.exporter = exporters.NewSSEExporter(bus, func() exporters.PipelineStats {
		st := sess.Status()
		return exporters.PipelineStats{
			State:    string(st.State),
			Ticks:    st.Ticks,
			Captured: st.Captured,
			Dropped:  st.Dropped,
			Sent:     st.Sent,
		}
	})
	link.exporter.Start(ctx)

	// the session started before the link existed
	st := sess.Status()
	client.PublishState(nats.StateMessage{
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		State:     string(st.State),
		Protocol:  string(st.Config.Protocol),
	})
	return link
}

// Close publishes the final state and disconnects.
func (l *recorderLink) Close() {
	l.exporter.Stop()
	for _, unsub := range l.unsubs {
		unsub()
	}
	l.PublishState(nats.StateMessage{
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		State:     string(session.StateIdle),
	})
	l.RecorderClient.Close()
}
