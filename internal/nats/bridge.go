package nats

import (
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/smazurov/browsercast/internal/events"
)

// EventPublisher receives bridged events.
type EventPublisher interface {
	Publish(ev events.Event)
}

// Bridge forwards recorder messages from NATS to the event bus.
type Bridge struct {
	url      string
	eventBus EventPublisher
	logger   *slog.Logger

	mu   sync.Mutex
	conn *nats.Conn
	subs []*nats.Subscription
}

// NewBridge creates a NATS-to-event-bus bridge.
func NewBridge(url string, eventBus EventPublisher, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{
		url:      url,
		eventBus: eventBus,
		logger:   logger.With("component", "nats-bridge"),
	}
}

// Start connects and subscribes to every recorder's subjects.
func (b *Bridge) Start() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	conn, err := nats.Connect(b.url,
		nats.Name("browsercast-bridge"),
		nats.ReconnectWait(2*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				b.logger.Warn("NATS bridge disconnected", "error", err)
			}
		}),
	)
	if err != nil {
		return err
	}
	b.conn = conn

	handlers := map[string]nats.MsgHandler{
		SubjectRecordersPrefix + ".*.state":   b.handleState,
		SubjectRecordersPrefix + ".*.metrics": b.handleMetrics,
	}
	for subject, handler := range handlers {
		sub, err := conn.Subscribe(subject, handler)
		if err != nil {
			b.cleanup()
			return err
		}
		b.subs = append(b.subs, sub)
	}
	// the subscriptions must be registered before Start returns
	if err := conn.Flush(); err != nil {
		b.cleanup()
		return err
	}

	b.logger.Info("NATS bridge subscribed to recorder subjects", "url", b.url)
	return nil
}

func (b *Bridge) handleState(msg *nats.Msg) {
	m, err := decode[StateMessage](msg.Data)
	if err != nil {
		b.logger.Warn("Failed to unmarshal state", "error", err, "subject", msg.Subject)
		return
	}
	b.eventBus.Publish(events.RecorderStateEvent{
		RecorderID:    m.RecorderID,
		State:         m.State,
		PreviousState: m.PreviousState,
		Protocol:      m.Protocol,
		Error:         m.Error,
		Timestamp:     m.Timestamp,
	})
	b.logger.Debug("Published recorder state", "recorder_id", m.RecorderID, "state", m.State)
}

func (b *Bridge) handleMetrics(msg *nats.Msg) {
	m, err := decode[MetricsMessage](msg.Data)
	if err != nil {
		b.logger.Warn("Failed to unmarshal metrics", "error", err, "subject", msg.Subject)
		return
	}
	b.eventBus.Publish(events.RecorderMetricsEvent{
		RecorderID:   m.RecorderID,
		State:        m.State,
		Ticks:        m.Ticks,
		Captured:     m.Captured,
		Dropped:      m.Dropped,
		Sent:         m.Sent,
		EncoderFPS:   m.EncoderFPS,
		EncoderSpeed: m.EncoderSpeed,
		Timestamp:    m.Timestamp,
	})
}

// cleanup unsubscribes and closes the connection. Caller holds b.mu.
func (b *Bridge) cleanup() {
	for _, sub := range b.subs {
		_ = sub.Unsubscribe()
	}
	b.subs = nil
	if b.conn != nil {
		b.conn.Close()
		b.conn = nil
	}
}

// Stop closes the bridge.
func (b *Bridge) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cleanup()
	b.logger.Info("NATS bridge stopped")
}

// IsConnected reports whether the bridge is linked to the server.
func (b *Bridge) IsConnected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.conn != nil && b.conn.IsConnected()
}
