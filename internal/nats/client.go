package nats

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

// RecorderClient publishes a recorder's state and metrics and receives stop
// commands. Publishing is a no-op while disconnected.
type RecorderClient struct {
	url        string
	recorderID string
	logger     *slog.Logger

	mu        sync.RWMutex
	conn      *nats.Conn
	sub       *nats.Subscription
	onStop    func(reason string)
	connected bool
}

// NewRecorderClient creates an unconnected client.
func NewRecorderClient(url, recorderID string, logger *slog.Logger) *RecorderClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &RecorderClient{
		url:        url,
		recorderID: recorderID,
		logger:     logger.With("component", "nats-client", "recorder_id", recorderID),
	}
}

// Connect dials the server. On error the client stays usable and silent.
func (c *RecorderClient) Connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	conn, err := nats.Connect(c.url,
		nats.Name("browsercast-recorder-"+c.recorderID),
		nats.ReconnectWait(2*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			c.setConnected(false)
			if err != nil {
				c.logger.Warn("NATS disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			c.setConnected(true)
			c.logger.Info("NATS reconnected")
		}),
	)
	if err != nil {
		c.logger.Warn("Failed to connect to NATS, running without server link", "error", err)
		return err
	}

	c.conn = conn
	c.connected = true
	c.logger.Info("Connected to NATS", "url", c.url)
	c.subscribeControlLocked()
	return nil
}

func (c *RecorderClient) setConnected(v bool) {
	c.mu.Lock()
	c.connected = v
	c.mu.Unlock()
}

// subscribeControlLocked subscribes to stop commands. Caller holds c.mu.
// Subscriptions survive reconnects inside nats.go.
func (c *RecorderClient) subscribeControlLocked() {
	if c.conn == nil || c.onStop == nil || c.sub != nil {
		return
	}
	sub, err := c.conn.Subscribe(SubjectControlStop(c.recorderID), func(msg *nats.Msg) {
		ctrl, err := decode[ControlMessage](msg.Data)
		if err != nil {
			c.logger.Warn("Failed to unmarshal control message", "error", err)
			return
		}
		c.logger.Info("Received control command", "action", ctrl.Action, "reason", ctrl.Reason)

		c.mu.RLock()
		onStop := c.onStop
		c.mu.RUnlock()
		if ctrl.Action == "stop" && onStop != nil {
			onStop(ctrl.Reason)
		}
	})
	if err != nil {
		c.logger.Warn("Failed to subscribe to control commands", "error", err)
		return
	}
	c.sub = sub
}

// OnStop sets the stop command callback.
func (c *RecorderClient) OnStop(fn func(reason string)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onStop = fn
	c.subscribeControlLocked()
}

// PublishState publishes a state transition.
func (c *RecorderClient) PublishState(m StateMessage) {
	m.RecorderID = c.recorderID
	c.publish(SubjectRecorderState(c.recorderID), m)
}

// PublishMetrics publishes pipeline counters.
func (c *RecorderClient) PublishMetrics(m MetricsMessage) {
	m.RecorderID = c.recorderID
	c.publish(SubjectRecorderMetrics(c.recorderID), m)
}

func (c *RecorderClient) publish(subject string, m any) {
	c.mu.RLock()
	conn, connected := c.conn, c.connected
	c.mu.RUnlock()
	if conn == nil || !connected {
		return
	}

	data, err := json.Marshal(m)
	if err != nil {
		c.logger.Warn("Failed to marshal message", "subject", subject, "error", err)
		return
	}
	if err := conn.Publish(subject, data); err != nil {
		c.logger.Warn("Failed to publish", "subject", subject, "error", err)
	}
}

// IsConnected reports whether the client is linked to the server.
func (c *RecorderClient) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected && c.conn != nil
}

// Close flushes pending messages and closes the connection.
func (c *RecorderClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sub != nil {
		_ = c.sub.Unsubscribe()
		c.sub = nil
	}
	if c.conn != nil {
		_ = c.conn.FlushTimeout(time.Second)
		c.conn.Close()
		c.conn = nil
	}
	c.connected = false
}

// ControlPublisher sends commands to recorders.
type ControlPublisher struct {
	conn   *nats.Conn
	logger *slog.Logger
}

// NewControlPublisher connects a command publisher.
func NewControlPublisher(url string, logger *slog.Logger) (*ControlPublisher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	conn, err := nats.Connect(url,
		nats.Name("browsercast-control"),
		nats.ReconnectWait(2*time.Second),
		nats.MaxReconnects(5),
	)
	if err != nil {
		return nil, err
	}
	return &ControlPublisher{
		conn:   conn,
		logger: logger.With("component", "nats-control"),
	}, nil
}

// Stop asks a recorder to stop.
func (p *ControlPublisher) Stop(recorderID, reason string) error {
	data, err := json.Marshal(ControlMessage{
		Action:     "stop",
		RecorderID: recorderID,
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
		Reason:     reason,
	})
	if err != nil {
		return err
	}
	if err := p.conn.Publish(SubjectControlStop(recorderID), data); err != nil {
		return err
	}
	p.logger.Info("Sent stop command", "recorder_id", recorderID, "reason", reason)
	return p.conn.FlushTimeout(time.Second)
}

// Close closes the publisher connection.
func (p *ControlPublisher) Close() {
	if p.conn != nil {
		p.conn.Close()
	}
}
