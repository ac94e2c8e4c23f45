package events

// Event type constants for kelindar/event.
const (
	TypeSessionStateChanged uint32 = iota + 1
	TypeSessionReconfigured
	TypeDeliveryFailed
	TypeHighlightCaptured
	TypePipelineMetrics
	TypeLogEntry
	TypeRecorderState
	TypeRecorderMetrics
)

// Event interface required by kelindar/event.
type Event interface {
	Type() uint32
}

// SessionStateChangedEvent is published on every session state transition.
type SessionStateChangedEvent struct {
	SessionID     string `json:"session_id" example:"6f1c2e9a-8d1b-4c55-9a43-0f3c2b7d9e10" doc:"Session identifier"`
	State         string `json:"state" example:"delivering" doc:"New state"`
	PreviousState string `json:"previous_state" example:"active" doc:"State before the transition"`
	Protocol      string `json:"protocol,omitempty" example:"rtmp" doc:"Delivery protocol, empty for preview only"`
	Timestamp     string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for SessionStateChangedEvent.
func (e SessionStateChangedEvent) Type() uint32 { return TypeSessionStateChanged }

// SessionReconfiguredEvent is published after a new encoder took over.
type SessionReconfiguredEvent struct {
	SessionID  string `json:"session_id" doc:"Session identifier"`
	Protocol   string `json:"protocol" example:"file" doc:"Delivery protocol"`
	Resolution string `json:"resolution" example:"1280x720" doc:"Frame geometry"`
	FPS        int    `json:"fps" example:"10" doc:"Frame rate"`
	Timestamp  string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for SessionReconfiguredEvent.
func (e SessionReconfiguredEvent) Type() uint32 { return TypeSessionReconfigured }

// DeliveryFailedEvent is published when the encoder dies or rejects input
// and the session falls back to capture without delivery.
type DeliveryFailedEvent struct {
	SessionID string `json:"session_id" doc:"Session identifier"`
	Code      string `json:"code" example:"PIPE_BROKEN" doc:"Error code"`
	Error     string `json:"error" doc:"Detailed error description"`
	Timestamp string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for DeliveryFailedEvent.
func (e DeliveryFailedEvent) Type() uint32 { return TypeDeliveryFailed }

// HighlightCapturedEvent represents a successful highlighted capture.
type HighlightCapturedEvent struct {
	SessionID string `json:"session_id" doc:"Session identifier"`
	Locator   string `json:"locator" example:"css=#search" doc:"Highlighted element"`
	Timestamp string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Capture timestamp"`
}

// Type returns the event type identifier for HighlightCapturedEvent.
func (e HighlightCapturedEvent) Type() uint32 { return TypeHighlightCaptured }

// PipelineMetricsEvent carries loop counters and encoder progress.
type PipelineMetricsEvent struct {
	EventType    string `json:"type"`
	State        string `json:"state"`
	Ticks        uint64 `json:"ticks"`
	Captured     uint64 `json:"captured"`
	Dropped      uint64 `json:"dropped"`
	Sent         uint64 `json:"sent"`
	EncoderFPS   string `json:"encoder_fps"`
	EncoderSpeed string `json:"encoder_speed"`
	EncoderDrops string `json:"encoder_dropped"`
}

// Type returns the event type identifier for PipelineMetricsEvent.
func (e PipelineMetricsEvent) Type() uint32 { return TypePipelineMetrics }

// LogEntryEvent represents a log entry for SSE streaming.
type LogEntryEvent struct {
	Seq        uint64         `json:"seq" example:"42" doc:"Monotonic sequence number for deduplication"`
	Timestamp  string         `json:"timestamp" example:"2025-01-09T10:30:00.123Z" doc:"Log timestamp"`
	Level      string         `json:"level" example:"info" doc:"Log level"`
	Module     string         `json:"module" example:"capture" doc:"Source module"`
	Message    string         `json:"message" doc:"Log message"`
	Attributes map[string]any `json:"attributes,omitempty" doc:"Structured log attributes"`
}

// Type returns the event type identifier for LogEntryEvent.
func (e LogEntryEvent) Type() uint32 { return TypeLogEntry }

// RecorderStateEvent relays the session state of a standalone recorder
// process received over NATS.
type RecorderStateEvent struct {
	RecorderID    string `json:"recorder_id" example:"rec-7f3a" doc:"Recorder identifier"`
	State         string `json:"state" example:"delivering" doc:"Recorder session state"`
	PreviousState string `json:"previous_state,omitempty" doc:"State before the transition"`
	Protocol      string `json:"protocol,omitempty" example:"file" doc:"Delivery protocol"`
	Error         string `json:"error,omitempty" doc:"Delivery error, set when the recorder fell back"`
	Timestamp     string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for RecorderStateEvent.
func (e RecorderStateEvent) Type() uint32 { return TypeRecorderState }

// RecorderMetricsEvent relays pipeline counters of a standalone recorder.
type RecorderMetricsEvent struct {
	RecorderID   string `json:"recorder_id"`
	State        string `json:"state"`
	Ticks        uint64 `json:"ticks"`
	Captured     uint64 `json:"captured"`
	Dropped      uint64 `json:"dropped"`
	Sent         uint64 `json:"sent"`
	EncoderFPS   string `json:"encoder_fps"`
	EncoderSpeed string `json:"encoder_speed"`
	Timestamp    string `json:"timestamp"`
}

// Type returns the event type identifier for RecorderMetricsEvent.
func (e RecorderMetricsEvent) Type() uint32 { return TypeRecorderMetrics }
