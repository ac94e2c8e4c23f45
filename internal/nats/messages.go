package nats

import (
	"encoding/json"
	"fmt"
)

// Subject prefixes.
const (
	SubjectRecordersPrefix = "browsercast.recorders"
	SubjectControlPrefix   = "browsercast.control"
)

// SubjectRecorderState returns the state subject of a recorder.
func SubjectRecorderState(recorderID string) string {
	return fmt.Sprintf("%s.%s.state", SubjectRecordersPrefix, recorderID)
}

// SubjectRecorderMetrics returns the metrics subject of a recorder.
func SubjectRecorderMetrics(recorderID string) string {
	return fmt.Sprintf("%s.%s.metrics", SubjectRecordersPrefix, recorderID)
}

// SubjectControlStop returns the stop command subject of a recorder.
func SubjectControlStop(recorderID string) string {
	return fmt.Sprintf("%s.%s.stop", SubjectControlPrefix, recorderID)
}

// StateMessage is a recorder session transition.
type StateMessage struct {
	RecorderID    string `json:"recorder_id"`
	Timestamp     string `json:"timestamp"`
	State         string `json:"state"`
	PreviousState string `json:"previous_state,omitempty"`
	Protocol      string `json:"protocol,omitempty"`
	Error         string `json:"error,omitempty"`
}

// MetricsMessage carries a recorder's pipeline counters.
type MetricsMessage struct {
	RecorderID   string `json:"recorder_id"`
	Timestamp    string `json:"timestamp"`
	State        string `json:"state"`
	Ticks        uint64 `json:"ticks"`
	Captured     uint64 `json:"captured"`
	Dropped      uint64 `json:"dropped"`
	Sent         uint64 `json:"sent"`
	EncoderFPS   string `json:"encoder_fps"`
	EncoderSpeed string `json:"encoder_speed"`
}

// ControlMessage is a command for one recorder.
type ControlMessage struct {
	Action     string `json:"action"` // stop
	RecorderID string `json:"recorder_id"`
	Timestamp  string `json:"timestamp"`
	Reason     string `json:"reason,omitempty"`
}

func decode[T any](data []byte) (T, error) {
	var m T
	err := json.Unmarshal(data, &m)
	return m, err
}
