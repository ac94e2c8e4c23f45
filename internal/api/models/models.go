// Package models holds the request and response bodies of the HTTP API.
package models

import (
	"encoding/json"
	"time"
)

// Health check models
type HealthData struct {
	Status  string `json:"status" example:"ok" doc:"Service status"`
	Message string `json:"message" example:"API is healthy" doc:"Status message"`
}

type HealthResponse struct {
	Body HealthData
}

// Version models
type VersionData struct {
	Version   string `json:"version" example:"1.2.0" doc:"Application version"`
	GitCommit string `json:"git_commit" example:"a1b2c3d" doc:"Git commit hash"`
	BuildDate string `json:"build_date" example:"2025-01-09T10:30:00Z" doc:"Build timestamp"`
	BuildID   string `json:"build_id" doc:"Build identifier"`
	GoVersion string `json:"go_version" example:"go1.24.1" doc:"Go toolchain version"`
	Compiler  string `json:"compiler" example:"gc" doc:"Go compiler"`
	Platform  string `json:"platform" example:"linux/amd64" doc:"Target platform"`
}

type VersionResponse struct {
	Body VersionData
}

// StreamConfigData is the delivery and format configuration of a session.
// Zero values fall back to the server defaults.
type StreamConfigData struct {
	Protocol     string `json:"protocol,omitempty" enum:"rtmp,http,file" example:"rtmp" doc:"Delivery protocol; omit for preview only"`
	RTMPURL      string `json:"rtmp_url,omitempty" example:"rtmp://live.example.com/app" doc:"RTMP server URL"`
	StreamKey    string `json:"stream_key,omitempty" example:"****" doc:"RTMP stream key"`
	HTTPEndpoint string `json:"http_endpoint,omitempty" example:"http://ingest.example.com/live.ts" doc:"HTTP ingest endpoint"`
	OutputFile   string `json:"output_file,omitempty" example:"/tmp/current_session.mp4" doc:"Output file path"`
	Width        int    `json:"width,omitempty" minimum:"0" maximum:"7680" example:"1280" doc:"Frame width in pixels"`
	Height       int    `json:"height,omitempty" minimum:"0" maximum:"7680" example:"720" doc:"Frame height in pixels"`
	FPS          int    `json:"fps,omitempty" minimum:"0" maximum:"60" example:"10" doc:"Capture rate in frames per second"`
	Quality      int    `json:"quality,omitempty" minimum:"0" maximum:"100" example:"80" doc:"Preview JPEG quality 1-100; 0 or omitted uses the default"`
}

// Session models
type SessionStatusData struct {
	SessionID      string           `json:"session_id,omitempty" example:"6f1c2e9a-8d1b-4c55-9a43-0f3c2b7d9e10" doc:"Session identifier"`
	State          string           `json:"state" enum:"idle,active,delivering,reconfiguring" example:"delivering" doc:"Session state"`
	Active         bool             `json:"active" example:"true" doc:"Whether the session is capturing"`
	Delivering     bool             `json:"external_delivery_active" example:"true" doc:"Whether frames are delivered to an encoder"`
	HasSource      bool             `json:"has_source" example:"true" doc:"Whether a browser source is bound"`
	Config         StreamConfigData `json:"config" doc:"Resolved configuration, stream key redacted"`
	Resolution     string           `json:"resolution" example:"1280x720" doc:"Frame size"`
	StartedAt      *time.Time       `json:"started_at,omitempty" doc:"When the session started"`
	Ticks          uint64           `json:"ticks" example:"1200" doc:"Capture ticks since start"`
	Captured       uint64           `json:"captured" example:"1195" doc:"Frames captured and normalized"`
	Dropped        uint64           `json:"dropped" example:"5" doc:"Ticks that produced no frame or failed delivery"`
	Sent           uint64           `json:"sent" example:"1190" doc:"Frames written to the encoder"`
	EncoderRunning bool             `json:"encoder_running" example:"true" doc:"Whether an encoder is attached"`
	EncoderFPS     float64          `json:"encoder_fps" example:"9.98" doc:"Encoder output frame rate"`
	EncoderSpeed   float64          `json:"encoder_speed" example:"1.0" doc:"Encoder speed relative to real time"`
	LastError      string           `json:"last_error,omitempty" doc:"Last delivery error"`
}

type SessionStatusResponse struct {
	Body SessionStatusData
}

type StartSessionData struct {
	URL    string           `json:"url,omitempty" format:"uri" example:"https://example.com" doc:"Page to open; defaults to the configured start URL"`
	Config StreamConfigData `json:"config,omitempty" doc:"Session configuration"`
}

type StartSessionRequest struct {
	Body StartSessionData
}

type ReconfigureRequest struct {
	Body StreamConfigData
}

// Locator models
type LocatorData struct {
	Strategy string `json:"strategy" enum:"css,id,name,xpath,link_text,partial_link_text,class_name,tag_name" example:"css" doc:"Locator strategy"`
	Value    string `json:"value" minLength:"1" example:"#search" doc:"Locator value"`
}

type HighlightRequest struct {
	Body LocatorData
}

type HighlightData struct {
	Image      string    `json:"image" doc:"Base64-encoded JPEG with the element outlined"`
	Width      int       `json:"width" example:"1280" doc:"Image width"`
	Height     int       `json:"height" example:"720" doc:"Image height"`
	CapturedAt time.Time `json:"captured_at" doc:"Capture time"`
}

type HighlightResponse struct {
	Body HighlightData
}

// FrameResponse is the latest preview frame as JPEG.
type FrameResponse struct {
	ContentType string `header:"Content-Type"`
	FrameSeq    string `header:"X-Frame-Seq"`
	Body        []byte
}

type NavigateRequest struct {
	Body struct {
		URL string `json:"url" format:"uri" example:"https://example.com/docs" doc:"Page to load"`
	}
}

type ActionData struct {
	Type    string       `json:"type" enum:"click,type,scroll,execute_script" example:"click" doc:"Action to perform"`
	Locator *LocatorData `json:"locator,omitempty" doc:"Target element for click and type"`
	Text    string       `json:"text,omitempty" doc:"Text to type"`
	X       int          `json:"x,omitempty" doc:"Horizontal scroll offset"`
	Y       int          `json:"y,omitempty" doc:"Vertical scroll offset"`
	Script  string       `json:"script,omitempty" example:"return document.title" doc:"Function body to execute"`
}

type ActionRequest struct {
	Body ActionData
}

type ActionResultData struct {
	Status string          `json:"status" example:"ok" doc:"Action status"`
	Result json.RawMessage `json:"result,omitempty" doc:"Script result for execute_script"`
}

type ActionResponse struct {
	Body ActionResultData
}

// MessageResponse is a bare acknowledgement.
type MessageResponse struct {
	Body struct {
		Message string `json:"message" example:"Session stopped" doc:"Result message"`
	}
}

// Log level models
type LogLevelsResponse struct {
	Body struct {
		Levels map[string]string `json:"levels" doc:"Effective level per module"`
	}
}

type SetLogLevelRequest struct {
	Module string `path:"module" example:"capture" doc:"Logger module"`
	Body   struct {
		Level string `json:"level" enum:"debug,info,warn,error" example:"debug" doc:"New level"`
	}
}

// Recorder models
type StopRecorderRequest struct {
	ID string `path:"id" example:"rec-7f3a" doc:"Recorder identifier"`
}
