// Package stream defines the delivery configuration and the error taxonomy
// shared by the capture pipeline, the encoder and the control plane.
package stream

import (
	"fmt"
	"strings"
)

// Protocol selects the delivery target for encoded video.
type Protocol string

// Supported delivery protocols. ProtocolNone keeps frames in preview only.
const (
	ProtocolNone Protocol = ""
	ProtocolRTMP Protocol = "rtmp"
	ProtocolHTTP Protocol = "http"
	ProtocolFile Protocol = "file"
)

// Geometry and rate limits.
const (
	MaxDimension = 7680
	MaxFPS       = 60
)

// Defaults used when a config omits a field.
const (
	DefaultWidth      = 1280
	DefaultHeight     = 720
	DefaultFPS        = 10
	DefaultQuality    = 80
	DefaultOutputFile = "/tmp/browsercast.mp4"
)

// Config describes one delivery target and the frame format fed to it.
// A Config handed to an encoder is never mutated; reconfiguration produces
// a new value.
type Config struct {
	Protocol     Protocol `toml:"protocol" json:"protocol"`
	RTMPURL      string   `toml:"rtmp_url,omitempty" json:"rtmp_url,omitempty"`
	StreamKey    string   `toml:"stream_key,omitempty" json:"stream_key,omitempty"`
	HTTPEndpoint string   `toml:"http_endpoint,omitempty" json:"http_endpoint,omitempty"`
	OutputFile   string   `toml:"output_file,omitempty" json:"output_file,omitempty"`
	Width        int      `toml:"width" json:"width"`
	Height       int      `toml:"height" json:"height"`
	FPS          int      `toml:"fps" json:"fps"`
	Quality      int      `toml:"quality" json:"quality"` // preview JPEG, 1-100; zero selects DefaultQuality
}

// Defaults returns a preview-only config with the default frame format.
func Defaults() Config {
	return Config{
		Width:   DefaultWidth,
		Height:  DefaultHeight,
		FPS:     DefaultFPS,
		Quality: DefaultQuality,
	}
}

// WithDefaults fills zero-valued format fields from Defaults. A zero
// Quality becomes DefaultQuality.
func (c Config) WithDefaults() Config {
	d := Defaults()
	if c.Width == 0 {
		c.Width = d.Width
	}
	if c.Height == 0 {
		c.Height = d.Height
	}
	if c.FPS == 0 {
		c.FPS = d.FPS
	}
	if c.Quality == 0 {
		c.Quality = d.Quality
	}
	if c.Protocol == ProtocolFile && c.OutputFile == "" {
		c.OutputFile = DefaultOutputFile
	}
	return c
}

// Delivers reports whether the config requests external delivery.
func (c Config) Delivers() bool {
	return c.Protocol != ProtocolNone
}

// Resolution returns the frame geometry as "WxH".
func (c Config) Resolution() string {
	return fmt.Sprintf("%dx%d", c.Width, c.Height)
}

// FrameSize returns the byte length of one RGB24 frame.
func (c Config) FrameSize() int {
	return c.Width * c.Height * 3
}

// Target returns the output location passed to the encoder.
func (c Config) Target() string {
	switch c.Protocol {
	case ProtocolRTMP:
		return strings.TrimRight(c.RTMPURL, "/") + "/" + c.StreamKey
	case ProtocolHTTP:
		return c.HTTPEndpoint
	case ProtocolFile:
		return c.OutputFile
	default:
		return ""
	}
}

// Redacted returns a copy safe to log or expose over the API.
func (c Config) Redacted() Config {
	if c.StreamKey != "" {
		c.StreamKey = "****"
	}
	return c
}

// Validate checks the frame format and, when delivery is requested, that
// the protocol-specific target fields are present.
func (c Config) Validate() error {
	if err := c.ValidateFormat(); err != nil {
		return err
	}
	return c.ValidateTarget()
}

// ValidateFormat checks geometry, rate and quality.
func (c Config) ValidateFormat() error {
	switch c.Protocol {
	case ProtocolNone, ProtocolRTMP, ProtocolHTTP, ProtocolFile:
	default:
		return NewError(CodeInvalidConfig, fmt.Sprintf("unsupported protocol %q", c.Protocol), nil)
	}
	if c.Width <= 0 || c.Height <= 0 || c.Width > MaxDimension || c.Height > MaxDimension {
		return NewError(CodeInvalidConfig, "resolution out of range: "+c.Resolution(), nil)
	}
	// yuv420p output needs even dimensions
	if c.Width%2 != 0 || c.Height%2 != 0 {
		return NewError(CodeInvalidConfig, "resolution must be even: "+c.Resolution(), nil)
	}
	if c.FPS <= 0 || c.FPS > MaxFPS {
		return NewError(CodeInvalidConfig, fmt.Sprintf("fps must be between 1 and %d", MaxFPS), nil)
	}
	// zero is unset and resolved by WithDefaults
	if c.Quality < 0 || c.Quality > 100 {
		return NewError(CodeInvalidConfig, "quality must be between 1 and 100", nil)
	}
	return nil
}

// ValidateTarget checks the fields required by the selected protocol.
func (c Config) ValidateTarget() error {
	switch c.Protocol {
	case ProtocolRTMP:
		if c.RTMPURL == "" || c.StreamKey == "" {
			return NewError(CodeMissingCredentials, "rtmp requires rtmp_url and stream_key", nil)
		}
	case ProtocolHTTP:
		if c.HTTPEndpoint == "" {
			return NewError(CodeMissingCredentials, "http requires http_endpoint", nil)
		}
	case ProtocolFile:
		if c.OutputFile == "" {
			return NewError(CodeMissingCredentials, "file requires output_file", nil)
		}
	}
	return nil
}
