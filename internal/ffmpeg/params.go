package ffmpeg

import (
	"strconv"

	"github.com/smazurov/browsercast/internal/stream"
)

// Params represents all parameters needed to generate an FFmpeg invocation
// for a raw RGB24 stdin feed.
type Params struct {
	// Input Configuration (always rawvideo rgb24 on stdin)
	Width  int
	Height int
	FPS    int

	// Encoder Configuration
	Encoder     string // libx264
	PixelFormat string // output pixel format, yuv420p
	Preset      string // veryfast, medium
	Tune        string // zerolatency
	Profile     string // main, high

	// Rate Control (only set what's needed)
	MaxRate    string // 3000k
	BufferSize string // 6000k
	CRF        int    // 0 = not set
	GOP        int    // 0 = not set

	// Output
	Format     string   // flv, hls; empty lets ffmpeg pick from the extension
	FormatArgs []string // muxer options placed after -f
	OutputURL  string

	// Monitoring
	Progress bool   // emit -progress key=value blocks on stdout
	LogLevel string // defaults to level+info
}

// ParamsFor maps a delivery config to encoder parameters. The mapping is
// pure: equal configs always produce equal params.
func ParamsFor(cfg stream.Config) *Params {
	p := &Params{
		Width:       cfg.Width,
		Height:      cfg.Height,
		FPS:         cfg.FPS,
		Encoder:     "libx264",
		PixelFormat: "yuv420p",
		OutputURL:   cfg.Target(),
		Progress:    true,
	}

	switch cfg.Protocol {
	case stream.ProtocolRTMP:
		p.Preset = "veryfast"
		p.Tune = "zerolatency"
		p.Profile = "main"
		p.MaxRate = "3000k"
		p.BufferSize = "6000k"
		p.GOP = cfg.FPS * 2
		p.Format = "flv"
	case stream.ProtocolHTTP:
		p.Preset = "veryfast"
		p.GOP = cfg.FPS * 2
		p.Format = "hls"
		p.FormatArgs = []string{
			"-hls_time", "2",
			"-hls_list_size", "3",
			"-hls_flags", "delete_segments",
		}
	case stream.ProtocolFile:
		p.Preset = "medium"
		p.CRF = 23
	}

	return p
}

func itoa(n int) string {
	return strconv.Itoa(n)
}
