package ffmpeg

import (
	"strings"
)

// DefaultBinary is the ffmpeg executable looked up on PATH.
const DefaultBinary = "ffmpeg"

// Base returns the flags every invocation starts with.
func Base(logLevel string) []string {
	if logLevel == "" {
		logLevel = "level+info"
	}
	return []string{"-hide_banner", "-loglevel", logLevel}
}

// BuildArgs builds the ffmpeg argument list (without the program name).
func BuildArgs(p *Params) []string {
	args := Base(p.LogLevel)

	if p.Progress {
		args = append(args, "-nostats", "-progress", "pipe:1")
	}

	// Input: headerless RGB24 frames on stdin, identical for every protocol
	args = append(args,
		"-y",
		"-f", "rawvideo",
		"-vcodec", "rawvideo",
		"-pix_fmt", "rgb24",
		"-s", itoa(p.Width)+"x"+itoa(p.Height),
		"-r", itoa(p.FPS),
		"-i", "-",
	)

	// Encoder
	args = append(args, "-c:v", p.Encoder)
	if p.PixelFormat != "" {
		args = append(args, "-pix_fmt", p.PixelFormat)
	}
	if p.Preset != "" {
		args = append(args, "-preset", p.Preset)
	}
	if p.Tune != "" {
		args = append(args, "-tune", p.Tune)
	}
	if p.Profile != "" {
		args = append(args, "-profile:v", p.Profile)
	}

	// Rate control - only add what's set
	if p.MaxRate != "" {
		args = append(args, "-maxrate", p.MaxRate)
	}
	if p.BufferSize != "" {
		args = append(args, "-bufsize", p.BufferSize)
	}
	if p.CRF > 0 {
		args = append(args, "-crf", itoa(p.CRF))
	}
	if p.GOP > 0 {
		args = append(args, "-g", itoa(p.GOP))
	}

	// Output
	if p.Format != "" {
		args = append(args, "-f", p.Format)
	}
	args = append(args, p.FormatArgs...)
	args = append(args, p.OutputURL)

	return args
}

// BuildCommand renders the full invocation as a single shell-quoted string
// for logs and status output.
func BuildCommand(binary string, p *Params) string {
	if binary == "" {
		binary = DefaultBinary
	}
	parts := append([]string{binary}, BuildArgs(p)...)
	for i, part := range parts {
		parts[i] = quote(part)
	}
	return strings.Join(parts, " ")
}

// EncodersListArgs lists the encoders compiled into ffmpeg.
func EncodersListArgs() []string {
	return []string{"-hide_banner", "-encoders"}
}

// TestEncodeArgs encodes one second of a synthetic source through the same
// rawvideo path used for live frames.
func TestEncodeArgs(encoder, output string) []string {
	args := Base("error")
	return append(args,
		"-y",
		"-f", "lavfi",
		"-i", "testsrc2=duration=1:size=320x240:rate=10,format=rgb24",
		"-c:v", encoder,
		"-pix_fmt", "yuv420p",
		output,
	)
}

func quote(s string) string {
	if s == "" {
		return `""`
	}
	if !strings.ContainsAny(s, " \t\"'\\") {
		return s
	}
	return `"` + strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(s) + `"`
}
