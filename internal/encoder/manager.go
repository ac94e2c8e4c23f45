// Package encoder runs the ffmpeg process that turns raw frames into the
// configured delivery target.
package encoder

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/smazurov/browsercast/internal/ffmpeg"
	"github.com/smazurov/browsercast/internal/frame"
	"github.com/smazurov/browsercast/internal/metrics"
	"github.com/smazurov/browsercast/internal/process"
	"github.com/smazurov/browsercast/internal/stream"
)

// Defaults for Options.
const (
	DefaultGracePeriod  = 5 * time.Second
	DefaultWriteTimeout = 2 * time.Second
	DefaultStartupProbe = 250 * time.Millisecond
)

// Options configures a Manager.
type Options struct {
	// Binary is the ffmpeg command, optionally with a prefix such as
	// "nice -n 5 ffmpeg".
	Binary       string
	GracePeriod  time.Duration
	WriteTimeout time.Duration
	// StartupProbe is how long Start waits for an early exit.
	StartupProbe time.Duration
	// ArgsFunc replaces the generated command line when set.
	ArgsFunc func(cfg stream.Config) []string
	Logger   *slog.Logger
	// FFmpegLogger receives ffmpeg stderr, re-levelled.
	FFmpegLogger *slog.Logger
	OnProgress   func(ffmpeg.Progress)
}

// Status is a snapshot of the manager.
type Status struct {
	Running    bool
	PID        int
	Command    string
	FramesSent uint64
	LastSeq    uint64
	StartedAt  time.Time
	LastError  string
}

// Manager owns at most one ffmpeg process.
type Manager struct {
	opts   Options
	logger *slog.Logger

	mu      sync.Mutex
	proc    *process.Process
	cfg     stream.Config
	sent    uint64
	lastSeq uint64
	lastErr error
}

// New creates a stopped manager.
func New(opts Options) *Manager {
	if opts.Binary == "" {
		opts.Binary = ffmpeg.DefaultBinary
	}
	if opts.GracePeriod <= 0 {
		opts.GracePeriod = DefaultGracePeriod
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = DefaultWriteTimeout
	}
	if opts.StartupProbe <= 0 {
		opts.StartupProbe = DefaultStartupProbe
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		opts:   opts,
		logger: logger.With("component", "encoder"),
	}
}

// Args returns the command line for cfg.
func (m *Manager) Args(cfg stream.Config) ([]string, error) {
	if m.opts.ArgsFunc != nil {
		return m.opts.ArgsFunc(cfg), nil
	}
	prefix, err := process.SplitCommand(m.opts.Binary)
	if err != nil {
		return nil, fmt.Errorf("parse ffmpeg binary: %w", err)
	}
	return append(prefix, ffmpeg.BuildArgs(ffmpeg.ParamsFor(cfg))...), nil
}

// Start validates cfg and launches ffmpeg.
func (m *Manager) Start(cfg stream.Config) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.proc != nil && m.proc.Running() {
		return stream.ErrAlreadyRunning
	}
	if !cfg.Delivers() {
		return stream.NewError(stream.CodeInvalidConfig, "no delivery protocol selected", nil)
	}
	if err := cfg.Validate(); err != nil {
		metrics.RecordEncoderFailure(stream.CodeOf(err))
		return err
	}
	if err := prepareTarget(cfg); err != nil {
		metrics.RecordEncoderFailure(stream.CodeLaunchFailed)
		return stream.NewError(stream.CodeLaunchFailed, "prepare output directory", err)
	}

	args, err := m.Args(cfg)
	if err != nil {
		return stream.NewError(stream.CodeLaunchFailed, "build command", err)
	}

	proc := process.New("ffmpeg", args, m.logger)
	proc.SetTimeouts(m.opts.GracePeriod, 0)
	if m.opts.FFmpegLogger != nil {
		proc.SetLogParser(m.opts.FFmpegLogger, ffmpeg.ParseLogLevel)
	}
	proc.SetOutputHandler(ffmpeg.NewProgressParser(m.handleProgress))

	if err := proc.Start(); err != nil {
		metrics.RecordEncoderFailure(stream.CodeLaunchFailed)
		return stream.NewError(stream.CodeLaunchFailed, "start ffmpeg", err)
	}

	// ffmpeg rejects bad output URLs and codec options right after launch
	select {
	case <-proc.Done():
		tail := strings.Join(proc.Tail(), "\n")
		metrics.RecordEncoderFailure(stream.CodeLaunchFailed)
		return stream.NewError(stream.CodeLaunchFailed,
			fmt.Sprintf("ffmpeg exited during startup with code %d", proc.ExitCode()),
			errors.New(tail))
	case <-time.After(m.opts.StartupProbe):
	}

	m.proc = proc
	m.cfg = cfg
	m.sent = 0
	m.lastSeq = 0
	m.lastErr = nil

	metrics.RecordEncoderStart(string(cfg.Protocol))
	metrics.SetEncoderRunning(true)
	m.logger.Info("Encoder started",
		"protocol", cfg.Protocol,
		"resolution", cfg.Resolution(),
		"fps", cfg.FPS,
		"target", cfg.Redacted().Target())
	return nil
}

// prepareTarget creates parent directories for local outputs.
func prepareTarget(cfg stream.Config) error {
	var path string
	switch cfg.Protocol {
	case stream.ProtocolFile:
		path = cfg.OutputFile
	case stream.ProtocolHTTP:
		if strings.Contains(cfg.HTTPEndpoint, "://") {
			return nil
		}
		path = cfg.HTTPEndpoint
	default:
		return nil
	}
	dir := filepath.Dir(path)
	if dir == "." || dir == "/" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

func (m *Manager) handleProgress(p ffmpeg.Progress) {
	metrics.SetEncoderProgress(float64(p.Frame), p.FPS, p.Speed, float64(p.Dropped), float64(p.Dup))
	if m.opts.OnProgress != nil {
		m.opts.OnProgress(p)
	}
}

// SendFrame writes one frame to ffmpeg stdin. A frame with the wrong
// geometry is rejected and the process keeps running. Any write failure,
// including the write deadline expiring, tears the process down and
// returns ErrPipeBroken.
func (m *Manager) SendFrame(f *frame.Frame) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.proc == nil {
		return stream.ErrNotRunning
	}
	if !m.proc.Running() {
		// exited on its own since the last frame
		return m.teardown(f, fmt.Errorf("ffmpeg exited with code %d", m.proc.ExitCode()))
	}
	if f.Width != m.cfg.Width || f.Height != m.cfg.Height || len(f.Pix) != m.cfg.FrameSize() {
		return stream.NewError(stream.CodeGeometryMismatch,
			fmt.Sprintf("frame %dx%d (%d bytes), encoder expects %s", f.Width, f.Height, len(f.Pix), m.cfg.Resolution()), nil)
	}

	if err := m.proc.Write(f.Pix, m.opts.WriteTimeout); err != nil {
		return m.teardown(f, err)
	}
	m.sent++
	m.lastSeq = f.Seq
	return nil
}

// teardown kills the process after a delivery failure. Caller holds m.mu.
func (m *Manager) teardown(f *frame.Frame, cause error) error {
	m.lastErr = cause
	m.logger.Error("Encoder pipe broken, tearing down", "seq", f.Seq, "error", cause, "stderr", m.proc.Tail())
	m.proc.Kill()
	m.proc = nil
	metrics.SetEncoderRunning(false)
	metrics.RecordEncoderFailure(stream.CodePipeBroken)
	return stream.NewError(stream.CodePipeBroken, "write frame", cause)
}

// Stop closes stdin, waits the grace period and kills ffmpeg if needed.
// Safe to call repeatedly.
func (m *Manager) Stop() {
	m.mu.Lock()
	proc := m.proc
	m.proc = nil
	m.mu.Unlock()

	if proc == nil {
		return
	}
	code := proc.Stop()
	metrics.SetEncoderRunning(false)
	m.logger.Info("Encoder stopped", "exit_code", code)
}

// Running reports whether ffmpeg is alive and accepting frames.
func (m *Manager) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.proc != nil && m.proc.Running()
}

// Config returns the config of the current or last started process.
func (m *Manager) Config() stream.Config {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cfg
}

// Status returns a snapshot of the manager.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := Status{FramesSent: m.sent, LastSeq: m.lastSeq}
	if m.lastErr != nil {
		s.LastError = m.lastErr.Error()
	}
	if m.proc != nil {
		info := m.proc.Info()
		s.Running = info.State == process.StateRunning
		s.PID = info.PID
		s.StartedAt = info.StartedAt
		s.Command = m.proc.Command()
		if m.cfg.StreamKey != "" {
			s.Command = strings.ReplaceAll(s.Command, m.cfg.StreamKey, "****")
		}
	}
	return s
}
