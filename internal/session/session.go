// Package session coordinates one browser streaming session: the capture
// loop, the browser source and the encoder that delivers its frames.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/smazurov/browsercast/internal/browser"
	"github.com/smazurov/browsercast/internal/capture"
	"github.com/smazurov/browsercast/internal/events"
	"github.com/smazurov/browsercast/internal/metrics"
	"github.com/smazurov/browsercast/internal/stream"
)

// State of the session.
type State string

// Session states.
const (
	StateIdle          State = "idle"
	StateActive        State = "active"     // capturing, no external delivery
	StateDelivering    State = "delivering" // capturing and feeding an encoder
	StateReconfiguring State = "reconfiguring"
)

// Source is a browser frame source that also accepts page interactions.
type Source interface {
	capture.Source
	CaptureWithHighlight(ctx context.Context, loc browser.Locator) ([]byte, error)
	Navigate(ctx context.Context, url string) error
	Click(ctx context.Context, loc browser.Locator) error
	Type(ctx context.Context, loc browser.Locator, text string) error
	Scroll(ctx context.Context, x, y int) error
	Execute(ctx context.Context, script string) (json.RawMessage, error)
	Close() error
}

// Encoder is one encoder instance. A new one is created per delivery start.
type Encoder interface {
	capture.Sink
	Start(cfg stream.Config) error
	Stop()
}

// EncoderFactory creates a stopped encoder.
type EncoderFactory func() Encoder

// Publisher receives session events.
type Publisher interface {
	Publish(ev events.Event)
}

// Options configures a Session.
type Options struct {
	Encoders    EncoderFactory
	Events      Publisher
	JoinTimeout time.Duration
	Logger      *slog.Logger
}

// Status is a point-in-time view of the session.
type Status struct {
	ID             string
	State          State
	Config         stream.Config
	StartedAt      time.Time
	Ticks          uint64
	Captured       uint64
	Dropped        uint64
	Sent           uint64
	EncoderRunning bool
	HasSource      bool
	EncoderFPS     float64
	EncoderSpeed   float64
	LastError      string
}

// Session is the single coordinator of a streaming pipeline. Control
// operations are serialized; Status only takes a short read lock.
type Session struct {
	logger   *slog.Logger
	encoders EncoderFactory
	events   Publisher
	loop     *capture.Loop

	ctlMu sync.Mutex

	mu        sync.RWMutex
	state     State
	id        string
	cfg       stream.Config
	source    Source
	enc       Encoder
	startedAt time.Time
	lastErr   string

	demoting atomic.Bool
}

// New creates an idle session.
func New(opts Options) *Session {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Session{
		logger:   logger.With("component", "session"),
		encoders: opts.Encoders,
		events:   opts.Events,
		state:    StateIdle,
		cfg:      stream.Defaults(),
	}
	s.loop = capture.New(capture.Options{
		JoinTimeout: opts.JoinTimeout,
		Logger:      logger,
		OnResult:    s.onTick,
	})
	metrics.SetSessionState(string(StateIdle))
	return s
}

// Start binds src and begins capturing. When cfg requests delivery the
// encoder is started first, so a bad target leaves the session idle.
func (s *Session) Start(src Source, cfg stream.Config) error {
	s.ctlMu.Lock()
	defer s.ctlMu.Unlock()

	if s.State() != StateIdle {
		return stream.ErrAlreadyActive
	}
	if src == nil {
		return stream.ErrNoSource
	}
	cfg = cfg.WithDefaults()
	if err := cfg.ValidateFormat(); err != nil {
		return err
	}

	var enc Encoder
	if cfg.Delivers() {
		var err error
		if enc, err = s.startEncoder(cfg); err != nil {
			return err
		}
	}

	s.loop.SetSource(src)
	s.loop.SetFormat(cfg.Width, cfg.Height, cfg.FPS)
	s.setSink(enc)
	if err := s.loop.Start(); err != nil {
		s.loop.SetSink(nil)
		if enc != nil {
			enc.Stop()
		}
		return err
	}

	next := StateActive
	if enc != nil {
		next = StateDelivering
	}

	s.mu.Lock()
	s.id = uuid.NewString()
	s.cfg = cfg
	s.source = src
	s.enc = enc
	s.startedAt = time.Now()
	s.lastErr = ""
	s.mu.Unlock()

	s.setState(next)
	s.logger.Info("Session started",
		"session_id", s.ID(),
		"protocol", cfg.Protocol,
		"resolution", cfg.Resolution(),
		"fps", cfg.FPS)
	return nil
}

// Stop stops delivery, then the loop, then releases the source.
// Stopping an idle session is a no-op.
func (s *Session) Stop() error {
	s.ctlMu.Lock()
	defer s.ctlMu.Unlock()

	if s.State() == StateIdle {
		return nil
	}

	s.mu.RLock()
	src, enc, id := s.source, s.enc, s.id
	s.mu.RUnlock()

	s.loop.SetSink(nil)
	if enc != nil {
		enc.Stop()
	}
	s.loop.Stop()
	s.loop.SetSource(nil)

	var closeErr error
	if src != nil {
		if closeErr = src.Close(); closeErr != nil {
			s.logger.Warn("Failed to close source", "error", closeErr)
		}
	}

	s.mu.Lock()
	s.source = nil
	s.enc = nil
	s.mu.Unlock()

	s.setState(StateIdle)
	s.logger.Info("Session stopped", "session_id", id)
	return nil
}

// Status returns the current state and counters.
func (s *Session) Status() Status {
	s.mu.RLock()
	st := Status{
		ID:             s.id,
		State:          s.state,
		Config:         s.cfg.Redacted(),
		StartedAt:      s.startedAt,
		EncoderRunning: s.enc != nil,
		HasSource:      s.source != nil,
		LastError:      s.lastErr,
	}
	s.mu.RUnlock()

	stats := s.loop.Stats()
	st.Ticks = stats.Ticks
	st.Captured = stats.Captured
	st.Dropped = stats.Dropped
	st.Sent = stats.Sent
	if st.EncoderRunning {
		em := metrics.GetEncoderMetrics()
		st.EncoderFPS = em.FPS
		st.EncoderSpeed = em.Speed
	}
	return st
}

// Active reports whether the session is capturing.
func (st Status) Active() bool {
	return st.State != StateIdle
}

// Delivering reports whether frames are going to an encoder.
func (st Status) Delivering() bool {
	return st.State == StateDelivering
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// ID returns the current session id, empty while idle.
func (s *Session) ID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.id
}

// Config returns the active config.
func (s *Session) Config() stream.Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// setState records a transition and publishes it. Caller holds ctlMu.
func (s *Session) setState(next State) {
	s.mu.Lock()
	prev := s.state
	s.state = next
	id, protocol := s.id, s.cfg.Protocol
	if next == StateIdle {
		s.id = ""
	}
	s.mu.Unlock()

	if prev == next {
		return
	}
	metrics.SetSessionState(string(next))
	s.publish(events.SessionStateChangedEvent{
		SessionID:     id,
		State:         string(next),
		PreviousState: string(prev),
		Protocol:      string(protocol),
		Timestamp:     time.Now().Format(time.RFC3339),
	})
}

func (s *Session) publish(ev events.Event) {
	if s.events != nil {
		s.events.Publish(ev)
	}
}

// setSink binds enc to the loop. A nil Encoder must become a nil Sink.
func (s *Session) setSink(enc Encoder) {
	if enc == nil {
		s.loop.SetSink(nil)
		return
	}
	s.loop.SetSink(enc)
}

func (s *Session) startEncoder(cfg stream.Config) (Encoder, error) {
	if s.encoders == nil {
		return nil, stream.NewError(stream.CodeLaunchFailed, "no encoder configured", nil)
	}
	enc := s.encoders()
	if err := enc.Start(cfg); err != nil {
		s.logger.Error("Encoder failed to start", "protocol", cfg.Protocol, "error", err)
		return nil, err
	}
	return enc, nil
}

// onTick runs on the loop goroutine and must not block on ctlMu.
func (s *Session) onTick(res capture.Result) {
	if res.Outcome != capture.OutcomeDropped || res.Reason != capture.ReasonDelivery || res.Sink == nil {
		return
	}
	if !errors.Is(res.Err, stream.ErrPipeBroken) && !errors.Is(res.Err, stream.ErrNotRunning) {
		return
	}
	if !s.demoting.CompareAndSwap(false, true) {
		return
	}
	go func() {
		defer s.demoting.Store(false)
		s.demote(res.Sink, res.Err)
	}()
}

// demote drops delivery after the encoder failed, keeping the capture
// loop running. Stale failures from a replaced encoder are ignored.
func (s *Session) demote(failed capture.Sink, cause error) {
	s.ctlMu.Lock()
	defer s.ctlMu.Unlock()

	s.mu.RLock()
	enc, state, id := s.enc, s.state, s.id
	s.mu.RUnlock()
	if state != StateDelivering || enc == nil || capture.Sink(enc) != failed {
		return
	}

	s.loop.SetSink(nil)
	enc.Stop()

	s.mu.Lock()
	s.enc = nil
	s.lastErr = cause.Error()
	s.mu.Unlock()

	s.logger.Error("Delivery failed, continuing without encoder", "session_id", id, "error", cause)
	s.publish(events.DeliveryFailedEvent{
		SessionID: id,
		Code:      stream.CodeOf(cause),
		Error:     cause.Error(),
		Timestamp: time.Now().Format(time.RFC3339),
	})
	s.setState(StateActive)
}
