// Package capture runs the paced loop that pulls screenshots from the
// browser, normalizes them and hands them to the encoder.
package capture

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/smazurov/browsercast/internal/frame"
	"github.com/smazurov/browsercast/internal/metrics"
	"github.com/smazurov/browsercast/internal/stream"
)

// DefaultJoinTimeout bounds how long Stop waits for the loop goroutine.
const DefaultJoinTimeout = 2 * time.Second

// Source produces encoded screenshots.
type Source interface {
	CaptureRaw(ctx context.Context) ([]byte, error)
}

// Sink consumes normalized frames in capture order.
type Sink interface {
	SendFrame(f *frame.Frame) error
}

// State of the loop.
type State string

// Loop states.
const (
	StateIdle     State = "idle"
	StateRunning  State = "running"
	StateStopping State = "stopping"
)

// Outcome of one tick.
type Outcome string

// Tick outcomes.
const (
	OutcomeDelivered Outcome = "delivered" // captured and written to the sink
	OutcomeLatched   Outcome = "latched"   // captured, no sink bound
	OutcomeDropped   Outcome = "dropped"
)

// DropReason explains a dropped tick.
type DropReason string

// Drop reasons.
const (
	ReasonCapture  DropReason = "capture"
	ReasonDecode   DropReason = "decode"
	ReasonGeometry DropReason = "geometry"
	ReasonDelivery DropReason = "delivery"
)

// Result describes one tick.
type Result struct {
	Seq      uint64 // zero when nothing was captured
	Sink     Sink   // sink the frame was offered to, if any
	Outcome  Outcome
	Reason   DropReason
	Err      error
	Duration time.Duration
}

// Stats is a snapshot of the loop counters.
type Stats struct {
	State    State
	Ticks    uint64
	Captured uint64
	Dropped  uint64
	Sent     uint64
	LastSeq  uint64
}

// Options configures a Loop.
type Options struct {
	Width       int
	Height      int
	FPS         int
	JoinTimeout time.Duration
	Logger      *slog.Logger
	// OnResult is called on the loop goroutine after every tick.
	OnResult func(Result)
}

type job struct {
	ctx    context.Context
	fn     func(ctx context.Context) error
	result chan error
}

// Loop captures at a fixed rate on a single goroutine. The source and
// sink can be swapped while it runs; work that needs the browser between
// ticks goes through Exec.
type Loop struct {
	logger      *slog.Logger
	joinTimeout time.Duration
	onResult    func(Result)

	// mu guards the handles, the frame format and the current frame.
	// It is never held across I/O.
	mu      sync.Mutex
	source  Source
	sink    Sink
	width   int
	height  int
	fps     int
	current *frame.Frame

	stateMu sync.Mutex
	state   State
	cancel  context.CancelFunc
	done    chan struct{}
	jobs    chan job // per run, so an abandoned goroutine never takes new work

	seq      atomic.Uint64
	ticks    atomic.Uint64
	captured atomic.Uint64
	dropped  atomic.Uint64
	sent     atomic.Uint64
}

// New creates an idle loop.
func New(opts Options) *Loop {
	if opts.JoinTimeout <= 0 {
		opts.JoinTimeout = DefaultJoinTimeout
	}
	if opts.FPS <= 0 {
		opts.FPS = stream.DefaultFPS
	}
	if opts.Width <= 0 || opts.Height <= 0 {
		opts.Width, opts.Height = stream.DefaultWidth, stream.DefaultHeight
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Loop{
		logger:      logger.With("component", "capture"),
		joinTimeout: opts.JoinTimeout,
		onResult:    opts.OnResult,
		width:       opts.Width,
		height:      opts.Height,
		fps:         opts.FPS,
		state:       StateIdle,
	}
}

// SetSource swaps the frame source. The previous source is not closed.
func (l *Loop) SetSource(src Source) {
	l.mu.Lock()
	l.source = src
	l.mu.Unlock()
}

// SetSink swaps the frame sink; nil stops delivery and keeps capturing.
func (l *Loop) SetSink(sink Sink) {
	l.mu.Lock()
	l.sink = sink
	l.mu.Unlock()
}

// SetFormat changes geometry and rate from the next tick on.
func (l *Loop) SetFormat(width, height, fps int) {
	l.mu.Lock()
	l.width, l.height = width, height
	if fps > 0 {
		l.fps = fps
	}
	l.mu.Unlock()
}

// CurrentFrame returns the most recently captured frame, or nil.
func (l *Loop) CurrentFrame() *frame.Frame {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.current
}

// Start launches the loop goroutine. Counters restart from zero.
func (l *Loop) Start() error {
	l.mu.Lock()
	hasSource := l.source != nil
	l.mu.Unlock()
	if !hasSource {
		return stream.ErrNoSource
	}

	l.stateMu.Lock()
	defer l.stateMu.Unlock()
	if l.state != StateIdle {
		return stream.NewError(stream.CodeAlreadyRunning, "capture loop is "+string(l.state), nil)
	}

	l.seq.Store(0)
	l.ticks.Store(0)
	l.captured.Store(0)
	l.dropped.Store(0)
	l.sent.Store(0)
	l.mu.Lock()
	l.current = nil
	l.mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	l.cancel = cancel
	l.done = make(chan struct{})
	l.jobs = make(chan job)
	l.state = StateRunning

	go l.run(ctx, l.done, l.jobs)
	l.logger.Info("Capture loop started", "interval", l.interval())
	return nil
}

// Stop cancels the loop and waits up to the join timeout. A capture that
// ignores cancellation is abandoned and finishes in the background.
func (l *Loop) Stop() {
	l.stateMu.Lock()
	if l.state != StateRunning {
		l.stateMu.Unlock()
		return
	}
	l.state = StateStopping
	cancel, done := l.cancel, l.done
	l.stateMu.Unlock()

	cancel()
	select {
	case <-done:
	case <-time.After(l.joinTimeout):
		l.logger.Warn("Capture loop did not exit in time", "timeout", l.joinTimeout)
	}

	l.stateMu.Lock()
	l.state = StateIdle
	l.cancel = nil
	l.stateMu.Unlock()
	l.logger.Info("Capture loop stopped", "ticks", l.ticks.Load(), "sent", l.sent.Load())
}

// State returns the loop state.
func (l *Loop) State() State {
	l.stateMu.Lock()
	defer l.stateMu.Unlock()
	return l.state
}

// Stats returns the current counters.
func (l *Loop) Stats() Stats {
	return Stats{
		State:    l.State(),
		Ticks:    l.ticks.Load(),
		Captured: l.captured.Load(),
		Dropped:  l.dropped.Load(),
		Sent:     l.sent.Load(),
		LastSeq:  l.seq.Load(),
	}
}

// Exec runs fn on the loop goroutine between two ticks and returns its
// error. fn's context is cancelled when ctx is done or the loop stops.
func (l *Loop) Exec(ctx context.Context, fn func(ctx context.Context) error) error {
	l.stateMu.Lock()
	running := l.state == StateRunning
	done, jobs := l.done, l.jobs
	l.stateMu.Unlock()
	if !running {
		return stream.NewError(stream.CodeNotRunning, "capture loop is not running", nil)
	}

	j := job{ctx: ctx, fn: fn, result: make(chan error, 1)}
	select {
	case jobs <- j:
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return stream.NewError(stream.CodeNotRunning, "capture loop stopped", nil)
	}

	select {
	case err := <-j.result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		select {
		case err := <-j.result:
			return err
		default:
			return stream.NewError(stream.CodeNotRunning, "capture loop stopped", nil)
		}
	}
}

func (l *Loop) interval() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	return time.Second / time.Duration(l.fps)
}

func (l *Loop) run(ctx context.Context, done chan struct{}, jobs <-chan job) {
	defer close(done)

	timer := time.NewTimer(0)
	defer timer.Stop()
	<-timer.C

	for {
		if ctx.Err() != nil {
			return
		}
		start := time.Now()
		l.tick(ctx, start)

		// sleep the remainder only; an overrun starts the next tick at once
		wait := l.interval() - time.Since(start)
		if wait < 0 {
			wait = 0
		}
		timer.Reset(wait)

	idle:
		for {
			select {
			case <-ctx.Done():
				return
			case j := <-jobs:
				l.runJob(ctx, j)
			case <-timer.C:
				break idle
			}
		}
	}
}

func (l *Loop) runJob(loopCtx context.Context, j job) {
	ctx, cancel := context.WithCancel(j.ctx)
	defer cancel()
	stop := context.AfterFunc(loopCtx, cancel)
	defer stop()
	j.result <- j.fn(ctx)
}

func (l *Loop) tick(ctx context.Context, start time.Time) {
	l.ticks.Add(1)

	l.mu.Lock()
	src, sink, width, height := l.source, l.sink, l.width, l.height
	l.mu.Unlock()

	res := l.captureAndDeliver(ctx, src, sink, width, height, start)
	res.Duration = time.Since(start)

	// the run ended during this tick; a later run may already own the
	// counters, so an abandoned tick is not accounted
	if ctx.Err() != nil {
		return
	}

	if res.Outcome == OutcomeDropped {
		l.dropped.Add(1)
		l.logger.Warn("Frame dropped", "reason", res.Reason, "seq", res.Seq, "error", res.Err)
	}
	metrics.RecordTick(string(res.Outcome), string(res.Reason), res.Duration)
	if l.onResult != nil {
		l.onResult(res)
	}
}

func (l *Loop) captureAndDeliver(ctx context.Context, src Source, sink Sink, width, height int, start time.Time) Result {
	if src == nil {
		return Result{Outcome: OutcomeDropped, Reason: ReasonCapture, Err: stream.ErrNoSource}
	}
	raw, err := src.CaptureRaw(ctx)
	if err != nil {
		return Result{Outcome: OutcomeDropped, Reason: ReasonCapture, Err: err}
	}
	f, err := frame.Normalize(raw, width, height)
	if err != nil {
		return Result{Outcome: OutcomeDropped, Reason: ReasonDecode, Err: err}
	}
	if ctx.Err() != nil {
		// stopped while capturing
		return Result{Outcome: OutcomeDropped, Reason: ReasonCapture, Err: ctx.Err()}
	}
	f.Seq = l.seq.Add(1)
	f.CapturedAt = start
	l.captured.Add(1)

	l.mu.Lock()
	l.current = f
	l.mu.Unlock()

	if sink == nil {
		return Result{Seq: f.Seq, Outcome: OutcomeLatched}
	}
	if err := sink.SendFrame(f); err != nil {
		reason := ReasonDelivery
		if errors.Is(err, stream.ErrGeometryMismatch) {
			reason = ReasonGeometry
		}
		return Result{Seq: f.Seq, Sink: sink, Outcome: OutcomeDropped, Reason: reason, Err: err}
	}
	l.sent.Add(1)
	return Result{Seq: f.Seq, Sink: sink, Outcome: OutcomeDelivered}
}
