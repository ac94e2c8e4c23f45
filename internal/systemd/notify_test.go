package systemd

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"slices"
	"sync"
	"testing"
	"time"
)

type recorder struct {
	mu     sync.Mutex
	states []string
}

func (r *recorder) send(state string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, state)
	return true, nil
}

func (r *recorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.states...)
}

func newTestNotifier(send func(string) (bool, error)) *Notifier {
	return &Notifier{
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		send:   send,
	}
}

func TestLifecycleMessages(t *testing.T) {
	rec := &recorder{}
	n := newTestNotifier(rec.send)

	n.Ready()
	n.Status("session active")
	n.Stopping()

	want := []string{"READY=1", "STATUS=session active", "STOPPING=1"}
	if got := rec.snapshot(); !slices.Equal(got, want) {
		t.Errorf("states = %v, want %v", got, want)
	}
}

func TestNotifyErrorIsSwallowed(t *testing.T) {
	n := newTestNotifier(func(string) (bool, error) {
		return false, errors.New("socket gone")
	})
	n.Ready()
}

func TestWatchdogStopsWithContext(t *testing.T) {
	rec := &recorder{}
	n := newTestNotifier(rec.send)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		n.runWatchdog(ctx, 10*time.Millisecond)
		close(done)
	}()

	time.Sleep(55 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("watchdog did not stop")
	}

	pings := rec.snapshot()
	if len(pings) == 0 {
		t.Fatal("expected watchdog pings")
	}
	for _, s := range pings {
		if s != "WATCHDOG=1" {
			t.Errorf("unexpected state %q", s)
		}
	}
}

func TestRunWatchdogWithoutSystemd(t *testing.T) {
	t.Setenv("WATCHDOG_USEC", "")
	t.Setenv("WATCHDOG_PID", "")
	n := newTestNotifier((&recorder{}).send)

	done := make(chan struct{})
	go func() {
		n.RunWatchdog(context.Background())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("RunWatchdog should return when no watchdog is configured")
	}
}
