package process

import (
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestProcess creates a Process with short timeouts for testing.
func newTestProcess(args ...string) *Process {
	p := New("test", args, testLogger())
	p.gracefulTimeout = 100 * time.Millisecond
	p.killTimeout = 100 * time.Millisecond
	return p
}

// waitDone waits for the process to be reaped, fails test on timeout.
func waitDone(t *testing.T, p *Process, timeout time.Duration) {
	t.Helper()
	select {
	case <-p.Done():
	case <-time.After(timeout):
		t.Fatal("timeout waiting for process to exit")
	}
}

func TestWriteReachesStdin(t *testing.T) {
	out := filepath.Join(t.TempDir(), "out.raw")
	p := newTestProcess("sh", "-c", "cat > "+out)
	p.gracefulTimeout = time.Second

	if err := p.Start(); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	if err := p.Write([]byte("frame-1"), time.Second); err != nil {
		t.Fatalf("Write() failed: %v", err)
	}
	if err := p.Write([]byte("frame-2"), time.Second); err != nil {
		t.Fatalf("Write() failed: %v", err)
	}

	if code := p.Stop(); code != 0 {
		t.Errorf("expected exit code 0, got %d", code)
	}

	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "frame-1frame-2" {
		t.Errorf("stdin content = %q", data)
	}
}

func TestStopForceKillsWhenStdinIgnored(t *testing.T) {
	p := newTestProcess("sleep", "10")
	p.gracefulTimeout = 50 * time.Millisecond

	if err := p.Start(); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}

	start := time.Now()
	if code := p.Stop(); code != 137 {
		t.Errorf("expected exit code 137, got %d", code)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("stop took too long: %v", elapsed)
	}
	if p.Running() {
		t.Error("process still reported running after Stop")
	}
}

func TestKillSkipsGracePeriod(t *testing.T) {
	p := newTestProcess("sleep", "10")
	p.gracefulTimeout = 5 * time.Second

	if err := p.Start(); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}

	start := time.Now()
	p.Kill()
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Kill() waited for the grace period: %v", elapsed)
	}
	select {
	case <-p.Done():
	default:
		t.Error("process not reaped after Kill()")
	}
}

func TestWriteTimeoutWhenReaderStalls(t *testing.T) {
	p := newTestProcess("sleep", "10")
	if err := p.Start(); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	defer p.Stop()

	// larger than any pipe buffer, nobody reads it
	payload := make([]byte, 4<<20)
	err := p.Write(payload, 100*time.Millisecond)
	if !errors.Is(err, os.ErrDeadlineExceeded) {
		t.Errorf("Write() = %v, want deadline exceeded", err)
	}
}

func TestWriteAfterExit(t *testing.T) {
	p := newTestProcess("true")
	if err := p.Start(); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	waitDone(t, p, time.Second)

	if err := p.Write([]byte("x"), 100*time.Millisecond); !errors.Is(err, ErrNotRunning) {
		t.Errorf("Write() after exit = %v, want ErrNotRunning", err)
	}
}

func TestWriteBeforeStart(t *testing.T) {
	p := newTestProcess("cat")
	if err := p.Write([]byte("x"), 0); !errors.Is(err, ErrNotRunning) {
		t.Errorf("Write() before start = %v, want ErrNotRunning", err)
	}
}

func TestStartNonexistentCommand(t *testing.T) {
	p := newTestProcess("/nonexistent/command/that/does/not/exist")
	if err := p.Start(); err == nil {
		t.Fatal("expected start error")
	}
	if info := p.Info(); info.State != StateError || info.LastError == nil {
		t.Errorf("info after failed start = %+v", info)
	}
}

func TestStartEmptyCommand(t *testing.T) {
	p := newTestProcess()
	if err := p.Start(); err == nil {
		t.Fatal("expected error for empty command")
	}
}

func TestStartTwice(t *testing.T) {
	p := newTestProcess("sleep", "10")
	if err := p.Start(); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	defer p.Stop()

	if err := p.Start(); err == nil {
		t.Error("second Start() should fail while running")
	}
}

func TestStopIsIdempotent(t *testing.T) {
	p := newTestProcess("cat")

	// before start
	if code := p.Stop(); code != 0 {
		t.Errorf("Stop() before start = %d, want 0", code)
	}

	if err := p.Start(); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	if code := p.Stop(); code != 0 {
		t.Errorf("first Stop() = %d, want 0", code)
	}
	if code := p.Stop(); code != 0 {
		t.Errorf("second Stop() = %d, want 0", code)
	}
}

func TestConcurrentStop(t *testing.T) {
	p := newTestProcess("cat")
	if err := p.Start(); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}

	var wg sync.WaitGroup
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.Stop()
		}()
	}

	finished := make(chan struct{})
	go func() {
		wg.Wait()
		close(finished)
	}()
	select {
	case <-finished:
	case <-time.After(2 * time.Second):
		t.Fatal("concurrent Stop() calls did not return")
	}
}

func TestExitWithError(t *testing.T) {
	p := newTestProcess("sh", "-c", "exit 42")
	if err := p.Start(); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	waitDone(t, p, time.Second)

	if code := p.ExitCode(); code != 42 {
		t.Errorf("expected exit code 42, got %d", code)
	}
	if info := p.Info(); info.State != StateError {
		t.Errorf("state = %s, want %s", info.State, StateError)
	}
}

func TestTailKeepsRecentStderr(t *testing.T) {
	p := newTestProcess("sh", "-c", "for i in $(seq 1 30); do echo line$i >&2; done")
	if err := p.Start(); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	waitDone(t, p, 2*time.Second)

	tail := p.Tail()
	if len(tail) != defaultTailSize {
		t.Fatalf("tail length = %d, want %d", len(tail), defaultTailSize)
	}
	if tail[0] != "line11" || tail[len(tail)-1] != "line30" {
		t.Errorf("tail = %v", tail)
	}
}

func TestOutputHandler(t *testing.T) {
	handler := &testOutputHandler{}
	p := newTestProcess("sh", "-c", "echo line1; echo line2; echo err1 >&2")
	p.SetOutputHandler(handler)

	if err := p.Start(); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	waitDone(t, p, time.Second)

	handler.mu.Lock()
	defer handler.mu.Unlock()
	if !slices.Contains(handler.stdout, "line1") || !slices.Contains(handler.stdout, "line2") {
		t.Errorf("stdout lines = %v", handler.stdout)
	}
	if !slices.Contains(handler.stderr, "err1") {
		t.Errorf("stderr lines = %v", handler.stderr)
	}
}

func TestLogParserReceivesStderr(t *testing.T) {
	var mu sync.Mutex
	var seen []string
	p := newTestProcess("sh", "-c", `echo "[error] boom" >&2; echo "[warning] careful" >&2`)
	p.SetLogParser(testLogger(), func(line string) (slog.Level, string) {
		mu.Lock()
		seen = append(seen, line)
		mu.Unlock()
		return slog.LevelWarn, line
	})

	if err := p.Start(); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	waitDone(t, p, time.Second)

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 2 {
		t.Errorf("parser saw %d lines, want 2: %v", len(seen), seen)
	}
}

func TestSplitCommand(t *testing.T) {
	tests := []struct {
		command string
		want    []string
		wantErr bool
	}{
		{"ffmpeg", []string{"ffmpeg"}, false},
		{"nice -n 10 ffmpeg", []string{"nice", "-n", "10", "ffmpeg"}, false},
		{`echo hello\ world`, []string{"echo", "hello world"}, false},
		{`sh -c "cat > '/tmp/a b'"`, []string{"sh", "-c", "cat > '/tmp/a b'"}, false},
		{`echo "unclosed`, nil, true},
		{"   ", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.command, func(t *testing.T) {
			got, err := SplitCommand(tt.command)
			if tt.wantErr {
				if err == nil {
					t.Errorf("expected error, got %v", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !slices.Equal(got, tt.want) {
				t.Errorf("SplitCommand(%q) = %q, want %q", tt.command, got, tt.want)
			}
		})
	}
}

type testOutputHandler struct {
	mu     sync.Mutex
	stdout []string
	stderr []string
}

func (h *testOutputHandler) HandleLine(source, line string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if source == "stdout" {
		h.stdout = append(h.stdout, line)
	} else {
		h.stderr = append(h.stderr, line)
	}
}
