package process

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"
)

// ErrNotRunning is returned when writing to a process that is not running.
var ErrNotRunning = errors.New("process not running")

// OutputHandler receives output lines from the subprocess.
type OutputHandler interface {
	HandleLine(source, line string)
}

// LogParser parses a log line and returns its level and message.
type LogParser func(line string) (slog.Level, string)

const defaultTailSize = 20

// Process owns one subprocess fed through its stdin.
//
// Stdin is an os.Pipe rather than exec's StdinPipe so writes honour
// deadlines; a reader that stops draining shows up as a timeout instead
// of a blocked writer.
type Process struct {
	name            string
	args            []string
	logger          *slog.Logger
	processLogger   *slog.Logger // logger for process output (nil = use logger)
	logParser       LogParser    // parses process output for log level (nil = info)
	outputHandler   OutputHandler
	gracefulTimeout time.Duration // wait after closing stdin before force kill
	killTimeout     time.Duration // wait after SIGKILL before giving up

	mu        sync.Mutex
	state     State
	cmd       *exec.Cmd
	stdin     *os.File
	done      chan struct{}
	exitCode  int
	lastErr   error
	startedAt time.Time
	tail      []string
}

// New creates a process for args[0] with the remaining args.
func New(name string, args []string, logger *slog.Logger) *Process {
	return &Process{
		name:            name,
		args:            args,
		logger:          logger,
		gracefulTimeout: 5 * time.Second,
		killTimeout:     5 * time.Second,
		state:           StateIdle,
	}
}

// SetLogParser sets a custom logger and log parser for process stderr.
func (p *Process) SetLogParser(logger *slog.Logger, parser LogParser) {
	p.processLogger = logger
	p.logParser = parser
}

// SetOutputHandler registers a handler for every stdout and stderr line.
func (p *Process) SetOutputHandler(handler OutputHandler) {
	p.outputHandler = handler
}

// SetTimeouts overrides the graceful and kill timeouts used by Stop.
func (p *Process) SetTimeouts(graceful, kill time.Duration) {
	if graceful > 0 {
		p.gracefulTimeout = graceful
	}
	if kill > 0 {
		p.killTimeout = kill
	}
}

// Command returns the command line for logs.
func (p *Process) Command() string {
	return strings.Join(p.args, " ")
}

// Start launches the subprocess.
func (p *Process) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state == StateRunning || p.state == StateStopping || p.state == StateStarting {
		return fmt.Errorf("process %s already %s", p.name, p.state)
	}
	if len(p.args) == 0 {
		return fmt.Errorf("empty command")
	}
	p.state = StateStarting

	cmd := exec.Command(p.args[0], p.args[1:]...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdinR, stdinW, err := os.Pipe()
	if err != nil {
		p.fail(err)
		return fmt.Errorf("failed to create stdin pipe: %w", err)
	}
	cmd.Stdin = stdinR

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		stdinR.Close()
		stdinW.Close()
		p.fail(err)
		return fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		stdinR.Close()
		stdinW.Close()
		p.fail(err)
		return fmt.Errorf("failed to create stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		stdinR.Close()
		stdinW.Close()
		p.fail(err)
		p.logger.Error("Failed to start process", "error", err, "command", p.Command())
		return err
	}
	// the child holds its own copy of the read end
	stdinR.Close()

	p.cmd = cmd
	p.stdin = stdinW
	p.done = make(chan struct{})
	p.exitCode = 0
	p.lastErr = nil
	p.tail = nil
	p.startedAt = time.Now()
	p.state = StateRunning

	p.logger.Info("Process started", "name", p.name, "pid", cmd.Process.Pid, "command", p.Command())

	outputDone := make(chan struct{}, 2)
	go func() {
		p.streamOutput(stdout, "stdout")
		outputDone <- struct{}{}
	}()
	go func() {
		p.streamOutput(stderr, "stderr")
		outputDone <- struct{}{}
	}()

	go p.wait(cmd, p.done, outputDone)
	return nil
}

// fail records a start failure. Caller holds p.mu.
func (p *Process) fail(err error) {
	p.state = StateError
	p.lastErr = err
}

// wait reaps the subprocess once both output streams are drained.
func (p *Process) wait(cmd *exec.Cmd, done chan struct{}, outputDone <-chan struct{}) {
	<-outputDone
	<-outputDone
	err := cmd.Wait()
	exitCode := exitCodeFromError(err)

	p.mu.Lock()
	p.exitCode = exitCode
	if p.stdin != nil {
		p.stdin.Close()
		p.stdin = nil
	}
	if p.state == StateStopping {
		p.state = StateIdle
	} else if exitCode != 0 {
		p.state = StateError
		p.lastErr = fmt.Errorf("exited with code %d", exitCode)
	} else {
		p.state = StateIdle
	}
	p.mu.Unlock()

	p.logger.Info("Process exited", "name", p.name, "exit_code", exitCode)
	close(done)
}

// Write sends b to the process stdin. A positive timeout bounds the write;
// on expiry the error wraps os.ErrDeadlineExceeded.
func (p *Process) Write(b []byte, timeout time.Duration) error {
	p.mu.Lock()
	stdin := p.stdin
	p.mu.Unlock()

	if stdin == nil {
		return ErrNotRunning
	}
	if timeout > 0 {
		if err := stdin.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
			return fmt.Errorf("set write deadline: %w", err)
		}
	}
	if _, err := stdin.Write(b); err != nil {
		return err
	}
	return nil
}

// Done is closed when the running subprocess has been reaped.
// It returns nil before the first successful Start.
func (p *Process) Done() <-chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.done
}

// Running reports whether the subprocess is alive and accepting input.
func (p *Process) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state == StateRunning
}

// ExitCode returns the last exit code.
func (p *Process) ExitCode() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exitCode
}

// Tail returns the most recent stderr lines.
func (p *Process) Tail() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.tail...)
}

// Info returns a snapshot of the process state.
func (p *Process) Info() Info {
	p.mu.Lock()
	defer p.mu.Unlock()
	info := Info{
		ID:        p.name,
		State:     p.state,
		StartedAt: p.startedAt,
		LastError: p.lastErr,
	}
	if p.cmd != nil && p.cmd.Process != nil && p.state == StateRunning {
		info.PID = p.cmd.Process.Pid
	}
	return info
}

// Stop closes stdin so the process can flush and exit, then force-kills
// the process group if it has not exited within the graceful timeout.
// Safe to call in any state; returns the exit code.
func (p *Process) Stop() int {
	return p.shutdown(p.gracefulTimeout)
}

// Kill closes stdin and kills the process group without a grace period.
func (p *Process) Kill() int {
	return p.shutdown(0)
}

func (p *Process) shutdown(grace time.Duration) int {
	p.mu.Lock()
	done := p.done
	switch p.state {
	case StateRunning:
		p.state = StateStopping
		if p.stdin != nil {
			p.stdin.Close()
			p.stdin = nil
		}
	case StateStopping:
		// another caller is stopping it; fall through to wait
	default:
		code := p.exitCode
		p.mu.Unlock()
		return code
	}
	p.mu.Unlock()

	return p.waitForExit(done, grace)
}

// waitForExit waits for the process to exit with a timeout, force-killing if needed.
func (p *Process) waitForExit(done <-chan struct{}, timeout time.Duration) int {
	select {
	case <-done:
		return p.ExitCode()
	default:
	}

	if timeout > 0 {
		select {
		case <-done:
			return p.ExitCode()
		case <-time.After(timeout):
		}
		p.logger.Warn("Graceful shutdown timeout, forcing kill", "name", p.name, "timeout", timeout)
	}

	p.kill()

	select {
	case <-done:
	case <-time.After(p.killTimeout):
		p.logger.Error("Process did not exit after kill signal", "name", p.name)
	}
	return 137
}

// kill sends SIGKILL to the whole process group.
func (p *Process) kill() {
	p.mu.Lock()
	cmd := p.cmd
	p.mu.Unlock()
	if cmd == nil || cmd.Process == nil {
		return
	}
	if err := syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL); err != nil {
		// group already gone; fall back to the leader alone
		if killErr := cmd.Process.Kill(); killErr != nil && !errors.Is(killErr, os.ErrProcessDone) {
			p.logger.Error("Failed to kill process", "error", killErr)
		}
	}
}

// exitCodeFromError extracts exit code from process error.
// Returns 0 for nil error, the exit code for ExitError, or 1 for other errors.
func exitCodeFromError(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return 1
}

// streamOutput logs subprocess output line by line and keeps a short
// stderr tail for error reports.
func (p *Process) streamOutput(reader io.Reader, source string) {
	scanner := bufio.NewScanner(reader)

	logger := p.processLogger
	if logger == nil {
		logger = p.logger
	}

	for scanner.Scan() {
		line := scanner.Text()

		if p.outputHandler != nil {
			p.outputHandler.HandleLine(source, line)
		}
		// stdout carries -progress blocks; they are handled above, not logged
		if source == "stdout" && p.outputHandler != nil {
			continue
		}

		level, msg := slog.LevelInfo, line
		if p.logParser != nil {
			level, msg = p.logParser(line)
		}
		logger.Log(context.Background(), level, msg)

		if source == "stderr" {
			p.mu.Lock()
			p.tail = append(p.tail, line)
			if len(p.tail) > defaultTailSize {
				p.tail = p.tail[len(p.tail)-defaultTailSize:]
			}
			p.mu.Unlock()
		}
	}

	if err := scanner.Err(); err != nil {
		p.logger.Warn("Error reading output", "source", source, "error", err)
	}
}

// SplitCommand parses a command string into arguments.
// Handles quoted strings and basic escaping.
func SplitCommand(command string) ([]string, error) {
	var args []string
	var current strings.Builder
	inQuote := false
	quoteChar := rune(0)

	runes := []rune(strings.TrimSpace(command))

	for i := 0; i < len(runes); i++ {
		r := runes[i]
		switch {
		case r == '"' || r == '\'':
			switch {
			case !inQuote:
				inQuote = true
				quoteChar = r
			case r == quoteChar:
				inQuote = false
				quoteChar = 0
			default:
				current.WriteRune(r)
			}
		case r == ' ' && !inQuote:
			if current.Len() > 0 {
				args = append(args, current.String())
				current.Reset()
			}
		case r == '\\' && i+1 < len(runes):
			i++
			current.WriteRune(runes[i])
		default:
			current.WriteRune(r)
		}
	}

	if current.Len() > 0 {
		args = append(args, current.String())
	}

	if inQuote {
		return nil, fmt.Errorf("unclosed quote in command")
	}

	return args, nil
}
