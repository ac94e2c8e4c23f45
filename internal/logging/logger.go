package logging

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
)

const (
	defaultBufferSize = 1000
	journalIdentifier = "browsercast"
)

// Config represents logging configuration.
type Config struct {
	Level   string            `toml:"level"`
	Format  string            `toml:"format"`
	Modules map[string]string `toml:"modules"`
}

var (
	mutex         sync.RWMutex
	globalConfig  Config
	isInitialized bool
	rootLevel     = &slog.LevelVar{}
	moduleLoggers = make(map[string]*slog.Logger)
	moduleLevels  = make(map[string]*slog.LevelVar)
	logBuffer     = NewRingBuffer(defaultBufferSize)
	logCallback   LogCallback
)

// Initialize sets up the logging system. Loggers handed out earlier keep
// their level variable, so their levels follow the new configuration.
func Initialize(config Config) {
	mutex.Lock()
	defer mutex.Unlock()

	globalConfig = config
	isInitialized = true
	rootLevel.Set(levelOr(config.Level, slog.LevelInfo))

	for module, levelVar := range moduleLevels {
		levelVar.Set(moduleLevel(config, module))
		moduleLoggers[module] = slog.New(createHandler(config.Format, levelVar)).With("module", module)
	}

	slog.SetDefault(slog.New(createHandler(config.Format, rootLevel)))
}

// ApplyLevels updates the global and per-module levels without rebuilding
// handlers. Used when the config file is reloaded.
func ApplyLevels(config Config) {
	mutex.Lock()
	defer mutex.Unlock()

	globalConfig.Level = config.Level
	globalConfig.Modules = config.Modules
	rootLevel.Set(levelOr(config.Level, slog.LevelInfo))
	for module, levelVar := range moduleLevels {
		levelVar.Set(moduleLevel(globalConfig, module))
	}
}

// SetLevel changes the level of one module at runtime.
func SetLevel(module, level string) error {
	parsed := parseLevel(level)
	if parsed == nil {
		return fmt.Errorf("unknown log level %q", level)
	}
	GetLogger(module)

	mutex.Lock()
	defer mutex.Unlock()
	moduleLevels[module].Set(*parsed)
	return nil
}

// Levels returns the effective level of every module logger.
func Levels() map[string]string {
	mutex.RLock()
	defer mutex.RUnlock()
	out := make(map[string]string, len(moduleLevels))
	for module, levelVar := range moduleLevels {
		out[module] = levelToString(levelVar.Level())
	}
	return out
}

// GetBuffer returns the log ring buffer for reading historical logs.
func GetBuffer() *RingBuffer {
	return logBuffer
}

// SetLogCallback sets a callback invoked for each buffered entry.
func SetLogCallback(callback LogCallback) {
	mutex.Lock()
	defer mutex.Unlock()
	logCallback = callback
}

func currentCallback() LogCallback {
	mutex.RLock()
	defer mutex.RUnlock()
	return logCallback
}

// GetLogger returns a logger for the specified module, creating it if needed.
func GetLogger(module string) *slog.Logger {
	mutex.RLock()
	logger, ok := moduleLoggers[module]
	mutex.RUnlock()
	if ok {
		return logger
	}

	mutex.Lock()
	defer mutex.Unlock()
	if logger, ok := moduleLoggers[module]; ok {
		return logger
	}

	levelVar := &slog.LevelVar{}
	format := "text"
	if isInitialized {
		levelVar.Set(moduleLevel(globalConfig, module))
		format = globalConfig.Format
	}

	logger = slog.New(createHandler(format, levelVar)).With("module", module)
	moduleLoggers[module] = logger
	moduleLevels[module] = levelVar
	return logger
}

func moduleLevel(config Config, module string) slog.Level {
	level := levelOr(config.Level, slog.LevelInfo)
	if s, ok := config.Modules[module]; ok {
		level = levelOr(s, level)
	}
	return level
}

// createHandler routes records to stdout, the journal when present, and
// the ring buffer.
func createHandler(format string, level slog.Leveler) slog.Handler {
	opts := &slog.HandlerOptions{Level: level}

	var stdoutHandler slog.Handler
	if format == "json" {
		stdoutHandler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		stdoutHandler = slog.NewTextHandler(os.Stdout, opts)
	}

	var handlers []slog.Handler
	if isStdoutAvailable() {
		handlers = append(handlers, stdoutHandler)
	}
	if IsJournalAvailable() {
		handlers = append(handlers, NewJournalHandler(journalIdentifier, level))
	}
	handlers = append(handlers, NewBufferHandler(logBuffer, level))

	if len(handlers) == 1 {
		return handlers[0]
	}
	return NewMultiHandler(handlers...)
}

// isStdoutAvailable checks if stdout is connected to a terminal, pipe, socket, or file.
func isStdoutAvailable() bool {
	fi, err := os.Stdout.Stat()
	if err != nil {
		return false
	}
	mode := fi.Mode()
	return (mode&os.ModeCharDevice) != 0 || (mode&os.ModeNamedPipe) != 0 || (mode&os.ModeSocket) != 0 || mode.IsRegular()
}

func levelOr(s string, fallback slog.Level) slog.Level {
	if l := parseLevel(s); l != nil {
		return *l
	}
	return fallback
}

// parseLevel converts string level to slog.Level.
func parseLevel(level string) *slog.Level {
	var l slog.Level
	switch strings.ToLower(level) {
	case "debug":
		l = slog.LevelDebug
	case "info":
		l = slog.LevelInfo
	case "warn", "warning":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		return nil
	}
	return &l
}
