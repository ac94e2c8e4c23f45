package ffmpeg

import (
	"log/slog"
	"strings"
)

// ParseLogLevel extracts the log level from ffmpeg stderr.
// With -loglevel level+info ffmpeg prints "[info] message" or
// "[component @ 0x...] [level] message". The level tag is stripped, the
// component prefix is kept. Untagged lines are reported at info.
func ParseLogLevel(line string) (slog.Level, string) {
	if len(line) < 3 || line[0] != '[' {
		return slog.LevelInfo, line
	}

	end := strings.Index(line, "] ")
	if end == -1 {
		return slog.LevelInfo, line
	}

	if level, ok := levelFromTag(line[1:end]); ok {
		return level, line[end+2:]
	}

	component := line[:end+2]
	rest := line[end+2:]
	if len(rest) > 2 && rest[0] == '[' {
		if next := strings.Index(rest, "] "); next != -1 {
			if level, ok := levelFromTag(rest[1:next]); ok {
				return level, component + rest[next+2:]
			}
		}
	}

	return slog.LevelInfo, line
}

func levelFromTag(tag string) (slog.Level, bool) {
	switch tag {
	case "quiet", "panic", "fatal", "error":
		return slog.LevelError, true
	case "warning":
		return slog.LevelWarn, true
	case "info":
		return slog.LevelInfo, true
	case "verbose", "debug", "trace":
		return slog.LevelDebug, true
	}
	return slog.LevelInfo, false
}
