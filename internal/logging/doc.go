// Package logging provides structured logging with per-module log levels.
//
// Records go to stdout when it is a terminal, pipe or file, to the systemd
// journal when journald is running, and always to an in-memory ring buffer
// that backs the log stream endpoint.
//
// Initialize once at startup, then ask for a logger per module:
//
//	logging.Initialize(logging.Config{
//		Level:  "info",
//		Format: "text",
//		Modules: map[string]string{
//			"capture": "debug",
//			"ffmpeg":  "warn",
//		},
//	})
//
//	logger := logging.GetLogger("session")
//	logger.Info("Session started", "session_id", id)
//
// Module levels are LevelVars, so ApplyLevels and SetLevel take effect on
// loggers that were handed out earlier.
//
// Journal entries carry SYSLOG_IDENTIFIER=browsercast and one upper-case
// field per attribute:
//
//	journalctl -t browsercast -f
//	journalctl -t browsercast MODULE=encoder -p err
//
// TOML configuration:
//
//	[logging]
//	level = "info"
//	format = "text"
//
//	[logging.modules]
//	capture = "debug"
//	ffmpeg = "warn"
package logging
