// Package cmd holds the CLI subcommands and the wiring they share with the
// server command.
package cmd

import (
	"log/slog"

	"github.com/smazurov/browsercast/internal/encoder"
	"github.com/smazurov/browsercast/internal/session"
	"github.com/smazurov/browsercast/internal/stream"
)

// EncoderFactory returns a factory creating one ffmpeg manager per delivery.
func EncoderFactory(opts encoder.Options) session.EncoderFactory {
	return func() session.Encoder {
		return encoder.New(opts)
	}
}

// TargetReloader returns a stream target file handler that swaps the
// encoder of a delivering session when the target changed.
func TargetReloader(sess *session.Session, logger *slog.Logger) func(stream.Config) {
	return func(cfg stream.Config) {
		cfg = cfg.WithDefaults()
		state := sess.State()
		if state != session.StateDelivering {
			logger.Debug("Target file changed, session not delivering", "state", state)
			return
		}
		if !cfg.Delivers() {
			logger.Info("Target file has no protocol, keeping current delivery")
			return
		}
		if cfg == sess.Config() {
			logger.Debug("Target file reloaded, target unchanged")
			return
		}

		logger.Info("Target changed, reconfiguring", "protocol", cfg.Protocol, "target", cfg.Redacted().Target())
		if err := sess.Reconfigure(cfg); err != nil {
			logger.Warn("Reconfigure from target file failed", "error", err)
		}
	}
}
