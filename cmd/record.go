package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/smazurov/browsercast/internal/browser"
	"github.com/smazurov/browsercast/internal/config"
	"github.com/smazurov/browsercast/internal/encoder"
	"github.com/smazurov/browsercast/internal/events"
	"github.com/smazurov/browsercast/internal/logging"
	"github.com/smazurov/browsercast/internal/session"
	"github.com/smazurov/browsercast/internal/stream"
	"github.com/smazurov/browsercast/internal/version"
)

// CreateRecordCmd creates the record command.
func CreateRecordCmd() *cobra.Command {
	var (
		output     string
		targetFile string
		ffmpegPath string
		chromePath string
		width      int
		height     int
		fps        int
		duration   time.Duration
		headless   bool
		noSandbox  bool
		logJSON    bool
		natsURL    string
		recorderID string
	)

	cmd := &cobra.Command{
		Use:   "record [url]",
		Short: "Record a page without the API server",
		Long: `Opens the page in a browser and feeds its frames to ffmpeg until interrupted or --duration elapses. ` +
			`With --target the delivery target is read from a stream target file and follows edits to it.`,
		Args: cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			url := args[0]

			loggingConfig := logging.Config{Level: "info", Format: "text"}
			if logJSON {
				loggingConfig.Format = "json"
			}
			logging.Initialize(loggingConfig)
			logger := logging.GetLogger("record").With("url", url)

			cfg := stream.Config{
				Protocol:   stream.ProtocolFile,
				OutputFile: output,
				Width:      width,
				Height:     height,
				FPS:        fps,
			}
			if targetFile != "" {
				loaded, err := stream.LoadFile(targetFile)
				if err != nil {
					return err
				}
				cfg = loaded
			}
			cfg = cfg.WithDefaults()
			if err := cfg.Validate(); err != nil {
				return err
			}
			if !cfg.Delivers() {
				return fmt.Errorf("target file %s sets no protocol", targetFile)
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			if duration > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, duration)
				defer cancel()
			}
			ctx, cancelRemote := context.WithCancel(ctx)
			defer cancelRemote()

			bus := events.New()
			failed := make(chan any, 1)
			unsubscribe := events.SubscribeToChannel[events.DeliveryFailedEvent](bus, failed)
			defer unsubscribe()

			sess := session.New(session.Options{
				Encoders: EncoderFactory(encoder.Options{
					Binary:       ffmpegPath,
					Logger:       logging.GetLogger("encoder"),
					FFmpegLogger: logging.GetLogger("ffmpeg"),
				}),
				Events: bus,
				Logger: logging.GetLogger("session"),
			})

			src, err := browser.Open(ctx, browser.ChromeOptions{
				ExecPath:  chromePath,
				Headless:  headless,
				NoSandbox: noSandbox,
				Width:     cfg.Width,
				Height:    cfg.Height,
				UserAgent: version.UserAgent(),
				Logger:    logging.GetLogger("browser"),
			}, url, 0)
			if err != nil {
				return err
			}
			if err := sess.Start(src, cfg); err != nil {
				if closeErr := src.Close(); closeErr != nil {
					logger.Warn("Failed to close browser", "error", closeErr)
				}
				return err
			}

			if natsURL != "" {
				if recorderID == "" {
					recorderID = uuid.NewString()[:8]
				}
				link := linkRecorder(ctx, natsURL, recorderID, bus, sess, logger)
				defer link.Close()
				link.OnStop(func(reason string) {
					logger.Info("Stop requested by server", "reason", reason)
					cancelRemote()
				})
			}

			if targetFile != "" {
				watcher := config.NewConfigWatcher(targetFile, stream.LoadFile, logger)
				watcher.OnReload(TargetReloader(sess, logger))
				if err := watcher.Start(); err != nil {
					logger.Warn("Failed to start target watcher, hot-reload disabled", "error", err)
				} else {
					defer func() { _ = watcher.Stop() }()
				}
			}

			logger.Info("Recording", "protocol", cfg.Protocol, "target", cfg.Redacted().Target(), "fps", cfg.FPS)

			var runErr error
			select {
			case <-ctx.Done():
				if errors.Is(ctx.Err(), context.DeadlineExceeded) {
					logger.Info("Duration elapsed")
				}
			case ev := <-failed:
				if df, ok := ev.(events.DeliveryFailedEvent); ok {
					runErr = fmt.Errorf("delivery failed: %s", df.Error)
				}
			}

			if err := sess.Stop(); err != nil {
				logger.Warn("Stop failed", "error", err)
			}
			st := sess.Status()
			logger.Info("Recording finished", "ticks", st.Ticks, "captured", st.Captured, "dropped", st.Dropped)
			return runErr
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", stream.DefaultOutputFile, "Output file")
	cmd.Flags().StringVar(&targetFile, "target", "", "Stream target file to read and watch instead of --output")
	cmd.Flags().StringVar(&ffmpegPath, "ffmpeg", "ffmpeg", "ffmpeg command")
	cmd.Flags().StringVar(&chromePath, "chrome", "", "Chrome executable (default: search PATH)")
	cmd.Flags().IntVar(&width, "width", stream.DefaultWidth, "Frame width")
	cmd.Flags().IntVar(&height, "height", stream.DefaultHeight, "Frame height")
	cmd.Flags().IntVar(&fps, "fps", stream.DefaultFPS, "Capture rate")
	cmd.Flags().DurationVarP(&duration, "duration", "d", 0, "Stop after this long (0 = until interrupted)")
	cmd.Flags().BoolVar(&headless, "headless", true, "Run the browser headless")
	cmd.Flags().BoolVar(&noSandbox, "no-sandbox", false, "Disable the Chrome sandbox (containers)")
	cmd.Flags().BoolVar(&logJSON, "log-json", false, "Use JSON log format")
	cmd.Flags().StringVar(&natsURL, "nats-url", "", "Report to a browsercast server over NATS (e.g. nats://127.0.0.1:4222)")
	cmd.Flags().StringVar(&recorderID, "id", "", "Recorder identifier reported over NATS (default: random)")

	return cmd
}
