package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/danielgtaylor/huma/v2/humacli"

	"github.com/smazurov/browsercast/cmd"
	"github.com/smazurov/browsercast/internal/api"
	"github.com/smazurov/browsercast/internal/browser"
	"github.com/smazurov/browsercast/internal/config"
	"github.com/smazurov/browsercast/internal/encoder"
	"github.com/smazurov/browsercast/internal/events"
	"github.com/smazurov/browsercast/internal/logging"
	"github.com/smazurov/browsercast/internal/metrics/exporters"
	"github.com/smazurov/browsercast/internal/nats"
	"github.com/smazurov/browsercast/internal/session"
	"github.com/smazurov/browsercast/internal/stream"
	"github.com/smazurov/browsercast/internal/systemd"
	"github.com/smazurov/browsercast/internal/version"
)

// Options for the CLI - flat structure with toml mapping.
type Options struct {
	Config string `help:"Path to configuration file" short:"c" default:"config.toml"`

	// Server settings
	Port string `help:"Port to listen on" short:"p" default:":8090" toml:"server.port" env:"SERVER_PORT"`

	// Auth settings; empty credentials disable auth
	AuthUsername string `help:"Basic auth username" default:"admin" toml:"auth.username" env:"AUTH_USERNAME"`
	AuthPassword string `help:"Basic auth password" default:"password" toml:"auth.password" env:"AUTH_PASSWORD"`

	// Stream defaults
	StreamTargetFile   string `help:"Persisted stream target file" default:"stream.toml" toml:"stream.target_file" env:"STREAM_TARGET_FILE"`
	StreamProtocol     string `help:"Default delivery protocol (rtmp, http, file; empty for preview)" toml:"stream.protocol" env:"STREAM_PROTOCOL"`
	StreamRTMPURL      string `help:"RTMP server URL" toml:"stream.rtmp_url" env:"RTMP_URL"`
	StreamKey          string `help:"RTMP stream key" toml:"stream.stream_key" env:"STREAM_KEY"`
	StreamHTTPEndpoint string `help:"HTTP ingest endpoint" toml:"stream.http_endpoint" env:"HTTP_ENDPOINT"`
	StreamOutputFile   string `help:"Output file for file delivery" default:"/tmp/current_session.mp4" toml:"stream.output_file" env:"OUTPUT_FILE"`
	StreamWidth        int    `help:"Frame width" default:"1280" toml:"stream.width" env:"STREAM_WIDTH"`
	StreamHeight       int    `help:"Frame height" default:"720" toml:"stream.height" env:"STREAM_HEIGHT"`
	StreamFPS          int    `help:"Capture rate" default:"10" toml:"stream.fps" env:"STREAM_FPS"`
	StreamQuality      int    `help:"Preview JPEG quality" default:"80" toml:"stream.quality" env:"STREAM_QUALITY"`
	StreamAutoStart    bool   `help:"Start a session at startup" default:"false" toml:"stream.auto_start" env:"AUTO_START_STREAM"`
	StreamAutoStartURL string `help:"Page opened by auto start" toml:"stream.auto_start_url" env:"AUTO_START_URL"`

	// Encoder settings
	EncoderFFmpegPath   string `help:"ffmpeg command, may include a prefix such as nice" default:"ffmpeg" toml:"encoder.ffmpeg_path" env:"ENCODER_FFMPEG_PATH"`
	EncoderGracePeriod  string `help:"Wait for ffmpeg to finalize output before killing it" default:"5s" toml:"encoder.grace_period" env:"ENCODER_GRACE_PERIOD"`
	EncoderWriteTimeout string `help:"Frame write deadline" default:"2s" toml:"encoder.write_timeout" env:"ENCODER_WRITE_TIMEOUT"`
	EncoderStartupProbe string `help:"How long to watch ffmpeg for an early exit" default:"250ms" toml:"encoder.startup_probe" env:"ENCODER_STARTUP_PROBE"`

	// Capture settings
	CaptureTimeout     string `help:"Screenshot timeout" default:"5s" toml:"capture.timeout" env:"CAPTURE_TIMEOUT"`
	CaptureJoinTimeout string `help:"Wait for the capture loop on stop" default:"2s" toml:"capture.join_timeout" env:"CAPTURE_JOIN_TIMEOUT"`

	// Browser settings
	BrowserExecPath  string `help:"Chrome executable (default: search PATH)" toml:"browser.exec_path" env:"BROWSER_EXEC_PATH"`
	BrowserHeadless  bool   `help:"Run the browser headless" default:"true" toml:"browser.headless" env:"BROWSER_HEADLESS"`
	BrowserNoSandbox bool   `help:"Disable the Chrome sandbox" default:"false" toml:"browser.no_sandbox" env:"BROWSER_NO_SANDBOX"`
	BrowserStartURL  string `help:"Page opened when a start request names none" default:"about:blank" toml:"browser.start_url" env:"BROWSER_START_URL"`

	// Recorder link settings
	NatsEnabled bool   `help:"Run the embedded NATS server for record processes" default:"true" toml:"nats.enabled" env:"NATS_ENABLED"`
	NatsHost    string `help:"NATS listen host" default:"127.0.0.1" toml:"nats.host" env:"NATS_HOST"`
	NatsPort    int    `help:"NATS listen port" default:"4222" toml:"nats.port" env:"NATS_PORT"`

	// Logging settings
	LoggingLevel   string `help:"Global logging level (debug, info, warn, error)" default:"info" toml:"logging.level" env:"LOGGING_LEVEL"`
	LoggingFormat  string `help:"Logging format (text, json)" default:"text" toml:"logging.format" env:"LOGGING_FORMAT"`
	LoggingSession string `help:"Session logging level" default:"info" toml:"logging.session" env:"LOGGING_SESSION"`
	LoggingEncoder string `help:"Encoder logging level" default:"info" toml:"logging.encoder" env:"LOGGING_ENCODER"`
	LoggingFFmpeg  string `help:"ffmpeg output logging level" default:"warn" toml:"logging.ffmpeg" env:"LOGGING_FFMPEG"`
	LoggingBrowser string `help:"Browser logging level" default:"info" toml:"logging.browser" env:"LOGGING_BROWSER"`
	LoggingAPI     string `help:"API logging level" default:"info" toml:"logging.api" env:"LOGGING_API"`
	LoggingNats    string `help:"Recorder link logging level" default:"info" toml:"logging.nats" env:"LOGGING_NATS"`
}

func (o *Options) streamDefaults() stream.Config {
	return stream.Config{
		Protocol:     stream.Protocol(o.StreamProtocol),
		RTMPURL:      o.StreamRTMPURL,
		StreamKey:    o.StreamKey,
		HTTPEndpoint: o.StreamHTTPEndpoint,
		OutputFile:   o.StreamOutputFile,
		Width:        o.StreamWidth,
		Height:       o.StreamHeight,
		FPS:          o.StreamFPS,
		Quality:      o.StreamQuality,
	}.WithDefaults()
}

func (o *Options) loggingConfig() logging.Config {
	return logging.Config{
		Level:  o.LoggingLevel,
		Format: o.LoggingFormat,
		Modules: map[string]string{
			"session": o.LoggingSession,
			"encoder": o.LoggingEncoder,
			"ffmpeg":  o.LoggingFFmpeg,
			"browser": o.LoggingBrowser,
			"api":     o.LoggingAPI,
			"http":    o.LoggingAPI,
			"nats":    o.LoggingNats,
		},
	}
}

func duration(logger *slog.Logger, name, value string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil {
		logger.Warn("Invalid duration, using default", "option", name, "value", value, "default", fallback)
		return fallback
	}
	return d
}

func main() {
	var cli humacli.CLI
	cli = humacli.New(func(hooks humacli.Hooks, opts *Options) {
		// Load configuration automatically
		if loadErr := config.LoadConfig(opts, cli.Root()); loadErr != nil {
			slog.Warn("Failed to load config", "error", loadErr)
		}

		logging.Initialize(opts.loggingConfig())
		logger := logging.GetLogger("main")

		eventBus := events.New()
		logging.SetLogCallback(func(entry logging.LogEntry) {
			eventBus.Publish(api.LogEvent(entry))
		})

		// Stream defaults, overlaid with the last target accepted by the API
		targets := stream.NewStore(opts.StreamTargetFile)
		defaults := opts.streamDefaults()
		if saved, err := targets.Load(); err != nil {
			logger.Warn("Failed to load stream target file", "path", targets.Path(), "error", err)
		} else if saved.Delivers() {
			defaults.Protocol = saved.Protocol
			defaults.RTMPURL = saved.RTMPURL
			defaults.StreamKey = saved.StreamKey
			defaults.HTTPEndpoint = saved.HTTPEndpoint
			defaults.OutputFile = saved.OutputFile
		}

		captureTimeout := duration(logger, "capture.timeout", opts.CaptureTimeout, browser.DefaultCaptureTimeout)
		sess := session.New(session.Options{
			Encoders: cmd.EncoderFactory(encoder.Options{
				Binary:       opts.EncoderFFmpegPath,
				GracePeriod:  duration(logger, "encoder.grace_period", opts.EncoderGracePeriod, encoder.DefaultGracePeriod),
				WriteTimeout: duration(logger, "encoder.write_timeout", opts.EncoderWriteTimeout, encoder.DefaultWriteTimeout),
				StartupProbe: duration(logger, "encoder.startup_probe", opts.EncoderStartupProbe, encoder.DefaultStartupProbe),
				Logger:       logging.GetLogger("encoder"),
				FFmpegLogger: logging.GetLogger("ffmpeg"),
			}),
			Events:      eventBus,
			JoinTimeout: duration(logger, "capture.join_timeout", opts.CaptureJoinTimeout, 2*time.Second),
			Logger:      logging.GetLogger("session"),
		})

		openSource := func(ctx context.Context, url string, width, height int) (session.Source, error) {
			src, err := browser.Open(ctx, browser.ChromeOptions{
				ExecPath:  opts.BrowserExecPath,
				Headless:  opts.BrowserHeadless,
				NoSandbox: opts.BrowserNoSandbox,
				Width:     width,
				Height:    height,
				UserAgent: version.UserAgent(),
				Logger:    logging.GetLogger("browser"),
			}, url, captureTimeout)
			if err != nil {
				return nil, err
			}
			return src, nil
		}

		server := api.NewServer(&api.Options{
			AuthUsername:      opts.AuthUsername,
			AuthPassword:      opts.AuthPassword,
			Session:           sess,
			OpenSource:        openSource,
			Targets:           targets,
			Defaults:          defaults,
			StartURL:          opts.BrowserStartURL,
			EventBus:          eventBus,
			PrometheusHandler: exporters.HTTPHandler(),
		})

		sseExporter := exporters.NewSSEExporter(eventBus, func() exporters.PipelineStats {
			st := sess.Status()
			return exporters.PipelineStats{
				State:    string(st.State),
				Ticks:    st.Ticks,
				Captured: st.Captured,
				Dropped:  st.Dropped,
				Sent:     st.Sent,
			}
		})

		configLogger := logging.GetLogger("config")
		targetWatcher := config.NewConfigWatcher(targets.Path(), stream.LoadFile, configLogger)
		targetWatcher.OnReload(cmd.TargetReloader(sess, configLogger))

		loggingWatcher := config.NewConfigWatcher(opts.Config, func(path string) (logging.Config, error) {
			return config.LoadLoggingConfig(path), nil
		}, configLogger)
		loggingWatcher.OnReload(func(cfg logging.Config) {
			configLogger.Info("Applying reloaded log levels", "level", cfg.Level)
			logging.ApplyLevels(cfg)
		})

		var natsServer *nats.Server
		var natsBridge *nats.Bridge
		var natsControl *nats.ControlPublisher
		natsLogger := logging.GetLogger("nats")

		notifier := systemd.NewNotifier(logging.GetLogger("systemd"))
		unsubscribeStatus := eventBus.Subscribe(func(e events.SessionStateChangedEvent) {
			if e.Protocol != "" {
				notifier.Status("session " + e.State + " (" + e.Protocol + ")")
				return
			}
			notifier.Status("session " + e.State)
		})

		ctx, cancel := context.WithCancel(context.Background())

		hooks.OnStart(func() {
			sseExporter.Start(ctx)
			go notifier.RunWatchdog(ctx)

			// the recorder link is optional; the API works without it
			if opts.NatsEnabled {
				natsServer = nats.NewServer(nats.ServerOptions{
					Host:   opts.NatsHost,
					Port:   opts.NatsPort,
					Logger: natsLogger,
				})
				if err := natsServer.Start(); err != nil {
					logger.Warn("Failed to start NATS server, recorder link disabled", "error", err)
					natsServer = nil
				} else {
					natsBridge = nats.NewBridge(natsServer.ClientURL(), eventBus, natsLogger)
					if err := natsBridge.Start(); err != nil {
						logger.Warn("Failed to start NATS bridge", "error", err)
						natsBridge = nil
					}
					control, err := nats.NewControlPublisher(natsServer.ClientURL(), natsLogger)
					if err != nil {
						logger.Warn("Failed to connect recorder control", "error", err)
					} else {
						natsControl = control
						server.SetRecorderControl(control)
					}
				}
			}

			for _, w := range []interface{ Start() error }{targetWatcher, loggingWatcher} {
				if err := w.Start(); err != nil {
					logger.Warn("Failed to start config watcher, hot-reload disabled", "error", err)
				}
			}

			if opts.StreamAutoStart {
				go autoStart(ctx, logger, sess, openSource, defaults, opts.StreamAutoStartURL, opts.BrowserStartURL)
			}

			logger.Info("Starting HTTP server", "port", opts.Port, "version", version.String())
			notifier.Ready()
			if startErr := server.Start(opts.Port); startErr != nil && !errors.Is(startErr, http.ErrServerClosed) {
				logger.Error("Failed to start HTTP server", "error", startErr)
				os.Exit(1)
			}
		})

		hooks.OnStop(func() {
			logger.Info("Shutting down server")
			notifier.Stopping()
			if stopErr := server.Stop(); stopErr != nil {
				logger.Error("Error stopping HTTP server", "error", stopErr)
			}

			// stop the session after the API stops accepting requests
			if stopErr := sess.Stop(); stopErr != nil {
				logger.Error("Error stopping session", "error", stopErr)
			}

			if natsControl != nil {
				natsControl.Close()
			}
			if natsBridge != nil {
				natsBridge.Stop()
			}
			if natsServer != nil {
				natsServer.Stop()
			}

			_ = targetWatcher.Stop()
			_ = loggingWatcher.Stop()
			unsubscribeStatus()
			sseExporter.Stop()
			cancel()
		})
	})

	cli.Root().AddCommand(cmd.CreateRecordCmd())
	cli.Root().AddCommand(cmd.CreateCheckEncoderCmd())

	cli.Run()
}

// autoStart opens the configured page and starts delivering. Without a
// configured protocol it records to the output file.
func autoStart(
	ctx context.Context,
	logger *slog.Logger,
	sess *session.Session,
	open api.SourceOpener,
	defaults stream.Config,
	url, fallbackURL string,
) {
	if url == "" {
		url = fallbackURL
	}
	cfg := defaults
	if !cfg.Delivers() {
		cfg.Protocol = stream.ProtocolFile
		cfg = cfg.WithDefaults()
	}
	if err := cfg.Validate(); err != nil {
		logger.Error("Auto start skipped, invalid stream config", "error", err)
		return
	}

	src, err := open(ctx, url, cfg.Width, cfg.Height)
	if err != nil {
		logger.Error("Auto start failed to open browser", "url", url, "error", err)
		return
	}
	if err := sess.Start(src, cfg); err != nil {
		_ = src.Close()
		logger.Error("Auto start failed", "error", err)
		return
	}
	logger.Info("Auto started session", "url", url, "protocol", cfg.Protocol, "target", cfg.Redacted().Target())
}
