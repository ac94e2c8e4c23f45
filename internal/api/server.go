// Package api exposes the streaming session over a huma HTTP API.
package api

import (
	"context"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humago"

	"github.com/smazurov/browsercast/internal/api/models"
	"github.com/smazurov/browsercast/internal/browser"
	"github.com/smazurov/browsercast/internal/events"
	"github.com/smazurov/browsercast/internal/frame"
	"github.com/smazurov/browsercast/internal/logging"
	"github.com/smazurov/browsercast/internal/session"
	"github.com/smazurov/browsercast/internal/stream"
	"github.com/smazurov/browsercast/internal/version"
)

const authRealm = `Basic realm="browsercast"`

// SessionService is the session surface the API drives.
type SessionService interface {
	Start(src session.Source, cfg stream.Config) error
	Stop() error
	Status() session.Status
	// Config returns the running config with the stream key intact.
	Config() stream.Config
	Reconfigure(cfg stream.Config) error
	EnableDelivery(cfg stream.Config) error
	CaptureHighlighted(ctx context.Context, loc browser.Locator) (*frame.Frame, error)
	Navigate(ctx context.Context, url string) error
	Interact(ctx context.Context, a session.Action) (json.RawMessage, error)
	PreviewJPEG() ([]byte, *frame.Frame, error)
}

// SourceOpener launches a browser source showing url.
type SourceOpener func(ctx context.Context, url string, width, height int) (session.Source, error)

// TargetStore persists the last delivery target.
type TargetStore interface {
	Save(cfg stream.Config) error
}

// RecorderControl sends commands to standalone recorder processes.
type RecorderControl interface {
	Stop(recorderID, reason string) error
}

// Options configures the API server.
type Options struct {
	AuthUsername string
	AuthPassword string
	Session      SessionService
	OpenSource   SourceOpener
	// Targets, when set, records delivery targets accepted by the API.
	Targets TargetStore
	// Defaults fills fields a start or reconfigure request leaves empty.
	Defaults          stream.Config
	StartURL          string
	Recorders         RecorderControl
	EventBus          *events.Bus
	PrometheusHandler http.Handler
}

// Server is the huma API server.
type Server struct {
	api        huma.API
	mux        *http.ServeMux
	httpServer *http.Server
	session    SessionService
	eventBus   *events.Bus
	options    *Options
	logger     *slog.Logger
}

// NewServer creates the API on a Go 1.22+ ServeMux.
func NewServer(opts *Options) *Server {
	mux := http.NewServeMux()

	corsConfig := DefaultCORSConfig()
	AddCORSHandler(mux, corsConfig)

	config := huma.DefaultConfig("browsercast API", version.String())
	config.Info.Description = "Browser capture and streaming control plane"
	config.Servers = []*huma.Server{}
	config.Components.SecuritySchemes = map[string]*huma.SecurityScheme{
		"basicAuth": {
			Type:   "http",
			Scheme: "basic",
		},
	}

	api := humago.New(mux, config)

	eventBus := opts.EventBus
	if eventBus == nil {
		eventBus = events.New()
	}

	server := &Server{
		api:      api,
		mux:      mux,
		session:  opts.Session,
		eventBus: eventBus,
		options:  opts,
		logger:   logging.GetLogger("api"),
	}

	api.UseMiddleware(NewCORSMiddleware(corsConfig))
	api.UseMiddleware(HTTPLoggingMiddleware)
	if opts.AuthUsername != "" && opts.AuthPassword != "" {
		api.UseMiddleware(server.basicAuthMiddleware(opts.AuthUsername, opts.AuthPassword))
	}

	if opts.PrometheusHandler != nil {
		mux.Handle("GET /metrics", opts.PrometheusHandler)
	}

	server.registerRoutes()
	return server
}

// basicAuthMiddleware checks HTTP basic credentials on operations that
// declare a security requirement. SSE clients may pass the encoded
// credentials in the auth query parameter instead.
func (s *Server) basicAuthMiddleware(username, password string) func(huma.Context, func(huma.Context)) {
	reject := func(ctx huma.Context, msg string, errs ...error) {
		ctx.SetHeader("WWW-Authenticate", authRealm)
		huma.WriteErr(s.api, ctx, http.StatusUnauthorized, msg, errs...)
	}

	return func(ctx huma.Context, next func(huma.Context)) {
		if op := ctx.Operation(); op != nil && len(op.Security) == 0 {
			next(ctx)
			return
		}

		encoded := ctx.Query("auth")
		if header := ctx.Header("Authorization"); header != "" {
			const prefix = "Basic "
			if !strings.HasPrefix(header, prefix) {
				reject(ctx, "Invalid authentication type")
				return
			}
			encoded = header[len(prefix):]
		}
		if encoded == "" {
			reject(ctx, "Authentication required")
			return
		}

		decoded, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			reject(ctx, "Invalid credentials format", err)
			return
		}
		user, pass, ok := strings.Cut(string(decoded), ":")
		if !ok {
			reject(ctx, "Invalid credentials format")
			return
		}
		userOK := subtle.ConstantTimeCompare([]byte(user), []byte(username)) == 1
		passOK := subtle.ConstantTimeCompare([]byte(pass), []byte(password)) == 1
		if !userOK || !passOK {
			reject(ctx, "Invalid credentials")
			return
		}
		next(ctx)
	}
}

// SetRecorderControl enables the recorder stop endpoint. It is set once the
// recorder link is up, before the server starts serving.
func (s *Server) SetRecorderControl(control RecorderControl) {
	s.options.Recorders = control
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// GetAPI returns the Huma API instance.
func (s *Server) GetAPI() huma.API {
	return s.api
}

// Start serves on addr until Stop is called.
func (s *Server) Start(addr string) error {
	s.logger.Info("Starting API server", "addr", addr)
	s.logger.Info("OpenAPI documentation available", "url", "http://"+addr+"/docs")

	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: s.mux,
	}
	return s.httpServer.ListenAndServe()
}

// Stop closes the listener and open connections, SSE streams included.
func (s *Server) Stop() error {
	s.logger.Info("Stopping API server")
	if s.httpServer != nil {
		return s.httpServer.Close()
	}
	return nil
}

func (s *Server) registerRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "health-check",
		Method:      http.MethodGet,
		Path:        "/api/health",
		Summary:     "Health",
		Description: "Check API health status",
		Tags:        []string{"health"},
		Security:    []map[string][]string{},
	}, func(ctx context.Context, input *struct{}) (*models.HealthResponse, error) {
		return &models.HealthResponse{
			Body: models.HealthData{
				Status:  "ok",
				Message: "API is healthy",
			},
		}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "get-version",
		Method:      http.MethodGet,
		Path:        "/api/version",
		Summary:     "Version",
		Description: "Get application version information",
		Tags:        []string{"system"},
		Security:    []map[string][]string{},
	}, func(ctx context.Context, input *struct{}) (*models.VersionResponse, error) {
		v := version.Get()
		return &models.VersionResponse{
			Body: models.VersionData{
				Version:   v.Version,
				GitCommit: v.GitCommit,
				BuildDate: v.BuildDate,
				BuildID:   v.BuildID,
				GoVersion: v.GoVersion,
				Compiler:  v.Compiler,
				Platform:  v.Platform,
			},
		}, nil
	})

	s.registerSessionRoutes()
	s.registerInteractionRoutes()
	s.registerSSERoutes()
	s.registerMetricsRoutes()
	s.registerLogRoutes()
	s.registerRecorderRoutes()
}

// withAuth returns security requirement for basic auth
func withAuth() []map[string][]string {
	return []map[string][]string{
		{"basicAuth": {}},
	}
}
