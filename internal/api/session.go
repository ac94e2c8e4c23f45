package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/smazurov/browsercast/internal/api/models"
	"github.com/smazurov/browsercast/internal/session"
	"github.com/smazurov/browsercast/internal/stream"
)

func (s *Server) registerSessionRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "get-session",
		Method:      http.MethodGet,
		Path:        "/api/session",
		Summary:     "Session Status",
		Description: "Get the session state, counters and resolved configuration",
		Tags:        []string{"session"},
		Errors:      []int{401},
		Security:    withAuth(),
	}, func(ctx context.Context, input *struct{}) (*models.SessionStatusResponse, error) {
		return s.statusResponse(), nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "start-session",
		Method:      http.MethodPost,
		Path:        "/api/session/start",
		Summary:     "Start Session",
		Description: "Open a browser on the given page and start capturing. Delivery starts too when a protocol is set.",
		Tags:        []string{"session"},
		Errors:      []int{400, 401, 409, 502, 503},
		Security:    withAuth(),
	}, func(ctx context.Context, input *models.StartSessionRequest) (*models.SessionStatusResponse, error) {
		url := input.Body.URL
		if url == "" {
			url = s.options.StartURL
		}
		if url == "" {
			return nil, huma.Error400BadRequest("url is required")
		}

		cfg := s.resolveConfig(input.Body.Config, true)
		if err := cfg.Validate(); err != nil {
			return nil, mapSessionError(err)
		}
		if s.session.Status().State != session.StateIdle {
			return nil, mapSessionError(stream.ErrAlreadyActive)
		}
		if s.options.OpenSource == nil {
			return nil, mapSessionError(stream.NewError(stream.CodeSourceUnavailable, "no browser configured", nil))
		}

		src, err := s.options.OpenSource(ctx, url, cfg.Width, cfg.Height)
		if err != nil {
			return nil, mapSessionError(err)
		}
		if err := s.session.Start(src, cfg); err != nil {
			if closeErr := src.Close(); closeErr != nil {
				s.logger.Warn("Failed to close browser after start failure", "error", closeErr)
			}
			return nil, mapSessionError(err)
		}
		s.saveTarget(cfg)
		return s.statusResponse(), nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "stop-session",
		Method:      http.MethodPost,
		Path:        "/api/session/stop",
		Summary:     "Stop Session",
		Description: "Stop delivery and capture and close the browser. Stopping an idle session succeeds.",
		Tags:        []string{"session"},
		Errors:      []int{401, 500},
		Security:    withAuth(),
	}, func(ctx context.Context, input *struct{}) (*models.SessionStatusResponse, error) {
		if err := s.session.Stop(); err != nil {
			return nil, mapSessionError(err)
		}
		return s.statusResponse(), nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "reconfigure-session",
		Method:      http.MethodPut,
		Path:        "/api/session/config",
		Summary:     "Reconfigure Session",
		Description: "Replace the encoder of a delivering session without stopping capture",
		Tags:        []string{"session"},
		Errors:      []int{400, 401, 409, 502},
		Security:    withAuth(),
	}, func(ctx context.Context, input *models.ReconfigureRequest) (*models.SessionStatusResponse, error) {
		cfg := s.liveConfig(input.Body)
		if err := s.session.Reconfigure(cfg); err != nil {
			return nil, mapSessionError(err)
		}
		s.saveTarget(cfg)
		return s.statusResponse(), nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "enable-delivery",
		Method:      http.MethodPost,
		Path:        "/api/session/delivery",
		Summary:     "Enable Delivery",
		Description: "Start an encoder for a session that is capturing without one",
		Tags:        []string{"session"},
		Errors:      []int{400, 401, 409, 502},
		Security:    withAuth(),
	}, func(ctx context.Context, input *models.ReconfigureRequest) (*models.SessionStatusResponse, error) {
		cfg := s.liveConfig(input.Body)
		if err := s.session.EnableDelivery(cfg); err != nil {
			return nil, mapSessionError(err)
		}
		s.saveTarget(cfg)
		return s.statusResponse(), nil
	})
}

// resolveConfig fills empty request fields from the server defaults. The
// default protocol applies only to a start request without any config.
func (s *Server) resolveConfig(d models.StreamConfigData, start bool) stream.Config {
	def := s.options.Defaults
	if start && d == (models.StreamConfigData{}) {
		return def.WithDefaults()
	}
	base := def
	base.Protocol = stream.ProtocolNone
	return overlay(d, base).WithDefaults()
}

// liveConfig merges a reconfigure or enable-delivery request onto the
// running session config. Target fields the session never had come from
// the server defaults, so enabling delivery on a preview session can use
// the saved target.
func (s *Server) liveConfig(d models.StreamConfigData) stream.Config {
	def := s.options.Defaults
	cfg := overlay(d, s.session.Config())
	cfg.Protocol = or(cfg.Protocol, def.Protocol)
	cfg.RTMPURL = or(cfg.RTMPURL, def.RTMPURL)
	cfg.StreamKey = or(cfg.StreamKey, def.StreamKey)
	cfg.HTTPEndpoint = or(cfg.HTTPEndpoint, def.HTTPEndpoint)
	cfg.OutputFile = or(cfg.OutputFile, def.OutputFile)
	return cfg.WithDefaults()
}

// overlay returns base with every non-empty request field applied.
func overlay(d models.StreamConfigData, base stream.Config) stream.Config {
	return stream.Config{
		Protocol:     or(stream.Protocol(d.Protocol), base.Protocol),
		RTMPURL:      or(d.RTMPURL, base.RTMPURL),
		StreamKey:    or(d.StreamKey, base.StreamKey),
		HTTPEndpoint: or(d.HTTPEndpoint, base.HTTPEndpoint),
		OutputFile:   or(d.OutputFile, base.OutputFile),
		Width:        or(d.Width, base.Width),
		Height:       or(d.Height, base.Height),
		FPS:          or(d.FPS, base.FPS),
		Quality:      or(d.Quality, base.Quality),
	}
}

func or[T comparable](v, fallback T) T {
	var zero T
	if v == zero {
		return fallback
	}
	return v
}

func (s *Server) saveTarget(cfg stream.Config) {
	if s.options.Targets == nil || !cfg.Delivers() {
		return
	}
	if err := s.options.Targets.Save(cfg); err != nil {
		s.logger.Warn("Failed to persist stream target", "error", err)
	}
}

func (s *Server) statusResponse() *models.SessionStatusResponse {
	return &models.SessionStatusResponse{Body: statusToAPI(s.session.Status())}
}

func statusToAPI(st session.Status) models.SessionStatusData {
	out := models.SessionStatusData{
		SessionID:      st.ID,
		State:          string(st.State),
		Active:         st.Active(),
		Delivering:     st.Delivering(),
		HasSource:      st.HasSource,
		Config:         configToAPI(st.Config),
		Resolution:     st.Config.Resolution(),
		Ticks:          st.Ticks,
		Captured:       st.Captured,
		Dropped:        st.Dropped,
		Sent:           st.Sent,
		EncoderRunning: st.EncoderRunning,
		EncoderFPS:     st.EncoderFPS,
		EncoderSpeed:   st.EncoderSpeed,
		LastError:      st.LastError,
	}
	if !st.StartedAt.IsZero() && st.State != session.StateIdle {
		started := st.StartedAt
		out.StartedAt = &started
	}
	return out
}

func configToAPI(c stream.Config) models.StreamConfigData {
	return models.StreamConfigData{
		Protocol:     string(c.Protocol),
		RTMPURL:      c.RTMPURL,
		StreamKey:    c.StreamKey,
		HTTPEndpoint: c.HTTPEndpoint,
		OutputFile:   c.OutputFile,
		Width:        c.Width,
		Height:       c.Height,
		FPS:          c.FPS,
		Quality:      c.Quality,
	}
}
