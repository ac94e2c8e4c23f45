package api

import (
	"context"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/sse"

	"github.com/smazurov/browsercast/internal/api/models"
	"github.com/smazurov/browsercast/internal/events"
	"github.com/smazurov/browsercast/internal/logging"
)

// LogEvent converts a buffered log entry to its SSE form.
func LogEvent(entry logging.LogEntry) events.LogEntryEvent {
	return events.LogEntryEvent{
		Seq:        entry.Seq,
		Timestamp:  entry.Timestamp.Format(time.RFC3339Nano),
		Level:      entry.Level,
		Module:     entry.Module,
		Message:    entry.Message,
		Attributes: entry.Attributes,
	}
}

// registerLogRoutes registers log streaming and runtime level control.
func (s *Server) registerLogRoutes() {
	sse.Register(s.api, huma.Operation{
		OperationID: "logs-stream",
		Method:      http.MethodGet,
		Path:        "/api/logs/stream",
		Summary:     "Log Stream",
		Description: "Real-time log streaming via Server-Sent Events. Sends buffered logs first, then streams new logs.",
		Tags:        []string{"logs"},
		Security:    withAuth(),
		Errors:      []int{401},
	}, map[string]any{
		"message": events.LogEntryEvent{},
	}, func(ctx context.Context, _ *struct{}, send sse.Sender) {
		// subscribe before replay so nothing logged in between is lost
		eventCh := make(chan any, 100)
		unsubscribe := events.SubscribeToChannel[events.LogEntryEvent](s.eventBus, eventCh)
		defer unsubscribe()

		var lastSeq uint64
		for _, entry := range logging.GetBuffer().ReadAll() {
			if err := send.Data(LogEvent(entry)); err != nil {
				return
			}
			lastSeq = entry.Seq
		}

		for {
			select {
			case <-ctx.Done():
				return
			case event := <-eventCh:
				if ev, ok := event.(events.LogEntryEvent); ok && ev.Seq <= lastSeq {
					continue
				}
				if err := send.Data(event); err != nil {
					return
				}
			}
		}
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "get-log-levels",
		Method:      http.MethodGet,
		Path:        "/api/logs/levels",
		Summary:     "Log Levels",
		Description: "Effective log level of every module",
		Tags:        []string{"logs"},
		Errors:      []int{401},
		Security:    withAuth(),
	}, func(ctx context.Context, input *struct{}) (*models.LogLevelsResponse, error) {
		resp := &models.LogLevelsResponse{}
		resp.Body.Levels = logging.Levels()
		return resp, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "set-log-level",
		Method:      http.MethodPut,
		Path:        "/api/logs/levels/{module}",
		Summary:     "Set Log Level",
		Description: "Change a module's log level until the next restart or config reload",
		Tags:        []string{"logs"},
		Errors:      []int{400, 401},
		Security:    withAuth(),
	}, func(ctx context.Context, input *models.SetLogLevelRequest) (*models.LogLevelsResponse, error) {
		if err := logging.SetLevel(input.Module, input.Body.Level); err != nil {
			return nil, huma.Error400BadRequest(err.Error())
		}
		s.logger.Info("Log level changed", "module", input.Module, "level", input.Body.Level)
		resp := &models.LogLevelsResponse{}
		resp.Body.Levels = logging.Levels()
		return resp, nil
	})
}
