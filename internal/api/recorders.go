package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/smazurov/browsercast/internal/api/models"
)

func (s *Server) registerRecorderRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "stop-recorder",
		Method:      http.MethodPost,
		Path:        "/api/recorders/{id}/stop",
		Summary:     "Stop Recorder",
		Description: "Ask a standalone recorder process to stop. Recorder activity is reported on the event stream.",
		Tags:        []string{"recorders"},
		Errors:      []int{401, 502, 503},
		Security:    withAuth(),
	}, func(ctx context.Context, input *models.StopRecorderRequest) (*models.MessageResponse, error) {
		if s.options.Recorders == nil {
			return nil, huma.Error503ServiceUnavailable("recorder link is disabled")
		}
		if err := s.options.Recorders.Stop(input.ID, "api_stop"); err != nil {
			return nil, huma.Error502BadGateway("failed to send stop command", err)
		}
		resp := &models.MessageResponse{}
		resp.Body.Message = "Stop sent to recorder " + input.ID
		return resp, nil
	})
}
