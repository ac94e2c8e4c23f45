package api

import (
	"context"
	"encoding/base64"
	"net/http"
	"strconv"

	"github.com/danielgtaylor/huma/v2"

	"github.com/smazurov/browsercast/internal/api/models"
	"github.com/smazurov/browsercast/internal/browser"
	"github.com/smazurov/browsercast/internal/frame"
	"github.com/smazurov/browsercast/internal/session"
)

func (s *Server) registerInteractionRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "capture-highlight",
		Method:      http.MethodPost,
		Path:        "/api/session/highlight",
		Summary:     "Capture Highlighted",
		Description: "Capture a still of the page with the located element outlined. The stream is not affected.",
		Tags:        []string{"interaction"},
		Errors:      []int{400, 401, 404, 409, 503},
		Security:    withAuth(),
	}, func(ctx context.Context, input *models.HighlightRequest) (*models.HighlightResponse, error) {
		loc := toLocator(input.Body)
		f, err := s.session.CaptureHighlighted(ctx, loc)
		if err != nil {
			return nil, mapSessionError(err)
		}
		data, err := frame.EncodeJPEG(f, s.session.Status().Config.Quality)
		if err != nil {
			return nil, mapSessionError(err)
		}
		return &models.HighlightResponse{Body: models.HighlightData{
			Image:      base64.StdEncoding.EncodeToString(data),
			Width:      f.Width,
			Height:     f.Height,
			CapturedAt: f.CapturedAt,
		}}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "get-frame",
		Method:      http.MethodGet,
		Path:        "/api/session/frame",
		Summary:     "Preview Frame",
		Description: "Latest captured frame as JPEG",
		Tags:        []string{"interaction"},
		Errors:      []int{401, 409},
		Security:    withAuth(),
	}, func(ctx context.Context, input *struct{}) (*models.FrameResponse, error) {
		data, f, err := s.session.PreviewJPEG()
		if err != nil {
			return nil, mapSessionError(err)
		}
		return &models.FrameResponse{
			ContentType: "image/jpeg",
			FrameSeq:    strconv.FormatUint(f.Seq, 10),
			Body:        data,
		}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "navigate",
		Method:      http.MethodPost,
		Path:        "/api/session/navigate",
		Summary:     "Navigate",
		Description: "Load another page in the session browser",
		Tags:        []string{"interaction"},
		Errors:      []int{400, 401, 409, 503},
		Security:    withAuth(),
	}, func(ctx context.Context, input *models.NavigateRequest) (*models.MessageResponse, error) {
		if err := s.session.Navigate(ctx, input.Body.URL); err != nil {
			return nil, mapSessionError(err)
		}
		resp := &models.MessageResponse{}
		resp.Body.Message = "Navigated to " + input.Body.URL
		return resp, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "perform-action",
		Method:      http.MethodPost,
		Path:        "/api/session/action",
		Summary:     "Perform Action",
		Description: "Click, type, scroll or run a script on the page",
		Tags:        []string{"interaction"},
		Errors:      []int{400, 401, 404, 409, 503},
		Security:    withAuth(),
	}, func(ctx context.Context, input *models.ActionRequest) (*models.ActionResponse, error) {
		action := session.Action{
			Type:   session.ActionType(input.Body.Type),
			Text:   input.Body.Text,
			X:      input.Body.X,
			Y:      input.Body.Y,
			Script: input.Body.Script,
		}
		if input.Body.Locator != nil {
			action.Locator = toLocator(*input.Body.Locator)
		}

		result, err := s.session.Interact(ctx, action)
		if err != nil {
			return nil, mapSessionError(err)
		}
		return &models.ActionResponse{Body: models.ActionResultData{
			Status: "ok",
			Result: result,
		}}, nil
	})
}

func toLocator(d models.LocatorData) browser.Locator {
	return browser.Locator{Strategy: browser.Strategy(d.Strategy), Value: d.Value}
}
