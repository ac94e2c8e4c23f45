package api

import (
	"errors"

	"github.com/danielgtaylor/huma/v2"

	"github.com/smazurov/browsercast/internal/stream"
)

// mapSessionError converts a stream.Error into the matching huma status.
func mapSessionError(err error) error {
	var se *stream.Error
	if !errors.As(err, &se) {
		return huma.Error500InternalServerError("internal server error", err)
	}
	msg := se.Code
	if se.Message != "" {
		msg += ": " + se.Message
	}

	switch se.Code {
	case stream.CodeInvalidConfig, stream.CodeMissingCredentials, stream.CodeDecodeError:
		return huma.Error400BadRequest(msg, err)
	case stream.CodeElementNotFound:
		return huma.Error404NotFound(msg, err)
	case stream.CodeAlreadyActive, stream.CodeAlreadyRunning, stream.CodeNoActiveSession,
		stream.CodeDeliveryInactive, stream.CodeNotRunning, stream.CodeNoSource:
		return huma.Error409Conflict(msg, err)
	case stream.CodeLaunchFailed, stream.CodePipeBroken, stream.CodeGeometryMismatch:
		return huma.Error502BadGateway(msg, err)
	case stream.CodeSourceUnavailable:
		return huma.Error503ServiceUnavailable(msg, err)
	default:
		return huma.Error500InternalServerError(msg, err)
	}
}
