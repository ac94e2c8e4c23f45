package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/smazurov/browsercast/internal/browser"
	"github.com/smazurov/browsercast/internal/events"
	"github.com/smazurov/browsercast/internal/frame"
	"github.com/smazurov/browsercast/internal/stream"
)

// ActionType names a page interaction.
type ActionType string

// Supported page actions.
const (
	ActionClick         ActionType = "click"
	ActionTypeText      ActionType = "type"
	ActionScroll        ActionType = "scroll"
	ActionExecuteScript ActionType = "execute_script"
)

// Action is one page interaction performed during a session.
type Action struct {
	Type    ActionType
	Locator browser.Locator
	Text    string
	X, Y    int
	Script  string
}

// Validate checks that the fields required by the action type are set.
func (a Action) Validate() error {
	switch a.Type {
	case ActionClick, ActionTypeText:
		if a.Locator.Strategy == "" || a.Locator.Value == "" {
			return stream.NewError(stream.CodeInvalidConfig, string(a.Type)+" requires a locator", nil)
		}
	case ActionScroll:
	case ActionExecuteScript:
		if a.Script == "" {
			return stream.NewError(stream.CodeInvalidConfig, "execute_script requires a script", nil)
		}
	default:
		return stream.NewError(stream.CodeInvalidConfig, fmt.Sprintf("unknown action %q", a.Type), nil)
	}
	return nil
}

// activeSource returns the bound source, or ErrNoActiveSession.
func (s *Session) activeSource() (Source, stream.Config, string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.state == StateIdle || s.source == nil {
		return nil, stream.Config{}, "", stream.ErrNoActiveSession
	}
	return s.source, s.cfg, s.id, nil
}

// exec runs fn on the capture goroutine so it never overlaps a screenshot.
func (s *Session) exec(ctx context.Context, fn func(ctx context.Context, src Source) error) error {
	src, _, _, err := s.activeSource()
	if err != nil {
		return err
	}
	return s.loop.Exec(ctx, func(ctx context.Context) error {
		return fn(ctx, src)
	})
}

// CaptureHighlighted captures one frame with the located element outlined
// and returns it normalized to the session geometry.
func (s *Session) CaptureHighlighted(ctx context.Context, loc browser.Locator) (*frame.Frame, error) {
	_, cfg, id, err := s.activeSource()
	if err != nil {
		return nil, err
	}

	var f *frame.Frame
	err = s.exec(ctx, func(ctx context.Context, src Source) error {
		raw, err := src.CaptureWithHighlight(ctx, loc)
		if err != nil {
			return err
		}
		f, err = frame.Normalize(raw, cfg.Width, cfg.Height)
		return err
	})
	if err != nil {
		return nil, err
	}
	f.CapturedAt = time.Now()

	s.publish(events.HighlightCapturedEvent{
		SessionID: id,
		Locator:   loc.String(),
		Timestamp: f.CapturedAt.Format(time.RFC3339),
	})
	return f, nil
}

// Navigate loads url in the session browser.
func (s *Session) Navigate(ctx context.Context, url string) error {
	return s.exec(ctx, func(ctx context.Context, src Source) error {
		return src.Navigate(ctx, url)
	})
}

// Interact performs a page action. Only execute_script returns a result.
func (s *Session) Interact(ctx context.Context, a Action) (json.RawMessage, error) {
	if err := a.Validate(); err != nil {
		return nil, err
	}
	var result json.RawMessage
	err := s.exec(ctx, func(ctx context.Context, src Source) error {
		switch a.Type {
		case ActionClick:
			return src.Click(ctx, a.Locator)
		case ActionTypeText:
			return src.Type(ctx, a.Locator, a.Text)
		case ActionScroll:
			return src.Scroll(ctx, a.X, a.Y)
		default:
			var err error
			result, err = src.Execute(ctx, a.Script)
			return err
		}
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("Executed action", "action", a.Type)
	return result, nil
}

// CurrentFrame returns the latest captured frame.
func (s *Session) CurrentFrame() (*frame.Frame, error) {
	f := s.loop.CurrentFrame()
	if f == nil {
		return nil, stream.NewError(stream.CodeNoActiveSession, "no frame captured yet", nil)
	}
	return f, nil
}

// PreviewJPEG encodes the latest frame at the configured quality.
func (s *Session) PreviewJPEG() ([]byte, *frame.Frame, error) {
	f, err := s.CurrentFrame()
	if err != nil {
		return nil, nil, err
	}
	data, err := frame.EncodeJPEG(f, s.Config().Quality)
	if err != nil {
		return nil, nil, err
	}
	return data, f, nil
}
