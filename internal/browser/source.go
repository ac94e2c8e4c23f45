package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/smazurov/browsercast/internal/stream"
)

// DefaultCaptureTimeout bounds one screenshot.
const DefaultCaptureTimeout = 5 * time.Second

const (
	applyMarkerJS = `function() {
	this.style.border = '3px solid red';
	this.style.boxShadow = '0 0 10px red';
}`
	removeMarkerJS = `function() {
	this.style.border = '';
	this.style.boxShadow = '';
}`
	clearValueJS = `function() {
	if ('value' in this) { this.value = ''; }
	this.dispatchEvent(new Event('input', { bubbles: true }));
}`
)

// Source turns a Driver into a frame source. It does not retry; callers
// decide what a failed capture means.
type Source struct {
	driver         Driver
	logger         *slog.Logger
	captureTimeout time.Duration
}

// NewSource wraps driver. A non-positive timeout uses DefaultCaptureTimeout.
func NewSource(driver Driver, logger *slog.Logger, captureTimeout time.Duration) *Source {
	if captureTimeout <= 0 {
		captureTimeout = DefaultCaptureTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Source{
		driver:         driver,
		logger:         logger,
		captureTimeout: captureTimeout,
	}
}

// CaptureRaw returns one encoded screenshot of the viewport.
func (s *Source) CaptureRaw(ctx context.Context) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, s.captureTimeout)
	defer cancel()

	raw, err := s.driver.Screenshot(ctx)
	if err != nil {
		return nil, stream.NewError(stream.CodeSourceUnavailable, "capture screenshot", err)
	}
	if len(raw) == 0 {
		return nil, stream.NewError(stream.CodeSourceUnavailable, "empty screenshot", nil)
	}
	return raw, nil
}

// CaptureWithHighlight outlines the located element, captures, then
// removes the outline. Marker failures are logged and do not fail a
// capture that succeeded.
func (s *Source) CaptureWithHighlight(ctx context.Context, loc Locator) ([]byte, error) {
	el, err := s.locate(ctx, loc)
	if err != nil {
		return nil, err
	}

	if _, err := s.driver.RunScript(ctx, applyMarkerJS, el); err != nil {
		s.logger.Warn("Failed to apply highlight", "locator", loc.String(), "error", err)
	}

	raw, captureErr := s.CaptureRaw(ctx)

	// remove even when the caller's context is already done
	cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.captureTimeout)
	defer cancel()
	if _, err := s.driver.RunScript(cleanupCtx, removeMarkerJS, el); err != nil {
		s.logger.Warn("Failed to remove highlight", "locator", loc.String(), "error", err)
	}

	return raw, captureErr
}

func (s *Source) locate(ctx context.Context, loc Locator) (*Element, error) {
	el, err := s.driver.Locate(ctx, loc)
	if err == nil {
		return el, nil
	}
	if stream.CodeOf(err) == stream.CodeElementNotFound {
		return nil, err
	}
	return nil, stream.NewError(stream.CodeSourceUnavailable, "locate "+loc.String(), err)
}

// Navigate loads url in the current tab.
func (s *Source) Navigate(ctx context.Context, url string) error {
	if err := s.driver.Navigate(ctx, url); err != nil {
		return stream.NewError(stream.CodeSourceUnavailable, "navigate to "+url, err)
	}
	s.logger.Info("Navigated", "url", url)
	return nil
}

// Click clicks the located element.
func (s *Source) Click(ctx context.Context, loc Locator) error {
	el, err := s.locate(ctx, loc)
	if err != nil {
		return err
	}
	if err := s.driver.Click(ctx, el); err != nil {
		return stream.NewError(stream.CodeSourceUnavailable, "click "+loc.String(), err)
	}
	return nil
}

// Type clears the located input and types text into it.
func (s *Source) Type(ctx context.Context, loc Locator, text string) error {
	el, err := s.locate(ctx, loc)
	if err != nil {
		return err
	}
	if _, err := s.driver.RunScript(ctx, clearValueJS, el); err != nil {
		return stream.NewError(stream.CodeSourceUnavailable, "clear "+loc.String(), err)
	}
	if err := s.driver.SendKeys(ctx, el, text); err != nil {
		return stream.NewError(stream.CodeSourceUnavailable, "type into "+loc.String(), err)
	}
	return nil
}

// Scroll scrolls the window by x, y pixels.
func (s *Source) Scroll(ctx context.Context, x, y int) error {
	js := fmt.Sprintf("function() { window.scrollBy(%d, %d); }", x, y)
	if _, err := s.driver.RunScript(ctx, js, nil); err != nil {
		return stream.NewError(stream.CodeSourceUnavailable, "scroll", err)
	}
	return nil
}

// Execute runs a script body in the page and returns its JSON result.
// The body may use return, as in a function.
func (s *Source) Execute(ctx context.Context, body string) (json.RawMessage, error) {
	res, err := s.driver.RunScript(ctx, "function() {\n"+body+"\n}", nil)
	if err != nil {
		return nil, stream.NewError(stream.CodeSourceUnavailable, "execute script", err)
	}
	return res, nil
}

// Close releases the underlying browser.
func (s *Source) Close() error {
	return s.driver.Close()
}

// Open launches Chrome sized to the options' viewport and loads url.
func Open(ctx context.Context, opts ChromeOptions, url string, captureTimeout time.Duration) (*Source, error) {
	chrome, err := NewChrome(ctx, opts)
	if err != nil {
		return nil, err
	}
	src := NewSource(chrome, opts.Logger, captureTimeout)
	if url == "" {
		return src, nil
	}
	if err := src.Navigate(ctx, url); err != nil {
		if closeErr := src.Close(); closeErr != nil {
			src.logger.Warn("Failed to close browser", "error", closeErr)
		}
		return nil, err
	}
	return src, nil
}
