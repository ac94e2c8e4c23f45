// Package browser adapts a live browser session into a frame source and
// exposes the page interactions available while streaming.
package browser

import (
	"context"
	"encoding/json"
)

// Element is a handle to a located DOM node. It is only valid for the
// driver that returned it and until the page navigates.
type Element struct {
	Locator Locator
	handle  any
}

// NewElement wraps a driver-specific handle.
func NewElement(loc Locator, handle any) *Element {
	return &Element{Locator: loc, handle: handle}
}

// Handle returns the driver-specific handle.
func (e *Element) Handle() any {
	return e.handle
}

// Driver is the browser automation boundary.
type Driver interface {
	// Screenshot returns an encoded image of the current viewport.
	Screenshot(ctx context.Context) ([]byte, error)
	// Locate returns the first matching element or ErrElementNotFound.
	Locate(ctx context.Context, loc Locator) (*Element, error)
	// RunScript calls a JavaScript function declaration with this bound to
	// el, or to window when el is nil, and returns its JSON result.
	RunScript(ctx context.Context, fn string, el *Element) (json.RawMessage, error)
	Navigate(ctx context.Context, url string) error
	Click(ctx context.Context, el *Element) error
	SendKeys(ctx context.Context, el *Element, text string) error
	Close() error
}
