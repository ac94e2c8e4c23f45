package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"

	"github.com/smazurov/browsercast/internal/stream"
)

// ChromeOptions configures the Chrome driver.
type ChromeOptions struct {
	ExecPath  string
	Headless  bool
	NoSandbox bool
	Width     int
	Height    int
	UserAgent string
	Logger    *slog.Logger
}

// Chrome drives a Chrome or Chromium instance over the DevTools protocol.
type Chrome struct {
	ctx         context.Context
	cancel      context.CancelFunc
	allocCancel context.CancelFunc
	logger      *slog.Logger
	closeOnce   sync.Once
}

// NewChrome launches a browser and opens one tab sized to the viewport.
func NewChrome(ctx context.Context, opts ChromeOptions) (*Chrome, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	allocOpts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	if opts.ExecPath != "" {
		allocOpts = append(allocOpts, chromedp.ExecPath(opts.ExecPath))
	}
	if !opts.Headless {
		allocOpts = append(allocOpts, chromedp.Flag("headless", false))
	}
	if opts.NoSandbox {
		allocOpts = append(allocOpts, chromedp.NoSandbox)
	}
	if opts.UserAgent != "" {
		allocOpts = append(allocOpts, chromedp.UserAgent(opts.UserAgent))
	}
	if opts.Width > 0 && opts.Height > 0 {
		allocOpts = append(allocOpts, chromedp.WindowSize(opts.Width, opts.Height))
	}

	// The browser outlives the request that launched it.
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.WithoutCancel(ctx), allocOpts...)
	browserCtx, cancel := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(func(format string, args ...any) {
			logger.Debug(fmt.Sprintf(format, args...))
		}),
		chromedp.WithErrorf(func(format string, args ...any) {
			logger.Warn(fmt.Sprintf(format, args...))
		}),
	)

	c := &Chrome{
		ctx:         browserCtx,
		cancel:      cancel,
		allocCancel: allocCancel,
		logger:      logger,
	}

	var actions []chromedp.Action
	if opts.Width > 0 && opts.Height > 0 {
		actions = append(actions, chromedp.EmulateViewport(int64(opts.Width), int64(opts.Height)))
	}
	// the first Run allocates the browser and binds it to the context it
	// is given, so it runs on browserCtx itself
	stop := context.AfterFunc(ctx, func() { c.Close() })
	err := chromedp.Run(browserCtx, actions...)
	if !stop() {
		return nil, stream.NewError(stream.CodeSourceUnavailable, "launch browser", ctx.Err())
	}
	if err != nil {
		c.Close()
		return nil, stream.NewError(stream.CodeSourceUnavailable, "launch browser", err)
	}

	logger.Info("Browser launched", "headless", opts.Headless, "width", opts.Width, "height", opts.Height)
	return c, nil
}

// run executes actions on the tab, aborting when ctx is done. Cancelling
// the derived context aborts the actions without closing the tab.
func (c *Chrome) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithCancel(c.ctx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	return chromedp.Run(runCtx, actions...)
}

// Screenshot captures the viewport as PNG.
func (c *Chrome) Screenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	if err := c.run(ctx, chromedp.CaptureScreenshot(&buf)); err != nil {
		return nil, err
	}
	return buf, nil
}

// Locate returns the first node matching loc without waiting for it to appear.
func (c *Chrome) Locate(ctx context.Context, loc Locator) (*Element, error) {
	q, err := loc.Resolve()
	if err != nil {
		return nil, stream.NewError(stream.CodeElementNotFound, loc.String(), err)
	}

	by := chromedp.ByQuery
	if q.XPath {
		by = chromedp.BySearch
	}
	var nodes []*cdp.Node
	if err := c.run(ctx, chromedp.Nodes(q.Selector, &nodes, by, chromedp.AtLeast(0))); err != nil {
		return nil, err
	}
	if len(nodes) == 0 {
		return nil, stream.NewError(stream.CodeElementNotFound, loc.String(), nil)
	}
	return NewElement(loc, nodes[0]), nil
}

func nodeOf(el *Element) (*cdp.Node, error) {
	if el == nil {
		return nil, errors.New("nil element")
	}
	node, ok := el.Handle().(*cdp.Node)
	if !ok || node == nil {
		return nil, fmt.Errorf("element %s does not belong to this browser", el.Locator)
	}
	return node, nil
}

// RunScript calls fn with this bound to el or window.
func (c *Chrome) RunScript(ctx context.Context, fn string, el *Element) (json.RawMessage, error) {
	var node *cdp.Node
	if el != nil {
		var err error
		if node, err = nodeOf(el); err != nil {
			return nil, err
		}
	}

	var out json.RawMessage
	err := c.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		var (
			res *runtime.RemoteObject
			exc *runtime.ExceptionDetails
			err error
		)
		if node == nil {
			res, exc, err = runtime.Evaluate("(" + fn + ").call(window)").
				WithReturnByValue(true).
				WithAwaitPromise(true).
				Do(ctx)
		} else {
			var obj *runtime.RemoteObject
			obj, err = dom.ResolveNode().WithBackendNodeID(node.BackendNodeID).Do(ctx)
			if err != nil {
				return fmt.Errorf("resolve node: %w", err)
			}
			res, exc, err = runtime.CallFunctionOn(fn).
				WithObjectID(obj.ObjectID).
				WithReturnByValue(true).
				WithAwaitPromise(true).
				Do(ctx)
		}
		if err != nil {
			return err
		}
		if exc != nil {
			return fmt.Errorf("script error: %s", exc.Text)
		}
		if res != nil && len(res.Value) > 0 {
			out = json.RawMessage(res.Value)
		}
		return nil
	}))
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = json.RawMessage("null")
	}
	return out, nil
}

// Navigate loads url and waits for the load event.
func (c *Chrome) Navigate(ctx context.Context, url string) error {
	return c.run(ctx, chromedp.Navigate(url))
}

// Click dispatches a left click at the element's centre.
func (c *Chrome) Click(ctx context.Context, el *Element) error {
	node, err := nodeOf(el)
	if err != nil {
		return err
	}
	return c.run(ctx, chromedp.MouseClickNode(node))
}

// SendKeys focuses the element and types text into it.
func (c *Chrome) SendKeys(ctx context.Context, el *Element, text string) error {
	node, err := nodeOf(el)
	if err != nil {
		return err
	}
	return c.run(ctx, chromedp.KeyEventNode(node, text))
}

// Close shuts the browser down. Safe to call repeatedly.
func (c *Chrome) Close() error {
	c.closeOnce.Do(func() {
		c.cancel()
		c.allocCancel()
		c.logger.Info("Browser closed")
	})
	return nil
}
