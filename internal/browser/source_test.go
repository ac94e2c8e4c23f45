package browser

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/smazurov/browsercast/internal/stream"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeDriver records calls in order.
type fakeDriver struct {
	mu            sync.Mutex
	calls         []string
	screenshot    []byte
	screenshotErr error
	blockCapture  bool
	found         map[string]bool
	scriptErr     error
	scriptResult  json.RawMessage
	closed        int
}

func newFakeDriver() *fakeDriver {
	return &fakeDriver{
		screenshot: []byte("png-bytes"),
		found:      map[string]bool{},
	}
}

func (d *fakeDriver) record(call string) {
	d.mu.Lock()
	d.calls = append(d.calls, call)
	d.mu.Unlock()
}

func (d *fakeDriver) Calls() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.calls...)
}

func (d *fakeDriver) Screenshot(ctx context.Context) ([]byte, error) {
	d.record("screenshot")
	if d.blockCapture {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return d.screenshot, d.screenshotErr
}

func (d *fakeDriver) Locate(_ context.Context, loc Locator) (*Element, error) {
	d.record("locate " + loc.String())
	if !d.found[loc.String()] {
		return nil, stream.NewError(stream.CodeElementNotFound, loc.String(), nil)
	}
	return NewElement(loc, loc.Value), nil
}

func (d *fakeDriver) RunScript(_ context.Context, fn string, el *Element) (json.RawMessage, error) {
	target := "window"
	if el != nil {
		target = el.Locator.String()
	}
	d.record("script " + target + " " + fn)
	if d.scriptErr != nil {
		return nil, d.scriptErr
	}
	if d.scriptResult != nil {
		return d.scriptResult, nil
	}
	return json.RawMessage("null"), nil
}

func (d *fakeDriver) Navigate(_ context.Context, url string) error {
	d.record("navigate " + url)
	return nil
}

func (d *fakeDriver) Click(_ context.Context, el *Element) error {
	d.record("click " + el.Locator.String())
	return nil
}

func (d *fakeDriver) SendKeys(_ context.Context, el *Element, text string) error {
	d.record("keys " + el.Locator.String() + " " + text)
	return nil
}

func (d *fakeDriver) Close() error {
	d.mu.Lock()
	d.closed++
	d.mu.Unlock()
	return nil
}

func TestCaptureRaw(t *testing.T) {
	d := newFakeDriver()
	s := NewSource(d, testLogger(), time.Second)

	raw, err := s.CaptureRaw(context.Background())
	if err != nil {
		t.Fatalf("CaptureRaw() failed: %v", err)
	}
	if string(raw) != "png-bytes" {
		t.Errorf("raw = %q", raw)
	}
}

func TestCaptureRawFailures(t *testing.T) {
	tests := []struct {
		name  string
		setup func(*fakeDriver)
	}{
		{"driver error", func(d *fakeDriver) { d.screenshotErr = errors.New("target closed") }},
		{"empty image", func(d *fakeDriver) { d.screenshot = nil }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := newFakeDriver()
			tt.setup(d)
			s := NewSource(d, testLogger(), time.Second)

			if _, err := s.CaptureRaw(context.Background()); !errors.Is(err, stream.ErrSourceUnavailable) {
				t.Errorf("CaptureRaw() = %v, want SourceUnavailable", err)
			}
		})
	}
}

func TestCaptureRawIsBounded(t *testing.T) {
	d := newFakeDriver()
	d.blockCapture = true
	s := NewSource(d, testLogger(), 50*time.Millisecond)

	start := time.Now()
	_, err := s.CaptureRaw(context.Background())
	if !errors.Is(err, stream.ErrSourceUnavailable) {
		t.Fatalf("CaptureRaw() = %v, want SourceUnavailable", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("cause should be the capture deadline: %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("capture not bounded: %v", elapsed)
	}
}

func TestCaptureWithHighlight(t *testing.T) {
	d := newFakeDriver()
	loc := Locator{Strategy: ByCSS, Value: "#search"}
	d.found[loc.String()] = true
	s := NewSource(d, testLogger(), time.Second)

	raw, err := s.CaptureWithHighlight(context.Background(), loc)
	if err != nil {
		t.Fatalf("CaptureWithHighlight() failed: %v", err)
	}
	if string(raw) != "png-bytes" {
		t.Errorf("raw = %q", raw)
	}

	calls := d.Calls()
	if len(calls) != 4 {
		t.Fatalf("calls = %v", calls)
	}
	if calls[0] != "locate css=#search" {
		t.Errorf("first call = %q", calls[0])
	}
	if !strings.Contains(calls[1], "3px solid red") || !strings.Contains(calls[1], "0 0 10px red") {
		t.Errorf("marker not applied before capture: %q", calls[1])
	}
	if calls[2] != "screenshot" {
		t.Errorf("third call = %q, want screenshot", calls[2])
	}
	if !strings.Contains(calls[3], "this.style.border = ''") {
		t.Errorf("marker not removed after capture: %q", calls[3])
	}
}

func TestCaptureWithHighlightNotFound(t *testing.T) {
	d := newFakeDriver()
	s := NewSource(d, testLogger(), time.Second)

	_, err := s.CaptureWithHighlight(context.Background(), Locator{Strategy: ByID, Value: "missing"})
	if !errors.Is(err, stream.ErrElementNotFound) {
		t.Fatalf("error = %v, want ElementNotFound", err)
	}
	for _, call := range d.Calls() {
		if call == "screenshot" {
			t.Error("no screenshot should be taken for a missing element")
		}
	}
}

func TestCaptureWithHighlightMarkerFailure(t *testing.T) {
	d := newFakeDriver()
	d.scriptErr = errors.New("detached node")
	loc := Locator{Strategy: ByName, Value: "q"}
	d.found[loc.String()] = true
	s := NewSource(d, testLogger(), time.Second)

	raw, err := s.CaptureWithHighlight(context.Background(), loc)
	if err != nil {
		t.Fatalf("marker failure must not fail the capture: %v", err)
	}
	if len(raw) == 0 {
		t.Error("expected screenshot bytes")
	}
}

func TestTypeClearsBeforeTyping(t *testing.T) {
	d := newFakeDriver()
	loc := Locator{Strategy: ByName, Value: "q"}
	d.found[loc.String()] = true
	s := NewSource(d, testLogger(), time.Second)

	if err := s.Type(context.Background(), loc, "hello"); err != nil {
		t.Fatalf("Type() failed: %v", err)
	}
	calls := d.Calls()
	if len(calls) != 3 {
		t.Fatalf("calls = %v", calls)
	}
	if !strings.Contains(calls[1], "this.value = ''") {
		t.Errorf("expected clear before typing, got %q", calls[1])
	}
	if calls[2] != "keys name=q hello" {
		t.Errorf("keys call = %q", calls[2])
	}
}

func TestClickAndNavigate(t *testing.T) {
	d := newFakeDriver()
	loc := Locator{Strategy: ByLinkText, Value: "Next"}
	d.found[loc.String()] = true
	s := NewSource(d, testLogger(), time.Second)
	ctx := context.Background()

	if err := s.Navigate(ctx, "https://example.com"); err != nil {
		t.Fatal(err)
	}
	if err := s.Click(ctx, loc); err != nil {
		t.Fatal(err)
	}
	if err := s.Click(ctx, Locator{Strategy: ByCSS, Value: ".nope"}); !errors.Is(err, stream.ErrElementNotFound) {
		t.Errorf("Click() on missing element = %v", err)
	}

	calls := d.Calls()
	if calls[0] != "navigate https://example.com" || calls[2] != "click link_text=Next" {
		t.Errorf("calls = %v", calls)
	}
}

func TestScrollAndExecute(t *testing.T) {
	d := newFakeDriver()
	d.scriptResult = json.RawMessage(`"Example Domain"`)
	s := NewSource(d, testLogger(), time.Second)
	ctx := context.Background()

	if err := s.Scroll(ctx, 0, 500); err != nil {
		t.Fatal(err)
	}
	res, err := s.Execute(ctx, "return document.title;")
	if err != nil {
		t.Fatal(err)
	}
	if string(res) != `"Example Domain"` {
		t.Errorf("result = %s", res)
	}

	calls := d.Calls()
	if !strings.Contains(calls[0], "window.scrollBy(0, 500)") {
		t.Errorf("scroll call = %q", calls[0])
	}
	if !strings.Contains(calls[1], "return document.title;") || !strings.HasPrefix(calls[1], "script window function()") {
		t.Errorf("execute call = %q", calls[1])
	}
}

func TestClose(t *testing.T) {
	d := newFakeDriver()
	s := NewSource(d, testLogger(), 0)
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	if d.closed != 1 {
		t.Errorf("closed = %d, want 1", d.closed)
	}
}
