package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/png"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/smazurov/browsercast/internal/browser"
	"github.com/smazurov/browsercast/internal/frame"
	"github.com/smazurov/browsercast/internal/session"
	"github.com/smazurov/browsercast/internal/stream"
)

type pageSource struct {
	png []byte
}

func (s *pageSource) CaptureRaw(context.Context) ([]byte, error) { return s.png, nil }
func (s *pageSource) CaptureWithHighlight(context.Context, browser.Locator) ([]byte, error) {
	return s.png, nil
}
func (s *pageSource) Navigate(context.Context, string) error { return nil }
func (s *pageSource) Click(context.Context, browser.Locator) error { return nil }
func (s *pageSource) Type(context.Context, browser.Locator, string) error { return nil }
func (s *pageSource) Scroll(context.Context, int, int) error { return nil }
func (s *pageSource) Execute(context.Context, string) (json.RawMessage, error) { return nil, nil }
func (s *pageSource) Close() error { return nil }

type nullEncoder struct{}

func (nullEncoder) Start(stream.Config) error { return nil }
func (nullEncoder) SendFrame(*frame.Frame) error { return nil }
func (nullEncoder) Stop() {}

type countingFactory struct {
	mu      sync.Mutex
	created int
}

func (f *countingFactory) factory() session.Encoder {
	f.mu.Lock()
	f.created++
	f.mu.Unlock()
	return nullEncoder{}
}

func (f *countingFactory) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.created
}

func testPNG(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 64, 48))); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestTargetReloader(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	fileTarget := stream.Config{Protocol: stream.ProtocolFile, OutputFile: "/tmp/a.mp4", Width: 64, Height: 48, FPS: 5}

	tests := []struct {
		name        string
		start       stream.Config
		reload      stream.Config
		wantCreated int
		wantOutput  string
	}{
		{
			name:        "idle session ignores reload",
			reload:      fileTarget,
			wantCreated: 0,
		},
		{
			name:        "preview session ignores reload",
			start:       stream.Config{Width: 64, Height: 48, FPS: 5},
			reload:      fileTarget,
			wantCreated: 0,
		},
		{
			name:        "unchanged target keeps encoder",
			start:       fileTarget,
			reload:      fileTarget,
			wantCreated: 1,
			wantOutput:  "/tmp/a.mp4",
		},
		{
			name:        "target without protocol keeps encoder",
			start:       fileTarget,
			reload:      stream.Config{Width: 64, Height: 48, FPS: 5},
			wantCreated: 1,
			wantOutput:  "/tmp/a.mp4",
		},
		{
			name:        "changed target reconfigures",
			start:       fileTarget,
			reload:      stream.Config{Protocol: stream.ProtocolFile, OutputFile: "/tmp/b.mp4", Width: 64, Height: 48, FPS: 5},
			wantCreated: 2,
			wantOutput:  "/tmp/b.mp4",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			encoders := &countingFactory{}
			sess := session.New(session.Options{Encoders: encoders.factory, Logger: logger})
			if tt.start != (stream.Config{}) {
				if err := sess.Start(&pageSource{png: testPNG(t)}, tt.start); err != nil {
					t.Fatalf("Start() failed: %v", err)
				}
				defer sess.Stop()
			}

			TargetReloader(sess, logger)(tt.reload)

			if got := encoders.count(); got != tt.wantCreated {
				t.Errorf("encoders created = %d, want %d", got, tt.wantCreated)
			}
			if tt.wantOutput != "" {
				if got := sess.Config().OutputFile; got != tt.wantOutput {
					t.Errorf("output file = %q, want %q", got, tt.wantOutput)
				}
			}
		})
	}
}
