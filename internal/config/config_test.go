package config

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/spf13/cobra"
)

type testOptions struct {
	Config string

	Host     string        `toml:"server.host" env:"HOST"`
	Port     int           `toml:"server.port" env:"PORT"`
	Auth     bool          `toml:"server.auth" env:"AUTH"`
	Grace    time.Duration `toml:"encoder.grace_period" env:"ENCODER_GRACE_PERIOD"`
	Quality  float64       `toml:"capture.quality" env:"CAPTURE_QUALITY"`
	Browsers []string      `toml:"browser.args" env:"BROWSER_ARGS"`
}

func writeTOML(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadConfigFromTOML(t *testing.T) {
	path := writeTOML(t, `
[server]
host = "0.0.0.0"
port = 8090
auth = true

[encoder]
grace_period = "3s"

[capture]
quality = 85

[browser]
args = ["--mute-audio", "--hide-scrollbars"]
`)

	opts := &testOptions{Config: path}
	if err := LoadConfig(opts, nil); err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	want := testOptions{
		Config:   path,
		Host:     "0.0.0.0",
		Port:     8090,
		Auth:     true,
		Grace:    3 * time.Second,
		Quality:  85,
		Browsers: []string{"--mute-audio", "--hide-scrollbars"},
	}
	if !reflect.DeepEqual(*opts, want) {
		t.Errorf("got %+v\nwant %+v", *opts, want)
	}
}

func TestLoadConfigEnvOverridesTOML(t *testing.T) {
	path := writeTOML(t, "[server]\nhost = \"toml\"\nport = 8090\n")
	t.Setenv("BROWSERCAST_HOST", "env")
	t.Setenv("BROWSERCAST_ENCODER_GRACE_PERIOD", "750ms")
	t.Setenv("BROWSERCAST_BROWSER_ARGS", " a , b ")

	opts := &testOptions{Config: path}
	if err := LoadConfig(opts, nil); err != nil {
		t.Fatal(err)
	}

	if opts.Host != "env" {
		t.Errorf("Host = %q, want env override", opts.Host)
	}
	if opts.Port != 8090 {
		t.Errorf("Port = %d, want value from TOML", opts.Port)
	}
	if opts.Grace != 750*time.Millisecond {
		t.Errorf("Grace = %v", opts.Grace)
	}
	if !reflect.DeepEqual(opts.Browsers, []string{"a", "b"}) {
		t.Errorf("Browsers = %q", opts.Browsers)
	}
}

func TestLoadConfigKeepsChangedFlags(t *testing.T) {
	path := writeTOML(t, "[server]\nport = 8090\n")
	t.Setenv("BROWSERCAST_HOST", "env")

	opts := &testOptions{Config: path}
	cmd := &cobra.Command{Use: "test"}
	cmd.Flags().IntVar(&opts.Port, "port", 8080, "")
	cmd.Flags().StringVar(&opts.Host, "host", "", "")
	if err := cmd.Flags().Parse([]string{"--port", "9000", "--host", "cli"}); err != nil {
		t.Fatal(err)
	}

	if err := LoadConfig(opts, cmd); err != nil {
		t.Fatal(err)
	}
	if opts.Port != 9000 || opts.Host != "cli" {
		t.Errorf("CLI flags overwritten: port=%d host=%q", opts.Port, opts.Host)
	}
}

func TestLoadConfigErrors(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		opts := &testOptions{Config: filepath.Join(t.TempDir(), "absent.toml")}
		if err := LoadConfig(opts, nil); err != nil {
			t.Errorf("missing file should be ignored: %v", err)
		}
	})

	t.Run("invalid toml", func(t *testing.T) {
		opts := &testOptions{Config: writeTOML(t, "[server\nport = ")}
		if err := LoadConfig(opts, nil); err == nil {
			t.Error("expected parse error")
		}
	})

	t.Run("wrong type", func(t *testing.T) {
		opts := &testOptions{Config: writeTOML(t, "[server]\nport = \"eighty\"\n")}
		if err := LoadConfig(opts, nil); err == nil {
			t.Error("expected type error")
		}
	})

	t.Run("bad env duration", func(t *testing.T) {
		t.Setenv("BROWSERCAST_ENCODER_GRACE_PERIOD", "soon")
		if err := LoadConfig(&testOptions{}, nil); err == nil {
			t.Error("expected duration parse error")
		}
	})
}

func TestGetNestedValue(t *testing.T) {
	data := map[string]any{
		"server": map[string]any{
			"tls":  map[string]any{"cert": "c.pem"},
			"port": int64(8090),
		},
		"root": "value",
	}

	tests := []struct {
		path string
		want any
	}{
		{"root", "value"},
		{"server.port", int64(8090)},
		{"server.tls.cert", "c.pem"},
		{"missing", nil},
		{"root.child", nil},
		{"server.missing", nil},
	}
	for _, tt := range tests {
		if got := getNestedValue(data, tt.path); got != tt.want {
			t.Errorf("getNestedValue(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}
}

func TestFieldNameToFlag(t *testing.T) {
	tests := map[string]string{
		"Port":              "port",
		"LoggingLevel":      "logging-level",
		"EncoderWriteDelay": "encoder-write-delay",
		"StreamRTMPURL":     "stream-rtmpurl",
		"StreamFPS":         "stream-fps",
		"BrowserStartURL":   "browser-start-url",
		"LoggingAPI":        "logging-api",
	}
	for in, want := range tests {
		if got := fieldNameToFlag(in); got != want {
			t.Errorf("fieldNameToFlag(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestLoadLoggingConfig(t *testing.T) {
	path := writeTOML(t, `
[logging]
level = "warn"
format = "json"
api = "error"

[logging.modules]
capture = "debug"
ffmpeg = "info"
`)

	cfg := LoadLoggingConfig(path)
	if cfg.Level != "warn" || cfg.Format != "json" {
		t.Errorf("cfg = %+v", cfg)
	}
	want := map[string]string{"api": "error", "capture": "debug", "ffmpeg": "info"}
	if !reflect.DeepEqual(cfg.Modules, want) {
		t.Errorf("Modules = %v, want %v", cfg.Modules, want)
	}

	if def := LoadLoggingConfig(""); def.Level != "info" || def.Format != "text" {
		t.Errorf("defaults = %+v", def)
	}
}
