package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pelletier/go-toml/v2"
)

type testConfig struct {
	Name  string `toml:"name"`
	Value int    `toml:"value"`
}

func loadTestConfig(path string) (testConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return testConfig{}, err
	}
	var cfg testConfig
	err = toml.Unmarshal(data, &cfg)
	return cfg, err
}

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// startWatcher writes initial content and starts a watcher with a short debounce.
func startWatcher(t *testing.T, initial string, opts ...WatcherOption[testConfig]) (*Watcher[testConfig], string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "stream.toml")
	if err := os.WriteFile(path, []byte(initial), 0o644); err != nil {
		t.Fatal(err)
	}
	opts = append([]WatcherOption[testConfig]{WithDebounce[testConfig](50 * time.Millisecond)}, opts...)
	w := NewConfigWatcher(path, loadTestConfig, newTestLogger(), opts...)
	if err := w.Start(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { w.Stop() })
	time.Sleep(50 * time.Millisecond)
	return w, path
}

func write(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestWatcherReloadsOnWrite(t *testing.T) {
	w, path := startWatcher(t, "name = \"initial\"\nvalue = 1\n")
	received := make(chan testConfig, 1)
	w.OnReload(func(cfg testConfig) { received <- cfg })

	write(t, path, "name = \"updated\"\nvalue = 42\n")

	select {
	case cfg := <-received:
		if cfg.Name != "updated" || cfg.Value != 42 {
			t.Errorf("got %+v", cfg)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for reload")
	}
}

func TestWatcherFollowsAtomicRename(t *testing.T) {
	w, path := startWatcher(t, "value = 1\n")
	received := make(chan testConfig, 1)
	w.OnReload(func(cfg testConfig) { received <- cfg })

	tmp := path + ".tmp"
	write(t, tmp, "value = 7\n")
	if err := os.Rename(tmp, path); err != nil {
		t.Fatal(err)
	}

	select {
	case cfg := <-received:
		if cfg.Value != 7 {
			t.Errorf("got %+v", cfg)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for reload after rename")
	}
}

func TestWatcherIgnoresUnchangedContent(t *testing.T) {
	w, path := startWatcher(t, "value = 1\n")
	var count atomic.Int32
	w.OnReload(func(testConfig) { count.Add(1) })

	write(t, path, "value = 1\n")
	time.Sleep(250 * time.Millisecond)

	if got := count.Load(); got != 0 {
		t.Errorf("handler called %d times for identical content", got)
	}
}

func TestWatcherIgnoresSiblingFiles(t *testing.T) {
	w, path := startWatcher(t, "value = 1\n")
	var count atomic.Int32
	w.OnReload(func(testConfig) { count.Add(1) })

	write(t, filepath.Join(filepath.Dir(path), "other.toml"), "value = 2\n")
	time.Sleep(250 * time.Millisecond)

	if got := count.Load(); got != 0 {
		t.Errorf("handler called %d times for another file", got)
	}
}

func TestWatcherMultipleHandlersAndUnsubscribe(t *testing.T) {
	w, path := startWatcher(t, "value = 1\n")

	var count1, count2 atomic.Int32
	var last1, last2 atomic.Int32
	w.OnReload(func(cfg testConfig) {
		last1.Store(int32(cfg.Value))
		count1.Add(1)
	})
	unsub := w.OnReload(func(cfg testConfig) {
		last2.Store(int32(cfg.Value))
		count2.Add(1)
	})

	write(t, path, "value = 10\n")
	time.Sleep(250 * time.Millisecond)
	unsub()
	write(t, path, "value = 20\n")
	time.Sleep(250 * time.Millisecond)

	if count1.Load() != 2 || last1.Load() != 20 {
		t.Errorf("handler1: calls=%d last=%d", count1.Load(), last1.Load())
	}
	if count2.Load() != 1 || last2.Load() != 10 {
		t.Errorf("handler2: calls=%d last=%d", count2.Load(), last2.Load())
	}
}

func TestWatcherErrorHandler(t *testing.T) {
	errs := make(chan error, 1)
	w, path := startWatcher(t, "value = 1\n", WithErrorHandler[testConfig](func(err error) {
		errs <- err
	}))
	configs := make(chan testConfig, 1)
	w.OnReload(func(cfg testConfig) { configs <- cfg })

	write(t, path, "invalid toml [[[")

	select {
	case <-errs:
	case <-configs:
		t.Fatal("handler should not run for an invalid file")
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for error handler")
	}
}

func TestWatcherDebounce(t *testing.T) {
	w, path := startWatcher(t, "value = 0\n", WithDebounce[testConfig](200*time.Millisecond))
	var count, last atomic.Int32
	w.OnReload(func(cfg testConfig) {
		count.Add(1)
		last.Store(int32(cfg.Value))
	})

	for i := 1; i <= 5; i++ {
		write(t, path, fmt.Sprintf("value = %d\n", i))
		time.Sleep(50 * time.Millisecond)
	}
	time.Sleep(500 * time.Millisecond)

	if got := count.Load(); got != 1 {
		t.Errorf("expected 1 debounced call, got %d", got)
	}
	if got := last.Load(); got != 5 {
		t.Errorf("expected final value 5, got %d", got)
	}
}

func TestWatcherConcurrentSubscribe(t *testing.T) {
	w, path := startWatcher(t, "value = 0\n", WithDebounce[testConfig](10*time.Millisecond))

	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unsub := w.OnReload(func(testConfig) {})
			time.Sleep(time.Millisecond)
			unsub()
		}()
	}
	for i := range 5 {
		write(t, path, fmt.Sprintf("value = %d\n", i+1))
		time.Sleep(20 * time.Millisecond)
	}
	wg.Wait()
}

func TestWatcherStop(t *testing.T) {
	w, path := startWatcher(t, "value = 1\n")
	var count atomic.Int32
	w.OnReload(func(testConfig) { count.Add(1) })

	if err := w.Stop(); err != nil {
		t.Fatal(err)
	}
	if err := w.Stop(); err != nil {
		t.Errorf("second Stop() = %v", err)
	}

	write(t, path, "value = 99\n")
	time.Sleep(200 * time.Millisecond)
	if got := count.Load(); got != 0 {
		t.Errorf("expected 0 calls after stop, got %d", got)
	}
}
