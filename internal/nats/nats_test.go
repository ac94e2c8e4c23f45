package nats

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/smazurov/browsercast/internal/events"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func startServer(t *testing.T) *Server {
	t.Helper()
	server := NewServer(ServerOptions{Port: -1, Name: "test-server", Logger: testLogger()})
	if err := server.Start(); err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}
	t.Cleanup(server.Stop)
	return server
}

func TestServerStartStop(t *testing.T) {
	server := NewServer(ServerOptions{Port: -1, Logger: testLogger()})
	if err := server.Start(); err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}
	if !server.IsRunning() {
		t.Error("server should be running after Start()")
	}
	if server.ClientURL() == "" {
		t.Error("ClientURL should not be empty")
	}

	server.Stop()
	if server.IsRunning() {
		t.Error("server should not be running after Stop()")
	}
	server.Stop()
}

func TestRecorderClientWithoutServer(t *testing.T) {
	client := NewRecorderClient("nats://127.0.0.1:1", "rec-1", testLogger())
	if err := client.Connect(); err == nil {
		t.Fatal("Connect should fail without a server")
	}

	// no-ops while disconnected
	client.PublishState(StateMessage{State: "active"})
	client.PublishMetrics(MetricsMessage{Ticks: 1})
	client.OnStop(func(string) {})

	if client.IsConnected() {
		t.Error("client should not be connected")
	}
	client.Close()
}

func TestBridgeForwardsRecorderMessages(t *testing.T) {
	server := startServer(t)

	bus := events.New()
	stateCh := make(chan any, 4)
	metricsCh := make(chan any, 4)
	defer events.SubscribeToChannel[events.RecorderStateEvent](bus, stateCh)()
	defer events.SubscribeToChannel[events.RecorderMetricsEvent](bus, metricsCh)()

	bridge := NewBridge(server.ClientURL(), bus, testLogger())
	if err := bridge.Start(); err != nil {
		t.Fatalf("bridge Start() failed: %v", err)
	}
	defer bridge.Stop()
	if !bridge.IsConnected() {
		t.Fatal("bridge not connected")
	}

	client := NewRecorderClient(server.ClientURL(), "rec-1", testLogger())
	if err := client.Connect(); err != nil {
		t.Fatalf("Connect() failed: %v", err)
	}
	defer client.Close()

	client.PublishState(StateMessage{State: "delivering", PreviousState: "idle", Protocol: "file"})
	client.PublishMetrics(MetricsMessage{State: "delivering", Ticks: 12, Sent: 10})

	select {
	case ev := <-stateCh:
		got := ev.(events.RecorderStateEvent)
		if got.RecorderID != "rec-1" || got.State != "delivering" || got.Protocol != "file" {
			t.Errorf("state event = %+v", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for state event")
	}

	select {
	case ev := <-metricsCh:
		got := ev.(events.RecorderMetricsEvent)
		if got.RecorderID != "rec-1" || got.Ticks != 12 || got.Sent != 10 {
			t.Errorf("metrics event = %+v", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for metrics event")
	}
}

func TestControlStopReachesRecorder(t *testing.T) {
	server := startServer(t)

	client := NewRecorderClient(server.ClientURL(), "rec-2", testLogger())
	if err := client.Connect(); err != nil {
		t.Fatalf("Connect() failed: %v", err)
	}
	defer client.Close()

	reasons := make(chan string, 1)
	client.OnStop(func(reason string) { reasons <- reason })
	// the subscription must reach the server before the command is sent
	client.mu.RLock()
	err := client.conn.Flush()
	client.mu.RUnlock()
	if err != nil {
		t.Fatal(err)
	}

	control, err := NewControlPublisher(server.ClientURL(), testLogger())
	if err != nil {
		t.Fatalf("NewControlPublisher() failed: %v", err)
	}
	defer control.Close()

	if err := control.Stop("rec-other", "wrong recorder"); err != nil {
		t.Fatal(err)
	}
	if err := control.Stop("rec-2", "api_stop"); err != nil {
		t.Fatal(err)
	}

	select {
	case reason := <-reasons:
		if reason != "api_stop" {
			t.Errorf("reason = %q, want api_stop", reason)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for stop command")
	}
}

func TestSubjects(t *testing.T) {
	tests := []struct{ got, want string }{
		{SubjectRecorderState("a"), "browsercast.recorders.a.state"},
		{SubjectRecorderMetrics("a"), "browsercast.recorders.a.metrics"},
		{SubjectControlStop("a"), "browsercast.control.a.stop"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("subject = %q, want %q", tt.got, tt.want)
		}
	}
}
