package session

import (
	"time"

	"github.com/smazurov/browsercast/internal/events"
	"github.com/smazurov/browsercast/internal/stream"
)

// Reconfigure replaces the running encoder with one built from cfg. The
// capture loop keeps running throughout. Only valid while delivering; if
// the new encoder fails to launch the session continues without delivery.
func (s *Session) Reconfigure(cfg stream.Config) error {
	s.ctlMu.Lock()
	defer s.ctlMu.Unlock()

	switch s.State() {
	case StateIdle:
		return stream.ErrNoActiveSession
	case StateActive:
		return stream.ErrDeliveryInactive
	}

	cfg = cfg.WithDefaults()
	if !cfg.Delivers() {
		return stream.NewError(stream.CodeInvalidConfig, "reconfigure requires a delivery protocol", nil)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	s.setState(StateReconfiguring)

	s.mu.RLock()
	old := s.enc
	s.mu.RUnlock()

	s.loop.SetSink(nil)
	if old != nil {
		old.Stop()
	}

	s.mu.Lock()
	s.enc = nil
	s.cfg = cfg
	id := s.id
	s.mu.Unlock()
	s.loop.SetFormat(cfg.Width, cfg.Height, cfg.FPS)

	enc, err := s.startEncoder(cfg)
	if err != nil {
		s.mu.Lock()
		s.lastErr = err.Error()
		s.mu.Unlock()
		s.setState(StateActive)
		return err
	}

	s.mu.Lock()
	s.enc = enc
	s.lastErr = ""
	s.mu.Unlock()
	s.loop.SetSink(enc)
	s.setState(StateDelivering)

	s.publish(events.SessionReconfiguredEvent{
		SessionID:  id,
		Protocol:   string(cfg.Protocol),
		Resolution: cfg.Resolution(),
		FPS:        cfg.FPS,
		Timestamp:  time.Now().Format(time.RFC3339),
	})
	s.logger.Info("Session reconfigured",
		"session_id", id,
		"protocol", cfg.Protocol,
		"resolution", cfg.Resolution(),
		"fps", cfg.FPS)
	return nil
}

// EnableDelivery starts an encoder for a session that is capturing without
// one, for example after a broken pipe.
func (s *Session) EnableDelivery(cfg stream.Config) error {
	s.ctlMu.Lock()
	defer s.ctlMu.Unlock()

	switch s.State() {
	case StateIdle:
		return stream.ErrNoActiveSession
	case StateDelivering, StateReconfiguring:
		return stream.NewError(stream.CodeAlreadyRunning, "delivery is already active", nil)
	}

	cfg = cfg.WithDefaults()
	if !cfg.Delivers() {
		return stream.NewError(stream.CodeInvalidConfig, "no delivery protocol selected", nil)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	enc, err := s.startEncoder(cfg)
	if err != nil {
		s.mu.Lock()
		s.lastErr = err.Error()
		s.mu.Unlock()
		return err
	}

	s.mu.Lock()
	s.enc = enc
	s.cfg = cfg
	s.lastErr = ""
	s.mu.Unlock()
	s.loop.SetFormat(cfg.Width, cfg.Height, cfg.FPS)
	s.loop.SetSink(enc)
	s.setState(StateDelivering)
	return nil
}
