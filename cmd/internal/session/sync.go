package session

import (
	"context"
	"log/slog"
	"sync"

	"clavero/cmd/internal/signal"
)

// Synchronizer propagates login/logout performed on sibling terminals into
// the local Manager. It is the subscriber half of the signal protocol; the
// Manager's own Publish calls are the writer half.
type Synchronizer struct {
	mgr *Manager
	bus signal.Bus
	log *slog.Logger

	mu     sync.Mutex
	cancel func()
}

// NewSynchronizer wires mgr to bus without subscribing yet.
func NewSynchronizer(mgr *Manager, bus signal.Bus, log *slog.Logger) *Synchronizer {
	return &Synchronizer{mgr: mgr, bus: bus, log: log}
}

// Start installs the signal listener. It is idempotent: a second call while
// subscribed installs nothing.
func (s *Synchronizer) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		return
	}
	s.cancel = s.bus.Subscribe(s.handle)
	s.log.Info("session.sync.started")
}

// Stop removes the listener. Double-stop is safe.
func (s *Synchronizer) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel == nil {
		return
	}
	s.cancel()
	s.cancel = nil
	s.log.Info("session.sync.stopped")
}

func (s *Synchronizer) handle(sig signal.Signal) {
	// Own writes were applied synchronously when they happened.
	if sig.Origin == s.mgr.InstanceID() {
		return
	}

	metricSignals.WithLabelValues(string(sig.Topic), "received").Inc()

	switch sig.Topic {
	case signal.TopicLogout:
		// The originator cleared the shared store; clear local state only.
		s.mgr.ApplyRemoteLogout()
	case signal.TopicLogin:
		// Only the store is shared across terminals: re-read it and
		// re-validate instead of trusting the signal.
		if err := s.mgr.ApplyRemoteLogin(context.Background()); err != nil {
			s.log.Warn("session.sync.login_apply", "err", err)
		}
	default:
		s.log.Warn("session.sync.unknown_topic", "topic", string(sig.Topic), "id", sig.ID)
	}
}
