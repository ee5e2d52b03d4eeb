package session

import (
	"context"
	"testing"
	"time"

	"clavero/cmd/internal/credstore"
	"clavero/cmd/internal/signal"
)

// twoTerminals builds two managers that share a store and a bus, the way two
// POS terminals on the same till share state.
func twoTerminals(t *testing.T) (a, b *Manager, fa, fb *fakeFetcher, stop func()) {
	t.Helper()

	store := credstore.NewMemoryStore()
	bus := signal.NewMemoryBus()

	fa, fb = &fakeFetcher{}, &fakeFetcher{}
	a, _ = newTestManager(t, store, bus, fa, nil)
	b, _ = newTestManager(t, store, bus, fb, nil)

	sa := NewSynchronizer(a, bus, testLogger())
	sb := NewSynchronizer(b, bus, testLogger())
	sa.Start()
	sb.Start()

	return a, b, fa, fb, func() {
		sa.Stop()
		sb.Stop()
		_ = bus.Close()
	}
}

func TestRemoteLoginPropagates(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	a, b, _, _, stop := twoTerminals(t)
	defer stop()

	p := testProfile
	if err := a.Login(ctx, "tok-shared", &p); err != nil {
		t.Fatalf("Login on A: %v", err)
	}

	waitFor(t, func() bool {
		snap := b.Snapshot()
		return snap.State == StateAuthenticated && snap.Token == "tok-shared"
	}, "terminal B never picked up the login")

	// B re-validated against the backend instead of trusting the signal.
	u, ok := b.User()
	if !ok || u != testProfile {
		t.Fatalf("B user = %+v ok=%v", u, ok)
	}
}

func TestRemoteLogoutPropagates(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	a, b, _, fb, stop := twoTerminals(t)
	defer stop()

	p := testProfile
	if err := a.Login(ctx, "tok-shared", &p); err != nil {
		t.Fatalf("Login on A: %v", err)
	}
	waitFor(t, func() bool { return b.Snapshot().State == StateAuthenticated }, "B never authenticated")

	callsBefore := fb.calls()
	if err := a.Logout(ctx); err != nil {
		t.Fatalf("Logout on A: %v", err)
	}

	waitFor(t, func() bool {
		snap := b.Snapshot()
		return snap.State == StateAnonymous && snap.Token == "" && snap.User == nil
	}, "terminal B never picked up the logout")

	// Applying a remote logout is local only: no network, no re-broadcast.
	if got := fb.calls(); got != callsBefore {
		t.Fatalf("B fetched while applying remote logout: %d -> %d", callsBefore, got)
	}
}

func TestOwnSignalsIgnored(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	a, _, fa, _, stop := twoTerminals(t)
	defer stop()

	// A logs in with a confirmed profile: no fetch is needed, and A's own
	// login signal must not bounce back into a redundant re-validation.
	p := testProfile
	if err := a.Login(ctx, "tok", &p); err != nil {
		t.Fatalf("Login: %v", err)
	}

	time.Sleep(200 * time.Millisecond)
	if got := fa.calls(); got != 0 {
		t.Fatalf("A fetched %d times handling its own signal", got)
	}
	if snap := a.Snapshot(); snap.State != StateAuthenticated {
		t.Fatalf("A snapshot = %+v", snap)
	}
}

func TestStartIdempotent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	store := credstore.NewMemoryStore()
	bus := signal.NewMemoryBus()
	defer bus.Close()

	fa, fb := &fakeFetcher{}, &fakeFetcher{}
	a, _ := newTestManager(t, store, bus, fa, nil)
	b, _ := newTestManager(t, store, bus, fb, nil)

	sb := NewSynchronizer(b, bus, testLogger())
	sb.Start()
	sb.Start() // must not double-subscribe
	defer sb.Stop()

	p := testProfile
	if err := a.Login(ctx, "tok", &p); err != nil {
		t.Fatalf("Login: %v", err)
	}

	waitFor(t, func() bool { return b.Snapshot().State == StateAuthenticated }, "B never authenticated")
	time.Sleep(200 * time.Millisecond)

	// One signal, one re-validation.
	if got := fb.calls(); got != 1 {
		t.Fatalf("B fetched %d times, want 1", got)
	}
}

func TestStopIsSafeTwice(t *testing.T) {
	t.Parallel()

	bus := signal.NewMemoryBus()
	defer bus.Close()
	m, _ := newTestManager(t, credstore.NewMemoryStore(), bus, &fakeFetcher{}, nil)

	s := NewSynchronizer(m, bus, testLogger())
	s.Start()
	s.Stop()
	s.Stop()
}

func TestRemoteLoginWithMissingTokenFallsBack(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	// The signal arrives but the shared store no longer holds a token (the
	// originator logged out again in between). B must settle anonymous.
	store := credstore.NewMemoryStore()
	m, _ := newTestManager(t, store, nil, &fakeFetcher{}, nil)

	if err := m.ApplyRemoteLogin(ctx); err != nil {
		t.Fatalf("ApplyRemoteLogin: %v", err)
	}
	if snap := m.Snapshot(); snap.State != StateAnonymous || snap.Token != "" {
		t.Fatalf("snapshot = %+v", snap)
	}
}
