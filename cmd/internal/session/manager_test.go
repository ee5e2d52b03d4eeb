package session

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"clavero/cmd/internal/credstore"
	"clavero/cmd/internal/profile"
	"clavero/cmd/internal/signal"
)

var testProfile = profile.Profile{
	OrgID: 12, Email: "ana@acme.test", Role: "cajero", Area: "retail", FirstName: "Ana",
}

func errNetwork() error {
	return profile.OpError{Op: "test", Kind: profile.ErrNetwork, Msg: "connection refused"}
}

func errUnauthorized() error {
	return profile.OpError{Op: "test", Kind: profile.ErrUnauthorized, Msg: "status 401"}
}

// fakeFetcher scripts FetchMe/UpdateProfile responses and counts calls.
type fakeFetcher struct {
	mu         sync.Mutex
	fetchCalls int
	fetch      func(tok string) (profile.Profile, error)
	update     func(tok, email string, u profile.Update) (profile.Profile, error)
}

func (f *fakeFetcher) FetchMe(_ context.Context, tok string) (profile.Profile, error) {
	f.mu.Lock()
	f.fetchCalls++
	fn := f.fetch
	f.mu.Unlock()
	if fn == nil {
		return testProfile, nil
	}
	return fn(tok)
}

func (f *fakeFetcher) UpdateProfile(_ context.Context, tok, email string, u profile.Update) (profile.Profile, error) {
	f.mu.Lock()
	fn := f.update
	f.mu.Unlock()
	if fn == nil {
		return testProfile.Merge(u), nil
	}
	return fn(tok, email, u)
}

func (f *fakeFetcher) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetchCalls
}

// fakeNav records navigation targets.
type fakeNav struct {
	mu   sync.Mutex
	urls []string
}

func (n *fakeNav) To(url string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.urls = append(n.urls, url)
}

func (n *fakeNav) targets() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.urls...)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() Config {
	return Config{
		LoginURL:        "http://login.test/entrar",
		HydrateMaxTries: 3,
		FetchTimeout:    2 * time.Second,
	}
}

func newTestManager(t *testing.T, store credstore.Store, bus signal.Bus, f Fetcher, nav Navigator) (*Manager, *credstore.Credentials) {
	t.Helper()

	creds := credstore.NewCredentials(store, testLogger())
	m, err := NewManager(testConfig(), creds, f, bus, nav, testLogger())
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	return m, creds
}

// waitFor polls cond until it holds or the deadline expires.
func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestNewManagerValidation(t *testing.T) {
	t.Parallel()

	creds := credstore.NewCredentials(credstore.NewMemoryStore(), testLogger())
	f := &fakeFetcher{}

	tests := []struct {
		name string
		cfg  Config
	}{
		{"missing login url", Config{HydrateMaxTries: 3, FetchTimeout: time.Second}},
		{"relative login url", Config{LoginURL: "/entrar", HydrateMaxTries: 3, FetchTimeout: time.Second}},
		{"zero tries", Config{LoginURL: "http://x.test/", FetchTimeout: time.Second}},
		{"zero timeout", Config{LoginURL: "http://x.test/", HydrateMaxTries: 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewManager(tt.cfg, creds, f, nil, nil, testLogger()); !errors.Is(err, ErrConfig) {
				t.Fatalf("err = %v, want ErrConfig", err)
			}
		})
	}

	if _, err := NewManager(testConfig(), nil, f, nil, nil, testLogger()); !errors.Is(err, ErrConfig) {
		t.Fatalf("nil creds: err = %v, want ErrConfig", err)
	}
	if _, err := NewManager(testConfig(), creds, nil, nil, nil, testLogger()); !errors.Is(err, ErrConfig) {
		t.Fatalf("nil fetcher: err = %v, want ErrConfig", err)
	}
}

func TestHydrateWithoutToken(t *testing.T) {
	t.Parallel()

	f := &fakeFetcher{}
	m, _ := newTestManager(t, credstore.NewMemoryStore(), nil, f, nil)

	if snap := m.Snapshot(); snap.State != StateUninitialized || !snap.Loading {
		t.Fatalf("initial snapshot = %+v", snap)
	}

	if err := m.Hydrate(context.Background()); err != nil {
		t.Fatalf("Hydrate: %v", err)
	}

	snap := m.Snapshot()
	if snap.State != StateAnonymous || snap.Loading || snap.Token != "" || snap.User != nil {
		t.Fatalf("snapshot after empty hydrate = %+v", snap)
	}
	if f.calls() != 0 {
		t.Fatalf("fetch called %d times with no token", f.calls())
	}
}

func TestHydrateConfirmsPersistedToken(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	store := credstore.NewMemoryStore()
	f := &fakeFetcher{}
	m, creds := newTestManager(t, store, nil, f, nil)

	if err := creds.SetToken(ctx, "tok-persisted"); err != nil {
		t.Fatalf("seed token: %v", err)
	}
	stale := testProfile
	stale.FirstName = "Old"
	if err := creds.SetProfile(ctx, &stale); err != nil {
		t.Fatalf("seed profile: %v", err)
	}

	if err := m.Hydrate(ctx); err != nil {
		t.Fatalf("Hydrate: %v", err)
	}

	snap := m.Snapshot()
	if snap.State != StateAuthenticated || snap.Loading {
		t.Fatalf("snapshot = %+v", snap)
	}
	if snap.Token != "tok-persisted" {
		t.Fatalf("token = %q", snap.Token)
	}
	if snap.User == nil || snap.User.FirstName != "Ana" {
		t.Fatalf("stale cached profile not replaced: %+v", snap.User)
	}

	// The confirmed profile replaces the cached one.
	cached, ok := creds.Profile(ctx)
	if !ok || cached.FirstName != "Ana" {
		t.Fatalf("cached profile = %+v ok=%v", cached, ok)
	}
}

func TestHydrateFailsClosedOnRejection(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	f := &fakeFetcher{fetch: func(string) (profile.Profile, error) {
		return profile.Profile{}, errUnauthorized()
	}}
	m, creds := newTestManager(t, credstore.NewMemoryStore(), nil, f, nil)
	if err := creds.SetToken(ctx, "tok-revoked"); err != nil {
		t.Fatalf("seed token: %v", err)
	}
	if err := creds.SetProfile(ctx, &testProfile); err != nil {
		t.Fatalf("seed profile: %v", err)
	}

	if err := m.Hydrate(ctx); !profile.IsUnauthorized(err) {
		t.Fatalf("Hydrate err = %v, want unauthorized", err)
	}

	snap := m.Snapshot()
	if snap.State != StateAnonymous || snap.Token != "" || snap.User != nil || snap.Loading {
		t.Fatalf("snapshot = %+v, want torn down", snap)
	}
	if creds.Token(ctx) != "" {
		t.Fatal("revoked token still persisted")
	}
	if _, ok := creds.Profile(ctx); ok {
		t.Fatal("profile still persisted")
	}
	// Rejections are permanent; no retries.
	if f.calls() != 1 {
		t.Fatalf("fetch called %d times, want 1", f.calls())
	}
}

func TestHydrateRetriesTransientFailures(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	f := &fakeFetcher{}
	f.fetch = func(string) (profile.Profile, error) {
		if f.calls() < 3 {
			return profile.Profile{}, errNetwork()
		}
		return testProfile, nil
	}
	m, creds := newTestManager(t, credstore.NewMemoryStore(), nil, f, nil)
	if err := creds.SetToken(ctx, "tok"); err != nil {
		t.Fatalf("seed token: %v", err)
	}

	if err := m.Hydrate(ctx); err != nil {
		t.Fatalf("Hydrate: %v", err)
	}
	if snap := m.Snapshot(); snap.State != StateAuthenticated {
		t.Fatalf("snapshot = %+v", snap)
	}
	if f.calls() != 3 {
		t.Fatalf("fetch called %d times, want 3", f.calls())
	}
}

func TestHydrateGivesUpAfterMaxTries(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	f := &fakeFetcher{fetch: func(string) (profile.Profile, error) {
		return profile.Profile{}, errNetwork()
	}}
	m, creds := newTestManager(t, credstore.NewMemoryStore(), nil, f, nil)
	if err := creds.SetToken(ctx, "tok"); err != nil {
		t.Fatalf("seed token: %v", err)
	}

	if err := m.Hydrate(ctx); !profile.IsNetwork(err) {
		t.Fatalf("Hydrate err = %v, want network", err)
	}
	if snap := m.Snapshot(); snap.State != StateAnonymous || snap.Loading {
		t.Fatalf("snapshot = %+v, want settled anonymous", snap)
	}
	if f.calls() != 3 {
		t.Fatalf("fetch called %d times, want HydrateMaxTries", f.calls())
	}
}

func TestHydrateIdempotent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	f := &fakeFetcher{}
	m, creds := newTestManager(t, credstore.NewMemoryStore(), nil, f, nil)
	if err := creds.SetToken(ctx, "tok"); err != nil {
		t.Fatalf("seed token: %v", err)
	}

	if err := m.Hydrate(ctx); err != nil {
		t.Fatalf("first Hydrate: %v", err)
	}
	if err := m.Hydrate(ctx); err != nil {
		t.Fatalf("second Hydrate: %v", err)
	}
	if f.calls() != 1 {
		t.Fatalf("fetch called %d times across two hydrates", f.calls())
	}
}

func TestLoginWithConfirmedProfile(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	store := credstore.NewMemoryStore()
	bus := signal.NewMemoryBus()
	defer bus.Close()

	published := make(chan signal.Signal, 4)
	bus.Subscribe(func(s signal.Signal) { published <- s })

	f := &fakeFetcher{}
	m, creds := newTestManager(t, store, bus, f, nil)

	p := testProfile
	if err := m.Login(ctx, "tok-new", &p); err != nil {
		t.Fatalf("Login: %v", err)
	}

	snap := m.Snapshot()
	if snap.State != StateAuthenticated || snap.Loading || snap.Token != "tok-new" {
		t.Fatalf("snapshot = %+v", snap)
	}
	if snap.User == nil || *snap.User != testProfile {
		t.Fatalf("user = %+v", snap.User)
	}

	// Read-your-writes: token and profile already persisted.
	if creds.Token(ctx) != "tok-new" {
		t.Fatal("token not persisted")
	}
	if cached, ok := creds.Profile(ctx); !ok || cached != testProfile {
		t.Fatalf("cached profile = %+v ok=%v", cached, ok)
	}

	select {
	case s := <-published:
		if s.Topic != signal.TopicLogin || s.Origin != m.InstanceID() {
			t.Fatalf("published %+v", s)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("login signal never published")
	}

	// A confirmed profile needs no background fetch.
	time.Sleep(50 * time.Millisecond)
	if f.calls() != 0 {
		t.Fatalf("fetch called %d times after confirmed login", f.calls())
	}
}

func TestLoginWithoutProfileConfirmsAsync(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	f := &fakeFetcher{}
	m, creds := newTestManager(t, credstore.NewMemoryStore(), nil, f, nil)

	// Opaque token: no claims to seed a provisional profile from.
	if err := m.Login(ctx, "tok-opaque", nil); err != nil {
		t.Fatalf("Login: %v", err)
	}

	// Authenticated immediately, profile pending.
	if snap := m.Snapshot(); snap.State != StateAuthenticated {
		t.Fatalf("snapshot = %+v", snap)
	}

	waitFor(t, func() bool {
		u, ok := m.User()
		return ok && u == testProfile
	}, "background confirmation never adopted the profile")

	if cached, ok := creds.Profile(ctx); !ok || cached != testProfile {
		t.Fatalf("cached profile = %+v ok=%v", cached, ok)
	}
}

func TestLoginRejectsEmptyToken(t *testing.T) {
	t.Parallel()

	m, _ := newTestManager(t, credstore.NewMemoryStore(), nil, &fakeFetcher{}, nil)

	for _, tok := range []string{"", "   ", "\n\t"} {
		if err := m.Login(context.Background(), tok, nil); !errors.Is(err, ErrNoSession) {
			t.Fatalf("Login(%q) = %v, want ErrNoSession", tok, err)
		}
	}
	if snap := m.Snapshot(); snap.State != StateUninitialized {
		t.Fatalf("state moved on failed login: %+v", snap)
	}
}

func TestLogout(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	bus := signal.NewMemoryBus()
	defer bus.Close()
	published := make(chan signal.Signal, 4)
	bus.Subscribe(func(s signal.Signal) { published <- s })

	nav := &fakeNav{}
	m, creds := newTestManager(t, credstore.NewMemoryStore(), bus, &fakeFetcher{}, nav)

	p := testProfile
	if err := m.Login(ctx, "tok", &p); err != nil {
		t.Fatalf("Login: %v", err)
	}
	<-published // drain the login signal

	if err := m.Logout(ctx); err != nil {
		t.Fatalf("Logout: %v", err)
	}

	snap := m.Snapshot()
	if snap.State != StateAnonymous || snap.Token != "" || snap.User != nil {
		t.Fatalf("snapshot = %+v", snap)
	}
	if creds.Token(ctx) != "" {
		t.Fatal("token survived logout")
	}
	if _, ok := creds.Profile(ctx); ok {
		t.Fatal("profile survived logout")
	}

	select {
	case s := <-published:
		if s.Topic != signal.TopicLogout {
			t.Fatalf("published %+v, want logout", s)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("logout signal never published")
	}

	if got := nav.targets(); len(got) != 1 || got[0] != "http://login.test/entrar" {
		t.Fatalf("navigation = %v", got)
	}
}

func TestRefreshWithoutTokenIsNoop(t *testing.T) {
	t.Parallel()

	f := &fakeFetcher{}
	m, _ := newTestManager(t, credstore.NewMemoryStore(), nil, f, nil)

	if err := m.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if f.calls() != 0 {
		t.Fatal("fetch called without a token")
	}
}

func TestRefreshKeepsSessionOnNetworkError(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	f := &fakeFetcher{}
	m, _ := newTestManager(t, credstore.NewMemoryStore(), nil, f, nil)
	p := testProfile
	if err := m.Login(ctx, "tok", &p); err != nil {
		t.Fatalf("Login: %v", err)
	}

	f.mu.Lock()
	f.fetch = func(string) (profile.Profile, error) { return profile.Profile{}, errNetwork() }
	f.mu.Unlock()

	if err := m.Refresh(ctx); !profile.IsNetwork(err) {
		t.Fatalf("Refresh err = %v, want network", err)
	}

	// Fail-open: the session survives the outage.
	snap := m.Snapshot()
	if snap.State != StateAuthenticated || snap.User == nil {
		t.Fatalf("snapshot = %+v", snap)
	}
}

func TestRefreshTearsDownOnRejection(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	f := &fakeFetcher{}
	m, creds := newTestManager(t, credstore.NewMemoryStore(), nil, f, nil)
	p := testProfile
	if err := m.Login(ctx, "tok", &p); err != nil {
		t.Fatalf("Login: %v", err)
	}

	f.mu.Lock()
	f.fetch = func(string) (profile.Profile, error) { return profile.Profile{}, errUnauthorized() }
	f.mu.Unlock()

	if err := m.Refresh(ctx); !profile.IsUnauthorized(err) {
		t.Fatalf("Refresh err = %v, want unauthorized", err)
	}
	if snap := m.Snapshot(); snap.State != StateAnonymous || snap.User != nil {
		t.Fatalf("snapshot = %+v", snap)
	}
	if creds.Token(ctx) != "" {
		t.Fatal("token survived invalidation")
	}
}

func TestMergeProfile(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	f := &fakeFetcher{}
	m, creds := newTestManager(t, credstore.NewMemoryStore(), nil, f, nil)
	p := testProfile
	if err := m.Login(ctx, "tok", &p); err != nil {
		t.Fatalf("Login: %v", err)
	}

	name := "Anita"
	merged, err := m.MergeProfile(ctx, profile.Update{FirstName: &name})
	if err != nil {
		t.Fatalf("MergeProfile: %v", err)
	}
	if merged.FirstName != "Anita" || merged.OrgID != testProfile.OrgID {
		t.Fatalf("merged = %+v", merged)
	}

	u, ok := m.User()
	if !ok || u.FirstName != "Anita" {
		t.Fatalf("local user = %+v ok=%v", u, ok)
	}
	if cached, ok := creds.Profile(ctx); !ok || cached.FirstName != "Anita" {
		t.Fatalf("cached = %+v ok=%v", cached, ok)
	}
}

func TestMergeProfileRequiresSession(t *testing.T) {
	t.Parallel()

	m, _ := newTestManager(t, credstore.NewMemoryStore(), nil, &fakeFetcher{}, nil)

	name := "Anita"
	if _, err := m.MergeProfile(context.Background(), profile.Update{FirstName: &name}); !errors.Is(err, ErrNoSession) {
		t.Fatalf("err = %v, want ErrNoSession", err)
	}
}

func TestMergeProfileKeepsStateOnFailedEdit(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	f := &fakeFetcher{update: func(string, string, profile.Update) (profile.Profile, error) {
		return profile.Profile{}, errNetwork()
	}}
	m, _ := newTestManager(t, credstore.NewMemoryStore(), nil, f, nil)
	p := testProfile
	if err := m.Login(ctx, "tok", &p); err != nil {
		t.Fatalf("Login: %v", err)
	}

	name := "Anita"
	if _, err := m.MergeProfile(ctx, profile.Update{FirstName: &name}); !profile.IsNetwork(err) {
		t.Fatalf("err = %v, want network", err)
	}

	u, ok := m.User()
	if !ok || u.FirstName != "Ana" {
		t.Fatalf("profile changed on failed edit: %+v", u)
	}
}

func TestLoginRedirectURL(t *testing.T) {
	t.Parallel()

	creds := credstore.NewCredentials(credstore.NewMemoryStore(), testLogger())

	tests := []struct {
		name     string
		loginURL string
		next     string
		want     string
	}{
		{"plain", "http://login.test/entrar", "http://pos.local/caja", "http://login.test/entrar?next=http%3A%2F%2Fpos.local%2Fcaja"},
		{"base has query", "http://login.test/entrar?app=pos", "http://pos.local/caja", "http://login.test/entrar?app=pos&next=http%3A%2F%2Fpos.local%2Fcaja"},
		{"empty next", "http://login.test/entrar", "", "http://login.test/entrar"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			cfg.LoginURL = tt.loginURL
			m, err := NewManager(cfg, creds, &fakeFetcher{}, nil, nil, testLogger())
			if err != nil {
				t.Fatalf("NewManager: %v", err)
			}
			if got := m.LoginRedirectURL(tt.next); got != tt.want {
				t.Fatalf("LoginRedirectURL = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestLogoutDuringHydrationWins(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	release := make(chan struct{})
	f := &fakeFetcher{fetch: func(string) (profile.Profile, error) {
		<-release
		return testProfile, nil
	}}
	m, creds := newTestManager(t, credstore.NewMemoryStore(), nil, f, nil)
	if err := creds.SetToken(ctx, "tok"); err != nil {
		t.Fatalf("seed token: %v", err)
	}

	done := make(chan struct{})
	go func() {
		_ = m.Hydrate(ctx)
		close(done)
	}()

	waitFor(t, func() bool { return m.Snapshot().State == StateHydrating }, "hydration never started")

	if err := m.Logout(ctx); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	close(release)
	<-done

	// The slow fetch result must not resurrect the session.
	snap := m.Snapshot()
	if snap.State != StateAnonymous || snap.User != nil || snap.Token != "" {
		t.Fatalf("snapshot = %+v, want anonymous", snap)
	}
	if creds.Token(ctx) != "" {
		t.Fatal("token reappeared after logout")
	}
}
