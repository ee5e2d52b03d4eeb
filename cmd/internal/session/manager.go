package session

import (
	"context"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"

	"clavero/cmd/internal/credstore"
	"clavero/cmd/internal/profile"
	"clavero/cmd/internal/signal"
	"clavero/cmd/security/claims"
	"clavero/cmd/security/token"
)

// State enumerates the session lifecycle.
type State string

const (
	// StateUninitialized is the state before Hydrate runs.
	StateUninitialized State = "uninitialized"
	// StateHydrating means a persisted token is being confirmed.
	StateHydrating State = "hydrating"
	// StateAuthenticated means the backend confirmed the profile.
	StateAuthenticated State = "authenticated"
	// StateAnonymous means there is no usable session.
	StateAnonymous State = "anonymous"
)

// Snapshot is the session tuple exposed to the rest of the application.
// Invariant: User != nil implies Token != "".
type Snapshot struct {
	State   State
	Token   string
	User    *profile.Profile
	Loading bool
}

// Fetcher retrieves and edits the authoritative profile.
// *profile.Client is the production implementation.
type Fetcher interface {
	FetchMe(ctx context.Context, tok string) (profile.Profile, error)
	UpdateProfile(ctx context.Context, tok, email string, u profile.Update) (profile.Profile, error)
}

// Navigator performs the full navigation to the external login surface.
// In the agent binary this logs and signals the embedding shell; a desktop
// shell would open the system browser.
type Navigator interface {
	To(url string)
}

// Manager owns reactive session state and mediates all access to the
// credential store and the profile fetcher.
type Manager struct {
	cfg      Config
	creds    *credstore.Credentials
	fetcher  Fetcher
	bus      signal.Bus
	nav      Navigator
	log      *slog.Logger
	instance string

	mu      sync.Mutex
	state   State
	token   string
	user    *profile.Profile
	loading bool

	// epoch invalidates in-flight fetches: captured before a fetch starts,
	// compared before its result is applied. Login/logout/teardown bump it,
	// so a slow fetch can never resurrect a torn-down session.
	epoch uint64
}

// NewManager constructs a Manager. bus and nav may be nil (no broadcast /
// no navigation), which single-terminal tests use.
func NewManager(cfg Config, creds *credstore.Credentials, fetcher Fetcher, bus signal.Bus, nav Navigator, log *slog.Logger) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if creds == nil || fetcher == nil {
		return nil, ErrConfig
	}

	return &Manager{
		cfg:      cfg,
		creds:    creds,
		fetcher:  fetcher,
		bus:      bus,
		nav:      nav,
		log:      log,
		instance: signal.NewInstanceID(),
		state:    StateUninitialized,
		loading:  true,
	}, nil
}

// InstanceID identifies this manager for signal-origin filtering.
func (m *Manager) InstanceID() string { return m.instance }

// Snapshot returns a copy of the current session tuple.
func (m *Manager) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

func (m *Manager) snapshotLocked() Snapshot {
	s := Snapshot{State: m.state, Token: m.token, Loading: m.loading}
	if m.user != nil {
		u := *m.user
		s.User = &u
	}
	return s
}

// Token returns the current in-memory token ("" when anonymous).
func (m *Manager) Token() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.token
}

// User returns the current profile, if any.
func (m *Manager) User() (profile.Profile, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.user == nil {
		return profile.Profile{}, false
	}
	return *m.user, true
}

// Loading reports whether the initial validation pass is still running.
func (m *Manager) Loading() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loading
}

// LoginRedirectURL builds the external login URL carrying next as the
// return-to parameter.
func (m *Manager) LoginRedirectURL(next string) string {
	base := m.cfg.LoginURL
	if next == "" {
		return base
	}
	sep := "?"
	if strings.Contains(base, "?") {
		sep = "&"
	}
	return base + sep + "next=" + url.QueryEscape(next)
}

// Hydrate performs the startup pass: load the persisted token and confirm the
// profile against the backend. It is idempotent; only the first call does
// work. The returned error is informational (callers log it) — by the time it
// returns, state is always settled as Authenticated or Anonymous and the
// loading flag is cleared.
func (m *Manager) Hydrate(ctx context.Context) error {
	m.mu.Lock()
	if m.state != StateUninitialized {
		m.mu.Unlock()
		return nil
	}

	tok := m.creds.Token(ctx)
	if tok == "" {
		m.loading = false
		m.setStateLocked(StateAnonymous)
		m.mu.Unlock()
		return nil
	}

	m.token = tok
	if cached, ok := m.creds.Profile(ctx); ok {
		// Provisional: cached profiles are trusted only after the backend
		// confirms them once per run.
		m.user = &cached
	}
	m.loading = true
	m.setStateLocked(StateHydrating)
	epoch := m.epoch
	m.mu.Unlock()

	m.log.Info("session.hydrate.start", "token_fp", token.ShortFingerprint(tok))

	p, err := m.confirmWithRetry(ctx, tok)
	if err != nil {
		m.log.Warn("session.hydrate.fail_closed", "err", err)
		m.teardown(ctx, epoch)
		return err
	}

	m.adopt(ctx, epoch, p)
	m.log.Info("session.hydrate.confirmed", "org_id", p.OrgID, "role", p.Role)
	return nil
}

// Login persists tok (token first, then profile, so a concurrent Refresh
// never observes a token without an in-flight confirmation), updates local
// state synchronously, and broadcasts a login signal. When p is nil or
// invalid, a provisional profile is seeded from token claims and an
// asynchronous fetch confirms it.
func (m *Manager) Login(ctx context.Context, tok string, p *profile.Profile) error {
	tok = strings.TrimSpace(tok)
	if tok == "" {
		return ErrNoSession
	}

	m.mu.Lock()
	m.epoch++
	epoch := m.epoch

	if err := m.creds.SetToken(ctx, tok); err != nil {
		// Storage degraded: the session still works for this process.
		m.log.Warn("session.login.persist_degraded", "err", err)
	}
	m.token = tok

	var adopted *profile.Profile
	if p != nil && p.Valid() {
		cp := *p
		adopted = &cp
	} else if res := claims.Decode(tok); res.Valid {
		if res.Claims.Expired(time.Now()) {
			// Accepted anyway: the backend is the authority and may grant a
			// grace window. The async confirmation below settles it.
			m.log.Warn("session.login.expired_claim", "token_fp", token.ShortFingerprint(tok))
		}
		if prov := profile.FromClaims(res.Claims); prov.Valid() {
			adopted = &prov
		}
	}
	m.user = adopted
	_ = m.creds.SetProfile(ctx, adopted)

	m.loading = false
	m.setStateLocked(StateAuthenticated)
	needConfirm := p == nil || !p.Valid()
	m.mu.Unlock()

	m.publish(ctx, signal.TopicLogin)
	m.log.Info("session.login", "token_fp", token.ShortFingerprint(tok), "confirm_pending", needConfirm)

	if needConfirm {
		go m.confirmAsync(epoch, tok)
	}
	return nil
}

// Logout clears token and profile, broadcasts a logout signal, and navigates
// this terminal to the external login surface.
func (m *Manager) Logout(ctx context.Context) error {
	m.mu.Lock()
	m.epoch++
	m.token = ""
	m.user = nil
	m.loading = false
	if err := m.creds.Clear(ctx); err != nil {
		m.log.Warn("session.logout.clear_degraded", "err", err)
	}
	m.setStateLocked(StateAnonymous)
	m.mu.Unlock()

	m.publish(ctx, signal.TopicLogout)
	m.log.Info("session.logout")

	if m.nav != nil {
		m.nav.To(m.cfg.LoginURL)
	}
	return nil
}

// Refresh re-confirms the profile for the current token. Without a token it
// is a no-op. A transient network failure keeps the previous state and
// returns the error (fail-open for user-initiated refreshes); any backend
// rejection tears the session down.
func (m *Manager) Refresh(ctx context.Context) error {
	m.mu.Lock()
	tok := m.token
	epoch := m.epoch
	m.mu.Unlock()

	if tok == "" {
		return nil
	}

	p, err := m.fetchOnce(ctx, tok)
	if err != nil {
		if profile.IsNetwork(err) {
			m.log.Warn("session.refresh.transient", "err", err)
			return err
		}
		m.log.Warn("session.refresh.invalidated", "err", err)
		m.teardown(ctx, epoch)
		return err
	}

	m.adopt(ctx, epoch, p)
	return nil
}

// MergeProfile shallow-merges display fields into the current profile via the
// backend, persists the result, and broadcasts a login signal so sibling
// terminals re-read the edited fields.
func (m *Manager) MergeProfile(ctx context.Context, u profile.Update) (profile.Profile, error) {
	m.mu.Lock()
	tok := m.token
	epoch := m.epoch
	var email string
	if m.user != nil {
		email = m.user.Email
	}
	m.mu.Unlock()

	if tok == "" || email == "" {
		return profile.Profile{}, ErrNoSession
	}

	fctx, cancel := context.WithTimeout(ctx, m.cfg.FetchTimeout)
	defer cancel()

	merged, err := m.fetcher.UpdateProfile(fctx, tok, email, u)
	if err != nil {
		if profile.IsNetwork(err) || profile.IsInvalidProfile(err) {
			// Keep the previous profile; the edit simply did not land.
			return profile.Profile{}, err
		}
		m.teardown(ctx, epoch)
		return profile.Profile{}, err
	}

	m.mu.Lock()
	if m.epoch == epoch && m.token != "" {
		m.user = &merged
		_ = m.creds.SetProfile(ctx, &merged)
	}
	m.mu.Unlock()

	m.publish(ctx, signal.TopicLogin)
	return merged, nil
}

// ApplyRemoteLogout clears local in-memory state in response to a logout
// signal from a sibling terminal. The originator already cleared the shared
// store and broadcast the signal, so this neither re-broadcasts nor touches
// the network.
func (m *Manager) ApplyRemoteLogout() {
	m.mu.Lock()
	m.epoch++
	m.token = ""
	m.user = nil
	m.loading = false
	m.setStateLocked(StateAnonymous)
	m.mu.Unlock()

	m.log.Info("session.remote_logout_applied")
}

// ApplyRemoteLogin reloads the session from the shared store in response to a
// login signal and re-validates it against the backend. Only the store is
// shared between terminals, so the remote terminal's in-memory state is never
// trusted.
func (m *Manager) ApplyRemoteLogin(ctx context.Context) error {
	tok := m.creds.Token(ctx)
	if tok == "" {
		// Signal raced ahead of (or outlived) the stored token.
		m.ApplyRemoteLogout()
		return nil
	}

	m.mu.Lock()
	m.epoch++
	m.token = tok
	if cached, ok := m.creds.Profile(ctx); ok {
		m.user = &cached
	} else {
		m.user = nil
	}
	m.loading = false
	m.setStateLocked(StateAuthenticated)
	m.mu.Unlock()

	m.log.Info("session.remote_login_applied", "token_fp", token.ShortFingerprint(tok))
	return m.Refresh(ctx)
}

// confirmWithRetry fetches the profile, retrying transient network failures
// with exponential backoff up to HydrateMaxTries. Backend rejections are
// permanent and fail immediately.
func (m *Manager) confirmWithRetry(ctx context.Context, tok string) (profile.Profile, error) {
	op := func() (profile.Profile, error) {
		p, err := m.fetchOnce(ctx, tok)
		if err != nil && !profile.IsNetwork(err) {
			return profile.Profile{}, backoff.Permanent(err)
		}
		return p, err
	}

	return backoff.Retry(ctx, op,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(m.cfg.HydrateMaxTries),
	)
}

// confirmAsync confirms a login-time token in the background. Its result is
// dropped when the epoch moved on (the user logged out or in again).
func (m *Manager) confirmAsync(epoch uint64, tok string) {
	ctx := context.Background()

	p, err := m.fetchOnce(ctx, tok)
	if err != nil {
		if profile.IsNetwork(err) {
			// Fail-open: the next refresh will confirm.
			m.log.Warn("session.confirm.transient", "err", err)
			return
		}
		m.log.Warn("session.confirm.invalidated", "err", err)
		m.teardown(ctx, epoch)
		return
	}

	m.adopt(ctx, epoch, p)
}

func (m *Manager) fetchOnce(ctx context.Context, tok string) (profile.Profile, error) {
	fctx, cancel := context.WithTimeout(ctx, m.cfg.FetchTimeout)
	defer cancel()

	p, err := m.fetcher.FetchMe(fctx, tok)
	metricFetches.WithLabelValues(fetchOutcome(err)).Inc()
	return p, err
}

func fetchOutcome(err error) string {
	switch {
	case err == nil:
		return fetchOutcomeConfirmed
	case profile.IsNetwork(err):
		return fetchOutcomeNetwork
	case profile.IsInvalidProfile(err):
		return fetchOutcomeInvalid
	default:
		return fetchOutcomeUnauthorized
	}
}

// adopt installs a confirmed profile unless the epoch moved on.
func (m *Manager) adopt(ctx context.Context, epoch uint64, p profile.Profile) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.epoch != epoch || m.token == "" {
		return
	}
	m.user = &p
	m.loading = false
	m.setStateLocked(StateAuthenticated)
	_ = m.creds.SetProfile(ctx, &p)
}

// teardown transitions to Anonymous and clears persisted credentials, unless
// a newer operation already moved the epoch.
func (m *Manager) teardown(ctx context.Context, epoch uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.epoch != epoch {
		return
	}
	m.epoch++
	m.token = ""
	m.user = nil
	m.loading = false
	if err := m.creds.Clear(ctx); err != nil {
		m.log.Warn("session.teardown.clear_degraded", "err", err)
	}
	m.setStateLocked(StateAnonymous)
}

func (m *Manager) setStateLocked(s State) {
	if m.state != s {
		metricTransitions.WithLabelValues(string(s)).Inc()
	}
	m.state = s
}

func (m *Manager) publish(ctx context.Context, topic signal.Topic) {
	if m.bus == nil {
		return
	}

	// Best-effort with a short deadline; the local state is already updated
	// and must never depend on the broadcast landing.
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 3*time.Second)
	defer cancel()

	if err := m.bus.Publish(pctx, signal.New(topic, m.instance)); err != nil {
		m.log.Warn("session.signal.publish_failed", "topic", string(topic), "err", err)
		return
	}
	metricSignals.WithLabelValues(string(topic), "published").Inc()
}
