// Package guard gates protected UI surfaces on session state.
//
// It renders nothing itself: per request it decides between a neutral
// loading response, a full redirect to the external login surface carrying
// the return-to URL, an access-restricted page (authorization failure, no
// redirect), or the protected content.
package guard

import (
	"log/slog"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"clavero/cmd/internal/session"
)

// Decision is the outcome of evaluating a guarded surface.
type Decision int

const (
	// DecisionLoading renders a neutral indicator; no content, no redirect.
	DecisionLoading Decision = iota
	// DecisionRedirect sends the terminal to the external login surface.
	DecisionRedirect
	// DecisionForbidden renders "access restricted"; authenticated but the
	// role set does not match.
	DecisionForbidden
	// DecisionAllow serves the protected content.
	DecisionAllow
)

var metricDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "clavero_guard_decisions_total",
	Help: "Route guard outcomes.",
}, []string{"decision"})

func (d Decision) String() string {
	switch d {
	case DecisionLoading:
		return "loading"
	case DecisionRedirect:
		return "redirect"
	case DecisionForbidden:
		return "forbidden"
	default:
		return "allow"
	}
}

// Guard evaluates session state for protected surfaces.
type Guard struct {
	mgr *session.Manager
	nav session.Navigator
	log *slog.Logger

	// redirected latches navigation per anonymous episode so re-evaluation
	// on every render triggers at most one navigation. It resets when the
	// session authenticates again.
	redirected atomic.Bool
}

// New constructs a Guard. nav may be nil; HTTP handling then relies on 302s
// alone.
func New(mgr *session.Manager, nav session.Navigator, log *slog.Logger) *Guard {
	return &Guard{mgr: mgr, nav: nav, log: log}
}

// Evaluate decides for a surface reached at currentURL, optionally requiring
// the user's role to be in requiredRoles. target is non-empty only for
// DecisionRedirect.
func (g *Guard) Evaluate(currentURL string, requiredRoles ...string) (decision Decision, target string) {
	defer func() { metricDecisions.WithLabelValues(decision.String()).Inc() }()

	snap := g.mgr.Snapshot()

	switch snap.State {
	case session.StateUninitialized, session.StateHydrating:
		return DecisionLoading, ""

	case session.StateAnonymous:
		return DecisionRedirect, g.mgr.LoginRedirectURL(currentURL)
	}

	// Authenticated from here on.
	g.redirected.Store(false)

	if len(requiredRoles) == 0 {
		return DecisionAllow, ""
	}
	if snap.User == nil {
		// Confirmation still pending; do not guess at authorization.
		return DecisionLoading, ""
	}
	for _, role := range requiredRoles {
		if snap.User.Role == role {
			return DecisionAllow, ""
		}
	}
	return DecisionForbidden, ""
}

// Ensure evaluates currentURL and, when anonymous, performs at most one
// navigation per anonymous episode through the Navigator.
func (g *Guard) Ensure(currentURL string, requiredRoles ...string) Decision {
	decision, target := g.Evaluate(currentURL, requiredRoles...)
	if decision == DecisionRedirect && g.nav != nil {
		if g.redirected.CompareAndSwap(false, true) {
			g.log.Info("guard.redirect", "target", target)
			g.nav.To(target)
		}
	}
	return decision
}

// Middleware wraps next with the guard contract for the local UI server.
func (g *Guard) Middleware(next http.Handler, requiredRoles ...string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		decision, target := g.Evaluate(requestURL(r), requiredRoles...)

		switch decision {
		case DecisionLoading:
			w.Header().Set("Retry-After", "1")
			http.Error(w, "session loading", http.StatusServiceUnavailable)
		case DecisionRedirect:
			http.Redirect(w, r, target, http.StatusFound)
		case DecisionForbidden:
			http.Error(w, "access restricted", http.StatusForbidden)
		default:
			next.ServeHTTP(w, r)
		}
	})
}

func requestURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	return scheme + "://" + r.Host + r.URL.RequestURI()
}
