package app

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"clavero/cmd/internal/credstore"
	"clavero/cmd/internal/guard"
	"clavero/cmd/internal/session"
	"clavero/cmd/security/token"
)

// registerHTTP mounts the local terminal surface: liveness, readiness,
// metrics, the session snapshot, and the guarded screens.
func registerHTTP(mux *http.ServeMux, log Logger, cfg Config, dbEnabled bool, pool *pgxpool.Pool, creds *credstore.Credentials, mgr *session.Manager, g *guard.Guard) {
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
	})

	mux.HandleFunc("GET /readyz", func(w http.ResponseWriter, r *http.Request) {
		if cfg.ReadinessRequireDB {
			if !dbEnabled {
				writeJSON(w, http.StatusServiceUnavailable, map[string]any{
					"status": "unavailable",
					"reason": "db_not_configured",
				})
				return
			}
			if err := PingDB(r.Context(), pool, 2*time.Second); err != nil {
				log.Warn("readyz.db_unreachable", "err", err)
				writeJSON(w, http.StatusServiceUnavailable, map[string]any{
					"status": "unavailable",
					"reason": "db_unreachable",
				})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
	})

	mux.Handle("GET /metrics", promhttp.Handler())

	// Session snapshot for the embedding shell, also served at the root as
	// the terminal's status page. Public on the loopback surface; the raw
	// token never leaves the manager, only a fingerprint.
	sessionStatus := func(w http.ResponseWriter, r *http.Request) {
		snap := mgr.Snapshot()
		body := map[string]any{
			"state":    string(snap.State),
			"loading":  snap.Loading,
			"token_fp": token.ShortFingerprint(snap.Token),
		}
		// Vertical hint survives logout so shells can theme the login screen.
		if area := creds.Area(r.Context()); area != "" {
			body["area_hint"] = area
		}
		if snap.User != nil {
			body["user"] = snap.User
		}
		writeJSON(w, http.StatusOK, body)
	}
	mux.HandleFunc("GET /{$}", sessionStatus)
	mux.HandleFunc("GET /session", sessionStatus)

	mux.HandleFunc("POST /session/refresh", func(w http.ResponseWriter, r *http.Request) {
		if err := mgr.Refresh(r.Context()); err != nil {
			log.Warn("session.refresh.fail", "err", err)
			writeJSON(w, http.StatusBadGateway, map[string]any{"error": "refresh failed"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"state": string(mgr.Snapshot().State)})
	})

	mux.HandleFunc("POST /session/logout", func(w http.ResponseWriter, r *http.Request) {
		_ = mgr.Logout(r.Context())
		writeJSON(w, http.StatusOK, map[string]any{"state": string(mgr.Snapshot().State)})
	})

	// Guarded screens. "/caja" needs any authenticated session, "/admin"
	// additionally the admin role.
	mux.Handle("GET /caja", g.Middleware(screenHandler(log, "caja", mgr)))
	mux.Handle("GET /admin", g.Middleware(screenHandler(log, "admin", mgr), "admin"))
}

// screenHandler stands in for a real rendered screen: it confirms which
// surface was reached and who reached it.
func screenHandler(log Logger, name string, mgr *session.Manager) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		snap := mgr.Snapshot()
		body := map[string]any{"screen": name}
		if snap.User != nil {
			body["user"] = snap.User.DisplayName()
			body["area"] = snap.User.Area
		}
		log.Debug("screen.render", "screen", name)
		writeJSON(w, http.StatusOK, body)
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Warn("http.write_json.fail", "err", err)
	}
}
