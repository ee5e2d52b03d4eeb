// Package session is the single source of truth for Clavero's client-side
// session state.
//
// The Manager owns the (token, profile, loading) tuple and every transition of
// the Uninitialized -> Hydrating -> Authenticated | Anonymous machine. All
// credential-store and profile-fetch failures are absorbed at this boundary:
// the rest of the application only ever observes the tri-state of an
// authenticated snapshot, a loading snapshot, or an anonymous snapshot.
//
// Policy is fail-closed: when identity cannot be confirmed, the session is
// torn down rather than assumed valid. The one exception is a user-initiated
// Refresh hitting a transient network error, which keeps the previous state
// and surfaces the error, since logging users out on flaky connectivity is
// worse than a stale profile.
package session
