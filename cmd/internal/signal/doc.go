// Package signal propagates login/logout events between terminal processes.
//
// A Signal is a timestamped marker, not a data carrier: consumers must re-read
// the credential store rather than trust anything beyond "something changed".
// Each signal names its origin instance so subscribers can ignore their own
// writes; a publisher always updates its local state synchronously and never
// waits for its own signal to come back.
//
// The Bus interface hides the transport. Three are provided: in-process
// fan-out, Postgres LISTEN/NOTIFY (the marker write into kv_state is the
// message), and a websocket relay for terminals without a shared database.
package signal
