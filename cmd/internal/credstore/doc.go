// Package credstore persists Clavero's client-side session state.
//
// It is a small key-value layer (token, serialized profile, area hint) with
// three backends: in-memory for tests and single-process dev, a sealed file
// for standalone terminals, and Postgres for fleets of terminals sharing a
// database. Within one process reads observe prior writes; across processes
// the store is eventually consistent and consumers re-read it on signals.
//
// Deleting a key removes it entirely; callers can treat "absent" and
// "cleared" identically.
package credstore
