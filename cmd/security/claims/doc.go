// Package claims decodes the payload of a Clavero bearer token.
//
// The backend is the only authority on token validity; this package performs
// an unverified decode and is used exclusively to peek at the embedded expiry
// and identity claims (e.g., to seed a provisional profile before the backend
// confirms it). It deliberately has no dependency on storage or network code
// so the decoding rules stay independently testable.
package claims
