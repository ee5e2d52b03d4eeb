// Package profile owns the authenticated user's identity record and the
// client for the backend's "who am I" and profile-update endpoints.
//
// All wire aliases (organizacion_id vs organization_id, rol vs role, string
// vs numeric IDs) are resolved by Normalize at ingestion; the rest of the
// codebase only ever sees the canonical Profile shape.
package profile
