package session

import "errors"

var (
	// ErrNoSession is returned by operations that need an authenticated
	// session (e.g., MergeProfile) when none is present.
	ErrNoSession = errors.New("no active session")

	// ErrConfig is returned for invalid manager configuration.
	ErrConfig = errors.New("invalid session config")
)
