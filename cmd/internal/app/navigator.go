package app

import "log/slog"

// LoginNavigator records the intent to navigate to the external login
// surface. The agent has no browser of its own; the embedding shell watches
// the log stream (or the /session endpoint) and performs the real navigation.
type LoginNavigator struct {
	log *slog.Logger
}

// NewLoginNavigator constructs a LoginNavigator.
func NewLoginNavigator(log *slog.Logger) *LoginNavigator {
	return &LoginNavigator{log: log}
}

// To requests a full navigation to url.
func (n *LoginNavigator) To(url string) {
	n.log.Info("navigate.login_surface", "url", url)
}
