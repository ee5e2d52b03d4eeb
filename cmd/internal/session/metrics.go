package session

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "clavero_session_transitions_total",
		Help: "Session state machine transitions, labeled by resulting state.",
	}, []string{"state"})

	metricFetches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "clavero_profile_fetch_total",
		Help: "Profile fetch attempts by outcome.",
	}, []string{"outcome"})

	metricSignals = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "clavero_signals_total",
		Help: "Cross-terminal signals by topic and direction.",
	}, []string{"topic", "direction"})
)

const (
	fetchOutcomeConfirmed    = "confirmed"
	fetchOutcomeUnauthorized = "unauthorized"
	fetchOutcomeInvalid      = "invalid_profile"
	fetchOutcomeNetwork      = "network"
)
