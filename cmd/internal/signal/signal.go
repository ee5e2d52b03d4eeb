package signal

import (
	"context"
	"errors"
	"time"

	"github.com/oklog/ulid/v2"
)

// Topic names the two broadcast channels.
type Topic string

const (
	// TopicLogin signals that a terminal persisted a new session.
	TopicLogin Topic = "login"
	// TopicLogout signals that a terminal tore its session down.
	TopicLogout Topic = "logout"
)

var (
	// ErrClosed is returned when publishing on a closed bus.
	ErrClosed = errors.New("signal bus closed")

	// ErrConfig is returned for invalid bus configuration.
	ErrConfig = errors.New("invalid signal bus config")
)

// Signal is the marker value broadcast to sibling terminals.
//
// ID is a ULID, so it doubles as the "changed at time T" timestamp and as a
// unique marker value for the broadcast keys in the credential store.
type Signal struct {
	Topic  Topic     `json:"topic"`
	ID     string    `json:"id"`
	Origin string    `json:"origin"`
	At     time.Time `json:"at"`
}

// New builds a Signal for topic originating from the given instance.
func New(topic Topic, origin string) Signal {
	return Signal{
		Topic:  topic,
		ID:     ulid.Make().String(),
		Origin: origin,
		At:     time.Now().UTC(),
	}
}

// NewInstanceID returns a fresh per-process instance identifier.
func NewInstanceID() string {
	return ulid.Make().String()
}

// Bus is the pub/sub channel between terminals.
//
// Delivery is asynchronous and best-effort; subscribers receive signals from
// every instance, including (transport-permitting) their own, and filter by
// Origin themselves.
type Bus interface {
	// Publish broadcasts sig to all subscribed instances.
	Publish(ctx context.Context, sig Signal) error

	// Subscribe registers fn for every future signal. The returned cancel
	// removes the registration; calling it twice is safe.
	Subscribe(fn func(Signal)) (cancel func())

	// Close tears the transport down. Publishing afterwards returns ErrClosed.
	Close() error
}
