package signal

import (
	"context"
	"errors"
	"log/slog"
	"net/url"
	"strings"
	"sync"

	"github.com/cenkalti/backoff/v5"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

const wsSubprotocol = "clavero.signals.v1"

// ErrRelayDown is returned by Publish while the relay connection is being
// re-established. Login/logout still applied locally; the signal is lost,
// which the protocol tolerates (consumers re-read the store anyway).
var ErrRelayDown = errors.New("signal relay not connected")

// WSBus broadcasts signals through a websocket relay, for terminals that
// share neither a filesystem nor a database with their siblings.
//
// Every frame is one JSON-encoded Signal. The relay echoes frames to all
// connected terminals; Origin filtering happens at the subscriber.
type WSBus struct {
	url string
	log *slog.Logger

	mu     sync.Mutex
	next   int
	subs   map[int]func(Signal)
	closed bool

	connMu sync.Mutex
	conn   *websocket.Conn

	stop context.CancelFunc
	done chan struct{}
}

// NewWSBus validates the relay URL and starts the connection loop.
func NewWSBus(ctx context.Context, rawURL string, log *slog.Logger) (*WSBus, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") || u.Host == "" {
		return nil, ErrConfig
	}

	runCtx, stop := context.WithCancel(context.WithoutCancel(ctx))
	b := &WSBus{
		url:  u.String(),
		log:  log,
		subs: make(map[int]func(Signal)),
		stop: stop,
		done: make(chan struct{}),
	}
	go b.run(runCtx)
	return b, nil
}

// Publish sends sig to the relay.
func (b *WSBus) Publish(ctx context.Context, sig Signal) error {
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return ErrClosed
	}

	b.connMu.Lock()
	conn := b.conn
	b.connMu.Unlock()
	if conn == nil {
		return ErrRelayDown
	}

	return wsjson.Write(ctx, conn, sig)
}

// Subscribe registers fn and returns its cancel.
func (b *WSBus) Subscribe(fn func(Signal)) (cancel func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.next
	b.next++
	b.subs[id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(b.subs, id)
		})
	}
}

// Close stops the connection loop and drops subscribers.
func (b *WSBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.subs = make(map[int]func(Signal))
	b.mu.Unlock()

	b.stop()
	<-b.done
	return nil
}

// run dials the relay and pumps inbound frames, reconnecting with
// exponential backoff until Close.
func (b *WSBus) run(ctx context.Context) {
	defer close(b.done)

	bo := backoff.NewExponentialBackOff()

	for ctx.Err() == nil {
		conn, _, err := websocket.Dial(ctx, b.url, &websocket.DialOptions{
			Subprotocols: []string{wsSubprotocol},
		})
		if err != nil {
			b.log.Warn("signal.ws.dial_failed", "err", err)
			sleepCtx(ctx, bo.NextBackOff())
			continue
		}
		bo.Reset()

		b.connMu.Lock()
		b.conn = conn
		b.connMu.Unlock()
		b.log.Info("signal.ws.connected", "url", b.url)

		for {
			var sig Signal
			if err := wsjson.Read(ctx, conn, &sig); err != nil {
				break
			}
			b.dispatch(sig)
		}

		b.connMu.Lock()
		b.conn = nil
		b.connMu.Unlock()
		_ = conn.Close(websocket.StatusNormalClosure, "reconnect")
	}

	b.connMu.Lock()
	if b.conn != nil {
		_ = b.conn.Close(websocket.StatusNormalClosure, "shutdown")
		b.conn = nil
	}
	b.connMu.Unlock()
}

func (b *WSBus) dispatch(sig Signal) {
	b.mu.Lock()
	fns := make([]func(Signal), 0, len(b.subs))
	for _, fn := range b.subs {
		fns = append(fns, fn)
	}
	b.mu.Unlock()

	for _, fn := range fns {
		go fn(sig)
	}
}
