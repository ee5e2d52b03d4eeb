package signal

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"clavero/cmd/internal/credstore"
)

const (
	notifyChannel = "clavero_signals"

	listenRetryDelay = 2 * time.Second
)

// PostgresBus broadcasts signals between terminals sharing a database.
//
// Publish first writes the broadcast marker key into the shared kv state (the
// write is the message, and late joiners can inspect the last marker), then
// raises a NOTIFY so live listeners wake without polling.
//
// Ownership model: the pool belongs to the caller; Close only stops the
// listener.
type PostgresBus struct {
	pool   *pgxpool.Pool
	marker credstore.Store
	log    *slog.Logger

	mu     sync.Mutex
	next   int
	subs   map[int]func(Signal)
	closed bool

	stop context.CancelFunc
	done chan struct{}
}

// NewPostgresBus starts the LISTEN loop and returns the bus.
func NewPostgresBus(ctx context.Context, pool *pgxpool.Pool, marker credstore.Store, log *slog.Logger) (*PostgresBus, error) {
	if pool == nil {
		return nil, ErrConfig
	}

	listenCtx, stop := context.WithCancel(context.WithoutCancel(ctx))
	b := &PostgresBus{
		pool:   pool,
		marker: marker,
		log:    log,
		subs:   make(map[int]func(Signal)),
		stop:   stop,
		done:   make(chan struct{}),
	}
	go b.listen(listenCtx)
	return b, nil
}

// Publish writes the topic's marker key and notifies all listeners.
func (b *PostgresBus) Publish(ctx context.Context, sig Signal) error {
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return ErrClosed
	}

	if b.marker != nil {
		if err := b.marker.Put(ctx, markerKey(sig.Topic), sig.ID); err != nil {
			return err
		}
	}

	payload, err := json.Marshal(sig)
	if err != nil {
		return err
	}
	_, err = b.pool.Exec(ctx, `SELECT pg_notify($1, $2)`, notifyChannel, string(payload))
	return err
}

// Subscribe registers fn and returns its cancel.
func (b *PostgresBus) Subscribe(fn func(Signal)) (cancel func()) {
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

// Close stops the listener and drops subscribers.
func (b *PostgresBus) Close() error {
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

func (b *PostgresBus) listen(ctx context.Context) {
	defer close(b.done)

	for ctx.Err() == nil {
		conn, err := b.pool.Acquire(ctx)
		if err != nil {
			b.log.Warn("signal.pg.acquire_failed", "err", err)
			sleepCtx(ctx, listenRetryDelay)
			continue
		}

		if _, err := conn.Exec(ctx, "LISTEN "+notifyChannel); err != nil {
			conn.Release()
			b.log.Warn("signal.pg.listen_failed", "err", err)
			sleepCtx(ctx, listenRetryDelay)
			continue
		}

		for {
			n, err := conn.Conn().WaitForNotification(ctx)
			if err != nil {
				break
			}

			var sig Signal
			if err := json.Unmarshal([]byte(n.Payload), &sig); err != nil {
				b.log.Warn("signal.pg.bad_payload", "err", err)
				continue
			}
			b.dispatch(sig)
		}
		conn.Release()
	}
}

func (b *PostgresBus) dispatch(sig Signal) {
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

func markerKey(topic Topic) string {
	if topic == TopicLogout {
		return credstore.KeyLogoutEvent
	}
	return credstore.KeyLoginEvent
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
