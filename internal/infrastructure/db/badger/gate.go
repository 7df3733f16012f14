package badgerdb

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/tapgate/tapgate/internal/core/ports"
	"github.com/timshannon/badgerhold/v4"
)

const (
	// At most this many gate transactions run concurrently; further callers
	// queue on the slot pool.
	defaultTxSlots = 5
	// Contention retries before the conflict surfaces to the caller.
	defaultMaxRetries = 5

	backoffBase = 10 * time.Millisecond
	backoffCap  = 1 * time.Second
)

// txGate serializes multi-step store mutations. Each unit of work runs in one
// badger transaction carried through the context, so every repo call inside
// the closure sees and writes the same snapshot.
type txGate struct {
	store *badgerhold.Store
	slots chan struct{}
}

func newTxGate(store *badgerhold.Store) ports.TxGate {
	slots := make(chan struct{}, defaultTxSlots)
	for i := 0; i < defaultTxSlots; i++ {
		slots <- struct{}{}
	}
	return &txGate{store: store, slots: slots}
}

func (g *txGate) WithTransaction(
	ctx context.Context, fn func(ctx context.Context) error, opts ...ports.TxOption,
) error {
	// Nested calls join the ongoing transaction instead of taking a slot,
	// otherwise a closure calling back into the gate would deadlock the pool.
	if ctx.Value("tx") != nil {
		return fn(ctx)
	}

	options := ports.TxOptions{MaxRetries: defaultMaxRetries}
	for _, opt := range opts {
		opt(&options)
	}

	for attempt := 0; ; attempt++ {
		select {
		case <-g.slots:
		case <-ctx.Done():
			return ctx.Err()
		}
		err := g.runOnce(ctx, fn)
		g.slots <- struct{}{}

		if err == nil {
			return nil
		}
		if !isRetryable(err) || attempt >= options.MaxRetries {
			return err
		}

		// The slot is given back during the backoff so waiters make progress
		// while this caller sleeps.
		delay := nextDelay(attempt)
		delay += time.Duration(rand.Int63n(int64(delay)/2 + 1))
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (g *txGate) runOnce(ctx context.Context, fn func(ctx context.Context) error) error {
	tx := g.store.Badger().NewTransaction(true)
	defer tx.Discard()

	txCtx := context.WithValue(ctx, "tx", tx) //nolint:staticcheck
	if err := fn(txCtx); err != nil {
		return err
	}
	return tx.Commit()
}

func isRetryable(err error) bool {
	return errors.Is(err, badger.ErrConflict)
}

// nextDelay returns the deterministic backoff for the given attempt,
// doubling from backoffBase up to backoffCap. Jitter is applied by the
// caller.
func nextDelay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	delay := backoffBase << uint(attempt)
	if delay > backoffCap || delay <= 0 {
		return backoffCap
	}
	return delay
}
