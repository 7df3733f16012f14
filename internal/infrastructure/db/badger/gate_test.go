package badgerdb

import (
	"context"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/require"
	"github.com/tapgate/tapgate/internal/core/ports"
)

func TestNextDelay(t *testing.T) {
	require.Equal(t, backoffBase, nextDelay(0))
	require.Equal(t, backoffBase, nextDelay(-1))

	// Delays grow strictly until the cap.
	prev := time.Duration(0)
	capped := false
	for attempt := 0; attempt < 64; attempt++ {
		delay := nextDelay(attempt)
		require.LessOrEqual(t, delay, backoffCap)
		if capped {
			require.Equal(t, backoffCap, delay)
			continue
		}
		if delay == backoffCap {
			capped = true
			continue
		}
		require.Greater(t, delay, prev)
		prev = delay
	}
	require.True(t, capped)
}

func TestWithTransactionRetryExhaustion(t *testing.T) {
	store, err := createDB("", nil)
	require.NoError(t, err)
	defer store.Close()

	gate := newTxGate(store)
	key := []byte("contended")
	require.NoError(t, store.Badger().Update(func(tx *badger.Txn) error {
		return tx.Set(key, []byte{0})
	}))

	// Every attempt reads the key, loses a race against an outside writer,
	// then tries to write it, so each commit fails with ErrConflict.
	attempts := 0
	err = gate.WithTransaction(context.Background(), func(ctx context.Context) error {
		attempts++
		tx := ctx.Value("tx").(*badger.Txn)
		if _, err := tx.Get(key); err != nil {
			return err
		}
		if err := store.Badger().Update(func(other *badger.Txn) error {
			return other.Set(key, []byte{byte(attempts)})
		}); err != nil {
			return err
		}
		return tx.Set(key, []byte{0xff})
	}, ports.WithMaxRetries(2))
	require.ErrorIs(t, err, badger.ErrConflict)
	require.Equal(t, 3, attempts)

	// The exhausted transaction left nothing behind, the outside writer's
	// last value is what the store holds.
	require.NoError(t, store.Badger().View(func(tx *badger.Txn) error {
		item, err := tx.Get(key)
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			require.Equal(t, []byte{3}, val)
			return nil
		})
	}))
}
