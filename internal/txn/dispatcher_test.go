package txn

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/txngate/txngate/internal/adapters/memory"
	"github.com/txngate/txngate/internal/domain"
	"github.com/txngate/txngate/internal/domain/models"
	"github.com/txngate/txngate/internal/domain/ports"
	"github.com/txngate/txngate/internal/registry"
	"github.com/txngate/txngate/internal/txctx"
)

const testCollection = "orders"

func newTestDispatcher(t *testing.T, transactions bool) (*Dispatcher, *Manager, *memory.Adapter, *registry.Registry) {
	t.Helper()
	adapter := memory.New(memory.Config{Transactions: transactions}, zap.NewNop())
	reg := registry.New(zap.NewNop())
	mgr := NewManager(adapter, reg, zap.NewNop())
	return NewDispatcher(mgr, zap.NewNop()), mgr, adapter, reg
}

func doc(id string) models.Document {
	return models.Document{ID: id, Fields: map[string]interface{}{"status": "new"}}
}

func exists(t *testing.T, adapter *memory.Adapter, id string) bool {
	t.Helper()
	_, err := adapter.Get(context.Background(), nil, testCollection, id)
	if err == nil {
		return true
	}
	require.True(t, domain.IsDomainError(err, domain.ErrorCodeDocumentNotFound))
	return false
}

func TestDispatcherOwnsAndCommits(t *testing.T) {
	dispatcher, _, adapter, reg := newTestDispatcher(t, true)
	ctx := context.Background()

	err := dispatcher.Execute(ctx, func(ctx context.Context, sess ports.Session) error {
		if err := adapter.Insert(ctx, sess, testCollection, doc("o1")); err != nil {
			return err
		}
		// Uncommitted writes stay invisible to untransacted readers.
		assert.False(t, exists(t, adapter, "o1"))

		id, ok := txctx.TransactionID(ctx)
		assert.True(t, ok)
		assert.NotEmpty(t, id)
		return nil
	})
	require.NoError(t, err)

	assert.True(t, exists(t, adapter, "o1"))
	assert.Equal(t, 0, reg.Len())
}

func TestDispatcherRollsBackOnFailure(t *testing.T) {
	dispatcher, _, adapter, reg := newTestDispatcher(t, true)
	ctx := context.Background()
	boom := errors.New("downstream rejected the order")

	err := dispatcher.Execute(ctx, func(ctx context.Context, sess ports.Session) error {
		require.NoError(t, adapter.Insert(ctx, sess, testCollection, doc("o1")))
		require.NoError(t, adapter.Insert(ctx, sess, testCollection, doc("o2")))
		return boom
	})
	// The operation's own error surfaces unchanged, not a wrapped
	// rollback error.
	require.ErrorIs(t, err, boom)

	assert.False(t, exists(t, adapter, "o1"))
	assert.False(t, exists(t, adapter, "o2"))
	assert.Equal(t, 0, reg.Len())
}

func TestDispatcherPartialFailureIsAtomic(t *testing.T) {
	dispatcher, _, adapter, _ := newTestDispatcher(t, true)
	ctx := context.Background()
	require.NoError(t, adapter.Insert(ctx, nil, testCollection, doc("taken")))

	err := dispatcher.Execute(ctx, func(ctx context.Context, sess ports.Session) error {
		if err := adapter.Insert(ctx, sess, testCollection, doc("o1")); err != nil {
			return err
		}
		// The second write collides with committed state and fails.
		return adapter.Insert(ctx, sess, testCollection, doc("taken"))
	})
	require.Error(t, err)
	assert.True(t, domain.IsDomainError(err, domain.ErrorCodeDocumentConflict))

	// The successful first write rolled back with the failed second.
	assert.False(t, exists(t, adapter, "o1"))
}

func TestDispatcherNestedJoin(t *testing.T) {
	dispatcher, _, adapter, reg := newTestDispatcher(t, true)
	ctx := context.Background()

	err := dispatcher.Execute(ctx, func(ctx context.Context, outerSess ports.Session) error {
		if err := adapter.Insert(ctx, outerSess, testCollection, doc("outer")); err != nil {
			return err
		}
		return dispatcher.Execute(ctx, func(ctx context.Context, innerSess ports.Session) error {
			// The nested call shares the outer session and observes its
			// uncommitted write.
			if _, err := adapter.Get(ctx, innerSess, testCollection, "outer"); err != nil {
				return err
			}
			return adapter.Insert(ctx, innerSess, testCollection, doc("inner"))
		})
	})
	require.NoError(t, err)

	assert.True(t, exists(t, adapter, "outer"))
	assert.True(t, exists(t, adapter, "inner"))
	assert.Equal(t, 0, reg.Len())
}

func TestDispatcherNestedFailurePropagates(t *testing.T) {
	dispatcher, _, adapter, reg := newTestDispatcher(t, true)
	ctx := context.Background()
	boom := errors.New("inner validation failed")

	err := dispatcher.Execute(ctx, func(ctx context.Context, sess ports.Session) error {
		if err := adapter.Insert(ctx, sess, testCollection, doc("outer")); err != nil {
			return err
		}
		// The joiner never rolls back itself; it propagates so the owner
		// does.
		return dispatcher.Execute(ctx, func(ctx context.Context, sess ports.Session) error {
			return boom
		})
	})
	require.ErrorIs(t, err, boom)

	assert.False(t, exists(t, adapter, "outer"))
	assert.Equal(t, 0, reg.Len())
}

func TestDispatcherDisableTransaction(t *testing.T) {
	t.Run("per-call option", func(t *testing.T) {
		dispatcher, _, adapter, _ := newTestDispatcher(t, true)
		ctx := context.Background()
		boom := errors.New("outer fails after the audit write")

		err := dispatcher.Execute(ctx, func(ctx context.Context, sess ports.Session) error {
			if err := adapter.Insert(ctx, sess, testCollection, doc("tx-write")); err != nil {
				return err
			}
			opts := Options{DisableTransaction: true}
			if err := dispatcher.ExecuteWith(ctx, opts, func(ctx context.Context, sess ports.Session) error {
				assert.Nil(t, sess)
				return adapter.Insert(ctx, sess, testCollection, doc("audit-write"))
			}); err != nil {
				return err
			}
			return boom
		})
		require.ErrorIs(t, err, boom)

		// The opted-out write survives the surrounding rollback.
		assert.False(t, exists(t, adapter, "tx-write"))
		assert.True(t, exists(t, adapter, "audit-write"))
	})

	t.Run("context flag", func(t *testing.T) {
		dispatcher, _, adapter, _ := newTestDispatcher(t, true)
		ctx := context.Background()

		err := dispatcher.Execute(ctx, func(ctx context.Context, sess ports.Session) error {
			return dispatcher.Execute(txctx.WithoutTransaction(ctx), func(ctx context.Context, sess ports.Session) error {
				assert.Nil(t, sess)
				return adapter.Insert(ctx, sess, testCollection, doc("flagged"))
			})
		})
		require.NoError(t, err)
		assert.True(t, exists(t, adapter, "flagged"))
	})
}

func TestDispatcherExplicitTransactionID(t *testing.T) {
	dispatcher, mgr, adapter, _ := newTestDispatcher(t, true)
	ctx := context.Background()

	id, err := mgr.Begin(ctx)
	require.NoError(t, err)

	err = dispatcher.ExecuteWith(ctx, Options{TransactionID: id}, func(ctx context.Context, sess ports.Session) error {
		return adapter.Insert(ctx, sess, testCollection, doc("explicit"))
	})
	require.NoError(t, err)

	// The joiner did not commit; the write lands only when the owner does.
	assert.False(t, exists(t, adapter, "explicit"))
	require.NoError(t, mgr.Commit(ctx, id))
	assert.True(t, exists(t, adapter, "explicit"))
}

func TestDispatcherJoinClosedTransaction(t *testing.T) {
	dispatcher, mgr, adapter, _ := newTestDispatcher(t, true)
	ctx := context.Background()

	id, err := mgr.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, mgr.Commit(ctx, id))

	err = dispatcher.ExecuteWith(ctx, Options{TransactionID: id}, func(ctx context.Context, sess ports.Session) error {
		return adapter.Insert(ctx, sess, testCollection, doc("late"))
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrUnknownTransaction)
	assert.False(t, exists(t, adapter, "late"))
}

func TestDispatcherUnsupportedAdapterRunsWithout(t *testing.T) {
	dispatcher, _, adapter, _ := newTestDispatcher(t, false)
	ctx := context.Background()
	boom := errors.New("late failure")

	err := dispatcher.Execute(ctx, func(ctx context.Context, sess ports.Session) error {
		assert.Nil(t, sess)
		if err := adapter.Insert(ctx, sess, testCollection, doc("o1")); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	// Without transactions each write stands on its own; the later failure
	// cannot unwind it.
	assert.True(t, exists(t, adapter, "o1"))
}

func TestDispatcherUnsupportedAdapterIgnoresExplicitID(t *testing.T) {
	dispatcher, _, adapter, _ := newTestDispatcher(t, false)
	ctx := context.Background()

	// A caller passing an identifier down from another code path still
	// gets the degraded untransacted run, not a validation error.
	opts := Options{TransactionID: models.NewTransactionID()}
	err := dispatcher.ExecuteWith(ctx, opts, func(ctx context.Context, sess ports.Session) error {
		assert.Nil(t, sess)
		return adapter.Insert(ctx, sess, testCollection, doc("o1"))
	})
	require.NoError(t, err)
	assert.True(t, exists(t, adapter, "o1"))
}

func TestDispatcherCancellationRollsBack(t *testing.T) {
	dispatcher, _, adapter, reg := newTestDispatcher(t, true)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	err := dispatcher.Execute(ctx, func(ctx context.Context, sess ports.Session) error {
		if err := adapter.Insert(ctx, sess, testCollection, doc("o1")); err != nil {
			return err
		}
		// The caller goes away mid-operation.
		cancel()
		return nil
	})
	require.ErrorIs(t, err, context.Canceled)

	assert.False(t, exists(t, adapter, "o1"))
	assert.Equal(t, 0, reg.Len())
}

func TestDispatcherCommitFailure(t *testing.T) {
	dispatcher, _, adapter, reg := newTestDispatcher(t, true)
	ctx := context.Background()

	adapter.FailCommits(errors.New("disk full"))
	defer adapter.FailCommits(nil)

	err := dispatcher.Execute(ctx, func(ctx context.Context, sess ports.Session) error {
		return adapter.Insert(ctx, sess, testCollection, doc("o1"))
	})
	require.Error(t, err)
	assert.True(t, domain.IsDomainError(err, domain.ErrorCodeTxnCommitFailed))
	assert.ErrorIs(t, err, domain.ErrCommitFailed)

	assert.False(t, exists(t, adapter, "o1"))
	assert.Equal(t, 0, reg.Len())
}

func TestDispatcherPanicRollsBack(t *testing.T) {
	dispatcher, _, adapter, reg := newTestDispatcher(t, true)
	ctx := context.Background()

	require.PanicsWithValue(t, "boom", func() {
		_ = dispatcher.Execute(ctx, func(ctx context.Context, sess ports.Session) error {
			if err := adapter.Insert(ctx, sess, testCollection, doc("o1")); err != nil {
				return err
			}
			panic("boom")
		})
	})

	assert.False(t, exists(t, adapter, "o1"))
	assert.Equal(t, 0, reg.Len())
}

func TestExecuteRead(t *testing.T) {
	t.Run("joins ambient transaction", func(t *testing.T) {
		dispatcher, _, adapter, _ := newTestDispatcher(t, true)
		ctx := context.Background()

		err := dispatcher.Execute(ctx, func(ctx context.Context, sess ports.Session) error {
			if err := adapter.Insert(ctx, sess, testCollection, doc("o1")); err != nil {
				return err
			}
			return dispatcher.ExecuteRead(ctx, func(ctx context.Context, sess ports.Session) error {
				require.NotNil(t, sess)
				_, err := adapter.Get(ctx, sess, testCollection, "o1")
				return err
			})
		})
		require.NoError(t, err)
	})

	t.Run("never begins a transaction", func(t *testing.T) {
		dispatcher, _, adapter, reg := newTestDispatcher(t, true)
		ctx := context.Background()
		require.NoError(t, adapter.Insert(ctx, nil, testCollection, doc("o1")))

		err := dispatcher.ExecuteRead(ctx, func(ctx context.Context, sess ports.Session) error {
			assert.Nil(t, sess)
			_, err := adapter.Get(ctx, sess, testCollection, "o1")
			return err
		})
		require.NoError(t, err)
		assert.Equal(t, 0, reg.Len())
	})
}
