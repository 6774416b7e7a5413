package registry

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/txngate/txngate/internal/domain"
	"github.com/txngate/txngate/internal/domain/models"
	"github.com/txngate/txngate/internal/domain/ports"
)

type fakeNativeSession struct {
	mu        sync.Mutex
	commits   int
	rollbacks int
}

func (f *fakeNativeSession) Commit(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commits++
	return nil
}

func (f *fakeNativeSession) Rollback(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rollbacks++
	return nil
}

func newTestRegistry() *Registry {
	return New(zap.NewNop())
}

func fakeFactory(native ports.Session) SessionFactory {
	return func(ctx context.Context) (ports.Session, error) {
		return native, nil
	}
}

func TestRegistryCreateAndLookup(t *testing.T) {
	reg := newTestRegistry()
	native := &fakeNativeSession{}

	id, err := reg.Create(context.Background(), fakeFactory(native))
	require.NoError(t, err)
	require.NotEmpty(t, id)
	assert.Equal(t, 1, reg.Len())

	sess, err := reg.Lookup(id)
	require.NoError(t, err)
	assert.Equal(t, id, sess.ID())
	assert.Equal(t, models.StateActive, sess.State())
	assert.Equal(t, 0, sess.Refs())
	assert.Same(t, ports.Session(native), sess.Native())
}

func TestRegistryCreateFactoryFailure(t *testing.T) {
	reg := newTestRegistry()
	boom := errors.New("connection refused")

	id, err := reg.Create(context.Background(), func(ctx context.Context) (ports.Session, error) {
		return nil, boom
	})
	require.Error(t, err)
	assert.Empty(t, id)
	assert.True(t, domain.IsDomainError(err, domain.ErrorCodeSessionCreateFailed))
	assert.ErrorIs(t, err, domain.ErrSessionCreation)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 0, reg.Len())
}

func TestRegistryLookupNeverIssued(t *testing.T) {
	reg := newTestRegistry()

	_, err := reg.Lookup(models.NewTransactionID())
	require.Error(t, err)
	assert.True(t, domain.IsDomainError(err, domain.ErrorCodeTxnUnknown))
	assert.ErrorIs(t, err, domain.ErrUnknownTransaction)
}

func TestRegistryLookupAfterRemove(t *testing.T) {
	reg := newTestRegistry()
	id, err := reg.Create(context.Background(), fakeFactory(&fakeNativeSession{}))
	require.NoError(t, err)

	reg.Remove(id)
	assert.Equal(t, 0, reg.Len())

	// Removed identifiers are closed, not unknown: the registry remembers
	// it issued them.
	_, err = reg.Lookup(id)
	require.Error(t, err)
	assert.True(t, domain.IsDomainError(err, domain.ErrorCodeTxnTerminal))
	assert.ErrorIs(t, err, domain.ErrTransactionClosed)
	assert.ErrorIs(t, err, domain.ErrUnknownTransaction)
}

func TestSessionCommitStateMachine(t *testing.T) {
	t.Run("active to committed", func(t *testing.T) {
		reg := newTestRegistry()
		id, err := reg.Create(context.Background(), fakeFactory(&fakeNativeSession{}))
		require.NoError(t, err)
		sess, err := reg.Lookup(id)
		require.NoError(t, err)

		inFlight, err := sess.BeginCommit()
		require.NoError(t, err)
		assert.Zero(t, inFlight)
		assert.Equal(t, models.StateCommitting, sess.State())

		sess.FinishCommit(true)
		assert.Equal(t, models.StateCommitted, sess.State())
		assert.True(t, sess.State().Terminal())
	})

	t.Run("second commit rejected", func(t *testing.T) {
		reg := newTestRegistry()
		id, err := reg.Create(context.Background(), fakeFactory(&fakeNativeSession{}))
		require.NoError(t, err)
		sess, err := reg.Lookup(id)
		require.NoError(t, err)

		_, err = sess.BeginCommit()
		require.NoError(t, err)
		sess.FinishCommit(true)

		_, err = sess.BeginCommit()
		require.Error(t, err)
		assert.True(t, domain.IsDomainError(err, domain.ErrorCodeTxnTerminal))
		assert.ErrorIs(t, err, domain.ErrTransactionClosed)
	})

	t.Run("rejected native commit lands in rolled back", func(t *testing.T) {
		reg := newTestRegistry()
		id, err := reg.Create(context.Background(), fakeFactory(&fakeNativeSession{}))
		require.NoError(t, err)
		sess, err := reg.Lookup(id)
		require.NoError(t, err)

		_, err = sess.BeginCommit()
		require.NoError(t, err)
		sess.FinishCommit(false)
		assert.Equal(t, models.StateRolledBack, sess.State())
	})
}

func TestSessionRollbackStateMachine(t *testing.T) {
	reg := newTestRegistry()
	id, err := reg.Create(context.Background(), fakeFactory(&fakeNativeSession{}))
	require.NoError(t, err)
	sess, err := reg.Lookup(id)
	require.NoError(t, err)

	_, alreadyTerminal := sess.BeginRollback()
	assert.False(t, alreadyTerminal)
	assert.Equal(t, models.StateRollingBack, sess.State())

	// A concurrent rollback attempt sees the in-progress one and backs off.
	_, alreadyTerminal = sess.BeginRollback()
	assert.True(t, alreadyTerminal)

	sess.FinishRollback()
	assert.Equal(t, models.StateRolledBack, sess.State())

	_, alreadyTerminal = sess.BeginRollback()
	assert.True(t, alreadyTerminal)
}

func TestRegistryRetainRelease(t *testing.T) {
	reg := newTestRegistry()
	id, err := reg.Create(context.Background(), fakeFactory(&fakeNativeSession{}))
	require.NoError(t, err)
	sess, err := reg.Lookup(id)
	require.NoError(t, err)

	require.NoError(t, reg.Retain(id))
	require.NoError(t, reg.Retain(id))
	assert.Equal(t, 2, sess.Refs())

	reg.Release(id)
	assert.Equal(t, 1, sess.Refs())

	// Extra releases never drive the count negative.
	reg.Release(id)
	reg.Release(id)
	assert.Equal(t, 0, sess.Refs())
}

func TestRegistryRetainAfterCommitStarted(t *testing.T) {
	reg := newTestRegistry()
	id, err := reg.Create(context.Background(), fakeFactory(&fakeNativeSession{}))
	require.NoError(t, err)
	sess, err := reg.Lookup(id)
	require.NoError(t, err)

	_, err = sess.BeginCommit()
	require.NoError(t, err)

	err = reg.Retain(id)
	require.Error(t, err)
	assert.True(t, domain.IsDomainError(err, domain.ErrorCodeTxnTerminal))
}

func TestRegistryBeginCommitReportsInFlight(t *testing.T) {
	reg := newTestRegistry()
	id, err := reg.Create(context.Background(), fakeFactory(&fakeNativeSession{}))
	require.NoError(t, err)
	sess, err := reg.Lookup(id)
	require.NoError(t, err)

	require.NoError(t, reg.Retain(id))
	require.NoError(t, reg.Retain(id))

	inFlight, err := sess.BeginCommit()
	require.NoError(t, err)
	assert.Equal(t, 2, inFlight)
}

func TestRegistryConcurrentRetainRelease(t *testing.T) {
	reg := newTestRegistry()
	id, err := reg.Create(context.Background(), fakeFactory(&fakeNativeSession{}))
	require.NoError(t, err)
	sess, err := reg.Lookup(id)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := reg.Retain(id); err == nil {
				reg.Release(id)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 0, sess.Refs())
	assert.Equal(t, models.StateActive, sess.State())
}

func TestRegistrySweepIdle(t *testing.T) {
	reg := newTestRegistry()
	id, err := reg.Create(context.Background(), fakeFactory(&fakeNativeSession{}))
	require.NoError(t, err)

	assert.Empty(t, reg.SweepIdle(time.Hour))

	time.Sleep(5 * time.Millisecond)
	stale := reg.SweepIdle(time.Millisecond)
	require.Len(t, stale, 1)
	assert.Equal(t, id, stale[0])

	// The sweep only reports; the session stays live and usable.
	assert.Equal(t, 1, reg.Len())
	require.NoError(t, reg.Retain(id))
}
