package txn

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/txngate/txngate/internal/domain"
	"github.com/txngate/txngate/internal/domain/models"
	"github.com/txngate/txngate/internal/domain/ports"
	"github.com/txngate/txngate/internal/registry"
)

// Manager exposes the transaction lifecycle: begin, commit, rollback and
// the per-operation participation decision. One manager serves one
// configured adapter; all native-handle mutation funnels through it.
type Manager struct {
	adapter  ports.Adapter
	registry *registry.Registry
	logger   *zap.Logger
}

// NewManager creates a lifecycle manager for the adapter.
func NewManager(adapter ports.Adapter, reg *registry.Registry, logger *zap.Logger) *Manager {
	return &Manager{
		adapter:  adapter,
		registry: reg,
		logger:   logger,
	}
}

// Adapter returns the storage adapter this manager coordinates.
func (m *Manager) Adapter() ports.Adapter {
	return m.adapter
}

// Begin starts a new transaction and returns its identifier. Fails with
// ErrTransactionsUnsupported when the adapter's capability resolved to no
// transaction support, and with ErrSessionCreation when the native session
// could not be opened.
func (m *Manager) Begin(ctx context.Context) (models.TransactionID, error) {
	capability := m.adapter.Capability()
	if !capability.SupportsTransactions() {
		return "", domain.WrapError(domain.ErrorCodeTxnUnsupported,
			"transactions disabled for this adapter", domain.ErrTransactionsUnsupported).
			WithDetail("adapter", m.adapter.Name())
	}

	id, err := m.registry.Create(ctx, func(ctx context.Context) (ports.Session, error) {
		return m.adapter.BeginSession(ctx, capability.DefaultOptions())
	})
	if err != nil {
		return "", err
	}

	transactionsBegun.WithLabelValues(m.adapter.Name()).Inc()
	activeSessions.WithLabelValues(m.adapter.Name()).Inc()
	m.logger.Debug("transaction begun",
		zap.String("transaction_id", id.String()),
		zap.String("adapter", m.adapter.Name()),
	)
	return id, nil
}

// Commit makes the transaction durable and retires its identifier.
//
// Committing an identifier that was never issued, or was already closed,
// fails with ErrUnknownTransaction. A rejected native commit leaves the
// session in its rolled-back failure state and fails with ErrCommitFailed;
// the caller must report the entire logical operation as failed, because
// none of its writes are durable.
func (m *Manager) Commit(ctx context.Context, id models.TransactionID) error {
	sess, err := m.registry.Lookup(id)
	if err != nil {
		return err
	}

	inFlight, err := sess.BeginCommit()
	if err != nil {
		return err
	}
	if inFlight > 0 {
		m.logger.Warn("committing transaction with operations still attached; "+
			"an unawaited callback may be sharing this identifier",
			zap.String("transaction_id", id.String()),
			zap.Int("in_flight", inFlight),
		)
	}

	if commitErr := sess.Native().Commit(ctx); commitErr != nil {
		sess.FinishCommit(false)
		// The native handle is unusable after a rejected commit; abort it
		// so the engine releases whatever the transaction still holds.
		_ = sess.Native().Rollback(context.WithoutCancel(ctx))
		m.retire(id)
		commitFailures.WithLabelValues(m.adapter.Name()).Inc()
		m.logger.Error("native commit rejected",
			zap.String("transaction_id", id.String()),
			zap.String("adapter", m.adapter.Name()),
			zap.Error(commitErr),
		)
		return domain.WrapError(domain.ErrorCodeTxnCommitFailed,
			"native commit rejected", fmt.Errorf("%w: %w", domain.ErrCommitFailed, commitErr)).
			WithDetail("transaction_id", id.String())
	}

	sess.FinishCommit(true)
	m.retire(id)
	transactionsCommitted.WithLabelValues(m.adapter.Name()).Inc()
	m.logger.Debug("transaction committed",
		zap.String("transaction_id", id.String()),
	)
	return nil
}

// Rollback discards the transaction. Idempotent: rolling back an already
// closed identifier is a no-op, because failure-handling paths call it
// defensively. Only an identifier that was never issued fails, with
// ErrUnknownTransaction.
func (m *Manager) Rollback(ctx context.Context, id models.TransactionID) error {
	sess, err := m.registry.Lookup(id)
	if err != nil {
		if domain.IsDomainError(err, domain.ErrorCodeTxnTerminal) {
			return nil
		}
		return err
	}

	inFlight, alreadyTerminal := sess.BeginRollback()
	if alreadyTerminal {
		return nil
	}
	if inFlight > 0 {
		m.logger.Warn("rolling back transaction with operations still attached",
			zap.String("transaction_id", id.String()),
			zap.Int("in_flight", inFlight),
		)
	}

	rollbackErr := sess.Native().Rollback(ctx)
	sess.FinishRollback()
	m.retire(id)
	transactionsRolledBack.WithLabelValues(m.adapter.Name()).Inc()

	if rollbackErr != nil {
		m.logger.Error("native rollback failed",
			zap.String("transaction_id", id.String()),
			zap.String("adapter", m.adapter.Name()),
			zap.Error(rollbackErr),
		)
		return fmt.Errorf("rollback transaction %s: %w", id, rollbackErr)
	}

	m.logger.Debug("transaction rolled back",
		zap.String("transaction_id", id.String()),
	)
	return nil
}

// ResolvePlan is the participation decision for one operation: join the
// ambient transaction, run untransacted, or begin a new one.
//
// The disable flag always wins, and so does an adapter whose capability
// resolved to no transaction support: such calls silently run untransacted
// even when the caller supplied an identifier, because no identifier can
// name a live transaction on that adapter. Otherwise an ambient identifier
// is joined after validation; referencing an unknown or closed identifier
// is a caller bug surfaced immediately. With no ambient identifier the
// operation is the outermost entry point and begins a transaction.
func (m *Manager) ResolvePlan(ambientID models.TransactionID, disable bool) (Plan, error) {
	if disable {
		return Plan{Kind: PlanRunWithout}, nil
	}
	if !m.adapter.Capability().SupportsTransactions() {
		return Plan{Kind: PlanRunWithout}, nil
	}
	if ambientID != "" {
		if _, err := m.registry.Lookup(ambientID); err != nil {
			return Plan{}, err
		}
		return Plan{Kind: PlanJoinExisting, ID: ambientID}, nil
	}
	return Plan{Kind: PlanBeginNew}, nil
}

// Attach pins an in-flight operation to the identifier and hands back the
// native session for tagging its writes. The release function must be
// called exactly when the operation finishes; it is safe to call more than
// once.
func (m *Manager) Attach(id models.TransactionID) (ports.Session, func(), error) {
	if err := m.registry.Retain(id); err != nil {
		return nil, nil, err
	}
	sess, err := m.registry.Lookup(id)
	if err != nil {
		m.registry.Release(id)
		return nil, nil, err
	}

	var once sync.Once
	release := func() {
		once.Do(func() { m.registry.Release(id) })
	}
	return sess.Native(), release, nil
}

// retire removes the identifier from the registry and updates the gauge.
func (m *Manager) retire(id models.TransactionID) {
	m.registry.Remove(id)
	activeSessions.WithLabelValues(m.adapter.Name()).Dec()
}
