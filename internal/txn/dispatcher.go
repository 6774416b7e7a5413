package txn

import (
	"context"

	"go.uber.org/zap"

	"github.com/txngate/txngate/internal/domain/models"
	"github.com/txngate/txngate/internal/domain/ports"
	"github.com/txngate/txngate/internal/txctx"
)

// Operation is one data-changing call. The session argument tags the
// operation's writes; nil means the operation runs untransacted. The
// session is scoped to this call and must not be retained.
type Operation func(ctx context.Context, sess ports.Session) error

// Options are the per-call transaction arguments every data-changing API
// accepts. Zero values mean "participate in an ambient transaction if the
// caller's context carries one, otherwise run standalone".
type Options struct {
	// TransactionID joins an existing transaction explicitly, overriding
	// the ambient identifier.
	TransactionID models.TransactionID

	// DisableTransaction runs the operation outside any transaction even
	// when an identifier is available. Always wins.
	DisableTransaction bool
}

// Dispatcher is the layer every data-changing call passes through. It asks
// the lifecycle manager how the operation participates, executes it with
// the resolved session, and guarantees the owning call commits on success
// and rolls back on any failure.
type Dispatcher struct {
	manager *Manager
	logger  *zap.Logger
}

// NewDispatcher creates a dispatcher over the lifecycle manager.
func NewDispatcher(manager *Manager, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		manager: manager,
		logger:  logger,
	}
}

// Execute runs the operation with participation derived from the ambient
// context alone.
func (d *Dispatcher) Execute(ctx context.Context, op Operation) error {
	return d.ExecuteWith(ctx, Options{}, op)
}

// ExecuteWith runs the operation with explicit per-call arguments taking
// precedence over the ambient context.
//
// When the resolution begins a new transaction, this call is the owner: it
// alone commits on success and rolls back on failure or cancellation, and
// the original operation error is always returned unchanged. Joining calls
// never commit or roll back; they only propagate failures upward so the
// owner can roll back.
func (d *Dispatcher) ExecuteWith(ctx context.Context, opts Options, op Operation) error {
	ambientID := opts.TransactionID
	if ambientID == "" {
		if id, ok := txctx.TransactionID(ctx); ok {
			ambientID = id
		}
	}
	disable := opts.DisableTransaction || txctx.Disabled(ctx)

	plan, err := d.manager.ResolvePlan(ambientID, disable)
	if err != nil {
		return err
	}
	operationsDispatched.WithLabelValues(d.manager.Adapter().Name(), string(plan.Kind)).Inc()

	switch plan.Kind {
	case PlanRunWithout:
		return op(ctx, nil)
	case PlanJoinExisting:
		return d.join(ctx, plan.ID, op)
	default:
		return d.own(ctx, op)
	}
}

// ExecuteRead runs a read-only operation. It joins an ambient transaction
// so the caller observes its own uncommitted writes, but never begins one:
// a read with no ambient identifier runs untransacted.
func (d *Dispatcher) ExecuteRead(ctx context.Context, op Operation) error {
	ambientID, _ := txctx.TransactionID(ctx)
	plan, err := d.manager.ResolvePlan(ambientID, txctx.Disabled(ctx))
	if err != nil {
		return err
	}
	if plan.Kind == PlanJoinExisting {
		return d.join(ctx, plan.ID, op)
	}
	return op(ctx, nil)
}

// join attaches a non-owner operation to an existing transaction.
func (d *Dispatcher) join(ctx context.Context, id models.TransactionID, op Operation) error {
	sess, release, err := d.manager.Attach(id)
	if err != nil {
		return err
	}
	defer release()

	// Make sure nested calls inherit the identifier even when it arrived
	// through explicit options rather than the context.
	return op(txctx.WithTransaction(ctx, id), sess)
}

// own begins a transaction, runs the operation as its owner, and decides
// its disposition.
func (d *Dispatcher) own(ctx context.Context, op Operation) (err error) {
	id, err := d.manager.Begin(ctx)
	if err != nil {
		return err
	}
	opCtx := txctx.WithTransaction(ctx, id)

	sess, release, err := d.manager.Attach(id)
	if err != nil {
		d.rollback(ctx, id)
		return err
	}

	defer func() {
		if p := recover(); p != nil {
			release()
			d.rollback(ctx, id)
			panic(p)
		}
	}()

	opErr := op(opCtx, sess)
	release()

	// Client disconnects and deadline expiry dispose the transaction the
	// same way failures do.
	if opErr == nil {
		opErr = ctx.Err()
	}

	if opErr != nil {
		d.rollback(ctx, id)
		return opErr
	}
	return d.manager.Commit(ctx, id)
}

// rollback aborts on a context detached from the caller's cancellation, so
// a cancelled request still gets its writes discarded.
func (d *Dispatcher) rollback(ctx context.Context, id models.TransactionID) {
	if err := d.manager.Rollback(context.WithoutCancel(ctx), id); err != nil {
		d.logger.Error("owner rollback failed",
			zap.String("transaction_id", id.String()),
			zap.Error(err),
		)
	}
}
