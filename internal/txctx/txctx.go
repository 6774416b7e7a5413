// Package txctx defines how a transaction identifier travels through a
// call chain. Propagation is always explicit: a nested call participates
// in a transaction only when its caller forwards a context built here.
// Nothing is inferred from enclosing scope, so forgetting to forward (or
// forgetting not to) is a visible argument in code review rather than
// ambient state.
package txctx

import (
	"context"

	"github.com/txngate/txngate/internal/domain/models"
)

type contextKey int

const (
	transactionIDKey contextKey = iota
	disableKey
)

// WithTransaction returns a context carrying the identifier. Every nested
// call receiving this context joins the same native session.
func WithTransaction(ctx context.Context, id models.TransactionID) context.Context {
	return context.WithValue(ctx, transactionIDKey, id)
}

// TransactionID returns the ambient identifier, if the caller supplied one.
func TransactionID(ctx context.Context) (models.TransactionID, bool) {
	id, ok := ctx.Value(transactionIDKey).(models.TransactionID)
	return id, ok && id != ""
}

// WithoutTransaction marks the context so operations run untransacted even
// when an identifier is present. The disable flag always wins over an
// inherited identifier.
func WithoutTransaction(ctx context.Context) context.Context {
	return context.WithValue(ctx, disableKey, true)
}

// Disabled reports whether the context opts out of transactions.
func Disabled(ctx context.Context) bool {
	disabled, ok := ctx.Value(disableKey).(bool)
	return ok && disabled
}

// Detached strips the transaction identifier and the disable flag.
//
// Hand this to any callback that is not awaited by its invoker. Work that
// outlives its parent may still be running after the parent committed or
// rolled back; letting it keep the identifier would let it mutate a
// session whose outcome is already decided.
func Detached(ctx context.Context) context.Context {
	ctx = context.WithValue(ctx, transactionIDKey, models.TransactionID(""))
	return context.WithValue(ctx, disableKey, false)
}
