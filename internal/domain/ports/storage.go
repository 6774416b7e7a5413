package ports

import (
	"context"

	"github.com/txngate/txngate/internal/domain/models"
)

// Capability describes, per configured database, whether transactions are
// supported and with what default tuning. Resolved once at adapter
// initialization from static configuration and read-only thereafter. An
// engine whose preconditions are unmet at init time (for example a
// document store without its replica set) resolves to unsupported instead
// of failing; callers degrade gracefully.
type Capability interface {
	SupportsTransactions() bool
	DefaultOptions() models.TxOptions
}

type staticCapability struct {
	supported bool
	options   models.TxOptions
}

func (c staticCapability) SupportsTransactions() bool       { return c.supported }
func (c staticCapability) DefaultOptions() models.TxOptions { return c.options }

// TransactionCapability returns a capability with transaction support and
// the given default options.
func TransactionCapability(opts models.TxOptions) Capability {
	return staticCapability{supported: true, options: opts}
}

// NoTransactionCapability returns a capability without transaction support.
func NoTransactionCapability() Capability {
	return staticCapability{}
}

// Session is a live native transaction handle. Only the session registry
// owns sessions; operation callbacks receive one scoped to a single call
// for tagging writes and must not retain it.
type Session interface {
	// Commit makes all writes tagged with this session durable.
	Commit(ctx context.Context) error

	// Rollback discards all writes tagged with this session.
	Rollback(ctx context.Context) error
}

// DocumentStore is the minimal write surface every adapter provides. A nil
// session runs the call untransacted; a non-nil session tags the call so
// it joins that session's transaction. Sessions passed here must have been
// opened by the same adapter.
type DocumentStore interface {
	Insert(ctx context.Context, sess Session, collection string, doc models.Document) error
	Update(ctx context.Context, sess Session, collection string, doc models.Document) error
	Delete(ctx context.Context, sess Session, collection, id string) error
	Get(ctx context.Context, sess Session, collection, id string) (models.Document, error)
}

// Adapter is one configured storage engine: its capability descriptor, a
// way to open native sessions, and the tagged write surface.
type Adapter interface {
	// Name identifies the engine in logs and metrics labels.
	Name() string

	// Capability reports static transaction support. Immutable after
	// initialization.
	Capability() Capability

	// BeginSession opens a native transaction session. Callers must
	// eventually Commit or Rollback it. Returns an error when the engine
	// cannot open a session (pool exhaustion, connectivity); adapters
	// whose capability reports no support also fail here.
	BeginSession(ctx context.Context, opts models.TxOptions) (Session, error)

	DocumentStore
}
