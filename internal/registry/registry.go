package registry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/txngate/txngate/internal/domain"
	"github.com/txngate/txngate/internal/domain/models"
	"github.com/txngate/txngate/internal/domain/ports"
)

// SessionFactory opens the native session a new registry entry will own.
type SessionFactory func(ctx context.Context) (ports.Session, error)

// Session is a registry-owned record pairing a transaction identifier with
// its live native handle. All state transitions go through methods on this
// type; per-session locking serializes commit, rollback and attach on the
// same identifier while leaving cross-session operations uncontended.
type Session struct {
	mu        sync.Mutex
	id        models.TransactionID
	native    ports.Session
	state     models.SessionState
	refs      int
	createdAt time.Time
}

// ID returns the session's transaction identifier.
func (s *Session) ID() models.TransactionID {
	return s.id
}

// State returns the current lifecycle state.
func (s *Session) State() models.SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Refs returns the number of in-flight operations currently attached.
func (s *Session) Refs() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refs
}

// Native returns the native handle for tagging writes. Only the lifecycle
// manager and dispatcher may call this; hooks and callers see identifiers.
func (s *Session) Native() ports.Session {
	return s.native
}

// Age returns how long the session has been open.
func (s *Session) Age() time.Duration {
	return time.Since(s.createdAt)
}

// retain attaches one operation. Fails once the session left Active.
func (s *Session) retain() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != models.StateActive {
		return domain.WrapError(domain.ErrorCodeTxnTerminal,
			"cannot attach operation to closed transaction", domain.ErrTransactionClosed).
			WithDetail("transaction_id", s.id.String()).
			WithDetail("state", string(s.state))
	}
	s.refs++
	return nil
}

// release detaches one operation. The count never goes negative; release
// at zero indicates a retain/release pairing bug and is dropped.
func (s *Session) release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.refs > 0 {
		s.refs--
	}
}

// BeginCommit transitions Active -> Committing and reports the number of
// operations still attached so the caller can surface the unawaited-work
// warning. Fails on any other starting state.
func (s *Session) BeginCommit() (inFlight int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != models.StateActive {
		return 0, domain.WrapError(domain.ErrorCodeTxnTerminal,
			"transaction is not active", domain.ErrTransactionClosed).
			WithDetail("transaction_id", s.id.String()).
			WithDetail("state", string(s.state))
	}
	s.state = models.StateCommitting
	return s.refs, nil
}

// FinishCommit records the native commit outcome: Committed on success,
// RolledBack when the native commit was rejected.
func (s *Session) FinishCommit(committed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if committed {
		s.state = models.StateCommitted
	} else {
		s.state = models.StateRolledBack
	}
}

// BeginRollback transitions any non-terminal state to RollingBack. The
// alreadyTerminal result tells the caller this is the idempotent no-op
// path, not an error.
func (s *Session) BeginRollback() (inFlight int, alreadyTerminal bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Terminal() || s.state == models.StateRollingBack {
		return s.refs, true
	}
	s.state = models.StateRollingBack
	return s.refs, false
}

// FinishRollback marks the session RolledBack.
func (s *Session) FinishRollback() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = models.StateRolledBack
}

// Registry is the process-wide table mapping transaction identifiers to
// live sessions. It is the single source of truth for session liveness and
// is safe for concurrent use by operations sharing an identifier.
//
// Identifiers of removed sessions stay in a tombstone set for the life of
// the process so the registry can distinguish "never issued" (a caller
// bug) from "issued but closed" (idempotent rollback, terminal join).
type Registry struct {
	mu       sync.RWMutex
	sessions map[models.TransactionID]*Session
	issued   map[models.TransactionID]struct{}
	logger   *zap.Logger
}

// New creates an empty registry.
func New(logger *zap.Logger) *Registry {
	return &Registry{
		sessions: make(map[models.TransactionID]*Session),
		issued:   make(map[models.TransactionID]struct{}),
		logger:   logger,
	}
}

// Create allocates a fresh identifier, opens the native session through
// the factory and registers it Active. On factory failure nothing is
// registered and the error carries SESSION_CREATE_FAILED.
func (r *Registry) Create(ctx context.Context, factory SessionFactory) (models.TransactionID, error) {
	native, err := factory(ctx)
	if err != nil {
		return "", domain.WrapError(domain.ErrorCodeSessionCreateFailed,
			"open native session", fmt.Errorf("%w: %w", domain.ErrSessionCreation, err))
	}

	sess := &Session{
		id:        models.NewTransactionID(),
		native:    native,
		state:     models.StateActive,
		createdAt: time.Now(),
	}

	r.mu.Lock()
	r.sessions[sess.id] = sess
	r.issued[sess.id] = struct{}{}
	r.mu.Unlock()

	r.logger.Debug("transaction session registered",
		zap.String("transaction_id", sess.id.String()),
	)
	return sess.id, nil
}

// Lookup returns the live session for an identifier. Unknown identifiers
// fail with TXN_UNKNOWN, closed ones with TXN_TERMINAL; both fail fast,
// nothing ever blocks waiting for an identifier.
func (r *Registry) Lookup(id models.TransactionID) (*Session, error) {
	r.mu.RLock()
	sess, ok := r.sessions[id]
	_, wasIssued := r.issued[id]
	r.mu.RUnlock()

	if ok {
		return sess, nil
	}
	if wasIssued {
		return nil, domain.WrapError(domain.ErrorCodeTxnTerminal,
			"transaction already closed", domain.ErrTransactionClosed).
			WithDetail("transaction_id", id.String())
	}
	return nil, domain.WrapError(domain.ErrorCodeTxnUnknown,
		"transaction identifier was never issued", domain.ErrUnknownTransaction).
		WithDetail("transaction_id", id.String())
}

// Retain attaches an in-flight operation to the identifier.
func (r *Registry) Retain(id models.TransactionID) error {
	sess, err := r.Lookup(id)
	if err != nil {
		return err
	}
	return sess.retain()
}

// Release detaches an in-flight operation. Releasing reaches zero without
// any side effect; commit and rollback are always explicit caller actions.
func (r *Registry) Release(id models.TransactionID) {
	r.mu.RLock()
	sess, ok := r.sessions[id]
	r.mu.RUnlock()
	if ok {
		sess.release()
	}
}

// Remove deletes the entry once its session reached a terminal state.
// Subsequent lookups report the identifier as closed.
func (r *Registry) Remove(id models.TransactionID) {
	r.mu.Lock()
	delete(r.sessions, id)
	r.mu.Unlock()
}

// Len reports the number of live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// SweepIdle logs a warning for every live session older than maxAge and
// returns their identifiers. A session outliving the request that created
// it is the detectable symptom of an unawaited hook holding a transaction
// identifier.
func (r *Registry) SweepIdle(maxAge time.Duration) []models.TransactionID {
	r.mu.RLock()
	var stale []models.TransactionID
	for id, sess := range r.sessions {
		if sess.Age() > maxAge {
			stale = append(stale, id)
		}
	}
	r.mu.RUnlock()

	for _, id := range stale {
		r.logger.Warn("transaction session open past expected lifetime; "+
			"a callback may be holding a transaction identifier it was never meant to keep",
			zap.String("transaction_id", id.String()),
			zap.Duration("max_age", maxAge),
		)
	}
	return stale
}
