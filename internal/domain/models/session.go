package models

import (
	"github.com/google/uuid"
)

// TransactionID is the opaque, process-unique token correlating multiple
// operations into one atomic unit. Identifiers are never reused and become
// invalid once their session reaches a terminal state.
type TransactionID string

// NewTransactionID allocates a fresh identifier.
func NewTransactionID() TransactionID {
	return TransactionID(uuid.New().String())
}

// String returns the identifier as a plain string for logging.
func (id TransactionID) String() string {
	return string(id)
}

// SessionState represents the lifecycle state of a transaction session
type SessionState string

const (
	StateActive      SessionState = "active"
	StateCommitting  SessionState = "committing"
	StateCommitted   SessionState = "committed"
	StateRollingBack SessionState = "rolling_back"
	StateRolledBack  SessionState = "rolled_back"
)

// Terminal reports whether no further transition may leave this state.
func (s SessionState) Terminal() bool {
	return s == StateCommitted || s == StateRolledBack
}

// IsolationLevel tunes the native transaction an adapter opens. Adapters
// that do not distinguish levels ignore it.
type IsolationLevel string

const (
	IsolationDefault        IsolationLevel = ""
	IsolationReadCommitted  IsolationLevel = "read_committed"
	IsolationRepeatableRead IsolationLevel = "repeatable_read"
	IsolationSerializable   IsolationLevel = "serializable"
)

// TxOptions carries engine tuning for a transaction. The zero value asks
// for the engine default.
type TxOptions struct {
	Isolation IsolationLevel
	ReadOnly  bool
}
