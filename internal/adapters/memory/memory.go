// Package memory implements the storage ports against process memory.
// Transactions buffer a write set per session and apply it atomically on
// commit, so uncommitted writes are visible inside the session and
// invisible outside it.
package memory

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

// Config controls the adapter's static capability.
type Config struct {
	// Transactions disables or enables transaction support; disabled
	// mirrors an engine whose precondition is unmet at init time.
	Transactions bool
	Options      models.TxOptions
}

// Adapter is an in-memory document store.
type Adapter struct {
	mu         sync.RWMutex
	data       map[string]map[string]models.Document
	capability ports.Capability
	logger     *zap.Logger

	hookMu     sync.Mutex
	commitFail error
}

var _ ports.Adapter = (*Adapter)(nil)

// New creates an empty in-memory adapter.
func New(cfg Config, logger *zap.Logger) *Adapter {
	capability := ports.NoTransactionCapability()
	if cfg.Transactions {
		capability = ports.TransactionCapability(cfg.Options)
	}
	return &Adapter{
		data:       make(map[string]map[string]models.Document),
		capability: capability,
		logger:     logger,
	}
}

// Name identifies the adapter in logs and metrics.
func (a *Adapter) Name() string { return "memory" }

// Capability reports static transaction support.
func (a *Adapter) Capability() ports.Capability { return a.capability }

// FailCommits makes every subsequent native commit fail with err; nil
// restores normal commits. Test hook only.
func (a *Adapter) FailCommits(err error) {
	a.hookMu.Lock()
	a.commitFail = err
	a.hookMu.Unlock()
}

func (a *Adapter) commitError() error {
	a.hookMu.Lock()
	defer a.hookMu.Unlock()
	return a.commitFail
}

// BeginSession opens a buffered write-set session.
func (a *Adapter) BeginSession(ctx context.Context, opts models.TxOptions) (ports.Session, error) {
	if !a.capability.SupportsTransactions() {
		return nil, domain.ErrTransactionsUnsupported
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &session{adapter: a}, nil
}

type mutationKind int

const (
	mutInsert mutationKind = iota
	mutUpdate
	mutDelete
)

type mutation struct {
	kind       mutationKind
	collection string
	id         string
	doc        models.Document
}

// session buffers writes until commit. Reads through the session see the
// buffer first so a transaction observes its own uncommitted writes.
type session struct {
	mu      sync.Mutex
	adapter *Adapter
	writes  []mutation
	closed  bool
}

func (s *session) Commit(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return domain.ErrTransactionClosed
	}
	s.closed = true

	if err := s.adapter.commitError(); err != nil {
		s.writes = nil
		return err
	}

	s.adapter.mu.Lock()
	defer s.adapter.mu.Unlock()
	for _, m := range s.writes {
		switch m.kind {
		case mutInsert, mutUpdate:
			coll := s.adapter.data[m.collection]
			if coll == nil {
				coll = make(map[string]models.Document)
				s.adapter.data[m.collection] = coll
			}
			coll[m.id] = m.doc
		case mutDelete:
			delete(s.adapter.data[m.collection], m.id)
		}
	}
	s.writes = nil
	return nil
}

func (s *session) Rollback(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	// Rollback after a failed commit is a no-op, like a driver whose
	// handle is already closed.
	s.closed = true
	s.writes = nil
	return nil
}

// pending resolves id through the buffer: the latest buffered write wins.
// The second result reports whether the buffer had an opinion at all.
func (s *session) pending(collection, id string) (models.Document, bool, bool) {
	for i := len(s.writes) - 1; i >= 0; i-- {
		m := s.writes[i]
		if m.collection != collection || m.id != id {
			continue
		}
		if m.kind == mutDelete {
			return models.Document{}, false, true
		}
		return m.doc, true, true
	}
	return models.Document{}, false, false
}

func (a *Adapter) ownSession(sess ports.Session) (*session, error) {
	if sess == nil {
		return nil, nil
	}
	s, ok := sess.(*session)
	if !ok || s.adapter != a {
		return nil, fmt.Errorf("session does not belong to the memory adapter")
	}
	return s, nil
}

// base reads committed state only.
func (a *Adapter) base(collection, id string) (models.Document, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	doc, ok := a.data[collection][id]
	return doc, ok
}

// Insert stores a new document. Tagged with a session it lands in the
// buffer; untransacted it applies immediately.
func (a *Adapter) Insert(ctx context.Context, sess ports.Session, collection string, doc models.Document) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s, err := a.ownSession(sess)
	if err != nil {
		return err
	}
	doc = doc.Clone()
	doc.UpdatedAt = time.Now()

	if s == nil {
		a.mu.Lock()
		defer a.mu.Unlock()
		if _, exists := a.data[collection][doc.ID]; exists {
			return existsError(collection, doc.ID)
		}
		coll := a.data[collection]
		if coll == nil {
			coll = make(map[string]models.Document)
			a.data[collection] = coll
		}
		coll[doc.ID] = doc
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return domain.ErrTransactionClosed
	}
	if _, visible, buffered := s.pending(collection, doc.ID); buffered {
		if visible {
			return existsError(collection, doc.ID)
		}
	} else if _, exists := a.base(collection, doc.ID); exists {
		return existsError(collection, doc.ID)
	}
	s.writes = append(s.writes, mutation{kind: mutInsert, collection: collection, id: doc.ID, doc: doc})
	return nil
}

// Update replaces an existing document.
func (a *Adapter) Update(ctx context.Context, sess ports.Session, collection string, doc models.Document) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s, err := a.ownSession(sess)
	if err != nil {
		return err
	}
	doc = doc.Clone()
	doc.UpdatedAt = time.Now()

	if s == nil {
		a.mu.Lock()
		defer a.mu.Unlock()
		if _, exists := a.data[collection][doc.ID]; !exists {
			return notFoundError(collection, doc.ID)
		}
		a.data[collection][doc.ID] = doc
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return domain.ErrTransactionClosed
	}
	if _, visible, buffered := s.pending(collection, doc.ID); buffered {
		if !visible {
			return notFoundError(collection, doc.ID)
		}
	} else if _, exists := a.base(collection, doc.ID); !exists {
		return notFoundError(collection, doc.ID)
	}
	s.writes = append(s.writes, mutation{kind: mutUpdate, collection: collection, id: doc.ID, doc: doc})
	return nil
}

// Delete removes a document.
func (a *Adapter) Delete(ctx context.Context, sess ports.Session, collection, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s, err := a.ownSession(sess)
	if err != nil {
		return err
	}

	if s == nil {
		a.mu.Lock()
		defer a.mu.Unlock()
		if _, exists := a.data[collection][id]; !exists {
			return notFoundError(collection, id)
		}
		delete(a.data[collection], id)
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return domain.ErrTransactionClosed
	}
	if _, visible, buffered := s.pending(collection, id); buffered {
		if !visible {
			return notFoundError(collection, id)
		}
	} else if _, exists := a.base(collection, id); !exists {
		return notFoundError(collection, id)
	}
	s.writes = append(s.writes, mutation{kind: mutDelete, collection: collection, id: id})
	return nil
}

// Get reads a document. Through a session it observes that session's
// uncommitted writes; without one it reads committed state only.
func (a *Adapter) Get(ctx context.Context, sess ports.Session, collection, id string) (models.Document, error) {
	if err := ctx.Err(); err != nil {
		return models.Document{}, err
	}
	s, err := a.ownSession(sess)
	if err != nil {
		return models.Document{}, err
	}

	if s != nil {
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return models.Document{}, domain.ErrTransactionClosed
		}
		doc, visible, buffered := s.pending(collection, id)
		s.mu.Unlock()
		if buffered {
			if !visible {
				return models.Document{}, notFoundError(collection, id)
			}
			return doc.Clone(), nil
		}
	}

	doc, ok := a.base(collection, id)
	if !ok {
		return models.Document{}, notFoundError(collection, id)
	}
	return doc.Clone(), nil
}

func notFoundError(collection, id string) error {
	return domain.WrapError(domain.ErrorCodeDocumentNotFound,
		"document not found", domain.ErrDocumentNotFound).
		WithDetail("collection", collection).
		WithDetail("id", id)
}

func existsError(collection, id string) error {
	return domain.WrapError(domain.ErrorCodeDocumentConflict,
		"document already exists", domain.ErrDocumentExists).
		WithDetail("collection", collection).
		WithDetail("id", id)
}
