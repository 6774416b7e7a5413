// Package sqlite implements the storage ports on SQLite through
// database/sql and the pure-Go modernc driver. The engine is a single
// writer, so every transaction is effectively serializable and isolation
// tuning is ignored.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/txngate/txngate/internal/domain"
	"github.com/txngate/txngate/internal/domain/models"
	"github.com/txngate/txngate/internal/domain/ports"
)

// Config contains configuration for the SQLite adapter
type Config struct {
	// Path is the database file. ":memory:" keeps it in process memory
	// but is limited to untransacted use; see New.
	Path string

	Transactions bool
	Options      models.TxOptions
}

// Adapter provides document storage over a SQLite database.
type Adapter struct {
	db         *sql.DB
	capability ports.Capability
	logger     *zap.Logger
}

var _ ports.Adapter = (*Adapter)(nil)

// execer is satisfied by both *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// New opens the database file and prepares the schema.
//
// ":memory:" with transactions enabled is rejected: the in-memory database
// exists on a single pooled connection, so an untransacted write issued
// while a session holds that connection would block until the session ends.
// When the untransacted call is nested inside the owning operation, that
// wait never ends. Use a file path for transacted in-process storage.
func New(ctx context.Context, cfg Config, logger *zap.Logger) (*Adapter, error) {
	if cfg.Path == ":memory:" && cfg.Transactions {
		return nil, fmt.Errorf("sqlite :memory: cannot serve transacted and untransacted access " +
			"on its single connection; use a file path or disable transactions")
	}
	dsn := cfg.Path
	if !strings.Contains(dsn, "?") && dsn != ":memory:" {
		// WAL lets untransacted reads proceed while a write transaction
		// is open; busy_timeout covers writer handoff.
		dsn += "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	if cfg.Path == ":memory:" {
		// Each pooled connection would otherwise get its own empty
		// in-memory database.
		db.SetMaxOpenConns(1)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite database: %w", err)
	}

	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS documents (
			collection  TEXT NOT NULL,
			id          TEXT NOT NULL,
			fields      TEXT NOT NULL,
			updated_at  TEXT NOT NULL,
			PRIMARY KEY (collection, id)
		)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create documents table: %w", err)
	}

	capability := ports.NoTransactionCapability()
	if cfg.Transactions {
		capability = ports.TransactionCapability(cfg.Options)
	}

	logger.Info("SQLite adapter initialized",
		zap.String("path", cfg.Path),
		zap.Bool("transactions", cfg.Transactions),
	)

	return &Adapter{
		db:         db,
		capability: capability,
		logger:     logger,
	}, nil
}

// Name identifies the adapter in logs and metrics.
func (a *Adapter) Name() string { return "sqlite" }

// Capability reports static transaction support.
func (a *Adapter) Capability() ports.Capability { return a.capability }

// Close closes the database.
func (a *Adapter) Close() error {
	a.logger.Info("closing SQLite database")
	return a.db.Close()
}

// BeginSession opens a native SQLite transaction.
func (a *Adapter) BeginSession(ctx context.Context, opts models.TxOptions) (ports.Session, error) {
	if !a.capability.SupportsTransactions() {
		return nil, domain.ErrTransactionsUnsupported
	}
	tx, err := a.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: opts.ReadOnly})
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	return &session{adapter: a, tx: tx}, nil
}

type session struct {
	adapter *Adapter
	tx      *sql.Tx
}

func (s *session) Commit(ctx context.Context) error {
	return s.tx.Commit()
}

func (s *session) Rollback(ctx context.Context) error {
	err := s.tx.Rollback()
	if errors.Is(err, sql.ErrTxDone) {
		return nil
	}
	return err
}

func (a *Adapter) executor(sess ports.Session) (execer, error) {
	if sess == nil {
		return a.db, nil
	}
	s, ok := sess.(*session)
	if !ok || s.adapter != a {
		return nil, fmt.Errorf("session does not belong to the sqlite adapter")
	}
	return s.tx, nil
}

// Insert stores a new document.
func (a *Adapter) Insert(ctx context.Context, sess ports.Session, collection string, doc models.Document) error {
	exec, err := a.executor(sess)
	if err != nil {
		return err
	}
	fields, err := json.Marshal(doc.Fields)
	if err != nil {
		return fmt.Errorf("marshal document fields: %w", err)
	}

	res, err := exec.ExecContext(ctx, `
		INSERT INTO documents (collection, id, fields, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (collection, id) DO NOTHING`,
		collection, doc.ID, string(fields), time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return storageError("insert document", collection, doc.ID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return storageError("insert document", collection, doc.ID, err)
	}
	if affected == 0 {
		return domain.WrapError(domain.ErrorCodeDocumentConflict,
			"document already exists", domain.ErrDocumentExists).
			WithDetail("collection", collection).
			WithDetail("id", doc.ID)
	}
	return nil
}

// Update replaces an existing document.
func (a *Adapter) Update(ctx context.Context, sess ports.Session, collection string, doc models.Document) error {
	exec, err := a.executor(sess)
	if err != nil {
		return err
	}
	fields, err := json.Marshal(doc.Fields)
	if err != nil {
		return fmt.Errorf("marshal document fields: %w", err)
	}

	res, err := exec.ExecContext(ctx, `
		UPDATE documents SET fields = ?, updated_at = ?
		WHERE collection = ? AND id = ?`,
		string(fields), time.Now().UTC().Format(time.RFC3339Nano), collection, doc.ID)
	if err != nil {
		return storageError("update document", collection, doc.ID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return storageError("update document", collection, doc.ID, err)
	}
	if affected == 0 {
		return notFoundError(collection, doc.ID)
	}
	return nil
}

// Delete removes a document.
func (a *Adapter) Delete(ctx context.Context, sess ports.Session, collection, id string) error {
	exec, err := a.executor(sess)
	if err != nil {
		return err
	}
	res, err := exec.ExecContext(ctx, `
		DELETE FROM documents WHERE collection = ? AND id = ?`,
		collection, id)
	if err != nil {
		return storageError("delete document", collection, id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return storageError("delete document", collection, id, err)
	}
	if affected == 0 {
		return notFoundError(collection, id)
	}
	return nil
}

// Get reads a document, observing the session's uncommitted writes when
// one is supplied.
func (a *Adapter) Get(ctx context.Context, sess ports.Session, collection, id string) (models.Document, error) {
	exec, err := a.executor(sess)
	if err != nil {
		return models.Document{}, err
	}

	var (
		fields    string
		updatedAt string
	)
	err = exec.QueryRowContext(ctx, `
		SELECT fields, updated_at FROM documents
		WHERE collection = ? AND id = ?`,
		collection, id).Scan(&fields, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Document{}, notFoundError(collection, id)
	}
	if err != nil {
		return models.Document{}, storageError("get document", collection, id, err)
	}

	doc := models.Document{ID: id}
	if err := json.Unmarshal([]byte(fields), &doc.Fields); err != nil {
		return models.Document{}, fmt.Errorf("unmarshal document fields: %w", err)
	}
	if ts, err := time.Parse(time.RFC3339Nano, updatedAt); err == nil {
		doc.UpdatedAt = ts
	}
	return doc, nil
}

func notFoundError(collection, id string) error {
	return domain.WrapError(domain.ErrorCodeDocumentNotFound,
		"document not found", domain.ErrDocumentNotFound).
		WithDetail("collection", collection).
		WithDetail("id", id)
}

func storageError(op, collection, id string, err error) error {
	return domain.WrapError(domain.ErrorCodeStorageUnderlying, op, err).
		WithDetail("collection", collection).
		WithDetail("id", id)
}
