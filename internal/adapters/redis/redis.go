// Package redis implements the storage ports on Redis. The engine's
// MULTI/EXEC queues commands without executing them, so a transaction can
// never observe its own uncommitted writes; the capability therefore
// resolves to no transaction support and every operation runs untransacted.
// This is the graceful-degrade path, not an error.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/txngate/txngate/internal/domain"
	"github.com/txngate/txngate/internal/domain/models"
	"github.com/txngate/txngate/internal/domain/ports"
	"github.com/txngate/txngate/pkg/resilience"
)

// Config contains configuration for the Redis adapter
type Config struct {
	Address  string
	Password string
	DB       int
}

// Adapter provides document storage over a Redis client.
type Adapter struct {
	client *redis.Client
	logger *zap.Logger
}

var _ ports.Adapter = (*Adapter)(nil)

// New connects to Redis and verifies connectivity.
func New(ctx context.Context, cfg Config, logger *zap.Logger) (*Adapter, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	err := resilience.Retry(ctx, 3, resilience.DefaultExponentialBackoff(),
		func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		})
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	logger.Info("Redis adapter initialized",
		zap.String("address", cfg.Address),
		zap.Int("db", cfg.DB),
		zap.Bool("transactions", false),
	)
	return &Adapter{client: client, logger: logger}, nil
}

// Name identifies the adapter in logs and metrics.
func (a *Adapter) Name() string { return "redis" }

// Capability always reports no transaction support.
func (a *Adapter) Capability() ports.Capability {
	return ports.NoTransactionCapability()
}

// Close closes the client.
func (a *Adapter) Close() error {
	a.logger.Info("closing Redis client")
	return a.client.Close()
}

// BeginSession always fails; the capability already said so.
func (a *Adapter) BeginSession(ctx context.Context, opts models.TxOptions) (ports.Session, error) {
	return nil, domain.ErrTransactionsUnsupported
}

func key(collection, id string) string {
	return fmt.Sprintf("txngate:%s:%s", collection, id)
}

func (a *Adapter) reject(sess ports.Session) error {
	if sess != nil {
		return fmt.Errorf("redis adapter cannot tag operations with a session")
	}
	return nil
}

type storedDocument struct {
	Fields    map[string]interface{} `json:"fields"`
	UpdatedAt time.Time              `json:"updated_at"`
}

// Insert stores a new document.
func (a *Adapter) Insert(ctx context.Context, sess ports.Session, collection string, doc models.Document) error {
	if err := a.reject(sess); err != nil {
		return err
	}
	payload, err := json.Marshal(storedDocument{Fields: doc.Fields, UpdatedAt: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("marshal document: %w", err)
	}

	ok, err := a.client.SetNX(ctx, key(collection, doc.ID), payload, 0).Result()
	if err != nil {
		return storageError("insert document", collection, doc.ID, err)
	}
	if !ok {
		return domain.WrapError(domain.ErrorCodeDocumentConflict,
			"document already exists", domain.ErrDocumentExists).
			WithDetail("collection", collection).
			WithDetail("id", doc.ID)
	}
	return nil
}

// Update replaces an existing document. SET with XX keeps the
// exists-check and the write one round trip.
func (a *Adapter) Update(ctx context.Context, sess ports.Session, collection string, doc models.Document) error {
	if err := a.reject(sess); err != nil {
		return err
	}
	payload, err := json.Marshal(storedDocument{Fields: doc.Fields, UpdatedAt: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("marshal document: %w", err)
	}

	res, err := a.client.SetXX(ctx, key(collection, doc.ID), payload, 0).Result()
	if err != nil {
		return storageError("update document", collection, doc.ID, err)
	}
	if !res {
		return notFoundError(collection, doc.ID)
	}
	return nil
}

// Delete removes a document.
func (a *Adapter) Delete(ctx context.Context, sess ports.Session, collection, id string) error {
	if err := a.reject(sess); err != nil {
		return err
	}
	deleted, err := a.client.Del(ctx, key(collection, id)).Result()
	if err != nil {
		return storageError("delete document", collection, id, err)
	}
	if deleted == 0 {
		return notFoundError(collection, id)
	}
	return nil
}

// Get reads a document.
func (a *Adapter) Get(ctx context.Context, sess ports.Session, collection, id string) (models.Document, error) {
	if err := a.reject(sess); err != nil {
		return models.Document{}, err
	}
	payload, err := a.client.Get(ctx, key(collection, id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return models.Document{}, notFoundError(collection, id)
	}
	if err != nil {
		return models.Document{}, storageError("get document", collection, id, err)
	}

	var stored storedDocument
	if err := json.Unmarshal(payload, &stored); err != nil {
		return models.Document{}, fmt.Errorf("unmarshal document: %w", err)
	}
	return models.Document{ID: id, Fields: stored.Fields, UpdatedAt: stored.UpdatedAt}, nil
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
