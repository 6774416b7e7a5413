// Package ledger is the reference consumer of the transaction layer: a
// transfer touches two balances and two ledger entries, the multi-write
// shape that must land all-or-nothing.
package ledger

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/txngate/txngate/internal/domain"
	"github.com/txngate/txngate/internal/domain/models"
	"github.com/txngate/txngate/internal/domain/ports"
	"github.com/txngate/txngate/internal/txctx"
	"github.com/txngate/txngate/internal/txn"
	"github.com/txngate/txngate/pkg/resourcemgmt"
)

const (
	CollectionAccounts = "accounts"
	CollectionEntries  = "ledger_entries"
)

// TransferHook runs synchronously inside the transfer's transaction, once
// per ledger entry. A hook error fails the transfer and rolls everything
// back.
type TransferHook func(ctx context.Context, entry models.LedgerEntry) error

// CommittedHook runs fire-and-forget after a transfer committed. It
// receives a detached context: the transaction is already decided, so the
// hook must never see its identifier.
type CommittedHook func(ctx context.Context, transferID string)

// Service coordinates ledger writes through the operation dispatcher.
type Service struct {
	store      ports.DocumentStore
	dispatcher *txn.Dispatcher
	logger     *zap.Logger
	tracker    *resourcemgmt.GoroutineTracker

	transferHooks  []TransferHook
	committedHooks []CommittedHook
}

// New creates a ledger service over the adapter's document store.
func New(adapter ports.Adapter, dispatcher *txn.Dispatcher, logger *zap.Logger) *Service {
	return &Service{
		store:      adapter,
		dispatcher: dispatcher,
		logger:     logger,
	}
}

// UseTracker registers unawaited hook goroutines with the tracker so a
// stuck hook is visible in metrics and logs.
func (s *Service) UseTracker(tracker *resourcemgmt.GoroutineTracker) {
	s.tracker = tracker
}

// OnTransfer registers an awaited hook invoked inside the transaction.
func (s *Service) OnTransfer(h TransferHook) {
	s.transferHooks = append(s.transferHooks, h)
}

// OnCommitted registers an unawaited hook invoked after commit.
func (s *Service) OnCommitted(h CommittedHook) {
	s.committedHooks = append(s.committedHooks, h)
}

// CreateAccount stores a new account.
func (s *Service) CreateAccount(ctx context.Context, opts txn.Options, acct models.Account) error {
	if acct.Balance.IsNegative() {
		return domain.WrapError(domain.ErrorCodeValidationFailed,
			"opening balance cannot be negative", domain.ErrInvalidAmount).
			WithDetail("account_id", acct.ID)
	}
	if acct.CreatedAt.IsZero() {
		acct.CreatedAt = time.Now()
	}
	return s.dispatcher.ExecuteWith(ctx, opts, func(ctx context.Context, sess ports.Session) error {
		return s.store.Insert(ctx, sess, CollectionAccounts, acct.Document())
	})
}

// GetAccount reads an account, observing the ambient transaction's
// uncommitted writes when the context carries its identifier.
func (s *Service) GetAccount(ctx context.Context, id string) (models.Account, error) {
	var acct models.Account
	err := s.dispatcher.ExecuteRead(ctx, func(ctx context.Context, sess ports.Session) error {
		doc, err := s.store.Get(ctx, sess, CollectionAccounts, id)
		if err != nil {
			if domain.IsDomainError(err, domain.ErrorCodeDocumentNotFound) {
				return domain.WrapError(domain.ErrorCodeDocumentNotFound,
					"account not found", domain.ErrAccountNotFound).
					WithDetail("account_id", id)
			}
			return err
		}
		acct, err = models.AccountFromDocument(doc)
		return err
	})
	return acct, err
}

// GetEntry reads a ledger entry.
func (s *Service) GetEntry(ctx context.Context, id string) (models.LedgerEntry, error) {
	var entry models.LedgerEntry
	err := s.dispatcher.ExecuteRead(ctx, func(ctx context.Context, sess ports.Session) error {
		doc, err := s.store.Get(ctx, sess, CollectionEntries, id)
		if err != nil {
			return err
		}
		entry, err = models.LedgerEntryFromDocument(doc)
		return err
	})
	return entry, err
}

// Transfer moves amount between two accounts as one atomic unit: both
// balances and both ledger entries, plus every awaited transfer hook. Any
// failure anywhere rolls the whole transfer back and surfaces unchanged.
func (s *Service) Transfer(ctx context.Context, opts txn.Options, fromID, toID string, amount decimal.Decimal, memo string) (string, error) {
	if !amount.IsPositive() {
		return "", domain.WrapError(domain.ErrorCodeValidationFailed,
			"transfer amount must be positive", domain.ErrInvalidAmount).
			WithDetail("amount", amount.String())
	}
	if fromID == toID {
		return "", domain.WrapError(domain.ErrorCodeValidationFailed,
			"transfer endpoints must differ", domain.ErrSameAccountTransfer).
			WithDetail("account_id", fromID)
	}

	transferID := uuid.New().String()
	err := s.dispatcher.ExecuteWith(ctx, opts, func(ctx context.Context, sess ports.Session) error {
		from, err := s.loadAccount(ctx, sess, fromID)
		if err != nil {
			return err
		}
		to, err := s.loadAccount(ctx, sess, toID)
		if err != nil {
			return err
		}
		if from.Balance.LessThan(amount) {
			return domain.WrapError(domain.ErrorCodeValidationFailed,
				"insufficient funds", domain.ErrInsufficientFunds).
				WithDetail("account_id", fromID).
				WithDetail("balance", from.Balance.String()).
				WithDetail("amount", amount.String())
		}

		from.Balance = from.Balance.Sub(amount)
		to.Balance = to.Balance.Add(amount)
		if err := s.store.Update(ctx, sess, CollectionAccounts, from.Document()); err != nil {
			return err
		}
		if err := s.store.Update(ctx, sess, CollectionAccounts, to.Document()); err != nil {
			return err
		}

		now := time.Now()
		entries := []models.LedgerEntry{
			{
				ID:        transferID + ":debit",
				AccountID: fromID,
				Direction: models.DirectionDebit,
				Amount:    amount,
				Memo:      memo,
				CreatedAt: now,
			},
			{
				ID:        transferID + ":credit",
				AccountID: toID,
				Direction: models.DirectionCredit,
				Amount:    amount,
				Memo:      memo,
				CreatedAt: now,
			},
		}
		for _, entry := range entries {
			if err := s.store.Insert(ctx, sess, CollectionEntries, entry.Document()); err != nil {
				return err
			}
			// Awaited hooks run inside the transaction and inherit its
			// identifier through ctx.
			for _, hook := range s.transferHooks {
				if err := hook(ctx, entry); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return "", err
	}

	s.logger.Info("transfer committed",
		zap.String("transfer_id", transferID),
		zap.String("from", fromID),
		zap.String("to", toID),
		zap.String("amount", amount.String()),
	)

	// Unawaited hooks may outlive this call, so they get a context with
	// no transaction identifier to hold on to.
	for _, hook := range s.committedHooks {
		if s.tracker != nil {
			s.tracker.GoWithContext(txctx.Detached(ctx), "committed_hook", func(ctx context.Context) {
				hook(ctx, transferID)
			})
			continue
		}
		go hook(txctx.Detached(ctx), transferID)
	}
	return transferID, nil
}

func (s *Service) loadAccount(ctx context.Context, sess ports.Session, id string) (models.Account, error) {
	doc, err := s.store.Get(ctx, sess, CollectionAccounts, id)
	if err != nil {
		if domain.IsDomainError(err, domain.ErrorCodeDocumentNotFound) {
			return models.Account{}, domain.WrapError(domain.ErrorCodeDocumentNotFound,
				"account not found", domain.ErrAccountNotFound).
				WithDetail("account_id", id)
		}
		return models.Account{}, err
	}
	return models.AccountFromDocument(doc)
}
