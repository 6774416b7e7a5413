package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// EntryDirection marks which side of a transfer a ledger entry records
type EntryDirection string

const (
	DirectionDebit  EntryDirection = "debit"
	DirectionCredit EntryDirection = "credit"
)

// Account is the demo domain used by the standalone script and the
// end-to-end coordination tests: balance updates plus ledger entries are
// exactly the multi-write shape the transaction layer exists for.
type Account struct {
	ID        string
	Owner     string
	Currency  string
	Balance   decimal.Decimal
	CreatedAt time.Time
}

// LedgerEntry records one side of a transfer against an account
type LedgerEntry struct {
	ID        string
	AccountID string
	Direction EntryDirection
	Amount    decimal.Decimal
	Memo      string
	CreatedAt time.Time
}

// Document converts the account to the generic storage shape. Balances
// travel as strings so no engine rounds them.
func (a Account) Document() Document {
	return Document{
		ID: a.ID,
		Fields: map[string]interface{}{
			"owner":      a.Owner,
			"currency":   a.Currency,
			"balance":    a.Balance.String(),
			"created_at": a.CreatedAt.UTC().Format(time.RFC3339Nano),
		},
	}
}

// AccountFromDocument rebuilds an account from its stored form.
func AccountFromDocument(doc Document) (Account, error) {
	owner, _ := doc.Fields["owner"].(string)
	currency, _ := doc.Fields["currency"].(string)

	rawBalance, ok := doc.Fields["balance"].(string)
	if !ok {
		return Account{}, fmt.Errorf("account %s: missing balance field", doc.ID)
	}
	balance, err := decimal.NewFromString(rawBalance)
	if err != nil {
		return Account{}, fmt.Errorf("account %s: parse balance: %w", doc.ID, err)
	}

	acct := Account{
		ID:       doc.ID,
		Owner:    owner,
		Currency: currency,
		Balance:  balance,
	}
	if raw, ok := doc.Fields["created_at"].(string); ok {
		if ts, err := time.Parse(time.RFC3339Nano, raw); err == nil {
			acct.CreatedAt = ts
		}
	}
	return acct, nil
}

// Document converts the ledger entry to the generic storage shape.
func (e LedgerEntry) Document() Document {
	return Document{
		ID: e.ID,
		Fields: map[string]interface{}{
			"account_id": e.AccountID,
			"direction":  string(e.Direction),
			"amount":     e.Amount.String(),
			"memo":       e.Memo,
			"created_at": e.CreatedAt.UTC().Format(time.RFC3339Nano),
		},
	}
}

// LedgerEntryFromDocument rebuilds a ledger entry from its stored form.
func LedgerEntryFromDocument(doc Document) (LedgerEntry, error) {
	rawAmount, ok := doc.Fields["amount"].(string)
	if !ok {
		return LedgerEntry{}, fmt.Errorf("entry %s: missing amount field", doc.ID)
	}
	amount, err := decimal.NewFromString(rawAmount)
	if err != nil {
		return LedgerEntry{}, fmt.Errorf("entry %s: parse amount: %w", doc.ID, err)
	}

	accountID, _ := doc.Fields["account_id"].(string)
	direction, _ := doc.Fields["direction"].(string)
	memo, _ := doc.Fields["memo"].(string)

	entry := LedgerEntry{
		ID:        doc.ID,
		AccountID: accountID,
		Direction: EntryDirection(direction),
		Amount:    amount,
		Memo:      memo,
	}
	if raw, ok := doc.Fields["created_at"].(string); ok {
		if ts, err := time.Parse(time.RFC3339Nano, raw); err == nil {
			entry.CreatedAt = ts
		}
	}
	return entry, nil
}
