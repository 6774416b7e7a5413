package txctx

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/txngate/txngate/internal/domain/models"
)

func TestTransactionID(t *testing.T) {
	ctx := context.Background()

	_, ok := TransactionID(ctx)
	assert.False(t, ok)

	id := models.NewTransactionID()
	ctx = WithTransaction(ctx, id)

	got, ok := TransactionID(ctx)
	require.True(t, ok)
	assert.Equal(t, id, got)
}

func TestEmptyIdentifierIsAbsent(t *testing.T) {
	ctx := WithTransaction(context.Background(), "")

	_, ok := TransactionID(ctx)
	assert.False(t, ok)
}

func TestDisabled(t *testing.T) {
	ctx := context.Background()
	assert.False(t, Disabled(ctx))

	ctx = WithoutTransaction(ctx)
	assert.True(t, Disabled(ctx))

	// The flag coexists with an identifier; resolution gives it priority.
	ctx = WithTransaction(ctx, models.NewTransactionID())
	assert.True(t, Disabled(ctx))
	_, ok := TransactionID(ctx)
	assert.True(t, ok)
}

func TestDetached(t *testing.T) {
	type valueKey string
	ctx := context.WithValue(context.Background(), valueKey("request_id"), "req-42")
	ctx = WithTransaction(ctx, models.NewTransactionID())
	ctx = WithoutTransaction(ctx)

	detached := Detached(ctx)

	_, ok := TransactionID(detached)
	assert.False(t, ok)
	assert.False(t, Disabled(detached))

	// Unrelated values survive detachment.
	assert.Equal(t, "req-42", detached.Value(valueKey("request_id")))
}
