package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetryingClient_RetriesTransientFailures(t *testing.T) {
	ctx := context.Background()
	inner := NewMemoryLedger()
	inner.FailNext("mint", 2)

	client := NewRetryingClient(inner, 5, time.Millisecond)

	result, err := client.Mint(ctx, "key-1", "wallet", 100, "cert-1")
	require.NoError(t, err)
	assert.False(t, result.BatchID.IsNil())
}

func TestRetryingClient_SameKeyAcrossAttemptsHasOneEffect(t *testing.T) {
	ctx := context.Background()
	inner := NewMemoryLedger()
	inner.FailNext("retire", 1)

	minted, err := inner.Mint(ctx, "mint", "buyer", 100, "cert-1")
	require.NoError(t, err)

	client := NewRetryingClient(inner, 5, time.Millisecond)
	_, err = client.Retire(ctx, "retire-key", "buyer", minted.BatchID, 30)
	require.NoError(t, err)

	balance, err := inner.BalanceOf(ctx, "buyer", minted.BatchID)
	require.NoError(t, err)
	assert.Equal(t, int64(70), balance)
}

func TestRetryingClient_RejectedIsNotRetried(t *testing.T) {
	ctx := context.Background()
	inner := NewMemoryLedger()
	minted, err := inner.Mint(ctx, "mint", "alice", 10, "cert-1")
	require.NoError(t, err)

	client := NewRetryingClient(inner, 5, time.Millisecond)

	start := time.Now()
	_, err = client.Transfer(ctx, "t1", "alice", "bob", minted.BatchID, 999)
	require.Error(t, err)
	assert.True(t, IsRejected(err))
	// No backoff sleeps happened: the refusal aborted immediately.
	assert.Less(t, time.Since(start), 100*time.Millisecond)
}

func TestRetryingClient_ExhaustsBudget(t *testing.T) {
	ctx := context.Background()
	inner := NewMemoryLedger()
	inner.FailNext("mint", 10)

	client := NewRetryingClient(inner, 2, time.Millisecond)

	_, err := client.Mint(ctx, "key-1", "wallet", 100, "cert-1")
	require.Error(t, err)
	assert.True(t, IsTransient(err))
}

func TestRetryingClient_RespectsContextCancellation(t *testing.T) {
	inner := NewMemoryLedger()
	inner.FailNext("mint", 100)

	client := NewRetryingClient(inner, 50, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 25*time.Millisecond)
	defer cancel()

	_, err := client.Mint(ctx, "key-1", "wallet", 100, "cert-1")
	require.Error(t, err)
}
