package ledger

import (
	"context"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	id "verdant/pkg/domain"
)

// RetryingClient decorates a Client with bounded exponential backoff on
// transient failures. The caller's idempotency key is reused verbatim across
// attempts, so a retried mutating call has at most one ledger effect.
// Rejected errors pass through immediately.
type RetryingClient struct {
	inner       Client
	maxRetries  uint64
	baseDelay   time.Duration
	callTimeout time.Duration
	logger      *slog.Logger
}

// RetryOption configures a RetryingClient.
type RetryOption func(*RetryingClient)

// WithLogger sets a logger for per-attempt diagnostics.
func WithLogger(logger *slog.Logger) RetryOption {
	return func(c *RetryingClient) {
		c.logger = logger
	}
}

// WithCallTimeout bounds each individual attempt (not the whole retry loop).
func WithCallTimeout(d time.Duration) RetryOption {
	return func(c *RetryingClient) {
		c.callTimeout = d
	}
}

// NewRetryingClient wraps inner with maxRetries retries and exponential
// backoff starting at baseDelay.
func NewRetryingClient(inner Client, maxRetries int, baseDelay time.Duration, opts ...RetryOption) *RetryingClient {
	c := &RetryingClient{
		inner:       inner,
		maxRetries:  uint64(maxRetries),
		baseDelay:   baseDelay,
		callTimeout: 10 * time.Second,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *RetryingClient) policy(ctx context.Context) backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.baseDelay
	return backoff.WithContext(backoff.WithMaxRetries(bo, c.maxRetries), ctx)
}

// do runs op under the retry policy. Rejected errors abort immediately via
// backoff.Permanent; everything transient is retried until the budget runs out.
func (c *RetryingClient) do(ctx context.Context, name string, op func(ctx context.Context) error) error {
	attempt := 0
	return backoff.Retry(func() error {
		attempt++
		callCtx, cancel := context.WithTimeout(ctx, c.callTimeout)
		defer cancel()

		err := op(callCtx)
		if err == nil {
			return nil
		}
		if !IsTransient(err) {
			return backoff.Permanent(err)
		}
		c.logger.WarnContext(ctx, "transient ledger failure, will retry",
			"op", name,
			"attempt", attempt,
			"error", err,
		)
		return err
	}, c.policy(ctx))
}

func (c *RetryingClient) Mint(ctx context.Context, idempotencyKey string, toIdentity string, amount int64, metadataRef string) (MintResult, error) {
	var result MintResult
	err := c.do(ctx, "mint", func(ctx context.Context) error {
		var opErr error
		result, opErr = c.inner.Mint(ctx, idempotencyKey, toIdentity, amount, metadataRef)
		return opErr
	})
	return result, err
}

func (c *RetryingClient) BalanceOf(ctx context.Context, identity string, batchID id.BatchID) (int64, error) {
	var balance int64
	err := c.do(ctx, "balance", func(ctx context.Context) error {
		var opErr error
		balance, opErr = c.inner.BalanceOf(ctx, identity, batchID)
		return opErr
	})
	return balance, err
}

func (c *RetryingClient) Transfer(ctx context.Context, idempotencyKey string, from, to string, batchID id.BatchID, amount int64) (TxRef, error) {
	var ref TxRef
	err := c.do(ctx, "transfer", func(ctx context.Context) error {
		var opErr error
		ref, opErr = c.inner.Transfer(ctx, idempotencyKey, from, to, batchID, amount)
		return opErr
	})
	return ref, err
}

func (c *RetryingClient) Retire(ctx context.Context, idempotencyKey string, holder string, batchID id.BatchID, amount int64) (TxRef, error) {
	var ref TxRef
	err := c.do(ctx, "retire", func(ctx context.Context) error {
		var opErr error
		ref, opErr = c.inner.Retire(ctx, idempotencyKey, holder, batchID, amount)
		return opErr
	})
	return ref, err
}

func (c *RetryingClient) GrantRole(ctx context.Context, identityKey string, role string) error {
	return c.do(ctx, "grant_role", func(ctx context.Context) error {
		return c.inner.GrantRole(ctx, identityKey, role)
	})
}

var _ Client = (*RetryingClient)(nil)
