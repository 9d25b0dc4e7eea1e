package ledger

import (
	"context"
	"log/slog"
	"sync"
	"time"

	id "verdant/pkg/domain"
	"verdant/pkg/platform/circuit"
)

// BreakingClient decorates a Client with a circuit breaker shared across all
// operations. While the circuit is open every call fails fast with a
// transient error, so callers fall into their normal ledger-unavailable
// handling (queued issuance retries, 503 on spends) without each call paying
// the full timeout. Rejections count as successes for the breaker: the ledger
// answered.
type BreakingClient struct {
	inner   Client
	breaker *circuit.Breaker
	logger  *slog.Logger

	probeEvery time.Duration
	mu         sync.Mutex
	nextProbe  time.Time
}

// BreakerOption configures a BreakingClient.
type BreakerOption func(*BreakingClient)

// WithBreakerLogger sets a logger for open/close transitions.
func WithBreakerLogger(logger *slog.Logger) BreakerOption {
	return func(c *BreakingClient) {
		c.logger = logger
	}
}

// WithProbeInterval sets how often an open circuit lets one call through to
// test whether the ledger has recovered.
func WithProbeInterval(d time.Duration) BreakerOption {
	return func(c *BreakingClient) {
		c.probeEvery = d
	}
}

// NewBreakingClient wraps inner with the given breaker.
func NewBreakingClient(inner Client, breaker *circuit.Breaker, opts ...BreakerOption) *BreakingClient {
	c := &BreakingClient{
		inner:      inner,
		breaker:    breaker,
		logger:     slog.Default(),
		probeEvery: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// allow reports whether a call may reach the ledger. While the circuit is
// open, at most one probe per probe interval passes through.
func (c *BreakingClient) allow() bool {
	if !c.breaker.IsOpen() {
		return true
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now()
	if now.Before(c.nextProbe) {
		return false
	}
	c.nextProbe = now.Add(c.probeEvery)
	return true
}

// errOpen is returned without touching the ledger while the circuit is open.
func (c *BreakingClient) errOpen(op string) *Error {
	return NewTransient(op, "circuit open, ledger presumed unavailable", nil)
}

// observe feeds the call outcome to the breaker and logs transitions.
func (c *BreakingClient) observe(ctx context.Context, op string, err error) {
	if err == nil || IsRejected(err) {
		_, change := c.breaker.RecordSuccess()
		if change.Closed {
			c.logger.InfoContext(ctx, "ledger circuit closed", "breaker", c.breaker.Name(), "op", op)
		}
		return
	}
	_, change := c.breaker.RecordFailure()
	if change.Opened {
		c.mu.Lock()
		c.nextProbe = time.Now().Add(c.probeEvery)
		c.mu.Unlock()
		c.logger.WarnContext(ctx, "ledger circuit opened", "breaker", c.breaker.Name(), "op", op, "error", err)
	}
}

func (c *BreakingClient) Mint(ctx context.Context, idempotencyKey string, toIdentity string, amount int64, metadataRef string) (MintResult, error) {
	if !c.allow() {
		return MintResult{}, c.errOpen("mint")
	}
	result, err := c.inner.Mint(ctx, idempotencyKey, toIdentity, amount, metadataRef)
	c.observe(ctx, "mint", err)
	return result, err
}

func (c *BreakingClient) BalanceOf(ctx context.Context, identity string, batchID id.BatchID) (int64, error) {
	if !c.allow() {
		return 0, c.errOpen("balance")
	}
	balance, err := c.inner.BalanceOf(ctx, identity, batchID)
	c.observe(ctx, "balance", err)
	return balance, err
}

func (c *BreakingClient) Transfer(ctx context.Context, idempotencyKey string, from, to string, batchID id.BatchID, amount int64) (TxRef, error) {
	if !c.allow() {
		return "", c.errOpen("transfer")
	}
	ref, err := c.inner.Transfer(ctx, idempotencyKey, from, to, batchID, amount)
	c.observe(ctx, "transfer", err)
	return ref, err
}

func (c *BreakingClient) Retire(ctx context.Context, idempotencyKey string, holder string, batchID id.BatchID, amount int64) (TxRef, error) {
	if !c.allow() {
		return "", c.errOpen("retire")
	}
	ref, err := c.inner.Retire(ctx, idempotencyKey, holder, batchID, amount)
	c.observe(ctx, "retire", err)
	return ref, err
}

func (c *BreakingClient) GrantRole(ctx context.Context, identityKey string, role string) error {
	if !c.allow() {
		return c.errOpen("grant_role")
	}
	err := c.inner.GrantRole(ctx, identityKey, role)
	c.observe(ctx, "grant_role", err)
	return err
}

var _ Client = (*BreakingClient)(nil)
