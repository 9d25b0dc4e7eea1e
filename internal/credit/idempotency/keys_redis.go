package idempotency

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	id "verdant/pkg/domain"
)

const mintKeyPrefix = "mint:idem:"

// Redis is a Redis-backed KeyStore for multi-instance deployments. SET NX
// makes key creation atomic across instances; keys never expire because a
// mint may be retried long after the first attempt.
type Redis struct {
	client *redis.Client
}

func NewRedis(client *redis.Client) *Redis {
	return &Redis{client: client}
}

func (r *Redis) MintKey(ctx context.Context, certID id.CertificateID) (string, error) {
	key := mintKeyPrefix + certID.String()
	candidate := uuid.NewString()

	set, err := r.client.SetNX(ctx, key, candidate, 0).Result()
	if err != nil {
		return "", fmt.Errorf("reserve mint key: %w", err)
	}
	if set {
		return candidate, nil
	}

	existing, err := r.client.Get(ctx, key).Result()
	if err != nil {
		return "", fmt.Errorf("load mint key: %w", err)
	}
	return existing, nil
}
