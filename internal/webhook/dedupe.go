package webhook

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/theramatch/booking-platform/pkg/logging"
)

const defaultDedupeTTL = 5 * time.Minute

// DedupeGuard short-circuits redelivered webhook bodies with a short-TTL
// Redis SETNX key. This is an optimization only: the ledger upsert is the
// idempotency boundary, so the guard fails open when Redis is down or not
// configured.
type DedupeGuard struct {
	client *redis.Client
	ttl    time.Duration
	logger *logging.Logger
}

// NewDedupeGuard creates the guard. A nil client disables it.
func NewDedupeGuard(client *redis.Client, ttl time.Duration, logger *logging.Logger) *DedupeGuard {
	if logger == nil {
		logger = logging.Default()
	}
	if ttl <= 0 {
		ttl = defaultDedupeTTL
	}
	return &DedupeGuard{client: client, ttl: ttl, logger: logger}
}

// FirstDelivery reports whether this body has not been seen within the TTL.
// Errors and a disabled guard both report true, letting the upsert absorb
// the duplicate instead.
func (g *DedupeGuard) FirstDelivery(ctx context.Context, body []byte) bool {
	if g == nil || g.client == nil {
		return true
	}
	sum := sha256.Sum256(body)
	key := "webhook:delivery:" + hex.EncodeToString(sum[:])

	ok, err := g.client.SetNX(ctx, key, 1, g.ttl).Result()
	if err != nil {
		g.logger.Warn("dedupe guard unavailable; deferring to upsert idempotency", "error", err)
		return true
	}
	return ok
}
