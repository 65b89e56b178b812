package ledger

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Redis channels shared by the API and the worker.
const (
	BalanceChannel   = "ledger:balance-events"
	ReconcileChannel = "ledger:reconcile"
)

// BalanceEvent is emitted after a committed change to a user's balance.
type BalanceEvent struct {
	UserID        uuid.UUID  `json:"user_id"`
	Balance       int64      `json:"balance"`
	TransactionID *uuid.UUID `json:"transaction_id,omitempty"`
	At            time.Time  `json:"at"`
}

// Publisher fans balance events out to whoever is listening.
type Publisher interface {
	PublishBalance(ctx context.Context, ev BalanceEvent) error
}

type noopPublisher struct{}

func (noopPublisher) PublishBalance(context.Context, BalanceEvent) error { return nil }

// RedisPublisher sends events as JSON on BalanceChannel.
type RedisPublisher struct {
	client redis.Cmdable
}

func NewRedisPublisher(client redis.Cmdable) *RedisPublisher {
	return &RedisPublisher{client: client}
}

func (p *RedisPublisher) PublishBalance(ctx context.Context, ev BalanceEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return p.client.Publish(ctx, BalanceChannel, payload).Err()
}

// RequestReconcile asks running workers for an immediate pass. An empty
// userID means every user.
func RequestReconcile(ctx context.Context, client redis.Cmdable, userID uuid.UUID) error {
	msg := "all"
	if userID != uuid.Nil {
		msg = userID.String()
	}
	return client.Publish(ctx, ReconcileChannel, msg).Err()
}
