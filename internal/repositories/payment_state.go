package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"esimstore/internal/models"
)

// PaymentStateRepository keeps the two pieces of conversational purchase
// state in Redis, both keyed by chat:
//
//   - the PurchaseIntent (package picked, waiting for a quantity), short-lived;
//   - the PendingPayment (invoice issued, waiting for a confirmation), durable.
//
// SET gives atomic replace-if-present, GETDEL gives atomic consume-once.
type PaymentStateRepository struct {
	RDB *redis.Client

	// IntentTTL bounds how long a quantity prompt stays answerable.
	IntentTTL time.Duration
}

func NewPaymentStateRepository(rdb *redis.Client) *PaymentStateRepository {
	return &PaymentStateRepository{RDB: rdb, IntentTTL: 30 * time.Minute}
}

func intentKey(chatID int64) string  { return fmt.Sprintf("intent:%d", chatID) }
func pendingKey(chatID int64) string { return fmt.Sprintf("pending:%d", chatID) }

// SaveIntent starts a new purchase flow for the chat. Any previous intent
// is overwritten and any previous PendingPayment is dropped, so a stale
// confirmation for an abandoned invoice finds nothing to consume.
func (r *PaymentStateRepository) SaveIntent(ctx context.Context, intent models.PurchaseIntent) error {
	data, err := json.Marshal(intent)
	if err != nil {
		return fmt.Errorf("marshal intent: %w", err)
	}
	if err := r.RDB.Set(ctx, intentKey(intent.ChatID), data, r.IntentTTL).Err(); err != nil {
		return fmt.Errorf("save intent: %w", err)
	}
	if err := r.RDB.Del(ctx, pendingKey(intent.ChatID)).Err(); err != nil {
		return fmt.Errorf("drop stale pending payment: %w", err)
	}
	return nil
}

// TakeIntent consumes the chat's intent. ErrNotFound means the prompt
// expired or was never issued.
func (r *PaymentStateRepository) TakeIntent(ctx context.Context, chatID int64) (models.PurchaseIntent, error) {
	data, err := r.RDB.GetDel(ctx, intentKey(chatID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return models.PurchaseIntent{}, ErrNotFound
	}
	if err != nil {
		return models.PurchaseIntent{}, fmt.Errorf("take intent: %w", err)
	}
	var intent models.PurchaseIntent
	if err := json.Unmarshal(data, &intent); err != nil {
		return models.PurchaseIntent{}, fmt.Errorf("decode intent: %w", err)
	}
	return intent, nil
}

// SavePending records the issued invoice. No TTL: the record must survive
// a restart so a late confirmation can still fulfill.
func (r *PaymentStateRepository) SavePending(ctx context.Context, p models.PendingPayment) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal pending payment: %w", err)
	}
	if err := r.RDB.Set(ctx, pendingKey(p.ChatID), data, 0).Err(); err != nil {
		return fmt.Errorf("save pending payment: %w", err)
	}
	return nil
}

// PeekPending returns the chat's pending payment without consuming it, so a
// confirmation can be matched against the record before GETDEL removes it.
func (r *PaymentStateRepository) PeekPending(ctx context.Context, chatID int64) (models.PendingPayment, error) {
	data, err := r.RDB.Get(ctx, pendingKey(chatID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return models.PendingPayment{}, models.ErrNoPendingPayment
	}
	if err != nil {
		return models.PendingPayment{}, fmt.Errorf("peek pending payment: %w", err)
	}
	var p models.PendingPayment
	if err := json.Unmarshal(data, &p); err != nil {
		return models.PendingPayment{}, fmt.Errorf("decode pending payment: %w", err)
	}
	return p, nil
}

// ConsumePending atomically removes and returns the chat's pending payment.
// A second caller gets models.ErrNoPendingPayment, which makes duplicate
// confirmations no-ops.
func (r *PaymentStateRepository) ConsumePending(ctx context.Context, chatID int64) (models.PendingPayment, error) {
	data, err := r.RDB.GetDel(ctx, pendingKey(chatID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return models.PendingPayment{}, models.ErrNoPendingPayment
	}
	if err != nil {
		return models.PendingPayment{}, fmt.Errorf("consume pending payment: %w", err)
	}
	var p models.PendingPayment
	if err := json.Unmarshal(data, &p); err != nil {
		return models.PendingPayment{}, fmt.Errorf("decode pending payment: %w", err)
	}
	return p, nil
}

// ClearPending drops the record without consuming it (expired invoice).
func (r *PaymentStateRepository) ClearPending(ctx context.Context, chatID int64) error {
	return r.RDB.Del(ctx, pendingKey(chatID)).Err()
}
