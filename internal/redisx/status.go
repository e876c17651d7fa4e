package redisx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// StatusCache is the slice of the redis API the order-status read cache
// needs. *redis.Client satisfies it.
type StatusCache interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
}

// OrderStatusEntry carries the owner next to the cached status so the read
// path can enforce ownership without going back to the database.
type OrderStatusEntry struct {
	Status string `json:"status"`
	UserID string `json:"user_id"`
}

func SetOrderStatus(ctx context.Context, c StatusCache, orderID string, e OrderStatusEntry) error {
	b, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return c.Set(ctx, fmt.Sprintf(KeyOrderStatus, orderID), b, TTLStatusCache).Err()
}

func GetOrderStatus(ctx context.Context, c StatusCache, orderID string) (OrderStatusEntry, bool, error) {
	s, err := c.Get(ctx, fmt.Sprintf(KeyOrderStatus, orderID)).Result()
	if errors.Is(err, redis.Nil) {
		return OrderStatusEntry{}, false, nil
	}
	if err != nil {
		return OrderStatusEntry{}, false, err
	}
	var e OrderStatusEntry
	if err := json.Unmarshal([]byte(s), &e); err != nil {
		return OrderStatusEntry{}, false, err
	}
	return e, true, nil
}
