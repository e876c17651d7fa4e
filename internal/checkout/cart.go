package checkout

import (
	"context"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/maisonvintage/orderflow/internal/redisx"
)

// Cart maps article id to desired quantity. Session-scoped and advisory:
// it is reconciled against live stock on every read and re-verified
// transactionally at checkout.
type Cart map[string]int

// CartStore is the session-owned cart persistence supplied by the web layer.
type CartStore interface {
	Get(ctx context.Context, sessionID string) (Cart, error)
	Set(ctx context.Context, sessionID string, c Cart) error
	Clear(ctx context.Context, sessionID string) error
}

// RedisCartStore keeps carts as Redis hashes keyed by session id.
type RedisCartStore struct {
	Client *redis.Client
}

func (s *RedisCartStore) key(sessionID string) string {
	return fmt.Sprintf(redisx.KeyCart, sessionID)
}

func (s *RedisCartStore) Get(ctx context.Context, sessionID string) (Cart, error) {
	m, err := s.Client.HGetAll(ctx, s.key(sessionID)).Result()
	if err != nil {
		return nil, err
	}
	c := make(Cart, len(m))
	for id, raw := range m {
		qty, err := strconv.Atoi(raw)
		if err != nil || qty <= 0 {
			continue
		}
		c[id] = qty
	}
	return c, nil
}

func (s *RedisCartStore) Set(ctx context.Context, sessionID string, c Cart) error {
	key := s.key(sessionID)
	pipe := s.Client.TxPipeline()
	pipe.Del(ctx, key)
	if len(c) > 0 {
		fields := make(map[string]any, len(c))
		for id, qty := range c {
			if qty > 0 {
				fields[id] = qty
			}
		}
		pipe.HSet(ctx, key, fields)
		pipe.Expire(ctx, key, redisx.TTLCart)
	}
	_, err := pipe.Exec(ctx)
	return err
}

func (s *RedisCartStore) Clear(ctx context.Context, sessionID string) error {
	return s.Client.Del(ctx, s.key(sessionID)).Err()
}
