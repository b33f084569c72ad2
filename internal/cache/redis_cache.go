package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"

	"puntoventa/backend/internal/domain"
)

const (
	productKeyPrefix    = "pos:product:"
	generationKeyPrefix = "pos:product-gen:"
)

type RedisProductCache struct {
	client *redis.Client
}

func NewRedisProductCache(addr string, password string, db int) *RedisProductCache {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	return &RedisProductCache{client: client}
}

func (c *RedisProductCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisProductCache) Close() error {
	return c.client.Close()
}

func (c *RedisProductCache) Get(ctx context.Context, id int64) (*domain.ProductDetail, bool, error) {
	val, err := c.client.Get(ctx, productKey(id)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var detail domain.ProductDetail
	if err := json.Unmarshal(val, &detail); err != nil {
		return nil, false, err
	}
	return &detail, true, nil
}

func (c *RedisProductCache) Generation(ctx context.Context, id int64) (int64, error) {
	return readGeneration(ctx, c.client, id)
}

// Set watches the generation key so an Invalidate landing between the check
// and the write aborts the fill.
func (c *RedisProductCache) Set(ctx context.Context, detail *domain.ProductDetail, gen int64, ttl time.Duration) error {
	if detail == nil {
		return nil
	}
	payload, err := json.Marshal(detail)
	if err != nil {
		return err
	}

	id := detail.Product.ID
	err = c.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := readGeneration(ctx, tx, id)
		if err != nil {
			return err
		}
		if current != gen {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, productKey(id), payload, ttl)
			return nil
		})
		return err
	}, generationKey(id))
	if errors.Is(err, redis.TxFailedErr) {
		return nil
	}
	return err
}

// Invalidate bumps every generation before deleting, in one MULTI block.
func (c *RedisProductCache) Invalidate(ctx context.Context, ids ...int64) error {
	if len(ids) == 0 {
		return nil
	}
	keys := make([]string, 0, len(ids))
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, id := range ids {
			pipe.Incr(ctx, generationKey(id))
			keys = append(keys, productKey(id))
		}
		pipe.Del(ctx, keys...)
		return nil
	})
	return err
}

func readGeneration(ctx context.Context, client redis.Cmdable, id int64) (int64, error) {
	gen, err := client.Get(ctx, generationKey(id)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return gen, err
}

func generationKey(id int64) string {
	return fmt.Sprintf("%s%d", generationKeyPrefix, id)
}

func productKey(id int64) string {
	return fmt.Sprintf("%s%d", productKeyPrefix, id)
}
