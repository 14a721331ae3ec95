package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Kultup/mailbot/internal/domain"
)

const (
	keyDeliveries     = "deliveries"
	channelDeliveries = "deliveries"
)

var ErrNotFound = errors.New("not found")

type Store struct {
	client *redis.Client
	ttl    time.Duration
}

func New(redisURL string, ttlSeconds int) (*Store, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opts)
	if err := client.Ping(context.Background()).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}

	return NewWithClient(client, ttlSeconds), nil
}

func NewWithClient(client *redis.Client, ttlSeconds int) *Store {
	return &Store{
		client: client,
		ttl:    time.Duration(ttlSeconds) * time.Second,
	}
}

func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *Store) Close() error {
	return s.client.Close()
}

func deliveryKey(id string) string {
	return fmt.Sprintf("delivery:%s", id)
}

// RecordDelivery stores one delivery attempt, indexes it by time and bumps
// the sent/failed counters. Index entries older than the TTL are pruned.
func (s *Store) RecordDelivery(ctx context.Context, d *domain.Delivery) error {
	data, err := json.Marshal(d)
	if err != nil {
		return err
	}

	counter := fieldUnitsSent
	if !d.OK {
		counter = fieldUnitsFailed
	}

	pipe := s.client.Pipeline()
	pipe.Set(ctx, deliveryKey(d.ID), data, s.ttl)
	pipe.ZAdd(ctx, keyDeliveries, redis.Z{
		Score:  float64(d.At.UnixMilli()),
		Member: d.ID,
	})
	if s.ttl > 0 {
		cutoff := time.Now().Add(-s.ttl).UnixMilli()
		pipe.ZRemRangeByScore(ctx, keyDeliveries, "-inf", fmt.Sprintf("(%d", cutoff))
	}
	pipe.HIncrBy(ctx, keyStats, counter, 1)

	if _, err := pipe.Exec(ctx); err != nil {
		return err
	}

	// Best effort: nobody may be listening.
	_ = s.client.Publish(ctx, channelDeliveries, d.ID).Err()
	return nil
}

// Subscribe streams the ids of newly recorded deliveries.
func (s *Store) Subscribe(ctx context.Context) *redis.PubSub {
	return s.client.Subscribe(ctx, channelDeliveries)
}

// RecentDeliveries returns up to limit deliveries, newest first. before, in
// unix milliseconds, excludes deliveries at or after that instant.
func (s *Store) RecentDeliveries(ctx context.Context, limit int, before int64) ([]*domain.Delivery, error) {
	max := "+inf"
	if before > 0 {
		max = fmt.Sprintf("(%d", before)
	}

	ids, err := s.client.ZRevRangeByScore(ctx, keyDeliveries, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   max,
		Count: int64(limit),
	}).Result()
	if err != nil {
		return nil, err
	}

	if len(ids) == 0 {
		return []*domain.Delivery{}, nil
	}

	keys := make([]string, 0, len(ids))
	for _, id := range ids {
		keys = append(keys, deliveryKey(id))
	}

	vals, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}

	deliveries := make([]*domain.Delivery, 0, len(vals))
	for _, val := range vals {
		str, ok := val.(string)
		if !ok {
			continue // expired
		}
		var d domain.Delivery
		if err := json.Unmarshal([]byte(str), &d); err == nil {
			deliveries = append(deliveries, &d)
		}
	}
	return deliveries, nil
}

// GetDelivery returns nil, nil when the delivery does not exist.
func (s *Store) GetDelivery(ctx context.Context, id string) (*domain.Delivery, error) {
	val, err := s.client.Get(ctx, deliveryKey(id)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}

	var d domain.Delivery
	if err := json.Unmarshal([]byte(val), &d); err != nil {
		return nil, err
	}
	return &d, nil
}

func (s *Store) DeleteDelivery(ctx context.Context, id string) error {
	pipe := s.client.Pipeline()
	del := pipe.Del(ctx, deliveryKey(id))
	pipe.ZRem(ctx, keyDeliveries, id)
	if _, err := pipe.Exec(ctx); err != nil {
		return err
	}
	if del.Val() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) RateLimit(ctx context.Context, ip string, action string, limit int, window time.Duration) (bool, error) {
	key := fmt.Sprintf("ratelimit:%s:%s", action, ip)

	pipe := s.client.Pipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, window)
	_, err := pipe.Exec(ctx)
	if err != nil {
		return false, err
	}

	return incr.Val() <= int64(limit), nil
}
