package redisstore

import (
	"context"
	"errors"
	"sort"
	"strings"

	"github.com/redis/go-redis/v9"
)

// Dynamic configuration keys
const (
	KeyConfigSenders = "config:senders"
)

// AddSender adds an address to the dynamic sender allow-list
func (s *Store) AddSender(ctx context.Context, sender string) error {
	return s.client.SAdd(ctx, KeyConfigSenders, normalizeSender(sender)).Err()
}

// RemoveSender removes an address from the dynamic allow-list. It returns
// ErrNotFound when the address was not listed.
func (s *Store) RemoveSender(ctx context.Context, sender string) error {
	n, err := s.client.SRem(ctx, KeyConfigSenders, normalizeSender(sender)).Result()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetSenders returns the dynamic allow-list sorted, so search order is
// stable between cycles. The static list from the environment is not
// included.
func (s *Store) GetSenders(ctx context.Context) ([]string, error) {
	senders, err := s.client.SMembers(ctx, KeyConfigSenders).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	sort.Strings(senders)
	return senders, nil
}

func normalizeSender(sender string) string {
	return strings.ToLower(strings.TrimSpace(sender))
}
