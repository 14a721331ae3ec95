package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Kultup/mailbot/internal/domain"
)

const (
	keyStats     = "stats"
	keyLastCycle = "cycle:last"

	fieldCycles      = "cycles"
	fieldMessages    = "messages"
	fieldUnitsSent   = "units_sent"
	fieldUnitsFailed = "units_failed"
)

// RecordCycle counts a finished poll cycle and keeps its report as the
// latest one.
func (s *Store) RecordCycle(ctx context.Context, report *domain.CycleReport) error {
	data, err := json.Marshal(report)
	if err != nil {
		return err
	}

	pipe := s.client.Pipeline()
	pipe.HIncrBy(ctx, keyStats, fieldCycles, 1)
	pipe.HIncrBy(ctx, keyStats, fieldMessages, int64(report.Fetched))
	pipe.Set(ctx, keyLastCycle, data, 0)
	_, err = pipe.Exec(ctx)
	return err
}

func (s *Store) GetLastCycle(ctx context.Context) (*domain.CycleReport, error) {
	val, err := s.client.Get(ctx, keyLastCycle).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}

	var report domain.CycleReport
	if err := json.Unmarshal([]byte(val), &report); err != nil {
		return nil, err
	}
	return &report, nil
}

// GetStats aggregates the counters, the stored deliveries and the last
// cycle report.
func (s *Store) GetStats(ctx context.Context) (*domain.Stats, error) {
	counters, err := s.client.HGetAll(ctx, keyStats).Result()
	if err != nil {
		return nil, err
	}

	stats := &domain.Stats{
		Cycles:      parseCounter(counters[fieldCycles]),
		Messages:    parseCounter(counters[fieldMessages]),
		UnitsSent:   parseCounter(counters[fieldUnitsSent]),
		UnitsFailed: parseCounter(counters[fieldUnitsFailed]),
	}

	if stats.Deliveries, err = s.GetTotalDeliveries(ctx); err != nil {
		return nil, err
	}
	if stats.DeliveriesLast24h, err = s.GetDeliveriesLast24h(ctx); err != nil {
		return nil, err
	}
	if stats.LastCycle, err = s.GetLastCycle(ctx); err != nil {
		return nil, err
	}
	return stats, nil
}

// GetTotalDeliveries returns count of all stored delivery records
func (s *Store) GetTotalDeliveries(ctx context.Context) (int64, error) {
	var cursor uint64
	var count int64

	for {
		keys, nextCursor, err := s.client.Scan(ctx, cursor, "delivery:*", 100).Result()
		if err != nil {
			return 0, err
		}
		count += int64(len(keys))
		cursor = nextCursor
		if cursor == 0 {
			break
		}
	}
	return count, nil
}

// GetDeliveriesLast24h returns count of deliveries from last 24 hours
func (s *Store) GetDeliveriesLast24h(ctx context.Context) (int64, error) {
	yesterday := time.Now().Add(-24 * time.Hour).UnixMilli()
	return s.client.ZCount(ctx, keyDeliveries, fmt.Sprintf("%d", yesterday), "+inf").Result()
}

func parseCounter(v string) int64 {
	n, _ := strconv.ParseInt(v, 10, 64)
	return n
}
