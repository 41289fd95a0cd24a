package capacity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/MikeSquared-Agency/LeadRouter/internal/store"
)

const keyPrefix = "leadrouter"

// RedisCounterStore keeps counters as INCR keys with TTLs and availability
// flags in one hash per tenant.
type RedisCounterStore struct {
	rdb *redis.Client
}

func NewRedisCounterStore(rdb *redis.Client) *RedisCounterStore {
	return &RedisCounterStore{rdb: rdb}
}

// NewRedisClient parses a redis:// URL and pings the server.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opt)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return rdb, nil
}

func counterKey(tenant, agentID, bucket string) string {
	return fmt.Sprintf("%s:cap:%s:%s:%s", keyPrefix, tenant, agentID, bucket)
}

func availabilityKey(tenant string) string {
	return fmt.Sprintf("%s:avail:%s", keyPrefix, tenant)
}

func (s *RedisCounterStore) Increment(ctx context.Context, tenant, agentID string, now time.Time) (store.AssignmentCounts, error) {
	incrs := make(map[Period]*redis.IntCmd, len(periods))
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, p := range periods {
			key := counterKey(tenant, agentID, Bucket(p, now))
			incrs[p] = pipe.Incr(ctx, key)
			pipe.Expire(ctx, key, ttl(p))
		}
		return nil
	})
	if err != nil {
		return store.AssignmentCounts{}, fmt.Errorf("increment capacity counters: %w", err)
	}

	var counts store.AssignmentCounts
	for p, cmd := range incrs {
		setCount(&counts, p, int(cmd.Val()))
	}
	return counts, nil
}

func (s *RedisCounterStore) Counts(ctx context.Context, tenant string, agentIDs []string, now time.Time) (map[string]store.AssignmentCounts, error) {
	type pending struct {
		agentID string
		period  Period
		cmd     *redis.StringCmd
	}
	var cmds []pending
	_, err := s.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, id := range agentIDs {
			for _, p := range periods {
				cmds = append(cmds, pending{id, p, pipe.Get(ctx, counterKey(tenant, id, Bucket(p, now)))})
			}
		}
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("read capacity counters: %w", err)
	}

	out := make(map[string]store.AssignmentCounts, len(agentIDs))
	for _, pc := range cmds {
		c := out[pc.agentID]
		n, err := pc.cmd.Int()
		if err != nil && !errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("parse capacity counter: %w", err)
		}
		setCount(&c, pc.period, n)
		out[pc.agentID] = c
	}
	return out, nil
}

func (s *RedisCounterStore) Reset(ctx context.Context, tenant, agentID string, now time.Time) error {
	keys := make([]string, 0, len(periods))
	for _, p := range periods {
		keys = append(keys, counterKey(tenant, agentID, Bucket(p, now)))
	}
	if err := s.rdb.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("reset capacity counters: %w", err)
	}
	return nil
}

func (s *RedisCounterStore) SetAvailability(ctx context.Context, tenant, agentID string, available bool) error {
	var err error
	if available {
		err = s.rdb.HDel(ctx, availabilityKey(tenant), agentID).Err()
	} else {
		err = s.rdb.HSet(ctx, availabilityKey(tenant), agentID, "0").Err()
	}
	if err != nil {
		return fmt.Errorf("set availability: %w", err)
	}
	return nil
}

func (s *RedisCounterStore) Unavailable(ctx context.Context, tenant string) (map[string]bool, error) {
	flags, err := s.rdb.HGetAll(ctx, availabilityKey(tenant)).Result()
	if err != nil {
		return nil, fmt.Errorf("read availability: %w", err)
	}
	out := make(map[string]bool, len(flags))
	for id := range flags {
		out[id] = true
	}
	return out, nil
}
