package alerts

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// registryTTL bounds how long a date's hash survives if nothing replaces it.
const registryTTL = 72 * time.Hour

// RedisRegistry stores one hash per date (id → JSON request) plus a set of
// the dates that have a hash, so other processes on the host can read the
// pending set.
type RedisRegistry struct {
	rdb    *redis.Client
	prefix string
}

var _ Registry = (*RedisRegistry)(nil)

// NewRedisRegistry uses keys under prefix (default "salah").
func NewRedisRegistry(rdb *redis.Client, prefix string) *RedisRegistry {
	if prefix == "" {
		prefix = "salah"
	}
	return &RedisRegistry{rdb: rdb, prefix: prefix}
}

func (r *RedisRegistry) datesKey() string        { return r.prefix + ":alerts:dates" }
func (r *RedisRegistry) dayKey(day string) string { return r.prefix + ":alerts:" + day }

// Replace runs in a single MULTI so readers never see a half-replaced date.
func (r *RedisRegistry) Replace(ctx context.Context, dates []time.Time, reqs []Request) error {
	grouped := make(map[string][]interface{})
	for _, req := range reqs {
		b, err := json.Marshal(req)
		if err != nil {
			return fmt.Errorf("encode alert %s: %w", req.ID, err)
		}
		k := req.DateKey()
		grouped[k] = append(grouped[k], req.ID, b)
	}

	_, err := r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, d := range dates {
			day := dateKey(d)
			pipe.Del(ctx, r.dayKey(day))
			pipe.SRem(ctx, r.datesKey(), day)
		}
		for day, fields := range grouped {
			pipe.HSet(ctx, r.dayKey(day), fields...)
			pipe.Expire(ctx, r.dayKey(day), registryTTL)
			pipe.SAdd(ctx, r.datesKey(), day)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("replace alerts: %w", err)
	}
	return nil
}

func (r *RedisRegistry) Pending(ctx context.Context) ([]Request, error) {
	days, err := r.rdb.SMembers(ctx, r.datesKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("list alert dates: %w", err)
	}
	var out []Request
	for _, day := range days {
		fields, err := r.rdb.HGetAll(ctx, r.dayKey(day)).Result()
		if err != nil {
			return nil, fmt.Errorf("load alerts for %s: %w", day, err)
		}
		for id, raw := range fields {
			var req Request
			if err := json.Unmarshal([]byte(raw), &req); err != nil {
				return nil, fmt.Errorf("decode alert %s: %w", id, err)
			}
			out = append(out, req)
		}
	}
	sortByFireAt(out)
	return out, nil
}

func (r *RedisRegistry) Remove(ctx context.Context, reqs ...Request) error {
	if len(reqs) == 0 {
		return nil
	}
	_, err := r.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, req := range reqs {
			pipe.HDel(ctx, r.dayKey(req.DateKey()), req.ID)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("remove alerts: %w", err)
	}
	return nil
}

func (r *RedisRegistry) CancelAll(ctx context.Context) error {
	days, err := r.rdb.SMembers(ctx, r.datesKey()).Result()
	if err != nil {
		return fmt.Errorf("list alert dates: %w", err)
	}
	keys := make([]string, 0, len(days)+1)
	for _, day := range days {
		keys = append(keys, r.dayKey(day))
	}
	keys = append(keys, r.datesKey())
	if err := r.rdb.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("cancel alerts: %w", err)
	}
	return nil
}
