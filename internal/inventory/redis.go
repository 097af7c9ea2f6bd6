package inventory

import (
	"context"
	"fmt"
	"strconv"

	"github.com/go-redis/redis/v8"

	"github.com/bloodconnect/platform/internal/bloodtype"
	"github.com/bloodconnect/platform/internal/shared/types"
)

// adjustScript adds ARGV[2] to field ARGV[1] and clamps the result at zero
var adjustScript = redis.NewScript(`
local current = tonumber(redis.call('HGET', KEYS[1], ARGV[1]) or '0')
local updated = current + tonumber(ARGV[2])
if updated < 0 then
	updated = 0
end
redis.call('HSET', KEYS[1], ARGV[1], updated)
return updated
`)

// RedisStore keeps one hash per hospital: field = blood type, value = units
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore creates a Redis-backed store
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client, prefix: "bloodconnect:inventory:"}
}

func (s *RedisStore) key(hospitalID types.ID) string {
	return s.prefix + hospitalID.String()
}

func (s *RedisStore) Get(ctx context.Context, hospitalID types.ID, bt bloodtype.Type) (int, error) {
	units, err := s.client.HGet(ctx, s.key(hospitalID), string(bt)).Int()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("hget stock: %w", err)
	}
	return units, nil
}

func (s *RedisStore) Set(ctx context.Context, hospitalID types.ID, bt bloodtype.Type, units int) error {
	if units < 0 {
		units = 0
	}
	if err := s.client.HSet(ctx, s.key(hospitalID), string(bt), units).Err(); err != nil {
		return fmt.Errorf("hset stock: %w", err)
	}
	return nil
}

func (s *RedisStore) Adjust(ctx context.Context, hospitalID types.ID, bt bloodtype.Type, delta int) (int, error) {
	units, err := adjustScript.Run(ctx, s.client, []string{s.key(hospitalID)}, string(bt), delta).Int()
	if err != nil {
		return 0, fmt.Errorf("adjust stock: %w", err)
	}
	return units, nil
}

func (s *RedisStore) Snapshot(ctx context.Context, hospitalID types.ID) (map[bloodtype.Type]int, error) {
	fields, err := s.client.HGetAll(ctx, s.key(hospitalID)).Result()
	if err != nil {
		return nil, fmt.Errorf("hgetall stock: %w", err)
	}
	if len(fields) == 0 {
		return nil, ErrUnknownHospital
	}

	out := make(map[bloodtype.Type]int, len(fields))
	for field, raw := range fields {
		bt, err := bloodtype.Parse(field)
		if err != nil {
			continue
		}
		units, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("stock %s/%s: %w", hospitalID, field, err)
		}
		out[bt] = units
	}
	return out, nil
}

var _ Store = (*RedisStore)(nil)
