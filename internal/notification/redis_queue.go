package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/go-redis/redis/v8"

	"github.com/bloodconnect/platform/internal/shared/types"
)

// RedisQueue is a HospitalQueue backed by one Redis stream per hospital and
// a consumer group. Unacknowledged entries stay in the group's pending list
// and are returned again to the same consumer.
type RedisQueue struct {
	client *redis.Client
	prefix string
	group  string

	mu      sync.Mutex
	created map[string]bool
}

// NewRedisQueue creates a stream-backed queue
func NewRedisQueue(client *redis.Client) *RedisQueue {
	return &RedisQueue{
		client:  client,
		prefix:  "bloodconnect:hospital:",
		group:   "hospital-dashboard",
		created: make(map[string]bool),
	}
}

func (q *RedisQueue) stream(hospitalID types.ID) string {
	return q.prefix + hospitalID.String() + ":notifications"
}

// ensureGroup creates the consumer group once per stream
func (q *RedisQueue) ensureGroup(ctx context.Context, stream string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.created[stream] {
		return nil
	}

	err := q.client.XGroupCreateMkStream(ctx, stream, q.group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("create consumer group: %w", err)
	}
	q.created[stream] = true
	return nil
}

// Enqueue appends n with XADD
func (q *RedisQueue) Enqueue(ctx context.Context, n HospitalNotification) (string, error) {
	stream := q.stream(n.HospitalID)
	if err := q.ensureGroup(ctx, stream); err != nil {
		return "", err
	}

	data, err := json.Marshal(n)
	if err != nil {
		return "", fmt.Errorf("marshal hospital notification: %w", err)
	}

	id, err := q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		Values: map[string]interface{}{
			"type":       string(n.Type),
			"request_id": n.RequestID,
			"data":       string(data),
		},
	}).Result()
	if err != nil {
		return "", fmt.Errorf("xadd: %w", err)
	}
	return id, nil
}

// Pending returns this consumer's unacknowledged entries followed by new ones
func (q *RedisQueue) Pending(ctx context.Context, hospitalID types.ID, consumer string, count int) ([]Delivery, error) {
	stream := q.stream(hospitalID)
	if err := q.ensureGroup(ctx, stream); err != nil {
		return nil, err
	}

	// "0" replays entries delivered to this consumer but not acked
	out, err := q.read(ctx, stream, consumer, "0", count)
	if err != nil {
		return nil, err
	}
	if count > 0 && len(out) >= count {
		return out[:count], nil
	}

	remaining := 0
	if count > 0 {
		remaining = count - len(out)
	}
	fresh, err := q.read(ctx, stream, consumer, ">", remaining)
	if err != nil {
		return nil, err
	}
	return append(out, fresh...), nil
}

func (q *RedisQueue) read(ctx context.Context, stream, consumer, start string, count int) ([]Delivery, error) {
	streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    q.group,
		Consumer: consumer,
		Streams:  []string{stream, start},
		Count:    int64(count),
		Block:    -1,
	}).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("xreadgroup: %w", err)
	}

	var out []Delivery
	for _, s := range streams {
		for _, msg := range s.Messages {
			raw, ok := msg.Values["data"].(string)
			if !ok {
				continue
			}
			var n HospitalNotification
			if err := json.Unmarshal([]byte(raw), &n); err != nil {
				continue
			}
			out = append(out, Delivery{ID: msg.ID, Notification: n})
		}
	}
	return out, nil
}

// Ack acknowledges entries with XACK
func (q *RedisQueue) Ack(ctx context.Context, hospitalID types.ID, deliveryIDs ...string) error {
	if len(deliveryIDs) == 0 {
		return nil
	}
	if err := q.client.XAck(ctx, q.stream(hospitalID), q.group, deliveryIDs...).Err(); err != nil {
		return fmt.Errorf("xack: %w", err)
	}
	return nil
}

var _ HospitalQueue = (*RedisQueue)(nil)
