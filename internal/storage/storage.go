// Package storage is the server side of the browser's BloodConnectStorage:
// a small JSON key/value store with every key prefixed "bloodconnect_".
package storage

import (
	"context"
	"encoding/json"
	"regexp"
	"sync"

	"github.com/go-redis/redis/v8"

	"github.com/bloodconnect/platform/internal/shared/errors"
)

// Prefix namespaces every key
const Prefix = "bloodconnect_"

var keyPattern = regexp.MustCompile(`^[A-Za-z0-9_.-]{1,64}$`)

// Backend stores raw values by full key
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}

// Store is a namespaced view over a Backend
type Store struct {
	backend Backend
	owner   string
}

// New creates a store shared by everyone
func New(backend Backend) *Store {
	return &Store{backend: backend}
}

// For returns a view whose keys are private to owner
func (s *Store) For(owner string) *Store {
	return &Store{backend: s.backend, owner: owner}
}

// Key returns the namespaced form of k
func Key(k string) string {
	return Prefix + k
}

func (s *Store) fullKey(k string) (string, error) {
	if !keyPattern.MatchString(k) {
		return "", errors.Validation("invalid storage key", map[string]string{"key": "use 1-64 letters, digits, '.', '_' or '-'"})
	}
	if s.owner == "" {
		return Key(k), nil
	}
	return s.owner + ":" + Key(k), nil
}

// Set stores v as JSON under k
func (s *Store) Set(ctx context.Context, k string, v any) error {
	key, err := s.fullKey(k)
	if err != nil {
		return err
	}
	data, err := json.Marshal(v)
	if err != nil {
		return errors.BadRequest("value is not JSON serialisable")
	}
	return s.backend.Set(ctx, key, data)
}

// SetRaw stores an already encoded JSON document
func (s *Store) SetRaw(ctx context.Context, k string, data json.RawMessage) error {
	key, err := s.fullKey(k)
	if err != nil {
		return err
	}
	if !json.Valid(data) {
		return errors.BadRequest("value is not valid JSON")
	}
	return s.backend.Set(ctx, key, data)
}

// Get decodes the value under k into dst. A missing key is NotFound.
func (s *Store) Get(ctx context.Context, k string, dst any) error {
	data, err := s.GetRaw(ctx, k)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return errors.Wrap(err, "decode stored value")
	}
	return nil
}

// GetRaw returns the stored JSON under k
func (s *Store) GetRaw(ctx context.Context, k string) (json.RawMessage, error) {
	key, err := s.fullKey(k)
	if err != nil {
		return nil, err
	}
	data, err := s.backend.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if data == nil {
		return nil, errors.NotFound("storage key", k)
	}
	return data, nil
}

// Remove deletes k. Removing a missing key is not an error.
func (s *Store) Remove(ctx context.Context, k string) error {
	key, err := s.fullKey(k)
	if err != nil {
		return err
	}
	return s.backend.Delete(ctx, key)
}

// MemoryBackend keeps values in a map
type MemoryBackend struct {
	mu     sync.RWMutex
	values map[string][]byte
}

// NewMemoryBackend creates an empty in-memory backend
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{values: make(map[string][]byte)}
}

func (m *MemoryBackend) Get(ctx context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.values[key]
	if !ok {
		return nil, nil
	}
	return append([]byte(nil), v...), nil
}

func (m *MemoryBackend) Set(ctx context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = append([]byte(nil), value...)
	return nil
}

func (m *MemoryBackend) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, key)
	return nil
}

// RedisBackend stores values as plain Redis strings under "bloodconnect:kv:"
type RedisBackend struct {
	client *redis.Client
}

// NewRedisBackend creates a Redis backend
func NewRedisBackend(client *redis.Client) *RedisBackend {
	return &RedisBackend{client: client}
}

func (r *RedisBackend) key(k string) string {
	return "bloodconnect:kv:" + k
}

func (r *RedisBackend) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := r.client.Get(ctx, r.key(key)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "redis get")
	}
	return data, nil
}

func (r *RedisBackend) Set(ctx context.Context, key string, value []byte) error {
	if err := r.client.Set(ctx, r.key(key), value, 0).Err(); err != nil {
		return errors.Wrap(err, "redis set")
	}
	return nil
}

func (r *RedisBackend) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.key(key)).Err(); err != nil {
		return errors.Wrap(err, "redis del")
	}
	return nil
}
