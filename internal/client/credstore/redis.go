package credstore

import (
	"context"
	"errors"
	"sync"

	"github.com/dmitrijs2005/trustkeeper/internal/cryptox"
	"github.com/redis/go-redis/v9"
)

// RedisStore keeps the sealed token in Redis under a per-installation key.
// It suits deployments where several processes on one host share a binding.
type RedisStore struct {
	mu    sync.Mutex
	rdb   redis.Cmdable
	vault *cryptox.Vault
	key   string
}

// NewRedisStore stores under "<prefix>:<installationID>:device_binding".
func NewRedisStore(rdb redis.Cmdable, vault *cryptox.Vault, prefix, installationID string) *RedisStore {
	if prefix == "" {
		prefix = "trustkeeper"
	}
	return &RedisStore{
		rdb:   rdb,
		vault: vault,
		key:   prefix + ":" + installationID + ":device_binding",
	}
}

// Key returns the Redis key in use.
func (s *RedisStore) Key() string {
	return s.key
}

func (s *RedisStore) Save(ctx context.Context, token string) error {
	if token == "" {
		return ErrEmptyToken
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sealed, err := s.vault.Seal([]byte(token), []byte(s.key))
	if err != nil {
		return storageErr("seal", err)
	}
	if err := s.rdb.Set(ctx, s.key, sealed, 0).Err(); err != nil {
		return storageErr("save", err)
	}
	return nil
}

func (s *RedisStore) Read(ctx context.Context) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sealed, err := s.rdb.Get(ctx, s.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, storageErr("read", err)
	}

	plain, err := s.vault.Open(sealed, []byte(s.key))
	if err != nil {
		return "", false, storageErr("open", err)
	}
	return string(plain), true, nil
}

func (s *RedisStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.rdb.Del(ctx, s.key).Err(); err != nil {
		return storageErr("clear", err)
	}
	return nil
}
