package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	noncePrefix = "auth:nonce:"
	// NonceTTL is how long a sign-in nonce stays valid.
	NonceTTL = 5 * time.Minute
)

// ErrNonceNotFound means no live nonce exists for the address (never issued, expired or already used).
var ErrNonceNotFound = errors.New("nonce not found")

// NonceStore keeps one outstanding sign-in nonce per address.
type NonceStore interface {
	Put(ctx context.Context, address, nonce string, ttl time.Duration) error
	// Take returns and deletes the nonce so it can be used only once.
	Take(ctx context.Context, address string) (string, error)
}

// RedisNonceStore implements NonceStore with SET EX / GETDEL.
type RedisNonceStore struct {
	client *redis.Client
}

// NewRedisNonceStore creates a redis-backed nonce store.
func NewRedisNonceStore(client *redis.Client) *RedisNonceStore {
	return &RedisNonceStore{client: client}
}

func nonceKey(address string) string {
	return noncePrefix + strings.ToLower(address)
}

// Put stores nonce for address, replacing any previous one.
func (s *RedisNonceStore) Put(ctx context.Context, address, nonce string, ttl time.Duration) error {
	if err := s.client.Set(ctx, nonceKey(address), nonce, ttl).Err(); err != nil {
		return fmt.Errorf("store nonce: %w", err)
	}
	return nil
}

// Take returns and deletes the nonce for address.
func (s *RedisNonceStore) Take(ctx context.Context, address string) (string, error) {
	nonce, err := s.client.GetDel(ctx, nonceKey(address)).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNonceNotFound
	}
	if err != nil {
		return "", fmt.Errorf("take nonce: %w", err)
	}
	return nonce, nil
}
