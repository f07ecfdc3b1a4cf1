package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"fleet-maintenance/internal/domain"
	"fleet-maintenance/internal/domain/ports/repository"
)

var _ repository.VerificationStore = (*VerificationStore)(nil)

// KEYS[1] code, KEYS[2] mismatch counter. The counter expires with the code.
// Returns -1 when no code is stored.
var luaVerificationFail = redis.NewScript(`
local ttl = redis.call("PTTL", KEYS[1])
if ttl <= 0 then
	redis.call("DEL", KEYS[2])
	return -1
end
local n = redis.call("INCR", KEYS[2])
redis.call("PEXPIRE", KEYS[2], ttl)
return n`)

// VerificationStore keeps regeneration verification codes until their TTL.
type VerificationStore struct {
	client *Client
}

func NewVerificationStore(client *Client) *VerificationStore {
	return &VerificationStore{client: client}
}

func verificationKey(key string) string     { return keyPrefix + "verify:" + key }
func verificationFailKey(key string) string { return keyPrefix + "verify:fail:" + key }

func (s *VerificationStore) Put(ctx context.Context, key, code string, ttl time.Duration) error {
	if err := s.client.Del(ctx, verificationFailKey(key)); err != nil {
		return err
	}
	return s.client.Set(ctx, verificationKey(key), code, ttl)
}

func (s *VerificationStore) Get(ctx context.Context, key string) (string, error) {
	code, err := s.client.Get(ctx, verificationKey(key))
	if errors.Is(err, redis.Nil) {
		return "", domain.ErrNotFound
	}
	return code, err
}

func (s *VerificationStore) Fail(ctx context.Context, key string) (int, error) {
	n, err := luaVerificationFail.Run(ctx, s.client.cli, []string{verificationKey(key), verificationFailKey(key)}).Int()
	if err != nil {
		return 0, fmt.Errorf("verification fail: %w", err)
	}
	if n < 0 {
		return 0, domain.ErrNotFound
	}
	return n, nil
}

func (s *VerificationStore) Delete(ctx context.Context, key string) error {
	return s.client.Del(ctx, verificationKey(key), verificationFailKey(key))
}
