package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"fleet-maintenance/internal/domain/ports/repository"
)

var _ repository.FingerprintStore = (*FingerprintStore)(nil)

// FingerprintStore keeps failures as a sorted set scored by unix millis.
type FingerprintStore struct {
	cli *redis.Client
	now func() time.Time
}

func NewFingerprintStore(c *Client) *FingerprintStore {
	return &FingerprintStore{cli: c.cli, now: time.Now}
}

func failuresKey(fp string) string { return keyPrefix + "fp:fail:" + fp }
func captchaKey(fp string) string  { return keyPrefix + "fp:captcha:" + fp }
func seenKey(key string) string    { return keyPrefix + "seen:" + key }

func (s *FingerprintStore) AddFailure(ctx context.Context, fp string, window time.Duration) (int, error) {
	now := s.now()
	key := failuresKey(fp)
	cutoff := now.Add(-window).UnixMilli()

	var card *redis.IntCmd
	_, err := s.cli.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.ZRemRangeByScore(ctx, key, "-inf", strconv.FormatInt(cutoff, 10))
		p.ZAdd(ctx, key, &redis.Z{Score: float64(now.UnixMilli()), Member: uuid.NewString()})
		card = p.ZCard(ctx, key)
		p.PExpire(ctx, key, window)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("record failure: %w", err)
	}
	return int(card.Val()), nil
}

func (s *FingerprintStore) ClearFailures(ctx context.Context, fp string) error {
	return s.cli.Del(ctx, failuresKey(fp)).Err()
}

func (s *FingerprintStore) RequireCaptcha(ctx context.Context, fp string, ttl time.Duration) error {
	return s.cli.Set(ctx, captchaKey(fp), 1, ttl).Err()
}

func (s *FingerprintStore) CaptchaRequired(ctx context.Context, fp string) (bool, error) {
	n, err := s.cli.Exists(ctx, captchaKey(fp)).Result()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *FingerprintStore) ClearCaptcha(ctx context.Context, fp string) error {
	return s.cli.Del(ctx, captchaKey(fp)).Err()
}

// SeenRecently refreshes the mark either way, so a steady stream of repeats
// keeps being reported.
func (s *FingerprintStore) SeenRecently(ctx context.Context, key string, within time.Duration) (bool, error) {
	k := seenKey(key)
	fresh, err := s.cli.SetNX(ctx, k, 1, within).Result()
	if err != nil {
		return false, err
	}
	if fresh {
		return false, nil
	}
	if err := s.cli.Set(ctx, k, 1, within).Err(); err != nil {
		return true, err
	}
	return true, nil
}
