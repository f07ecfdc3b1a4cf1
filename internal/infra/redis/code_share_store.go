package redis

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/go-redis/redis/v8"

	"fleet-maintenance/internal/domain/ports/repository"
)

var _ repository.CodeShareStore = (*CodeShareStore)(nil)

type CodeShareStore struct {
	cli *redis.Client
}

func NewCodeShareStore(c *Client) *CodeShareStore {
	return &CodeShareStore{cli: c.cli}
}

func (s *CodeShareStore) AddIP(ctx context.Context, code, ip string, ttl time.Duration) ([]string, error) {
	key := keyPrefix + "share:" + code
	var members *redis.StringSliceCmd
	_, err := s.cli.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.SAdd(ctx, key, ip)
		p.PExpire(ctx, key, ttl)
		members = p.SMembers(ctx, key)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("track code ip: %w", err)
	}
	ips := members.Val()
	sort.Strings(ips)
	return ips, nil
}

func (s *CodeShareStore) MarkAlerted(ctx context.Context, code string, ttl time.Duration) (bool, error) {
	return s.cli.SetNX(ctx, keyPrefix+"share:alerted:"+code, 1, ttl).Result()
}
