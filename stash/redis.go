package stash

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "shuttle:stash:"

// RedisPersister keeps stash blobs in redis so they survive engine
// restarts.
type RedisPersister struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisPersister(addr string, ttl time.Duration) *RedisPersister {
	return &RedisPersister{
		rdb: redis.NewClient(&redis.Options{Addr: addr}),
		ttl: ttl,
	}
}

func (p *RedisPersister) Put(ctx context.Context, name string, data []byte) error {
	return p.rdb.Set(ctx, keyPrefix+name, data, p.ttl).Err()
}

func (p *RedisPersister) Get(ctx context.Context, name string) ([]byte, error) {
	data, err := p.rdb.Get(ctx, keyPrefix+name).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrUnknown
	}
	return data, err
}
