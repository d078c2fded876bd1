package dedup

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	seenKey = "fp:%s:%s:seen"
	ipsKey  = "fp:%s:%s:ips"
)

// RedisCounter shares sightings between server instances. Every sighting
// restarts the window, so a fingerprint is forgotten after a quiet window.
type RedisCounter struct {
	client redis.UniversalClient
	window time.Duration
}

func NewRedisCounter(client redis.UniversalClient, window time.Duration) *RedisCounter {
	if window <= 0 {
		window = DefaultWindow
	}
	return &RedisCounter{client: client, window: window}
}

func (r *RedisCounter) Record(ctx context.Context, campaignID, fingerprint, ip string) (Sighting, error) {
	seen := fmt.Sprintf(seenKey, campaignID, fingerprint)
	ips := fmt.Sprintf(ipsKey, campaignID, fingerprint)

	pipe := r.client.TxPipeline()
	count := pipe.Incr(ctx, seen)
	pipe.Expire(ctx, seen, r.window)
	if ip != "" {
		pipe.SAdd(ctx, ips, ip)
		pipe.Expire(ctx, ips, r.window)
	}
	distinct := pipe.SCard(ctx, ips)

	if _, err := pipe.Exec(ctx); err != nil {
		return Sighting{}, fmt.Errorf("record sighting: %w", err)
	}
	return Sighting{Count: count.Val(), DistinctIPs: distinct.Val()}, nil
}

// NewRedisClient parses a redis:// URL.
func NewRedisClient(url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return redis.NewClient(opts), nil
}
