package journal

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	redisStreamKey = "periodic:journal"

	// redisStreamMaxLen caps the stream so an unattended engine cannot
	// grow Redis without bound.
	redisStreamMaxLen = 10_000
)

// RedisPublisher appends journal events to a capped Redis stream.
type RedisPublisher struct {
	client *redis.Client
}

// NewRedisPublisher connects to Redis and verifies the connection before
// returning; a sink that cannot be reached at startup is a config error.
func NewRedisPublisher(addr, password string, db int) (*RedisPublisher, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}

	return &RedisPublisher{client: client}, nil
}

func (p *RedisPublisher) Publish(ctx context.Context, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: redisStreamKey,
		MaxLen: redisStreamMaxLen,
		Approx: true,
		Values: map[string]interface{}{
			"topic": ev.Topic,
			"event": string(data),
		},
	}).Err()
}

func (p *RedisPublisher) Close() error {
	return p.client.Close()
}
