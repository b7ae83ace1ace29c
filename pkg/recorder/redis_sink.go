package recorder

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultRedisPrefix = "ticks"

// RedisSink keeps the latest value of every field in a hash per instrument and
// publishes each record on the instrument's channel.
type RedisSink struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

func NewRedisSink(client redis.UniversalClient, prefix string, ttl time.Duration) *RedisSink {
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	return &RedisSink{client: client, prefix: prefix, ttl: ttl}
}

func (s *RedisSink) HashKey(key string) string {
	return s.prefix + ":" + key
}

func (s *RedisSink) Channel(key string) string {
	return s.prefix + ":" + key + ":stream"
}

func (s *RedisSink) Write(ctx context.Context, key string, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	hash := s.HashKey(key)
	channel := s.Channel(key)

	pipe := s.client.Pipeline()
	values := make([]interface{}, 0, 2*len(records)+2)
	for _, r := range records {
		v := strconv.FormatFloat(r.Value, 'f', -1, 64)
		values = append(values, r.Field, v)
		pipe.Publish(ctx, channel, strconv.FormatFloat(r.Time, 'f', -1, 64)+"\t"+r.Field+"\t"+v)
	}
	values = append(values, "time", strconv.FormatFloat(records[len(records)-1].Time, 'f', -1, 64))
	pipe.HSet(ctx, hash, values...)
	if s.ttl > 0 {
		pipe.Expire(ctx, hash, s.ttl)
	}
	_, err := pipe.Exec(ctx)
	return err
}

// Close leaves the client open; it belongs to the caller.
func (s *RedisSink) Close() error {
	return nil
}
