package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tokmz/relay/pkg/chat"
)

// RedisConfig Redis 后端配置
//
// Addrs 多于一个时使用集群模式，设置 MasterName 时使用哨兵模式。
type RedisConfig struct {
	Addrs      []string      `mapstructure:"addrs"`
	Username   string        `mapstructure:"username"`
	Password   string        `mapstructure:"password"`
	DB         int           `mapstructure:"db"`
	MasterName string        `mapstructure:"master_name"`
	KeyPrefix  string        `mapstructure:"key_prefix"`
	MaxLen     int64         `mapstructure:"max_len"`
	TTL        time.Duration `mapstructure:"ttl"`
}

// RedisSink 每个房间一个 list，RPUSH 追加后 LTRIM 到 MaxLen
type RedisSink struct {
	client redis.UniversalClient
	prefix string
	maxLen int64
	ttl    time.Duration
}

// NewRedisSink 连接 Redis 并验证可用
func NewRedisSink(ctx context.Context, cfg RedisConfig) (*RedisSink, error) {
	if len(cfg.Addrs) == 0 {
		return nil, fmt.Errorf("redis addrs are required")
	}
	client := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:      cfg.Addrs,
		Username:   cfg.Username,
		Password:   cfg.Password,
		DB:         cfg.DB,
		MasterName: cfg.MasterName,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return NewRedisSinkWithClient(client, cfg), nil
}

// NewRedisSinkWithClient 使用已有客户端
func NewRedisSinkWithClient(client redis.UniversalClient, cfg RedisConfig) *RedisSink {
	return &RedisSink{
		client: client,
		prefix: cfg.KeyPrefix,
		maxLen: cfg.MaxLen,
		ttl:    cfg.TTL,
	}
}

func (s *RedisSink) key(room string) string {
	return s.prefix + room
}

func (s *RedisSink) Write(ctx context.Context, records []Record) error {
	pipe := s.client.TxPipeline()
	for room, msgs := range group(records) {
		key := s.key(room)
		values := make([]any, 0, len(msgs))
		for _, msg := range msgs {
			data, err := json.Marshal(msg)
			if err != nil {
				return err
			}
			values = append(values, data)
		}
		pipe.RPush(ctx, key, values...)
		if s.maxLen > 0 {
			pipe.LTrim(ctx, key, -s.maxLen, -1)
		}
		if s.ttl > 0 {
			pipe.Expire(ctx, key, s.ttl)
		}
	}
	_, err := pipe.Exec(ctx)
	return err
}

func (s *RedisSink) Recent(ctx context.Context, room string, limit int) ([]chat.Message, error) {
	start := int64(0)
	if limit > 0 {
		start = -int64(limit)
	}
	items, err := s.client.LRange(ctx, s.key(room), start, -1).Result()
	if err != nil {
		return nil, err
	}
	msgs := make([]chat.Message, 0, len(items))
	for _, item := range items {
		var msg chat.Message
		if err := json.Unmarshal([]byte(item), &msg); err != nil {
			return nil, err
		}
		msgs = append(msgs, msg)
	}
	return msgs, nil
}

func (s *RedisSink) Close() error {
	return s.client.Close()
}
