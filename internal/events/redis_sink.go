package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisSinkConfig 描述 Redis 事件流的连接参数。
type RedisSinkConfig struct {
	Address  string
	Password string
	DB       int
	Stream   string
	// MaxLen 限制事件流长度，零表示不限。
	MaxLen int64
}

// RedisSink 把事件以 JSON 形式写入一条 Redis list，最新事件在表头。
type RedisSink struct {
	client *redis.Client
	stream string
	maxLen int64
}

// NewRedisSink 创建 Redis 事件 Sink。
func NewRedisSink(cfg RedisSinkConfig) (*RedisSink, error) {
	if cfg.Address == "" {
		return nil, errors.New("Redis address 不能为空")
	}
	stream := cfg.Stream
	if stream == "" {
		stream = "agentvault:events"
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("连接 Redis 失败: %w", err)
	}
	return &RedisSink{client: client, stream: stream, maxLen: cfg.MaxLen}, nil
}

// Emit 实现 Sink。
func (s *RedisSink) Emit(ctx context.Context, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("序列化事件失败: %w", err)
	}
	if err := s.client.LPush(ctx, s.stream, payload).Err(); err != nil {
		return fmt.Errorf("Redis 写事件失败: %w", err)
	}
	if s.maxLen > 0 {
		if err := s.client.LTrim(ctx, s.stream, 0, s.maxLen-1).Err(); err != nil {
			return fmt.Errorf("Redis 裁剪事件流失败: %w", err)
		}
	}
	return nil
}

// Close 关闭 Redis 连接。
func (s *RedisSink) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}

var _ Sink = (*RedisSink)(nil)
