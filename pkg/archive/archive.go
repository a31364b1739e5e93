// Package archive 异步归档房间消息
//
// Recorder 作为 chat.MessageObserver 挂在注册表上，消息先进入有界队列，
// 再由后台协程批量写入一个或多个 Sink。队列满时丢弃，不阻塞房间操作。
package archive

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tokmz/relay/pkg/chat"
)

// Driver 归档后端
type Driver string

const (
	DriverMemory   Driver = "memory"
	DriverRedis    Driver = "redis"
	DriverDatabase Driver = "database"
	DriverKafka    Driver = "kafka"
	DriverAMQP     Driver = "amqp"
)

var (
	// ErrUnsupportedDriver 未知的归档后端
	ErrUnsupportedDriver = errors.New("archive: unsupported driver")
	// ErrNoReader 没有可查询历史的后端
	ErrNoReader = errors.New("archive: no readable sink configured")
)

// Record 一条归档记录
type Record struct {
	Room    string       `json:"room"`
	Message chat.Message `json:"message"`
}

// Sink 归档写入端
type Sink interface {
	Write(ctx context.Context, records []Record) error
	Close() error
}

// Reader 可按房间查询最近消息的后端
type Reader interface {
	// Recent 返回房间最近 limit 条消息，按时间升序
	Recent(ctx context.Context, room string, limit int) ([]chat.Message, error)
}

// Config 归档配置
type Config struct {
	// Drivers 启用的后端，为空表示不归档
	Drivers       []Driver      `mapstructure:"drivers"`
	QueueSize     int           `mapstructure:"queue_size"`
	BatchSize     int           `mapstructure:"batch_size"`
	FlushInterval time.Duration `mapstructure:"flush_interval"`
	WriteTimeout  time.Duration `mapstructure:"write_timeout"`

	// MemoryLimit 内存后端每个房间保留的条数
	MemoryLimit int `mapstructure:"memory_limit"`

	Redis    RedisConfig    `mapstructure:"redis"`
	Database DatabaseConfig `mapstructure:"database"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	AMQP     AMQPConfig     `mapstructure:"amqp"`
}

// DefaultConfig 默认配置
func DefaultConfig() Config {
	return Config{
		QueueSize:     1024,
		BatchSize:     64,
		FlushInterval: time.Second,
		WriteTimeout:  5 * time.Second,
		MemoryLimit:   500,
		Redis:         RedisConfig{KeyPrefix: "relay:room:", MaxLen: 1000},
		Database:      DefaultDatabaseConfig(),
		Kafka:         KafkaConfig{Topic: "relay.messages", ClientID: "relay"},
		AMQP:          AMQPConfig{Exchange: "relay.messages", RoutingKeyPrefix: "room."},
	}
}

// Open 按配置创建所有后端，任一失败时关闭已创建的后端
func Open(ctx context.Context, cfg Config) ([]Sink, error) {
	sinks := make([]Sink, 0, len(cfg.Drivers))
	for _, d := range cfg.Drivers {
		s, err := open(ctx, d, cfg)
		if err != nil {
			for _, opened := range sinks {
				_ = opened.Close()
			}
			return nil, fmt.Errorf("open %s sink: %w", d, err)
		}
		sinks = append(sinks, s)
	}
	return sinks, nil
}

func open(ctx context.Context, d Driver, cfg Config) (Sink, error) {
	switch d {
	case DriverMemory:
		return NewMemorySink(cfg.MemoryLimit), nil
	case DriverRedis:
		return NewRedisSink(ctx, cfg.Redis)
	case DriverDatabase:
		return NewDatabaseSink(ctx, cfg.Database)
	case DriverKafka:
		return NewKafkaSink(cfg.Kafka)
	case DriverAMQP:
		return NewAMQPSink(cfg.AMQP)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedDriver, d)
	}
}

// group 把消息按房间分组，保持组内顺序
func group(records []Record) map[string][]chat.Message {
	out := make(map[string][]chat.Message)
	for _, r := range records {
		out[r.Room] = append(out[r.Room], r.Message)
	}
	return out
}
