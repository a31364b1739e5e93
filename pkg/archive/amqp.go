package archive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// AMQPConfig RabbitMQ 后端配置
type AMQPConfig struct {
	URL              string `mapstructure:"url"`
	Exchange         string `mapstructure:"exchange"`
	RoutingKeyPrefix string `mapstructure:"routing_key_prefix"`
}

// publisher amqp.Channel 中用到的部分
type publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// AMQPSink 发布到 topic exchange，routing key 为 <prefix><room>
type AMQPSink struct {
	conn     *amqp.Connection
	ch       publisher
	exchange string
	prefix   string
}

// NewAMQPSink 连接 broker 并声明持久化 topic exchange
func NewAMQPSink(cfg AMQPConfig) (*AMQPSink, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("amqp url is required")
	}
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("amqp dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("amqp channel: %w", err)
	}
	if err := ch.ExchangeDeclare(cfg.Exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("declare exchange: %w", err)
	}

	s := newAMQPSink(ch, cfg)
	s.conn = conn
	return s, nil
}

func newAMQPSink(ch publisher, cfg AMQPConfig) *AMQPSink {
	return &AMQPSink{ch: ch, exchange: cfg.Exchange, prefix: cfg.RoutingKeyPrefix}
}

func (s *AMQPSink) Write(ctx context.Context, records []Record) error {
	for _, r := range records {
		body, err := json.Marshal(r)
		if err != nil {
			return err
		}
		err = s.ch.PublishWithContext(ctx, s.exchange, s.prefix+r.Room, false, false, amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    r.Message.ID,
			Timestamp:    r.Message.Timestamp,
			Body:         body,
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *AMQPSink) Close() error {
	err := s.ch.Close()
	if s.conn != nil {
		err = errors.Join(err, s.conn.Close())
	}
	return err
}
