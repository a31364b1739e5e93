package archive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tokmz/relay/pkg/chat"
)

var base = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func msg(i int) chat.Message {
	return chat.Message{
		ID:        fmt.Sprintf("m%02d", i),
		Text:      fmt.Sprintf("hello %d", i),
		UserID:    "1",
		UserName:  "alice",
		Timestamp: base.Add(time.Duration(i) * time.Second),
	}
}

func records(room string, n int) []Record {
	out := make([]Record, 0, n)
	for i := range n {
		out = append(out, Record{Room: room, Message: msg(i)})
	}
	return out
}

func texts(msgs []chat.Message) []string {
	out := make([]string, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.Text)
	}
	return out
}

// failingSink 总是写入失败，不支持查询
type failingSink struct {
	mu     sync.Mutex
	calls  int
	closed bool
}

func (f *failingSink) Write(context.Context, []Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return errors.New("broker unavailable")
}

func (f *failingSink) Close() error {
	f.closed = true
	return nil
}

func TestRecorderFlushesBatches(t *testing.T) {
	mem := NewMemorySink(0)
	r := NewRecorder(Config{BatchSize: 2, FlushInterval: 10 * time.Millisecond}, nil, mem)
	go func() { _ = r.Run(context.Background()) }()

	for i := range 3 {
		r.OnMessage("travel", msg(i))
	}
	r.OnMessage("food", msg(9))

	assert.Eventually(t, func() bool {
		got, _ := r.Recent(context.Background(), "travel", 0)
		return len(got) == 3
	}, time.Second, 5*time.Millisecond)

	got, err := r.Recent(context.Background(), "travel", 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"hello 0", "hello 1", "hello 2"}, texts(got))

	require.NoError(t, r.Close())
	food, _ := mem.Recent(context.Background(), "food", 0)
	assert.Len(t, food, 1)
	assert.EqualValues(t, 4, r.Written())
}

func TestRecorderCloseDrainsQueue(t *testing.T) {
	mem := NewMemorySink(0)
	r := NewRecorder(Config{BatchSize: 100, FlushInterval: time.Hour}, nil, mem)

	started := make(chan struct{})
	go func() {
		close(started)
		_ = r.Run(context.Background())
	}()
	<-started

	for i := range 5 {
		r.OnMessage("travel", msg(i))
	}
	require.Eventually(t, func() bool { return r.running.Load() }, time.Second, time.Millisecond)
	require.NoError(t, r.Close())

	got, _ := mem.Recent(context.Background(), "travel", 0)
	assert.Len(t, got, 5)

	// 关闭后的消息被丢弃
	r.OnMessage("travel", msg(6))
	assert.EqualValues(t, 1, r.Dropped())
}

func TestRecorderDropsWhenFull(t *testing.T) {
	r := NewRecorder(Config{QueueSize: 1}, nil, NewMemorySink(0))
	r.OnMessage("travel", msg(0))
	r.OnMessage("travel", msg(1))
	r.OnMessage("travel", msg(2))
	assert.EqualValues(t, 2, r.Dropped())
	require.NoError(t, r.Close())
}

func TestRecorderFanOut(t *testing.T) {
	mem := NewMemorySink(0)
	bad := &failingSink{}
	r := NewRecorder(Config{BatchSize: 1, FlushInterval: 10 * time.Millisecond}, nil, bad, mem)
	go func() { _ = r.Run(context.Background()) }()

	r.OnMessage("travel", msg(0))
	assert.Eventually(t, func() bool {
		got, _ := mem.Recent(context.Background(), "travel", 0)
		return len(got) == 1
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, r.Close())
	assert.True(t, bad.closed)
	assert.Equal(t, 1, bad.calls)
	assert.Zero(t, r.Written())
}

func TestRecorderWithoutReader(t *testing.T) {
	r := NewRecorder(Config{}, nil, &failingSink{})
	_, err := r.Recent(context.Background(), "travel", 10)
	assert.ErrorIs(t, err, ErrNoReader)
}

func TestMemorySink(t *testing.T) {
	tests := []struct {
		name   string
		limit  int
		write  int
		recent int
		want   []string
	}{
		{name: "unlimited", limit: 0, write: 3, recent: 0, want: []string{"hello 0", "hello 1", "hello 2"}},
		{name: "room limit", limit: 2, write: 3, recent: 0, want: []string{"hello 1", "hello 2"}},
		{name: "query limit", limit: 0, write: 3, recent: 1, want: []string{"hello 2"}},
		{name: "empty room", limit: 0, write: 0, recent: 5, want: []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewMemorySink(tt.limit)
			require.NoError(t, s.Write(context.Background(), records("travel", tt.write)))
			got, err := s.Recent(context.Background(), "travel", tt.recent)
			require.NoError(t, err)
			assert.Equal(t, tt.want, texts(got))
		})
	}
}

func TestDatabaseSink(t *testing.T) {
	ctx := context.Background()
	cfg := DefaultDatabaseConfig()
	cfg.DSN = filepath.Join(t.TempDir(), "archive.db")
	cfg.LogLevel = 1

	s, err := NewDatabaseSink(ctx, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	recs := records("travel", 4)
	recs[0].Message.IsSystemMessage = true
	require.NoError(t, s.Write(ctx, recs))
	// 重复写入按 ID 去重
	require.NoError(t, s.Write(ctx, recs[:2]))
	require.NoError(t, s.Write(ctx, records("food", 1)))

	got, err := s.Recent(ctx, "travel", 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"hello 0", "hello 1", "hello 2", "hello 3"}, texts(got))
	assert.True(t, got[0].IsSystemMessage)
	assert.True(t, got[0].Timestamp.Equal(base))

	got, err = s.Recent(ctx, "travel", 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"hello 2", "hello 3"}, texts(got))
}

func TestDatabaseConfigErrors(t *testing.T) {
	_, err := OpenDatabase(DatabaseConfig{Type: "sqlite"})
	assert.Error(t, err)
	_, err = OpenDatabase(DatabaseConfig{Type: "oracle", DSN: "x"})
	assert.Error(t, err)
}

func TestKafkaSink(t *testing.T) {
	producer := mocks.NewSyncProducer(t, mocks.NewTestConfig())
	for i := range 2 {
		producer.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
			var rec Record
			if err := json.Unmarshal(val, &rec); err != nil {
				return err
			}
			if rec.Room != "travel" || rec.Message.ID != msg(i).ID {
				return fmt.Errorf("unexpected record %+v", rec)
			}
			return nil
		})
	}

	s := NewKafkaSinkWithProducer(producer, "relay.messages")
	require.NoError(t, s.Write(context.Background(), records("travel", 2)))
	require.NoError(t, s.Close())
}

func TestKafkaSinkFailure(t *testing.T) {
	producer := mocks.NewSyncProducer(t, mocks.NewTestConfig())
	producer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	s := NewKafkaSinkWithProducer(producer, "relay.messages")
	assert.Error(t, s.Write(context.Background(), records("travel", 1)))
	require.NoError(t, s.Close())
}

type publishing struct {
	exchange, key string
	msg           amqp.Publishing
}

type fakeChannel struct {
	published []publishing
	closed    bool
}

func (f *fakeChannel) PublishWithContext(_ context.Context, exchange, key string, _, _ bool, msg amqp.Publishing) error {
	f.published = append(f.published, publishing{exchange: exchange, key: key, msg: msg})
	return nil
}

func (f *fakeChannel) Close() error {
	f.closed = true
	return nil
}

func TestAMQPSink(t *testing.T) {
	ch := &fakeChannel{}
	s := newAMQPSink(ch, AMQPConfig{Exchange: "relay.messages", RoutingKeyPrefix: "room."})

	require.NoError(t, s.Write(context.Background(), append(records("travel", 1), records("food", 1)...)))
	require.Len(t, ch.published, 2)
	assert.Equal(t, "room.travel", ch.published[0].key)
	assert.Equal(t, "room.food", ch.published[1].key)
	assert.Equal(t, "relay.messages", ch.published[0].exchange)
	assert.Equal(t, amqp.Persistent, ch.published[0].msg.DeliveryMode)
	assert.Equal(t, "m00", ch.published[0].msg.MessageId)

	var rec Record
	require.NoError(t, json.Unmarshal(ch.published[0].msg.Body, &rec))
	assert.Equal(t, "hello 0", rec.Message.Text)

	require.NoError(t, s.Close())
	assert.True(t, ch.closed)
}

func TestOpen(t *testing.T) {
	ctx := context.Background()

	sinks, err := Open(ctx, Config{Drivers: []Driver{DriverMemory}, MemoryLimit: 10})
	require.NoError(t, err)
	require.Len(t, sinks, 1)
	assert.IsType(t, &MemorySink{}, sinks[0])

	_, err = Open(ctx, Config{Drivers: []Driver{DriverMemory, "zipkin"}})
	assert.ErrorIs(t, err, ErrUnsupportedDriver)

	_, err = Open(ctx, Config{Drivers: []Driver{DriverRedis}})
	assert.Error(t, err)

	_, err = Open(ctx, Config{Drivers: []Driver{DriverKafka}})
	assert.Error(t, err)

	_, err = Open(ctx, Config{Drivers: []Driver{DriverAMQP}})
	assert.Error(t, err)
}
