package archive

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/tokmz/relay/pkg/chat"
	"github.com/tokmz/relay/pkg/logger"
)

var _ chat.MessageObserver = (*Recorder)(nil)

// Recorder 异步归档器
type Recorder struct {
	sinks []Sink
	log   logger.Logger
	cfg   Config

	queue   chan Record
	done    chan struct{}
	stopped chan struct{}
	running atomic.Bool

	closeOnce sync.Once
	dropped   atomic.Int64
	written   atomic.Int64
}

// NewRecorder 创建归档器，调用 Run 后开始写入
func NewRecorder(cfg Config, log logger.Logger, sinks ...Sink) *Recorder {
	def := DefaultConfig()
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = def.FlushInterval
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Recorder{
		sinks:   sinks,
		log:     log.Named("archive"),
		cfg:     cfg,
		queue:   make(chan Record, cfg.QueueSize),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
}

// OnMessage 入队，队列满或已关闭时丢弃
func (r *Recorder) OnMessage(room string, msg chat.Message) {
	select {
	case <-r.done:
		r.dropped.Add(1)
		return
	default:
	}

	select {
	case r.queue <- Record{Room: room, Message: msg}:
	default:
		r.dropped.Add(1)
	}
}

// Run 批量写入直到 ctx 取消或 Close，退出前写完队列中剩余记录
func (r *Recorder) Run(ctx context.Context) error {
	if !r.running.CompareAndSwap(false, true) {
		return nil
	}
	defer close(r.stopped)

	ticker := time.NewTicker(r.cfg.FlushInterval)
	defer ticker.Stop()

	batch := make([]Record, 0, r.cfg.BatchSize)
	for {
		select {
		case rec := <-r.queue:
			batch = append(batch, rec)
			if len(batch) >= r.cfg.BatchSize {
				r.flush(batch)
				batch = batch[:0]
			}
		case <-ticker.C:
			if len(batch) > 0 {
				r.flush(batch)
				batch = batch[:0]
			}
		case <-ctx.Done():
			r.drain(batch)
			return nil
		case <-r.done:
			r.drain(batch)
			return nil
		}
	}
}

func (r *Recorder) drain(batch []Record) {
	for {
		select {
		case rec := <-r.queue:
			batch = append(batch, rec)
		default:
			if len(batch) > 0 {
				r.flush(batch)
			}
			return
		}
	}
}

// flush 并发写入所有后端，单个后端失败不影响其它后端
func (r *Recorder) flush(batch []Record) {
	if len(r.sinks) == 0 {
		return
	}
	records := append([]Record(nil), batch...)

	ctx, cancel := context.WithTimeout(context.Background(), r.cfg.WriteTimeout)
	defer cancel()

	var g errgroup.Group
	for _, s := range r.sinks {
		g.Go(func() error {
			if err := s.Write(ctx, records); err != nil {
				r.log.Warn("archive write failed", zap.Int("records", len(records)), zap.Error(err))
				return err
			}
			return nil
		})
	}
	if g.Wait() == nil {
		r.written.Add(int64(len(records)))
	}
}

// Recent 从第一个可查询的后端读取历史
func (r *Recorder) Recent(ctx context.Context, room string, limit int) ([]chat.Message, error) {
	for _, s := range r.sinks {
		if reader, ok := s.(Reader); ok {
			return reader.Recent(ctx, room, limit)
		}
	}
	return nil, ErrNoReader
}

// Dropped 丢弃的记录数
func (r *Recorder) Dropped() int64 { return r.dropped.Load() }

// Written 全部后端写入成功的记录数
func (r *Recorder) Written() int64 { return r.written.Load() }

// Close 停止 Run 并关闭所有后端
func (r *Recorder) Close() error {
	var err error
	r.closeOnce.Do(func() {
		close(r.done)
		if r.running.Load() {
			<-r.stopped
		}
		errs := make([]error, 0, len(r.sinks))
		for _, s := range r.sinks {
			errs = append(errs, s.Close())
		}
		err = errors.Join(errs...)
	})
	return err
}
