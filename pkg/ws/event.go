package ws

import (
	"sync"
	"sync/atomic"
	"time"
)

// EventType 事件类型
type EventType string

const (
	// EventClientConnected 客户端连接
	EventClientConnected EventType = "client.connected"
	// EventClientDisconnected 客户端断开
	EventClientDisconnected EventType = "client.disconnected"
	// EventCommandReceived 收到命令帧
	EventCommandReceived EventType = "command.received"
)

// Event 连接层事件
//
// 事件总线可能丢弃事件，只用于监控与日志，不承载状态清理。
type Event struct {
	Type     EventType
	ClientID string
	UserID   string
	Command  string
	Time     time.Time
}

// EventHandler 事件处理器
type EventHandler func(Event)

// EventBus 事件总线（固定 worker 池异步执行）
type EventBus struct {
	handlers      map[EventType][]EventHandler
	mu            sync.RWMutex
	workerCh      chan func()
	stopCh        chan struct{}
	wg            sync.WaitGroup
	closed        atomic.Bool
	droppedEvents atomic.Int64
}

// NewEventBus 创建事件总线
func NewEventBus(workers int) *EventBus {
	eb := &EventBus{
		handlers: make(map[EventType][]EventHandler),
		workerCh: make(chan func(), 1024),
		stopCh:   make(chan struct{}),
	}
	for range workers {
		eb.wg.Add(1)
		go eb.worker()
	}
	return eb
}

func (eb *EventBus) worker() {
	defer eb.wg.Done()
	for {
		select {
		case task := <-eb.workerCh:
			task()
		case <-eb.stopCh:
			return
		}
	}
}

// Subscribe 订阅事件
func (eb *EventBus) Subscribe(eventType EventType, handler EventHandler) {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	eb.handlers[eventType] = append(eb.handlers[eventType], handler)
}

// Publish 发布事件（非阻塞，队列满时丢弃）
func (eb *EventBus) Publish(event Event) {
	if eb.closed.Load() {
		return
	}

	eb.mu.RLock()
	handlers := eb.handlers[event.Type]
	eb.mu.RUnlock()

	for _, h := range handlers {
		select {
		case eb.workerCh <- func() { h(event) }:
		default:
			eb.droppedEvents.Add(1)
		}
	}
}

// Close 关闭事件总线，未执行的事件被丢弃
func (eb *EventBus) Close() {
	if !eb.closed.CompareAndSwap(false, true) {
		return
	}
	close(eb.stopCh)
	eb.wg.Wait()
}

// DroppedEvents 丢弃的事件数
func (eb *EventBus) DroppedEvents() int64 {
	return eb.droppedEvents.Load()
}
