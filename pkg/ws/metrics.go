package ws

import "sync/atomic"

// Metrics 监控接口
type Metrics interface {
	// 连接指标
	IncrementConnections()
	DecrementConnections()
	IncrementRejected()

	// 消息指标
	IncrementMessageCount(event string)
	IncrementDroppedMessages()
	IncrementInvalidMessages()

	// 错误指标
	IncrementWriteErrors()
}

// NoopMetrics 空实现（默认）
type NoopMetrics struct{}

func (m *NoopMetrics) IncrementConnections()        {}
func (m *NoopMetrics) DecrementConnections()        {}
func (m *NoopMetrics) IncrementRejected()           {}
func (m *NoopMetrics) IncrementMessageCount(string) {}
func (m *NoopMetrics) IncrementDroppedMessages()    {}
func (m *NoopMetrics) IncrementInvalidMessages()    {}
func (m *NoopMetrics) IncrementWriteErrors()        {}

// Counters 基于原子计数的实现，供健康检查接口读取
type Counters struct {
	Connections atomic.Int64 // 当前连接
	Accepted    atomic.Int64
	Rejected    atomic.Int64 // 认证失败或超出连接上限
	Commands    atomic.Int64
	Dropped     atomic.Int64 // 发送队列满被丢弃的帧
	Invalid     atomic.Int64
	WriteErrors atomic.Int64
}

func (m *Counters) IncrementConnections() {
	m.Connections.Add(1)
	m.Accepted.Add(1)
}

func (m *Counters) DecrementConnections()        { m.Connections.Add(-1) }
func (m *Counters) IncrementRejected()           { m.Rejected.Add(1) }
func (m *Counters) IncrementMessageCount(string) { m.Commands.Add(1) }
func (m *Counters) IncrementDroppedMessages()    { m.Dropped.Add(1) }
func (m *Counters) IncrementInvalidMessages()    { m.Invalid.Add(1) }
func (m *Counters) IncrementWriteErrors()        { m.WriteErrors.Add(1) }

// CounterSnapshot 计数快照
type CounterSnapshot struct {
	Connections int64 `json:"connections"`
	Accepted    int64 `json:"accepted"`
	Rejected    int64 `json:"rejected"`
	Commands    int64 `json:"commands"`
	Dropped     int64 `json:"dropped"`
	Invalid     int64 `json:"invalid"`
	WriteErrors int64 `json:"writeErrors"`
}

// Snapshot 读取当前计数
func (m *Counters) Snapshot() CounterSnapshot {
	return CounterSnapshot{
		Connections: m.Connections.Load(),
		Accepted:    m.Accepted.Load(),
		Rejected:    m.Rejected.Load(),
		Commands:    m.Commands.Load(),
		Dropped:     m.Dropped.Load(),
		Invalid:     m.Invalid.Load(),
		WriteErrors: m.WriteErrors.Load(),
	}
}
