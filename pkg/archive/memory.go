package archive

import (
	"context"
	"sync"

	"github.com/tokmz/relay/pkg/chat"
)

// MemorySink 进程内归档，每个房间只保留最近 limit 条
type MemorySink struct {
	mu    sync.RWMutex
	limit int
	rooms map[string][]chat.Message
}

// NewMemorySink 创建内存后端，limit <= 0 时不限制
func NewMemorySink(limit int) *MemorySink {
	return &MemorySink{
		limit: limit,
		rooms: make(map[string][]chat.Message),
	}
}

func (m *MemorySink) Write(_ context.Context, records []Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for room, msgs := range group(records) {
		list := append(m.rooms[room], msgs...)
		if m.limit > 0 && len(list) > m.limit {
			list = append([]chat.Message(nil), list[len(list)-m.limit:]...)
		}
		m.rooms[room] = list
	}
	return nil
}

func (m *MemorySink) Recent(_ context.Context, room string, limit int) ([]chat.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	list := m.rooms[room]
	if limit > 0 && len(list) > limit {
		list = list[len(list)-limit:]
	}
	return append([]chat.Message{}, list...), nil
}

func (m *MemorySink) Close() error { return nil }
