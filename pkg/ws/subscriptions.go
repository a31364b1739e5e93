package ws

import "sync"

// Subscriptions 房间投递组：room -> 订阅的客户端
//
// 只记录投递关系，房间本身的状态由上层维护。
type Subscriptions struct {
	mu    sync.RWMutex
	rooms map[string]map[string]*Client
}

// NewSubscriptions 创建投递组
func NewSubscriptions() *Subscriptions {
	return &Subscriptions{
		rooms: make(map[string]map[string]*Client),
	}
}

// Add 订阅
func (s *Subscriptions) Add(room string, c *Client) {
	s.mu.Lock()
	defer s.mu.Unlock()

	members, ok := s.rooms[room]
	if !ok {
		members = make(map[string]*Client)
		s.rooms[room] = members
	}
	members[c.ID] = c
	c.rooms.Store(room, struct{}{})
}

// Remove 取消订阅，组为空时删除
func (s *Subscriptions) Remove(room, clientID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	members, ok := s.rooms[room]
	if !ok {
		return
	}
	if c, ok := members[clientID]; ok {
		c.rooms.Delete(room)
		delete(members, clientID)
	}
	if len(members) == 0 {
		delete(s.rooms, room)
	}
}

// RemoveClient 从所有房间移除客户端
func (s *Subscriptions) RemoveClient(c *Client) {
	c.rooms.Range(func(key, _ any) bool {
		if room, ok := key.(string); ok {
			s.Remove(room, c.ID)
		}
		return true
	})
}

// Members 房间成员快照
func (s *Subscriptions) Members(room string) []*Client {
	s.mu.RLock()
	defer s.mu.RUnlock()

	members := s.rooms[room]
	out := make([]*Client, 0, len(members))
	for _, c := range members {
		out = append(out, c)
	}
	return out
}

// Count 房间数
func (s *Subscriptions) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rooms)
}
