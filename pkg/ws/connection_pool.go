package ws

import (
	"sync"
)

// ConnectionPool 连接池，按连接 ID 索引，同时维护用户 -> 连接数
type ConnectionPool struct {
	mu       sync.RWMutex
	clients  map[string]*Client
	users    map[string]int
	maxConns int
}

// NewConnectionPool 创建连接池
func NewConnectionPool(maxConns int) *ConnectionPool {
	return &ConnectionPool{
		clients:  make(map[string]*Client),
		users:    make(map[string]int),
		maxConns: maxConns,
	}
}

// Add 添加客户端
func (p *ConnectionPool) Add(client *Client) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.clients[client.ID]; exists {
		return ErrClientIDExists
	}
	if len(p.clients) >= p.maxConns {
		return ErrTooManyConnections
	}
	p.clients[client.ID] = client
	p.users[client.Identity.ID]++
	return nil
}

// Remove 移除客户端
func (p *ConnectionPool) Remove(clientID string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	client, ok := p.clients[clientID]
	if !ok {
		return
	}
	delete(p.clients, clientID)
	if p.users[client.Identity.ID]--; p.users[client.Identity.ID] <= 0 {
		delete(p.users, client.Identity.ID)
	}
}

// Get 获取客户端
func (p *ConnectionPool) Get(clientID string) (*Client, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	c, ok := p.clients[clientID]
	return c, ok
}

// Count 连接数
func (p *ConnectionPool) Count() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.clients)
}

// UserCount 在线用户数（同一用户多个连接只算一次）
func (p *ConnectionPool) UserCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.users)
}

// Snapshot 当前所有客户端
func (p *ConnectionPool) Snapshot() []*Client {
	p.mu.RLock()
	defer p.mu.RUnlock()
	clients := make([]*Client, 0, len(p.clients))
	for _, c := range p.clients {
		clients = append(clients, c)
	}
	return clients
}
