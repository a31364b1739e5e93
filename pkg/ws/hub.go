package ws

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/tokmz/relay/pkg/chat"
	"github.com/tokmz/relay/pkg/errors"
	"github.com/tokmz/relay/pkg/logger"
)

// Authenticator 握手认证
type Authenticator interface {
	Authenticate(r *http.Request) (chat.Identity, error)
}

// Hub 连接管理与事件投递，实现 chat.Broadcaster
type Hub struct {
	pool   *ConnectionPool
	subs   *Subscriptions
	router *Router
	events *EventBus

	config   *Config
	upgrader *Upgrader
	auth     Authenticator
	log      logger.Logger
	metrics  Metrics

	onConnect    func(*Client)
	onDisconnect func(*Client)

	ctx    context.Context
	cancel context.CancelFunc

	// mu 保护 closed，保证 Shutdown 之后不会再有 wg.Add
	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

var _ chat.Broadcaster = (*Hub)(nil)

// NewHub 创建 Hub
func NewHub(auth Authenticator, opts ...Option) (*Hub, error) {
	config := DefaultConfig()
	for _, opt := range opts {
		opt(config)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if config.Metrics == nil {
		config.Metrics = &NoopMetrics{}
	}
	if config.Logger == nil {
		config.Logger = logger.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	h := &Hub{
		pool:     NewConnectionPool(config.MaxConnections),
		subs:     NewSubscriptions(),
		router:   NewRouter(),
		events:   NewEventBus(config.EventWorkers),
		config:   config,
		upgrader: NewUpgrader(config.UpgraderConfig, config.HandshakeTimeout),
		auth:     auth,
		log:      config.Logger.Named("ws"),
		metrics:  config.Metrics,
		ctx:      ctx,
		cancel:   cancel,
	}
	h.setupEventHandlers()
	return h, nil
}

// OnConnect 连接建立后、开始读取命令前回调
func (h *Hub) OnConnect(fn func(*Client)) {
	h.onConnect = fn
}

// OnDisconnect 连接关闭时回调，每个连接恰好一次
func (h *Hub) OnDisconnect(fn func(*Client)) {
	h.onDisconnect = fn
}

// Register 注册命令处理器
func (h *Hub) Register(event string, handler Handler) error {
	return h.router.Register(event, handler)
}

// Use 添加命令中间件
func (h *Hub) Use(middleware ...MiddlewareFunc) {
	h.router.Use(middleware...)
}

// Router 命令路由器
func (h *Hub) Router() *Router {
	return h.router
}

// Run 冻结路由，开始接受连接
func (h *Hub) Run() {
	h.router.Freeze()
}

// HandleUpgrade 认证并升级连接
//
// 认证失败时返回 401，连接不会被升级，也不会产生会话。
func (h *Hub) HandleUpgrade(w http.ResponseWriter, r *http.Request) error {
	if h.ctx.Err() != nil {
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return ErrHubClosed
	}
	if !h.upgrader.CheckOrigin(r) {
		h.metrics.IncrementRejected()
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return ErrOriginNotAllowed
	}

	identity, err := h.auth.Authenticate(r)
	if err != nil {
		h.metrics.IncrementRejected()
		e := errors.From(err)
		h.log.Warn("handshake rejected", zap.String("remote", r.RemoteAddr), zap.Error(err))
		http.Error(w, e.Message, e.HttpCode)
		return err
	}

	if h.pool.Count() >= h.config.MaxConnections {
		h.metrics.IncrementRejected()
		http.Error(w, "too many connections", http.StatusServiceUnavailable)
		return ErrTooManyConnections
	}

	conn, err := h.upgrader.Upgrade(w, r)
	if err != nil {
		return err
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(h.config.WriteWait))
		_ = conn.Close()
		return ErrHubClosed
	}
	h.wg.Add(1)
	h.mu.Unlock()

	client := newClient(conn, h, uuid.NewString(), identity)
	if err := h.pool.Add(client); err != nil {
		h.wg.Done()
		h.metrics.IncrementRejected()
		_ = conn.Close()
		return err
	}
	h.metrics.IncrementConnections()

	if h.onConnect != nil {
		h.onConnect(client)
	}
	h.events.Publish(Event{
		Type:     EventClientConnected,
		ClientID: client.ID,
		UserID:   identity.ID,
		Time:     time.Now(),
	})

	go func() {
		defer h.wg.Done()
		client.run()
	}()
	return nil
}

// Shutdown 关闭所有连接并等待协程退出
func (h *Hub) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	h.closed = true
	h.cancel()
	h.mu.Unlock()

	for _, c := range h.pool.Snapshot() {
		c.Close()
	}
	h.events.Close()

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// encode 编码事件，失败时记录日志
func (h *Hub) encode(ev chat.Event) ([]byte, bool) {
	data, err := encodeNotify(ev.Name, ev.Payload)
	if err != nil {
		h.log.Error("encode event failed", zap.String("event", ev.Name), zap.Error(err))
		return nil, false
	}
	return data, true
}

func (h *Hub) deliver(c *Client, data []byte) {
	if err := c.SendBytes(data); err != nil {
		h.metrics.IncrementDroppedMessages()
		if errors.Is(err, ErrChannelFull) {
			h.log.WarnContext(c.ctx, "send queue full, frame dropped")
		}
	}
}

// SendTo 发送给单个连接
func (h *Hub) SendTo(connID string, ev chat.Event) {
	c, ok := h.pool.Get(connID)
	if !ok {
		return
	}
	if data, ok := h.encode(ev); ok {
		h.deliver(c, data)
	}
}

// SendToRoom 发送给房间订阅者
func (h *Hub) SendToRoom(room string, ev chat.Event, exclude ...string) {
	members := h.subs.Members(room)
	if len(members) == 0 {
		return
	}
	data, ok := h.encode(ev)
	if !ok {
		return
	}

	skip := make(map[string]struct{}, len(exclude))
	for _, id := range exclude {
		skip[id] = struct{}{}
	}
	for _, c := range members {
		if _, excluded := skip[c.ID]; !excluded {
			h.deliver(c, data)
		}
	}
}

// SendToAll 发送给所有连接
func (h *Hub) SendToAll(ev chat.Event) {
	data, ok := h.encode(ev)
	if !ok {
		return
	}
	for _, c := range h.pool.Snapshot() {
		h.deliver(c, data)
	}
}

// Subscribe 将连接加入房间投递组，已关闭的连接忽略
func (h *Hub) Subscribe(connID, room string) {
	c, ok := h.pool.Get(connID)
	if !ok {
		return
	}
	h.subs.Add(room, c)
	// 与 Close 竞争时，由这里补偿移除
	if c.IsClosed() {
		h.subs.Remove(room, c.ID)
	}
}

// Unsubscribe 将连接移出房间投递组
func (h *Hub) Unsubscribe(connID, room string) {
	h.subs.Remove(room, connID)
}

// Client 获取连接
func (h *Hub) Client(connID string) (*Client, bool) {
	return h.pool.Get(connID)
}

// Stats 连接统计
type Stats struct {
	Connections   int   `json:"connections"`
	Users         int   `json:"users"`
	Rooms         int   `json:"rooms"`
	DroppedEvents int64 `json:"droppedEvents"`
}

// Stats 当前统计
func (h *Hub) Stats() Stats {
	return Stats{
		Connections:   h.pool.Count(),
		Users:         h.pool.UserCount(),
		Rooms:         h.subs.Count(),
		DroppedEvents: h.events.DroppedEvents(),
	}
}

// setupEventHandlers 连接层事件只用于日志与指标
func (h *Hub) setupEventHandlers() {
	h.events.Subscribe(EventClientConnected, func(e Event) {
		h.log.Info("client connected", zap.String("conn_id", e.ClientID), zap.String("user_id", e.UserID))
	})
	h.events.Subscribe(EventClientDisconnected, func(e Event) {
		h.log.Info("client disconnected", zap.String("conn_id", e.ClientID), zap.String("user_id", e.UserID))
	})
	h.events.Subscribe(EventCommandReceived, func(e Event) {
		h.metrics.IncrementMessageCount(e.Command)
	})
}
