package ws

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/tokmz/relay/pkg/chat"
	"github.com/tokmz/relay/pkg/errors"
	"github.com/tokmz/relay/pkg/logger"
)

// Client 单个 WebSocket 连接
type Client struct {
	ID       string
	Identity chat.Identity // 握手时认证的身份，连接生命周期内不变

	conn *websocket.Conn
	hub  *Hub

	// 发送队列，所有帧按入队顺序写出
	send chan []byte

	rooms sync.Map // room -> struct{}

	lastPong atomic.Int64 // Unix timestamp

	// 生命周期
	ctx       context.Context
	cancel    context.CancelFunc
	closed    atomic.Bool
	closeOnce sync.Once

	invalidMsgCount atomic.Int32
}

func newClient(conn *websocket.Conn, hub *Hub, id string, identity chat.Identity) *Client {
	ctx, cancel := context.WithCancel(hub.ctx)
	ctx = logger.WithConnID(ctx, id)
	ctx = logger.WithUserID(ctx, identity.ID)

	c := &Client{
		ID:       id,
		Identity: identity,
		conn:     conn,
		hub:      hub,
		send:     make(chan []byte, hub.config.MessageQueueSize),
		ctx:      ctx,
		cancel:   cancel,
	}
	c.lastPong.Store(time.Now().Unix())
	return c
}

// Context 连接上下文，携带 conn_id / user_id，连接关闭时取消
func (c *Client) Context() context.Context {
	return c.ctx
}

// run 启动读写协程，任一退出后关闭连接
func (c *Client) run() {
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		c.readPump()
	}()
	go func() {
		defer wg.Done()
		c.writePump()
	}()
	wg.Wait()
	c.Close()
}

// readPump 读取命令帧
//
// 同一连接的命令在该协程中依次执行，保证处理顺序与接收顺序一致。
func (c *Client) readPump() {
	defer c.Close()

	cfg := c.hub.config
	c.conn.SetReadLimit(cfg.MaxMessageSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(cfg.HeartbeatTimeout)); err != nil {
		return
	}
	c.conn.SetPongHandler(func(string) error {
		c.lastPong.Store(time.Now().Unix())
		return c.conn.SetReadDeadline(time.Now().Add(cfg.HeartbeatTimeout))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.log.DebugContext(c.ctx, "connection closed unexpectedly", zap.Error(err))
			}
			return
		}

		msg, err := parseMessage(data)
		if err != nil {
			c.hub.metrics.IncrementInvalidMessages()
			if c.invalidMsgCount.Add(1) > cfg.MaxInvalidMessages {
				c.hub.log.WarnContext(c.ctx, "too many invalid frames, closing")
				return
			}
			c.fail(chat.ErrValidationFailed.WithMessage("Invalid message format"))
			continue
		}
		c.invalidMsgCount.Store(0)

		c.hub.events.Publish(Event{
			Type:     EventCommandReceived,
			ClientID: c.ID,
			UserID:   c.Identity.ID,
			Command:  msg.Event,
			Time:     time.Now(),
		})

		if err := c.hub.router.Route(c.ctx, c, msg); err != nil {
			switch {
			case errors.Is(err, ErrHandlerNotFound):
				c.fail(chat.ErrValidationFailed.WithMessagef("Unknown event: %s", msg.Event))
			case errors.Is(err, ErrInvalidMessage):
				c.fail(chat.ErrValidationFailed)
			default:
				// 业务错误已由处理器回送给客户端
				c.hub.log.DebugContext(c.ctx, "command failed", zap.String("event", msg.Event), zap.Error(err))
			}
		}
	}
}

// writePump 写出队列中的帧并定时 ping
func (c *Client) writePump() {
	ticker := time.NewTicker(c.hub.config.HeartbeatInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-c.ctx.Done():
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(c.hub.config.WriteWait))
			return

		case message := <-c.send:
			if err := c.write(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) write(messageType int, data []byte) error {
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.hub.config.WriteWait)); err != nil {
		return err
	}
	if err := c.conn.WriteMessage(messageType, data); err != nil {
		c.hub.metrics.IncrementWriteErrors()
		return err
	}
	return nil
}

// SendBytes 发送帧（非阻塞，队列满返回 ErrChannelFull）
func (c *Client) SendBytes(msg []byte) error {
	if c.closed.Load() {
		return ErrConnectionClosed
	}
	select {
	case c.send <- msg:
		return nil
	default:
		return ErrChannelFull
	}
}

// fail 回送连接层错误
//
// 与业务事件共用同一发送队列，保证同一连接收到的帧保持调用顺序。
func (c *Client) fail(err *errors.Error) {
	data, encErr := encodeNotify(chat.EventError, chat.ErrorPayload{Message: err.Message, Code: err.Code})
	if encErr != nil {
		return
	}
	if c.SendBytes(data) != nil {
		c.hub.metrics.IncrementDroppedMessages()
	}
}

// Close 关闭连接，只执行一次
//
// 发送通道不关闭，避免与并发的 SendBytes 竞争；writePump 通过 ctx 退出。
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		c.cancel()

		c.hub.pool.Remove(c.ID)
		c.hub.subs.RemoveClient(c)
		c.conn.Close()

		c.hub.metrics.DecrementConnections()
		if c.hub.onDisconnect != nil {
			c.hub.onDisconnect(c)
		}
		c.hub.events.Publish(Event{
			Type:     EventClientDisconnected,
			ClientID: c.ID,
			UserID:   c.Identity.ID,
			Time:     time.Now(),
		})
	})
}

// IsClosed 是否已关闭
func (c *Client) IsClosed() bool {
	return c.closed.Load()
}

// Rooms 当前订阅的房间
func (c *Client) Rooms() []string {
	rooms := make([]string, 0, 1)
	c.rooms.Range(func(key, _ any) bool {
		if room, ok := key.(string); ok {
			rooms = append(rooms, room)
		}
		return true
	})
	return rooms
}

// RemoteAddr 远程地址
func (c *Client) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}
