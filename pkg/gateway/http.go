package gateway

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/tokmz/relay"
	"github.com/tokmz/relay/middleware"
	"github.com/tokmz/relay/pkg/archive"
	"github.com/tokmz/relay/pkg/auth"
	"github.com/tokmz/relay/pkg/chat"
	"github.com/tokmz/relay/pkg/errors"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
)

// RoomList 房间列表
type RoomList struct {
	Rooms []*chat.Room `json:"rooms"`
	Total int          `json:"total"`
}

// RoomPath 房间路径参数
type RoomPath struct {
	Name string `uri:"name" binding:"required"`
}

// HistoryRequest 历史消息请求
type HistoryRequest struct {
	Name  string `uri:"name" binding:"required"`
	Limit int    `form:"limit" binding:"omitempty,min=1,max=500"`
}

// HistoryResponse 历史消息
type HistoryResponse struct {
	Room     string         `json:"room"`
	Messages []chat.Message `json:"messages"`
}

// TokenRequest 开发环境签发令牌
type TokenRequest struct {
	ID   string `json:"id" binding:"required,max=64"`
	Name string `json:"name" binding:"max=64"`
}

// TokenResponse 签发结果
type TokenResponse struct {
	Token     string `json:"token"`
	ID        string `json:"id"`
	Name      string `json:"name,omitempty"`
	ExpiresIn int64  `json:"expiresIn"`
}

// Mount 挂载 WebSocket 与 REST 路由
func (g *Gateway) Mount(rg *relay.RouterGroup) {
	limit := middleware.RateLimiter(middleware.RateLimiterConfig{
		RequestsPerSecond: g.cfg.HandshakeRate,
		Burst:             g.cfg.HandshakeBurst,
		Logger:            g.log,
	})

	rg.GET("/ws", g.upgrade, limit)

	api := rg.Group("/api")
	api.GET("/health", g.health)
	relay.Handle(api.POST, "/auth/token", g.issueToken, limit)

	rooms := api.Group("/rooms", g.requireToken)
	relay.HandleOnly(rooms.GET, "", g.listRooms)
	relay.Handle(rooms.GET, "/:name", g.room)
	relay.Handle(rooms.GET, "/:name/messages", g.messages)
}

// requireToken 房间查询需要有效令牌（cookie 或 Bearer），REST 请求没有声明身份可比对
func (g *Gateway) requireToken(c *relay.Context) {
	id, err := g.auth.VerifyToken(auth.TokenFromRequest(c.Request()))
	if err != nil {
		g.log.WarnContext(c.RequestContext(), "rest request rejected",
			zap.String("path", c.Request().URL.Path), zap.Error(err))
		c.RespondError(err)
		c.Abort()
		return
	}
	relay.SetContextUserID(c, id.ID)
	c.Next()
}

// upgrade 认证失败时 Hub 已写入 401，这里只记录
func (g *Gateway) upgrade(c *relay.Context) {
	if err := g.hub.HandleUpgrade(c.Writer(), c.Request()); err != nil {
		g.log.DebugContext(c.RequestContext(), "upgrade failed", zap.Error(err))
	}
}

func (g *Gateway) health(c *relay.Context) {
	stats := g.hub.Stats()
	body := map[string]any{
		"message":     "Server is running!",
		"environment": g.cfg.Environment,
		"appName":     g.cfg.AppName,
		"timestamp":   time.Now().UTC().Format(time.RFC3339),
		"uptime":      int64(time.Since(g.started).Seconds()),
		"socketIO":    "enabled",
		"connections": stats.Connections,
		"users":       stats.Users,
		"rooms":       g.manager.Registry().RoomCount(),
		"sessions":    g.manager.Count(),
	}
	if g.counters != nil {
		body["counters"] = g.counters.Snapshot()
	}
	if s, ok := g.history.(ArchiveStats); ok {
		body["archive"] = map[string]int64{
			"written": s.Written(),
			"dropped": s.Dropped(),
		}
	}
	c.JSON(http.StatusOK, body)
}

func (g *Gateway) listRooms(c *relay.Context) (*RoomList, error) {
	rooms := g.manager.Registry().ListRooms()
	return &RoomList{Rooms: rooms, Total: len(rooms)}, nil
}

func (g *Gateway) room(c *relay.Context, req *RoomPath) (*chat.Room, error) {
	room, ok := g.manager.Registry().Room(req.Name)
	if !ok {
		return nil, chat.ErrRoomNotFound
	}
	return room, nil
}

// messages 优先读取归档，没有可读归档时返回房间快照中的最近消息
func (g *Gateway) messages(c *relay.Context, req *HistoryRequest) (*HistoryResponse, error) {
	limit := req.Limit
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	limit = min(limit, maxHistoryLimit)

	room, live := g.manager.Registry().Room(req.Name)
	if g.history != nil {
		msgs, err := g.history.Recent(c.RequestContext(), req.Name, limit)
		switch {
		case err == nil:
			if len(msgs) == 0 && !live {
				return nil, chat.ErrRoomNotFound
			}
			return &HistoryResponse{Room: req.Name, Messages: nonNil(msgs)}, nil
		case !errors.Is(err, archive.ErrNoReader):
			g.log.WarnContext(c.RequestContext(), "read history failed", zap.String("room", req.Name), zap.Error(err))
		}
	}

	if !live {
		return nil, chat.ErrRoomNotFound
	}
	msgs := room.Messages
	if len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return &HistoryResponse{Room: req.Name, Messages: nonNil(msgs)}, nil
}

func (g *Gateway) issueToken(c *relay.Context, req *TokenRequest) (*TokenResponse, error) {
	if !g.auth.DevTokens() {
		return nil, errors.ErrNotFound
	}
	token, err := g.auth.Issue(req.ID, req.Name)
	if err != nil {
		return nil, err
	}
	ttl := g.auth.TTL()
	c.SetCookie(auth.CookieName, token, int(ttl.Seconds()), g.cfg.SecureCookie)
	g.log.InfoContext(c.RequestContext(), "dev token issued", zap.String("user_id", req.ID))
	return &TokenResponse{
		Token:     token,
		ID:        req.ID,
		Name:      req.Name,
		ExpiresIn: int64(ttl.Seconds()),
	}, nil
}

func nonNil(msgs []chat.Message) []chat.Message {
	if msgs == nil {
		return []chat.Message{}
	}
	return msgs
}
