// Package gateway 把 WebSocket 命令与 HTTP 接口接到聊天会话上
package gateway

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/tokmz/relay/pkg/auth"
	"github.com/tokmz/relay/pkg/chat"
	"github.com/tokmz/relay/pkg/logger"
	"github.com/tokmz/relay/pkg/ws"
)

// History 历史消息查询
type History interface {
	Recent(ctx context.Context, room string, limit int) ([]chat.Message, error)
}

// ArchiveStats 归档统计
type ArchiveStats interface {
	Written() int64
	Dropped() int64
}

// Config 网关配置
type Config struct {
	AppName     string `mapstructure:"app_name"`
	Environment string `mapstructure:"environment"`

	// SecureCookie 签发的 token Cookie 是否只走 HTTPS
	SecureCookie bool `mapstructure:"secure_cookie"`

	// HandshakeRate 每个 IP 每秒允许的握手与签发次数
	HandshakeRate  float64 `mapstructure:"handshake_rate"`
	HandshakeBurst int     `mapstructure:"handshake_burst"`

	// AllowOrigins REST 接口的 CORS 白名单
	AllowOrigins []string `mapstructure:"allow_origins"`
}

// Gateway 网关
type Gateway struct {
	cfg      Config
	hub      *ws.Hub
	manager  *chat.Manager
	auth     *auth.Authenticator
	history  History
	counters *ws.Counters
	log      logger.Logger
	started  time.Time
}

// Option 网关选项
type Option func(*Gateway)

// WithHistory 历史消息来源，未设置时从房间快照读取
func WithHistory(h History) Option {
	return func(g *Gateway) {
		g.history = h
	}
}

// WithCounters 健康检查中展示的连接层计数
func WithCounters(c *ws.Counters) Option {
	return func(g *Gateway) {
		g.counters = c
	}
}

// WithLogger 设置日志
func WithLogger(l logger.Logger) Option {
	return func(g *Gateway) {
		g.log = l
	}
}

// New 创建网关，注册命令处理器与连接生命周期回调
func New(cfg Config, hub *ws.Hub, manager *chat.Manager, authn *auth.Authenticator, opts ...Option) (*Gateway, error) {
	if cfg.AppName == "" {
		cfg.AppName = "relay"
	}
	if cfg.Environment == "" {
		cfg.Environment = "development"
	}

	g := &Gateway{
		cfg:     cfg,
		hub:     hub,
		manager: manager,
		auth:    authn,
		log:     logger.NewNop(),
		started: time.Now(),
	}
	for _, opt := range opts {
		opt(g)
	}
	g.log = g.log.Named("gateway")

	hub.OnConnect(g.onConnect)
	hub.OnDisconnect(g.onDisconnect)
	if err := g.registerCommands(); err != nil {
		return nil, err
	}
	return g, nil
}

func (g *Gateway) onConnect(c *ws.Client) {
	g.manager.Open(c.ID, c.Identity)
}

func (g *Gateway) onDisconnect(c *ws.Client) {
	g.manager.Disconnect(c.ID)
	g.log.Debug("session cleaned up", zap.String("conn_id", c.ID), zap.Int("sessions", g.manager.Count()))
}
