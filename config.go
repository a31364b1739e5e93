package relay

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tokmz/relay/pkg/logger"
)

// ServerConfig HTTP 服务配置
type ServerConfig struct {
	// Addr 监听地址，默认 ":4000"
	Addr string `mapstructure:"addr"`

	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	IdleTimeout    time.Duration `mapstructure:"idle_timeout"`
	MaxHeaderBytes int           `mapstructure:"max_header_bytes"`
}

// ShutdownConfig 关机配置
type ShutdownConfig struct {
	// Timeout 关机超时时间，默认 10 秒
	Timeout time.Duration `mapstructure:"timeout"`

	// BeforeShutdown 在关闭监听之前调用，用于断开长连接
	BeforeShutdown func(ctx context.Context) `mapstructure:"-"`

	// AfterShutdown 在服务器退出之后调用
	AfterShutdown func() `mapstructure:"-"`
}

// Config 引擎配置
type Config struct {
	// AppName 应用名称，出现在 banner 与健康检查中
	AppName string `mapstructure:"app_name"`

	// Mode 运行模式：debug, release, test
	Mode string `mapstructure:"mode"`

	Server   ServerConfig   `mapstructure:"server"`
	Shutdown ShutdownConfig `mapstructure:"shutdown"`

	TrustedProxies []string `mapstructure:"trusted_proxies"`

	// Banner 启动时打印 banner 与路由表
	Banner bool `mapstructure:"banner"`

	Logger logger.Logger `mapstructure:"-"`
}

// Option 配置选项函数
type Option func(*Config)

func defaultConfig() *Config {
	return &Config{
		AppName: "relay",
		Mode:    gin.ReleaseMode,
		Server: ServerConfig{
			Addr: ":4000",
			// WebSocket 连接由读写协程自行设置截止时间
			ReadTimeout:    0,
			WriteTimeout:   0,
			IdleTimeout:    120 * time.Second,
			MaxHeaderBytes: 1 << 20,
		},
		Shutdown: ShutdownConfig{
			Timeout: 10 * time.Second,
		},
		Banner: true,
	}
}

// WithConfig 使用完整配置，后续选项仍可覆盖
func WithConfig(cfg Config) Option {
	return func(c *Config) {
		prev := *c
		*c = cfg
		if c.Shutdown.BeforeShutdown == nil {
			c.Shutdown.BeforeShutdown = prev.Shutdown.BeforeShutdown
		}
		if c.Shutdown.AfterShutdown == nil {
			c.Shutdown.AfterShutdown = prev.Shutdown.AfterShutdown
		}
		if c.Logger == nil {
			c.Logger = prev.Logger
		}
	}
}

// WithAppName 设置应用名称
func WithAppName(name string) Option {
	return func(c *Config) {
		c.AppName = name
	}
}

// WithMode 设置运行模式
func WithMode(mode string) Option {
	return func(c *Config) {
		c.Mode = mode
	}
}

// WithAddr 设置监听地址
func WithAddr(addr string) Option {
	return func(c *Config) {
		c.Server.Addr = addr
	}
}

// WithReadTimeout 设置读取超时
func WithReadTimeout(timeout time.Duration) Option {
	return func(c *Config) {
		c.Server.ReadTimeout = timeout
	}
}

// WithIdleTimeout 设置空闲超时
func WithIdleTimeout(timeout time.Duration) Option {
	return func(c *Config) {
		c.Server.IdleTimeout = timeout
	}
}

// WithShutdownTimeout 设置关机超时时间
func WithShutdownTimeout(timeout time.Duration) Option {
	return func(c *Config) {
		c.Shutdown.Timeout = timeout
	}
}

// WithBeforeShutdown 设置关机前回调
func WithBeforeShutdown(fn func(ctx context.Context)) Option {
	return func(c *Config) {
		c.Shutdown.BeforeShutdown = fn
	}
}

// WithAfterShutdown 设置关机后回调
func WithAfterShutdown(fn func()) Option {
	return func(c *Config) {
		c.Shutdown.AfterShutdown = fn
	}
}

// WithTrustedProxies 设置信任的代理
func WithTrustedProxies(proxies ...string) Option {
	return func(c *Config) {
		c.TrustedProxies = proxies
	}
}

// WithBanner 是否打印启动 banner
func WithBanner(enable bool) Option {
	return func(c *Config) {
		c.Banner = enable
	}
}

// WithLogger 设置引擎日志
func WithLogger(l logger.Logger) Option {
	return func(c *Config) {
		c.Logger = l
	}
}
