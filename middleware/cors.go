package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/tokmz/relay"
)

// CORSConfig CORS 中间件配置
type CORSConfig struct {
	// AllowOrigins 允许的源，支持 "*" 和 "https://*.example.com"
	AllowOrigins []string

	AllowMethods []string
	AllowHeaders []string

	// AllowCredentials 为 true 时不能与 "*" 同时使用，token Cookie 需要它
	AllowCredentials bool

	MaxAge time.Duration
}

// DefaultCORSConfig 默认配置（允许所有源，不携带凭证）
func DefaultCORSConfig() *CORSConfig {
	return &CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{"Origin", "Content-Type", "Accept", "Authorization", "X-User-Id", "X-User-Name"},
		MaxAge:       12 * time.Hour,
	}
}

// originMatcher 精确匹配加单个通配符匹配
type originMatcher struct {
	any       bool
	exact     map[string]bool
	wildcards [][2]string
}

func newOriginMatcher(origins []string) *originMatcher {
	m := &originMatcher{exact: make(map[string]bool)}
	for _, origin := range origins {
		if origin == "*" {
			m.any = true
			continue
		}
		if prefix, suffix, ok := strings.Cut(origin, "*"); ok {
			m.wildcards = append(m.wildcards, [2]string{prefix, suffix})
			continue
		}
		m.exact[origin] = true
	}
	return m
}

func (m *originMatcher) match(origin string) bool {
	if m.any || m.exact[origin] {
		return true
	}
	for _, w := range m.wildcards {
		// 通配部分不能为空
		if len(origin) > len(w[0])+len(w[1]) && strings.HasPrefix(origin, w[0]) && strings.HasSuffix(origin, w[1]) {
			return true
		}
	}
	return false
}

// CORS 创建 CORS 中间件
func CORS(cfgs ...*CORSConfig) relay.HandlerFunc {
	cfg := DefaultCORSConfig()
	if len(cfgs) > 0 && cfgs[0] != nil {
		cfg = cfgs[0]
	}

	matcher := newOriginMatcher(cfg.AllowOrigins)
	if cfg.AllowCredentials && matcher.any {
		panic("relay/middleware: CORS AllowCredentials cannot be used with AllowOrigins [\"*\"]")
	}
	allowMethods := strings.Join(cfg.AllowMethods, ", ")
	allowHeaders := strings.Join(cfg.AllowHeaders, ", ")
	maxAge := strconv.Itoa(int(cfg.MaxAge.Seconds()))

	return func(c *relay.Context) {
		origin := c.GetHeader("Origin")
		if origin == "" || !matcher.match(origin) {
			c.Next()
			return
		}

		if matcher.any {
			c.Header("Access-Control-Allow-Origin", "*")
		} else {
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Vary", "Origin")
		}
		if cfg.AllowCredentials {
			c.Header("Access-Control-Allow-Credentials", "true")
		}

		if c.Request().Method == http.MethodOptions {
			c.Header("Access-Control-Allow-Methods", allowMethods)
			c.Header("Access-Control-Allow-Headers", allowHeaders)
			c.Header("Access-Control-Max-Age", maxAge)
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
