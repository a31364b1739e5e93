package relay

import (
	"errors"
	"net"
	"net/http"
	"os"
	"runtime/debug"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/tokmz/relay/pkg/logger"
)

// LoggerConfig 访问日志配置
type LoggerConfig struct {
	// SkipFunc 返回 true 时不记录
	SkipFunc func(c *Context) bool

	// ExcludePaths 不记录的路径，如健康检查
	ExcludePaths []string
}

// Logger 访问日志中间件，按状态码选择日志级别
func Logger(log logger.Logger, cfgs ...*LoggerConfig) HandlerFunc {
	cfg := &LoggerConfig{}
	if len(cfgs) > 0 && cfgs[0] != nil {
		cfg = cfgs[0]
	}

	skip := make(map[string]bool, len(cfg.ExcludePaths))
	for _, path := range cfg.ExcludePaths {
		skip[path] = true
	}

	return func(c *Context) {
		if skip[c.Request().URL.Path] || (cfg.SkipFunc != nil && cfg.SkipFunc(c)) {
			c.Next()
			return
		}

		start := time.Now()
		path := c.Request().URL.Path

		c.Next()

		status := c.Writer().Status()
		fields := []zap.Field{
			zap.String("method", c.Request().Method),
			zap.String("path", path),
			zap.Int("status", status),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		}

		ctx := c.RequestContext()
		switch {
		case status >= http.StatusInternalServerError:
			log.ErrorContext(ctx, "request", fields...)
		case status >= http.StatusBadRequest:
			log.WarnContext(ctx, "request", fields...)
		default:
			log.InfoContext(ctx, "request", fields...)
		}
	}
}

// Recovery panic 恢复中间件，返回统一的 500 响应
func Recovery(log logger.Logger) HandlerFunc {
	if log == nil {
		log = logger.NewNop()
	}

	return func(c *Context) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}

			// 客户端已断开，无法再写响应
			if isBrokenPipe(rec) {
				log.Warn("broken pipe", zap.Any("error", rec), zap.String("path", c.Request().URL.Path))
				c.Abort()
				return
			}

			log.Error("panic recovered",
				zap.Any("error", rec),
				zap.String("method", c.Request().Method),
				zap.String("path", c.Request().URL.Path),
				zap.String("client_ip", c.ClientIP()),
				zap.String("stack", string(debug.Stack())),
			)
			c.Fail(http.StatusInternalServerError, "Internal Server Error")
			c.Abort()
		}()
		c.Next()
	}
}

func isBrokenPipe(rec any) bool {
	err, ok := rec.(error)
	if !ok {
		return false
	}
	if errors.Is(err, syscall.EPIPE) || errors.Is(err, syscall.ECONNRESET) {
		return true
	}
	var ne *net.OpError
	if !errors.As(err, &ne) {
		return false
	}
	var se *os.SyscallError
	if !errors.As(ne.Err, &se) {
		return false
	}
	msg := strings.ToLower(se.Error())
	return strings.Contains(msg, "broken pipe") || strings.Contains(msg, "connection reset by peer")
}
