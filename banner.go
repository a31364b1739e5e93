package relay

import (
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"

	"github.com/gin-gonic/gin"
)

// Version 服务版本号
const Version = "1.0.0"

const banner = `
 ┬─┐┌─┐┬  ┌─┐┬ ┬   %s
 ├┬┘├┤ │  ├─┤└┬┘   real-time chat relay
 ┴└─└─┘┴─┘┴ ┴ ┴    open: %s  version: %s
`

// printBanner 打印启动 banner 和路由表
func (e *Engine) printBanner(addr string) {
	out := os.Stdout

	var open string
	switch {
	case strings.HasPrefix(addr, ":"):
		open = "http://127.0.0.1" + addr
	case strings.HasPrefix(addr, "[::]:"):
		open = "http://127.0.0.1:" + strings.TrimPrefix(addr, "[::]:")
	default:
		open = "http://" + addr
	}

	fPrint(out, banner, e.config.AppName, open, Version)
	fPrint(out, "\n")

	if routes := e.engine.Routes(); len(routes) > 0 {
		printRoutes(out, routes)
		fPrint(out, "\n")
	}

	fPrint(out, "[relay] mode: %s | Go version: %s | OS: %s/%s\n", e.config.Mode, runtime.Version(), runtime.GOOS, runtime.GOARCH)
}

// methodColor 根据 HTTP 方法返回 ANSI 颜色码
func methodColor(method string) string {
	switch method {
	case "GET":
		return "\033[34m"
	case "POST":
		return "\033[32m"
	case "DELETE":
		return "\033[31m"
	default:
		return "\033[0m"
	}
}

const resetColor = "\033[0m"

// printRoutes 按路径列宽对齐打印路由表
func printRoutes(out io.Writer, routes gin.RoutesInfo) {
	width := 0
	for _, r := range routes {
		width = max(width, len(r.Path))
	}
	for _, r := range routes {
		fPrint(out, "[relay] %s%-7s%s %-*s\n", methodColor(r.Method), r.Method, resetColor, width, r.Path)
	}
}

// silenceGin 静默 gin 的默认输出
func silenceGin() {
	gin.DefaultWriter = io.Discard
	gin.DefaultErrorWriter = io.Discard
}

// fPrint 打印到 writer，忽略错误
func fPrint(out io.Writer, format string, a ...any) {
	_, _ = fmt.Fprintf(out, format, a...)
}
