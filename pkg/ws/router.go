package ws

import (
	"context"
	"sync"
)

// Handler 命令处理器
type Handler func(ctx context.Context, c *Client, msg *Message) error

// NextFunc 中间件下一步函数
type NextFunc func(ctx context.Context) error

// MiddlewareFunc 中间件函数
type MiddlewareFunc func(ctx context.Context, c *Client, msg *Message, next NextFunc) error

// Router 命令路由器
type Router struct {
	handlers   map[string]Handler
	middleware []MiddlewareFunc
	compiled   map[string]Handler // 冻结后预编译的处理器链
	mu         sync.RWMutex
	frozen     bool
}

// NewRouter 创建路由器
func NewRouter() *Router {
	return &Router{
		handlers: make(map[string]Handler),
	}
}

// Register 注册处理器
func (r *Router) Register(event string, handler Handler) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen {
		return ErrRouterFrozen
	}
	if _, exists := r.handlers[event]; exists {
		return ErrHandlerExists
	}
	r.handlers[event] = handler
	return nil
}

// Use 添加中间件
func (r *Router) Use(middleware ...MiddlewareFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.middleware = append(r.middleware, middleware...)
}

// Freeze 冻结路由器，之后不能再注册
func (r *Router) Freeze() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen {
		return
	}
	r.frozen = true
	r.compiled = make(map[string]Handler, len(r.handlers))
	for event, handler := range r.handlers {
		r.compiled[event] = chain(r.middleware, handler)
	}
}

// chain 从后向前包装中间件
func chain(middleware []MiddlewareFunc, handler Handler) Handler {
	final := handler
	for i := len(middleware) - 1; i >= 0; i-- {
		mw, next := middleware[i], final
		final = func(ctx context.Context, c *Client, m *Message) error {
			return mw(ctx, c, m, func(ctx context.Context) error {
				return next(ctx, c, m)
			})
		}
	}
	return final
}

// Route 路由消息
func (r *Router) Route(ctx context.Context, c *Client, msg *Message) error {
	r.mu.RLock()
	if r.frozen {
		handler, ok := r.compiled[msg.Event]
		r.mu.RUnlock()
		if !ok {
			return ErrHandlerNotFound
		}
		return handler(ctx, c, msg)
	}

	handler, ok := r.handlers[msg.Event]
	middleware := r.middleware
	r.mu.RUnlock()
	if !ok {
		return ErrHandlerNotFound
	}
	return chain(middleware, handler)(ctx, c, msg)
}

// HandlerFunc 泛型处理器（自动解析 data）
type HandlerFunc[Req any] func(ctx context.Context, c *Client, req *Req) error

// Handle 注册泛型处理器，data 解析失败返回 ErrInvalidMessage
func Handle[Req any](router *Router, event string, handler HandlerFunc[Req]) error {
	return router.Register(event, func(ctx context.Context, c *Client, msg *Message) error {
		var req Req
		if err := msg.Unmarshal(&req); err != nil {
			return ErrInvalidMessage
		}
		return handler(ctx, c, &req)
	})
}
