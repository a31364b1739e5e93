package ws

import "errors"

// 错误定义
var (
	// 连接相关错误
	ErrTooManyConnections = errors.New("ws: too many connections")
	ErrClientIDExists     = errors.New("ws: client id already exists")
	ErrConnectionClosed   = errors.New("ws: connection closed")
	ErrOriginNotAllowed   = errors.New("ws: origin not allowed")
	ErrHubClosed          = errors.New("ws: hub closed")

	// 消息相关错误
	ErrHandlerNotFound = errors.New("ws: handler not found")
	ErrHandlerExists   = errors.New("ws: handler already exists")
	ErrInvalidMessage  = errors.New("ws: invalid message format")
	ErrChannelFull     = errors.New("ws: send channel full")
	ErrRouterFrozen    = errors.New("ws: router is frozen")

	// 配置相关错误
	ErrInvalidConfig = errors.New("ws: invalid config")
)
