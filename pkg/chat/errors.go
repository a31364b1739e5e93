package chat

import (
	"net/http"

	"github.com/tokmz/relay/pkg/errors"
)

// 聊天业务错误码 4xxx
var (
	ErrValidationFailed     = errors.New(4000, "Invalid payload", http.StatusBadRequest)
	ErrAuthenticationFailed = errors.New(4001, "Authentication error", http.StatusUnauthorized)
	ErrUnauthorized         = errors.New(4003, "Unauthorized: User ID mismatch", http.StatusForbidden)
	ErrRoomNotFound         = errors.New(4004, "Room not found", http.StatusNotFound)
	ErrRoomExists           = errors.New(4009, "Room already exists", http.StatusConflict)

	// ErrSessionClosed 会话已终止，不再处理命令
	ErrSessionClosed = errors.New(4010, "Session closed", http.StatusGone)
)
