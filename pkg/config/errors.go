package config

import (
	"net/http"

	"github.com/tokmz/relay/pkg/errors"
)

// 配置包专用错误定义
var (
	// ErrConfigNotFound 配置文件未找到
	ErrConfigNotFound = errors.New(3001, "config file not found", http.StatusInternalServerError)
	// ErrConfigReadFailed 配置读取失败
	ErrConfigReadFailed = errors.New(3003, "config read failed", http.StatusInternalServerError)
)
