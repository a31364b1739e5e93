package errors

import "net/http"

/*
	内置常用错误码
*/

var (
	// ErrServer 服务器错误
	ErrServer = New(1000, "Internal Server Error", http.StatusInternalServerError)
	// ErrBadRequest 客户端请求错误
	ErrBadRequest = New(1001, "Bad Request", http.StatusBadRequest)
	// ErrUnauthorized 未授权
	ErrUnauthorized = New(1002, "Unauthorized", http.StatusUnauthorized)
	// ErrForbidden 禁止访问
	ErrForbidden = New(1003, "Forbidden", http.StatusForbidden)
	// ErrNotFound 资源不存在
	ErrNotFound = New(1004, "Not Found", http.StatusNotFound)
)
