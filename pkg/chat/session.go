package chat

import (
	"context"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/tokmz/relay/pkg/errors"
	"github.com/tokmz/relay/pkg/logger"
)

// RoomRequest create-room / join-room / leave-room 请求
type RoomRequest struct {
	RoomName string `json:"roomName" validate:"required,max=64"`
	UserID   string `json:"userId"`
	UserName string `json:"userName" validate:"max=64"`
}

// MessageRequest send-message 请求
type MessageRequest struct {
	RoomName string `json:"roomName" validate:"required,max=64"`
	Message  string `json:"message" validate:"required,max=2000"`
	UserID   string `json:"userId"`
	UserName string `json:"userName" validate:"max=64"`
}

// Manager 会话生命周期管理
type Manager struct {
	reg      *Registry
	bc       Broadcaster
	log      logger.Logger
	validate *validator.Validate

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewManager 创建会话管理器
func NewManager(reg *Registry, bc Broadcaster, log logger.Logger) *Manager {
	if log == nil {
		log = logger.NewNop()
	}
	return &Manager{
		reg:      reg,
		bc:       bc,
		log:      log.Named("session"),
		validate: newValidator(),
		sessions: make(map[string]*Session),
	}
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Open 认证通过后为连接创建会话
func (m *Manager) Open(connID string, id Identity) *Session {
	s := &Session{m: m, connID: connID, identity: id}

	m.mu.Lock()
	m.sessions[connID] = s
	m.mu.Unlock()

	m.log.Debug("session opened", zap.String("conn_id", connID), zap.String("user_id", id.ID))
	return s
}

// Session 获取连接的会话
func (m *Manager) Session(connID string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[connID]
	return s, ok
}

// Count 活跃会话数
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Disconnect 按连接 ID 断开会话，未知连接忽略
func (m *Manager) Disconnect(connID string) {
	if s, ok := m.Session(connID); ok {
		s.Disconnect()
	}
}

// Registry 底层注册表
func (m *Manager) Registry() *Registry {
	return m.reg
}

// report 将错误直接回送给调用方
func (m *Manager) report(connID string, err error) {
	e := errors.From(err)
	name := EventError
	switch {
	case errors.Is(err, ErrRoomExists):
		name = EventRoomExists
	case errors.Is(err, ErrRoomNotFound):
		name = EventRoomNotFound
	}
	m.bc.SendTo(connID, Event{Name: name, Payload: ErrorPayload{Message: e.Message, Code: e.Code}})
}

func (m *Manager) check(req any) error {
	err := m.validate.Struct(req)
	if err == nil {
		return nil
	}
	var ves validator.ValidationErrors
	if errors.As(err, &ves) && len(ves) > 0 {
		return ErrValidationFailed.WithMessagef("Invalid payload: %s failed on %s", ves[0].Field(), ves[0].Tag())
	}
	return ErrValidationFailed.WithError(err)
}

// Session 单个连接的会话
//
// 同一连接的命令串行执行；Disconnect 之后的命令返回 ErrSessionClosed。
type Session struct {
	m        *Manager
	connID   string
	identity Identity

	mu         sync.Mutex
	terminated bool
}

// ConnID 连接 ID
func (s *Session) ConnID() string { return s.connID }

// Identity 绑定的身份
func (s *Session) Identity() Identity { return s.identity }

// guard 校验会话状态、请求参数与身份，失败时回送错误
// 调用方持有 s.mu
func (s *Session) guard(ctx context.Context, userID string, req any) error {
	if s.terminated {
		return ErrSessionClosed
	}
	err := s.m.check(req)
	if err == nil && userID != s.identity.ID {
		err = ErrUnauthorized
	}
	if err != nil {
		s.fail(ctx, err)
	}
	return err
}

func (s *Session) fail(ctx context.Context, err error) {
	s.m.log.WarnContext(ctx, "command rejected", zap.String("conn_id", s.connID), zap.Error(err))
	s.m.report(s.connID, err)
}

// leavePrevious 切换房间后离开之前绑定的房间
func (s *Session) leavePrevious(prev, current string) {
	if prev != "" && prev != current {
		s.m.reg.LeaveRoom(prev, s.identity, s.connID)
	}
}

// CreateRoom 创建房间，成功后离开之前所在的房间
func (s *Session) CreateRoom(ctx context.Context, req RoomRequest) (*Room, error) {
	req.RoomName = strings.TrimSpace(req.RoomName)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.guard(ctx, req.UserID, &req); err != nil {
		return nil, err
	}

	prev, _ := s.m.reg.RoomOf(s.connID)
	room, err := s.m.reg.CreateRoom(req.RoomName, s.identity, s.connID)
	if err != nil {
		s.fail(ctx, err)
		return nil, err
	}
	s.leavePrevious(prev, room.Name)
	return room, nil
}

// JoinRoom 加入房间，成功后离开之前所在的房间
func (s *Session) JoinRoom(ctx context.Context, req RoomRequest) (*Room, error) {
	req.RoomName = strings.TrimSpace(req.RoomName)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.guard(ctx, req.UserID, &req); err != nil {
		return nil, err
	}

	prev, _ := s.m.reg.RoomOf(s.connID)
	room, err := s.m.reg.JoinRoom(req.RoomName, s.identity, s.connID)
	if err != nil {
		s.fail(ctx, err)
		return nil, err
	}
	s.leavePrevious(prev, room.Name)
	return room, nil
}

// SendMessage 发送消息
func (s *Session) SendMessage(ctx context.Context, req MessageRequest) (*Message, error) {
	req.RoomName = strings.TrimSpace(req.RoomName)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.guard(ctx, req.UserID, &req); err != nil {
		return nil, err
	}

	msg, err := s.m.reg.SendMessage(req.RoomName, s.identity, req.Message)
	if err != nil {
		s.fail(ctx, err)
		return nil, err
	}
	return msg, nil
}

// LeaveRoom 离开房间，不在房间中时无操作
func (s *Session) LeaveRoom(ctx context.Context, req RoomRequest) error {
	req.RoomName = strings.TrimSpace(req.RoomName)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.guard(ctx, req.UserID, &req); err != nil {
		return err
	}

	s.m.reg.LeaveRoom(req.RoomName, s.identity, s.connID)
	return nil
}

// GetRooms 私发当前房间列表
func (s *Session) GetRooms(ctx context.Context) ([]*Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.terminated {
		return nil, ErrSessionClosed
	}

	rooms := s.m.reg.ListRooms()
	s.m.bc.SendTo(s.connID, Event{Name: EventRoomsList, Payload: rooms})
	return rooms, nil
}

// Disconnect 终止会话并清理注册表状态，只执行一次
func (s *Session) Disconnect() {
	s.mu.Lock()
	if s.terminated {
		s.mu.Unlock()
		return
	}
	s.terminated = true
	s.mu.Unlock()

	s.m.reg.HandleDisconnect(s.connID)

	s.m.mu.Lock()
	if s.m.sessions[s.connID] == s {
		delete(s.m.sessions, s.connID)
	}
	s.m.mu.Unlock()

	s.m.log.Debug("session closed", zap.String("conn_id", s.connID), zap.String("user_id", s.identity.ID))
}
