package chat

import (
	"cmp"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tokmz/relay/pkg/logger"
)

// roomEntry 已发布的房间快照，快照一经发布不再修改
type roomEntry struct {
	snap atomic.Pointer[Room]
}

// roomLock 按房间名引用计数的互斥锁，最后一个持有者释放时从锁表移除
type roomLock struct {
	mu   sync.Mutex
	refs int
}

// Registry 房间注册表
//
// 同一房间名上的所有变更操作（包括创建与加入的竞争）通过 per-room 锁线性化，
// 不同房间互不阻塞；全局 mu 只保护 map 的查找、插入与删除。
type Registry struct {
	bc       Broadcaster
	log      logger.Logger
	observer MessageObserver
	now      func() time.Time

	mu       sync.Mutex
	rooms    map[string]*roomEntry
	locks    map[string]*roomLock
	bindings map[string]string // connID -> room

	listMu sync.Mutex // 串行化 rooms-updated，保证最后一次广播反映最新状态
}

// RegistryOption 注册表选项
type RegistryOption func(*Registry)

// WithObserver 设置消息观察者（归档）
func WithObserver(o MessageObserver) RegistryOption {
	return func(r *Registry) {
		r.observer = o
	}
}

// WithLogger 设置日志
func WithLogger(l logger.Logger) RegistryOption {
	return func(r *Registry) {
		r.log = l
	}
}

// WithClock 替换时钟，测试用
func WithClock(now func() time.Time) RegistryOption {
	return func(r *Registry) {
		r.now = now
	}
}

// NewRegistry 创建注册表
func NewRegistry(bc Broadcaster, opts ...RegistryOption) *Registry {
	r := &Registry{
		bc:       bc,
		log:      logger.NewNop(),
		now:      time.Now,
		rooms:    make(map[string]*roomEntry),
		locks:    make(map[string]*roomLock),
		bindings: make(map[string]string),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// lock 获取房间锁，返回释放函数
func (r *Registry) lock(name string) func() {
	r.mu.Lock()
	l, ok := r.locks[name]
	if !ok {
		l = &roomLock{}
		r.locks[name] = l
	}
	l.refs++
	r.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()

		r.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(r.locks, name)
		}
		r.mu.Unlock()
	}
}

func (r *Registry) entry(name string) *roomEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rooms[name]
}

func (r *Registry) bind(connID, name string) {
	r.mu.Lock()
	r.bindings[connID] = name
	r.mu.Unlock()
}

// unbind 仅当连接仍绑定在 name 上时解除
func (r *Registry) unbind(connID, name string) {
	r.mu.Lock()
	if r.bindings[connID] == name {
		delete(r.bindings, connID)
	}
	r.mu.Unlock()
}

func (r *Registry) systemMessage(text string) Message {
	return Message{
		ID:              uuid.NewString(),
		Text:            text,
		UserID:          SystemUserID,
		UserName:        SystemUserName,
		Timestamp:       r.now(),
		IsSystemMessage: true,
	}
}

// appendMessage 追加消息并通知观察者，调用方持有房间锁
func (r *Registry) appendMessage(room *Room, msg Message) {
	room.Messages = append(room.Messages, msg)
	if r.observer != nil {
		r.observer.OnMessage(room.Name, msg)
	}
}

// CreateRoom 创建房间，创建者成为唯一成员
func (r *Registry) CreateRoom(name string, id Identity, connID string) (*Room, error) {
	unlock := r.lock(name)
	if r.entry(name) != nil {
		unlock()
		return nil, ErrRoomExists
	}

	room := &Room{
		ID:           name,
		Name:         name,
		Participants: []Participant{{ID: id.ID, Name: id.Name, ConnID: connID}},
		CreatedAt:    r.now(),
	}
	r.appendMessage(room, r.systemMessage(fmt.Sprintf("%s created the room", id.Name)))

	e := &roomEntry{}
	e.snap.Store(room)

	r.mu.Lock()
	r.rooms[name] = e
	r.bindings[connID] = name
	r.mu.Unlock()

	r.bc.Subscribe(connID, name)
	r.bc.SendTo(connID, Event{Name: EventRoomCreated, Payload: room})
	unlock()

	r.log.Info("room created", zap.String("room", name), zap.String("user_id", id.ID))
	r.broadcastRooms()
	return room, nil
}

// JoinRoom 加入房间
//
// 已在房间中的身份（刷新页面重连）只替换连接句柄并私发快照，
// 不产生系统消息和 user-joined。
func (r *Registry) JoinRoom(name string, id Identity, connID string) (*Room, error) {
	unlock := r.lock(name)
	e := r.entry(name)
	if e == nil {
		unlock()
		return nil, ErrRoomNotFound
	}

	next := e.snap.Load().clone()
	if idx := next.indexOf(id.ID); idx >= 0 {
		old := next.Participants[idx].ConnID
		next.Participants[idx].ConnID = connID
		e.snap.Store(next)

		if old != connID {
			r.unbind(old, name)
			r.bc.Unsubscribe(old, name)
		}
		r.bind(connID, name)
		r.bc.Subscribe(connID, name)
		r.bc.SendTo(connID, Event{Name: EventJoinedRoom, Payload: next})
		unlock()

		r.log.Debug("room rejoined", zap.String("room", name), zap.String("user_id", id.ID))
		r.broadcastRooms()
		return next, nil
	}

	next.Participants = append(next.Participants, Participant{ID: id.ID, Name: id.Name, ConnID: connID})
	// 加入者的快照不含自己的加入消息，该消息随后通过 new-message 送达
	joined := next.clone()
	msg := r.systemMessage(fmt.Sprintf("%s joined the room", id.Name))
	r.appendMessage(next, msg)
	e.snap.Store(next)

	r.bind(connID, name)
	r.bc.Subscribe(connID, name)
	r.bc.SendTo(connID, Event{Name: EventJoinedRoom, Payload: joined})
	r.bc.SendToRoom(name, Event{Name: EventNewMessage, Payload: msg})
	r.bc.SendToRoom(name, Event{Name: EventUserJoined, Payload: UserJoinedPayload{User: id, Room: next}}, connID)
	unlock()

	r.log.Info("room joined", zap.String("room", name), zap.String("user_id", id.ID))
	r.broadcastRooms()
	return next, nil
}

// SendMessage 发送聊天消息，发送者必须是房间成员
func (r *Registry) SendMessage(name string, id Identity, text string) (*Message, error) {
	unlock := r.lock(name)
	defer unlock()

	e := r.entry(name)
	if e == nil {
		return nil, ErrRoomNotFound
	}
	next := e.snap.Load().clone()
	if next.indexOf(id.ID) < 0 {
		return nil, ErrUnauthorized.WithMessage("Unauthorized: not a participant of this room")
	}

	msg := Message{
		ID:        uuid.NewString(),
		Text:      text,
		UserID:    id.ID,
		UserName:  id.Name,
		Timestamp: r.now(),
	}
	r.appendMessage(next, msg)
	e.snap.Store(next)

	r.bc.SendToRoom(name, Event{Name: EventNewMessage, Payload: msg})
	return &msg, nil
}

// LeaveRoom 离开房间，房间或成员不存在时静默返回
func (r *Registry) LeaveRoom(name string, id Identity, connID string) {
	unlock := r.lock(name)
	e := r.entry(name)
	if e == nil {
		unlock()
		return
	}
	next := e.snap.Load().clone()
	idx := next.indexOf(id.ID)
	if idx < 0 {
		unlock()
		return
	}

	p := next.Participants[idx]
	next.Participants = slices.Delete(next.Participants, idx, idx+1)
	msg := r.systemMessage(fmt.Sprintf("%s left the room", p.Name))
	r.appendMessage(next, msg)
	e.snap.Store(next)

	for _, c := range []string{p.ConnID, connID} {
		r.unbind(c, name)
		r.bc.Unsubscribe(c, name)
	}
	r.bc.SendToRoom(name, Event{Name: EventNewMessage, Payload: msg})
	r.bc.SendToRoom(name, Event{Name: EventUserLeft, Payload: UserLeftPayload{UserID: id.ID, Room: next}})

	if len(next.Participants) == 0 {
		r.deleteRoom(name, e)
	}
	unlock()

	r.log.Info("room left", zap.String("room", name), zap.String("user_id", id.ID))
	r.broadcastRooms()
}

// HandleDisconnect 连接断开后的清理
//
// 总是清除连接的房间绑定；只有房间中仍由该连接路由的成员才会被移除，
// 已被新连接接管（重连）的成员不受影响。重复调用是无副作用的。
func (r *Registry) HandleDisconnect(connID string) {
	r.mu.Lock()
	name, ok := r.bindings[connID]
	delete(r.bindings, connID)
	r.mu.Unlock()
	if !ok {
		return
	}

	unlock := r.lock(name)
	e := r.entry(name)
	if e == nil {
		unlock()
		return
	}
	next := e.snap.Load().clone()
	idx := slices.IndexFunc(next.Participants, func(p Participant) bool { return p.ConnID == connID })
	if idx < 0 {
		unlock()
		r.bc.Unsubscribe(connID, name)
		return
	}

	p := next.Participants[idx]
	next.Participants = slices.Delete(next.Participants, idx, idx+1)
	msg := r.systemMessage(fmt.Sprintf("%s disconnected", p.Name))
	r.appendMessage(next, msg)
	e.snap.Store(next)
	r.bc.Unsubscribe(connID, name)

	if len(next.Participants) == 0 {
		r.deleteRoom(name, e)
	} else {
		r.bc.SendToRoom(name, Event{Name: EventNewMessage, Payload: msg})
		r.bc.SendToRoom(name, Event{Name: EventUserDisconnected, Payload: UserDisconnectedPayload{
			UserID:       p.ID,
			ConnectionID: connID,
			Room:         next,
		}})
	}
	unlock()

	r.log.Info("participant disconnected", zap.String("room", name), zap.String("user_id", p.ID), zap.String("conn_id", connID))
	r.broadcastRooms()
}

// deleteRoom 删除空房间，调用方持有房间锁
func (r *Registry) deleteRoom(name string, e *roomEntry) {
	r.mu.Lock()
	if r.rooms[name] == e {
		delete(r.rooms, name)
	}
	r.mu.Unlock()
	r.log.Info("room deleted", zap.String("room", name))
}

// ListRooms 所有房间的快照，按创建时间、名称排序
func (r *Registry) ListRooms() []*Room {
	r.mu.Lock()
	rooms := make([]*Room, 0, len(r.rooms))
	for _, e := range r.rooms {
		rooms = append(rooms, e.snap.Load())
	}
	r.mu.Unlock()

	slices.SortFunc(rooms, func(a, b *Room) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.Name, b.Name)
	})
	return rooms
}

// Room 单个房间快照
func (r *Registry) Room(name string) (*Room, bool) {
	e := r.entry(name)
	if e == nil {
		return nil, false
	}
	return e.snap.Load(), true
}

// RoomOf 连接当前绑定的房间
func (r *Registry) RoomOf(connID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	name, ok := r.bindings[connID]
	return name, ok
}

// RoomCount 当前房间数
func (r *Registry) RoomCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rooms)
}

func (r *Registry) broadcastRooms() {
	r.listMu.Lock()
	defer r.listMu.Unlock()
	r.bc.SendToAll(Event{Name: EventRoomsUpdated, Payload: r.ListRooms()})
}
