package chat

import "time"

// SystemUserID 系统消息使用的固定身份
const (
	SystemUserID   = "system"
	SystemUserName = "System"
)

// Identity 已认证连接绑定的用户身份
type Identity struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Participant 房间成员
// ConnID 只在服务端使用，不下发给客户端
type Participant struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	ConnID string `json:"-"`
}

// Message 房间消息
type Message struct {
	ID              string    `json:"id"`
	Text            string    `json:"text"`
	UserID          string    `json:"userId"`
	UserName        string    `json:"userName"`
	Timestamp       time.Time `json:"timestamp"`
	IsSystemMessage bool      `json:"isSystemMessage"`
}

// Room 房间快照（只读副本）
type Room struct {
	ID           string        `json:"id"`
	Name         string        `json:"name"`
	Participants []Participant `json:"participants"`
	Messages     []Message     `json:"messages"`
	CreatedAt    time.Time     `json:"createdAt"`
}

func (r *Room) clone() *Room {
	c := *r
	c.Participants = append([]Participant(nil), r.Participants...)
	c.Messages = append([]Message(nil), r.Messages...)
	return &c
}

func (r *Room) indexOf(userID string) int {
	for i, p := range r.Participants {
		if p.ID == userID {
			return i
		}
	}
	return -1
}

// 出站事件名
const (
	EventRoomCreated      = "room-created"
	EventJoinedRoom       = "joined-room"
	EventRoomsUpdated     = "rooms-updated"
	EventRoomsList        = "rooms-list"
	EventNewMessage       = "new-message"
	EventUserJoined       = "user-joined"
	EventUserLeft         = "user-left"
	EventUserDisconnected = "user-disconnected"
	EventRoomExists       = "room-exists"
	EventRoomNotFound     = "room-not-found"
	EventError            = "error"
)

// 入站命令名
const (
	CommandCreateRoom  = "create-room"
	CommandJoinRoom    = "join-room"
	CommandSendMessage = "send-message"
	CommandLeaveRoom   = "leave-room"
	CommandGetRooms    = "get-rooms"
)

// Event 出站事件
type Event struct {
	Name    string
	Payload any
}

// UserJoinedPayload user-joined 事件数据
type UserJoinedPayload struct {
	User Identity `json:"user"`
	Room *Room    `json:"room"`
}

// UserLeftPayload user-left 事件数据
type UserLeftPayload struct {
	UserID string `json:"userId"`
	Room   *Room  `json:"room"`
}

// UserDisconnectedPayload user-disconnected 事件数据
type UserDisconnectedPayload struct {
	UserID       string `json:"userId"`
	ConnectionID string `json:"connectionId"`
	Room         *Room  `json:"room"`
}

// ErrorPayload 错误事件数据
type ErrorPayload struct {
	Message string `json:"message"`
	Code    int    `json:"code"`
}
