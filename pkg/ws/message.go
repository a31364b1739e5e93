package ws

import (
	"encoding/json"
	"time"
)

// MessageType 消息类型
type MessageType string

const (
	// MessageTypeRequest 客户端命令
	MessageTypeRequest MessageType = "request"
	// MessageTypeNotify 服务端推送
	MessageTypeNotify MessageType = "notify"
)

// Message 客户端发来的帧
//
//	{"event": "join-room", "request_id": "r1", "data": {"roomName": "travel"}}
type Message struct {
	Type      MessageType     `json:"type,omitempty"`
	Event     string          `json:"event"`
	RequestID string          `json:"request_id,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp int64           `json:"timestamp,omitempty"`
}

// Unmarshal 解析消息数据
func (m *Message) Unmarshal(v any) error {
	if len(m.Data) == 0 {
		return nil
	}
	return json.Unmarshal(m.Data, v)
}

// Notify 服务端推送帧
type Notify struct {
	Type      MessageType `json:"type"`
	Event     string      `json:"event"`
	Data      any         `json:"data"`
	Timestamp int64       `json:"timestamp"`
}

// encodeNotify 编码推送帧，同一事件只编码一次后扇出
func encodeNotify(event string, data any) ([]byte, error) {
	return json.Marshal(Notify{
		Type:      MessageTypeNotify,
		Event:     event,
		Data:      data,
		Timestamp: time.Now().Unix(),
	})
}

// parseMessage 解析客户端帧
func parseMessage(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, ErrInvalidMessage
	}
	if msg.Event == "" {
		return nil, ErrInvalidMessage
	}
	return &msg, nil
}
