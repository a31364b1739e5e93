package chat

// Broadcaster 事件投递抽象
//
// 所有方法都不能阻塞调用方：目标连接缓冲区满或已关闭时直接丢弃该连接的事件。
// 同一连接收到的事件顺序与调用顺序一致。
type Broadcaster interface {
	// SendTo 发送给单个连接
	SendTo(connID string, ev Event)
	// SendToRoom 发送给订阅了 room 的所有连接，exclude 中的连接除外
	SendToRoom(room string, ev Event, exclude ...string)
	// SendToAll 发送给所有已认证连接
	SendToAll(ev Event)
	// Subscribe 将连接加入房间投递组
	Subscribe(connID, room string)
	// Unsubscribe 将连接移出房间投递组
	Unsubscribe(connID, room string)
}

// MessageObserver 消息追加后的回调（归档等），必须非阻塞
type MessageObserver interface {
	OnMessage(room string, msg Message)
}
