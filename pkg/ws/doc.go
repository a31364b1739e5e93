// Package ws 提供聊天中继的 WebSocket 传输层。
//
// Hub 负责握手认证、连接池、房间投递组与命令路由，并实现 chat.Broadcaster：
//
//	hub, _ := ws.NewHub(authenticator, ws.WithCheckOriginWhitelist(origins))
//	hub.OnConnect(func(c *ws.Client) { sessions.Open(c.ID, c.Identity) })
//	hub.OnDisconnect(func(c *ws.Client) { sessions.Disconnect(c.ID) })
//	ws.Handle(hub.Router(), "join-room", joinRoom)
//	hub.Run()
//
// 帧格式为 JSON 文本帧。客户端命令：
//
//	{"event": "send-message", "request_id": "r1", "data": {"roomName": "travel", "message": "hi"}}
//
// 服务端推送：
//
//	{"type": "notify", "event": "new-message", "data": {...}, "timestamp": 1714564800}
//
// 所有发送都是非阻塞的：每个连接有独立的发送队列，队列满时丢弃该连接的帧，
// 慢连接不会拖慢其他连接。同一连接收到的帧顺序与投递顺序一致。
package ws
