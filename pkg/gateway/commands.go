package gateway

import (
	"context"

	"github.com/tokmz/relay/pkg/chat"
	"github.com/tokmz/relay/pkg/tracing"
	"github.com/tokmz/relay/pkg/ws"
)

// registerCommands 注册五个入站命令
//
// 失败已由会话回送给调用方，这里返回的错误只用于日志与 Span。
func (g *Gateway) registerCommands() error {
	r := g.hub.Router()
	r.Use(tracing.WSMiddleware())
	if err := ws.Handle(r, chat.CommandCreateRoom, g.createRoom); err != nil {
		return err
	}
	if err := ws.Handle(r, chat.CommandJoinRoom, g.joinRoom); err != nil {
		return err
	}
	if err := ws.Handle(r, chat.CommandSendMessage, g.sendMessage); err != nil {
		return err
	}
	if err := ws.Handle(r, chat.CommandLeaveRoom, g.leaveRoom); err != nil {
		return err
	}
	return r.Register(chat.CommandGetRooms, g.getRooms)
}

func (g *Gateway) session(c *ws.Client) (*chat.Session, error) {
	s, ok := g.manager.Session(c.ID)
	if !ok {
		return nil, chat.ErrSessionClosed
	}
	return s, nil
}

func (g *Gateway) createRoom(ctx context.Context, c *ws.Client, req *chat.RoomRequest) error {
	s, err := g.session(c)
	if err != nil {
		return err
	}
	_, err = s.CreateRoom(ctx, *req)
	return err
}

func (g *Gateway) joinRoom(ctx context.Context, c *ws.Client, req *chat.RoomRequest) error {
	s, err := g.session(c)
	if err != nil {
		return err
	}
	_, err = s.JoinRoom(ctx, *req)
	return err
}

func (g *Gateway) sendMessage(ctx context.Context, c *ws.Client, req *chat.MessageRequest) error {
	s, err := g.session(c)
	if err != nil {
		return err
	}
	_, err = s.SendMessage(ctx, *req)
	return err
}

func (g *Gateway) leaveRoom(ctx context.Context, c *ws.Client, req *chat.RoomRequest) error {
	s, err := g.session(c)
	if err != nil {
		return err
	}
	return s.LeaveRoom(ctx, *req)
}

func (g *Gateway) getRooms(ctx context.Context, c *ws.Client, _ *ws.Message) error {
	s, err := g.session(c)
	if err != nil {
		return err
	}
	_, err = s.GetRooms(ctx)
	return err
}
