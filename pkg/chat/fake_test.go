package chat

import (
	"slices"
	"sync"
	"time"
)

// recorder 记录投递结果的 Broadcaster，按订阅关系模拟房间投递
type recorder struct {
	mu    sync.Mutex
	conns []string
	subs  map[string]map[string]bool // room -> connID
	inbox map[string][]Event
}

func newRecorder(conns ...string) *recorder {
	return &recorder{
		conns: conns,
		subs:  make(map[string]map[string]bool),
		inbox: make(map[string][]Event),
	}
}

func (r *recorder) SendTo(connID string, ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.inbox[connID] = append(r.inbox[connID], ev)
}

func (r *recorder) SendToRoom(room string, ev Event, exclude ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for connID := range r.subs[room] {
		if slices.Contains(exclude, connID) {
			continue
		}
		r.inbox[connID] = append(r.inbox[connID], ev)
	}
}

func (r *recorder) SendToAll(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, connID := range r.conns {
		r.inbox[connID] = append(r.inbox[connID], ev)
	}
}

func (r *recorder) Subscribe(connID, room string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.subs[room] == nil {
		r.subs[room] = make(map[string]bool)
	}
	r.subs[room][connID] = true
}

func (r *recorder) Unsubscribe(connID, room string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.subs[room], connID)
}

// events 返回连接收到的指定事件
func (r *recorder) events(connID, name string) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, ev := range r.inbox[connID] {
		if ev.Name == name {
			out = append(out, ev)
		}
	}
	return out
}

// messages 返回连接收到的 new-message 文本
func (r *recorder) messages(connID string) []string {
	var out []string
	for _, ev := range r.events(connID, EventNewMessage) {
		out = append(out, ev.Payload.(Message).Text)
	}
	return out
}

func (r *recorder) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.inbox = make(map[string][]Event)
}

func (r *recorder) subscribed(room string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for connID := range r.subs[room] {
		out = append(out, connID)
	}
	slices.Sort(out)
	return out
}

// stepClock 每次调用前进 1ms 的时钟
func stepClock() func() time.Time {
	var mu sync.Mutex
	t := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t = t.Add(time.Millisecond)
		return t
	}
}

type observed struct {
	mu   sync.Mutex
	msgs []Message
}

func (o *observed) OnMessage(_ string, msg Message) {
	o.mu.Lock()
	o.msgs = append(o.msgs, msg)
	o.mu.Unlock()
}
