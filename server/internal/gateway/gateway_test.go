package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"pocket-companion/server/internal/model"
	"pocket-companion/server/internal/session"
)

// gatewayHarness 启动一个 httptest 服务，把每个 WebSocket 连接交给 Gateway。
type gatewayHarness struct {
	server   *httptest.Server
	bus      *session.Broadcaster
	received chan *ClientMessage
	gateways chan *Gateway
	fail     error
}

func newGatewayHarness(t *testing.T) *gatewayHarness {
	t.Helper()
	h := &gatewayHarness{
		bus:      session.NewBroadcaster(quietLogger),
		received: make(chan *ClientMessage, 16),
		gateways: make(chan *Gateway, 1),
	}
	upgrader := websocket.Upgrader{}
	h.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		handler := func(ctx context.Context, msg *ClientMessage) error {
			h.received <- msg
			return h.fail
		}
		gw := NewGateway(conn, h.bus, handler, Config{PingInterval: time.Second}, quietLogger)
		gw.Start()
		h.gateways <- gw
	}))
	t.Cleanup(h.server.Close)
	return h
}

func (h *gatewayHarness) dial(t *testing.T) (*websocket.Conn, *Gateway) {
	t.Helper()
	url := "ws" + strings.TrimPrefix(h.server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	select {
	case gw := <-h.gateways:
		return conn, gw
	case <-time.After(2 * time.Second):
		t.Fatalf("gateway not started")
	}
	return nil, nil
}

func readServerMessage(t *testing.T, conn *websocket.Conn) ServerMessage {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg ServerMessage
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read server message: %v", err)
	}
	return msg
}

// TestGatewayForwardsClientEvents 验证客户端帧经事件队列交给处理器。
func TestGatewayForwardsClientEvents(t *testing.T) {
	h := newGatewayHarness(t)
	conn, _ := h.dial(t)

	if err := conn.WriteJSON(ClientMessage{Type: EventTypeUserMessage, Channel: model.ChannelRemote, Content: "在吗"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	select {
	case msg := <-h.received:
		if msg.Type != EventTypeUserMessage || msg.Channel != model.ChannelRemote || msg.Content != "在吗" {
			t.Fatalf("unexpected message: %+v", msg)
		}
		if msg.ClientTS.IsZero() {
			t.Fatalf("expected client_ts filled")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("handler not called")
	}
}

// TestGatewayPushesNotifications 验证总线通知被编号后推给客户端。
func TestGatewayPushesNotifications(t *testing.T) {
	h := newGatewayHarness(t)
	conn, _ := h.dial(t)

	now := model.SimTime{Day: 3, Hour: 9, Minute: 30}
	h.bus.Publish(session.Notification{Type: session.NotifyTime, Time: &now})
	h.bus.Publish(session.Notification{Type: session.NotifyMessage, Channel: model.ChannelFaceToFace, Text: "早", Index: 1})

	first := readServerMessage(t, conn)
	if first.Type != EventTypeTime || first.Seq != 1 || first.Time == nil || *first.Time != now {
		t.Fatalf("unexpected first frame: %+v", first)
	}
	second := readServerMessage(t, conn)
	if second.Type != EventTypeMessage || second.Seq != 2 || second.Content != "早" || second.Index != 1 {
		t.Fatalf("unexpected second frame: %+v", second)
	}
}

// TestGatewayErrorFrames 验证非法帧与处理失败都回 error 帧且不断开连接。
func TestGatewayErrorFrames(t *testing.T) {
	h := newGatewayHarness(t)
	h.fail = errors.New("unknown channel")
	conn, _ := h.dial(t)

	if err := conn.WriteMessage(websocket.TextMessage, []byte("{not json")); err != nil {
		t.Fatalf("write: %v", err)
	}
	msg := readServerMessage(t, conn)
	if msg.Type != EventTypeError || !strings.Contains(msg.Error, "unmarshal") {
		t.Fatalf("expected unmarshal error frame, got %+v", msg)
	}

	_ = conn.WriteJSON(ClientMessage{Type: EventTypeUserMessage, Channel: "sms", Content: "x"})
	msg = readServerMessage(t, conn)
	if msg.Type != EventTypeError || msg.Error != "unknown channel" {
		t.Fatalf("expected handler error frame, got %+v", msg)
	}
}

// TestGatewayCloseUnsubscribes 验证客户端断开后网关关闭并退订总线。
func TestGatewayCloseUnsubscribes(t *testing.T) {
	h := newGatewayHarness(t)
	conn, gw := h.dial(t)

	if h.bus.Subscribers() != 1 {
		t.Fatalf("expected 1 subscriber, got %d", h.bus.Subscribers())
	}
	conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	conn.Close()

	select {
	case <-gw.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("gateway did not close")
	}
	if h.bus.Subscribers() != 0 {
		t.Fatalf("expected subscriber removed, got %d", h.bus.Subscribers())
	}
	if err := gw.Send(&ServerMessage{Type: EventTypeSystem}); err == nil {
		t.Fatalf("expected send on closed gateway to fail")
	}
}

// TestFromNotificationJSON 验证下行帧字段名与前端约定一致。
func TestFromNotificationJSON(t *testing.T) {
	msg := FromNotification(session.Notification{Type: session.NotifyTyping, Channel: model.ChannelRemote, On: true})
	data, _ := json.Marshal(msg)
	var raw map[string]any
	_ = json.Unmarshal(data, &raw)
	if raw["type"] != "typing" || raw["channel"] != "remote" || raw["on"] != true {
		t.Fatalf("unexpected typing frame: %s", data)
	}

	errMsg := FromNotification(session.Notification{Type: session.NotifyError, Text: "作息生成失败"})
	if errMsg.Error != "作息生成失败" {
		t.Fatalf("expected error text copied, got %+v", errMsg)
	}
}

type fakeChat struct {
	sent    []string
	focused map[model.Channel]bool
}

func (f *fakeChat) SendUserMessage(_ context.Context, ch model.Channel, content string) error {
	f.sent = append(f.sent, string(ch)+":"+content)
	return nil
}

func (f *fakeChat) Focus(ch model.Channel, focused bool) error {
	if f.focused == nil {
		f.focused = map[model.Channel]bool{}
	}
	f.focused[ch] = focused
	return nil
}

type fakePresence struct {
	activity int
	visible  []bool
}

func (f *fakePresence) Activity() { f.activity++ }

func (f *fakePresence) VisibilityChanged(v bool) bool {
	f.visible = append(f.visible, v)
	return v
}

type fakeClock struct {
	set    []int
	cycles int
	syncs  int
}

func (f *fakeClock) SetSpeed(i int) error {
	f.set = append(f.set, i)
	return nil
}
func (f *fakeClock) CycleSpeed() int {
	f.cycles++
	return 0
}
func (f *fakeClock) Sync() model.ResolvedState {
	f.syncs++
	return model.ResolvedState{}
}

// TestRouterDispatch 验证帧分发：用户消息、聚焦、可见性、流速与同步。
func TestRouterDispatch(t *testing.T) {
	chat, pres, clk := &fakeChat{}, &fakePresence{}, &fakeClock{}
	r := &Router{Chat: chat, Presence: pres, Clock: clk}
	ctx := context.Background()
	yes, two := true, 2

	frames := []*ClientMessage{
		{Type: EventTypeUserMessage, Channel: model.ChannelFaceToFace, Content: "hi"},
		{Type: EventTypeFocus, Channel: model.ChannelRemote, Focused: &yes},
		{Type: EventTypeVisibility, Visible: &yes},
		{Type: EventTypeSpeed, Index: &two},
		{Type: EventTypeSpeed},
		{Type: EventTypeSync},
		{Type: EventTypeActivity},
	}
	for _, f := range frames {
		if err := r.Handle(ctx, f); err != nil {
			t.Fatalf("handle %s: %v", f.Type, err)
		}
	}
	if err := r.Handle(ctx, &ClientMessage{Type: "dance"}); err == nil {
		t.Fatalf("expected unsupported type error")
	}

	if len(chat.sent) != 1 || chat.sent[0] != "face_to_face:hi" {
		t.Fatalf("unexpected sends: %v", chat.sent)
	}
	if !chat.focused[model.ChannelRemote] {
		t.Fatalf("expected remote focused")
	}
	if len(pres.visible) != 1 || !pres.visible[0] {
		t.Fatalf("expected visibility forwarded, got %v", pres.visible)
	}
	// visibility 之外的 7 帧（含未知类型）都算活动
	if pres.activity != 7 {
		t.Fatalf("expected 7 activity marks, got %d", pres.activity)
	}
	if len(clk.set) != 1 || clk.set[0] != 2 || clk.cycles != 1 || clk.syncs != 1 {
		t.Fatalf("unexpected clock calls: %+v", clk)
	}
}
