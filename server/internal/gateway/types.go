package gateway

import (
	"time"

	"pocket-companion/server/internal/model"
	"pocket-companion/server/internal/session"
)

// EventType 定义了网关处理的事件类型
type EventType string

const (
	// 客户端上行事件
	EventTypeUserMessage EventType = "user_message" // 用户发言（带通道）
	EventTypeActivity    EventType = "activity"     // 任意用户操作，重置闲置计时
	EventTypeVisibility  EventType = "visibility"   // 页面可见性变化
	EventTypeFocus       EventType = "focus"        // 打开/关闭某个聊天通道
	EventTypeSpeed       EventType = "speed"        // 切换时间流速（不带 index 表示循环）
	EventTypeSync        EventType = "sync"         // 对齐现实时间

	// 服务端下行事件，与 session.NotificationType 一一对应
	EventTypeTime         EventType = "time"
	EventTypeState        EventType = "state"
	EventTypeTyping       EventType = "typing"
	EventTypeMessage      EventType = "message"
	EventTypeProactive    EventType = "proactive"
	EventTypeVoice        EventType = "voice"
	EventTypeUnread       EventType = "unread"
	EventTypeBubbleHidden EventType = "bubble_hidden"
	EventTypeSchedule     EventType = "schedule"
	EventTypeSystem       EventType = "system"
	EventTypeError        EventType = "error"
	EventTypeSnapshot     EventType = "snapshot" // 连接建立时的全量状态
)

// ClientMessage 客户端发送给网关的消息（WebSocket文本帧）
type ClientMessage struct {
	Type     EventType     `json:"type"`
	EventID  string        `json:"event_id,omitempty"` // 幂等去重
	Channel  model.Channel `json:"channel,omitempty"`
	Content  string        `json:"content,omitempty"`
	Visible  *bool         `json:"visible,omitempty"`
	Focused  *bool         `json:"focused,omitempty"`
	Index    *int          `json:"index,omitempty"`
	ClientTS time.Time     `json:"client_ts,omitempty"` // 客户端时间戳
}

// ServerMessage 网关发送给客户端的消息
type ServerMessage struct {
	Type        EventType            `json:"type"`
	Seq         int64                `json:"seq,omitempty"` // 服务端序号
	Channel     model.Channel        `json:"channel,omitempty"`
	Content     string               `json:"content,omitempty"`
	Index       int                  `json:"index"`
	On          bool                 `json:"on,omitempty"`
	Time        *model.SimTime       `json:"time,omitempty"`
	Speed       *session.SpeedInfo   `json:"speed,omitempty"`
	State       *model.ResolvedState `json:"state,omitempty"`
	Schedule    *model.Schedule      `json:"schedule,omitempty"`
	AudioBase64 string               `json:"audio_base64,omitempty"`
	DurationMs  int                  `json:"duration_ms,omitempty"`
	Snapshot    any                  `json:"snapshot,omitempty"`
	ServerTS    time.Time            `json:"server_ts"` // 服务端时间戳
	Error       string               `json:"error,omitempty"`
}

// FromNotification 把核心通知转换为下行帧。
func FromNotification(n session.Notification) *ServerMessage {
	msg := &ServerMessage{
		Type:        EventType(n.Type),
		Channel:     n.Channel,
		Content:     n.Text,
		Index:       n.Index,
		On:          n.On,
		Time:        n.Time,
		Speed:       n.Speed,
		State:       n.State,
		Schedule:    n.Schedule,
		AudioBase64: n.AudioBase64,
		DurationMs:  n.DurationMs,
	}
	if n.Type == session.NotifyError {
		msg.Error = n.Text
	}
	return msg
}
