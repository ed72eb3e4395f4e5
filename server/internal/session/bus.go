package session

import (
	"log"
	"sync"

	"github.com/google/uuid"

	"pocket-companion/server/internal/model"
)

// NotificationType 是核心向订阅方（网关/UI）发出的通知类型。
type NotificationType string

const (
	NotifyTime         NotificationType = "time"
	NotifyState        NotificationType = "state"
	NotifyTyping       NotificationType = "typing"
	NotifyMessage      NotificationType = "message"
	NotifyProactive    NotificationType = "proactive"
	NotifyVoice        NotificationType = "voice"
	NotifyUnread       NotificationType = "unread"
	NotifyBubbleHidden NotificationType = "bubble_hidden"
	NotifySchedule     NotificationType = "schedule"
	NotifySystem       NotificationType = "system"
	NotifyError        NotificationType = "error"
)

// Notification 是一条状态/消息通知，字段按类型选填。
type Notification struct {
	Type        NotificationType     `json:"type"`
	Channel     model.Channel        `json:"channel,omitempty"`
	Text        string               `json:"text,omitempty"`
	Index       int                  `json:"index,omitempty"`
	On          bool                 `json:"on,omitempty"`
	Time        *model.SimTime       `json:"time,omitempty"`
	State       *model.ResolvedState `json:"state,omitempty"`
	Schedule    *model.Schedule      `json:"schedule,omitempty"`
	Speed       *SpeedInfo           `json:"speed,omitempty"`
	AudioBase64 string               `json:"audio_base64,omitempty"`
	DurationMs  int                  `json:"duration_ms,omitempty"`
}

// SpeedInfo 描述当前时间流速，随 time 通知一起下发。
type SpeedInfo struct {
	Index    int    `json:"index"`
	Label    string `json:"label"`
	Realtime bool   `json:"realtime"`
}

// Broadcaster 是一对多的通知总线。UI 只是订阅方，核心不感知具体连接。
//
// 约定：Publish 不阻塞；订阅方缓冲满时丢弃该订阅方的这条通知并记日志。
type Broadcaster struct {
	mu     sync.RWMutex
	subs   map[string]chan Notification
	logger *log.Logger
}

func NewBroadcaster(logger *log.Logger) *Broadcaster {
	if logger == nil {
		logger = log.Default()
	}
	return &Broadcaster{subs: make(map[string]chan Notification), logger: logger}
}

// Subscribe 注册一个订阅方，返回订阅 ID、只读通道和取消函数。
func (b *Broadcaster) Subscribe(buffer int) (string, <-chan Notification, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	id := uuid.NewString()
	ch := make(chan Notification, buffer)

	b.mu.Lock()
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
	return id, ch, cancel
}

// Publish 向所有订阅方投递通知。
func (b *Broadcaster) Publish(n Notification) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for id, ch := range b.subs {
		select {
		case ch <- n:
		default:
			b.logger.Printf("[Bus] ⚠️ subscriber %s full, dropping %s", id, n.Type)
		}
	}
}

// Subscribers 返回当前订阅数。
func (b *Broadcaster) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
