package state

import (
	"strconv"
	"strings"
	"sync"
	"unicode"

	"pocket-companion/server/internal/model"
)

const (
	// DefaultEventActivity 突发事件缺少活动时的兜底文案。
	DefaultEventActivity = "突发事件"
	// DefaultEventMinutes 突发事件缺少或无法解析持续时长时的默认分钟数。
	DefaultEventMinutes = 30
)

var DefaultEventReplyDelay = model.DelayRange{5, 15}

// EventDraft 是事件服务返回的原始字段，尚未归一化。
// Duration 可能是数字也可能是 "20分钟" 这样的字符串，统一按前导整数解析。
type EventDraft struct {
	Activity   string            `json:"activity"`
	Location   string            `json:"location"`
	ReplyDelay *model.DelayRange `json:"reply_delay,omitempty"`
	Duration   Duration          `json:"duration"`
}

// Duration 兼容 JSON 数字和字符串两种写法，保留原始文本。
type Duration string

func (d *Duration) UnmarshalJSON(data []byte) error {
	raw := strings.TrimSpace(string(data))
	if raw == "null" {
		*d = ""
		return nil
	}
	if strings.HasPrefix(raw, `"`) {
		unquoted, err := strconv.Unquote(raw)
		if err != nil {
			return err
		}
		*d = Duration(unquoted)
		return nil
	}
	*d = Duration(raw)
	return nil
}

// NewEvent 把事件服务的返回归一化为 RandomEvent，并以 now 为起点计算绝对过期时刻。
//
// - duration 缺失/为 0/无法解析 -> 30；负数保留（立即过期）。
// - location 只有 "out" 视为外出，其他一律在家。
// - activity 缺失 -> "突发事件"；reply_delay 缺失 -> [5,15]。
func NewEvent(draft EventDraft, now model.SimTime) model.RandomEvent {
	minutes, ok := leadingInt(string(draft.Duration))
	if !ok || minutes == 0 {
		minutes = DefaultEventMinutes
	}
	location := model.LocationHome
	if draft.Location == string(model.LocationOut) {
		location = model.LocationOut
	}
	activity := draft.Activity
	if activity == "" {
		activity = DefaultEventActivity
	}
	delay := DefaultEventReplyDelay
	if draft.ReplyDelay != nil {
		delay = *draft.ReplyDelay
	}
	return model.RandomEvent{
		Activity:           activity,
		Location:           location,
		ReplyDelay:         delay,
		StartTotalMinutes:  now.TotalMinutes(),
		ExpireTotalMinutes: now.TotalMinutes() + minutes,
	}
}

// leadingInt 解析字符串开头的整数（允许前导空白和符号），"20分钟" -> 20。
func leadingInt(s string) (int, bool) {
	s = strings.TrimSpace(s)
	end := 0
	for i, r := range s {
		if i == 0 && (r == '-' || r == '+') {
			end = 1
			continue
		}
		if !unicode.IsDigit(r) || r > unicode.MaxASCII {
			break
		}
		end = i + 1
	}
	n, err := strconv.Atoi(s[:end])
	if err != nil {
		return 0, false
	}
	return n, true
}

// Tracker 持有至多一个突发事件，过期在每次解析开始时惰性检查。
type Tracker struct {
	mu    sync.Mutex
	event *model.RandomEvent
}

func NewTracker() *Tracker {
	return &Tracker{}
}

// Set 替换当前事件。
func (t *Tracker) Set(evt model.RandomEvent) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.event = &evt
}

// Active 返回当前事件的副本，没有事件时返回 nil。
func (t *Tracker) Active() *model.RandomEvent {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.event == nil {
		return nil
	}
	evt := *t.event
	return &evt
}

// IsExpired 当 total >= ExpireTotalMinutes 时为 true（跨周绕回按下一周算）；没有事件也视为过期。
func (t *Tracker) IsExpired(total int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.event == nil || t.event.ExpiredAt(total)
}

// ExpireAt 在 total 时刻检查并清除已过期事件，返回清除后仍有效的事件。
func (t *Tracker) ExpireAt(total int) *model.RandomEvent {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.event != nil && t.event.ExpiredAt(total) {
		t.event = nil
	}
	if t.event == nil {
		return nil
	}
	evt := *t.event
	return &evt
}

// Clear 丢弃当前事件。
func (t *Tracker) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.event = nil
}
