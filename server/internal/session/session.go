package session

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"pocket-companion/server/internal/model"
	"pocket-companion/server/internal/state"
	"pocket-companion/server/internal/timeline"
)

// Session 是唯一的会话上下文：角色、作息、突发事件、对话历史、解析状态与 UI 标记都挂在这里。
//
// 约定：
// - 所有共享可变状态只通过 Session 的方法修改（单写者）。
// - 状态解析在锁内同步完成，调用方拿到的是快照。
// - 对话历史只追加，持久化时整体导出。
type Session struct {
	ID string

	mu       sync.RWMutex
	persona  model.Persona
	schedule *model.Schedule
	resolved model.ResolvedState
	unread   map[model.Channel]bool
	focused  map[model.Channel]bool
	greeted  bool

	tracker *state.Tracker
	history timeline.Store
	bus     *Broadcaster
}

// New 创建会话。history/bus 为空时使用内存实现。
func New(persona model.Persona, history timeline.Store, bus *Broadcaster) *Session {
	if history == nil {
		history = timeline.NewInMemoryStore()
	}
	if bus == nil {
		bus = NewBroadcaster(nil)
	}
	return &Session{
		ID:      uuid.NewString(),
		persona: persona,
		unread:  make(map[model.Channel]bool),
		focused: make(map[model.Channel]bool),
		tracker: state.NewTracker(),
		history: history,
		bus:     bus,
	}
}

func (s *Session) Bus() *Broadcaster { return s.bus }

func (s *Session) Tracker() *state.Tracker { return s.tracker }

// Publish 是 Bus().Publish 的简写。
func (s *Session) Publish(n Notification) { s.bus.Publish(n) }

func (s *Session) Persona() model.Persona {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.persona
}

func (s *Session) SetPersona(p model.Persona) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.persona = p
}

// Schedule 返回当前作息（一次生成后只读，可直接共享）。
func (s *Session) Schedule() *model.Schedule {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.schedule
}

// SetSchedule 整体替换作息。
func (s *Session) SetSchedule(sched *model.Schedule) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.schedule = sched
}

// Resolve 在锁内完成一次完整解析：先惰性清理过期事件，再推导状态并缓存。
func (s *Session) Resolve(now model.SimTime) model.ResolvedState {
	s.mu.Lock()
	defer s.mu.Unlock()

	evt := s.tracker.ExpireAt(now.TotalMinutes())
	s.resolved = state.Resolve(s.schedule, evt, now)
	return s.resolved
}

// Resolved 返回最近一次解析结果。
func (s *Session) Resolved() model.ResolvedState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.resolved
}

// EventActive 判断当前是否有未过期的突发事件。
func (s *Session) EventActive(now model.SimTime) bool {
	return !s.tracker.IsExpired(now.TotalMinutes())
}

// MarkUnread 在通道未被聚焦时置未读，返回是否发生了变化。
func (s *Session) MarkUnread(ch model.Channel) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.focused[ch] || s.unread[ch] {
		return false
	}
	s.unread[ch] = true
	return true
}

// SetFocus 记录用户是否正在看某个通道；聚焦时清除未读，返回未读是否被清除。
func (s *Session) SetFocus(ch model.Channel, focused bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.focused[ch] = focused
	if focused && s.unread[ch] {
		delete(s.unread, ch)
		return true
	}
	return false
}

func (s *Session) Focused(ch model.Channel) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.focused[ch]
}

// Unread 返回未读标记副本。
func (s *Session) Unread() map[model.Channel]bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[model.Channel]bool, len(s.unread))
	for k, v := range s.unread {
		out[k] = v
	}
	return out
}

// MarkGreeted 标记本次会话已经打过招呼，返回之前是否已打过。
// 该标记在会话内只会从 false 变 true。
func (s *Session) MarkGreeted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.greeted
	s.greeted = true
	return prev
}

func (s *Session) Greeted() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.greeted
}

// AppendTurn 追加一条对话历史。
func (s *Session) AppendTurn(ctx context.Context, role model.Role, content string) error {
	if _, err := s.history.Append(ctx, s.ID, model.ChatTurn{Role: role, Content: content}); err != nil {
		return fmt.Errorf("append history: %w", err)
	}
	return nil
}

// RecentHistory 返回最近 n 条历史。
func (s *Session) RecentHistory(ctx context.Context, n int) ([]model.ChatTurn, error) {
	entries, err := s.history.Suffix(ctx, s.ID, n)
	if err != nil {
		return nil, fmt.Errorf("history suffix: %w", err)
	}
	return timeline.Turns(entries), nil
}

// History 返回完整历史。
func (s *Session) History(ctx context.Context) ([]model.ChatTurn, error) {
	entries, err := s.history.List(ctx, s.ID)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	return timeline.Turns(entries), nil
}

// ClearHistory 清空对话历史（切换角色时）。
func (s *Session) ClearHistory(ctx context.Context) error {
	return s.history.Reset(ctx, s.ID, nil)
}

// Record 导出完整存档。
func (s *Session) Record(ctx context.Context) (*model.PersistenceRecord, error) {
	history, err := s.History(ctx)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return &model.PersistenceRecord{
		PersonaName:    s.persona.Name,
		PersonaPrompt:  s.persona.Prompt,
		PersonaVoiceID: s.persona.VoiceID,
		Schedule:       s.schedule,
		ChatHistory:    history,
	}, nil
}

// Restore 从存档恢复角色、作息与历史。
func (s *Session) Restore(ctx context.Context, rec *model.PersistenceRecord) error {
	if rec == nil {
		return nil
	}
	if err := s.history.Reset(ctx, s.ID, rec.ChatHistory); err != nil {
		return fmt.Errorf("restore history: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec.PersonaName != "" {
		s.persona = rec.Persona()
	}
	s.schedule = rec.Schedule
	return nil
}
