package companion

import (
	"context"
	"errors"
	"sync"

	"pocket-companion/server/internal/llm"
	"pocket-companion/server/internal/model"
	"pocket-companion/server/internal/state"
)

// ErrMockFailure 是 Mock 在 ShouldFail 时返回的错误。
var ErrMockFailure = errors.New("mock collaborator failure")

// MockLLMClient 用于测试的 Mock LLM 客户端，按调用顺序返回预设文本。
type MockLLMClient struct {
	mu         sync.Mutex
	Responses  []string
	ShouldFail bool
	CallCount  int
	LastInput  []llm.Message
}

// NewMockLLMClient 创建 Mock LLM 客户端
func NewMockLLMClient(responses ...string) *MockLLMClient {
	return &MockLLMClient{Responses: responses}
}

// Complete 模拟 LLM Complete 方法；预设用完后重复最后一条。
func (m *MockLLMClient) Complete(_ context.Context, messages []llm.Message, _ *llm.JSONSchema) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.CallCount++
	m.LastInput = append([]llm.Message(nil), messages...)
	if m.ShouldFail {
		return "", context.DeadlineExceeded
	}
	if len(m.Responses) == 0 {
		return "", nil
	}
	idx := m.CallCount - 1
	if idx >= len(m.Responses) {
		idx = len(m.Responses) - 1
	}
	return m.Responses[idx], nil
}

// MockService 是可编排的 Service，用于编排器/世界循环的测试。
type MockService struct {
	mu sync.Mutex

	Schedule  *model.Schedule
	Replies   [][]model.ReplyMessage
	Event     *state.EventDraft
	Note      string
	Fail      bool
	ChatCalls []ChatRequest
	// ReplyGate 非空时 ChatReply 会阻塞到能从中读到值，用于构造“请求进行中”的场景。
	ReplyGate  chan struct{}
	EventCalls int
}

func (m *MockService) GenerateSchedule(ctx context.Context, _ model.Persona) (*model.Schedule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Fail {
		return nil, ErrMockFailure
	}
	if m.Schedule == nil {
		return DefaultSchedule(), nil
	}
	return m.Schedule, nil
}

func (m *MockService) ChatReply(ctx context.Context, req ChatRequest) ([]model.ReplyMessage, error) {
	m.mu.Lock()
	gate := m.ReplyGate
	m.ChatCalls = append(m.ChatCalls, req)
	m.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Fail {
		return nil, ErrMockFailure
	}
	if len(m.Replies) == 0 {
		return []model.ReplyMessage{{Content: "嗯"}}, nil
	}
	out := m.Replies[0]
	if len(m.Replies) > 1 {
		m.Replies = m.Replies[1:]
	}
	return out, nil
}

func (m *MockService) RandomEvent(ctx context.Context, _ EventRequest) (*state.EventDraft, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.EventCalls++
	if m.Fail {
		return nil, ErrMockFailure
	}
	if m.Event == nil {
		return DefaultEventDraft(), nil
	}
	return m.Event, nil
}

func (m *MockService) Surprise(ctx context.Context, _ EventRequest) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Fail {
		return "", ErrMockFailure
	}
	return m.Note, nil
}

// Calls 返回 ChatReply 收到的请求副本。
func (m *MockService) Calls() []ChatRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]ChatRequest(nil), m.ChatCalls...)
}

// EventCallCount 返回 RandomEvent 被调用的次数。
func (m *MockService) EventCallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.EventCalls
}

// SetFail 切换失败模式。
func (m *MockService) SetFail(fail bool) {
	m.mu.Lock()
	m.Fail = fail
	m.mu.Unlock()
}
