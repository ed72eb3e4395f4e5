package companion

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"pocket-companion/server/internal/llm"
	"pocket-companion/server/internal/model"
	"pocket-companion/server/internal/state"
)

const (
	// FailedChatText 聊天请求失败时展示的兜底消息。
	FailedChatText = "(信号不好，消息没有发出去...)"
	// MissingReplyText 回复里既没有 messages 也没有 reply 时展示的兜底消息。
	MissingReplyText = "（网络连接断开了...）"
	// FailedSurpriseText 便签生成失败时的兜底文案。
	FailedSurpriseText = "桌上放着一盒你爱吃的点心。"
)

// DefaultSchedule 是作息生成结果无法解析时使用的默认作息。
func DefaultSchedule() *model.Schedule {
	sleep := [2]int{23, 7}
	work := model.DelayRange{30, 120}
	gym := model.DelayRange{10, 30}
	return &model.Schedule{
		Routine: []model.RoutineEntry{
			{Days: []int{1, 2, 3, 4, 5}, Start: 9, End: 18, Activity: "工作", Location: model.LocationOut, ReplyDelay: &work},
			{Days: []int{6, 7}, Start: 14, End: 16, Activity: "健身体能训练", Location: model.LocationOut, ReplyDelay: &gym},
		},
		Sleep:          &sleep,
		HomeActivities: []string{"休息", "整理衣服", "发呆"},
	}
}

// DefaultEventDraft 是突发事件结果无法解析时使用的默认事件。
func DefaultEventDraft() *state.EventDraft {
	delay := model.DelayRange{1, 3}
	return &state.EventDraft{
		Activity:   "发了一会呆",
		Location:   string(model.LocationHome),
		Duration:   "10",
		ReplyDelay: &delay,
	}
}

// LLMService 用 LLM 实现 Service。
type LLMService struct {
	client llm.Client
	logger *log.Logger
}

func NewLLMService(client llm.Client, logger *log.Logger) *LLMService {
	if logger == nil {
		logger = log.Default()
	}
	return &LLMService{client: client, logger: logger}
}

// GenerateSchedule 生成作息。解析失败时返回默认作息。
func (s *LLMService) GenerateSchedule(ctx context.Context, persona model.Persona) (*model.Schedule, error) {
	content, err := s.client.Complete(ctx, []llm.Message{
		{Role: "system", Content: scheduleSystemPrompt},
		{Role: "user", Content: scheduleUserPrompt(persona.Name, persona.Prompt)},
	}, &llm.JSONSchema{Name: "schedule"})
	if err != nil {
		return nil, fmt.Errorf("generate schedule: %w", err)
	}

	sched, err := ParseSchedule(content)
	if err != nil {
		s.logger.Printf("[Companion] ⚠️ schedule parse failed, using default: %v text=%q", err, content)
		return DefaultSchedule(), nil
	}
	return sched, nil
}

// ChatReply 生成一批回复。
func (s *LLMService) ChatReply(ctx context.Context, req ChatRequest) ([]model.ReplyMessage, error) {
	messages := make([]llm.Message, 0, len(req.History)+2)
	messages = append(messages, llm.Message{Role: "system", Content: chatSystemPrompt(req)})
	for _, turn := range req.History {
		messages = append(messages, llm.Message{Role: string(turn.Role), Content: turn.Content})
	}
	if req.UserMessage != "" {
		messages = append(messages, llm.Message{Role: "user", Content: req.UserMessage})
	}

	content, err := s.client.Complete(ctx, messages, &llm.JSONSchema{Name: "reply"})
	if err != nil {
		return nil, fmt.Errorf("chat reply: %w", err)
	}
	return ParseReply(content), nil
}

// RandomEvent 生成突发事件草稿。解析失败时返回默认事件。
func (s *LLMService) RandomEvent(ctx context.Context, req EventRequest) (*state.EventDraft, error) {
	content, err := s.client.Complete(ctx, []llm.Message{
		{Role: "system", Content: eventSystemPrompt(req)},
		{Role: "user", Content: eventUserPrompt},
	}, &llm.JSONSchema{Name: "random_event"})
	if err != nil {
		return nil, fmt.Errorf("random event: %w", err)
	}

	var draft state.EventDraft
	if err := json.Unmarshal([]byte(StripFence(content)), &draft); err != nil {
		s.logger.Printf("[Companion] ⚠️ random event parse failed, using default: %v text=%q", err, content)
		return DefaultEventDraft(), nil
	}
	return &draft, nil
}

// Surprise 生成便签文字。
func (s *LLMService) Surprise(ctx context.Context, req EventRequest) (string, error) {
	content, err := s.client.Complete(ctx, []llm.Message{
		{Role: "system", Content: surpriseSystemPrompt(req)},
		{Role: "user", Content: surpriseUserPrompt},
	}, nil)
	if err != nil {
		return "", fmt.Errorf("surprise: %w", err)
	}
	return strings.TrimSpace(content), nil
}

// StripFence 去掉模型偶尔带上的 ```json 代码块标记。
func StripFence(content string) string {
	content = strings.TrimSpace(content)
	if strings.HasPrefix(content, "```json") {
		content = content[len("```json"):]
	} else if strings.HasPrefix(content, "```") {
		content = content[len("```"):]
	}
	content = strings.TrimSuffix(content, "```")
	return strings.TrimSpace(content)
}

// ParseSchedule 解析作息 JSON。三个字段各自可缺省；外出条目未写 location 时按外出处理。
func ParseSchedule(content string) (*model.Schedule, error) {
	var sched model.Schedule
	if err := json.Unmarshal([]byte(StripFence(content)), &sched); err != nil {
		return nil, fmt.Errorf("decode schedule: %w", err)
	}
	for i := range sched.Routine {
		if sched.Routine[i].Location == "" {
			sched.Routine[i].Location = model.LocationOut
		}
	}
	return &sched, nil
}

// ParseReply 把模型输出解析为回复批次，永远返回至少一条消息。
//
// - {"messages":[...]} 原样使用；
// - 旧格式 {"reply": "..."} 包成单条；
// - 其他 JSON 或无法解析的文本整体作为单条；
// - messages 为空数组时返回断线兜底文案。
func ParseReply(content string) []model.ReplyMessage {
	cleaned := StripFence(content)

	var raw map[string]json.RawMessage
	if err := json.Unmarshal([]byte(cleaned), &raw); err != nil {
		return []model.ReplyMessage{{Content: cleaned}}
	}

	if data, ok := raw["messages"]; ok {
		var msgs []model.ReplyMessage
		if err := json.Unmarshal(data, &msgs); err != nil {
			return []model.ReplyMessage{{Content: cleaned}}
		}
		if len(msgs) == 0 {
			return []model.ReplyMessage{{Content: MissingReplyText}}
		}
		return msgs
	}

	if data, ok := raw["reply"]; ok {
		var reply string
		if err := json.Unmarshal(data, &reply); err == nil && reply != "" {
			return []model.ReplyMessage{{Content: reply}}
		}
		return []model.ReplyMessage{{Content: MissingReplyText}}
	}

	return []model.ReplyMessage{{Content: cleaned}}
}
