package companion

import (
	"context"
	"encoding/json"
	"fmt"

	"pocket-companion/server/internal/model"
	"pocket-companion/server/internal/state"
)

// Service 是生成式协作方的边界：它决定“说什么”，核心只决定何时、以什么顺序说。
//
// 约定：网络/上游失败返回 error，由调用方降级为固定文案；
// 上游返回内容无法解析时，由实现自己降级为默认值并返回 nil error。
type Service interface {
	// GenerateSchedule 根据角色生成每周作息。
	GenerateSchedule(ctx context.Context, persona model.Persona) (*model.Schedule, error)
	// ChatReply 生成一批回复。UserMessage 为空表示“根据历史接着回”。
	ChatReply(ctx context.Context, req ChatRequest) ([]model.ReplyMessage, error)
	// RandomEvent 生成一个突发事件草稿。
	RandomEvent(ctx context.Context, req EventRequest) (*state.EventDraft, error)
	// Surprise 生成一张桌上的便签。
	Surprise(ctx context.Context, req EventRequest) (string, error)
}

// ChatRequest 是一次回复请求的上下文。
type ChatRequest struct {
	Persona      model.Persona    `json:"persona"`
	TimeInfo     string           `json:"time_info"`
	ScheduleInfo string           `json:"schedule_info"`
	UserMessage  string           `json:"user_message"`
	History      []model.ChatTurn `json:"history"`
}

// EventRequest 是突发事件/便签请求的上下文。
type EventRequest struct {
	Persona      model.Persona `json:"persona"`
	TimeInfo     string        `json:"time_info"`
	ScheduleInfo string        `json:"schedule_info"`
}

// TimeInfo 把当前虚拟时间和状态写成注入给模型的情境描述，避免模型自己推算时间。
func TimeInfo(rs model.ResolvedState) string {
	where := "在外面"
	if rs.Behavior == model.BehaviorHome || rs.Behavior == model.BehaviorSleeping {
		where = "在家里"
	}
	return fmt.Sprintf("今天是虚拟时间 星期%s 的 %s。你正在 %s (%s)。", rs.Time.Weekday(), rs.Time.Clock(), rs.Activity, where)
}

// ClockInfo 只描述钟点，用于便签。
func ClockInfo(now model.SimTime) string {
	return fmt.Sprintf("目前是 %s。", now.Clock())
}

// ScheduleInfo 把作息序列化成注入提示词的 JSON，空作息返回空串。
func ScheduleInfo(sched *model.Schedule) string {
	if sched == nil {
		return ""
	}
	data, err := json.Marshal(sched)
	if err != nil {
		return ""
	}
	return string(data)
}
