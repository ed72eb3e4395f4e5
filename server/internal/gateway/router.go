package gateway

import (
	"context"
	"fmt"

	"pocket-companion/server/internal/model"
)

// Chat 是对话编排器在网关侧需要的能力，*orchestrator.Orchestrator 实现了它。
type Chat interface {
	SendUserMessage(ctx context.Context, ch model.Channel, content string) error
	Focus(ch model.Channel, focused bool) error
}

// Presence 接收玩家活动与页面可见性，*presence.Monitor 实现了它。
type Presence interface {
	Activity()
	VisibilityChanged(visible bool) bool
}

// Clock 是时间控制，*world.World 实现了它。
type Clock interface {
	SetSpeed(index int) error
	CycleSpeed() int
	Sync() model.ResolvedState
}

// Router 把客户端帧分发到核心组件。
type Router struct {
	Chat     Chat
	Presence Presence
	Clock    Clock
}

// Handle 实现 EventHandler。除 visibility 外的任何帧都算一次玩家活动。
func (r *Router) Handle(ctx context.Context, msg *ClientMessage) error {
	if r.Presence != nil && msg.Type != EventTypeVisibility {
		r.Presence.Activity()
	}

	switch msg.Type {
	case EventTypeActivity:
		return nil
	case EventTypeUserMessage:
		return r.Chat.SendUserMessage(ctx, msg.Channel, msg.Content)
	case EventTypeFocus:
		focused := msg.Focused != nil && *msg.Focused
		return r.Chat.Focus(msg.Channel, focused)
	case EventTypeVisibility:
		if r.Presence != nil && msg.Visible != nil {
			r.Presence.VisibilityChanged(*msg.Visible)
		}
		return nil
	case EventTypeSpeed:
		if msg.Index == nil {
			r.Clock.CycleSpeed()
			return nil
		}
		return r.Clock.SetSpeed(*msg.Index)
	case EventTypeSync:
		r.Clock.Sync()
		return nil
	default:
		return fmt.Errorf("unsupported event type: %s", msg.Type)
	}
}
