package orchestrator

import (
	"context"

	"pocket-companion/server/internal/model"
	"pocket-companion/server/internal/session"
)

// deliver 按顺序逐条展示一批回复。
//
// 规则：
// - delay_seconds > 0 或不是第一条时，先显示“正在输入”至少 1 秒。
// - 每条在展示的同一时刻写入历史，之后才轮到下一条。
// - 当面通道按上一条长度停顿；手机通道只在没有打字停顿的消息后停顿。
// - 批次中的每一条都会展示，不会被丢弃或重排。
func (o *Orchestrator) deliver(ctx context.Context, ch model.Channel, batch []model.ReplyMessage, proactive bool) error {
	last := len(batch) - 1
	for i, msg := range batch {
		if d := ComposeDuration(i, msg.DelaySeconds); d > 0 {
			o.typing(ch, true)
			if err := o.sleep(ctx, d); err != nil {
				o.typing(ch, false)
				return err
			}
		}
		o.typing(ch, false)
		o.reveal(ctx, ch, i, msg.Content, proactive)

		if i == last {
			break
		}
		switch ch {
		case model.ChannelFaceToFace:
			if err := o.sleep(ctx, Pause(msg.Content, o.cfg.FaceToFace)); err != nil {
				return err
			}
		case model.ChannelRemote:
			if msg.DelaySeconds <= 0 {
				if err := o.sleep(ctx, Pause(msg.Content, o.cfg.Remote)); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// reveal 展示一条消息：写历史、发通知、处理未读与朗读。
func (o *Orchestrator) reveal(ctx context.Context, ch model.Channel, index int, content string, proactive bool) {
	if err := o.sess.AppendTurn(ctx, model.RoleAssistant, content); err != nil {
		o.logger.Printf("[Orchestrator] ⚠️ append reply failed: %v", err)
	}

	typ := session.NotifyMessage
	if proactive {
		typ = session.NotifyProactive
	}
	o.sess.Publish(session.Notification{Type: typ, Channel: ch, Text: content, Index: index})

	if ch == model.ChannelRemote && o.sess.MarkUnread(ch) {
		o.sess.Publish(session.Notification{Type: session.NotifyUnread, Channel: ch, On: true})
	}

	if o.cfg.Voice && o.speaker != nil && content != "" {
		if _, err := o.speaker.Enqueue(content, o.sess.Persona().VoiceID); err != nil {
			o.logger.Printf("[Orchestrator] ⚠️ enqueue voice failed: %v", err)
		}
	}
}
