package timeline

import (
	"context"
	"time"

	"pocket-companion/server/internal/model"
)

// Entry 是对话历史中的一条记录，seq 在同一 session 内单调递增。
type Entry struct {
	Seq int64 `json:"seq"`
	model.ChatTurn
	At time.Time `json:"at"`
}

type Store interface {
	// Append 以 append-only 的契约写入历史，返回本次写入的 seq。
	// 约定：同一 session 的 seq 单调递增，写入后立即对 Suffix/List 可见。
	Append(ctx context.Context, sessionID string, turn model.ChatTurn) (int64, error)
	// List 返回该 session 的完整历史，用于持久化。
	List(ctx context.Context, sessionID string) ([]Entry, error)
	// Suffix 返回最近 n 条，用于拼装回复请求的上下文。
	Suffix(ctx context.Context, sessionID string, n int) ([]Entry, error)
	// Reset 用给定历史整体替换（启动时从存档恢复 / 换角色时清空）。
	Reset(ctx context.Context, sessionID string, turns []model.ChatTurn) error
}

// Turns 去掉 seq 等元数据，得到可直接落盘或发给回复服务的历史。
func Turns(entries []Entry) []model.ChatTurn {
	out := make([]model.ChatTurn, len(entries))
	for i, e := range entries {
		out[i] = e.ChatTurn
	}
	return out
}
