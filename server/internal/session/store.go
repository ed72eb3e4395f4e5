package session

import (
	"context"
	"errors"

	"pocket-companion/server/internal/model"
)

// ErrNoRecord 表示还没有任何存档（首次启动）。
var ErrNoRecord = errors.New("no persisted record")

// Store 持久化整份 PersistenceRecord：启动时读一次，作息重生成与每次对话交换完成后写入。
type Store interface {
	Load(ctx context.Context) (*model.PersistenceRecord, error)
	Save(ctx context.Context, rec *model.PersistenceRecord) error
}
