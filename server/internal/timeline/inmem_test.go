package timeline

import (
	"context"
	"testing"

	"pocket-companion/server/internal/model"
)

func userTurn(text string) model.ChatTurn {
	return model.ChatTurn{Role: model.RoleUser, Content: text}
}

// TestInMemoryStoreAppendAssignsSeq 验证 Append 为历史分配递增的 seq。
// 场景：连续追加两条，验证 seq 递增。
func TestInMemoryStoreAppendAssignsSeq(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()

	seq1, err := store.Append(ctx, "s1", userTurn("hi"))
	if err != nil {
		t.Fatalf("append turn: %v", err)
	}
	if seq1 != 1 {
		t.Fatalf("expected seq 1, got %d", seq1)
	}

	seq2, err := store.Append(ctx, "s1", model.ChatTurn{Role: model.RoleAssistant, Content: "嗯"})
	if err != nil {
		t.Fatalf("append turn: %v", err)
	}
	if seq2 != 2 {
		t.Fatalf("expected seq 2, got %d", seq2)
	}
}

// TestInMemoryStoreListReturnsCopy 验证 List 返回副本，防止外部修改影响内部状态。
func TestInMemoryStoreListReturnsCopy(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()

	if _, err := store.Append(ctx, "s1", userTurn("hi")); err != nil {
		t.Fatalf("append turn: %v", err)
	}

	entries, err := store.List(ctx, "s1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	entries[0].Content = "mutated"

	again, err := store.List(ctx, "s1")
	if err != nil {
		t.Fatalf("list again: %v", err)
	}
	if again[0].Content != "hi" {
		t.Fatalf("expected internal data unchanged, got %q", again[0].Content)
	}
}

// TestInMemoryStoreSuffix 验证 Suffix 只返回最近 n 条，且保持顺序。
func TestInMemoryStoreSuffix(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()

	for _, text := range []string{"1", "2", "3", "4", "5", "6", "7"} {
		if _, err := store.Append(ctx, "s1", userTurn(text)); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	suffix, err := store.Suffix(ctx, "s1", 5)
	if err != nil {
		t.Fatalf("suffix: %v", err)
	}
	if len(suffix) != 5 || suffix[0].Content != "3" || suffix[4].Content != "7" {
		t.Fatalf("unexpected suffix: %+v", Turns(suffix))
	}

	short, _ := store.Suffix(ctx, "s1", 50)
	if len(short) != 7 {
		t.Fatalf("expected whole history when n exceeds length, got %d", len(short))
	}
}

// TestInMemoryStoreReset 验证 Reset 替换历史，seq 不回退。
func TestInMemoryStoreReset(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()

	_, _ = store.Append(ctx, "s1", userTurn("old"))
	if err := store.Reset(ctx, "s1", []model.ChatTurn{userTurn("a"), userTurn("b")}); err != nil {
		t.Fatalf("reset: %v", err)
	}
	entries, _ := store.List(ctx, "s1")
	if len(entries) != 2 || entries[0].Content != "a" {
		t.Fatalf("unexpected entries after reset: %+v", entries)
	}
	if entries[0].Seq <= 1 {
		t.Fatalf("expected seq to keep increasing, got %d", entries[0].Seq)
	}

	if err := store.Reset(ctx, "s1", nil); err != nil {
		t.Fatalf("reset empty: %v", err)
	}
	if entries, _ := store.List(ctx, "s1"); len(entries) != 0 {
		t.Fatalf("expected empty history, got %d", len(entries))
	}
}
