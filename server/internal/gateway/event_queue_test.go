package gateway

import (
	"context"
	"errors"
	"io"
	"log"
	"sync"
	"testing"
	"time"
)

var quietLogger = log.New(io.Discard, "", 0)

// TestEventQueueSerialOrder 验证同一连接的事件按到达顺序串行处理。
func TestEventQueueSerialOrder(t *testing.T) {
	var mu sync.Mutex
	var got []string
	handler := func(ctx context.Context, msg *ClientMessage) error {
		mu.Lock()
		got = append(got, msg.Content)
		mu.Unlock()
		time.Sleep(2 * time.Millisecond)
		return nil
	}

	q := NewEventQueue("conn-1", handler, quietLogger)
	defer q.Close()

	want := []string{"a", "b", "c", "d"}
	for _, c := range want {
		if err := q.Enqueue(&ClientMessage{Type: EventTypeUserMessage, Content: c}); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}
	if err := q.EnqueueSync(context.Background(), &ClientMessage{Type: EventTypeActivity, Content: "end"}); err != nil {
		t.Fatalf("sync enqueue: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 5 {
		t.Fatalf("expected 5 processed, got %v", got)
	}
	for i, c := range want {
		if got[i] != c {
			t.Fatalf("order mismatch at %d: %v", i, got)
		}
	}
}

// TestEventQueueBackPressure 验证处理器阻塞时超出容量的事件被丢弃。
func TestEventQueueBackPressure(t *testing.T) {
	block := make(chan struct{})
	handler := func(ctx context.Context, msg *ClientMessage) error {
		<-block
		return nil
	}
	q := NewEventQueue("conn-2", handler, quietLogger)
	defer q.Close()
	defer close(block)

	var full int
	for i := 0; i < defaultQueueCapacity+10; i++ {
		if err := q.Enqueue(&ClientMessage{Type: EventTypeActivity}); errors.Is(err, ErrQueueFull) {
			full++
		}
	}
	if full == 0 {
		t.Fatalf("expected some events dropped")
	}
	if st := q.Stats(); st.Dropped != int64(full) {
		t.Fatalf("expected dropped=%d, got %+v", full, st)
	}
}

// TestEventQueueSyncReturnsHandlerError 验证同步入队返回处理器错误，且错误不影响后续事件。
func TestEventQueueSyncReturnsHandlerError(t *testing.T) {
	boom := errors.New("boom")
	handler := func(ctx context.Context, msg *ClientMessage) error {
		if msg.Type == EventTypeSync {
			return boom
		}
		return nil
	}
	q := NewEventQueue("conn-3", handler, quietLogger)
	defer q.Close()

	if err := q.EnqueueSync(context.Background(), &ClientMessage{Type: EventTypeSync}); !errors.Is(err, boom) {
		t.Fatalf("expected handler error, got %v", err)
	}
	if err := q.EnqueueSync(context.Background(), &ClientMessage{Type: EventTypeActivity}); err != nil {
		t.Fatalf("expected next event ok, got %v", err)
	}
	st := q.Stats()
	if st.Processed != 2 || st.Failed != 1 {
		t.Fatalf("unexpected stats: %+v", st)
	}
}

// TestEventQueueSyncContextTimeout 验证调用方超时先于处理完成时返回 ctx 错误。
func TestEventQueueSyncContextTimeout(t *testing.T) {
	release := make(chan struct{})
	handler := func(ctx context.Context, msg *ClientMessage) error {
		select {
		case <-release:
		case <-ctx.Done():
		}
		return nil
	}
	q := NewEventQueue("conn-4", handler, quietLogger)
	defer q.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if err := q.EnqueueSync(ctx, &ClientMessage{Type: EventTypeActivity}); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

// TestEventQueueEnqueueAfterClose 验证关闭后入队返回 ErrQueueClosed，重复关闭安全。
func TestEventQueueEnqueueAfterClose(t *testing.T) {
	q := NewEventQueue("conn-5", func(ctx context.Context, msg *ClientMessage) error { return nil }, quietLogger)
	_ = q.Close()
	_ = q.Close()

	if err := q.Enqueue(&ClientMessage{Type: EventTypeActivity}); !errors.Is(err, ErrQueueClosed) {
		t.Fatalf("expected ErrQueueClosed, got %v", err)
	}
	if err := q.EnqueueSync(context.Background(), &ClientMessage{Type: EventTypeActivity}); !errors.Is(err, ErrQueueClosed) {
		t.Fatalf("expected ErrQueueClosed from sync, got %v", err)
	}
}

func BenchmarkEventQueueEnqueue(b *testing.B) {
	q := NewEventQueue("bench", func(ctx context.Context, msg *ClientMessage) error { return nil }, quietLogger)
	defer q.Close()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = q.Enqueue(&ClientMessage{Type: EventTypeActivity})
	}
}
