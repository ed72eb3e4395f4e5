package gateway

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"
)

var (
	ErrQueueClosed = errors.New("event queue closed")
	ErrQueueFull   = errors.New("event queue full")
)

// EventQueue 为单个客户端连接串行处理上行事件。
// 同一连接先后发出的 user_message/focus/visibility 按到达顺序进入核心，
// 读循环本身不会被慢处理阻塞。
type EventQueue struct {
	connID   string
	handler  EventHandler
	events   chan *queuedEvent
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	logger   *log.Logger
	timeout  time.Duration
	slowWarn time.Duration

	closeOnce sync.Once

	// 统计信息
	mu        sync.Mutex
	total     int64
	processed int64
	failed    int64
	dropped   int64
}

type queuedEvent struct {
	msg      *ClientMessage
	queuedAt time.Time
	resultCh chan error // 非空时 EnqueueSync 等待处理结果
}

// QueueStats 是队列的统计快照。
type QueueStats struct {
	Total     int64 `json:"total"`
	Processed int64 `json:"processed"`
	Failed    int64 `json:"failed"`
	Dropped   int64 `json:"dropped"`
	Pending   int   `json:"pending"`
	Capacity  int   `json:"capacity"`
}

const (
	// 队列容量：超过此值的事件将被丢弃（背压控制）
	defaultQueueCapacity = 64
	// 单个事件处理超时
	defaultEventTimeout = 10 * time.Second
)

// NewEventQueue 创建事件队列并启动处理协程
func NewEventQueue(connID string, handler EventHandler, logger *log.Logger) *EventQueue {
	if logger == nil {
		logger = log.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())

	q := &EventQueue{
		connID:   connID,
		handler:  handler,
		events:   make(chan *queuedEvent, defaultQueueCapacity),
		ctx:      ctx,
		cancel:   cancel,
		logger:   logger,
		timeout:  defaultEventTimeout,
		slowWarn: 5 * time.Second,
	}

	q.wg.Add(1)
	go q.processLoop()
	return q
}

// Enqueue 非阻塞入队，队列满时丢弃并返回 ErrQueueFull
func (q *EventQueue) Enqueue(msg *ClientMessage) error {
	if q.ctx.Err() != nil {
		return ErrQueueClosed
	}

	select {
	case q.events <- &queuedEvent{msg: msg, queuedAt: time.Now()}:
		q.mu.Lock()
		q.total++
		q.mu.Unlock()
		return nil
	default:
		q.mu.Lock()
		q.dropped++
		q.mu.Unlock()
		q.logger.Printf("[EventQueue] ⚠️ conn=%s queue full, dropping type=%s", q.connID, msg.Type)
		return ErrQueueFull
	}
}

// EnqueueSync 入队并等待处理完成，返回处理器的错误
func (q *EventQueue) EnqueueSync(ctx context.Context, msg *ClientMessage) error {
	if q.ctx.Err() != nil {
		return ErrQueueClosed
	}

	evt := &queuedEvent{msg: msg, queuedAt: time.Now(), resultCh: make(chan error, 1)}
	select {
	case q.events <- evt:
		q.mu.Lock()
		q.total++
		q.mu.Unlock()
	case <-ctx.Done():
		return ctx.Err()
	case <-q.ctx.Done():
		return ErrQueueClosed
	}

	select {
	case err := <-evt.resultCh:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-q.ctx.Done():
		return ErrQueueClosed
	}
}

func (q *EventQueue) processLoop() {
	defer q.wg.Done()
	for {
		select {
		case <-q.ctx.Done():
			return
		case evt := <-q.events:
			q.process(evt)
		}
	}
}

func (q *EventQueue) process(evt *queuedEvent) {
	start := time.Now()

	ctx, cancel := context.WithTimeout(q.ctx, q.timeout)
	err := q.handler(ctx, evt.msg)
	cancel()

	elapsed := time.Since(start)
	q.mu.Lock()
	q.processed++
	if err != nil {
		q.failed++
	}
	q.mu.Unlock()

	if err != nil {
		q.logger.Printf("[EventQueue] ❌ conn=%s type=%s error=%v", q.connID, evt.msg.Type, err)
	}
	if elapsed > q.slowWarn {
		q.logger.Printf("[EventQueue] ⚠️ conn=%s slow event type=%s queue_latency=%v processing_time=%v",
			q.connID, evt.msg.Type, start.Sub(evt.queuedAt), elapsed)
	}

	if evt.resultCh != nil {
		evt.resultCh <- err
	}
}

// Close 停止处理协程，未处理的事件被丢弃
func (q *EventQueue) Close() error {
	q.closeOnce.Do(func() {
		q.cancel()
		q.wg.Wait()
		st := q.Stats()
		q.logger.Printf("[EventQueue] conn=%s closed total=%d processed=%d failed=%d dropped=%d pending=%d",
			q.connID, st.Total, st.Processed, st.Failed, st.Dropped, st.Pending)
	})
	return nil
}

// Stats 返回统计快照
func (q *EventQueue) Stats() QueueStats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return QueueStats{
		Total:     q.total,
		Processed: q.processed,
		Failed:    q.failed,
		Dropped:   q.dropped,
		Pending:   len(q.events),
		Capacity:  cap(q.events),
	}
}
