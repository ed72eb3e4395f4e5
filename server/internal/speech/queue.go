package speech

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrQueueClosed 表示队列已关闭。
var ErrQueueClosed = errors.New("speech queue closed")

// Clip 是一段合成好的音频。
type Clip struct {
	AudioBase64 string  `json:"audio_base64"`
	DurationMs  float64 `json:"duration_ms"`
}

// Empty 判断是否没有可播放的内容。
func (c Clip) Empty() bool { return c.AudioBase64 == "" }

// Synthesizer 把文本合成为音频。
type Synthesizer interface {
	Synthesize(ctx context.Context, text, voiceID string) (Clip, error)
}

// Item 是队列中的一条待播放语音。
type Item struct {
	ID         string
	Text       string
	VoiceID    string
	EnqueuedAt time.Time
}

// Player 播放一段音频，返回时视为播放结束。
type Player interface {
	Play(ctx context.Context, item Item, clip Clip) error
}

// PlayerFunc 让普通函数实现 Player。
type PlayerFunc func(ctx context.Context, item Item, clip Clip) error

func (f PlayerFunc) Play(ctx context.Context, item Item, clip Clip) error {
	return f(ctx, item, clip)
}

type pendingItem struct {
	item Item
	done chan struct{}
	clip Clip
	err  error
}

const defaultSynthTimeout = 30 * time.Second

// Queue 是显式的 FIFO 语音队列：合成并发进行，播放严格按入队顺序、单消费者执行。
//
// 约定：
// - Enqueue 立即发起合成，不等待前面的条目。
// - 消费者只等待队头的合成结果，后入队的条目即使先合成完也要排队。
// - 合成失败或返回空音频时该条目是原地的空操作，不阻塞后续条目。
// - 不支持取消单个条目；换音色只影响之后的 Enqueue。
type Queue struct {
	synth  Synthesizer
	player Player
	logger *log.Logger

	mu     sync.Mutex
	items  []*pendingItem
	wake   chan struct{}
	closed bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	synthTimeout time.Duration

	// 统计信息
	enqueued int64
	played   int64
	skipped  int64
}

// NewQueue 创建队列并启动消费者。
func NewQueue(synth Synthesizer, player Player, logger *log.Logger) *Queue {
	if logger == nil {
		logger = log.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{
		synth:        synth,
		player:       player,
		logger:       logger,
		wake:         make(chan struct{}, 1),
		ctx:          ctx,
		cancel:       cancel,
		synthTimeout: defaultSynthTimeout,
	}
	q.wg.Add(1)
	go q.consume()
	return q
}

// Enqueue 入队一条语音并立即开始合成，返回条目 ID。
func (q *Queue) Enqueue(text, voiceID string) (string, error) {
	p := &pendingItem{
		item: Item{
			ID:         uuid.NewString(),
			Text:       text,
			VoiceID:    voiceID,
			EnqueuedAt: time.Now(),
		},
		done: make(chan struct{}),
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return "", ErrQueueClosed
	}
	q.items = append(q.items, p)
	q.enqueued++
	q.mu.Unlock()

	go q.synthesize(p)

	select {
	case q.wake <- struct{}{}:
	default:
	}
	return p.item.ID, nil
}

func (q *Queue) synthesize(p *pendingItem) {
	defer close(p.done)
	if q.synth == nil {
		return
	}
	ctx, cancel := context.WithTimeout(q.ctx, q.synthTimeout)
	defer cancel()
	p.clip, p.err = q.synth.Synthesize(ctx, p.item.Text, p.item.VoiceID)
}

func (q *Queue) pop() *pendingItem {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil
	}
	head := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	return head
}

// consume 是唯一的消费者：取队头，等它合成完成，再播放。
func (q *Queue) consume() {
	defer q.wg.Done()
	for {
		head := q.pop()
		if head == nil {
			select {
			case <-q.ctx.Done():
				return
			case <-q.wake:
				continue
			}
		}

		select {
		case <-q.ctx.Done():
			return
		case <-head.done:
		}

		if head.err != nil || head.clip.Empty() {
			if head.err != nil {
				q.logger.Printf("[SpeechQueue] ⚠️ synthesis failed id=%s err=%v", head.item.ID, head.err)
			}
			q.mu.Lock()
			q.skipped++
			q.mu.Unlock()
			continue
		}

		if q.player != nil {
			if err := q.player.Play(q.ctx, head.item, head.clip); err != nil {
				q.logger.Printf("[SpeechQueue] ❌ playback failed id=%s err=%v", head.item.ID, err)
			}
		}
		q.mu.Lock()
		q.played++
		q.mu.Unlock()
	}
}

// Close 停止消费者，未播放的条目直接丢弃。
func (q *Queue) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	q.mu.Unlock()

	q.cancel()
	q.wg.Wait()

	stats := q.Stats()
	q.logger.Printf("[SpeechQueue] Closed: enqueued=%d played=%d skipped=%d pending=%d",
		stats.Enqueued, stats.Played, stats.Skipped, stats.Pending)
	return nil
}

// Stats 是队列统计信息。
type Stats struct {
	Enqueued int64 `json:"enqueued"`
	Played   int64 `json:"played"`
	Skipped  int64 `json:"skipped"`
	Pending  int   `json:"pending"`
}

// Stats 获取队列统计信息
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Stats{
		Enqueued: q.enqueued,
		Played:   q.played,
		Skipped:  q.skipped,
		Pending:  len(q.items),
	}
}

// SleepPlayer 返回一个按音频时长等待的 Player，notify 在开始播放时调用（例如推送给客户端）。
func SleepPlayer(notify func(item Item, clip Clip)) Player {
	return PlayerFunc(func(ctx context.Context, item Item, clip Clip) error {
		if notify != nil {
			notify(item, clip)
		}
		timer := time.NewTimer(time.Duration(clip.DurationMs * float64(time.Millisecond)))
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			return nil
		}
	})
}
