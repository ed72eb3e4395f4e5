package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"strings"
	"sync"
	"time"

	"pocket-companion/server/internal/companion"
	"pocket-companion/server/internal/model"
	"pocket-companion/server/internal/session"
)

var (
	// ErrUnknownChannel 表示通道名不合法。
	ErrUnknownChannel = errors.New("unknown channel")
	// ErrEmptyMessage 表示用户消息为空。
	ErrEmptyMessage = errors.New("empty message")
	// ErrClosed 表示编排器已关闭。
	ErrClosed = errors.New("orchestrator closed")
)

// SpeedSource 提供当前时间流速，*clock.Clock 实现了它。
type SpeedSource interface {
	Preset() (model.SpeedPreset, int)
}

// Speaker 接收需要朗读的文本，*speech.Queue 实现了它。
type Speaker interface {
	Enqueue(text, voiceID string) (string, error)
}

// Config 编排器的节奏参数。
type Config struct {
	HistoryWindow  int
	NetworkLatency time.Duration
	LongWait       time.Duration
	TypingWindow   time.Duration
	FaceToFace     Pacing
	Remote         Pacing
	BubbleLinger   time.Duration
	Voice          bool
}

// DefaultConfig 返回默认节奏参数。
func DefaultConfig() Config {
	return Config{
		HistoryWindow:  5,
		NetworkLatency: DefaultNetworkLatency,
		LongWait:       DefaultLongWait,
		TypingWindow:   DefaultTypingWindow,
		FaceToFace:     FaceToFacePacing,
		Remote:         RemotePacing,
		BubbleLinger:   8 * time.Second,
		Voice:          true,
	}
}

// Orchestrator 负责把用户输入变成一批按节奏投递的角色回复。
//
// 职责与契约：
// - append-first：用户消息先写入历史，再发起请求；回复在展示时才写入历史。
// - 每个通道同时最多一条流水线，进行中的输入只记 pending，结束后补一次请求。
// - 协作方失败时降级为固定文案，不让通道卡在等待状态。
// - 每完成一次交换就落盘一次存档。
type Orchestrator struct {
	sess    *session.Session
	service companion.Service
	speed   SpeedSource
	store   session.Store
	speaker Speaker
	cfg     Config
	logger  *log.Logger

	mu       sync.Mutex
	channels map[model.Channel]*channelFSM
	closed   bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	sleep func(ctx context.Context, d time.Duration) error
	rand  func() float64
}

type Option func(*Orchestrator)

func WithLogger(logger *log.Logger) Option {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithSpeaker 开启语音朗读。
func WithSpeaker(s Speaker) Option {
	return func(o *Orchestrator) { o.speaker = s }
}

// WithSleep 注入等待函数，测试用。
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(o *Orchestrator) {
		if sleep != nil {
			o.sleep = sleep
		}
	}
}

// WithRand 注入 [0,1) 随机源，测试用。
func WithRand(r func() float64) Option {
	return func(o *Orchestrator) {
		if r != nil {
			o.rand = r
		}
	}
}

func New(sess *session.Session, service companion.Service, speed SpeedSource, store session.Store, cfg Config, opts ...Option) *Orchestrator {
	if cfg.HistoryWindow <= 0 {
		cfg.HistoryWindow = 5
	}
	ctx, cancel := context.WithCancel(context.Background())
	o := &Orchestrator{
		sess:    sess,
		service: service,
		speed:   speed,
		store:   store,
		cfg:     cfg,
		logger:  log.Default(),
		channels: map[model.Channel]*channelFSM{
			model.ChannelFaceToFace: {phase: PhaseIdle},
			model.ChannelRemote:     {phase: PhaseIdle},
		},
		ctx:    ctx,
		cancel: cancel,
		sleep:  sleepCtx,
		rand:   rand.Float64,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// SendUserMessage 记录一条用户消息并触发该通道的回复流水线。
//
// 流水线已在运行时只记 pending，不会并发发起第二个请求。
func (o *Orchestrator) SendUserMessage(ctx context.Context, ch model.Channel, content string) error {
	if !ch.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownChannel, ch)
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return ErrEmptyMessage
	}

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return ErrClosed
	}
	o.mu.Unlock()

	// append-first：先写历史，再决定是否发起请求，pending 补发时能看到这条消息。
	if err := o.sess.AppendTurn(ctx, model.RoleUser, content); err != nil {
		return err
	}

	o.mu.Lock()
	fsm := o.channels[ch]
	started := fsm.begin()
	run := fsm.run
	o.mu.Unlock()

	if !started {
		o.logger.Printf("[Orchestrator] channel=%s busy, marked pending", ch)
		return nil
	}
	o.spawn(ch, run, "", false)
	return nil
}

// RequestUtterance 让角色在当面通道主动说一句话，instruction 作为旁白注入，不写入历史。
// 通道忙时直接放弃，返回 false。
func (o *Orchestrator) RequestUtterance(_ context.Context, instruction string) bool {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return false
	}
	fsm := o.channels[model.ChannelFaceToFace]
	if !fsm.tryBegin() {
		o.mu.Unlock()
		return false
	}
	run := fsm.run
	o.mu.Unlock()

	o.spawn(model.ChannelFaceToFace, run, instruction, true)
	return true
}

// Focus 记录用户是否正在看某个通道；聚焦时清除未读并通知。
func (o *Orchestrator) Focus(ch model.Channel, focused bool) error {
	if !ch.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownChannel, ch)
	}
	if o.sess.SetFocus(ch, focused) {
		o.sess.Publish(session.Notification{Type: session.NotifyUnread, Channel: ch, On: false})
	}
	return nil
}

// Busy 判断是否有任意通道的流水线在运行。
func (o *Orchestrator) Busy() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, fsm := range o.channels {
		if fsm.phase != PhaseIdle {
			return true
		}
	}
	return false
}

// Phase 返回通道当前的流水线状态。
func (o *Orchestrator) Phase(ch model.Channel) Phase {
	o.mu.Lock()
	defer o.mu.Unlock()
	if fsm, ok := o.channels[ch]; ok {
		return fsm.phase
	}
	return PhaseIdle
}

// Close 取消所有进行中的流水线并等待退出。
func (o *Orchestrator) Close() {
	o.mu.Lock()
	o.closed = true
	o.mu.Unlock()
	o.cancel()
	o.wg.Wait()
}

func (o *Orchestrator) spawn(ch model.Channel, run uint64, instruction string, proactive bool) {
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.runChannel(o.ctx, ch, run, instruction, proactive)
	}()
}

// runChannel 执行一条流水线：等待 -> 请求 -> 投递 -> 落盘；有 pending 时循环补发。
func (o *Orchestrator) runChannel(ctx context.Context, ch model.Channel, run uint64, instruction string, proactive bool) {
	for {
		batch, err := o.fetch(ctx, ch, instruction)
		if err != nil {
			o.abort(ch)
			return
		}
		if proactive {
			batch = joinBatch(batch)
		}

		o.mu.Lock()
		err = o.channels[ch].deliver()
		o.mu.Unlock()
		if err != nil {
			o.logger.Printf("[Orchestrator] ⚠️ channel=%s %v", ch, err)
			o.abort(ch)
			return
		}

		if err := o.deliver(ctx, ch, batch, proactive); err != nil {
			o.abort(ch)
			return
		}
		o.persist(ctx)

		o.mu.Lock()
		again, err := o.channels[ch].finish()
		run = o.channels[ch].run
		o.mu.Unlock()
		if err != nil {
			o.logger.Printf("[Orchestrator] ⚠️ channel=%s %v", ch, err)
			o.abort(ch)
			return
		}
		if !again {
			break
		}
		o.logger.Printf("[Orchestrator] channel=%s flushing pending input", ch)
		instruction, proactive = "", false
	}

	if ch == model.ChannelFaceToFace {
		o.linger(ctx, run)
	}
}

// fetch 按通道规则等待后向协作方请求一批回复。协作方失败时返回降级文案。
func (o *Orchestrator) fetch(ctx context.Context, ch model.Channel, instruction string) ([]model.ReplyMessage, error) {
	resolved := o.sess.Resolved()

	switch ch {
	case model.ChannelRemote:
		preset, _ := o.speed.Preset()
		wait := ReplyWait(resolved.ReplyDelay, preset, o.rand(), o.cfg.NetworkLatency)
		silent, typing := SplitTyping(wait, o.cfg.LongWait, o.cfg.TypingWindow)
		o.logger.Printf("[Orchestrator] channel=%s reply wait=%s (silent=%s typing=%s)", ch, wait, silent, typing)
		if err := o.sleep(ctx, silent); err != nil {
			return nil, err
		}
		o.typing(ch, true)
		if err := o.sleep(ctx, typing); err != nil {
			o.typing(ch, false)
			return nil, err
		}
	default:
		o.typing(ch, true)
	}

	history, err := o.sess.RecentHistory(ctx, o.cfg.HistoryWindow)
	if err != nil {
		o.logger.Printf("[Orchestrator] ⚠️ load history failed: %v", err)
	}
	req := companion.ChatRequest{
		Persona:      o.sess.Persona(),
		TimeInfo:     companion.TimeInfo(resolved),
		ScheduleInfo: companion.ScheduleInfo(o.sess.Schedule()),
		UserMessage:  instruction,
		History:      history,
	}

	batch, err := o.service.ChatReply(ctx, req)
	if err != nil {
		if ctx.Err() != nil {
			o.typing(ch, false)
			return nil, ctx.Err()
		}
		o.logger.Printf("[Orchestrator] ❌ chat reply failed channel=%s: %v", ch, err)
		return []model.ReplyMessage{{Content: companion.FailedChatText}}, nil
	}
	if len(batch) == 0 {
		return []model.ReplyMessage{{Content: companion.MissingReplyText}}, nil
	}
	return batch, nil
}

func (o *Orchestrator) typing(ch model.Channel, on bool) {
	o.sess.Publish(session.Notification{Type: session.NotifyTyping, Channel: ch, On: on})
}

// persist 落盘存档，失败只记日志。
func (o *Orchestrator) persist(ctx context.Context) {
	if o.store == nil {
		return
	}
	rec, err := o.sess.Record(ctx)
	if err == nil {
		err = o.store.Save(ctx, rec)
	}
	if err != nil {
		o.logger.Printf("[Orchestrator] ⚠️ persist failed: %v", err)
	}
}

// linger 当面气泡停留一段时间后隐藏；期间开始了新流水线则不隐藏。
func (o *Orchestrator) linger(ctx context.Context, run uint64) {
	if err := o.sleep(ctx, o.cfg.BubbleLinger); err != nil {
		return
	}
	o.mu.Lock()
	fsm := o.channels[model.ChannelFaceToFace]
	stale := fsm.run != run || fsm.phase != PhaseIdle
	o.mu.Unlock()
	if stale {
		return
	}
	o.sess.Publish(session.Notification{Type: session.NotifyBubbleHidden, Channel: model.ChannelFaceToFace})
}

func (o *Orchestrator) abort(ch model.Channel) {
	o.mu.Lock()
	o.channels[ch].abort()
	o.mu.Unlock()
	o.logger.Printf("[Orchestrator] channel=%s aborted", ch)
}

// joinBatch 主动发言只展示一条气泡。
func joinBatch(batch []model.ReplyMessage) []model.ReplyMessage {
	if len(batch) <= 1 {
		return batch
	}
	parts := make([]string, 0, len(batch))
	for _, m := range batch {
		if m.Content != "" {
			parts = append(parts, m.Content)
		}
	}
	return []model.ReplyMessage{{Content: strings.Join(parts, " ")}}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
