package world

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"sync"
	"time"

	"pocket-companion/server/internal/clock"
	"pocket-companion/server/internal/companion"
	"pocket-companion/server/internal/model"
	"pocket-companion/server/internal/session"
	"pocket-companion/server/internal/state"
)

// ErrRegenerating 表示已有一次作息重新生成在进行中。
var ErrRegenerating = errors.New("schedule regeneration in progress")

// Config 世界循环参数。
type Config struct {
	// EventProbability 每逢整点抽取突发事件的概率。
	EventProbability float64
	// ScheduleSettle 新作息生效前的停顿。
	ScheduleSettle time.Duration
}

// World 把虚拟时钟、作息、突发事件接到会话上：每次 tick 解析一次状态并广播。
//
// 约定：
// - 突发事件和作息生成都是 single-flight，进行中不会重复发起。
// - 异步结果返回后，以返回时刻的虚拟时间做一次完整解析。
// - 协作方失败只记日志并广播，不中断时钟。
type World struct {
	sess    *session.Session
	clock   *clock.Clock
	service companion.Service
	store   session.Store
	cfg     Config
	logger  *log.Logger

	rand  func() float64
	sleep func(ctx context.Context, d time.Duration) error

	mu           sync.Mutex
	sampling     bool
	regenerating bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type Option func(*World)

func WithLogger(logger *log.Logger) Option {
	return func(w *World) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// WithRand 注入 [0,1) 随机源，测试用。
func WithRand(r func() float64) Option {
	return func(w *World) {
		if r != nil {
			w.rand = r
		}
	}
}

// WithSleep 注入等待函数，测试用。
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(w *World) {
		if sleep != nil {
			w.sleep = sleep
		}
	}
}

func New(sess *session.Session, clk *clock.Clock, service companion.Service, store session.Store, cfg Config, opts ...Option) *World {
	if cfg.EventProbability <= 0 {
		cfg.EventProbability = state.EventProbability
	}
	ctx, cancel := context.WithCancel(context.Background())
	w := &World{
		sess:    sess,
		clock:   clk,
		service: service,
		store:   store,
		cfg:     cfg,
		logger:  log.Default(),
		rand:    rand.Float64,
		sleep:   sleepCtx,
		ctx:     ctx,
		cancel:  cancel,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

func (w *World) Session() *session.Session { return w.sess }

func (w *World) Clock() *clock.Clock { return w.clock }

// Load 读取存档并恢复会话，返回存档里是否已有作息。没有存档不算错误。
func (w *World) Load(ctx context.Context) (bool, error) {
	if w.store == nil {
		return false, nil
	}
	rec, err := w.store.Load(ctx)
	if errors.Is(err, session.ErrNoRecord) {
		w.logger.Printf("[World] no saved record, starting fresh")
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("load record: %w", err)
	}
	if err := w.sess.Restore(ctx, rec); err != nil {
		return false, err
	}
	w.logger.Printf("[World] ✅ restored persona=%s history=%d schedule=%v", rec.PersonaName, len(rec.ChatHistory), rec.Schedule != nil)
	return rec.Schedule != nil, nil
}

// Start 先按当前时间解析一次，再启动时钟。
func (w *World) Start() {
	w.refresh(w.clock.Now())
	w.clock.Start(w.onTick)
	preset, idx := w.clock.Preset()
	w.logger.Printf("[World] started at %s speed=%d(%s)", w.clock.Now(), idx, preset.Label)
}

// Stop 停止时钟并等待进行中的异步请求退出。
func (w *World) Stop() {
	w.clock.Stop()
	w.cancel()
	w.wg.Wait()
}

// onTick 在时钟 goroutine 中同步执行。
func (w *World) onTick(now model.SimTime) {
	w.refresh(now)
}

// refresh 解析并广播当前时间与状态。每次解析都要过一遍整点抽取，
// tick、对齐现实时间、作息生效后的重新解析都走这里。
func (w *World) refresh(now model.SimTime) model.ResolvedState {
	rs := w.sess.Resolve(now)
	w.publishTime(now)
	w.sess.Publish(session.Notification{Type: session.NotifyState, State: &rs})
	if state.ShouldSample(now, w.sess.EventActive(now), w.rand(), w.cfg.EventProbability) {
		w.sampleEvent()
	}
	return rs
}

func (w *World) publishTime(now model.SimTime) {
	preset, idx := w.clock.Preset()
	w.sess.Publish(session.Notification{
		Type: session.NotifyTime,
		Time: &now,
		Speed: &session.SpeedInfo{
			Index:    idx,
			Label:    preset.Label,
			Realtime: idx == 0,
		},
	})
}

// sampleEvent 异步请求一个突发事件，进行中的请求存在时直接返回。
func (w *World) sampleEvent() {
	w.mu.Lock()
	if w.sampling {
		w.mu.Unlock()
		return
	}
	w.sampling = true
	w.mu.Unlock()

	req := w.eventRequest(companion.TimeInfo(w.sess.Resolved()))
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer func() {
			w.mu.Lock()
			w.sampling = false
			w.mu.Unlock()
		}()

		draft, err := w.service.RandomEvent(w.ctx, req)
		if err != nil {
			w.logger.Printf("[World] ⚠️ random event failed: %v", err)
			return
		}
		if draft == nil {
			draft = companion.DefaultEventDraft()
		}
		now := w.clock.Now()
		evt := state.NewEvent(*draft, now)
		w.sess.Tracker().Set(evt)
		w.logger.Printf("[World] 🎲 event activity=%s location=%s expire=%d", evt.Activity, evt.Location, evt.ExpireTotalMinutes)
		w.refresh(now)
	}()
}

func (w *World) eventRequest(timeInfo string) companion.EventRequest {
	return companion.EventRequest{
		Persona:      w.sess.Persona(),
		TimeInfo:     timeInfo,
		ScheduleInfo: companion.ScheduleInfo(w.sess.Schedule()),
	}
}

// Regenerate 切换角色并重新生成作息。
//
// 流程：清空历史与突发事件 -> 广播系统提示 -> 生成作息 -> 落盘 -> 停顿后重新解析。
// 生成失败时保留旧作息并广播错误。
func (w *World) Regenerate(ctx context.Context, persona model.Persona) (*model.Schedule, error) {
	w.mu.Lock()
	if w.regenerating {
		w.mu.Unlock()
		return nil, ErrRegenerating
	}
	w.regenerating = true
	w.mu.Unlock()
	defer func() {
		w.mu.Lock()
		w.regenerating = false
		w.mu.Unlock()
	}()

	if persona.Name == "" {
		persona.Name = w.sess.Persona().Name
	}
	w.sess.SetPersona(persona)
	if err := w.sess.ClearHistory(ctx); err != nil {
		w.logger.Printf("[World] ⚠️ clear history failed: %v", err)
	}
	w.sess.Tracker().Clear()
	w.sess.Publish(session.Notification{
		Type: session.NotifySystem,
		Text: fmt.Sprintf("【系统】已重新连接到 %s 的通讯终端", persona.Name),
	})

	sched, err := w.service.GenerateSchedule(ctx, persona)
	if err != nil {
		w.logger.Printf("[World] ❌ generate schedule failed persona=%s: %v", persona.Name, err)
		w.sess.Publish(session.Notification{Type: session.NotifyError, Text: "作息生成失败，沿用之前的作息"})
		return nil, fmt.Errorf("generate schedule: %w", err)
	}
	w.sess.SetSchedule(sched)
	w.persist(ctx)
	w.sess.Publish(session.Notification{Type: session.NotifySchedule, Schedule: sched})
	w.logger.Printf("[World] ✅ schedule generated persona=%s routine=%d", persona.Name, len(sched.Routine))

	if err := w.sleep(ctx, w.cfg.ScheduleSettle); err != nil {
		return sched, nil
	}
	w.refresh(w.clock.Now())
	return sched, nil
}

// Surprise 生成一张桌上的便签，失败时返回兜底文案。
func (w *World) Surprise(ctx context.Context) string {
	req := w.eventRequest(companion.ClockInfo(w.clock.Now()))
	note, err := w.service.Surprise(ctx, req)
	if err != nil || note == "" {
		if err != nil {
			w.logger.Printf("[World] ⚠️ surprise failed: %v", err)
		}
		return companion.FailedSurpriseText
	}
	return note
}

// SetSpeed 切换流速，不改变虚拟时间。
func (w *World) SetSpeed(index int) error {
	if err := w.clock.SetSpeed(index); err != nil {
		return err
	}
	w.publishTime(w.clock.Now())
	return nil
}

// CycleSpeed 切到下一档流速，返回新下标。
func (w *World) CycleSpeed() int {
	idx := w.clock.CycleSpeed()
	w.publishTime(w.clock.Now())
	return idx
}

// Sync 对齐现实时间并切回 1 倍流速，然后重新解析。
func (w *World) Sync() model.ResolvedState {
	now := w.clock.SyncToWallClock()
	return w.refresh(now)
}

// Snapshot 是当前世界状态的只读视图。
type Snapshot struct {
	Time     model.SimTime          `json:"time"`
	Speed    session.SpeedInfo      `json:"speed"`
	Presets  []model.SpeedPreset    `json:"presets"`
	State    model.ResolvedState    `json:"state"`
	Persona  model.Persona          `json:"persona"`
	Schedule *model.Schedule        `json:"schedule"`
	Event    *model.RandomEvent     `json:"event,omitempty"`
	Unread   map[model.Channel]bool `json:"unread"`
	Daytime  bool                   `json:"daytime"`
}

func (w *World) Snapshot() Snapshot {
	now := w.clock.Now()
	preset, idx := w.clock.Preset()
	return Snapshot{
		Time:     now,
		Speed:    session.SpeedInfo{Index: idx, Label: preset.Label, Realtime: idx == 0},
		Presets:  w.clock.Presets(),
		State:    w.sess.Resolved(),
		Persona:  w.sess.Persona(),
		Schedule: w.sess.Schedule(),
		Event:    w.sess.Tracker().Active(),
		Unread:   w.sess.Unread(),
		Daytime:  now.IsDaytime(),
	}
}

func (w *World) persist(ctx context.Context) {
	if w.store == nil {
		return
	}
	rec, err := w.sess.Record(ctx)
	if err == nil {
		err = w.store.Save(ctx, rec)
	}
	if err != nil {
		w.logger.Printf("[World] ⚠️ persist failed: %v", err)
	}
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
