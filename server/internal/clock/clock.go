package clock

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"pocket-companion/server/internal/model"
)

// ErrPresetIndex 表示流速下标越界。
var ErrPresetIndex = errors.New("speed preset index out of range")

// TickFunc 在 tick goroutine 中同步执行，返回前下一次 tick 不会开始。
type TickFunc func(now model.SimTime)

// Clock 是虚拟时钟：每隔 IntervalMs 现实毫秒把虚拟时间推进 StepMinutes 分钟。
//
// 约定：
// - 同一时刻只有一个 tick 源在运行，切换流速会停掉旧 ticker 再启动新的。
// - 切换流速/同步现实时间都不会重置已累积的虚拟时间。
// - tick 回调串行执行，不会重叠。
type Clock struct {
	mu      sync.Mutex
	now     model.SimTime
	presets []model.SpeedPreset
	index   int
	onTick  TickFunc
	stop    chan struct{}
	done    chan struct{}
	running bool

	// ctrlMu 串行化 ticker 的启停，保证同时只有一个 tick 源。
	ctrlMu sync.Mutex
	// tickMu 串行化 Tick，保证一次 tick 的状态解析完成后下一次才开始。
	tickMu sync.Mutex

	wall   func() time.Time
	logger *log.Logger
}

type Option func(*Clock)

// WithWallClock 注入现实时钟，测试用。
func WithWallClock(wall func() time.Time) Option {
	return func(c *Clock) {
		if wall != nil {
			c.wall = wall
		}
	}
}

func WithLogger(logger *log.Logger) Option {
	return func(c *Clock) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// New 创建虚拟时钟。presets 为空时使用内置四档。
func New(start model.SimTime, presets []model.SpeedPreset, index int, opts ...Option) (*Clock, error) {
	if len(presets) == 0 {
		presets = model.DefaultSpeedPresets()
	}
	if index < 0 || index >= len(presets) {
		return nil, fmt.Errorf("%w: %d", ErrPresetIndex, index)
	}
	for i, p := range presets {
		if p.StepMinutes <= 0 || p.IntervalMs <= 0 {
			return nil, fmt.Errorf("preset %d (%s): step and interval must be positive", i, p.Label)
		}
	}
	c := &Clock{
		now:     start,
		presets: append([]model.SpeedPreset(nil), presets...),
		index:   index,
		wall:    time.Now,
		logger:  log.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Now 返回当前虚拟时间。
func (c *Clock) Now() model.SimTime {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Preset 返回当前生效的流速及其下标。
func (c *Clock) Preset() (model.SpeedPreset, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.presets[c.index], c.index
}

// Presets 返回所有流速档位的副本。
func (c *Clock) Presets() []model.SpeedPreset {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]model.SpeedPreset(nil), c.presets...)
}

// IsRealtime 判断当前是否处于 1 倍现实流速（下标 0）。
func (c *Clock) IsRealtime() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.index == 0
}

// Set 直接设置虚拟时间，不触发回调。
func (c *Clock) Set(t model.SimTime) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

// Tick 推进一步并返回推进后的时间。
//
// 进位规则：分钟溢出时取模 60、小时 +1 取模 24；只有进位后小时为 0 且分钟恰为 0 时天数才 +1。
// 步长不能整除 60 时（例如 10 分钟步长从 55 分开始）跨零点后分钟为 5，天数不会前进。
func (c *Clock) Tick() model.SimTime {
	c.mu.Lock()
	defer c.mu.Unlock()

	step := c.presets[c.index].StepMinutes
	c.now = advance(c.now, step)
	return c.now
}

func advance(t model.SimTime, step int) model.SimTime {
	t.Minute += step
	if t.Minute >= model.MinutesPerHour {
		t.Minute %= model.MinutesPerHour
		t.Hour = (t.Hour + 1) % 24
		if t.Hour == 0 && t.Minute == 0 {
			t.Day++
			if t.Day > model.DaysPerWeek {
				t.Day = 1
			}
		}
	}
	return t
}

// Start 启动 tick 源，每次 tick 后同步调用 onTick。重复调用会替换回调并重启 ticker。
func (c *Clock) Start(onTick TickFunc) {
	c.mu.Lock()
	c.onTick = onTick
	c.mu.Unlock()
	c.restart()
}

// Stop 停止 tick 源并等待正在执行的 tick 完成。不能在 tick 回调里调用。
func (c *Clock) Stop() {
	c.ctrlMu.Lock()
	defer c.ctrlMu.Unlock()
	c.halt()
}

func (c *Clock) halt() {
	c.mu.Lock()
	stop, done := c.stop, c.done
	c.stop, c.done = nil, nil
	c.running = false
	c.mu.Unlock()

	if stop != nil {
		close(stop)
		<-done
	}
}

// SetSpeed 切换到第 index 档流速，正在运行时重启 ticker。
func (c *Clock) SetSpeed(index int) error {
	c.mu.Lock()
	if index < 0 || index >= len(c.presets) {
		c.mu.Unlock()
		return fmt.Errorf("%w: %d", ErrPresetIndex, index)
	}
	c.index = index
	running := c.running
	label := c.presets[index].Label
	c.mu.Unlock()

	c.logger.Printf("[Clock] speed changed index=%d label=%s", index, label)
	if running {
		c.restart()
	}
	return nil
}

// CycleSpeed 切到下一档流速（循环），返回新下标。
func (c *Clock) CycleSpeed() int {
	c.mu.Lock()
	next := (c.index + 1) % len(c.presets)
	c.mu.Unlock()
	_ = c.SetSpeed(next)
	return next
}

// SyncToWallClock 用现实日历时间覆盖虚拟时间，并强制切到 1 倍现实流速。
func (c *Clock) SyncToWallClock() model.SimTime {
	now := model.SimTimeFromWall(c.wall())
	c.mu.Lock()
	c.now = now
	c.mu.Unlock()

	_ = c.SetSpeed(0)
	c.logger.Printf("[Clock] synced to wall clock %s", now)
	return now
}

func (c *Clock) restart() {
	c.ctrlMu.Lock()
	defer c.ctrlMu.Unlock()
	c.halt()

	c.mu.Lock()
	interval := time.Duration(c.presets[c.index].IntervalMs) * time.Millisecond
	stop := make(chan struct{})
	done := make(chan struct{})
	c.stop, c.done = stop, done
	c.running = true
	c.mu.Unlock()

	go c.run(interval, stop, done)
}

func (c *Clock) run(interval time.Duration, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			c.tickMu.Lock()
			now := c.Tick()
			c.mu.Lock()
			fn := c.onTick
			c.mu.Unlock()
			if fn != nil {
				fn(now)
			}
			c.tickMu.Unlock()
		}
	}
}
