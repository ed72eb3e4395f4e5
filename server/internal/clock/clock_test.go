package clock

import (
	"errors"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"pocket-companion/server/internal/model"
)

func newTestClock(t *testing.T, start model.SimTime, index int, opts ...Option) *Clock {
	t.Helper()
	opts = append(opts, WithLogger(log.New(io.Discard, "", 0)))
	c, err := New(start, nil, index, opts...)
	if err != nil {
		t.Fatalf("new clock: %v", err)
	}
	return c
}

// TestTickStaysInBounds 验证任意步长推进一周后字段都在合法区间内。
func TestTickStaysInBounds(t *testing.T) {
	for idx := range model.DefaultSpeedPresets() {
		c := newTestClock(t, model.SimTime{Day: 7, Hour: 23, Minute: 0}, idx)
		for i := 0; i < 2*model.MinutesPerDay; i++ {
			now := c.Tick()
			if now.Minute < 0 || now.Minute >= 60 {
				t.Fatalf("preset %d: minute out of range: %+v", idx, now)
			}
			if now.Hour < 0 || now.Hour >= 24 {
				t.Fatalf("preset %d: hour out of range: %+v", idx, now)
			}
			if now.Day < 1 || now.Day > 7 {
				t.Fatalf("preset %d: day out of range: %+v", idx, now)
			}
		}
	}
}

// TestTickDayAdvancesOncePerDay 验证步长整除 60 时每 24 小时天数恰好 +1，且 7 之后回到 1。
func TestTickDayAdvancesOncePerDay(t *testing.T) {
	c := newTestClock(t, model.SimTime{Day: 7, Hour: 0, Minute: 0}, 2)
	for i := 0; i < model.MinutesPerDay-1; i++ {
		if now := c.Tick(); now.Day != 7 {
			t.Fatalf("day advanced early at tick %d: %+v", i, now)
		}
	}
	now := c.Tick()
	if now != (model.SimTime{Day: 1, Hour: 0, Minute: 0}) {
		t.Fatalf("expected wrap to day 1 00:00, got %+v", now)
	}
}

// TestTickRolloverEdgeCase 验证 10 分钟步长从 23:55 跨零点时分钟为 5，天数不前进。
func TestTickRolloverEdgeCase(t *testing.T) {
	c := newTestClock(t, model.SimTime{Day: 3, Hour: 23, Minute: 55}, 3)
	now := c.Tick()
	if now != (model.SimTime{Day: 3, Hour: 0, Minute: 5}) {
		t.Fatalf("expected day 3 00:05 (day not advanced), got %+v", now)
	}
}

// TestTickCarriesIntoHourOnce 验证 10 分钟步长从 50 分进位时恰好进一小时。
func TestTickCarriesIntoHourOnce(t *testing.T) {
	c := newTestClock(t, model.SimTime{Day: 1, Hour: 9, Minute: 50}, 3)
	now := c.Tick()
	if now.Hour != 10 || now.Minute != 0 || now.Day != 1 {
		t.Fatalf("expected 10:00 on day 1, got %+v", now)
	}
}

// TestSetSpeedRejectsOutOfRange 验证越界下标返回 ErrPresetIndex 且不改变当前档位。
func TestSetSpeedRejectsOutOfRange(t *testing.T) {
	c := newTestClock(t, model.SimTime{Day: 1}, 1)
	if err := c.SetSpeed(9); !errors.Is(err, ErrPresetIndex) {
		t.Fatalf("expected ErrPresetIndex, got %v", err)
	}
	if _, idx := c.Preset(); idx != 1 {
		t.Fatalf("expected index unchanged at 1, got %d", idx)
	}
	if _, err := New(model.SimTime{Day: 1}, nil, -1); !errors.Is(err, ErrPresetIndex) {
		t.Fatalf("expected ErrPresetIndex from New, got %v", err)
	}
}

// TestCycleSpeedWraps 验证循环切换流速会从最后一档回到第 0 档。
func TestCycleSpeedWraps(t *testing.T) {
	c := newTestClock(t, model.SimTime{Day: 1}, 3)
	if next := c.CycleSpeed(); next != 0 {
		t.Fatalf("expected wrap to 0, got %d", next)
	}
	if !c.IsRealtime() {
		t.Fatalf("expected realtime preset after wrap")
	}
}

// TestSyncToWallClock 验证同步现实时间会覆盖虚拟时间并切到 1 倍流速，周日映射为 7。
func TestSyncToWallClock(t *testing.T) {
	sunday := time.Date(2024, 6, 2, 21, 37, 0, 0, time.Local)
	c := newTestClock(t, model.SimTime{Day: 2, Hour: 8}, 3, WithWallClock(func() time.Time { return sunday }))

	now := c.SyncToWallClock()
	if now != (model.SimTime{Day: 7, Hour: 21, Minute: 37}) {
		t.Fatalf("unexpected synced time: %+v", now)
	}
	if !c.IsRealtime() {
		t.Fatalf("expected realtime preset after sync")
	}
}

// TestSetSpeedKeepsAccumulatedTime 验证运行中切换流速会重启 ticker 但不丢失已推进的时间。
func TestSetSpeedKeepsAccumulatedTime(t *testing.T) {
	presets := []model.SpeedPreset{
		{Label: "slow", StepMinutes: 1, IntervalMs: 60000},
		{Label: "fast", StepMinutes: 1, IntervalMs: 5},
	}
	c, err := New(model.SimTime{Day: 1, Hour: 8}, presets, 1, WithLogger(log.New(io.Discard, "", 0)))
	if err != nil {
		t.Fatalf("new clock: %v", err)
	}

	var mu sync.Mutex
	ticks := 0
	reached := make(chan struct{})
	c.Start(func(now model.SimTime) {
		mu.Lock()
		defer mu.Unlock()
		ticks++
		if ticks == 3 {
			close(reached)
		}
	})
	defer c.Stop()

	select {
	case <-reached:
	case <-time.After(2 * time.Second):
		t.Fatalf("timeout waiting for ticks")
	}

	if err := c.SetSpeed(0); err != nil {
		t.Fatalf("set speed: %v", err)
	}
	before := c.Now()
	if before.TotalMinutes() < (model.SimTime{Day: 1, Hour: 8, Minute: 3}).TotalMinutes() {
		t.Fatalf("expected at least 3 minutes accumulated, got %+v", before)
	}

	time.Sleep(30 * time.Millisecond)
	if after := c.Now(); after != before {
		t.Fatalf("slow ticker should not have fired yet: before=%+v after=%+v", before, after)
	}
}

// TestStopIsIdempotent 验证重复 Stop 不会阻塞或 panic。
func TestStopIsIdempotent(t *testing.T) {
	c := newTestClock(t, model.SimTime{Day: 1}, 0)
	c.Start(nil)
	c.Stop()
	c.Stop()
}
