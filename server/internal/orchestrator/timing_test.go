package orchestrator

import (
	"math"
	"testing"
	"time"

	"pocket-companion/server/internal/model"
)

// TestReplyWaitScalesWithPreset 验证回复等待按流速换算。
// 场景：延迟区间 [5,15] 虚拟分钟，流速 10 分钟/1000ms，取值两端分别为 2000ms 与 3000ms（含 1500ms 网络延迟）。
func TestReplyWaitScalesWithPreset(t *testing.T) {
	preset := model.SpeedPreset{StepMinutes: 10, IntervalMs: 1000}
	delay := model.DelayRange{5, 15}

	if got := ReplyWait(delay, preset, 0, DefaultNetworkLatency); got != 2000*time.Millisecond {
		t.Fatalf("expected 2000ms at draw=0, got %s", got)
	}
	if got := ReplyWait(delay, preset, 1, DefaultNetworkLatency); got != 3000*time.Millisecond {
		t.Fatalf("expected 3000ms at draw=1, got %s", got)
	}
	mid := ReplyWait(delay, preset, 0.5, DefaultNetworkLatency)
	if mid != 2500*time.Millisecond {
		t.Fatalf("expected 2500ms at draw=0.5, got %s", mid)
	}
}

// TestReplyWaitRealtime 验证 1 倍现实流速下一分钟就是 60 秒。
func TestReplyWaitRealtime(t *testing.T) {
	preset := model.SpeedPreset{StepMinutes: 1, IntervalMs: 60000}
	got := ReplyWait(model.DelayRange{1, 1}, preset, 0.3, 0)
	if got != time.Minute {
		t.Fatalf("expected 1m, got %s", got)
	}
}

// TestTypingPlanSplitsLongWait 验证长等待拆成静默+15 秒输入提示，短等待全程显示输入提示。
func TestTypingPlanSplitsLongWait(t *testing.T) {
	silent, typing := TypingPlan(40 * time.Second)
	if silent != 25*time.Second || typing != 15*time.Second {
		t.Fatalf("expected 25s silent + 15s typing, got %s + %s", silent, typing)
	}

	silent, typing = TypingPlan(10 * time.Second)
	if silent != 0 || typing != 10*time.Second {
		t.Fatalf("expected 0 silent + 10s typing, got %s + %s", silent, typing)
	}

	// 恰好等于阈值时不拆分
	silent, typing = TypingPlan(30 * time.Second)
	if silent != 0 || typing != 30*time.Second {
		t.Fatalf("expected no split at threshold, got %s + %s", silent, typing)
	}
}

// TestPauseCountsRunes 验证停顿按字符数而不是字节数计算。
func TestPauseCountsRunes(t *testing.T) {
	if got := Pause("你好啊", FaceToFacePacing); got != 1800*time.Millisecond {
		t.Fatalf("expected 1800ms, got %s", got)
	}
	if got := Pause("随便多长都一样", RemotePacing); got != 800*time.Millisecond {
		t.Fatalf("expected 800ms, got %s", got)
	}
}

// TestComposeDuration 验证“正在输入”时长：首条无延迟不显示，其余至少 1 秒，超大延迟截断到上限。
func TestComposeDuration(t *testing.T) {
	cases := []struct {
		index int
		delay float64
		want  time.Duration
	}{
		{0, 0, 0},
		{0, 2, 2 * time.Second},
		{1, 0, time.Second},
		{2, 0.5, time.Second},
		{1, 3, 3 * time.Second},
		{0, 60, MaxComposeDuration},
		{1, 1e10, MaxComposeDuration},
		{0, math.Inf(1), MaxComposeDuration},
		{1, math.NaN(), time.Second},
	}
	for _, c := range cases {
		if got := ComposeDuration(c.index, c.delay); got != c.want {
			t.Fatalf("ComposeDuration(%d, %v) = %s, want %s", c.index, c.delay, got, c.want)
		}
	}
}

// TestChannelFSM 验证通道状态机：忙时只记 pending，结束时补发一次。
func TestChannelFSM(t *testing.T) {
	var f channelFSM
	f.phase = PhaseIdle

	if !f.begin() {
		t.Fatalf("expected begin from idle")
	}
	if f.begin() {
		t.Fatalf("expected second begin to mark pending")
	}
	if !f.pending {
		t.Fatalf("expected pending flag")
	}
	if err := f.deliver(); err != nil {
		t.Fatalf("deliver: %v", err)
	}
	again, err := f.finish()
	if err != nil || !again {
		t.Fatalf("expected flush after pending, again=%v err=%v", again, err)
	}
	if f.phase != PhaseAwaitingReply {
		t.Fatalf("expected awaiting_reply, got %s", f.phase)
	}
	_ = f.deliver()
	again, _ = f.finish()
	if again || f.phase != PhaseIdle {
		t.Fatalf("expected idle after flush, got %s again=%v", f.phase, again)
	}
	if _, err := f.finish(); err == nil {
		t.Fatalf("expected invalid transition from idle")
	}
	if f.tryBegin() != true || f.tryBegin() != false {
		t.Fatalf("tryBegin should succeed once")
	}
	if f.pending {
		t.Fatalf("tryBegin must not set pending")
	}
}
