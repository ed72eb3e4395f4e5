package orchestrator

import (
	"time"
	"unicode/utf8"

	"pocket-companion/server/internal/model"
)

const (
	// DefaultNetworkLatency 是远程回复等待的固定网络延迟下限。
	DefaultNetworkLatency = 1500 * time.Millisecond
	// DefaultLongWait 超过该等待时长时，前段保持静默，只在最后一段显示“正在输入”。
	DefaultLongWait = 30 * time.Second
	// DefaultTypingWindow 长等待时“正在输入”显示的固定时长。
	DefaultTypingWindow = 15 * time.Second
	// MaxComposeDuration 单条消息“正在输入”的上限，delay_seconds 超出时截断。
	MaxComposeDuration = 60 * time.Second
)

// Pacing 连发消息之间的停顿：Base + 字数 * PerChar。
type Pacing struct {
	Base    time.Duration
	PerChar time.Duration
}

var (
	// FaceToFacePacing 当面聊天：上一句越长，下一句出现前停得越久。
	FaceToFacePacing = Pacing{Base: 1500 * time.Millisecond, PerChar: 100 * time.Millisecond}
	// RemotePacing 手机聊天：未设置打字停顿的消息后固定停 800ms。
	RemotePacing = Pacing{Base: 800 * time.Millisecond}
)

// Pause 计算 content 展示后到下一条之前的停顿，按字符（rune）计数。
func Pause(content string, p Pacing) time.Duration {
	return p.Base + time.Duration(utf8.RuneCountInString(content))*p.PerChar
}

// ReplyWait 把虚拟分钟的回复延迟区间换算为现实等待时长。
//
// draw ∈ [0,1) 在区间内均匀取值；换算系数取当前流速（intervalMs / stepMinutes），
// 再加上固定的网络延迟。切换流速后只影响之后的计算，不会重算已经在等的请求。
func ReplyWait(delay model.DelayRange, preset model.SpeedPreset, draw float64, latency time.Duration) time.Duration {
	lo, hi := delay.Min(), delay.Max()
	if hi < lo {
		lo, hi = hi, lo
	}
	minutes := lo + draw*(hi-lo)
	ms := minutes * preset.RealMsPerVirtualMinute()
	return time.Duration(ms*float64(time.Millisecond)) + latency
}

// TypingPlan 使用默认阈值拆分等待时长，见 SplitTyping。
func TypingPlan(wait time.Duration) (silent, typing time.Duration) {
	return SplitTyping(wait, DefaultLongWait, DefaultTypingWindow)
}

// SplitTyping 把总等待拆成“静默”和“正在输入”两段：
// wait > longWait 时先静默 wait-window，再显示 window；否则全程显示。
func SplitTyping(wait, longWait, window time.Duration) (silent, typing time.Duration) {
	if wait <= 0 {
		return 0, 0
	}
	if wait > longWait {
		return wait - window, window
	}
	return 0, wait
}

// ComposeDuration 返回第 i 条消息展示前“正在输入”的时长；不需要时返回 0。
// delay_seconds > 0 或不是第一条时，至少显示 1 秒，最多 MaxComposeDuration。
func ComposeDuration(i int, delaySeconds float64) time.Duration {
	if delaySeconds <= 0 && i == 0 {
		return 0
	}
	if !(delaySeconds >= 1) {
		delaySeconds = 1
	}
	if delaySeconds >= MaxComposeDuration.Seconds() {
		return MaxComposeDuration
	}
	return time.Duration(delaySeconds * float64(time.Second))
}
