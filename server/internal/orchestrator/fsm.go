package orchestrator

import (
	"fmt"
)

// Phase 是单个通道投递流水线的状态。
type Phase string

const (
	PhaseIdle          Phase = "idle"
	PhaseAwaitingReply Phase = "awaiting_reply"
	PhaseDelivering    Phase = "delivering"
)

// channelFSM 保证每个通道同一时刻最多只有一条“请求-投递”流水线。
// 流水线运行期间到来的用户输入只记 pending，结束时再补一次请求。
type channelFSM struct {
	phase   Phase
	pending bool
	// run 每次开始新流水线时递增，用于判断收尾动作是否已过时。
	run uint64
}

// begin idle -> awaiting_reply。非 idle 时记 pending 并返回 false。
func (f *channelFSM) begin() bool {
	if f.phase != PhaseIdle {
		f.pending = true
		return false
	}
	f.phase = PhaseAwaitingReply
	f.pending = false
	f.run++
	return true
}

// tryBegin 与 begin 相同但不记 pending，用于主动发言这类可以放弃的请求。
func (f *channelFSM) tryBegin() bool {
	if f.phase != PhaseIdle {
		return false
	}
	f.phase = PhaseAwaitingReply
	f.run++
	return true
}

// deliver awaiting_reply -> delivering
func (f *channelFSM) deliver() error {
	if f.phase != PhaseAwaitingReply {
		return fmt.Errorf("invalid transition %s -> %s", f.phase, PhaseDelivering)
	}
	f.phase = PhaseDelivering
	return nil
}

// finish delivering -> idle；有 pending 时直接回到 awaiting_reply 并返回 true。
func (f *channelFSM) finish() (again bool, err error) {
	if f.phase != PhaseDelivering {
		return false, fmt.Errorf("invalid transition %s -> %s", f.phase, PhaseIdle)
	}
	if f.pending {
		f.pending = false
		f.phase = PhaseAwaitingReply
		return true, nil
	}
	f.phase = PhaseIdle
	return false, nil
}

// abort 任意状态 -> idle，丢弃 pending（上下文被取消时）。
func (f *channelFSM) abort() {
	f.phase = PhaseIdle
	f.pending = false
}
