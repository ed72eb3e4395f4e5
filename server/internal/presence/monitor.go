package presence

import (
	"context"
	"log"
	"sync"
	"time"

	"pocket-companion/server/internal/companion"
	"pocket-companion/server/internal/model"
	"pocket-companion/server/internal/session"
)

// DefaultIdleThreshold 玩家多久没有操作后角色主动开口。
const DefaultIdleThreshold = 3 * time.Minute

// Utterer 发起一次当面主动发言，*orchestrator.Orchestrator 实现了它。
type Utterer interface {
	Busy() bool
	RequestUtterance(ctx context.Context, instruction string) bool
}

// SpeedSource 判断是否处于 1 倍现实流速，*clock.Clock 实现了它。
type SpeedSource interface {
	IsRealtime() bool
}

// Trigger 记录一次主动发言的来源。
type Trigger string

const (
	TriggerIdle  Trigger = "idle"
	TriggerGreet Trigger = "greet"
)

type stopper interface{ Stop() bool }

// Monitor 检测玩家的闲置与回到页面，请角色主动说一句话。
//
// 两种触发都要求：角色在家、现实流速、没有进行中的投递流水线。
// 闲置计时在每次玩家活动时重置，一段闲置只触发一次。
type Monitor struct {
	sess      *session.Session
	speed     SpeedSource
	utter     Utterer
	threshold time.Duration
	logger    *log.Logger

	afterFunc func(d time.Duration, f func()) stopper

	mu     sync.Mutex
	timer  stopper
	closed bool
}

type Option func(*Monitor)

func WithLogger(logger *log.Logger) Option {
	return func(m *Monitor) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithAfterFunc 注入计时器，测试用。
func WithAfterFunc(f func(d time.Duration, fn func()) stopper) Option {
	return func(m *Monitor) {
		if f != nil {
			m.afterFunc = f
		}
	}
}

func New(sess *session.Session, speed SpeedSource, utter Utterer, threshold time.Duration, opts ...Option) *Monitor {
	if threshold <= 0 {
		threshold = DefaultIdleThreshold
	}
	m := &Monitor{
		sess:      sess,
		speed:     speed,
		utter:     utter,
		threshold: threshold,
		logger:    log.Default(),
		afterFunc: func(d time.Duration, f func()) stopper { return time.AfterFunc(d, f) },
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start 开始闲置计时。
func (m *Monitor) Start() {
	m.Activity()
}

// Activity 记录一次玩家活动，重置闲置计时。
func (m *Monitor) Activity() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	if m.timer != nil {
		m.timer.Stop()
	}
	m.timer = m.afterFunc(m.threshold, m.fireIdle)
}

// VisibilityChanged 处理页面可见性变化；变为可见且满足条件时打招呼，返回是否触发。
func (m *Monitor) VisibilityChanged(visible bool) bool {
	if !visible {
		return false
	}
	m.Activity()
	if !m.eligible() {
		return false
	}
	instruction := companion.GreetInstruction(m.sess.Greeted())
	if !m.utter.RequestUtterance(context.Background(), instruction) {
		return false
	}
	first := !m.sess.MarkGreeted()
	m.logger.Printf("[Presence] greet triggered first=%v", first)
	return true
}

// Stop 停止闲置计时。
func (m *Monitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}

func (m *Monitor) fireIdle() {
	m.mu.Lock()
	closed := m.closed
	m.timer = nil
	m.mu.Unlock()
	if closed || !m.eligible() {
		return
	}
	if m.utter.RequestUtterance(context.Background(), companion.IdleInstruction) {
		m.logger.Printf("[Presence] idle monologue triggered after %s", m.threshold)
	}
}

func (m *Monitor) eligible() bool {
	if m.sess.Resolved().Behavior != model.BehaviorHome {
		return false
	}
	if !m.speed.IsRealtime() {
		return false
	}
	return !m.utter.Busy()
}
