package state

import (
	"pocket-companion/server/internal/model"
)

const (
	// SleepActivity 睡眠窗口内的固定活动文案。
	SleepActivity = "正在睡觉"
	// OutActivity 外出条目未给出活动时的兜底文案。
	OutActivity = "外出不在家"
	// DefaultHomeActivity 作息没有给出在家活动时的唯一活动。
	DefaultHomeActivity = "宅家"
	// EventProbability 整点触发突发事件的默认概率。
	EventProbability = 0.15
)

var (
	SleepReplyDelay = model.DelayRange{30, 240}
	OutReplyDelay   = model.DelayRange{5, 30}
	HomeReplyDelay  = model.DelayRange{0, 1}
)

// Resolve 根据作息、突发事件和当前虚拟时间推导角色状态。
//
// 优先级：未过期的突发事件 > 睡眠窗口 > 外出作息（声明顺序第一个命中）> 在家活动轮换。
// 纯函数：不修改入参，同样的输入总是得到同样的结果。过期判断由调用方在解析前完成
// （见 Tracker.ExpireAt），这里只要 event 非 nil 就视为有效。
func Resolve(schedule *model.Schedule, event *model.RandomEvent, now model.SimTime) model.ResolvedState {
	if event != nil {
		behavior := model.BehaviorAway
		if event.Location == model.LocationHome {
			behavior = model.BehaviorHome
		}
		return model.ResolvedState{
			Time:          now,
			Behavior:      behavior,
			Location:      event.Location,
			Activity:      event.Activity,
			ReplyDelay:    event.ReplyDelay,
			Source:        model.SourceEvent,
			ActivityIndex: -1,
		}
	}

	if schedule == nil {
		schedule = &model.Schedule{}
	}

	if InSleepWindow(schedule.Sleep, now.Hour) {
		return model.ResolvedState{
			Time:          now,
			Behavior:      model.BehaviorSleeping,
			Location:      model.LocationHome,
			Activity:      SleepActivity,
			ReplyDelay:    SleepReplyDelay,
			Source:        model.SourceSleep,
			ActivityIndex: -1,
		}
	}

	if entry := ActiveRoutine(schedule.Routine, now); entry != nil && entry.Location == model.LocationOut {
		activity := entry.Activity
		if activity == "" {
			activity = OutActivity
		}
		delay := OutReplyDelay
		if entry.ReplyDelay != nil {
			delay = *entry.ReplyDelay
		}
		return model.ResolvedState{
			Time:          now,
			Behavior:      model.BehaviorAway,
			Location:      model.LocationOut,
			Activity:      activity,
			ReplyDelay:    delay,
			Source:        model.SourceRoutine,
			ActivityIndex: -1,
		}
	}

	activities := schedule.HomeActivities
	if len(activities) == 0 {
		activities = []string{DefaultHomeActivity}
	}
	idx := now.Hour % len(activities)
	return model.ResolvedState{
		Time:          now,
		Behavior:      model.BehaviorHome,
		Location:      model.LocationHome,
		Activity:      activities[idx],
		ReplyDelay:    HomeReplyDelay,
		Source:        model.SourceHome,
		ActivityIndex: idx,
	}
}

// InSleepWindow 判断 hour 是否落在睡眠窗口内。start > end 表示跨零点。
func InSleepWindow(window *[2]int, hour int) bool {
	if window == nil {
		return false
	}
	start, end := window[0], window[1]
	if start > end {
		return hour >= start || hour < end
	}
	return hour >= start && hour < end
}

// ActiveRoutine 返回按声明顺序第一个覆盖当前星期和小时的作息条目。
func ActiveRoutine(routine []model.RoutineEntry, now model.SimTime) *model.RoutineEntry {
	for i := range routine {
		if routine[i].HasDay(now.Day) && routine[i].Covers(now.Hour) {
			return &routine[i]
		}
	}
	return nil
}

// ShouldSample 判断本次解析是否要请求新的突发事件：整点、没有进行中的事件、且随机数命中。
func ShouldSample(now model.SimTime, eventActive bool, draw, probability float64) bool {
	return now.Minute == 0 && !eventActive && draw < probability
}
