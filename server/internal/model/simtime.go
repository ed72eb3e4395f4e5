package model

import (
	"fmt"
	"time"
)

const (
	MinutesPerHour = 60
	MinutesPerDay  = 24 * MinutesPerHour
	DaysPerWeek    = 7
	MinutesPerWeek = DaysPerWeek * MinutesPerDay
)

var weekdayNames = [DaysPerWeek]string{"一", "二", "三", "四", "五", "六", "日"}

// SimTime 是虚拟时间：星期 1..7、小时 0..23、分钟 0..59。
type SimTime struct {
	Day    int `json:"day"`
	Hour   int `json:"hour"`
	Minute int `json:"minute"`
}

// TotalMinutes 是所有过期比较使用的线性投影。
func (t SimTime) TotalMinutes() int {
	return t.Day*MinutesPerDay + t.Hour*MinutesPerHour + t.Minute
}

// Clock 返回 "HH:MM"。
func (t SimTime) Clock() string {
	return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute)
}

// Weekday 返回中文星期名（一..日）。
func (t SimTime) Weekday() string {
	if t.Day < 1 || t.Day > DaysPerWeek {
		return "?"
	}
	return weekdayNames[t.Day-1]
}

func (t SimTime) String() string {
	return "周" + t.Weekday() + " " + t.Clock()
}

// IsDaytime 判断是否处于白天（6 点到 18 点），供 UI 切换昼夜背景。
func (t SimTime) IsDaytime() bool {
	return t.Hour >= 6 && t.Hour < 18
}

// SimTimeFromWall 把现实日历时间映射为虚拟时间，周日映射为 7。
func SimTimeFromWall(now time.Time) SimTime {
	day := int(now.Weekday())
	if day == 0 {
		day = DaysPerWeek
	}
	return SimTime{Day: day, Hour: now.Hour(), Minute: now.Minute()}
}
