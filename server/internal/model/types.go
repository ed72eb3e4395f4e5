package model

// Behavior 是角色在某一虚拟时刻的大状态。
type Behavior string

const (
	BehaviorSleeping Behavior = "sleeping"
	BehaviorHome     Behavior = "home"
	BehaviorAway     Behavior = "away"
)

// Location 是作息条目/突发事件声明的地点。
type Location string

const (
	LocationHome Location = "home"
	LocationOut  Location = "out"
)

// Source 记录解析状态时哪一步规则胜出，便于调试面板展示。
type Source string

const (
	SourceEvent   Source = "event"
	SourceSleep   Source = "sleep"
	SourceRoutine Source = "routine"
	SourceHome    Source = "home"
)

// Channel 是一条逻辑对话通道。
type Channel string

const (
	// ChannelFaceToFace 在家当面聊天：无回复等待，按上一条长度停顿。
	ChannelFaceToFace Channel = "face_to_face"
	// ChannelRemote 外出时的手机聊天：按回复延迟区间等待，带“正在输入”提示。
	ChannelRemote Channel = "remote"
)

// Valid 判断通道名是否合法。
func (c Channel) Valid() bool {
	return c == ChannelFaceToFace || c == ChannelRemote
}

// DelayRange 是以虚拟分钟计的 [min, max] 回复延迟区间。
type DelayRange [2]float64

// Min 返回区间下界。
func (d DelayRange) Min() float64 { return d[0] }

// Max 返回区间上界。
func (d DelayRange) Max() float64 { return d[1] }

// SpeedPreset 定义一档时间流速：现实每 IntervalMs 毫秒，虚拟时间前进 StepMinutes 分钟。
type SpeedPreset struct {
	Label       string `json:"label" yaml:"label"`
	StepMinutes int    `json:"step_minutes" yaml:"step_minutes"`
	IntervalMs  int    `json:"interval_ms" yaml:"interval_ms"`
}

// RealMsPerVirtualMinute 返回一分钟虚拟时间对应的现实毫秒数。
func (p SpeedPreset) RealMsPerVirtualMinute() float64 {
	if p.StepMinutes <= 0 {
		return float64(p.IntervalMs)
	}
	return float64(p.IntervalMs) / float64(p.StepMinutes)
}

// DefaultSpeedPresets 是内置的四档流速，下标 0 为 1 倍现实流速。
func DefaultSpeedPresets() []SpeedPreset {
	return []SpeedPreset{
		{Label: "⏱️ 1x (现实)", StepMinutes: 1, IntervalMs: 60000},
		{Label: "⏱️ 5x (5倍速)", StepMinutes: 1, IntervalMs: 12000},
		{Label: "⏱️ 60x (1秒1分)", StepMinutes: 1, IntervalMs: 1000},
		{Label: "⏱️ 600x (测试)", StepMinutes: 10, IntervalMs: 1000},
	}
}

// RoutineEntry 是作息表中一条按星期与小时限定的外出/常规活动。
type RoutineEntry struct {
	Days       []int       `json:"days"`
	Start      int         `json:"start"`
	End        int         `json:"end"`
	Location   Location    `json:"location"`
	Activity   string      `json:"activity"`
	ReplyDelay *DelayRange `json:"reply_delay,omitempty"`
}

// HasDay 判断该条目是否适用于星期 day（1..7）。
func (r RoutineEntry) HasDay(day int) bool {
	for _, d := range r.Days {
		if d == day {
			return true
		}
	}
	return false
}

// Covers 判断 hour 是否落在 [Start, End) 内。
func (r RoutineEntry) Covers(hour int) bool {
	return hour >= r.Start && hour < r.End
}

// Schedule 是外部生成的每周作息。三个字段各自可缺省。
// 约定：一次生成后只读，重新生成时整体替换。
type Schedule struct {
	Sleep          *[2]int        `json:"sleep"`
	Routine        []RoutineEntry `json:"routine"`
	HomeActivities []string       `json:"home_activities"`
}

// RandomEvent 是一次临时覆盖作息的突发事件，ExpireTotalMinutes 为绝对过期时刻。
type RandomEvent struct {
	Activity           string     `json:"activity"`
	Location           Location   `json:"location"`
	ReplyDelay         DelayRange `json:"reply_delay"`
	StartTotalMinutes  int        `json:"start_total_minutes"`
	ExpireTotalMinutes int        `json:"expire_total_minutes"`
}

// ExpiredAt 判断事件在 total 时刻是否已过期。
// 时钟从周日绕回周一后 total 会小于事件开始时刻，此时按下一周计算。
func (e RandomEvent) ExpiredAt(total int) bool {
	if total < e.StartTotalMinutes {
		total += MinutesPerWeek
	}
	return total >= e.ExpireTotalMinutes
}

// ResolvedState 是某一虚拟时刻推导出的角色状态，不落盘。
type ResolvedState struct {
	Time       SimTime    `json:"time"`
	Behavior   Behavior   `json:"behavior"`
	Location   Location   `json:"location"`
	Activity   string     `json:"activity"`
	ReplyDelay DelayRange `json:"reply_delay"`
	Source     Source     `json:"source"`
	// ActivityIndex 是在家活动轮换的下标，非 home 来源时为 -1。
	ActivityIndex int `json:"activity_index"`
}

// Role 是对话历史中的发言方。
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ChatTurn 是对话历史中的一条记录。
type ChatTurn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// ReplyMessage 是一次回复批次中的一条消息。
type ReplyMessage struct {
	Content      string  `json:"content"`
	DelaySeconds float64 `json:"delay_seconds"`
}

// Persona 是角色身份。
type Persona struct {
	Name    string `json:"name"`
	Prompt  string `json:"persona"`
	VoiceID string `json:"voice_id"`
}

// PersistenceRecord 是全部持久化状态：启动时读一次，
// 作息重新生成后、每次对话交换完成后写入。
type PersistenceRecord struct {
	PersonaName    string     `json:"personaName"`
	PersonaPrompt  string     `json:"personaPrompt"`
	PersonaVoiceID string     `json:"personaVoiceId"`
	Schedule       *Schedule  `json:"schedule"`
	ChatHistory    []ChatTurn `json:"chatHistory"`
}

// Persona 从记录中取出角色身份。
func (r *PersistenceRecord) Persona() Persona {
	return Persona{Name: r.PersonaName, Prompt: r.PersonaPrompt, VoiceID: r.PersonaVoiceID}
}
