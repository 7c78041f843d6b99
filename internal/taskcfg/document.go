// Package taskcfg owns the runtime configuration document: a JSON file
// holding task toggles, the quiet period, custom heartbeats,
// automations, reminders, and pending manual triggers. The file is
// shared with an external UI, so the store always reads fresh, merges
// over defaults, and writes atomically.
package taskcfg

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Document is the root of the runtime configuration file.
type Document struct {
	Tasks           map[string]TaskSetting    `json:"tasks"`
	Heartbeat       Heartbeat                 `json:"heartbeat"`
	Automations     []Automation              `json:"automations"`
	Reminders       []Reminder                `json:"reminders"`
	PendingTriggers []PendingTrigger          `json:"pending_triggers"`
	Settings        map[string]map[string]any `json:"settings"`
}

// TaskSetting controls one built-in scheduler task.
type TaskSetting struct {
	Enabled         bool   `json:"enabled"`
	Time            string `json:"time,omitempty"`             // "HH:MM" for cron tasks
	IntervalMinutes int    `json:"interval_minutes,omitempty"` // for interval tasks
}

// Heartbeat holds the quiet period and user-authored heartbeat jobs.
type Heartbeat struct {
	QuietStart  string            `json:"quiet_start"`
	QuietEnd    string            `json:"quiet_end"`
	CustomTasks []CustomHeartbeat `json:"custom_tasks"`
}

// CustomHeartbeat is a user-authored periodic prompt. The scheduler
// hot-reloads these; removal from the file removes the job.
type CustomHeartbeat struct {
	ID              string `json:"id"`
	ChoomName       string `json:"choom_name"`
	IntervalMinutes int    `json:"interval_minutes"`
	Prompt          string `json:"prompt"`
	Enabled         bool   `json:"enabled"`
	RespectQuiet    bool   `json:"respect_quiet"`
}

// MinHeartbeatInterval is the floor for custom heartbeat intervals.
const MinHeartbeatInterval = 5

// Interval returns the heartbeat interval in minutes, clamped to the
// minimum.
func (h CustomHeartbeat) Interval() int {
	if h.IntervalMinutes < MinHeartbeatInterval {
		return MinHeartbeatInterval
	}
	return h.IntervalMinutes
}

// Automation is a scheduled, conditional sequence of tool invocations
// executed by a companion.
type Automation struct {
	ID               string             `json:"id"`
	Name             string             `json:"name"`
	ChoomName        string             `json:"choomName"`
	Steps            []AutomationStep   `json:"steps"`
	Schedule         AutomationSchedule `json:"schedule"`
	Enabled          bool               `json:"enabled"`
	RespectQuiet     bool               `json:"respectQuiet"`
	NotifyOnComplete bool               `json:"notifyOnComplete"`
	Conditions       []Condition        `json:"conditions,omitempty"`
	ConditionLogic   string             `json:"conditionLogic,omitempty"` // "all" (default) or "any"
	Cooldown         *Cooldown          `json:"cooldown,omitempty"`

	// Status written back by the scheduler after each run.
	LastConditionMet string `json:"lastConditionMet,omitempty"`
	LastRun          string `json:"lastRun,omitempty"`
	LastResult       string `json:"lastResult,omitempty"`
}

// AutomationStep names one tool invocation.
type AutomationStep struct {
	ToolName  string         `json:"toolName"`
	Arguments map[string]any `json:"arguments,omitempty"`
}

// Cooldown suppresses repeat firings after a condition pass.
type Cooldown struct {
	Minutes int `json:"minutes"`
}

// AutomationSchedule is either a cron expression or a fixed interval.
// On the wire it is a bare string (cron) or an object
// {"type":"interval","intervalMinutes":N}.
type AutomationSchedule struct {
	Cron            string
	IntervalMinutes int
}

// UnmarshalJSON accepts both wire forms.
func (s *AutomationSchedule) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		return json.Unmarshal(b, &s.Cron)
	}

	var obj struct {
		Type            string `json:"type"`
		IntervalMinutes int    `json:"intervalMinutes"`
	}
	if err := json.Unmarshal(b, &obj); err != nil {
		return err
	}
	if obj.Type != "interval" {
		return fmt.Errorf("unknown schedule type %q", obj.Type)
	}
	s.IntervalMinutes = obj.IntervalMinutes
	return nil
}

// MarshalJSON writes the wire form matching UnmarshalJSON.
func (s AutomationSchedule) MarshalJSON() ([]byte, error) {
	if s.Cron != "" {
		return json.Marshal(s.Cron)
	}
	return json.Marshal(map[string]any{
		"type":            "interval",
		"intervalMinutes": s.IntervalMinutes,
	})
}

// ConditionKind discriminates the condition variants.
type ConditionKind string

const (
	CondNone          ConditionKind = "no_condition"
	CondWeather       ConditionKind = "weather"
	CondTimeRange     ConditionKind = "time_range"
	CondDayOfWeek     ConditionKind = "day_of_week"
	CondCalendar      ConditionKind = "calendar"
	CondHomeAssistant ConditionKind = "home_assistant"
)

// Condition is a tagged variant: Kind selects which field group is
// meaningful. The flat encoding matches the document format the UI
// writes.
type Condition struct {
	Kind ConditionKind `json:"type"`

	// weather
	Field string  `json:"field,omitempty"` // temperature, windSpeed, humidity
	Op    string  `json:"op,omitempty"`    // < > <= >= == (!= for home_assistant)
	Value float64 `json:"value,omitempty"`

	// time_range; overnight ranges (after > before) allowed
	After  string `json:"after,omitempty"`
	Before string `json:"before,omitempty"`

	// day_of_week, Sunday=0
	Days []int `json:"days,omitempty"`

	// calendar
	HasEvents *bool  `json:"has_events,omitempty"`
	Keyword   string `json:"keyword,omitempty"`

	// home_assistant
	EntityID string `json:"entity_id,omitempty"`
	HAValue  any    `json:"ha_value,omitempty"`
}

// Reminder is a durable one-shot. The scheduler job id equals the
// reminder id; delivery removes the record.
type Reminder struct {
	ID        string `json:"id"`
	Text      string `json:"text"`
	RemindAt  string `json:"remind_at"` // ISO-8601
	CreatedAt string `json:"created_at"`
}

// PendingTrigger is a manual run request written by the UI and drained
// by the scheduler.
type PendingTrigger struct {
	Kind string `json:"type"` // "builtin", "heartbeat", "automation"
	ID   string `json:"id"`
}

// DefaultDocument returns the configuration the store writes when no
// file exists yet.
func DefaultDocument() *Document {
	return &Document{
		Tasks: map[string]TaskSetting{
			"morning_briefing": {Enabled: true, Time: "07:00"},
			"weather_check":    {Enabled: true},
			"aurora_check":     {Enabled: true},
			"system_health":    {Enabled: true, IntervalMinutes: 30},
			"db_backup":        {Enabled: true, Time: "03:00"},
			"notifications":    {Enabled: true},
			"reminders":        {Enabled: true},
		},
		Heartbeat: Heartbeat{
			QuietStart:  "21:00",
			QuietEnd:    "06:00",
			CustomTasks: []CustomHeartbeat{},
		},
		Automations:     []Automation{},
		Reminders:       []Reminder{},
		PendingTriggers: []PendingTrigger{},
		Settings: map[string]map[string]any{
			"weather": {
				"location": "",
			},
			"search": {
				"enabled": true,
			},
			"image_generation": {
				"enabled": false,
			},
			"vision": {
				"enabled": false,
			},
			"home_assistant": {
				"url":   "",
				"token": "",
			},
		},
	}
}
