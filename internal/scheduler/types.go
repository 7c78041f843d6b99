// Package scheduler is the process-wide job engine: cron, fixed
// interval, and one-shot jobs over per-job timers, with execution
// history in SQLite. Job definitions live in the configuration
// document; the engine only holds the registered closures.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// Job is one registered job. ID is the reconciliation key: reminders
// use their reminder id, hot-reloaded jobs use a recognizable prefix.
type Job struct {
	ID       string
	Name     string
	Schedule Schedule
	Run      func(ctx context.Context) error
}

// ScheduleKind identifies the schedule type.
type ScheduleKind string

const (
	ScheduleAt    ScheduleKind = "at"    // one-shot
	ScheduleEvery ScheduleKind = "every" // fixed interval
	ScheduleCron  ScheduleKind = "cron"  // cron expression
)

// Schedule defines when a job runs.
type Schedule struct {
	Kind  ScheduleKind
	At    time.Time     // for "at"
	Every time.Duration // for "every"
	Cron  string        // for "cron", standard five-field syntax
}

// At returns a one-shot schedule.
func At(t time.Time) Schedule { return Schedule{Kind: ScheduleAt, At: t} }

// Every returns a fixed-interval schedule.
func Every(d time.Duration) Schedule { return Schedule{Kind: ScheduleEvery, Every: d} }

// Cron returns a cron schedule.
func Cron(expr string) Schedule { return Schedule{Kind: ScheduleCron, Cron: expr} }

// Daily returns a cron schedule firing once a day at "HH:MM".
func Daily(hhmm string) (Schedule, error) {
	t, err := time.Parse("15:04", hhmm)
	if err != nil {
		return Schedule{}, err
	}
	expr := fmt.Sprintf("%d %d * * *", t.Minute(), t.Hour())
	return Schedule{Kind: ScheduleCron, Cron: expr}, nil
}

// Next returns the next run after the given time, or false when no
// future run exists (a spent one-shot, or an unparseable cron).
func (s Schedule) Next(after time.Time) (time.Time, bool) {
	switch s.Kind {
	case ScheduleAt:
		if s.At.After(after) {
			return s.At, true
		}
		return time.Time{}, false

	case ScheduleEvery:
		if s.Every <= 0 {
			return time.Time{}, false
		}
		return after.Add(s.Every), true

	case ScheduleCron:
		spec, err := cron.ParseStandard(s.Cron)
		if err != nil {
			return time.Time{}, false
		}
		return spec.Next(after), true

	default:
		return time.Time{}, false
	}
}

// Execution is one recorded run of a job.
type Execution struct {
	ID          string
	JobID       string
	ScheduledAt time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
	Status      ExecutionStatus
	Result      string
}

// ExecutionStatus indicates the state of an execution.
type ExecutionStatus string

const (
	StatusRunning   ExecutionStatus = "running"
	StatusCompleted ExecutionStatus = "completed"
	StatusFailed    ExecutionStatus = "failed"
)
