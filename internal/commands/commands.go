// Package commands is the deterministic command interpreter. It
// pattern-matches inbound messages against a grammar of list, calendar,
// and reminder operations and answers them directly, so mechanical
// requests never round-trip through the LLM.
package commands

import (
	"context"
	"log/slog"
	"strings"
	"time"
)

// Event is one calendar entry as the interpreter formats it.
type Event struct {
	ID       string
	Summary  string
	Location string
	Start    time.Time
	End      time.Time
	AllDay   bool
}

// Calendar provides events in a window.
type Calendar interface {
	EventsBetween(ctx context.Context, from, to time.Time) ([]Event, error)
}

// TaskLists provides the owner's task lists.
type TaskLists interface {
	ListTitles(ctx context.Context) ([]string, error)
	ListItems(ctx context.Context, list string) ([]string, error)
	AddItem(ctx context.Context, list, item string) error
	// RemoveItem reports whether an item with that title existed.
	RemoveItem(ctx context.Context, list, item string) (bool, error)
}

// ReminderPlanner persists a reminder and schedules its one-shot
// delivery.
type ReminderPlanner interface {
	PlanReminder(text string, at time.Time) error
}

// Interpreter matches messages against the command grammar.
type Interpreter struct {
	lists     TaskLists
	cal       Calendar
	reminders ReminderPlanner
	logger    *slog.Logger
	now       func() time.Time
}

// New creates an interpreter. Any collaborator may be nil; its part of
// the grammar is then skipped.
func New(lists TaskLists, cal Calendar, reminders ReminderPlanner, logger *slog.Logger) *Interpreter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Interpreter{
		lists:     lists,
		cal:       cal,
		reminders: reminders,
		logger:    logger,
		now:       time.Now,
	}
}

// Interpret runs the grammar against text. Returns (reply, true) on a
// match; (_, false) hands the message to the LLM path.
func (i *Interpreter) Interpret(ctx context.Context, text string) (string, bool) {
	text = normalize(text)

	if reply, ok := i.tryReminder(text); ok {
		return reply, true
	}
	if reply, ok := i.tryLists(ctx, text); ok {
		return reply, true
	}
	if reply, ok := i.tryCalendar(ctx, text); ok {
		return reply, true
	}
	return "", false
}

// normalize folds smart punctuation so the regexes only deal with
// ASCII.
var punctReplacer = strings.NewReplacer(
	"‘", "'", "’", "'",
	"“", `"`, "”", `"`,
	"…", "...",
)

func normalize(s string) string {
	return strings.TrimSpace(punctReplacer.Replace(s))
}

// listAliases maps spoken list names to canonical titles.
var listAliases = map[string]string{
	"grocery":        "groceries",
	"groceries":      "groceries",
	"shopping":       "groceries",
	"hardware":       "hardware store",
	"hardware store": "hardware store",
	"todo":           "to do",
	"to-do":          "to do",
	"to do":          "to do",
}

func canonicalList(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	name = strings.TrimSuffix(name, " list")
	if canonical, ok := listAliases[name]; ok {
		return canonical
	}
	return name
}

func bulletList(items []string) string {
	var b strings.Builder
	for _, item := range items {
		b.WriteString("\n- ")
		b.WriteString(item)
	}
	return b.String()
}
