package taskcfg

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// ErrNotFound is returned when a reminder or automation id does not
// exist in the document.
var ErrNotFound = errors.New("not found")

// Store reads and writes the configuration document. Readers always
// load fresh from disk; writes are full-document overwrites under an
// atomic rename. The bridge is the only in-process writer, but an
// external UI edits the same file, so every mutation is a fresh
// read-modify-write.
type Store struct {
	path   string
	logger *slog.Logger
}

// NewStore creates a store for the document at path.
func NewStore(path string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{path: path, logger: logger}
}

// Load reads the document, merging it over the defaults so newly
// introduced keys appear without manual edits. A missing file writes
// the defaults and returns them. An unreadable file falls back to
// in-memory defaults.
func (s *Store) Load() *Document {
	raw, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		doc := DefaultDocument()
		if err := s.Save(doc); err != nil {
			s.logger.Warn("could not write default config document", "path", s.path, "error", err)
		}
		return doc
	}
	if err != nil {
		s.logger.Error("config document unreadable, using defaults", "path", s.path, "error", err)
		return DefaultDocument()
	}

	doc, err := mergeOverDefaults(raw)
	if err != nil {
		s.logger.Error("config document malformed, using defaults", "path", s.path, "error", err)
		return DefaultDocument()
	}
	return doc
}

// Save writes the full document atomically (write-then-rename).
func (s *Store) Save(doc *Document) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config document: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".taskcfg-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}

	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename config document: %w", err)
	}
	return nil
}

// IsTaskEnabled reports whether a built-in task is enabled. Unknown
// tasks are disabled.
func (s *Store) IsTaskEnabled(id string) bool {
	t, ok := s.Load().Tasks[id]
	return ok && t.Enabled
}

// TaskSetting returns the setting for a built-in task.
func (s *Store) TaskSetting(id string) (TaskSetting, bool) {
	t, ok := s.Load().Tasks[id]
	return t, ok
}

// IsQuietPeriod reports whether now falls inside the configured quiet
// period. Overnight ranges (start > end) cover both sides of midnight.
func (s *Store) IsQuietPeriod(now time.Time) bool {
	hb := s.Load().Heartbeat
	return InQuietPeriod(hb.QuietStart, hb.QuietEnd, now)
}

// InQuietPeriod evaluates a quiet window against now using
// minute-of-day arithmetic. An empty or equal range is never quiet.
func InQuietPeriod(start, end string, now time.Time) bool {
	startMin, err1 := parseHHMM(start)
	endMin, err2 := parseHHMM(end)
	if err1 != nil || err2 != nil || startMin == endMin {
		return false
	}

	cur := now.Hour()*60 + now.Minute()
	if startMin < endMin {
		return cur >= startMin && cur < endMin
	}
	// Overnight: quiet from start until midnight and from midnight
	// until end.
	return cur >= startMin || cur < endMin
}

// InTimeRange reports whether now falls inside [start, end], end
// minute included. Automations written as 08:00-17:00 expect 17:00
// itself to still pass; contrast with the half-open quiet period.
// Overnight ranges (start > end) cover both sides of midnight.
func InTimeRange(start, end string, now time.Time) bool {
	startMin, err1 := parseHHMM(start)
	endMin, err2 := parseHHMM(end)
	if err1 != nil || err2 != nil {
		return false
	}

	cur := now.Hour()*60 + now.Minute()
	if startMin <= endMin {
		return cur >= startMin && cur <= endMin
	}
	return cur >= startMin || cur <= endMin
}

// parseHHMM converts "HH:MM" to minute-of-day.
func parseHHMM(s string) (int, error) {
	h, m, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return 0, fmt.Errorf("bad time %q", s)
	}
	hour, err := strconv.Atoi(h)
	if err != nil || hour < 0 || hour > 23 {
		return 0, fmt.Errorf("bad hour in %q", s)
	}
	minute, err := strconv.Atoi(m)
	if err != nil || minute < 0 || minute > 59 {
		return 0, fmt.Errorf("bad minute in %q", s)
	}
	return hour*60 + minute, nil
}

// Reminders returns the persisted reminders.
func (s *Store) Reminders() []Reminder {
	return s.Load().Reminders
}

// AddReminder appends a reminder and saves.
func (s *Store) AddReminder(r Reminder) error {
	doc := s.Load()
	doc.Reminders = append(doc.Reminders, r)
	return s.Save(doc)
}

// RemoveReminder deletes a reminder by id and saves. Returns
// ErrNotFound when the id is absent.
func (s *Store) RemoveReminder(id string) error {
	doc := s.Load()
	for i, r := range doc.Reminders {
		if r.ID == id {
			doc.Reminders = append(doc.Reminders[:i], doc.Reminders[i+1:]...)
			return s.Save(doc)
		}
	}
	return fmt.Errorf("reminder %s: %w", id, ErrNotFound)
}

// CustomHeartbeats returns the user-authored heartbeat jobs.
func (s *Store) CustomHeartbeats() []CustomHeartbeat {
	return s.Load().Heartbeat.CustomTasks
}

// Automations returns the automation list.
func (s *Store) Automations() []Automation {
	return s.Load().Automations
}

// UpdateAutomationStatus writes lastRun/lastResult (and optionally
// lastConditionMet) back to an automation. Returns ErrNotFound for an
// unknown id.
func (s *Store) UpdateAutomationStatus(id, lastRun, lastResult, lastConditionMet string) error {
	doc := s.Load()
	for i := range doc.Automations {
		if doc.Automations[i].ID != id {
			continue
		}
		if lastRun != "" {
			doc.Automations[i].LastRun = lastRun
		}
		if lastResult != "" {
			doc.Automations[i].LastResult = lastResult
		}
		if lastConditionMet != "" {
			doc.Automations[i].LastConditionMet = lastConditionMet
		}
		return s.Save(doc)
	}
	return fmt.Errorf("automation %s: %w", id, ErrNotFound)
}

// DrainTriggers returns and clears the pending manual triggers.
func (s *Store) DrainTriggers() []PendingTrigger {
	doc := s.Load()
	if len(doc.PendingTriggers) == 0 {
		return nil
	}
	triggers := doc.PendingTriggers
	doc.PendingTriggers = []PendingTrigger{}
	if err := s.Save(doc); err != nil {
		s.logger.Error("could not clear pending triggers", "error", err)
		return nil
	}
	return triggers
}

// Settings returns the provider-settings blocks.
func (s *Store) Settings() map[string]map[string]any {
	return s.Load().Settings
}
