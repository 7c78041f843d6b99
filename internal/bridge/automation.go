package bridge

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/nugget/choombridge/internal/scheduler"
	"github.com/nugget/choombridge/internal/taskcfg"
)

// failureWords downgrade an automation result to "partial" when they
// appear in the companion's reply.
var failureWords = []string{"failed", "error", "could not", "unable to"}

// reloadHeartbeats reconciles the scheduler's custom-heartbeat jobs
// with the configuration document: new and changed definitions are
// (re-)registered, disabled and deleted ones removed.
func (b *Bridge) reloadHeartbeats(ctx context.Context) error {
	want := map[string]bool{}
	for _, hb := range b.tasks.CustomHeartbeats() {
		if !hb.Enabled {
			continue
		}
		id := "custom_hb_" + hb.ID
		want[id] = true

		fp := fmt.Sprintf("every:%dm", hb.Interval())
		b.mu.Lock()
		changed := b.hbSeen[id] != fp
		b.hbSeen[id] = fp
		b.mu.Unlock()
		if !changed && b.sched.Has(id) {
			continue
		}

		hbID := hb.ID
		b.sched.Add(&scheduler.Job{
			ID:       id,
			Name:     "heartbeat: " + hb.ID,
			Schedule: scheduler.Every(time.Duration(hb.Interval()) * time.Minute),
			Run: func(ctx context.Context) error {
				if current, ok := b.heartbeatByID(hbID); ok {
					b.runHeartbeat(ctx, current, false)
				}
				return nil
			},
		})
		b.logger.Info("heartbeat registered", "id", id, "interval_min", hb.Interval())
	}

	for _, id := range b.sched.IDsWithPrefix("custom_hb_") {
		if !want[id] {
			b.sched.Remove(id)
			b.mu.Lock()
			delete(b.hbSeen, id)
			b.mu.Unlock()
			b.logger.Info("heartbeat removed", "id", id)
		}
	}
	return nil
}

// reloadAutomations is the same reconciliation for automations.
func (b *Bridge) reloadAutomations(ctx context.Context) error {
	want := map[string]bool{}
	for _, a := range b.tasks.Automations() {
		if !a.Enabled {
			continue
		}
		id := "auto_" + a.ID
		want[id] = true

		sched, fp, err := automationSchedule(a.Schedule)
		if err != nil {
			b.logger.Error("automation has bad schedule", "id", a.ID, "error", err)
			continue
		}
		b.mu.Lock()
		changed := b.autoSeen[id] != fp
		b.autoSeen[id] = fp
		b.mu.Unlock()
		if !changed && b.sched.Has(id) {
			continue
		}

		autoID := a.ID
		b.sched.Add(&scheduler.Job{
			ID:       id,
			Name:     "automation: " + a.Name,
			Schedule: sched,
			Run: func(ctx context.Context) error {
				if current, ok := b.automationByID(autoID); ok {
					b.runAutomation(ctx, current, false)
				}
				return nil
			},
		})
		b.logger.Info("automation registered", "id", id, "name", a.Name)
	}

	for _, id := range b.sched.IDsWithPrefix("auto_") {
		if !want[id] {
			b.sched.Remove(id)
			b.mu.Lock()
			delete(b.autoSeen, id)
			b.mu.Unlock()
			b.logger.Info("automation removed", "id", id)
		}
	}
	return nil
}

// automationSchedule maps a document schedule onto the engine's, with a
// fingerprint for change detection.
func automationSchedule(s taskcfg.AutomationSchedule) (scheduler.Schedule, string, error) {
	if s.Cron != "" {
		return scheduler.Cron(s.Cron), "cron:" + s.Cron, nil
	}
	if s.IntervalMinutes > 0 {
		return scheduler.Every(time.Duration(s.IntervalMinutes) * time.Minute),
			fmt.Sprintf("every:%dm", s.IntervalMinutes), nil
	}
	return scheduler.Schedule{}, "", fmt.Errorf("empty schedule")
}

func (b *Bridge) heartbeatByID(id string) (taskcfg.CustomHeartbeat, bool) {
	for _, hb := range b.tasks.CustomHeartbeats() {
		if hb.ID == id {
			return hb, true
		}
	}
	return taskcfg.CustomHeartbeat{}, false
}

func (b *Bridge) automationByID(id string) (taskcfg.Automation, bool) {
	for _, a := range b.tasks.Automations() {
		if a.ID == id {
			return a, true
		}
	}
	return taskcfg.Automation{}, false
}

// runHeartbeat sends the fixed prompt and forwards the reply. force
// (manual trigger) overrides the quiet and user-active checks.
func (b *Bridge) runHeartbeat(ctx context.Context, hb taskcfg.CustomHeartbeat, force bool) {
	if !force {
		if hb.RespectQuiet && b.tasks.IsQuietPeriod(b.now()) {
			b.logger.Debug("heartbeat skipped, quiet period", "id", hb.ID)
			return
		}
		if b.chooms.IsUserActive(hb.ChoomName) {
			b.logger.Debug("heartbeat deferred, user active", "id", hb.ID, "companion", hb.ChoomName)
			return
		}
	}

	turn, err := b.sendToCompanion(ctx, hb.ChoomName, hb.Prompt, false)
	if err != nil {
		b.logger.Error("heartbeat turn failed", "id", hb.ID, "error", err)
		return
	}
	b.compose(ctx, Outbound{
		Recipient: b.owner(),
		Text:      turn.Content,
		Name:      hb.ChoomName,
		Images:    turn.Images,
	})
}

// runAutomation evaluates conditions (cooldown included) and, on pass,
// walks the companion through the steps with a deterministic prompt.
// The outcome is written back to the configuration document.
func (b *Bridge) runAutomation(ctx context.Context, a taskcfg.Automation, force bool) {
	if !force {
		if a.RespectQuiet && b.tasks.IsQuietPeriod(b.now()) {
			b.logger.Debug("automation skipped, quiet period", "id", a.ID)
			return
		}
		if b.chooms.IsUserActive(a.ChoomName) {
			b.logger.Debug("automation deferred, user active", "id", a.ID)
			return
		}
	}

	ok, err := b.eval.ShouldRun(ctx, &a)
	if err != nil {
		b.logger.Error("condition evaluation failed", "id", a.ID, "error", err)
	}
	if !ok {
		return
	}

	nowStr := b.now().In(b.loc).Format(time.RFC3339)
	conditionMet := ""
	if len(a.Conditions) > 0 {
		conditionMet = nowStr
	}

	turn, err := b.sendToCompanion(ctx, a.ChoomName, automationPrompt(a), true)
	content := ""
	if turn != nil {
		content = strings.TrimSpace(turn.Content)
	}
	result := classifyResult(content, err)
	b.logger.Info("automation ran", "id", a.ID, "name", a.Name, "result", result)

	if turn != nil && (content != "" || len(turn.Images) > 0) {
		b.compose(ctx, Outbound{
			Recipient: b.owner(),
			Text:      content,
			Name:      a.ChoomName,
			Images:    turn.Images,
		})
	}

	if err := b.tasks.UpdateAutomationStatus(a.ID, nowStr, result, conditionMet); err != nil {
		b.logger.Error("could not record automation status", "id", a.ID, "error", err)
	}
}

// automationPrompt enumerates the steps as explicit tool instructions.
func automationPrompt(a taskcfg.Automation) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Execute this automation: %q\n", a.Name)
	for i, step := range a.Steps {
		fmt.Fprintf(&sb, "\nStep %d: Use the `%s` tool", i+1, step.ToolName)
		if len(step.Arguments) > 0 {
			sb.WriteString(" with " + formatArgs(step.Arguments))
		}
	}
	return sb.String()
}

// formatArgs renders named arguments deterministically, sorted by key.
func formatArgs(args map[string]any) string {
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, args[k]))
	}
	return strings.Join(parts, ", ")
}

// classifyResult grades a finished automation: failed (no reply at
// all), partial (reply mentions trouble), or success.
func classifyResult(content string, err error) string {
	if err != nil || content == "" {
		return "failed"
	}
	lower := strings.ToLower(content)
	for _, word := range failureWords {
		if strings.Contains(lower, word) {
			return "partial"
		}
	}
	return "success"
}
