package bridge

import (
	"errors"
	"testing"

	"github.com/nugget/choombridge/internal/scheduler"
	"github.com/nugget/choombridge/internal/taskcfg"
)

func TestAutomationPrompt(t *testing.T) {
	a := taskcfg.Automation{
		Name: "Evening lights",
		Steps: []taskcfg.AutomationStep{
			{ToolName: "home_assistant", Arguments: map[string]any{"entity": "light.porch", "action": "turn_on"}},
			{ToolName: "weather"},
		},
	}

	got := automationPrompt(a)
	want := "Execute this automation: \"Evening lights\"\n" +
		"\nStep 1: Use the `home_assistant` tool with action=turn_on, entity=light.porch" +
		"\nStep 2: Use the `weather` tool"
	if got != want {
		t.Errorf("prompt mismatch:\ngot  %q\nwant %q", got, want)
	}
}

func TestFormatArgsSorted(t *testing.T) {
	got := formatArgs(map[string]any{"zone": "home", "days": 3, "active": true})
	if got != "active=true, days=3, zone=home" {
		t.Errorf("got %q", got)
	}
}

func TestClassifyResult(t *testing.T) {
	tests := []struct {
		name    string
		content string
		err     error
		want    string
	}{
		{"clean run", "Lights are on.", nil, "success"},
		{"mentions failure", "I could not reach the light.", nil, "partial"},
		{"mentions error", "An error occurred on step 2.", nil, "partial"},
		{"empty reply", "", nil, "failed"},
		{"turn error", "partial text", errors.New("stream cut"), "failed"},
	}
	for _, tt := range tests {
		if got := classifyResult(tt.content, tt.err); got != tt.want {
			t.Errorf("%s: got %q, want %q", tt.name, got, tt.want)
		}
	}
}

func TestAutomationSchedule(t *testing.T) {
	sched, fp, err := automationSchedule(taskcfg.AutomationSchedule{Cron: "0 8 * * 1"})
	if err != nil || sched.Kind != scheduler.ScheduleCron || fp != "cron:0 8 * * 1" {
		t.Errorf("cron: sched=%+v fp=%q err=%v", sched, fp, err)
	}

	sched, fp, err = automationSchedule(taskcfg.AutomationSchedule{IntervalMinutes: 45})
	if err != nil || sched.Kind != scheduler.ScheduleEvery || fp != "every:45m" {
		t.Errorf("interval: sched=%+v fp=%q err=%v", sched, fp, err)
	}

	if _, _, err := automationSchedule(taskcfg.AutomationSchedule{}); err == nil {
		t.Error("empty schedule should error")
	}
}
