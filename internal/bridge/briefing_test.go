package bridge

import (
	"strings"
	"testing"
	"time"

	"github.com/nugget/choombridge/internal/choom"
	"github.com/nugget/choombridge/internal/commands"
	"github.com/nugget/choombridge/internal/taskcfg"
)

func sampleBriefingData() *briefingData {
	return &briefingData{
		date:    time.Date(2026, 8, 24, 7, 0, 0, 0, time.UTC),
		weather: &choom.Weather{Location: "Oulu", Temperature: 17.6, Description: "partly cloudy", WindSpeed: 4, Humidity: 62},
		events: []commands.Event{
			{Summary: "Dentist visit", Start: time.Date(2026, 8, 24, 10, 30, 0, 0, time.UTC)},
			{Summary: "Midsummer party", AllDay: true},
		},
		reminders: []taskcfg.Reminder{{Text: "take out the trash"}},
		inbox:     []string{"2 unread messages. Most recent:", "- Taina: Saturday plans"},
		birthdays: []string{"Wed Aug 26: Ville (turns 40)"},
	}
}

func TestEchoesInstructions(t *testing.T) {
	echoes := []string{
		"I will use ONLY the data below as instructed.",
		"These instructions say I should compose a briefing.",
		"Sure - do not repeat, got it!",
	}
	for _, s := range echoes {
		if !echoesInstructions(s) {
			t.Errorf("should detect echo: %q", s)
		}
	}
	if echoesInstructions("Good morning! It's a calm, cloudy Monday.") {
		t.Error("normal briefing flagged as echo")
	}
}

func TestFormatBriefingData(t *testing.T) {
	got := formatBriefingData(sampleBriefingData())

	for _, want := range []string{
		"Date: Monday, August 24",
		"Weather in Oulu: 18 degrees, partly cloudy.",
		"- 10:30: Dentist visit",
		"- all day: Midsummer party",
		"- take out the trash",
		"- Taina: Saturday plans",
		"Wed Aug 26: Ville (turns 40)",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("data block missing %q:\n%s", want, got)
		}
	}
	if echoesInstructions(got) {
		t.Error("the data block itself must not trip the echo detector")
	}
}

func TestFormatBriefingDataEmptyCalendar(t *testing.T) {
	d := &briefingData{date: time.Date(2026, 8, 24, 7, 0, 0, 0, time.UTC)}
	if got := formatBriefingData(d); !strings.Contains(got, "- nothing scheduled") {
		t.Errorf("empty calendar line missing:\n%s", got)
	}
}

func TestFallbackBriefing(t *testing.T) {
	got := fallbackBriefing(sampleBriefingData())

	if !strings.HasPrefix(got, "Good morning! Here's your briefing for Monday, August 24.") {
		t.Errorf("unexpected opening: %q", got)
	}
	for _, want := range []string{
		"Weather in Oulu: 18 degrees, partly cloudy.",
		"- 10:30: Dentist visit",
		"Reminders:",
		"Upcoming birthdays:",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("fallback missing %q:\n%s", want, got)
		}
	}
	if echoesInstructions(got) {
		t.Error("fallback must not trip the echo detector")
	}
}
