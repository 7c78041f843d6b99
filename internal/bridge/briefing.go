package bridge

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/nugget/choombridge/internal/choom"
	"github.com/nugget/choombridge/internal/commands"
	"github.com/nugget/choombridge/internal/taskcfg"
)

// echoMarkers are phrases from the briefing prompt's instruction block.
// A reply containing them is parroting the prompt, so the deterministic
// fallback ships instead.
var echoMarkers = []string{
	"do not repeat",
	"these instructions",
	"only the data below",
}

// briefingData is everything the morning briefing is built from.
type briefingData struct {
	date      time.Time
	weather   *choom.Weather
	events    []commands.Event
	reminders []taskcfg.Reminder
	inbox     []string
	birthdays []string
}

// runBriefing gathers real data, hands it to the default companion in a
// fresh chat, and falls back to a deterministic rendition when the
// reply echoes the instructions.
func (b *Bridge) runBriefing(ctx context.Context) error {
	data := b.gatherBriefing(ctx)

	prompt := "Good morning. Compose my morning briefing as a short, warm spoken update.\n" +
		"Use ONLY the data below. These instructions are not part of the briefing; do not repeat them.\n\n" +
		formatBriefingData(data)

	text := ""
	turn, err := b.sendToCompanion(ctx, b.cfg.Companion.DefaultName, prompt, true)
	if err != nil {
		b.logger.Error("briefing turn failed, using fallback", "error", err)
	} else {
		text = strings.TrimSpace(turn.Content)
	}
	if text == "" || echoesInstructions(text) {
		if text != "" {
			b.logger.Warn("briefing reply echoed the prompt, using fallback")
		}
		text = fallbackBriefing(data)
	}

	b.compose(ctx, Outbound{
		Recipient: b.owner(),
		Text:      text,
		Name:      b.cfg.Companion.DefaultName,
	})
	return nil
}

// gatherBriefing collects whatever sources are configured; missing or
// failing ones just leave their section empty.
func (b *Bridge) gatherBriefing(ctx context.Context) *briefingData {
	now := b.now().In(b.loc)
	data := &briefingData{date: now}

	if w, err := b.chooms.CurrentWeather(ctx, b.cfg.Companion.Location); err != nil {
		b.logger.Warn("briefing weather fetch failed", "error", err)
	} else {
		data.weather = w
	}

	if b.cal != nil {
		start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, b.loc)
		if events, err := b.cal.EventsBetween(ctx, start, start.AddDate(0, 0, 1)); err != nil {
			b.logger.Warn("briefing calendar fetch failed", "error", err)
		} else {
			data.events = events
		}
	}

	for _, r := range b.tasks.Reminders() {
		if at, err := b.parseReminderTime(r.RemindAt); err == nil && sameDay(at, now) {
			data.reminders = append(data.reminders, r)
		}
	}

	if b.mail != nil {
		if summary, err := b.mail.InboxSummary(ctx, 3); err != nil {
			b.logger.Warn("briefing email fetch failed", "error", err)
		} else {
			data.inbox = summary.BriefingLines()
		}
	}

	if b.people != nil {
		if birthdays, err := b.people.Upcoming(ctx, now, 7); err != nil {
			b.logger.Warn("briefing birthday fetch failed", "error", err)
		} else {
			data.birthdays = birthdays
		}
	}

	return data
}

// formatBriefingData renders the data block handed to the companion.
func formatBriefingData(d *briefingData) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Date: %s\n", d.date.Format("Monday, January 2"))

	if d.weather != nil {
		fmt.Fprintf(&sb, "Weather in %s: %.0f degrees, %s. Wind %.0f m/s, humidity %.0f%%.\n",
			d.weather.Location, d.weather.Temperature, d.weather.Description,
			d.weather.WindSpeed, d.weather.Humidity)
	}

	sb.WriteString("Calendar:\n")
	if len(d.events) == 0 {
		sb.WriteString("- nothing scheduled\n")
	}
	for _, ev := range d.events {
		if ev.AllDay {
			fmt.Fprintf(&sb, "- all day: %s\n", ev.Summary)
		} else {
			fmt.Fprintf(&sb, "- %s: %s\n", ev.Start.Format("15:04"), ev.Summary)
		}
	}

	if len(d.reminders) > 0 {
		sb.WriteString("Reminders today:\n")
		for _, r := range d.reminders {
			fmt.Fprintf(&sb, "- %s\n", r.Text)
		}
	}
	if len(d.inbox) > 0 {
		sb.WriteString("Email:\n")
		for _, line := range d.inbox {
			sb.WriteString(line + "\n")
		}
	}
	if len(d.birthdays) > 0 {
		sb.WriteString("Upcoming birthdays:\n")
		for _, line := range d.birthdays {
			sb.WriteString("- " + line + "\n")
		}
	}
	return sb.String()
}

// fallbackBriefing is the deterministic rendition of the same data.
func fallbackBriefing(d *briefingData) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Good morning! Here's your briefing for %s.\n", d.date.Format("Monday, January 2"))

	if d.weather != nil {
		fmt.Fprintf(&sb, "\nWeather in %s: %.0f degrees, %s.\n",
			d.weather.Location, d.weather.Temperature, d.weather.Description)
	}

	if len(d.events) == 0 {
		sb.WriteString("\nNothing on the calendar today.\n")
	} else {
		sb.WriteString("\nToday's calendar:\n")
		for _, ev := range d.events {
			if ev.AllDay {
				fmt.Fprintf(&sb, "- all day: %s\n", ev.Summary)
			} else {
				fmt.Fprintf(&sb, "- %s: %s\n", ev.Start.Format("15:04"), ev.Summary)
			}
		}
	}

	if len(d.reminders) > 0 {
		sb.WriteString("\nReminders:\n")
		for _, r := range d.reminders {
			fmt.Fprintf(&sb, "- %s\n", r.Text)
		}
	}
	if len(d.inbox) > 0 {
		sb.WriteString("\n" + strings.Join(d.inbox, "\n") + "\n")
	}
	if len(d.birthdays) > 0 {
		sb.WriteString("\nUpcoming birthdays:\n")
		for _, line := range d.birthdays {
			fmt.Fprintf(&sb, "- %s\n", line)
		}
	}
	return strings.TrimSpace(sb.String())
}

// echoesInstructions detects a reply that quotes the prompt's
// instruction block.
func echoesInstructions(reply string) bool {
	lower := strings.ToLower(reply)
	for _, marker := range echoMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
