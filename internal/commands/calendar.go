package commands

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"
)

var (
	// Weather phrasing reuses the same day words; those questions
	// belong to the LLM's weather tool, not the calendar.
	weatherWordRe = regexp.MustCompile(`(?i)\b(weather|forecast|temperature|rain|raining|snow|snowing|sunny|windy)\b`)

	calendarWordRe = regexp.MustCompile(`(?i)\b(calendar|schedule|agenda|events?|meetings?|appointments?)\b`)
	birthdayRe     = regexp.MustCompile(`(?i)\b(birthdays?|bday)\b`)
	nextMeetingRe  = regexp.MustCompile(`(?i)\b(next|any|upcoming)\b.*\b(meetings?|appointments?)\b`)
	thisWeekRe     = regexp.MustCompile(`(?i)\bthis week\b`)
	upcomingRe     = regexp.MustCompile(`(?i)\b(upcoming|coming up)\b`)
	weekendRe      = regexp.MustCompile(`(?i)\b(this |next )?weekend\b`)
)

var weekdayNames = map[string]time.Weekday{
	"sunday": time.Sunday, "monday": time.Monday, "tuesday": time.Tuesday,
	"wednesday": time.Wednesday, "thursday": time.Thursday,
	"friday": time.Friday, "saturday": time.Saturday,
}

func (i *Interpreter) tryCalendar(ctx context.Context, text string) (string, bool) {
	if i.cal == nil {
		return "", false
	}
	lower := strings.ToLower(text)
	if weatherWordRe.MatchString(lower) {
		return "", false
	}

	if birthdayRe.MatchString(lower) && calendarBirthdayIntent(lower) {
		return i.birthdays(ctx), true
	}

	hasCalWord := calendarWordRe.MatchString(lower)
	now := i.now()

	switch {
	case hasCalWord && strings.Contains(lower, "today"):
		from := startOfDay(now)
		return i.window(ctx, "Today", from, from.AddDate(0, 0, 1)), true

	case hasCalWord && strings.Contains(lower, "tomorrow"):
		from := startOfDay(now).AddDate(0, 0, 1)
		return i.window(ctx, "Tomorrow", from, from.AddDate(0, 0, 1)), true

	case hasCalWord && weekendRe.MatchString(lower):
		from, to := weekendWindow(now)
		return i.window(ctx, "This weekend", from, to), true

	case hasCalWord && thisWeekRe.MatchString(lower):
		return i.window(ctx, "This week", now, now.AddDate(0, 0, 7)), true
	}

	if hasCalWord {
		if day, ok := weekdayIn(lower); ok {
			from := nextWeekday(now, day)
			header := "On " + from.Format("Monday")
			return i.window(ctx, header, from, from.AddDate(0, 0, 1)), true
		}
	}

	if nextMeetingRe.MatchString(lower) {
		return i.window(ctx, "Coming up", now, now.AddDate(0, 0, 60)), true
	}

	if hasCalWord && upcomingRe.MatchString(lower) {
		return i.window(ctx, "Coming up", now, now.AddDate(0, 0, 3)), true
	}

	if hasCalWord {
		if reply, ok := i.keywordSearch(ctx, lower); ok {
			return reply, true
		}
	}
	return "", false
}

// calendarBirthdayIntent keeps "birthday" chit-chat ("it's her
// birthday!") out of the calendar path.
func calendarBirthdayIntent(lower string) bool {
	return strings.Contains(lower, "next") || strings.Contains(lower, "upcoming") ||
		strings.Contains(lower, "when") || strings.Contains(lower, "any") ||
		strings.Contains(lower, "whose")
}

func (i *Interpreter) window(ctx context.Context, header string, from, to time.Time) string {
	events, err := i.cal.EventsBetween(ctx, from, to)
	if err != nil {
		i.logger.Warn("calendar fetch failed", "error", err)
		return "Sorry, I couldn't reach the calendar right now."
	}
	return formatEvents(header, events)
}

func (i *Interpreter) birthdays(ctx context.Context) string {
	now := i.now()
	events, err := i.cal.EventsBetween(ctx, now, now.AddDate(1, 0, 0))
	if err != nil {
		i.logger.Warn("calendar fetch failed", "error", err)
		return "Sorry, I couldn't reach the calendar right now."
	}
	var hits []Event
	for _, e := range events {
		lower := strings.ToLower(e.Summary)
		if strings.Contains(lower, "birthday") || strings.Contains(lower, "bday") {
			hits = append(hits, e)
		}
	}
	return formatEvents("Upcoming birthdays", hits)
}

// searchStopWords are stripped before keyword matching.
var searchStopWords = map[string]bool{
	"when": true, "is": true, "the": true, "my": true, "whats": true,
	"what's": true, "what": true, "on": true, "do": true, "i": true,
	"have": true, "a": true, "an": true, "for": true, "next": true,
	"any": true, "about": true, "me": true, "in": true, "at": true,
	"calendar": true, "schedule": true, "agenda": true, "event": true,
	"events": true, "meeting": true, "meetings": true,
	"appointment": true, "appointments": true, "there": true,
	"anything": true, "something": true, "scheduled": true,
}

// keywordSearch matches residual tokens against event titles in a
// 60-day window: whole-phrase substring first, then every token of
// four or more characters must prefix-match some title word on its
// first four characters. Results de-duplicate by event id.
func (i *Interpreter) keywordSearch(ctx context.Context, lower string) (string, bool) {
	var tokens []string
	for _, tok := range strings.Fields(lower) {
		tok = strings.Trim(tok, `.,!?:;'"`)
		if tok == "" || searchStopWords[tok] {
			continue
		}
		tokens = append(tokens, tok)
	}
	if len(tokens) == 0 {
		return "", false
	}

	now := i.now()
	events, err := i.cal.EventsBetween(ctx, now, now.AddDate(0, 0, 60))
	if err != nil {
		i.logger.Warn("calendar fetch failed", "error", err)
		return "Sorry, I couldn't reach the calendar right now.", true
	}

	phrase := strings.Join(tokens, " ")
	seen := make(map[string]bool)
	var hits []Event
	add := func(e Event) {
		if !seen[e.ID] {
			seen[e.ID] = true
			hits = append(hits, e)
		}
	}

	for _, e := range events {
		if strings.Contains(strings.ToLower(e.Summary), phrase) {
			add(e)
		}
	}
	if len(hits) == 0 {
		for _, e := range events {
			if allTokensMatch(tokens, strings.ToLower(e.Summary)) {
				add(e)
			}
		}
	}
	if len(hits) == 0 {
		return "", false
	}
	return formatEvents(fmt.Sprintf("Found for %q", phrase), hits), true
}

func allTokensMatch(tokens []string, summary string) bool {
	words := strings.Fields(summary)
	matched := false
	for _, tok := range tokens {
		if len(tok) < 4 {
			continue
		}
		prefix := tok[:4]
		ok := false
		for _, w := range words {
			if strings.HasPrefix(w, prefix) {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
		matched = true
	}
	return matched
}

func weekdayIn(lower string) (time.Weekday, bool) {
	for name, day := range weekdayNames {
		if strings.Contains(lower, name) {
			return day, true
		}
	}
	return 0, false
}

// nextWeekday returns the start of the next occurrence of day, 1 to 7
// days ahead.
func nextWeekday(now time.Time, day time.Weekday) time.Time {
	delta := (int(day) - int(now.Weekday()) + 7) % 7
	if delta == 0 {
		delta = 7
	}
	return startOfDay(now).AddDate(0, 0, delta)
}

// weekendWindow returns Saturday 00:00 through Monday 00:00. On a
// weekend day it covers the weekend in progress.
func weekendWindow(now time.Time) (time.Time, time.Time) {
	start := startOfDay(now)
	switch now.Weekday() {
	case time.Saturday:
		// already inside
	case time.Sunday:
		start = start.AddDate(0, 0, -1)
	default:
		start = start.AddDate(0, 0, int(time.Saturday-now.Weekday()))
	}
	return start, start.AddDate(0, 0, 2)
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

func formatEvents(header string, events []Event) string {
	if len(events) == 0 {
		return header + ": nothing on the calendar."
	}
	var b strings.Builder
	b.WriteString(header)
	b.WriteString(":")
	for _, e := range events {
		b.WriteString("\n- ")
		if e.AllDay {
			b.WriteString(e.Start.Format("Mon Jan 2"))
			b.WriteString(" (all day)")
		} else {
			b.WriteString(e.Start.Format("Mon Jan 2 15:04"))
		}
		b.WriteString(": ")
		b.WriteString(e.Summary)
		if e.Location != "" {
			b.WriteString(" at ")
			b.WriteString(e.Location)
		}
	}
	return b.String()
}
