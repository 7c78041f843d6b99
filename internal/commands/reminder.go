package commands

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	relForwardRe  = regexp.MustCompile(`(?i)^remind me in (.+?) (minutes?|mins?|hours?|hrs?) to (.+?)\.?$`)
	relReversedRe = regexp.MustCompile(`(?i)^remind me to (.+?) in (.+?) (minutes?|mins?|hours?|hrs?)\.?$`)
	absoluteRe    = regexp.MustCompile(`(?i)^remind me (?:at|@) (\d{1,2})(?::(\d{2}))?\s*(am|pm)? to (.+?)\.?$`)
)

func (i *Interpreter) tryReminder(text string) (string, bool) {
	if i.reminders == nil {
		return "", false
	}

	if m := relForwardRe.FindStringSubmatch(text); m != nil {
		return i.relativeReminder(m[3], m[1], m[2])
	}
	if m := relReversedRe.FindStringSubmatch(text); m != nil {
		return i.relativeReminder(m[1], m[2], m[3])
	}
	if m := absoluteRe.FindStringSubmatch(text); m != nil {
		return i.absoluteReminder(m[4], m[1], m[2], m[3])
	}
	return "", false
}

func (i *Interpreter) relativeReminder(what, amount, unit string) (string, bool) {
	n, ok := parseNumberWord(amount)
	if !ok || n < 0 {
		return "", false
	}

	d := time.Duration(n) * time.Minute
	unitWord := "minutes"
	if strings.HasPrefix(strings.ToLower(unit), "h") {
		d = time.Duration(n) * time.Hour
		unitWord = "hours"
	}
	if n == 1 {
		unitWord = strings.TrimSuffix(unitWord, "s")
	}

	what = strings.TrimSpace(what)
	at := i.now().Add(d)
	if err := i.reminders.PlanReminder(what, at); err != nil {
		i.logger.Error("could not schedule reminder", "error", err)
		return "Sorry, I couldn't set that reminder.", true
	}
	return fmt.Sprintf("OK, I'll remind you in %d %s to %s (at %s).", n, unitWord, what, at.Format("15:04")), true
}

func (i *Interpreter) absoluteReminder(what, hourStr, minuteStr, meridiem string) (string, bool) {
	hour, err := strconv.Atoi(hourStr)
	if err != nil || hour > 23 {
		return "", false
	}
	minute := 0
	if minuteStr != "" {
		if minute, err = strconv.Atoi(minuteStr); err != nil || minute > 59 {
			return "", false
		}
	}
	switch strings.ToLower(meridiem) {
	case "pm":
		if hour < 12 {
			hour += 12
		}
	case "am":
		if hour == 12 {
			hour = 0
		}
	}

	now := i.now()
	at := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
	// A time already past today means tomorrow.
	if !at.After(now) {
		at = at.AddDate(0, 0, 1)
	}

	what = strings.TrimSpace(what)
	if err := i.reminders.PlanReminder(what, at); err != nil {
		i.logger.Error("could not schedule reminder", "error", err)
		return "Sorry, I couldn't set that reminder.", true
	}

	day := "today"
	if at.Day() != now.Day() {
		day = "tomorrow"
	}
	return fmt.Sprintf("OK, I'll remind you at %s %s to %s.", at.Format("15:04"), day, what), true
}

// numberWords covers what speech recognition produces for small
// counts.
var numberWords = map[string]int{
	"a": 1, "an": 1,
	"one": 1, "two": 2, "three": 3, "four": 4, "five": 5,
	"six": 6, "seven": 7, "eight": 8, "nine": 9, "ten": 10,
	"eleven": 11, "twelve": 12, "thirteen": 13, "fourteen": 14,
	"fifteen": 15, "sixteen": 16, "seventeen": 17, "eighteen": 18,
	"nineteen": 19, "twenty": 20, "thirty": 30, "forty": 40,
	"fifty": 50, "sixty": 60, "ninety": 90,
}

// parseNumberWord accepts digits, a single number word, or a
// hyphenated/spaced tens compound ("forty-five", "twenty five").
func parseNumberWord(s string) (int, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	if n, err := strconv.Atoi(s); err == nil {
		return n, true
	}
	if n, ok := numberWords[s]; ok {
		return n, true
	}

	parts := strings.FieldsFunc(s, func(r rune) bool { return r == '-' || r == ' ' })
	if len(parts) == 2 {
		tens, okT := numberWords[parts[0]]
		ones, okO := numberWords[parts[1]]
		if okT && okO && tens%10 == 0 && tens >= 20 && ones < 10 {
			return tens + ones, true
		}
	}
	return 0, false
}
