// Package conditions decides whether a conditional automation should
// fire: cooldown first, then the condition list under "all" or "any"
// logic.
package conditions

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/nugget/choombridge/internal/choom"
	"github.com/nugget/choombridge/internal/commands"
	"github.com/nugget/choombridge/internal/homeassistant"
	"github.com/nugget/choombridge/internal/taskcfg"
)

// WeatherProvider supplies current conditions for the configured
// location.
type WeatherProvider interface {
	CurrentWeather(ctx context.Context, location string) (*choom.Weather, error)
}

// EntityStates supplies home automation entity state.
type EntityStates interface {
	State(ctx context.Context, entityID string) (*homeassistant.State, error)
}

// Evaluator evaluates automation conditions. Providers may be nil; a
// condition whose provider is missing evaluates false with an error.
type Evaluator struct {
	weather  WeatherProvider
	cal      commands.Calendar
	ha       EntityStates
	location string
	logger   *slog.Logger
	now      func() time.Time
}

// New creates an evaluator. location is passed to the weather
// provider.
func New(weather WeatherProvider, cal commands.Calendar, ha EntityStates, location string, logger *slog.Logger) *Evaluator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Evaluator{
		weather:  weather,
		cal:      cal,
		ha:       ha,
		location: location,
		logger:   logger,
		now:      time.Now,
	}
}

// timestampLayouts are the shapes lastConditionMet has appeared in.
var timestampLayouts = []string{time.RFC3339, "2006-01-02T15:04:05"}

func parseTimestamp(s string, loc *time.Location) (time.Time, bool) {
	for _, layout := range timestampLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// ShouldRun reports whether the automation's conditions pass right
// now. The cooldown is checked before any condition: a recent pass
// suppresses re-evaluation entirely.
func (e *Evaluator) ShouldRun(ctx context.Context, a *taskcfg.Automation) (bool, error) {
	now := e.now()

	if a.Cooldown != nil && a.Cooldown.Minutes > 0 && a.LastConditionMet != "" {
		if last, ok := parseTimestamp(a.LastConditionMet, now.Location()); ok {
			window := time.Duration(a.Cooldown.Minutes) * time.Minute
			if now.Sub(last) < window {
				e.logger.Debug("automation in cooldown", "automation", a.Name, "until", last.Add(window))
				return false, nil
			}
		}
	}

	if len(a.Conditions) == 0 {
		return true, nil
	}

	anyLogic := strings.EqualFold(a.ConditionLogic, "any")
	var firstErr error
	for _, cond := range a.Conditions {
		pass, err := e.eval(ctx, cond)
		if err != nil && firstErr == nil {
			firstErr = err
		}
		if anyLogic && pass {
			return true, nil
		}
		if !anyLogic && !pass {
			return false, firstErr
		}
	}
	if anyLogic {
		return false, firstErr
	}
	return true, firstErr
}

func (e *Evaluator) eval(ctx context.Context, c taskcfg.Condition) (bool, error) {
	switch c.Kind {
	case taskcfg.CondNone, "":
		return true, nil
	case taskcfg.CondWeather:
		return e.evalWeather(ctx, c)
	case taskcfg.CondTimeRange:
		return taskcfg.InTimeRange(c.After, c.Before, e.now()), nil
	case taskcfg.CondDayOfWeek:
		return e.evalDayOfWeek(c), nil
	case taskcfg.CondCalendar:
		return e.evalCalendar(ctx, c)
	case taskcfg.CondHomeAssistant:
		return e.evalHomeAssistant(ctx, c)
	default:
		return false, fmt.Errorf("unknown condition type %q", c.Kind)
	}
}

func (e *Evaluator) evalWeather(ctx context.Context, c taskcfg.Condition) (bool, error) {
	if e.weather == nil {
		return false, fmt.Errorf("weather condition with no weather provider")
	}
	w, err := e.weather.CurrentWeather(ctx, e.location)
	if err != nil {
		return false, fmt.Errorf("weather condition: %w", err)
	}

	var actual float64
	switch c.Field {
	case "temperature":
		actual = w.Temperature
	case "windSpeed":
		actual = w.WindSpeed
	case "humidity":
		actual = w.Humidity
	default:
		return false, fmt.Errorf("unknown weather field %q", c.Field)
	}
	return compareNumbers(c.Op, actual, c.Value)
}

// evalDayOfWeek uses Sunday=0 numbering, which matches Go's
// time.Weekday.
func (e *Evaluator) evalDayOfWeek(c taskcfg.Condition) bool {
	today := int(e.now().Weekday())
	for _, day := range c.Days {
		if day == today {
			return true
		}
	}
	return false
}

func (e *Evaluator) evalCalendar(ctx context.Context, c taskcfg.Condition) (bool, error) {
	if e.cal == nil {
		return false, fmt.Errorf("calendar condition with no calendar provider")
	}
	now := e.now()
	start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	events, err := e.cal.EventsBetween(ctx, start, start.AddDate(0, 0, 1))
	if err != nil {
		return false, fmt.Errorf("calendar condition: %w", err)
	}

	matched := events
	if c.Keyword != "" {
		keyword := strings.ToLower(c.Keyword)
		matched = nil
		for _, ev := range events {
			if strings.Contains(strings.ToLower(ev.Summary), keyword) {
				matched = append(matched, ev)
			}
		}
	}

	if c.HasEvents != nil {
		return (len(matched) > 0) == *c.HasEvents, nil
	}
	return len(matched) > 0, nil
}

// evalHomeAssistant compares an entity state: numeric comparison when
// both sides parse as numbers, string equality otherwise. Unavailable
// entities never pass.
func (e *Evaluator) evalHomeAssistant(ctx context.Context, c taskcfg.Condition) (bool, error) {
	if e.ha == nil {
		return false, fmt.Errorf("home_assistant condition with no state provider")
	}
	state, err := e.ha.State(ctx, c.EntityID)
	if err != nil {
		return false, fmt.Errorf("home_assistant condition: %w", err)
	}
	if state.State == "unavailable" || state.State == "unknown" {
		return false, nil
	}

	want := fmt.Sprintf("%v", c.HAValue)
	actualNum, errA := strconv.ParseFloat(state.State, 64)
	wantNum, errW := strconv.ParseFloat(want, 64)
	if errA == nil && errW == nil {
		return compareNumbers(c.Op, actualNum, wantNum)
	}

	equal := strings.EqualFold(state.State, want)
	switch c.Op {
	case "==", "":
		return equal, nil
	case "!=":
		return !equal, nil
	default:
		return false, fmt.Errorf("op %q needs numeric values, entity %s is %q", c.Op, c.EntityID, state.State)
	}
}

func compareNumbers(op string, a, b float64) (bool, error) {
	switch op {
	case "<":
		return a < b, nil
	case ">":
		return a > b, nil
	case "<=":
		return a <= b, nil
	case ">=":
		return a >= b, nil
	case "==", "":
		return a == b, nil
	case "!=":
		return a != b, nil
	default:
		return false, fmt.Errorf("unknown comparison op %q", op)
	}
}
