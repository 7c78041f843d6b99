package conditions

import (
	"context"
	"testing"
	"time"

	"github.com/nugget/choombridge/internal/choom"
	"github.com/nugget/choombridge/internal/commands"
	"github.com/nugget/choombridge/internal/homeassistant"
	"github.com/nugget/choombridge/internal/taskcfg"
)

type fakeWeather struct{ w choom.Weather }

func (f *fakeWeather) CurrentWeather(ctx context.Context, location string) (*choom.Weather, error) {
	return &f.w, nil
}

type fakeCal struct{ events []commands.Event }

func (f *fakeCal) EventsBetween(ctx context.Context, from, to time.Time) ([]commands.Event, error) {
	return f.events, nil
}

type fakeStates struct{ states map[string]string }

func (f *fakeStates) State(ctx context.Context, entityID string) (*homeassistant.State, error) {
	return &homeassistant.State{EntityID: entityID, State: f.states[entityID]}, nil
}

// Wednesday 2026-08-26 07:00 local.
var evalNow = time.Date(2026, 8, 26, 7, 0, 0, 0, time.UTC)

func testEvaluator(w WeatherProvider, cal commands.Calendar, ha EntityStates) *Evaluator {
	e := New(w, cal, ha, "Oulu", nil)
	e.now = func() time.Time { return evalNow }
	return e
}

func boolPtr(b bool) *bool { return &b }

func TestShouldRun_NoConditions(t *testing.T) {
	e := testEvaluator(nil, nil, nil)
	ok, err := e.ShouldRun(context.Background(), &taskcfg.Automation{Name: "plain"})
	if err != nil || !ok {
		t.Errorf("ok=%v err=%v", ok, err)
	}
}

func TestShouldRun_CooldownSuppressesEvaluation(t *testing.T) {
	e := testEvaluator(&fakeWeather{w: choom.Weather{Temperature: 38}}, nil, nil)
	a := &taskcfg.Automation{
		Name: "frost fan",
		Conditions: []taskcfg.Condition{
			{Kind: taskcfg.CondWeather, Field: "temperature", Op: "<", Value: 40},
		},
		Cooldown:         &taskcfg.Cooldown{Minutes: 60},
		LastConditionMet: evalNow.Add(-30 * time.Minute).Format("2006-01-02T15:04:05"),
	}

	ok, err := e.ShouldRun(context.Background(), a)
	if err != nil {
		t.Fatalf("ShouldRun: %v", err)
	}
	if ok {
		t.Error("should be suppressed inside cooldown even though condition passes")
	}

	// Outside the cooldown the condition evaluates again and passes.
	a.LastConditionMet = evalNow.Add(-65 * time.Minute).Format("2006-01-02T15:04:05")
	ok, err = e.ShouldRun(context.Background(), a)
	if err != nil || !ok {
		t.Errorf("ok=%v err=%v", ok, err)
	}
}

func TestShouldRun_AllVsAny(t *testing.T) {
	e := testEvaluator(&fakeWeather{w: choom.Weather{Temperature: 38}}, nil, nil)
	pass := taskcfg.Condition{Kind: taskcfg.CondWeather, Field: "temperature", Op: "<", Value: 40}
	fail := taskcfg.Condition{Kind: taskcfg.CondWeather, Field: "temperature", Op: ">", Value: 40}

	all := &taskcfg.Automation{Conditions: []taskcfg.Condition{pass, fail}}
	if ok, _ := e.ShouldRun(context.Background(), all); ok {
		t.Error(`"all" with one failing condition should not run`)
	}

	anyA := &taskcfg.Automation{Conditions: []taskcfg.Condition{fail, pass}, ConditionLogic: "any"}
	if ok, _ := e.ShouldRun(context.Background(), anyA); !ok {
		t.Error(`"any" with one passing condition should run`)
	}
}

func TestEval_TimeRangeOvernight(t *testing.T) {
	e := testEvaluator(nil, nil, nil)
	cond := taskcfg.Condition{Kind: taskcfg.CondTimeRange, After: "22:00", Before: "08:00"}

	// 07:00 is inside an overnight 22:00-08:00 range.
	ok, err := e.eval(context.Background(), cond)
	if err != nil || !ok {
		t.Errorf("ok=%v err=%v", ok, err)
	}

	cond.Before = "06:00"
	ok, _ = e.eval(context.Background(), cond)
	if ok {
		t.Error("07:00 is outside 22:00-06:00")
	}
}

func TestEval_TimeRangeIncludesEndMinute(t *testing.T) {
	e := testEvaluator(nil, nil, nil)
	// evalNow sits exactly on 07:00, the range's final minute.
	cond := taskcfg.Condition{Kind: taskcfg.CondTimeRange, After: "05:00", Before: "07:00"}

	ok, err := e.eval(context.Background(), cond)
	if err != nil || !ok {
		t.Errorf("07:00 should be inside 05:00-07:00: ok=%v err=%v", ok, err)
	}
}

func TestEval_DayOfWeekSundayZero(t *testing.T) {
	e := testEvaluator(nil, nil, nil)
	// evalNow is a Wednesday, day 3.
	ok, _ := e.eval(context.Background(), taskcfg.Condition{Kind: taskcfg.CondDayOfWeek, Days: []int{3}})
	if !ok {
		t.Error("Wednesday should match day 3")
	}
	ok, _ = e.eval(context.Background(), taskcfg.Condition{Kind: taskcfg.CondDayOfWeek, Days: []int{0, 6}})
	if ok {
		t.Error("Wednesday should not match weekend days")
	}
}

func TestEval_Calendar(t *testing.T) {
	cal := &fakeCal{events: []commands.Event{{ID: "1", Summary: "Sauna night"}}}
	e := testEvaluator(nil, cal, nil)

	ok, _ := e.eval(context.Background(), taskcfg.Condition{Kind: taskcfg.CondCalendar, Keyword: "sauna"})
	if !ok {
		t.Error("keyword should match")
	}
	ok, _ = e.eval(context.Background(), taskcfg.Condition{Kind: taskcfg.CondCalendar, Keyword: "dentist"})
	if ok {
		t.Error("keyword should not match")
	}
	ok, _ = e.eval(context.Background(), taskcfg.Condition{Kind: taskcfg.CondCalendar, HasEvents: boolPtr(false)})
	if ok {
		t.Error("has_events=false with events present should fail")
	}
}

func TestEval_HomeAssistant(t *testing.T) {
	ha := &fakeStates{states: map[string]string{
		"sensor.sauna":  "82.5",
		"lock.front":    "locked",
		"sensor.broken": "unavailable",
	}}
	e := testEvaluator(nil, nil, ha)

	tests := []struct {
		cond taskcfg.Condition
		want bool
	}{
		{taskcfg.Condition{Kind: taskcfg.CondHomeAssistant, EntityID: "sensor.sauna", Op: ">", HAValue: 80}, true},
		{taskcfg.Condition{Kind: taskcfg.CondHomeAssistant, EntityID: "sensor.sauna", Op: "<", HAValue: "80"}, false},
		{taskcfg.Condition{Kind: taskcfg.CondHomeAssistant, EntityID: "lock.front", Op: "==", HAValue: "LOCKED"}, true},
		{taskcfg.Condition{Kind: taskcfg.CondHomeAssistant, EntityID: "lock.front", Op: "!=", HAValue: "locked"}, false},
		{taskcfg.Condition{Kind: taskcfg.CondHomeAssistant, EntityID: "sensor.broken", Op: "==", HAValue: "unavailable"}, false},
	}
	for i, tt := range tests {
		got, err := e.eval(context.Background(), tt.cond)
		if err != nil {
			t.Errorf("case %d: %v", i, err)
			continue
		}
		if got != tt.want {
			t.Errorf("case %d: got %v, want %v", i, got, tt.want)
		}
	}
}

func TestEval_MissingProviderErrors(t *testing.T) {
	e := testEvaluator(nil, nil, nil)
	if _, err := e.eval(context.Background(), taskcfg.Condition{Kind: taskcfg.CondWeather, Field: "temperature", Op: "<", Value: 5}); err == nil {
		t.Error("weather condition without provider should error")
	}
}
