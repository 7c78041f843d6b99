package homeassistant

import (
	"context"
	"errors"
	"testing"
)

type fakeGetter struct {
	states map[string]*State
	calls  int
}

func (f *fakeGetter) GetState(ctx context.Context, entityID string) (*State, error) {
	f.calls++
	if s, ok := f.states[entityID]; ok {
		return s, nil
	}
	return nil, errors.New("not found")
}

func TestStateCache_RESTFallbackPopulates(t *testing.T) {
	rest := &fakeGetter{states: map[string]*State{
		"sensor.sauna": {EntityID: "sensor.sauna", State: "62"},
	}}
	cache := NewStateCache(rest, nil, nil)

	got, err := cache.State(context.Background(), "sensor.sauna")
	if err != nil {
		t.Fatalf("State: %v", err)
	}
	if got.State != "62" {
		t.Errorf("state = %q", got.State)
	}

	if _, err := cache.State(context.Background(), "sensor.sauna"); err != nil {
		t.Fatalf("second State: %v", err)
	}
	if rest.calls != 1 {
		t.Errorf("rest calls = %d, want 1 (second hit should be cached)", rest.calls)
	}
}

func TestStateCache_EventUpdatesWin(t *testing.T) {
	rest := &fakeGetter{states: map[string]*State{
		"sensor.sauna": {EntityID: "sensor.sauna", State: "62"},
	}}
	cache := NewStateCache(rest, nil, nil)

	cache.mu.Lock()
	cache.states["sensor.sauna"] = State{EntityID: "sensor.sauna", State: "80"}
	cache.mu.Unlock()

	got, err := cache.State(context.Background(), "sensor.sauna")
	if err != nil {
		t.Fatalf("State: %v", err)
	}
	if got.State != "80" {
		t.Errorf("state = %q, want cached 80", got.State)
	}
	if rest.calls != 0 {
		t.Errorf("rest calls = %d, want 0", rest.calls)
	}
}

func TestStateCache_MissError(t *testing.T) {
	cache := NewStateCache(&fakeGetter{}, nil, nil)
	if _, err := cache.State(context.Background(), "sensor.ghost"); err == nil {
		t.Error("expected error for unknown entity")
	}
}
