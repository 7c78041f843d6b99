package homeassistant

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// stateGetter is the REST fallback the cache uses on a miss.
type stateGetter interface {
	GetState(ctx context.Context, entityID string) (*State, error)
}

// StateCache holds the last-known state of entities, fed by the
// websocket event stream with a REST fallback on cache miss. Condition
// sweeps run every few seconds; without the cache each sweep would be
// a REST round trip per entity.
type StateCache struct {
	rest   stateGetter
	ws     *WSClient
	logger *slog.Logger

	mu     sync.RWMutex
	states map[string]State
}

// NewStateCache creates a cache. ws may be nil; every lookup then goes
// to REST.
func NewStateCache(rest stateGetter, ws *WSClient, logger *slog.Logger) *StateCache {
	if logger == nil {
		logger = slog.Default()
	}
	return &StateCache{
		rest:   rest,
		ws:     ws,
		logger: logger,
		states: make(map[string]State),
	}
}

// Run consumes websocket events until ctx is done, reconnecting with
// backoff when the stream drops. Call in its own goroutine.
func (s *StateCache) Run(ctx context.Context) {
	if s.ws == nil {
		return
	}
	backoff := time.Second
	for ctx.Err() == nil {
		if err := s.ws.Connect(ctx); err != nil {
			s.logger.Warn("home assistant websocket connect failed", "error", err, "retry_in", backoff)
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			if backoff < 60*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second
		s.consume(ctx)
		s.ws.Close()
	}
}

func (s *StateCache) consume(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.ws.Done():
			return
		case change := <-s.ws.Events():
			if change.NewState == nil {
				continue
			}
			s.mu.Lock()
			s.states[change.EntityID] = *change.NewState
			s.mu.Unlock()
		}
	}
}

// State returns the entity state, preferring the websocket-fed cache.
// A REST hit populates the cache.
func (s *StateCache) State(ctx context.Context, entityID string) (*State, error) {
	s.mu.RLock()
	cached, ok := s.states[entityID]
	s.mu.RUnlock()
	if ok {
		return &cached, nil
	}

	state, err := s.rest.GetState(ctx, entityID)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.states[state.EntityID] = *state
	s.mu.Unlock()
	return state, nil
}
