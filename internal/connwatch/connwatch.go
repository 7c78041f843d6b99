// Package connwatch tracks the reachability of the bridge's external
// services: the signal-cli daemon, the companion service, the speech
// engine, Home Assistant, and the mail server.
//
// It covers a different timescale than httpkit's retry transport.
// httpkit absorbs sub-second dial hiccups inside one request; connwatch
// notices outages lasting seconds to minutes (a service restarting, a
// network partition) and reports them to the health job and the MQTT
// state document.
//
// A Watcher probes one service. It starts with an exponential-backoff
// connect phase, then settles into steady polling, invoking the
// transition callbacks whenever reachability flips.
package connwatch

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// ProbeFunc checks one service. nil means reachable.
type ProbeFunc func(ctx context.Context) error

// BackoffConfig shapes the startup phase and the steady poll.
type BackoffConfig struct {
	// InitialDelay precedes the first startup retry (default 2s).
	InitialDelay time.Duration

	// MaxDelay caps backoff growth (default 60s).
	MaxDelay time.Duration

	// Multiplier grows the delay between startup retries (default 2.0).
	Multiplier float64

	// MaxRetries bounds the startup phase (default 10).
	MaxRetries int

	// PollInterval paces the steady phase (default 60s).
	PollInterval time.Duration

	// ProbeTimeout bounds a single probe call (default 10s).
	ProbeTimeout time.Duration
}

// DefaultBackoffConfig is the standard schedule: 2s, 4s, 8s, 16s, 32s,
// 60s capped, ten startup attempts, then a 60-second poll.
func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		InitialDelay: 2 * time.Second,
		MaxDelay:     60 * time.Second,
		Multiplier:   2.0,
		MaxRetries:   10,
		PollInterval: 60 * time.Second,
		ProbeTimeout: 10 * time.Second,
	}
}

// withDefaults fills zero-valued fields from DefaultBackoffConfig.
func (c BackoffConfig) withDefaults() BackoffConfig {
	d := DefaultBackoffConfig()
	if c.InitialDelay <= 0 {
		c.InitialDelay = d.InitialDelay
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = d.MaxDelay
	}
	if c.Multiplier <= 0 {
		c.Multiplier = d.Multiplier
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = d.MaxRetries
	}
	if c.PollInterval <= 0 {
		c.PollInterval = d.PollInterval
	}
	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = d.ProbeTimeout
	}
	return c
}

// next returns the delay after the current one, capped at MaxDelay.
func (c BackoffConfig) next(cur time.Duration) time.Duration {
	cur = time.Duration(float64(cur) * c.Multiplier)
	if cur > c.MaxDelay {
		cur = c.MaxDelay
	}
	return cur
}

// WatcherConfig describes one watched service.
type WatcherConfig struct {
	// Name identifies the service in logs and status maps ("signal",
	// "home_assistant", ...).
	Name string

	// Probe checks the service. Must be safe for concurrent use.
	Probe ProbeFunc

	// Backoff timing; zero-valued fields take the defaults.
	Backoff BackoffConfig

	// OnReady fires on the not-ready to ready transition, in its own
	// goroutine. Optional.
	OnReady func()

	// OnDown fires on the ready to not-ready transition, in its own
	// goroutine. Optional.
	OnDown func(err error)

	// Logger defaults to the manager's.
	Logger *slog.Logger
}

// ServiceStatus is one service's reachability, shaped for the MQTT
// state document.
type ServiceStatus struct {
	Name      string    `json:"name"`
	Ready     bool      `json:"ready"`
	LastCheck time.Time `json:"last_check"`
	LastError string    `json:"last_error,omitempty"`
}

// Watcher probes a single service until its context is cancelled.
type Watcher struct {
	cfg    WatcherConfig
	ready  atomic.Bool
	cancel context.CancelFunc
	done   chan struct{}

	mu        sync.Mutex
	lastErr   error
	lastCheck time.Time
}

// IsReady reports current reachability.
func (w *Watcher) IsReady() bool {
	return w.ready.Load()
}

// LastError returns the latest probe error, nil when healthy.
func (w *Watcher) LastError() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastErr
}

// Status snapshots the watcher.
func (w *Watcher) Status() ServiceStatus {
	w.mu.Lock()
	defer w.mu.Unlock()
	s := ServiceStatus{
		Name:      w.cfg.Name,
		Ready:     w.ready.Load(),
		LastCheck: w.lastCheck,
	}
	if w.lastErr != nil {
		s.LastError = w.lastErr.Error()
	}
	return s
}

// Wait blocks until the watcher goroutine has exited.
func (w *Watcher) Wait() {
	<-w.done
}

// Stop cancels the watcher and waits for it.
func (w *Watcher) Stop() {
	w.cancel()
	<-w.done
}

// check runs one probe under its timeout and records the outcome.
func (w *Watcher) check(ctx context.Context) error {
	probeCtx, cancel := context.WithTimeout(ctx, w.cfg.Backoff.ProbeTimeout)
	err := w.cfg.Probe(probeCtx)
	cancel()

	w.mu.Lock()
	w.lastErr = err
	w.lastCheck = time.Now()
	w.mu.Unlock()
	return err
}

// markReady flips to ready and fires OnReady.
func (w *Watcher) markReady() {
	w.ready.Store(true)
	if w.cfg.OnReady != nil {
		go w.cfg.OnReady()
	}
}

// markDown flips to not-ready and fires OnDown.
func (w *Watcher) markDown(err error) {
	w.ready.Store(false)
	if w.cfg.OnDown != nil {
		go w.cfg.OnDown(err)
	}
}

// run drives the startup backoff and then the steady poll.
func (w *Watcher) run(ctx context.Context) {
	defer close(w.done)
	logger := w.cfg.Logger
	backoff := w.cfg.Backoff

	delay := backoff.InitialDelay
	for attempt := 1; attempt <= backoff.MaxRetries; attempt++ {
		err := w.check(ctx)
		if err == nil {
			w.markReady()
			logger.Info("service connected",
				"service", w.cfg.Name, "after_attempts", attempt)
			break
		}
		if attempt == backoff.MaxRetries {
			logger.Info("startup connection failed, entering background polling",
				"service", w.cfg.Name, "attempts", attempt, "error", err)
			break
		}
		logger.Debug("startup probe failed, retrying",
			"service", w.cfg.Name,
			"attempt", attempt,
			"next_delay", delay.String(),
			"error", err)
		if !sleepCtx(ctx, delay) {
			return
		}
		delay = backoff.next(delay)
	}

	ticker := time.NewTicker(backoff.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		err := w.check(ctx)
		wasReady := w.ready.Load()
		switch {
		case wasReady && err != nil:
			w.markDown(err)
			logger.Info("service became unreachable",
				"service", w.cfg.Name, "error", err)
		case !wasReady && err == nil:
			w.markReady()
			logger.Info("service recovered", "service", w.cfg.Name)
		case !wasReady:
			logger.Debug("service still unreachable",
				"service", w.cfg.Name, "error", err)
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// Manager owns the bridge's set of watchers and aggregates their status
// for the health job and the MQTT publisher.
type Manager struct {
	mu       sync.RWMutex
	watchers map[string]*Watcher
	logger   *slog.Logger
}

// NewManager creates an empty manager.
func NewManager(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		watchers: make(map[string]*Watcher),
		logger:   logger,
	}
}

// Watch starts a watcher goroutine running until ctx is cancelled or
// Stop is called. An empty Name or nil Probe is a programming error and
// panics.
func (m *Manager) Watch(ctx context.Context, cfg WatcherConfig) *Watcher {
	if cfg.Name == "" {
		panic("connwatch: WatcherConfig.Name must not be empty")
	}
	if cfg.Probe == nil {
		panic("connwatch: WatcherConfig.Probe must not be nil")
	}
	if cfg.Logger == nil {
		cfg.Logger = m.logger
	}
	cfg.Backoff = cfg.Backoff.withDefaults()

	watchCtx, cancel := context.WithCancel(ctx)
	w := &Watcher{
		cfg:    cfg,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go w.run(watchCtx)

	m.mu.Lock()
	m.watchers[cfg.Name] = w
	m.mu.Unlock()
	return w
}

// Status snapshots every watched service, keyed by name.
func (m *Manager) Status() map[string]ServiceStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	status := make(map[string]ServiceStatus, len(m.watchers))
	for name, w := range m.watchers {
		status[name] = w.Status()
	}
	return status
}

// Stop shuts every watcher down and waits for their goroutines.
func (m *Manager) Stop() {
	m.mu.RLock()
	watchers := make([]*Watcher, 0, len(m.watchers))
	for _, w := range m.watchers {
		watchers = append(watchers, w)
	}
	m.mu.RUnlock()

	for _, w := range watchers {
		w.Stop()
	}
}
