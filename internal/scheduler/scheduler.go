package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"
)

// staggerStep spreads interval jobs so a reload burst does not fire
// them all in the same second.
const staggerStep = 30 * time.Second

// jobTimeout bounds one job run; an LLM turn with tool calls can take
// minutes but not forever.
const jobTimeout = 5 * time.Minute

// Scheduler runs registered jobs on their schedules. Safe for
// concurrent use; reconciliation loops add and remove jobs while the
// engine fires others.
type Scheduler struct {
	logger *slog.Logger
	store  *Store

	mu       sync.Mutex
	jobs     map[string]*Job
	timers   map[string]*time.Timer
	running  bool
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New creates a scheduler. store may be nil; execution history is then
// not recorded.
func New(store *Store, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		logger:  logger,
		store:   store,
		jobs:    make(map[string]*Job),
		timers:  make(map[string]*time.Timer),
		running: true,
	}
}

// Add registers a job and arms its timer, replacing any job with the
// same id. Interval jobs get a staggered first fire.
func (s *Scheduler) Add(job *Job) {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	if timer, ok := s.timers[job.ID]; ok {
		timer.Stop()
		delete(s.timers, job.ID)
	}
	s.jobs[job.ID] = job

	var offset time.Duration
	if job.Schedule.Kind == ScheduleEvery {
		offset = s.staggerLocked(job.ID)
	}
	s.mu.Unlock()

	s.arm(job, offset)
}

// staggerLocked derives the first-fire offset for an interval job from
// how many other interval jobs are live right now. Counting the live
// set keeps the offset bounded across hot-reload re-registrations; a
// counter would grow by the full job count every reconciliation pass.
func (s *Scheduler) staggerLocked(id string) time.Duration {
	n := 0
	for jid, j := range s.jobs {
		if jid != id && j.Schedule.Kind == ScheduleEvery {
			n++
		}
	}
	return time.Duration(n) * staggerStep
}

// Remove unregisters a job and cancels its timer.
func (s *Scheduler) Remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if timer, ok := s.timers[id]; ok {
		timer.Stop()
		delete(s.timers, id)
	}
	delete(s.jobs, id)
}

// Has reports whether a job id is registered.
func (s *Scheduler) Has(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.jobs[id]
	return ok
}

// IDsWithPrefix returns registered job ids sharing a prefix, sorted.
// Reconciliation loops diff these against the configuration document.
func (s *Scheduler) IDsWithPrefix(prefix string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []string
	for id := range s.jobs {
		if strings.HasPrefix(id, prefix) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// Trigger runs a job immediately, outside its schedule. The timer for
// the next scheduled fire is left alone.
func (s *Scheduler) Trigger(ctx context.Context, id string) bool {
	s.mu.Lock()
	job, ok := s.jobs[id]
	s.mu.Unlock()
	if !ok {
		return false
	}
	s.execute(ctx, job, time.Now())
	return true
}

// Stop cancels every timer and waits for in-flight jobs.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		s.running = false
		for id, timer := range s.timers {
			timer.Stop()
			delete(s.timers, id)
		}
		s.mu.Unlock()
		s.wg.Wait()
		s.logger.Info("scheduler stopped")
	})
}

// arm sets the timer for the job's next run. offset delays the first
// fire of interval jobs for staggering; it is zero on re-arms.
func (s *Scheduler) arm(job *Job, offset time.Duration) {
	next, ok := job.Schedule.Next(time.Now())
	if !ok {
		s.logger.Debug("job has no future runs", "id", job.ID, "name", job.Name)
		s.Remove(job.ID)
		return
	}
	delay := time.Until(next) + offset
	if delay < 0 {
		delay = 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	if _, ok := s.jobs[job.ID]; !ok {
		return // removed while arming
	}
	s.timers[job.ID] = time.AfterFunc(delay, func() {
		s.onFire(job.ID)
	})
	s.logger.Debug("job armed", "id", job.ID, "name", job.Name, "next", next.Add(offset))
}

func (s *Scheduler) onFire(id string) {
	s.wg.Add(1)
	defer s.wg.Done()

	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	delete(s.timers, id)
	job, ok := s.jobs[id]
	s.mu.Unlock()
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	s.execute(ctx, job, time.Now())
	cancel()

	if job.Schedule.Kind == ScheduleAt {
		s.Remove(id)
		return
	}
	s.arm(job, 0)
}

func (s *Scheduler) execute(ctx context.Context, job *Job, scheduledAt time.Time) {
	exec := &Execution{
		ID:          NewID(),
		JobID:       job.ID,
		ScheduledAt: scheduledAt,
		Status:      StatusRunning,
	}
	started := time.Now()
	exec.StartedAt = &started
	if s.store != nil {
		if err := s.store.CreateExecution(exec); err != nil {
			s.logger.Error("could not record execution", "job", job.ID, "error", err)
		}
	}

	err := s.runSafely(ctx, job)

	completed := time.Now()
	exec.CompletedAt = &completed
	if err != nil {
		exec.Status = StatusFailed
		exec.Result = err.Error()
		s.logger.Error("job failed", "id", job.ID, "name", job.Name, "error", err)
	} else {
		exec.Status = StatusCompleted
		exec.Result = "success"
		s.logger.Debug("job completed", "id", job.ID, "name", job.Name, "duration", completed.Sub(started))
	}
	if s.store != nil {
		if err := s.store.UpdateExecution(exec); err != nil {
			s.logger.Error("could not update execution", "job", job.ID, "error", err)
		}
	}
}

// runSafely converts a panicking job body into an error so one bad job
// cannot take the engine down.
func (s *Scheduler) runSafely(ctx context.Context, job *Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panicked: %v", r)
		}
	}()
	return job.Run(ctx)
}
