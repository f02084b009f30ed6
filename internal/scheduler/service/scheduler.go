package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/repovista/repovista/internal/metrics"
	"github.com/repovista/repovista/internal/scheduler/model"
	"github.com/rs/zerolog/log"
)

// Scheduler owns every Schedule and the pending/running task collections.
// All mutation goes through its methods under mu; the tick loop and the HTTP
// handlers race freely against each other.
type Scheduler struct {
	mu          sync.Mutex
	schedules   map[string]*Schedule   // by repo uuid
	pending     []*UpdateTask          // FIFO dispatch order
	running     map[string]*UpdateTask // by transaction id
	tasks       map[string]*UpdateTask // pending + running, by transaction id
	activeRepos map[string]string      // repo uuid -> transaction id

	store    *ScheduleStore
	deps     TaskDeps
	interval time.Duration

	now func() time.Time
}

func NewScheduler(deps TaskDeps, store *ScheduleStore, interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Scheduler{
		schedules:   make(map[string]*Schedule),
		running:     make(map[string]*UpdateTask),
		tasks:       make(map[string]*UpdateTask),
		activeRepos: make(map[string]string),
		store:       store,
		deps:        deps,
		interval:    interval,
		now:         time.Now,
	}
}

// LoadSchedules restores the persisted schedule list at startup.
func (s *Scheduler) LoadSchedules() error {
	if s.store == nil {
		return nil
	}
	schedules, err := s.store.Load()
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sc := range schedules {
		s.schedules[sc.RepoUUID] = sc
	}
	log.Info().Int("count", len(schedules)).Msg("schedules loaded")
	return nil
}

// SetSchedule creates or updates a repository's cadence and persists the
// full list. An update keeps any attached running task.
func (s *Scheduler) SetSchedule(req *model.SetScheduleRequest) (*model.ScheduleView, error) {
	if req.UUID == "" {
		return nil, fmt.Errorf("uuid is required")
	}
	if req.Cadence <= 0 {
		return nil, fmt.Errorf("cadence must be a positive number of seconds")
	}
	cadence := time.Duration(req.Cadence) * time.Second
	nextRun := s.now().Add(cadence)
	if req.Start != "" {
		start, err := time.Parse(time.RFC3339, req.Start)
		if err != nil {
			return nil, fmt.Errorf("invalid start date: %w", err)
		}
		nextRun = start
	}

	s.mu.Lock()
	sc, ok := s.schedules[req.UUID]
	if !ok {
		sc = &Schedule{RepoUUID: req.UUID}
		s.schedules[req.UUID] = sc
	}
	sc.Cadence = req.Cadence
	sc.NextRun = nextRun
	view := sc.view()
	s.mu.Unlock()

	s.persist()
	log.Info().Str("repo", req.UUID).Int64("cadence", req.Cadence).Time("next_run", nextRun).Msg("schedule set")
	return &view, nil
}

// DeleteSchedule removes a repository's cadence. A task already in flight
// keeps running to completion.
func (s *Scheduler) DeleteSchedule(repoUUID string) error {
	s.mu.Lock()
	if _, ok := s.schedules[repoUUID]; !ok {
		s.mu.Unlock()
		return model.ErrScheduleNotFound
	}
	delete(s.schedules, repoUUID)
	s.mu.Unlock()

	s.persist()
	log.Info().Str("repo", repoUUID).Msg("schedule deleted")
	return nil
}

// Schedule returns the view for one repository.
func (s *Scheduler) Schedule(repoUUID string) (*model.ScheduleView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sc, ok := s.schedules[repoUUID]
	if !ok {
		return nil, model.ErrScheduleNotFound
	}
	view := sc.view()
	return &view, nil
}

// Schedules lists every schedule, sorted for stable output.
func (s *Scheduler) Schedules() []model.ScheduleView {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.ScheduleView, 0, len(s.schedules))
	for _, sc := range s.schedules {
		out = append(out, sc.view())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RepoUUID < out[j].RepoUUID })
	return out
}

// SubmitTask admits an ad-hoc update task. At most one task may be active per
// repository; a second submission is rejected, not queued.
func (s *Scheduler) SubmitTask(repoUUID, doneCallback string) (*UpdateTask, error) {
	if repoUUID == "" {
		return nil, fmt.Errorf("uuid is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.admitLocked(repoUUID, doneCallback)
}

// admitLocked creates and enqueues a task for the repository. Caller must
// hold mu.
func (s *Scheduler) admitLocked(repoUUID, doneCallback string) (*UpdateTask, error) {
	if tx, busy := s.activeRepos[repoUUID]; busy {
		log.Warn().Str("repo", repoUUID).Str("transaction", tx).Msg("task rejected, repository already active")
		return nil, model.ErrTaskActive
	}
	var summary *model.ScheduleSummary
	sc := s.schedules[repoUUID]
	if sc != nil {
		summary = sc.summary()
	}
	task := NewUpdateTask(repoUUID, summary, doneCallback, s.deps)
	if sc != nil {
		sc.task = task
	}
	s.pending = append(s.pending, task)
	s.tasks[task.TransactionID()] = task
	s.activeRepos[repoUUID] = task.TransactionID()
	log.Info().Str("repo", repoUUID).Str("transaction", task.TransactionID()).Msg("task enqueued")
	return task, nil
}

// Task finds a live (pending or running) task by transaction id.
func (s *Scheduler) Task(transactionID string) (*UpdateTask, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[transactionID]
	return t, ok
}

// TaskDocs lists the state of every live task.
func (s *Scheduler) TaskDocs() []*model.TaskStateDoc {
	s.mu.Lock()
	tasks := make([]*UpdateTask, 0, len(s.tasks))
	for _, t := range s.tasks {
		tasks = append(tasks, t)
	}
	s.mu.Unlock()

	out := make([]*model.TaskStateDoc, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, t.Doc())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TransactionID < out[j].TransactionID })
	return out
}

// Callback routes a downstream acknowledgement to its task's queue.
func (s *Scheduler) Callback(transactionID, callerName, errMsg string) (bool, error) {
	task, ok := s.Task(transactionID)
	if !ok {
		return false, model.ErrTaskNotFound
	}
	return task.Callback(callerName, errMsg), nil
}

// Start runs the tick loop until the context is done.
func (s *Scheduler) Start(ctx context.Context) {
	go func() {
		t := time.NewTicker(s.interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				s.tick(ctx)
			}
		}
	}()
	log.Info().Dur("interval", s.interval).Msg("scheduler tick loop started")
}

// tick runs the three passes. Each is guarded independently so one
// malfunctioning schedule or task can never halt the loop.
func (s *Scheduler) tick(ctx context.Context) {
	start := time.Now()
	guard("promote", func() { s.promote() })
	guard("dispatch", func() { s.dispatch(ctx) })
	guard("reap", func() { s.reap() })
	metrics.TickDuration.Observe(time.Since(start).Seconds())
}

func guard(pass string, fn func()) {
	defer func() {
		if p := recover(); p != nil {
			log.Error().Interface("panic", p).Str("pass", pass).Msg("scheduler pass panicked")
		}
	}()
	fn()
}

// promote turns every due, inactive schedule into an enqueued task and
// advances its next run past any missed cadences.
func (s *Scheduler) promote() {
	s.mu.Lock()
	now := s.now()
	changed := false
	for _, sc := range s.schedules {
		if !sc.readyAt(now) {
			continue
		}
		if _, err := s.admitLocked(sc.RepoUUID, ""); err != nil {
			// Already active; recompute the next run anyway so the
			// schedule does not stay ready forever.
			log.Warn().Err(err).Str("repo", sc.RepoUUID).Msg("schedule promotion skipped")
		}
		sc.advance(now)
		changed = true
	}
	s.mu.Unlock()
	if changed {
		s.persist()
	}
}

// dispatch promotes the next pending task to running, FIFO, but only while
// no other task is pressuring the shared upstream API. A task that is still
// Pending counts: it will enter that phase as soon as it runs.
func (s *Scheduler) dispatch(ctx context.Context) {
	s.mu.Lock()
	if len(s.pending) == 0 {
		s.mu.Unlock()
		return
	}
	for _, t := range s.running {
		if st := t.State(); st == model.TaskPending || st == model.TaskUpdatingApiService {
			s.mu.Unlock()
			return
		}
	}
	task := s.pending[0]
	s.pending = s.pending[1:]
	s.running[task.TransactionID()] = task
	s.mu.Unlock()

	metrics.TasksStarted.Inc()
	go task.Run(ctx)
}

// reap drops every finished task, detaches it from its schedule, and frees
// its repository for future submissions.
func (s *Scheduler) reap() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for tx, task := range s.running {
		if !task.State().Terminal() {
			continue
		}
		delete(s.running, tx)
		delete(s.tasks, tx)
		if sc := s.schedules[task.RepoUUID()]; sc != nil && sc.task == task {
			sc.task = nil
		}
		if s.activeRepos[task.RepoUUID()] == tx {
			delete(s.activeRepos, task.RepoUUID())
		}
		log.Debug().Str("transaction", tx).Str("repo", task.RepoUUID()).Str("state", string(task.State())).Msg("task reaped")
	}
}

// persist saves the schedule list; failures are logged, not propagated, so a
// full disk cannot take the control loop down.
func (s *Scheduler) persist() {
	if s.store == nil {
		return
	}
	s.mu.Lock()
	schedules := make([]*Schedule, 0, len(s.schedules))
	for _, sc := range s.schedules {
		schedules = append(schedules, &Schedule{RepoUUID: sc.RepoUUID, Cadence: sc.Cadence, NextRun: sc.NextRun})
	}
	s.mu.Unlock()
	if err := s.store.Save(schedules); err != nil {
		log.Error().Err(err).Msg("failed to persist schedules")
	}
}
