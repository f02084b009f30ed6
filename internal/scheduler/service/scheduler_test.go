package service

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/repovista/repovista/internal/scheduler/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestScheduler(t *testing.T) *Scheduler {
	t.Helper()
	dir := &fakeDirectory{services: map[string]string{}, broadcasts: make(chan broadcastCall, 2)}
	deps := TaskDeps{Directory: dir, State: &fakePublisher{}, ApiService: "api-service", RepoService: "repo-service", VisualizationGroup: "visualization", QueueTimeout: time.Second}
	store := NewScheduleStore(filepath.Join(t.TempDir(), "schedules.json"))
	return NewScheduler(deps, store, time.Second)
}

// forceState moves a task out of Pending so dispatch launches a no-op Run.
func forceState(task *UpdateTask, state model.TaskState) {
	task.mu.Lock()
	task.state = state
	task.mu.Unlock()
}

func TestScheduler_AtMostOneTaskPerRepository(t *testing.T) {
	s := newTestScheduler(t)

	first, err := s.SubmitTask("repo-1", "")
	require.NoError(t, err)

	_, err = s.SubmitTask("repo-1", "")
	require.ErrorIs(t, err, model.ErrTaskActive)

	// a different repository is unaffected
	_, err = s.SubmitTask("repo-2", "")
	require.NoError(t, err)

	// once the first task finishes and is reaped, the repository frees up
	forceState(first, model.TaskDone)
	s.dispatch(context.Background())
	s.reap()
	_, err = s.SubmitTask("repo-1", "")
	require.NoError(t, err)
}

func TestScheduler_RunPolicySerializesApiPhase(t *testing.T) {
	s := newTestScheduler(t)
	ctx := context.Background()

	a, err := s.SubmitTask("repo-a", "")
	require.NoError(t, err)
	b, err := s.SubmitTask("repo-b", "")
	require.NoError(t, err)

	forceState(a, model.TaskUpdatingApiService)
	s.dispatch(ctx)
	s.mu.Lock()
	assert.Len(t, s.running, 1)
	assert.Len(t, s.pending, 1)
	s.mu.Unlock()

	// while a holds the API phase, b stays pending
	s.dispatch(ctx)
	s.mu.Lock()
	assert.Len(t, s.running, 1)
	s.mu.Unlock()

	// later phases release the pressure on the shared upstream API
	forceState(a, model.TaskUpdatingRepoService)
	forceState(b, model.TaskUpdatingVisualizations)
	s.dispatch(ctx)
	s.mu.Lock()
	assert.Len(t, s.running, 2)
	assert.Empty(t, s.pending)
	s.mu.Unlock()
}

func TestScheduler_PromoteCreatesTaskAndAdvances(t *testing.T) {
	s := newTestScheduler(t)
	now := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	_, err := s.SetSchedule(&model.SetScheduleRequest{UUID: "repo-1", Cadence: 3600, Start: now.Add(-90 * time.Minute).Format(time.RFC3339)})
	require.NoError(t, err)

	s.promote()

	s.mu.Lock()
	require.Len(t, s.pending, 1)
	assert.Equal(t, "repo-1", s.pending[0].RepoUUID())
	sc := s.schedules["repo-1"]
	assert.Same(t, s.pending[0], sc.task)
	assert.True(t, sc.NextRun.After(now))
	s.mu.Unlock()

	// the schedule is not ready again while its task is attached
	s.promote()
	s.mu.Lock()
	assert.Len(t, s.pending, 1)
	s.mu.Unlock()
}

func TestScheduler_ReapDetachesAndFrees(t *testing.T) {
	s := newTestScheduler(t)
	now := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	_, err := s.SetSchedule(&model.SetScheduleRequest{UUID: "repo-1", Cadence: 60, Start: now.Add(-time.Minute).Format(time.RFC3339)})
	require.NoError(t, err)
	s.promote()

	s.mu.Lock()
	task := s.pending[0]
	s.mu.Unlock()
	forceState(task, model.TaskError)
	s.dispatch(context.Background())
	s.reap()

	s.mu.Lock()
	assert.Empty(t, s.running)
	assert.Empty(t, s.tasks)
	assert.Empty(t, s.activeRepos)
	assert.Nil(t, s.schedules["repo-1"].task)
	s.mu.Unlock()

	// the repository may be scheduled or submitted again
	_, err = s.SubmitTask("repo-1", "")
	require.NoError(t, err)
}

func TestScheduler_SetScheduleValidation(t *testing.T) {
	s := newTestScheduler(t)

	_, err := s.SetSchedule(&model.SetScheduleRequest{UUID: "", Cadence: 60})
	require.Error(t, err)

	_, err = s.SetSchedule(&model.SetScheduleRequest{UUID: "repo-1", Cadence: 0})
	require.Error(t, err)

	_, err = s.SetSchedule(&model.SetScheduleRequest{UUID: "repo-1", Cadence: 60, Start: "not-a-date"})
	require.Error(t, err)
}

func TestScheduler_SchedulesPersistAcrossRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "schedules.json")
	dir := &fakeDirectory{services: map[string]string{}, broadcasts: make(chan broadcastCall, 1)}
	deps := TaskDeps{Directory: dir, State: &fakePublisher{}, QueueTimeout: time.Second}

	s1 := NewScheduler(deps, NewScheduleStore(path), time.Second)
	_, err := s1.SetSchedule(&model.SetScheduleRequest{UUID: "repo-1", Cadence: 86400})
	require.NoError(t, err)
	_, err = s1.SetSchedule(&model.SetScheduleRequest{UUID: "repo-2", Cadence: 3600})
	require.NoError(t, err)
	require.NoError(t, s1.DeleteSchedule("repo-2"))

	s2 := NewScheduler(deps, NewScheduleStore(path), time.Second)
	require.NoError(t, s2.LoadSchedules())
	views := s2.Schedules()
	require.Len(t, views, 1)
	assert.Equal(t, "repo-1", views[0].RepoUUID)
	assert.Equal(t, int64(86400), views[0].Cadence)
}

func TestScheduler_CallbackRouting(t *testing.T) {
	s := newTestScheduler(t)

	_, err := s.Callback("unknown-tx", "api-service", "")
	require.ErrorIs(t, err, model.ErrTaskNotFound)

	task, err := s.SubmitTask("repo-1", "")
	require.NoError(t, err)

	// nothing expected yet: delivery is buffered and reported as unexpected
	expected, err := s.Callback(task.TransactionID(), "api-service", "")
	require.NoError(t, err)
	assert.False(t, expected)
}

func TestScheduler_DeleteScheduleNotFound(t *testing.T) {
	s := newTestScheduler(t)
	require.ErrorIs(t, s.DeleteSchedule("absent"), model.ErrScheduleNotFound)
}
