package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestScheduleAdvance_SkipsMissedCadences(t *testing.T) {
	now := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	sc := &Schedule{
		RepoUUID: "repo-1",
		Cadence:  86400,
		NextRun:  now.Add(-72*time.Hour + time.Minute), // three runs missed
	}

	sc.advance(now)

	assert.True(t, sc.NextRun.After(now), "next run must be in the future")
	assert.False(t, sc.NextRun.After(now.Add(24*time.Hour)), "must not overshoot by more than one cadence")
	// whole increments only: the reference offset is preserved
	assert.Equal(t, 1, sc.NextRun.Minute())
}

func TestScheduleAdvance_FutureRunUntouched(t *testing.T) {
	now := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	next := now.Add(time.Hour)
	sc := &Schedule{RepoUUID: "repo-1", Cadence: 3600, NextRun: next}

	sc.advance(now)

	assert.Equal(t, next, sc.NextRun)
}

func TestScheduleReadyAt(t *testing.T) {
	now := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	sc := &Schedule{RepoUUID: "repo-1", Cadence: 60, NextRun: now.Add(-time.Second)}
	assert.True(t, sc.readyAt(now))

	sc.task = &UpdateTask{}
	assert.False(t, sc.readyAt(now), "a schedule with a running task is never ready")

	sc.task = nil
	sc.NextRun = now.Add(time.Second)
	assert.False(t, sc.readyAt(now))
}
