package service

import (
	"time"

	"github.com/repovista/repovista/internal/scheduler/model"
)

// Schedule is the per-repository cadence state. It is owned and mutated
// exclusively by the Scheduler under its lock.
type Schedule struct {
	RepoUUID string
	// Cadence is the re-trigger interval in seconds, always > 0.
	Cadence int64
	NextRun time.Time

	// task is the at-most-one update task currently attached.
	task *UpdateTask
}

func (s *Schedule) cadence() time.Duration {
	return time.Duration(s.Cadence) * time.Second
}

// readyAt reports whether the schedule is due and has no attached task.
func (s *Schedule) readyAt(now time.Time) bool {
	return s.task == nil && !now.Before(s.NextRun)
}

// advance moves NextRun forward by whole cadence increments from its original
// reference to the smallest multiple still in the future. Missing several
// cadences advances past all of them in one step.
func (s *Schedule) advance(now time.Time) {
	if s.NextRun.After(now) {
		return
	}
	c := s.cadence()
	missed := now.Sub(s.NextRun) / c
	s.NextRun = s.NextRun.Add((missed + 1) * c)
}

func (s *Schedule) view() model.ScheduleView {
	v := model.ScheduleView{
		RepoUUID:    s.RepoUUID,
		Cadence:     s.Cadence,
		NextRunDate: s.NextRun.UTC().Format(time.RFC3339),
	}
	if s.task != nil {
		v.ActiveTransactionID = s.task.TransactionID()
	}
	return v
}

func (s *Schedule) summary() *model.ScheduleSummary {
	return &model.ScheduleSummary{
		Cadence:     s.Cadence,
		NextRunDate: s.NextRun.UTC().Format(time.RFC3339),
	}
}
