package model

import "errors"

var (
	ErrScheduleNotFound = errors.New("schedule not found")
	ErrTaskNotFound     = errors.New("task not found")
	// ErrTaskActive rejects a second task for a repository that already has
	// one pending or running.
	ErrTaskActive = errors.New("repository already has an active task")

	// ErrWaitPending is the single-waiter invariant: a second concurrent wait
	// on one queue is a programmer error, not something to serialize.
	ErrWaitPending        = errors.New("a wait is already pending on this queue")
	ErrUnexpectedResponse = errors.New("unexpected response")
	ErrWaitTimeout        = errors.New("timed out waiting for responses")
)

// TaskState is one step of the update pipeline. Transitions are strictly
// forward; Error is reachable from every non-terminal state.
type TaskState string

const (
	TaskPending                TaskState = "Pending"
	TaskUpdatingApiService     TaskState = "UpdatingApiService"
	TaskUpdatingRepoService    TaskState = "UpdatingRepoService"
	TaskUpdatingVisualizations TaskState = "UpdatingVisualizations"
	TaskDone                   TaskState = "Done"
	TaskError                  TaskState = "Error"
)

func (s TaskState) Terminal() bool {
	return s == TaskDone || s == TaskError
}

// SetScheduleRequest creates or updates a repository's cadence.
type SetScheduleRequest struct {
	UUID    string `json:"uuid"`
	Cadence int64  `json:"cadence"`
	// Start is an optional RFC3339 reference for the first run; defaults to
	// now + cadence.
	Start string `json:"start,omitempty"`
}

// SubmitTaskRequest submits an ad-hoc update task.
type SubmitTaskRequest struct {
	UUID         string `json:"uuid"`
	DoneCallback string `json:"doneCallback,omitempty"`
}

type ScheduleView struct {
	RepoUUID    string `json:"repoUuid"`
	Cadence     int64  `json:"cadence"`
	NextRunDate string `json:"nextRunDate"`
	// ActiveTransactionID is set while an update task is attached.
	ActiveTransactionID string `json:"activeTransactionId,omitempty"`
}

// ScheduleSummary is the schedule excerpt embedded in distributed task state.
type ScheduleSummary struct {
	Cadence     int64  `json:"cadence"`
	NextRunDate string `json:"nextRunDate"`
}

// TaskStateDoc is the externally published view of one task run, mirrored
// into the distributed state store and served by the task query endpoints.
type TaskStateDoc struct {
	TransactionID       string           `json:"transactionId"`
	RepoUUID            string           `json:"repoUuid"`
	Schedule            *ScheduleSummary `json:"schedule,omitempty"`
	State               TaskState        `json:"state"`
	VisualizationsDone  int              `json:"visualizationsDone"`
	VisualizationsTotal int              `json:"visualizationsTotal"`
	Error               string           `json:"error,omitempty"`
}
