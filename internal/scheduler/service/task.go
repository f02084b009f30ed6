package service

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/repovista/repovista/internal/metrics"
	"github.com/repovista/repovista/internal/scheduler/model"
	"github.com/rs/zerolog/log"
)

// ServiceDirectory is the slice of the registry the update pipeline needs:
// resolving the two phase services and fanning out to the visualization group.
type ServiceDirectory interface {
	ResolveService(name string) (string, error)
	GroupHostnames(name string) []string
	Broadcast(ctx context.Context, group, method, path string, query url.Values, body []byte) error
}

// TaskDeps carries everything an UpdateTask needs to run.
type TaskDeps struct {
	Client    *resty.Client
	Directory ServiceDirectory
	State     StatePublisher

	ApiService         string
	RepoService        string
	VisualizationGroup string

	QueueTimeout time.Duration
}

// UpdateTask is one run of the multi-phase snapshot pipeline for one
// repository. States move strictly forward; Done and Error are terminal.
type UpdateTask struct {
	mu            sync.Mutex
	repoUUID      string
	transactionID string
	schedule      *model.ScheduleSummary
	doneCallback  string
	state         model.TaskState
	// started marks the task as claimed by a Run call, closing the window
	// between the Pending check and the first state transition.
	started bool
	errMsg  string
	visDone       int
	visTotal      int

	queue *ResponseQueue
	deps  TaskDeps
}

func NewUpdateTask(repoUUID string, schedule *model.ScheduleSummary, doneCallback string, deps TaskDeps) *UpdateTask {
	if deps.Client == nil {
		deps.Client = resty.New()
	}
	t := &UpdateTask{
		repoUUID:      repoUUID,
		transactionID: uuid.NewString(),
		schedule:      schedule,
		doneCallback:  doneCallback,
		state:         model.TaskPending,
		queue:         NewResponseQueue(deps.QueueTimeout),
		deps:          deps,
	}
	t.queue.SetResponseListener(t.onAck)
	return t
}

func (t *UpdateTask) RepoUUID() string      { return t.repoUUID }
func (t *UpdateTask) TransactionID() string { return t.transactionID }

func (t *UpdateTask) State() model.TaskState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *UpdateTask) ErrorMessage() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.errMsg
}

// Doc builds the externally published view of this run.
func (t *UpdateTask) Doc() *model.TaskStateDoc {
	t.mu.Lock()
	defer t.mu.Unlock()
	return &model.TaskStateDoc{
		TransactionID:       t.transactionID,
		RepoUUID:            t.repoUUID,
		Schedule:            t.schedule,
		State:               t.state,
		VisualizationsDone:  t.visDone,
		VisualizationsTotal: t.visTotal,
		Error:               t.errMsg,
	}
}

// Callback is how downstream services acknowledge a phase. It reports whether
// the caller was among the currently expected set.
func (t *UpdateTask) Callback(callerName, errMsg string) bool {
	var deliverErr error
	if errMsg != "" {
		deliverErr = errors.New(errMsg)
	}
	return t.queue.DeliverResponse(callerName, deliverErr)
}

// Run executes the pipeline. It is a no-op unless the task is still Pending
// and unclaimed; the claim happens in the same critical section as the check,
// so concurrent calls can never both start the pipeline.
func (t *UpdateTask) Run(ctx context.Context) {
	t.mu.Lock()
	if t.started || t.state != model.TaskPending {
		t.mu.Unlock()
		return
	}
	t.started = true
	t.mu.Unlock()

	log.Info().Str("transaction", t.transactionID).Str("repo", t.repoUUID).Msg("update task started")
	if err := t.run(ctx); err != nil {
		t.setError(ctx, err)
		log.Error().Err(err).Str("transaction", t.transactionID).Str("repo", t.repoUUID).Msg("update task failed")
	} else {
		t.setState(ctx, model.TaskDone)
		metrics.TasksFinished.WithLabelValues("done").Inc()
		log.Info().Str("transaction", t.transactionID).Str("repo", t.repoUUID).Msg("update task done")
	}
	t.notifyDone(ctx)
}

func (t *UpdateTask) run(ctx context.Context) error {
	phases := []struct {
		state   model.TaskState
		service string
	}{
		{model.TaskUpdatingApiService, t.deps.ApiService},
		{model.TaskUpdatingRepoService, t.deps.RepoService},
	}
	for _, phase := range phases {
		t.setState(ctx, phase.state)
		host, err := t.deps.Directory.ResolveService(phase.service)
		if err != nil {
			return fmt.Errorf("resolve %s: %w", phase.service, err)
		}
		t.queue.ExpectResponses([]string{phase.service})
		if err := t.postSnapshot(ctx, host); err != nil {
			return fmt.Errorf("snapshot request to %s: %w", phase.service, err)
		}
		if err := t.queue.WaitForExpectedResponses(ctx); err != nil {
			return err
		}
	}

	// The visualization set is computed at phase entry, not task creation:
	// group membership may have changed while the earlier phases ran.
	hosts := t.deps.Directory.GroupHostnames(t.deps.VisualizationGroup)
	t.mu.Lock()
	t.state = model.TaskUpdatingVisualizations
	t.visTotal = len(hosts)
	t.visDone = 0
	t.mu.Unlock()
	t.publish(ctx)

	if len(hosts) == 0 {
		// Nothing registered to fan out to; the phase completes immediately.
		return nil
	}
	t.queue.ExpectResponses(hosts)
	query := url.Values{"transactionId": {t.transactionID}}
	if err := t.deps.Directory.Broadcast(ctx, t.deps.VisualizationGroup, "POST", "snapshot/"+t.repoUUID, query, nil); err != nil {
		return fmt.Errorf("visualization broadcast: %w", err)
	}
	return t.queue.WaitForExpectedResponses(ctx)
}

func (t *UpdateTask) postSnapshot(ctx context.Context, host string) error {
	target := "http://" + host + "/snapshot/" + t.repoUUID
	resp, err := t.deps.Client.R().
		SetContext(ctx).
		SetQueryParam("transactionId", t.transactionID).
		Post(target)
	if err != nil {
		return err
	}
	if !resp.IsSuccess() {
		return fmt.Errorf("unexpected status %d", resp.StatusCode())
	}
	return nil
}

// onAck fires from the queue's draining step for every matched response.
// During the fan-out phase it moves the progress counter so pollers can
// observe "N of M done".
func (t *UpdateTask) onAck(string) {
	t.mu.Lock()
	if t.state != model.TaskUpdatingVisualizations {
		t.mu.Unlock()
		return
	}
	t.visDone++
	t.mu.Unlock()
	t.publish(context.Background())
}

func (t *UpdateTask) setState(ctx context.Context, state model.TaskState) {
	t.mu.Lock()
	t.state = state
	t.mu.Unlock()
	t.publish(ctx)
}

func (t *UpdateTask) setError(ctx context.Context, err error) {
	t.mu.Lock()
	t.state = model.TaskError
	t.errMsg = err.Error()
	t.mu.Unlock()
	metrics.TasksFinished.WithLabelValues("error").Inc()
	t.publish(ctx)
}

func (t *UpdateTask) publish(ctx context.Context) {
	if t.deps.State == nil {
		return
	}
	t.deps.State.Publish(ctx, t.Doc())
}

// notifyDone performs the optional caller-supplied completion callback.
// Strictly best-effort: failures are logged, never propagated.
func (t *UpdateTask) notifyDone(ctx context.Context) {
	if t.doneCallback == "" {
		return
	}
	t.mu.Lock()
	status := "success"
	message := t.errMsg
	if t.state == model.TaskError {
		status = "error"
	}
	t.mu.Unlock()

	req := t.deps.Client.R().SetContext(ctx).SetQueryParam("status", status)
	if message != "" {
		req.SetQueryParam("message", message)
	}
	if _, err := req.Post(t.doneCallback); err != nil {
		log.Warn().Err(err).Str("transaction", t.transactionID).Str("callback", t.doneCallback).Msg("done callback delivery failed")
	}
}
