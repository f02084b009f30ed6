package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/repovista/repovista/internal/scheduler/model"
)

type queuedResponse struct {
	name string
	err  error
}

// ResponseQueue lets one coordinator block until a predeclared set of named
// acknowledgements has arrived. Responses may be delivered at any time, in
// any order, by fully independent producers; they are buffered until a wait
// is active. Any failure (unexpected name, delivered error, timeout) clears
// all pending state atomically, leaving the queue empty and ready for reuse.
type ResponseQueue struct {
	mu       sync.Mutex
	expected map[string]struct{}
	buffer   []queuedResponse
	waiting  bool
	done     chan error

	timeout time.Duration

	// onResponse fires once per matched response, synchronously from the
	// draining step. It must not call back into the queue.
	onResponse func(name string)
}

func NewResponseQueue(timeout time.Duration) *ResponseQueue {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &ResponseQueue{
		expected: make(map[string]struct{}),
		timeout:  timeout,
	}
}

// SetResponseListener installs the per-response callback. A nil listener is
// a no-op.
func (q *ResponseQueue) SetResponseListener(fn func(name string)) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.onResponse = fn
}

// ExpectResponses resets the set of names still outstanding. Must be called
// before WaitForExpectedResponses. Already-buffered responses survive and are
// processed when the wait starts.
func (q *ResponseQueue) ExpectResponses(names []string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.expected = make(map[string]struct{}, len(names))
	for _, n := range names {
		q.expected[n] = struct{}{}
	}
}

// DeliverResponse queues a response and reports whether name was among the
// currently expected set. Safe to call before, during, or after a wait; late
// arrivals after a failed wait are buffered but harmless.
func (q *ResponseQueue) DeliverResponse(name string, deliverErr error) bool {
	q.mu.Lock()
	_, wasExpected := q.expected[name]
	q.buffer = append(q.buffer, queuedResponse{name: name, err: deliverErr})
	if !q.waiting {
		q.mu.Unlock()
		return wasExpected
	}
	if err := q.drainLocked(); err != nil {
		done := q.done
		q.resetLocked()
		q.mu.Unlock()
		done <- err
		return wasExpected
	}
	if len(q.expected) == 0 {
		done := q.done
		q.resetLocked()
		q.mu.Unlock()
		done <- nil
		return wasExpected
	}
	q.mu.Unlock()
	return wasExpected
}

// WaitForExpectedResponses blocks until every expected name has been
// delivered, the timeout elapses, or the context is cancelled. Only one wait
// may be pending at a time; a second concurrent call fails immediately.
func (q *ResponseQueue) WaitForExpectedResponses(ctx context.Context) error {
	q.mu.Lock()
	if q.waiting {
		q.mu.Unlock()
		return model.ErrWaitPending
	}
	q.waiting = true
	q.done = make(chan error, 1)
	if err := q.drainLocked(); err != nil {
		q.resetLocked()
		q.mu.Unlock()
		return err
	}
	if len(q.expected) == 0 {
		q.resetLocked()
		q.mu.Unlock()
		return nil
	}
	done := q.done
	q.mu.Unlock()

	timer := time.NewTimer(q.timeout)
	defer timer.Stop()
	select {
	case err := <-done:
		return err
	case <-timer.C:
		q.mu.Lock()
		if !q.waiting {
			// A delivery resolved the wait just as the timer fired. The
			// resolver sends its verdict after releasing mu, so the send may
			// not have landed yet; once waiting is cleared it is guaranteed
			// to arrive.
			q.mu.Unlock()
			return <-done
		}
		outstanding := make([]string, 0, len(q.expected))
		for n := range q.expected {
			outstanding = append(outstanding, n)
		}
		sort.Strings(outstanding)
		q.resetLocked()
		q.mu.Unlock()
		return fmt.Errorf("%w: still outstanding: %s", model.ErrWaitTimeout, strings.Join(outstanding, ", "))
	case <-ctx.Done():
		q.mu.Lock()
		if q.waiting {
			q.resetLocked()
		}
		q.mu.Unlock()
		return ctx.Err()
	}
}

// drainLocked processes every buffered response against the outstanding set.
// Caller must hold mu.
func (q *ResponseQueue) drainLocked() error {
	for len(q.buffer) > 0 {
		r := q.buffer[0]
		q.buffer = q.buffer[1:]
		if _, ok := q.expected[r.name]; !ok {
			return fmt.Errorf("%w from %q", model.ErrUnexpectedResponse, r.name)
		}
		if r.err != nil {
			return r.err
		}
		delete(q.expected, r.name)
		if q.onResponse != nil {
			q.onResponse(r.name)
		}
	}
	return nil
}

// resetLocked leaves the queue empty and un-expectant. Caller must hold mu.
func (q *ResponseQueue) resetLocked() {
	q.expected = make(map[string]struct{})
	q.buffer = nil
	q.waiting = false
	q.done = nil
}
