// Package mock provides a deterministic model.Adapter for tests,
// adapted from the teacher's MockChatModel (graph/model/mock.go):
// configurable response queue, error injection, call history, safe for
// concurrent use.
package mock

import (
	"context"
	"sync"

	"github.com/flowforge/orchestra/model"
)

// Call records one invocation of Adapter.Call.
type Call struct {
	Request model.Request
}

// Adapter is a scriptable model.Adapter. Responses are consumed in
// order; once exhausted, the last response repeats. If Err is set it is
// returned instead (and still recorded as a call), letting tests drive
// the Backtracker's retry and fallback paths deterministically.
//
// FailFirst, if set, makes the first N calls fail with FailErr before
// falling through to Responses — the shape spec.md scenario S2 (retry
// then success) exercises.
type Adapter struct {
	Responses []model.Response
	Err       error

	FailFirst int
	FailErr   error

	mu    sync.Mutex
	calls []Call
	next  int
}

// NewAdapter returns a mock that always returns resp.
func NewAdapter(resp model.Response) *Adapter {
	return &Adapter{Responses: []model.Response{resp}}
}

// NewFailingAdapter returns a mock that always fails with err.
func NewFailingAdapter(err error) *Adapter {
	return &Adapter{Err: err}
}

func (a *Adapter) Call(ctx context.Context, req model.Request) (model.Response, error) {
	if ctx.Err() != nil {
		return model.Response{}, ctx.Err()
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls = append(a.calls, Call{Request: req})

	if len(a.calls) <= a.FailFirst {
		return model.Response{}, a.FailErr
	}
	if a.Err != nil {
		return model.Response{}, a.Err
	}
	if len(a.Responses) == 0 {
		return model.Response{}, nil
	}

	idx := a.next
	if idx >= len(a.Responses) {
		idx = len(a.Responses) - 1
	} else {
		a.next++
	}
	return a.Responses[idx], nil
}

// Calls returns a copy of every recorded invocation.
func (a *Adapter) Calls() []Call {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]Call, len(a.calls))
	copy(out, a.calls)
	return out
}

// CallCount reports how many times Call has been invoked.
func (a *Adapter) CallCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.calls)
}

// Reset clears call history, for reuse across subtests.
func (a *Adapter) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls = nil
	a.next = 0
}

// SequencedErrors builds an Adapter that fails n times with err, then
// succeeds with resp — the shape spec.md scenario S2 exercises.
func SequencedErrors(n int, err error, resp model.Response) *Adapter {
	return &Adapter{FailFirst: n, FailErr: err, Responses: []model.Response{resp}}
}
