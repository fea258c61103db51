package api

import (
	"context"
	"errors"
	"sync"
)

var errSuperseded = errors.New("superseded by a newer request for the same batch")

// batchRegistry tracks the in-flight optimization per batch key so that a
// newer request cancels the one it replaces.
type batchRegistry struct {
	mu       sync.Mutex
	inflight map[string]*batchRun
}

type batchRun struct {
	planID string
	cancel context.CancelCauseFunc
}

func newBatchRegistry() *batchRegistry {
	return &batchRegistry{inflight: map[string]*batchRun{}}
}

// start registers planID as the current run for key and returns its
// context, the plan id it superseded (if any) and a release func. An empty
// key is never superseded.
func (b *batchRegistry) start(parent context.Context, key, planID string) (context.Context, string, func()) {
	ctx, cancel := context.WithCancelCause(parent)
	if key == "" {
		return ctx, "", func() { cancel(nil) }
	}
	run := &batchRun{planID: planID, cancel: cancel}
	b.mu.Lock()
	prev := b.inflight[key]
	b.inflight[key] = run
	b.mu.Unlock()
	previous := ""
	if prev != nil {
		prev.cancel(errSuperseded)
		previous = prev.planID
	}
	return ctx, previous, func() {
		b.mu.Lock()
		if b.inflight[key] == run {
			delete(b.inflight, key)
		}
		b.mu.Unlock()
		cancel(nil)
	}
}
