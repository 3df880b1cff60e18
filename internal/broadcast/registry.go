package broadcast

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"

	"notifybot/internal/transport"
	"notifybot/pkg/logx"
)

// entry is what the registry keeps per live job: the lifecycle handles and a
// creation-time summary. The job's own state never leaves its loop.
type entry struct {
	cancel  context.CancelFunc
	edits   chan<- editRequest
	summary Summary
}

// Registry is the shared, lock-protected collection of all running jobs.
// It is safe for concurrent use.
type Registry struct {
	sender transport.Sender
	log    logx.Logger

	// nextID is process-lifetime monotonic; identifiers are never reused,
	// even after removal. Wraparound of the 64-bit counter is not handled.
	nextID atomic.Uint64

	baseCtx    context.Context
	baseCancel context.CancelFunc

	mu   sync.RWMutex
	jobs map[uint64]*entry
}

func NewRegistry(sender transport.Sender, log logx.Logger) *Registry {
	ctx, cancel := context.WithCancel(context.Background())
	return &Registry{
		sender:     sender,
		log:        log,
		baseCtx:    ctx,
		baseCancel: cancel,
		jobs:       map[uint64]*entry{},
	}
}

// Add allocates the next identifier, spawns the job's event loop, and stores
// the registry entry. The spec is copied; the caller keeps no live view.
//
// A spec with a non-positive interval or no messages cannot run; Add rejects
// it by returning 0 (identifiers start at 1) and creates nothing.
func (r *Registry) Add(spec Spec) uint64 {
	if spec.Interval <= 0 || len(spec.Messages) == 0 {
		r.log.Warn("job rejected",
			logx.Duration("interval", spec.Interval),
			logx.Int("messages", len(spec.Messages)))
		return 0
	}

	id := r.nextID.Add(1)

	ctx, cancel := context.WithCancel(r.baseCtx)
	edits := make(chan editRequest, editQueueCap)
	j := newJob(id, spec, edits, r.sender, r.log)

	skim := spec.Messages[0]

	r.mu.Lock()
	r.jobs[id] = &entry{
		cancel:  cancel,
		edits:   edits,
		summary: Summary{ID: id, Interval: spec.Interval, Skim: skim},
	}
	r.mu.Unlock()

	go j.run(ctx)

	r.log.Info("job added",
		logx.Uint64("job", id),
		logx.Duration("interval", spec.Interval),
		logx.Int("targets", len(spec.Targets)))
	return id
}

// List returns a point-in-time snapshot of all job summaries, ordered by id.
func (r *Registry) List() []Summary {
	r.mu.RLock()
	out := make([]Summary, 0, len(r.jobs))
	for _, e := range r.jobs {
		out = append(out, e.summary)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, k int) bool { return out[i].ID < out[k].ID })
	return out
}

// Remove drops the entry and signals the job to terminate. The entry
// disappears synchronously; the loop exits on its own schedule (it may finish
// an in-flight delivery round first). A second Remove on the same id returns
// ErrNotFound.
func (r *Registry) Remove(id uint64) error {
	r.mu.Lock()
	e, ok := r.jobs[id]
	if ok {
		delete(r.jobs, id)
	}
	r.mu.Unlock()

	if !ok {
		return ErrNotFound
	}
	e.cancel()
	r.log.Info("job removed", logx.Uint64("job", id))
	return nil
}

// Append routes a new message variant to the job's edit queue. The queue is
// bounded: when it is full, Append fails with ErrQueueFull instead of
// blocking or dropping.
func (r *Registry) Append(id uint64, text string) error {
	r.mu.RLock()
	e, ok := r.jobs[id]
	r.mu.RUnlock()
	if !ok {
		return ErrNotFound
	}

	select {
	case e.edits <- editRequest{text: text}:
		return nil
	default:
		return ErrQueueFull
	}
}

// Len reports the number of live entries.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.jobs)
}

// Stop cancels every live job and clears the registry. Loops observe the
// cancellation on their next event wait; no new rounds start after Stop.
func (r *Registry) Stop() {
	r.baseCancel()

	r.mu.Lock()
	n := len(r.jobs)
	r.jobs = map[uint64]*entry{}
	r.mu.Unlock()

	if n > 0 {
		r.log.Info("registry stopped", logx.Int("jobs", n))
	}
}
