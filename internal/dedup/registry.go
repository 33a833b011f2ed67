// Package dedup guarantees at most one live pipeline per inquiry identity.
// Concurrent duplicates join the in-flight run instead of re-triggering
// provider calls, and duplicates arriving shortly after completion receive
// the finished result for a configurable grace period.
package dedup

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/freightwise/logistics-cli/internal/model"
)

// Handle represents one run in the registry. The initiator drives the
// pipeline and settles the handle exactly once; joiners wait on it.
type Handle struct {
	RunID     string
	InquiryID string
	Inquiry   model.Inquiry

	done chan struct{}
	once sync.Once

	run *model.Run
	err error

	settledAt time.Time
}

// Wait blocks until the run settles or ctx is canceled. Every waiter receives
// the same outcome.
func (h *Handle) Wait(ctx context.Context) (*model.Run, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-h.done:
		return h.run, h.err
	}
}

// Done returns a channel closed when the run settles.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Outcome returns the settled result. Valid only after Done is closed.
func (h *Handle) Outcome() (*model.Run, error) {
	return h.run, h.err
}

func (h *Handle) settled() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

// Registry maps inquiry identities to their single live (or recently
// finished) run.
type Registry struct {
	mu      sync.Mutex
	entries map[string]*Handle
	grace   time.Duration
	nowFunc func() time.Time
}

// NewRegistry creates a registry with the given post-completion grace period.
func NewRegistry(grace time.Duration) *Registry {
	return &Registry{
		entries: make(map[string]*Handle),
		grace:   grace,
		nowFunc: time.Now,
	}
}

// WithNow sets the clock. Test use only.
func (r *Registry) WithNow(now func() time.Time) *Registry {
	r.nowFunc = now
	return r
}

// AcquireOrJoin returns the handle for the inquiry's identity. The second
// return is true when the caller initiated a new run and must drive it to
// Settle; false means the caller joined an existing one.
func (r *Registry) AcquireOrJoin(q model.Inquiry) (*Handle, bool) {
	id := q.ID()

	r.mu.Lock()
	defer r.mu.Unlock()

	if h, ok := r.entries[id]; ok {
		if !h.settled() || r.nowFunc().Sub(h.settledAt) < r.grace {
			zap.L().Debug("joining existing run",
				zap.String("run_id", h.RunID),
				zap.String("inquiry_id", id),
			)
			return h, false
		}
		// Grace elapsed: the finished run no longer answers for new arrivals.
		delete(r.entries, id)
	}

	h := &Handle{
		RunID:     uuid.New().String(),
		InquiryID: id,
		Inquiry:   q,
		done:      make(chan struct{}),
	}
	r.entries[id] = h
	return h, true
}

// Settle records the outcome on the handle and wakes all waiters. Settling
// twice is a no-op; the first outcome stands.
func (r *Registry) Settle(h *Handle, run *model.Run, err error) {
	h.once.Do(func() {
		r.mu.Lock()
		h.run = run
		h.err = err
		h.settledAt = r.nowFunc()
		r.mu.Unlock()
		close(h.done)
	})
}

// Sweep removes settled entries whose grace period has elapsed and returns
// how many were dropped.
func (r *Registry) Sweep() int {
	now := r.nowFunc()
	r.mu.Lock()
	defer r.mu.Unlock()
	dropped := 0
	for id, h := range r.entries {
		if h.settled() && now.Sub(h.settledAt) >= r.grace {
			delete(r.entries, id)
			dropped++
		}
	}
	return dropped
}

// Live returns the number of registered entries, settled or not.
func (r *Registry) Live() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
