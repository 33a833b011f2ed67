// Package enrich implements the enrichment coordinator: the concurrent
// fan-out of one inquiry to every applicable provider, and the merge policy
// that decides when the collected partial results are sufficient to proceed.
package enrich

import (
	"context"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/freightwise/logistics-cli/internal/model"
)

// Caller is the provider invocation surface the coordinator needs.
type Caller interface {
	Kinds() []model.ProviderKind
	Call(ctx context.Context, kind model.ProviderKind, q model.Inquiry) model.ProviderResult
}

// Coordinator fans inquiries out and applies the merge policy.
type Coordinator struct {
	caller   Caller
	required []model.ProviderKind
}

// NewCoordinator builds a coordinator. required names the provider kinds a
// report cannot proceed without; the run fails only when all of them fail.
func NewCoordinator(caller Caller, required []model.ProviderKind) *Coordinator {
	if len(required) == 0 {
		required = []model.ProviderKind{model.ProviderClassification, model.ProviderTariff}
	}
	return &Coordinator{caller: caller, required: required}
}

// Required returns the configured required provider kinds.
func (c *Coordinator) Required() []model.ProviderKind {
	return c.required
}

// Enrich dispatches one concurrent call per provider kind and collects every
// outcome into the set. It returns when all kinds have settled or ctx expires,
// whichever comes first; kinds still pending at expiry are recorded as timed
// out. The set's content depends only on which providers delivered, never on
// arrival order.
//
// Enrich returns ErrEnrichmentInsufficient when every required provider
// failed. Any other combination of partial results is a valid outcome and
// returns nil.
func (c *Coordinator) Enrich(ctx context.Context, runID string, q model.Inquiry) (*model.EnrichmentSet, error) {
	set := model.NewEnrichmentSet()
	kinds := c.caller.Kinds()

	g, gctx := errgroup.WithContext(ctx)
	for _, kind := range kinds {
		g.Go(func() error {
			res := c.caller.Call(gctx, kind, q)
			// A sibling's failure never cancels this call, so Record only
			// races with the deadline path below; first write wins either way.
			if err := set.Record(res); err != nil {
				zap.L().Warn("discarding late provider result",
					zap.String("run_id", runID),
					zap.String("provider", string(kind)),
				)
			}
			return nil
		})
	}

	done := make(chan struct{})
	go func() {
		_ = g.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		// Deadline elapsed with calls pending. The pending goroutines will
		// observe ctx and drain on their own; the run moves on without them.
		set.MarkMissingTimedOut(kinds)
	}

	if c.exhausted(set) {
		zap.L().Warn("all required providers failed",
			zap.String("run_id", runID),
			zap.String("inquiry_id", q.ID()),
		)
		return set, model.ErrEnrichmentInsufficient
	}

	zap.L().Info("enrichment settled",
		zap.String("run_id", runID),
		zap.Int("succeeded", set.OKCount(kinds)),
		zap.Int("consulted", len(kinds)),
	)
	return set, nil
}

// exhausted reports whether every required provider failed.
func (c *Coordinator) exhausted(set *model.EnrichmentSet) bool {
	for _, kind := range c.required {
		if res, ok := set.Get(kind); ok && res.OK() {
			return false
		}
	}
	return true
}

// RequiredKinds converts configured provider names to kinds, dropping
// unknown names.
func RequiredKinds(names []string) []model.ProviderKind {
	kinds := make([]model.ProviderKind, 0, len(names))
	for _, name := range names {
		for _, k := range model.EnrichmentKinds {
			if string(k) == name {
				kinds = append(kinds, k)
			}
		}
	}
	return kinds
}
