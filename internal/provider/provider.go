// Package provider wraps the external API clients behind a uniform caller:
// every call carries a per-call timeout, bounded concurrency, rate limiting,
// retry with backoff, a circuit breaker, and cache write-through, and always
// resolves to a model.ProviderResult rather than a raw error.
package provider

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/freightwise/logistics-cli/internal/cache"
	"github.com/freightwise/logistics-cli/internal/config"
	"github.com/freightwise/logistics-cli/internal/model"
	"github.com/freightwise/logistics-cli/internal/resilience"
)

// Adapter translates one provider's API into the domain payload. Adapters
// return transport or API errors as-is; the caller classifies them. Payload
// validation failures are returned as *model.Failure errors.
type Adapter interface {
	// Kind names the provider this adapter serves.
	Kind() model.ProviderKind
	// Applicable reports whether the inquiry carries the inputs this
	// provider needs. Inapplicable providers settle as no_data immediately.
	Applicable(q model.Inquiry) bool
	// KeyParts returns the normalized sub-request used for the cache key.
	KeyParts(q model.Inquiry) []string
	// Fetch performs the remote call and validates the payload.
	Fetch(ctx context.Context, q model.Inquiry) (model.ProviderResult, error)
}

// Caller coordinates calls to all registered providers.
type Caller struct {
	cache    *cache.ResponseCache
	breakers *resilience.ProviderBreakers
	tuning   func(model.ProviderKind) config.ProviderTuning

	adapters map[model.ProviderKind]Adapter
	limiters map[model.ProviderKind]*rate.Limiter
	sems     map[model.ProviderKind]*semaphore.Weighted
}

// NewCaller builds a caller over the given adapters, tuned per provider kind.
func NewCaller(providers config.ProvidersConfig, c *cache.ResponseCache, breakers *resilience.ProviderBreakers, adapters ...Adapter) *Caller {
	tuning := func(kind model.ProviderKind) config.ProviderTuning {
		return providers.Tuning(string(kind))
	}
	if breakers == nil {
		breakers = resilience.NewProviderBreakers(func(kind model.ProviderKind) resilience.BreakerConfig {
			t := tuning(kind)
			return resilience.BreakerConfig{
				FailureThreshold: t.BreakerThreshold,
				Cooldown:         t.BreakerCooldown,
				OnStateChange: func(from, to resilience.CircuitState) {
					zap.L().Warn("circuit state change",
						zap.String("provider", string(kind)),
						zap.Stringer("from", from),
						zap.Stringer("to", to),
					)
				},
			}
		})
	}

	caller := &Caller{
		cache:    c,
		breakers: breakers,
		tuning:   tuning,
		adapters: make(map[model.ProviderKind]Adapter, len(adapters)),
		limiters: make(map[model.ProviderKind]*rate.Limiter, len(adapters)),
		sems:     make(map[model.ProviderKind]*semaphore.Weighted, len(adapters)),
	}
	for _, a := range adapters {
		kind := a.Kind()
		t := tuning(kind)
		caller.adapters[kind] = a

		rps := t.RatePerSec
		if rps <= 0 {
			rps = 5
		}
		caller.limiters[kind] = rate.NewLimiter(rate.Limit(rps), max(int(rps), 1))

		inflight := t.MaxInflight
		if inflight <= 0 {
			inflight = 8
		}
		caller.sems[kind] = semaphore.NewWeighted(int64(inflight))
	}
	return caller
}

// Breakers exposes the circuit breaker registry for observability.
func (c *Caller) Breakers() *resilience.ProviderBreakers {
	return c.breakers
}

// Kinds returns the provider kinds this caller can serve.
func (c *Caller) Kinds() []model.ProviderKind {
	kinds := make([]model.ProviderKind, 0, len(c.adapters))
	for _, k := range model.EnrichmentKinds {
		if _, ok := c.adapters[k]; ok {
			kinds = append(kinds, k)
		}
	}
	return kinds
}

// Call invokes one provider for the inquiry. The returned result always has
// Kind set and either a payload or a typed Failure; Call itself never fails.
func (c *Caller) Call(ctx context.Context, kind model.ProviderKind, q model.Inquiry) model.ProviderResult {
	adapter, ok := c.adapters[kind]
	if !ok {
		return model.ProviderResult{
			Kind:    kind,
			Failure: model.NewFailure(model.FailureUnavailable, "no adapter registered"),
		}
	}
	if !adapter.Applicable(q) {
		return model.ProviderResult{
			Kind:    kind,
			Failure: model.NewFailure(model.FailureNoData, "inquiry carries no input for this provider"),
		}
	}

	t := c.tuning(kind)
	key := cache.Key(kind, adapter.KeyParts(q)...)
	if res, hit := c.cache.Get(key); hit {
		zap.L().Debug("provider cache hit", zap.String("provider", string(kind)))
		return res
	}

	if err := c.sems[kind].Acquire(ctx, 1); err != nil {
		return c.failed(kind, err, 0)
	}
	defer c.sems[kind].Release(1)

	start := time.Now()
	res, err := resilience.DoVal(ctx, resilience.RetryConfig{
		MaxAttempts:    t.MaxAttempts,
		InitialBackoff: t.InitialBackoff,
		ShouldRetry: func(err error) bool {
			// An open circuit will not close between backoff sleeps.
			if errors.Is(err, resilience.ErrCircuitOpen) {
				return false
			}
			return resilience.ShouldRetry(err)
		},
		OnRetry: resilience.RetryLogger(string(kind), "fetch"),
	}, func(ctx context.Context) (model.ProviderResult, error) {
		if err := c.limiters[kind].Wait(ctx); err != nil {
			return model.ProviderResult{}, err
		}
		return resilience.Exec(ctx, c.breakers.Get(kind), func(ctx context.Context) (model.ProviderResult, error) {
			callCtx := ctx
			if t.Timeout > 0 {
				var cancel context.CancelFunc
				callCtx, cancel = context.WithTimeout(ctx, t.Timeout)
				defer cancel()
			}
			return adapter.Fetch(callCtx, q)
		})
	})
	elapsed := time.Since(start)

	if err != nil {
		return c.failed(kind, err, elapsed)
	}

	res.Kind = kind
	res.Elapsed = elapsed
	c.cache.Put(key, res, t.CacheTTL)
	zap.L().Info("provider call succeeded",
		zap.String("provider", string(kind)),
		zap.Duration("elapsed", elapsed),
	)
	return res
}

func (c *Caller) failed(kind model.ProviderKind, err error, elapsed time.Duration) model.ProviderResult {
	failure := resilience.Classify(err)
	zap.L().Warn("provider call failed",
		zap.String("provider", string(kind)),
		zap.String("failure", string(failure.Kind)),
		zap.Duration("elapsed", elapsed),
		zap.Error(err),
	)
	return model.ProviderResult{Kind: kind, Failure: failure, Elapsed: elapsed}
}
