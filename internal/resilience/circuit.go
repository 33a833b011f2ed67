package resilience

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"

	"github.com/freightwise/logistics-cli/internal/model"
)

// CircuitState represents the state of a circuit breaker.
type CircuitState int

const (
	// CircuitClosed is the normal operating state — calls flow through.
	CircuitClosed CircuitState = iota
	// CircuitOpen means too many consecutive failures — calls are rejected
	// immediately for the cool-down window.
	CircuitOpen
	// CircuitHalfOpen allows a single probe call to test recovery.
	CircuitHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrCircuitOpen is returned when a call is rejected because the circuit is open.
var ErrCircuitOpen = eris.New("circuit breaker is open")

// BreakerConfig controls circuit breaker behavior.
type BreakerConfig struct {
	// FailureThreshold is the number of consecutive tripping failures before
	// the circuit opens. Default: 5.
	FailureThreshold int

	// Cooldown is how long the circuit stays open before allowing a probe.
	// Default: 30s.
	Cooldown time.Duration

	// HalfOpenMaxProbes caps in-flight probe calls while half-open; further
	// calls are rejected until a probe settles the circuit. Default: 1.
	HalfOpenMaxProbes int

	// ShouldTrip decides whether an error counts toward the threshold. If
	// nil, retryable failures trip the breaker; authoritative answers
	// (not found, unauthorized) do not.
	ShouldTrip func(err error) bool

	// OnStateChange is called when the circuit transitions between states.
	OnStateChange func(from, to CircuitState)
}

// DefaultBreakerConfig returns sensible defaults.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold:  5,
		Cooldown:          30 * time.Second,
		HalfOpenMaxProbes: 1,
	}
}

// Breaker implements the circuit breaker pattern for a single provider.
type Breaker struct {
	cfg   BreakerConfig
	mu    sync.Mutex
	state CircuitState

	consecutiveFailures int
	lastFailureTime     time.Time
	halfOpenProbes      int

	nowFunc func() time.Time // test injection
}

// NewBreaker creates a circuit breaker with the given config.
func NewBreaker(cfg BreakerConfig) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 30 * time.Second
	}
	if cfg.HalfOpenMaxProbes <= 0 {
		cfg.HalfOpenMaxProbes = 1
	}
	if cfg.ShouldTrip == nil {
		cfg.ShouldTrip = func(err error) bool {
			return err != nil && Retryable(Classify(err).Kind)
		}
	}
	return &Breaker{
		cfg:     cfg,
		state:   CircuitClosed,
		nowFunc: time.Now,
	}
}

// Exec runs fn through the breaker, preserving its return value. Returns
// ErrCircuitOpen without invoking fn while the circuit is open.
func Exec[T any](ctx context.Context, b *Breaker, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if err := b.allow(); err != nil {
		return zero, err
	}
	val, err := fn(ctx)
	b.record(err)
	return val, err
}

// State returns the current circuit state.
func (b *Breaker) State() CircuitState {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == CircuitOpen && b.nowFunc().Sub(b.lastFailureTime) >= b.cfg.Cooldown {
		return CircuitHalfOpen
	}
	return b.state
}

// Reset forces the circuit back to closed. Useful for tests and manual recovery.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	old := b.state
	b.state = CircuitClosed
	b.consecutiveFailures = 0
	b.halfOpenProbes = 0
	if old != CircuitClosed && b.cfg.OnStateChange != nil {
		b.cfg.OnStateChange(old, CircuitClosed)
	}
}

func (b *Breaker) allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case CircuitOpen:
		if b.nowFunc().Sub(b.lastFailureTime) >= b.cfg.Cooldown {
			b.transition(CircuitHalfOpen)
			b.halfOpenProbes = 1
			return nil // probe
		}
		return ErrCircuitOpen
	case CircuitHalfOpen:
		// Concurrent calls past the probe cap stay rejected until a probe
		// settles the circuit.
		if b.halfOpenProbes >= b.cfg.HalfOpenMaxProbes {
			return ErrCircuitOpen
		}
		b.halfOpenProbes++
		return nil
	default:
		return nil
	}
}

func (b *Breaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err == nil || !b.cfg.ShouldTrip(err) {
		if b.state == CircuitHalfOpen {
			b.transition(CircuitClosed)
		}
		b.consecutiveFailures = 0
		return
	}

	b.consecutiveFailures++
	b.lastFailureTime = b.nowFunc()

	switch b.state {
	case CircuitClosed:
		if b.consecutiveFailures >= b.cfg.FailureThreshold {
			b.transition(CircuitOpen)
		}
	case CircuitHalfOpen:
		// Any tripping failure during the probe reopens the circuit.
		b.transition(CircuitOpen)
	}
}

func (b *Breaker) transition(to CircuitState) {
	from := b.state
	b.state = to
	if to != CircuitHalfOpen {
		b.halfOpenProbes = 0
	}
	if b.cfg.OnStateChange != nil {
		b.cfg.OnStateChange(from, to)
	}
}

// ProviderBreakers manages one circuit breaker per provider kind.
type ProviderBreakers struct {
	mu       sync.RWMutex
	breakers map[model.ProviderKind]*Breaker
	cfgFor   func(model.ProviderKind) BreakerConfig
}

// NewProviderBreakers creates a registry of per-provider circuit breakers.
// cfgFor supplies the configuration for each kind; nil uses defaults.
func NewProviderBreakers(cfgFor func(model.ProviderKind) BreakerConfig) *ProviderBreakers {
	if cfgFor == nil {
		cfgFor = func(model.ProviderKind) BreakerConfig { return DefaultBreakerConfig() }
	}
	return &ProviderBreakers{
		breakers: make(map[model.ProviderKind]*Breaker),
		cfgFor:   cfgFor,
	}
}

// Get returns the breaker for the provider kind, creating one if needed.
func (pb *ProviderBreakers) Get(kind model.ProviderKind) *Breaker {
	pb.mu.RLock()
	b, ok := pb.breakers[kind]
	pb.mu.RUnlock()
	if ok {
		return b
	}

	pb.mu.Lock()
	defer pb.mu.Unlock()
	if b, ok = pb.breakers[kind]; ok {
		return b
	}
	b = NewBreaker(pb.cfgFor(kind))
	pb.breakers[kind] = b
	return b
}

// States returns a snapshot of all breaker states for observability.
func (pb *ProviderBreakers) States() map[model.ProviderKind]CircuitState {
	pb.mu.RLock()
	defer pb.mu.RUnlock()
	states := make(map[model.ProviderKind]CircuitState, len(pb.breakers))
	for kind, b := range pb.breakers {
		states[kind] = b.State()
	}
	return states
}
