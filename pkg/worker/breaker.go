package worker

import (
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"github.com/codeready-toolchain/orchestrator/pkg/connector"
	"github.com/codeready-toolchain/orchestrator/pkg/orcherr"
)

// breakerSet holds one circuit breaker per target, opening on repeated
// target_busy results from Azure Run Command (§4.4: "surface a distinct
// error kind target_busy ... so the State Machine can surface an
// actionable message rather than auto-retry into another conflict").
// Tripping the breaker short-circuits further dispatch to a busy target
// instead of piling up retries against it.
type breakerSet struct {
	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker[*connector.ExecutionResult]
}

func newBreakerSet() *breakerSet {
	return &breakerSet{breakers: make(map[string]*gobreaker.CircuitBreaker[*connector.ExecutionResult])}
}

func (b *breakerSet) forTarget(targetKey string) *gobreaker.CircuitBreaker[*connector.ExecutionResult] {
	b.mu.Lock()
	defer b.mu.Unlock()
	if cb, ok := b.breakers[targetKey]; ok {
		return cb
	}
	cb := gobreaker.NewCircuitBreaker[*connector.ExecutionResult](gobreaker.Settings{
		Name:        targetKey,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		IsSuccessful: func(err error) bool {
			return orcherr.KindOf(err) != orcherr.KindTargetBusy
		},
	})
	b.breakers[targetKey] = cb
	return cb
}
