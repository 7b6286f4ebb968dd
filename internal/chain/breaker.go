package chain

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/drippay/backend/internal/monitoring"
	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
)

// BreakerConfig holds configuration for the per-chain circuit breakers
type BreakerConfig struct {
	// MaxRequests is the number of requests allowed through while half-open
	MaxRequests uint32
	// Interval is the cyclic period of the closed state after which counts are cleared
	Interval time.Duration
	// Timeout is how long the breaker stays open before going half-open
	Timeout time.Duration
	// FailureThreshold is the number of consecutive failures that opens the breaker
	FailureThreshold uint32
}

// DefaultBreakerConfig returns default circuit breaker configuration
func DefaultBreakerConfig() *BreakerConfig {
	return &BreakerConfig{
		MaxRequests:      1,
		Interval:         60 * time.Second,
		Timeout:          30 * time.Second,
		FailureThreshold: 5,
	}
}

// ErrCircuitOpen is returned when the breaker for a chain is open
var ErrCircuitOpen = errors.New("circuit breaker is open")

// breakers holds one circuit breaker per chain id
type breakers struct {
	config *BreakerConfig
	mu     sync.RWMutex
	byID   map[string]*gobreaker.CircuitBreaker
}

func newBreakers(config *BreakerConfig) *breakers {
	if config == nil {
		config = DefaultBreakerConfig()
	}
	return &breakers{config: config, byID: make(map[string]*gobreaker.CircuitBreaker)}
}

func (b *breakers) get(chainID string) *gobreaker.CircuitBreaker {
	b.mu.RLock()
	cb, ok := b.byID[chainID]
	b.mu.RUnlock()
	if ok {
		return cb
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if cb, ok = b.byID[chainID]; ok {
		return cb
	}

	cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        fmt.Sprintf("chain-%s", chainID),
		MaxRequests: b.config.MaxRequests,
		Interval:    b.config.Interval,
		Timeout:     b.config.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= b.config.FailureThreshold
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Info().
				Str("circuit_breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Circuit breaker state changed")
			monitoring.SetCircuitBreakerState(chainID, stateValue(to))
		},
		IsSuccessful: func(err error) bool {
			// JSON-RPC level errors mean the node answered; only transport failures count
			return err == nil || errors.Is(err, ErrRPC)
		},
	})
	b.byID[chainID] = cb
	return cb
}

// execute runs fn behind the breaker for chainID
func (b *breakers) execute(ctx context.Context, chainID string, fn func() (any, error)) (any, error) {
	result, err := b.get(chainID).Execute(func() (any, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return fn()
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			log.Warn().Str("chain_id", chainID).Msg("Circuit breaker is open, skipping RPC call")
			return nil, ErrCircuitOpen
		}
		return nil, err
	}
	return result, nil
}

func stateValue(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateOpen:
		return 1
	case gobreaker.StateHalfOpen:
		return 0.5
	default:
		return 0
	}
}
