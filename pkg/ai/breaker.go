package ai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"
)

// ErrUnavailable is returned while the breaker is open.
var ErrUnavailable = errors.New("ai provider temporarily unavailable")

// BreakerConfig tunes GuardedGenerator.
type BreakerConfig struct {
	Name             string
	Timeout          time.Duration // per call; 0 disables
	FailureThreshold uint32
	OpenFor          time.Duration
	// OnResult observes every call: result is "ok", "error" or "open".
	OnResult func(result string, elapsed time.Duration)
	// OnStateChange observes breaker transitions.
	OnStateChange func(from, to gobreaker.State)
}

// GuardedGenerator bounds a TextGenerator with a per-call timeout and a circuit breaker.
type GuardedGenerator struct {
	next     TextGenerator
	cb       *gobreaker.CircuitBreaker[string]
	timeout  time.Duration
	onResult func(string, time.Duration)
}

// NewGuardedGenerator wraps next.
func NewGuardedGenerator(next TextGenerator, cfg BreakerConfig) *GuardedGenerator {
	if cfg.Name == "" {
		cfg.Name = "ai"
	}
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.OpenFor <= 0 {
		cfg.OpenFor = 30 * time.Second
	}
	threshold := cfg.FailureThreshold
	onChange := cfg.OnStateChange
	settings := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     cfg.OpenFor,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		IsSuccessful: countsAsHealthy,
		OnStateChange: func(_ string, from, to gobreaker.State) {
			if onChange != nil {
				onChange(from, to)
			}
		},
	}
	return &GuardedGenerator{
		next:     next,
		cb:       gobreaker.NewCircuitBreaker[string](settings),
		timeout:  cfg.Timeout,
		onResult: cfg.OnResult,
	}
}

// GenerateText implements TextGenerator.
func (g *GuardedGenerator) GenerateText(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	start := time.Now()
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}
	text, err := g.cb.Execute(func() (string, error) {
		return g.next.GenerateText(ctx, systemPrompt, userPrompt)
	})
	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		g.observe("open", start)
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	case err != nil:
		g.observe("error", start)
		return "", err
	}
	g.observe("ok", start)
	return text, nil
}

// State reports the breaker state.
func (g *GuardedGenerator) State() gobreaker.State {
	return g.cb.State()
}

func (g *GuardedGenerator) observe(result string, start time.Time) {
	if g.onResult != nil {
		g.onResult(result, time.Since(start))
	}
}

// countsAsHealthy keeps caller mistakes and cancellations from tripping the breaker.
func countsAsHealthy(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return true
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode >= 400 && apiErr.StatusCode < 500 && apiErr.StatusCode != http.StatusTooManyRequests
	}
	return false
}
