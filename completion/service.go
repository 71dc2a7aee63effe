package completion

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"

	"github.com/cenecahq/ceneca/telemetry"
)

type (
	// Service fans a completion request across providers registered in
	// priority order. Each provider is gated by its own circuit breaker;
	// open breakers are skipped and failures fail over to the next
	// provider in line.
	Service struct {
		providers []*provider
		logger    telemetry.Logger
	}

	// ServiceOption configures a Service.
	ServiceOption func(*Service)

	// Provider pairs a client with its identifier for registration.
	Provider struct {
		// Name identifies the provider, e.g. "anthropic".
		Name string
		// Client is the provider-backed completion client.
		Client Client
	}

	// BreakerConfig tunes the per-provider circuit breakers.
	BreakerConfig struct {
		// Threshold is the number of consecutive failures that opens
		// the breaker. Zero means DefaultBreakerThreshold.
		Threshold uint32
		// RecoveryWindow is how long the breaker stays open before
		// allowing a half-open probe. Zero means DefaultRecoveryWindow.
		RecoveryWindow time.Duration
	}

	provider struct {
		name    string
		client  Client
		breaker *gobreaker.CircuitBreaker
	}
)

// Breaker defaults.
const (
	DefaultBreakerThreshold = 5
	DefaultRecoveryWindow   = 30 * time.Second
)

// ErrCircuitOpen indicates every registered provider is short-circuited.
var ErrCircuitOpen = errors.New("completion: all provider circuits open")

// ErrNoProviders indicates the service has no registered providers.
var ErrNoProviders = errors.New("completion: no providers registered")

// WithLogger configures the service logger.
func WithLogger(logger telemetry.Logger) ServiceOption {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewService builds a failover Service over the given providers, in priority
// order.
func NewService(providers []Provider, cfg BreakerConfig, opts ...ServiceOption) (*Service, error) {
	if len(providers) == 0 {
		return nil, ErrNoProviders
	}
	threshold := cfg.Threshold
	if threshold == 0 {
		threshold = DefaultBreakerThreshold
	}
	window := cfg.RecoveryWindow
	if window <= 0 {
		window = DefaultRecoveryWindow
	}
	s := &Service{logger: telemetry.NewNoopLogger()}
	for _, o := range opts {
		if o != nil {
			o(s)
		}
	}
	for _, p := range providers {
		if p.Name == "" || p.Client == nil {
			return nil, errors.New("completion: provider name and client are required")
		}
		name := p.Name
		s.providers = append(s.providers, &provider{
			name:   name,
			client: p.Client,
			breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
				Name:    name,
				Timeout: window,
				ReadyToTrip: func(counts gobreaker.Counts) bool {
					return counts.ConsecutiveFailures >= threshold
				},
				OnStateChange: func(name string, from, to gobreaker.State) {
					s.logger.Warn(context.Background(), "provider breaker state change",
						"provider", name, "from", from.String(), "to", to.String())
				},
			}),
		})
	}
	return s, nil
}

// Complete tries each provider in priority order until one succeeds. Open
// breakers are skipped; any provider failure fails over to the next. When
// every provider is short-circuited the result is ErrCircuitOpen.
func (s *Service) Complete(ctx context.Context, req Request) (*Response, error) {
	var lastErr error
	skipped := 0
	for _, p := range s.providers {
		res, err := p.breaker.Execute(func() (any, error) {
			return p.client.Complete(ctx, req)
		})
		if err == nil {
			resp := res.(*Response)
			resp.Provider = p.name
			return resp, nil
		}
		if isShortCircuit(err) {
			skipped++
			continue
		}
		s.logger.Warn(ctx, "provider completion failed", "provider", p.name, "err", err)
		lastErr = fmt.Errorf("%s: %w", p.name, err)
	}
	if lastErr == nil && skipped == len(s.providers) {
		return nil, ErrCircuitOpen
	}
	if lastErr == nil {
		lastErr = ErrNoProviders
	}
	return nil, fmt.Errorf("all providers failed: %w", lastErr)
}

// Stream tries each provider in priority order until one opens a stream.
// Breaker accounting counts a successful stream open as a success.
func (s *Service) Stream(ctx context.Context, req Request) (Streamer, error) {
	var lastErr error
	skipped := 0
	for _, p := range s.providers {
		res, err := p.breaker.Execute(func() (any, error) {
			return p.client.Stream(ctx, req)
		})
		if err == nil {
			return res.(Streamer), nil
		}
		if isShortCircuit(err) {
			skipped++
			continue
		}
		if errors.Is(err, ErrStreamingUnsupported) {
			lastErr = err
			continue
		}
		s.logger.Warn(ctx, "provider stream failed", "provider", p.name, "err", err)
		lastErr = fmt.Errorf("%s: %w", p.name, err)
	}
	if lastErr == nil && skipped == len(s.providers) {
		return nil, ErrCircuitOpen
	}
	if lastErr == nil {
		lastErr = ErrNoProviders
	}
	return nil, fmt.Errorf("all providers failed: %w", lastErr)
}

// Healthy reports whether at least one provider breaker is not open.
func (s *Service) Healthy() bool {
	for _, p := range s.providers {
		if p.breaker.State() != gobreaker.StateOpen {
			return true
		}
	}
	return false
}

func isShortCircuit(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}
