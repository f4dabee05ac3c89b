// Package ratelimit enforces per-domain request pacing and suspends domains
// that fail repeatedly, so one unhealthy site cannot starve the worker pool.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/contentcollector/collector/internal/metrics"
)

// ErrDomainSuspended is returned by Acquire while a domain's circuit is open.
// Callers must not issue a request to the domain; the failure is a policy
// outcome, not a fetch error.
var ErrDomainSuspended = errors.New("domain suspended")

// Config controls pacing and circuit behaviour.
type Config struct {
	// Delay is the minimum interval between requests to one domain.
	Delay time.Duration
	// FailureThreshold is the consecutive-failure count that opens a circuit.
	FailureThreshold int
	// Cooldown is the initial open-circuit window. It doubles on each failed
	// probe, capped at MaxCooldown.
	Cooldown    time.Duration
	MaxCooldown time.Duration
}

func (c Config) withDefaults() Config {
	if c.Delay <= 0 {
		c.Delay = time.Second
	}
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 5
	}
	if c.Cooldown <= 0 {
		c.Cooldown = 30 * time.Second
	}
	if c.MaxCooldown <= 0 {
		c.MaxCooldown = 10 * time.Minute
	}
	return c
}

type domainState struct {
	limiter *rate.Limiter

	failures  int
	openUntil time.Time
	cooldown  time.Duration
	probing   bool
}

// Limiter manages per-domain pacing and circuit state. One instance serves
// the whole run; state is created lazily per observed domain.
type Limiter struct {
	cfg    Config
	logger *zap.Logger

	mu      sync.Mutex
	domains map[string]*domainState

	now func() time.Time
}

// New creates a Limiter.
func New(cfg Config, logger *zap.Logger) *Limiter {
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()
	return &Limiter{
		cfg:     cfg.withDefaults(),
		logger:  logger,
		domains: make(map[string]*domainState),
		now:     time.Now,
	}
}

// Acquire returns once a request to domain is permissible. It blocks for
// pacing but fails fast with ErrDomainSuspended while the circuit is open.
// At cooldown expiry exactly one caller is let through as the probe.
func (l *Limiter) Acquire(ctx context.Context, domain string) error {
	if domain == "" {
		return nil
	}

	l.mu.Lock()
	state := l.getLocked(domain)
	now := l.now()
	isProbe := false
	if !state.openUntil.IsZero() {
		if now.Before(state.openUntil) {
			l.mu.Unlock()
			return fmt.Errorf("%w: %s until %s", ErrDomainSuspended, domain, state.openUntil.Format(time.RFC3339))
		}
		if state.probing {
			// A probe is already in flight; everyone else keeps waiting.
			l.mu.Unlock()
			return fmt.Errorf("%w: %s (probe in flight)", ErrDomainSuspended, domain)
		}
		state.probing = true
		isProbe = true
		l.logger.Debug("circuit half-open, probing", zap.String("domain", domain))
	}
	limiter := state.limiter
	l.mu.Unlock()

	if err := limiter.Wait(ctx); err != nil {
		if isProbe {
			l.mu.Lock()
			state.probing = false
			l.mu.Unlock()
		}
		return fmt.Errorf("rate limit wait: %w", err)
	}

	// The circuit may have opened while this caller was pacing.
	if !isProbe {
		l.mu.Lock()
		open := !state.openUntil.IsZero() && l.now().Before(state.openUntil)
		l.mu.Unlock()
		if open {
			return fmt.Errorf("%w: %s (opened during wait)", ErrDomainSuspended, domain)
		}
	}
	return nil
}

// Report feeds the outcome of a completed request back into the breaker.
func (l *Limiter) Report(domain string, success bool) {
	if domain == "" {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	state := l.getLocked(domain)
	now := l.now()

	if state.probing {
		state.probing = false
		if success {
			l.logger.Info("circuit closed", zap.String("domain", domain))
			state.failures = 0
			state.openUntil = time.Time{}
			state.cooldown = 0
			return
		}
		next := state.cooldown * 2
		if next > l.cfg.MaxCooldown {
			next = l.cfg.MaxCooldown
		}
		state.cooldown = next
		state.openUntil = now.Add(next)
		metrics.ObserveCircuitOpen(domain)
		l.logger.Warn("probe failed, circuit re-opened",
			zap.String("domain", domain),
			zap.Duration("cooldown", next),
		)
		return
	}

	if success {
		state.failures = 0
		return
	}

	state.failures++
	if state.failures >= l.cfg.FailureThreshold && state.openUntil.IsZero() {
		state.cooldown = l.cfg.Cooldown
		state.openUntil = now.Add(state.cooldown)
		metrics.ObserveCircuitOpen(domain)
		l.logger.Warn("circuit opened",
			zap.String("domain", domain),
			zap.Int("consecutive_failures", state.failures),
			zap.Duration("cooldown", state.cooldown),
		)
	}
}

// Cancel reports that a request admitted by Acquire was abandoned before it
// completed, typically at shutdown. It frees a pending probe slot without
// judging the domain, so a later caller can probe instead.
func (l *Limiter) Cancel(domain string) {
	if domain == "" {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if state, ok := l.domains[domain]; ok {
		state.probing = false
	}
}

// Suspended reports whether the domain's circuit is currently open.
func (l *Limiter) Suspended(domain string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	state, ok := l.domains[domain]
	if !ok {
		return false
	}
	return !state.openUntil.IsZero() && l.now().Before(state.openUntil)
}

func (l *Limiter) getLocked(domain string) *domainState {
	state, ok := l.domains[domain]
	if !ok {
		state = &domainState{
			limiter: rate.NewLimiter(rate.Every(l.cfg.Delay), 1),
		}
		l.domains[domain] = state
	}
	return state
}
