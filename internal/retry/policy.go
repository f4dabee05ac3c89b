// Package retry decides whether and when a failed fetch is re-attempted.
package retry

import (
	"crypto/rand"
	"math/big"
	"time"

	"github.com/contentcollector/collector/internal/crawler"
)

// Decision is the outcome of consulting the policy after a failed attempt.
type Decision struct {
	Retry bool
	Delay time.Duration
}

// Config bounds the policy.
type Config struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	// JitterWindow is the upper bound of the uniform random delay added to
	// every retry, spreading out workers that failed on the same domain in
	// the same instant.
	JitterWindow time.Duration
}

// Policy implements bounded exponential backoff with jitter. Decisions are a
// pure function of the attempt number and the error kind.
type Policy struct {
	cfg Config
}

// New builds a policy, applying defaults for unset fields.
func New(cfg Config) *Policy {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 250 * time.Millisecond
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 5 * time.Second
	}
	if cfg.JitterWindow < 0 {
		cfg.JitterWindow = 0
	}
	return &Policy{cfg: cfg}
}

// MaxAttempts exposes the configured attempt bound.
func (p *Policy) MaxAttempts() int { return p.cfg.MaxAttempts }

// Decide returns whether attempt+1 should happen and after what delay.
// attempt is zero-based: attempt 0 is the first failure.
func (p *Policy) Decide(attempt int, kind crawler.ErrorKind) Decision {
	if !kind.Retryable() {
		return Decision{}
	}
	// attempt+1 would exceed the bound.
	if attempt+1 >= p.cfg.MaxAttempts {
		return Decision{}
	}
	return Decision{Retry: true, Delay: p.backoff(attempt)}
}

// backoff computes min(cap, base*2^attempt) plus uniform jitter.
func (p *Policy) backoff(attempt int) time.Duration {
	delay := p.cfg.BaseDelay
	for i := 0; i < attempt && delay < p.cfg.MaxDelay; i++ {
		delay *= 2
	}
	if delay > p.cfg.MaxDelay {
		delay = p.cfg.MaxDelay
	}
	return delay + randomJitter(p.cfg.JitterWindow)
}

func randomJitter(window time.Duration) time.Duration {
	if window <= 0 {
		return 0
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(window)))
	if err != nil {
		return window / 2
	}
	return time.Duration(n.Int64())
}
