// Package ratelimit bounds outgoing request frequency.
//
// The remote service applies both a global ceiling and per-account fairness
// rules, so the gate keeps one shared token bucket plus one bucket per
// account number. Both must be satisfied before a request may go out.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/voltbird/octoflux/internal/models"
)

// Gate grants permits for outgoing remote calls. Safe for concurrent use;
// at most one permit is granted per account per cooldown interval.
type Gate struct {
	mu         sync.Mutex
	global     *rate.Limiter
	perAccount map[string]*rate.Limiter

	cooldown     time.Duration
	accountBurst int
}

// Config holds the gate's limits.
type Config struct {
	// GlobalRPS is the ceiling across all credentials, matching the remote
	// service's published limit.
	GlobalRPS   float64
	GlobalBurst int
	// Cooldown is the minimum spacing between requests for one credential.
	Cooldown     time.Duration
	AccountBurst int
}

// DefaultConfig returns limits that stay well inside the Octopus API's
// published allowance.
func DefaultConfig() Config {
	return Config{
		GlobalRPS:    5.0,
		GlobalBurst:  10,
		Cooldown:     500 * time.Millisecond,
		AccountBurst: 2,
	}
}

// NewGate creates a gate with the given limits.
func NewGate(cfg Config) *Gate {
	return &Gate{
		global:       rate.NewLimiter(rate.Limit(cfg.GlobalRPS), cfg.GlobalBurst),
		perAccount:   make(map[string]*rate.Limiter),
		cooldown:     cfg.Cooldown,
		accountBurst: cfg.AccountBurst,
	}
}

func (g *Gate) limiterFor(account string) *rate.Limiter {
	g.mu.Lock()
	defer g.mu.Unlock()

	lim, ok := g.perAccount[account]
	if !ok {
		lim = rate.NewLimiter(rate.Every(g.cooldown), g.accountBurst)
		g.perAccount[account] = lim
	}
	return lim
}

// Acquire blocks until both the global and the account bucket grant a
// permit, or until ctx is canceled. Permits are not refunded on
// cancellation.
func (g *Gate) Acquire(ctx context.Context, account string) error {
	if err := g.global.Wait(ctx); err != nil {
		return err
	}
	return g.limiterFor(account).Wait(ctx)
}

// TryAcquire grants a permit without blocking. When either bucket is
// empty it returns a RateLimitedError carrying the duration until the next
// permissible attempt.
func (g *Gate) TryAcquire(account string) error {
	now := time.Now()

	gr := g.global.ReserveN(now, 1)
	if d := gr.DelayFrom(now); d > 0 {
		gr.CancelAt(now)
		return &models.RateLimitedError{AccountNumber: account, RetryAfter: d}
	}

	ar := g.limiterFor(account).ReserveN(now, 1)
	if d := ar.DelayFrom(now); d > 0 {
		ar.CancelAt(now)
		gr.CancelAt(now)
		return &models.RateLimitedError{AccountNumber: account, RetryAfter: d}
	}

	return nil
}
