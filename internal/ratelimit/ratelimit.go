// Package ratelimit paces LLM calls and caps how many a single run may make.
package ratelimit

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

var ErrBudgetExhausted = errors.New("LLM request budget exhausted")

// Limiter combines a token-bucket pace with a per-run request budget.
type Limiter struct {
	mu     sync.Mutex
	pace   *rate.Limiter
	budget int // 0 = unlimited
	used   int
	denied int
	hits   int
	logger *slog.Logger
}

// New allows perMinute calls per minute (burst 1) and at most budget calls in
// total. budget <= 0 means no cap.
func New(perMinute, budget int, logger *slog.Logger) *Limiter {
	if logger == nil {
		logger = slog.Default()
	}
	limit := rate.Inf
	if perMinute > 0 {
		limit = rate.Every(time.Minute / time.Duration(perMinute))
	}
	return &Limiter{
		pace:   rate.NewLimiter(limit, 1),
		budget: budget,
		logger: logger,
	}
}

// Acquire reserves one request from the budget and waits for the pace.
func (l *Limiter) Acquire(ctx context.Context) error {
	l.mu.Lock()
	if l.budget > 0 && l.used >= l.budget {
		l.denied++
		l.mu.Unlock()
		return ErrBudgetExhausted
	}
	l.used++
	used := l.used
	l.mu.Unlock()

	if err := l.pace.Wait(ctx); err != nil {
		l.mu.Lock()
		l.used--
		l.mu.Unlock()
		return err
	}
	l.logger.Debug("LLM request", "used", used, "budget", l.budget)
	return nil
}

// RecordCacheHit counts a request avoided through the summary cache.
func (l *Limiter) RecordCacheHit() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.hits++
}

// Remaining returns how many requests are left, or -1 when unlimited.
func (l *Limiter) Remaining() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.budget <= 0 {
		return -1
	}
	return l.budget - l.used
}

func (l *Limiter) GetStats() map[string]interface{} {
	l.mu.Lock()
	defer l.mu.Unlock()

	return map[string]interface{}{
		"used":       l.used,
		"budget":     l.budget,
		"denied":     l.denied,
		"cache_hits": l.hits,
	}
}
