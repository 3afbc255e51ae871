package llm

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/time/rate"
)

// RateLimited wraps a Client with a process-local, adaptive tokens-per-minute
// budget: it estimates the cost of each Complete call, blocks the caller
// until capacity is available, and backs off the budget when the wrapped
// Client reports ErrRateLimited, recovering gradually afterward. Scoped down
// from the teacher's cluster-aware AdaptiveRateLimiter (no rmap coordination
// — this orchestrator runs one LLM ladder per process, not a pool of
// planners sharing a provider budget).
type RateLimited struct {
	next Client

	mu           sync.Mutex
	limiter      *rate.Limiter
	currentTPM   float64
	minTPM       float64
	maxTPM       float64
	recoveryRate float64
}

// NewRateLimited wraps next with an adaptive limiter budgeted at initialTPM
// tokens per minute, backing off to as low as 10% of that and recovering at
// 5% of it per successful call, up to maxTPM.
func NewRateLimited(next Client, initialTPM, maxTPM float64) *RateLimited {
	if initialTPM <= 0 {
		initialTPM = 60000
	}
	if maxTPM <= 0 || maxTPM < initialTPM {
		maxTPM = initialTPM
	}
	minTPM := initialTPM * 0.1
	if minTPM < 1 {
		minTPM = 1
	}
	recoveryRate := initialTPM * 0.05
	if recoveryRate < 1 {
		recoveryRate = 1
	}
	return &RateLimited{
		next:         next,
		limiter:      rate.NewLimiter(rate.Limit(initialTPM/60.0), int(initialTPM)),
		currentTPM:   initialTPM,
		minTPM:       minTPM,
		maxTPM:       maxTPM,
		recoveryRate: recoveryRate,
	}
}

// Complete blocks for the estimated token cost of req, then delegates.
func (l *RateLimited) Complete(ctx context.Context, req Request) (Response, error) {
	if err := l.limiter.WaitN(ctx, estimateTokens(req)); err != nil {
		return Response{}, err
	}
	resp, err := l.next.Complete(ctx, req)
	l.observe(err)
	return resp, err
}

// Moderate passes through unlimited: moderation calls are cheap and do not
// compete with completion tokens for the provider's rate-limit bucket.
func (l *RateLimited) Moderate(ctx context.Context, text string) error {
	return l.next.Moderate(ctx, text)
}

func (l *RateLimited) observe(err error) {
	if err == nil {
		l.probe()
		return
	}
	if errors.Is(err, ErrRateLimited) {
		l.backoff()
	}
}

func (l *RateLimited) backoff() {
	l.mu.Lock()
	defer l.mu.Unlock()
	newTPM := l.currentTPM * 0.5
	if newTPM < l.minTPM {
		newTPM = l.minTPM
	}
	l.setTPM(newTPM)
}

func (l *RateLimited) probe() {
	l.mu.Lock()
	defer l.mu.Unlock()
	newTPM := l.currentTPM + l.recoveryRate
	if newTPM > l.maxTPM {
		newTPM = l.maxTPM
	}
	l.setTPM(newTPM)
}

func (l *RateLimited) setTPM(newTPM float64) {
	if newTPM == l.currentTPM {
		return
	}
	l.currentTPM = newTPM
	l.limiter.SetLimit(rate.Limit(newTPM / 60.0))
	l.limiter.SetBurst(int(newTPM))
}

// estimateTokens is a cheap heuristic: characters over a fixed ratio, plus a
// fixed overhead for the provider's own framing.
func estimateTokens(req Request) int {
	const charsPerToken = 4
	const overhead = 64
	n := len(req.Prompt)/charsPerToken + overhead
	if req.MaxTokens > 0 {
		n += req.MaxTokens
	}
	return n
}
