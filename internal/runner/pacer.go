package runner

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// pacer gates iteration starts across all VUs.
type pacer interface {
	Wait(ctx context.Context) error
}

func newPacer(opt Options) pacer {
	if opt.MaxIterationRate <= 0 {
		return unlimitedPacer{}
	}
	return &limiterPacer{limiter: opt.LimiterFactory(opt.MaxIterationRate)}
}

func newLimiter(perSecond float64) *rate.Limiter {
	if perSecond <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	burst := int(math.Ceil(perSecond))
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(perSecond), burst)
}

type unlimitedPacer struct{}

func (unlimitedPacer) Wait(ctx context.Context) error {
	return ctx.Err()
}

// limiterPacer delegates pacing to a rate.Limiter (uniform spacing).
type limiterPacer struct {
	limiter *rate.Limiter
}

func (l *limiterPacer) Wait(ctx context.Context) error {
	if l == nil || l.limiter == nil {
		return ctx.Err()
	}
	return l.limiter.Wait(ctx)
}

// thinkTimer yields the pause after each iteration.
type thinkTimer struct {
	mean   time.Duration
	mu     sync.Mutex
	sample func() float64 // nil for the constant model
}

func newThinkTimer(model ThinkTimeModel, mean time.Duration, seed int64) *thinkTimer {
	t := &thinkTimer{mean: mean}
	if model == ThinkTimeExponential && mean > 0 {
		t.sample = rand.New(rand.NewSource(seed)).ExpFloat64
	}
	return t
}

func (t *thinkTimer) next() time.Duration {
	if t == nil || t.mean <= 0 {
		return 0
	}
	if t.sample == nil {
		return t.mean
	}
	t.mu.Lock()
	value := t.sample()
	t.mu.Unlock()

	delay := float64(t.mean) * value
	if delay > math.MaxInt64 {
		delay = math.MaxInt64
	}
	return time.Duration(delay)
}

// sleepCtx sleeps for d and reports false if ctx ended first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
