package runner

import (
	"context"
	"testing"
	"time"
)

func TestThinkTimerConstant(t *testing.T) {
	timer := newThinkTimer(ThinkTimeConstant, 250*time.Millisecond, 1)
	for i := 0; i < 5; i++ {
		if got := timer.next(); got != 250*time.Millisecond {
			t.Fatalf("next() = %s, want 250ms", got)
		}
	}
}

func TestThinkTimerExponentialUsesSampler(t *testing.T) {
	timer := &thinkTimer{mean: 100 * time.Millisecond, sample: func() float64 { return 2 }}
	if got := timer.next(); got != 200*time.Millisecond {
		t.Fatalf("next() = %s, want 200ms", got)
	}
}

func TestThinkTimerExponentialMean(t *testing.T) {
	timer := newThinkTimer(ThinkTimeExponential, 100*time.Millisecond, 42)
	var total time.Duration
	const n = 20000
	for i := 0; i < n; i++ {
		total += timer.next()
	}
	mean := total / n
	if mean < 90*time.Millisecond || mean > 110*time.Millisecond {
		t.Fatalf("sample mean = %s, want about 100ms", mean)
	}
}

func TestThinkTimerZero(t *testing.T) {
	var nilTimer *thinkTimer
	if nilTimer.next() != 0 {
		t.Fatal("nil timer should not pause")
	}
	if got := newThinkTimer(ThinkTimeExponential, 0, 1).next(); got != 0 {
		t.Fatalf("next() = %s, want 0", got)
	}
}

func TestLimiterPacerWaitCancelledContext(t *testing.T) {
	p := &limiterPacer{limiter: newLimiter(0.000001)}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := p.Wait(ctx); err == nil {
		t.Fatal("expected context error when cancelled")
	}
}

func TestNewPacerUnlimited(t *testing.T) {
	opt := Options{}
	opt.normalize()
	if _, ok := newPacer(opt).(unlimitedPacer); !ok {
		t.Fatal("expected unlimited pacer when no rate is set")
	}
	opt.MaxIterationRate = 5
	if _, ok := newPacer(opt).(*limiterPacer); !ok {
		t.Fatal("expected limiter pacer when a rate is set")
	}
}

func TestNewLimiterBurst(t *testing.T) {
	tests := []struct {
		rate      float64
		wantBurst int
	}{
		{rate: 0.5, wantBurst: 1},
		{rate: 10, wantBurst: 10},
		{rate: 2.2, wantBurst: 3},
	}
	for _, tt := range tests {
		if got := newLimiter(tt.rate).Burst(); got != tt.wantBurst {
			t.Errorf("newLimiter(%v).Burst() = %d, want %d", tt.rate, got, tt.wantBurst)
		}
	}
}

func TestSleepCtx(t *testing.T) {
	if !sleepCtx(context.Background(), time.Millisecond) {
		t.Fatal("sleep should complete")
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	start := time.Now()
	if sleepCtx(ctx, time.Minute) {
		t.Fatal("sleep should be cut short")
	}
	if time.Since(start) > time.Second {
		t.Fatal("cancelled sleep took too long")
	}
}
