package runner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// DefaultGracefulStop is how long in-flight iterations may run after the last
// stage before they are cancelled.
const DefaultGracefulStop = 30 * time.Second

var (
	ErrNoStages       = errors.New("runner: at least one stage is required")
	ErrInvalidStage   = errors.New("runner: invalid stage")
	ErrNilIteration   = errors.New("runner: iteration function is required")
	ErrSpawnLimit     = errors.New("runner: stage target exceeds max VUs")
	ErrAlreadyStarted = errors.New("runner: scheduler already started")
	ErrIterationPanic = errors.New("runner: iteration panicked")
)

// IterationFunc runs one workflow iteration for virtual user vu. A returned
// error marks the iteration as failed; it never stops the VU.
type IterationFunc func(ctx context.Context, vu int) error

// Stage holds Target VUs for Duration.
type Stage struct {
	Duration time.Duration
	Target   int
}

// ThinkTimeModel selects how the pause between iterations is drawn.
type ThinkTimeModel string

const (
	ThinkTimeConstant    ThinkTimeModel = "constant"
	ThinkTimeExponential ThinkTimeModel = "exponential"
)

// Options configure the Scheduler.
type Options struct {
	Stages           []Stage
	Iteration        IterationFunc
	ThinkTime        time.Duration  // pause after each iteration (0 means none)
	ThinkTimeModel   ThinkTimeModel // constant (default) or exponential with ThinkTime as mean
	MaxIterationRate float64        // iterations per second across all VUs (0 means unlimited)
	MaxVUs           int            // refuse stage targets above this (0 means no cap)
	GracefulStop     time.Duration  // defaults to DefaultGracefulStop
	RandomSeed       int64          // seed for exponential think time (0 uses the clock)
	Logger           *zap.Logger

	OnVUStart           func(vu int)
	OnVUStop            func(vu int)
	OnIterationComplete func(vu int, d time.Duration, err error)

	LimiterFactory func(perSecond float64) *rate.Limiter // optional injection for tests
}

func (o *Options) normalize() {
	if o.ThinkTime < 0 {
		o.ThinkTime = 0
	}
	if o.ThinkTimeModel == "" {
		o.ThinkTimeModel = ThinkTimeConstant
	}
	if o.MaxIterationRate < 0 {
		o.MaxIterationRate = 0
	}
	if o.GracefulStop <= 0 {
		o.GracefulStop = DefaultGracefulStop
	}
	if o.RandomSeed == 0 {
		o.RandomSeed = time.Now().UnixNano()
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.LimiterFactory == nil {
		o.LimiterFactory = newLimiter
	}
}

func (o Options) validate() error {
	if len(o.Stages) == 0 {
		return ErrNoStages
	}
	if o.Iteration == nil {
		return ErrNilIteration
	}
	for i, st := range o.Stages {
		if st.Duration < 0 {
			return fmt.Errorf("%w: stages[%d] duration %s is negative", ErrInvalidStage, i, st.Duration)
		}
		if st.Target < 0 {
			return fmt.Errorf("%w: stages[%d] target %d is negative", ErrInvalidStage, i, st.Target)
		}
		if o.MaxVUs > 0 && st.Target > o.MaxVUs {
			return fmt.Errorf("%w: stages[%d] target %d > %d", ErrSpawnLimit, i, st.Target, o.MaxVUs)
		}
	}
	switch o.ThinkTimeModel {
	case "", ThinkTimeConstant, ThinkTimeExponential:
	default:
		return fmt.Errorf("runner: unknown think time model %q", o.ThinkTimeModel)
	}
	return nil
}
