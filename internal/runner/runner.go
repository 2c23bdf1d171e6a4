package runner

import (
	"context"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Result captures the execution summary.
type Result struct {
	Iterations       int64
	FailedIterations int64
	Duration         time.Duration
	PeakVUs          int
	Forced           bool // in-flight iterations were cancelled
}

// Scheduler runs VUs through the configured stages.
type Scheduler struct {
	opt   Options
	plan  *stagePlan
	pacer pacer
	think *thinkTimer
	log   *zap.Logger

	mu      sync.Mutex
	workers map[int]*worker
	wg      sync.WaitGroup

	started  atomic.Bool
	stopCh   chan struct{}
	stopOnce sync.Once

	begin      atomic.Int64
	live       atomic.Int32
	peak       atomic.Int32
	scheduled  atomic.Int32
	stage      atomic.Int32
	iterations atomic.Int64
	failed     atomic.Int64
}

type worker struct {
	vu       int
	retire   context.CancelFunc
	retiring bool
}

// New creates a Scheduler. Options are validated when Run is called.
func New(opt Options) *Scheduler {
	opt.normalize()
	s := &Scheduler{
		opt:     opt,
		plan:    compileStagePlan(opt.Stages),
		pacer:   newPacer(opt),
		think:   newThinkTimer(opt.ThinkTimeModel, opt.ThinkTime, opt.RandomSeed),
		log:     opt.Logger,
		workers: make(map[int]*worker),
		stopCh:  make(chan struct{}),
	}
	s.stage.Store(-1)
	return s
}

// Run blocks until every stage has elapsed and every VU has returned. It
// returns an error only for invalid options.
func (s *Scheduler) Run(ctx context.Context) (Result, error) {
	if err := s.opt.validate(); err != nil {
		return Result{}, err
	}
	if !s.started.CompareAndSwap(false, true) {
		return Result{}, ErrAlreadyStarted
	}

	start := time.Now()
	s.begin.Store(start.UnixNano())
	iterCtx, forceCancel := context.WithCancel(ctx)
	defer forceCancel()

	s.runStages(ctx, iterCtx, start)

	s.retireAll()
	forced := s.drain(ctx, forceCancel)
	s.stage.Store(-1)

	return Result{
		Iterations:       s.iterations.Load(),
		FailedIterations: s.failed.Load(),
		Duration:         time.Since(start),
		PeakVUs:          int(s.peak.Load()),
		Forced:           forced,
	}, nil
}

func (s *Scheduler) runStages(ctx, iterCtx context.Context, start time.Time) {
	for i, seg := range s.plan.segments {
		s.stage.Store(int32(i))
		s.log.Info("stage started",
			zap.Int("stage", i),
			zap.Int("target", seg.target),
			zap.Duration("duration", seg.duration),
		)
		s.scale(iterCtx, seg.target)

		wait := time.Until(start.Add(s.plan.end(i)))
		if wait <= 0 {
			continue
		}
		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-s.stopCh:
			timer.Stop()
			s.log.Info("stopping before the last stage ended", zap.Int("stage", i))
			return
		case <-ctx.Done():
			timer.Stop()
			return
		}
	}
}

// drain waits for retired VUs, cancelling them after GracefulStop. It reports
// whether cancellation was needed.
func (s *Scheduler) drain(ctx context.Context, forceCancel context.CancelFunc) bool {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(s.opt.GracefulStop)
	defer timer.Stop()

	select {
	case <-done:
		return ctx.Err() != nil
	case <-ctx.Done():
	case <-timer.C:
		s.log.Warn("graceful stop expired, cancelling in-flight iterations",
			zap.Duration("graceful_stop", s.opt.GracefulStop),
			zap.Int32("vus", s.live.Load()),
		)
	}
	forceCancel()
	<-done
	return true
}

// scale brings the scheduled population to target.
func (s *Scheduler) scale(iterCtx context.Context, target int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	active := make([]*worker, 0, len(s.workers))
	for _, w := range s.workers {
		if !w.retiring {
			active = append(active, w)
		}
	}
	sort.Slice(active, func(i, j int) bool { return active[i].vu < active[j].vu })

	for n := len(active); n < target; n++ {
		s.spawnLocked(iterCtx, s.lowestFreeLocked())
	}
	for i := len(active) - 1; i >= target; i-- {
		s.retireLocked(active[i])
	}
}

func (s *Scheduler) lowestFreeLocked() int {
	for vu := 1; ; vu++ {
		if _, taken := s.workers[vu]; !taken {
			return vu
		}
	}
}

func (s *Scheduler) spawnLocked(iterCtx context.Context, vu int) {
	waitCtx, retire := context.WithCancel(iterCtx)
	w := &worker{vu: vu, retire: retire}
	s.workers[vu] = w
	s.scheduled.Add(1)

	live := s.live.Add(1)
	for {
		peak := s.peak.Load()
		if live <= peak || s.peak.CompareAndSwap(peak, live) {
			break
		}
	}

	s.wg.Add(1)
	s.log.Debug("vu started", zap.Int("vu", vu))
	if s.opt.OnVUStart != nil {
		s.opt.OnVUStart(vu)
	}
	go s.runVU(iterCtx, waitCtx, w)
}

func (s *Scheduler) retireLocked(w *worker) {
	if w.retiring {
		return
	}
	w.retiring = true
	s.scheduled.Add(-1)
	w.retire()
	s.log.Debug("vu retiring", zap.Int("vu", w.vu))
}

func (s *Scheduler) retireAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, w := range s.workers {
		s.retireLocked(w)
	}
}

// runVU loops until the VU is retired. Iterations run on iterCtx, which is
// only cancelled on forced stop; pacing and think time use waitCtx, which is
// cancelled on retirement.
func (s *Scheduler) runVU(iterCtx, waitCtx context.Context, w *worker) {
	defer func() {
		s.mu.Lock()
		s.retireLocked(w)
		delete(s.workers, w.vu)
		s.mu.Unlock()
		s.live.Add(-1)
		s.log.Debug("vu stopped", zap.Int("vu", w.vu))
		if s.opt.OnVUStop != nil {
			s.opt.OnVUStop(w.vu)
		}
		s.wg.Done()
	}()

	for {
		if err := s.pacer.Wait(waitCtx); err != nil || waitCtx.Err() != nil {
			return
		}
		s.iterate(iterCtx, w.vu)
		if iterCtx.Err() != nil {
			return
		}
		if !sleepCtx(waitCtx, s.think.next()) {
			return
		}
	}
}

func (s *Scheduler) iterate(ctx context.Context, vu int) {
	start := time.Now()
	err := s.safeIteration(ctx, vu)
	if ctx.Err() != nil {
		// Force-cancelled; partial results are not recorded.
		return
	}
	d := time.Since(start)

	s.iterations.Add(1)
	if err != nil {
		s.failed.Add(1)
	}
	if s.opt.OnIterationComplete != nil {
		s.opt.OnIterationComplete(vu, d, err)
	}
}

func (s *Scheduler) safeIteration(ctx context.Context, vu int) (err error) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("iteration panicked",
				zap.Int("vu", vu),
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()),
			)
			err = fmt.Errorf("%w: %v", ErrIterationPanic, r)
		}
	}()
	return s.opt.Iteration(ctx, vu)
}

// Stop ends stage progression early. VUs drain as after the last stage.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}

// ActiveVUs returns the scheduled population, excluding retiring VUs.
func (s *Scheduler) ActiveVUs() int {
	return int(s.scheduled.Load())
}

// LiveVUs returns the number of running VU goroutines, including retiring ones.
func (s *Scheduler) LiveVUs() int {
	return int(s.live.Load())
}

// Iterations returns the number of completed iterations so far.
func (s *Scheduler) Iterations() int64 {
	return s.iterations.Load()
}

// FailedIterations returns the number of failed iterations so far.
func (s *Scheduler) FailedIterations() int64 {
	return s.failed.Load()
}

// CurrentStage returns the index of the running stage, or -1 outside stages.
func (s *Scheduler) CurrentStage() int {
	return int(s.stage.Load())
}

// PlannedVUs returns the population the stage plan calls for right now, or 0
// before Run and after the last stage.
func (s *Scheduler) PlannedVUs() int {
	begin := s.begin.Load()
	if begin == 0 {
		return 0
	}
	target, _, _ := s.plan.targetAt(time.Since(time.Unix(0, begin)))
	return target
}

// TotalDuration is the scheduled run time, the sum of all stage durations.
func (s *Scheduler) TotalDuration() time.Duration {
	return s.plan.totalDuration()
}

// PeakTarget is the largest stage target.
func (s *Scheduler) PeakTarget() int {
	return s.plan.peakTarget()
}
