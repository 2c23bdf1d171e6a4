// Package runner schedules virtual users for a staged load test.
//
// A run is a list of [Stage] values. Each stage holds a target population of
// virtual users (VUs) for its duration: at the start of a stage the scheduler
// spawns or retires workers so that exactly Target VUs are active, and keeps
// that population until the next stage begins.
//
//	s := runner.New(runner.Options{
//		Stages: []runner.Stage{
//			{Duration: 10 * time.Second, Target: 10},
//			{Duration: 30 * time.Second, Target: 10},
//			{Duration: 10 * time.Second, Target: 0},
//		},
//		Iteration: exec.Iterate,
//		ThinkTime: time.Second,
//	})
//	result, err := s.Run(ctx)
//
// # Virtual users
//
// Each VU is a goroutine with a 1-based ordinal. It loops: wait for a pacing
// permit, run one iteration, sleep the think time. Retired VUs finish their
// current iteration before they exit; the think-time sleep and pacing wait
// are cut short. New VUs take the lowest ordinal not held by a live VU, and
// scale-down retires the highest ordinals first.
//
// # Stopping
//
// When the last stage ends, or [Scheduler.Stop] is called, every VU is retired
// and the scheduler waits up to GracefulStop for in-flight iterations. After
// that the iteration context is cancelled and [Result.Forced] is set. Cancelling
// the context passed to Run forces the stop immediately.
//
// # Pacing
//
// Think time is either constant or drawn from an exponential distribution with
// the configured mean. MaxIterationRate caps iterations per second across all
// VUs with a shared [golang.org/x/time/rate] limiter.
//
// # Middleware
//
// [WithLogging] wraps an [IterationFunc] to report failed iterations.
package runner
