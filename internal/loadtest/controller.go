package loadtest

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/torosent/crudfire/internal/auth"
	"github.com/torosent/crudfire/internal/config"
	"github.com/torosent/crudfire/internal/httpclient"
	"github.com/torosent/crudfire/internal/metrics"
	"github.com/torosent/crudfire/internal/pool"
	"github.com/torosent/crudfire/internal/runner"
	"github.com/torosent/crudfire/internal/threshold"
	"github.com/torosent/crudfire/internal/tracing"
	"github.com/torosent/crudfire/internal/workflow"
)

var ErrAlreadyRun = errors.New("loadtest: controller already run")

// Option customizes a Controller.
type Option func(*Controller)

// WithLogger sets the run logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Controller) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithTransport replaces the HTTP transport built from the configuration.
func WithTransport(t workflow.Transport) Option {
	return func(c *Controller) { c.transport = t }
}

// WithHTTPClient sets the client the default transport sends through.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Controller) { c.client = client }
}

// WithTracing attaches a tracing provider to workflow steps.
func WithTracing(p *tracing.Provider) Option {
	return func(c *Controller) { c.tracing = p }
}

// Progress is a point-in-time view of a running test.
type Progress struct {
	Elapsed          time.Duration
	Stage            int // -1 outside stages
	ActiveVUs        int
	PlannedVUs       int
	Iterations       int64
	FailedIterations int64
	Requests         int64
	FailedRequests   int64
	PooledIDs        int
}

// Controller runs one load test. Build it with New and call Run once.
type Controller struct {
	cfg       *config.Config
	logger    *zap.Logger
	transport workflow.Transport
	client    *http.Client
	tracing   *tracing.Provider

	runID     string
	rules     []threshold.Rule
	collector *metrics.Collector
	registry  *metrics.Registry
	ids       *pool.IDPool
	executor  *workflow.Executor
	scheduler *runner.Scheduler

	iterations   *metrics.Counter
	iterDuration *metrics.Trend

	started  atomic.Bool
	aborted  atomic.Bool
	begin    atomic.Int64
	breachMu sync.Mutex
	breached map[string]bool
}

// New validates cfg and wires the run.
func New(cfg *config.Config, opts ...Option) (*Controller, error) {
	if cfg == nil {
		return nil, errors.New("loadtest: config is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	rules, err := cfg.Rules()
	if err != nil {
		return nil, fmt.Errorf("thresholds: %w", err)
	}

	c := &Controller{
		cfg:      cfg,
		logger:   zap.NewNop(),
		runID:    ulid.Make().String(),
		rules:    rules,
		breached: make(map[string]bool),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With(zap.String("run_id", c.runID))

	c.collector = metrics.NewCollector()
	c.registry = metrics.NewRegistry(c.collector)
	if c.iterations, err = c.registry.Counter(MetricIterations); err != nil {
		return nil, err
	}
	if c.iterDuration, err = c.registry.Trend(MetricIterationDuration); err != nil {
		return nil, err
	}

	var poolOpts []pool.Option
	if cfg.RandomSeed != 0 {
		poolOpts = append(poolOpts, pool.WithSeed(cfg.RandomSeed))
	}
	c.ids = pool.New(poolOpts...)

	if c.transport == nil {
		client := c.client
		if client == nil {
			client = httpclient.NewClient(cfg.Timeout)
		}
		transport, err := httpclient.NewTransport(client, cfg.Headers, auth.FromConfig(cfg.Auth),
			httpclient.WithMaxBodySize(cfg.MaxResponseBytes))
		if err != nil {
			return nil, err
		}
		c.transport = transport
	}

	wfOpts := []workflow.Option{workflow.WithLogger(c.logger.Named("workflow"))}
	if c.tracing != nil {
		wfOpts = append(wfOpts, workflow.WithTracer(c.tracing.Tracer(), c.tracing.ShouldPropagate()))
	}
	c.executor, err = workflow.New(workflow.Config{
		BaseURL:      cfg.TargetURL,
		ResourcePath: cfg.ResourcePath,
		NameField:    cfg.NameField,
		Headers:      cfg.Headers,
		CreateStatus: cfg.Status.Create,
		ListStatus:   cfg.Status.List,
		UpdateStatus: cfg.Status.Update,
		DeleteStatus: cfg.Status.Delete,
	}, c.transport, c.ids, c.registry, wfOpts...)
	if err != nil {
		return nil, err
	}

	stages := make([]runner.Stage, len(cfg.Stages))
	for i, s := range cfg.Stages {
		stages[i] = runner.Stage{Duration: s.Duration, Target: s.Target}
	}
	c.scheduler = runner.New(runner.Options{
		Stages:              stages,
		Iteration:           runner.WithLogging(c.executor.Iterate, runner.NewZapFailureLogger(c.logger.Named("vu"))),
		ThinkTime:           cfg.ThinkTime,
		ThinkTimeModel:      runner.ThinkTimeModel(cfg.ThinkTimeModel),
		MaxIterationRate:    cfg.MaxIterationRate,
		MaxVUs:              cfg.MaxVUs,
		GracefulStop:        cfg.GracefulStop,
		RandomSeed:          cfg.RandomSeed,
		Logger:              c.logger.Named("runner"),
		OnIterationComplete: c.recordIteration,
	})
	return c, nil
}

// RunID identifies this run in logs and reports.
func (c *Controller) RunID() string { return c.runID }

// Registry exposes the run's metrics.
func (c *Controller) Registry() *metrics.Registry { return c.registry }

// Stop ends the stages early and drains in-flight iterations.
func (c *Controller) Stop() { c.scheduler.Stop() }

func (c *Controller) recordIteration(_ int, d time.Duration, _ error) {
	c.iterations.Add(1)
	c.iterDuration.Add(d)
}

// Run executes the test and returns the report. Threshold failures are part
// of the report, not an error; err is non-nil only when the run could not
// start.
func (c *Controller) Run(ctx context.Context) (*Report, error) {
	if !c.started.CompareAndSwap(false, true) {
		return nil, ErrAlreadyRun
	}

	startedAt := time.Now()
	c.begin.Store(startedAt.UnixNano())
	c.registry.Start()
	c.logger.Info("run started",
		zap.String("target", c.cfg.TargetURL+c.cfg.ResourcePath),
		zap.Int("stages", len(c.cfg.Stages)),
		zap.Duration("duration", c.cfg.TotalDuration()),
		zap.Int("peak_vus", c.cfg.PeakTarget()),
		zap.Int("thresholds", len(c.rules)),
	)

	watchCtx, stopWatch := context.WithCancel(ctx)
	var watchers sync.WaitGroup
	if c.cfg.ThresholdInterval > 0 && len(c.rules) > 0 {
		watchers.Add(1)
		go func() {
			defer watchers.Done()
			c.watchThresholds(watchCtx)
		}()
	}

	result, err := c.scheduler.Run(ctx)
	stopWatch()
	watchers.Wait()
	if err != nil {
		return nil, err
	}

	verdict := threshold.Evaluate(c.rules, c.registry)
	report := &Report{
		RunID:            c.runID,
		Target:           c.cfg.TargetURL + c.cfg.ResourcePath,
		StartedAt:        startedAt,
		Duration:         result.Duration,
		Iterations:       result.Iterations,
		FailedIterations: result.FailedIterations,
		PeakVUs:          result.PeakVUs,
		Forced:           result.Forced,
		Aborted:          c.aborted.Load(),
		ResidualIDs:      c.ids.Len(),
		Pool:             c.ids.Stats(),
		Requests:         c.collector.Stats(result.Duration),
		Metrics:          c.registry.Snapshot(),
		Verdict:          verdict,
	}

	fields := []zap.Field{
		zap.Bool("pass", verdict.Pass),
		zap.Int64("iterations", report.Iterations),
		zap.Int64("requests", report.Requests.Total),
		zap.Int("residual_ids", report.ResidualIDs),
		zap.Duration("took", report.Duration),
	}
	if verdict.Pass {
		c.logger.Info("run finished", fields...)
	} else {
		for _, res := range verdict.Results {
			if !res.Pass {
				c.logger.Warn("threshold failed", zap.String("rule", res.Rule.String()), zap.String("detail", res.Message))
			}
		}
		c.logger.Warn("run finished", fields...)
	}
	return report, nil
}

// watchThresholds evaluates rules on an interval. Rules on metrics without
// samples are skipped until data arrives.
func (c *Controller) watchThresholds(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.ThresholdInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if c.checkThresholds() && c.cfg.AbortOnFail {
				if c.aborted.CompareAndSwap(false, true) {
					c.logger.Warn("aborting run: threshold failed")
					c.scheduler.Stop()
				}
				return
			}
		}
	}
}

// checkThresholds reports whether any rule with data currently fails. Each
// rule's first breach is logged once.
func (c *Controller) checkThresholds() bool {
	active := make([]threshold.Rule, 0, len(c.rules))
	for _, r := range c.rules {
		if hasSamples(c.registry, r.Metric) {
			active = append(active, r)
		}
	}
	verdict := threshold.Evaluate(active, c.registry)
	if verdict.Pass {
		return false
	}

	c.breachMu.Lock()
	defer c.breachMu.Unlock()
	for _, res := range verdict.Results {
		if res.Pass || c.breached[res.Rule.String()] {
			continue
		}
		c.breached[res.Rule.String()] = true
		c.logger.Warn("threshold breached",
			zap.String("rule", res.Rule.String()),
			zap.Float64("actual", res.Actual),
		)
	}
	return true
}

func hasSamples(reg *metrics.Registry, name string) bool {
	kind, ok := reg.Kind(name)
	if !ok {
		return true // unknown metrics fail on evaluation
	}
	switch kind {
	case metrics.KindRate:
		passes, _ := reg.Value(name, "passes")
		fails, _ := reg.Value(name, "fails")
		return passes+fails > 0
	case metrics.KindTrend:
		n, _ := reg.Value(name, "count")
		return n > 0
	default:
		return true
	}
}

// Progress returns a snapshot for live progress output.
func (c *Controller) Progress() Progress {
	p := Progress{
		Stage:            c.scheduler.CurrentStage(),
		ActiveVUs:        c.scheduler.ActiveVUs(),
		PlannedVUs:       c.scheduler.PlannedVUs(),
		Iterations:       c.scheduler.Iterations(),
		FailedIterations: c.scheduler.FailedIterations(),
		PooledIDs:        c.ids.Len(),
	}
	if begin := c.begin.Load(); begin > 0 {
		p.Elapsed = time.Since(time.Unix(0, begin))
	}
	stats := c.collector.Stats(p.Elapsed)
	p.Requests = stats.Total
	p.FailedRequests = stats.Failures
	return p
}
