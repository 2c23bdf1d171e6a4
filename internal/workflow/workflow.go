package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/torosent/crudfire/internal/metrics"
	"github.com/torosent/crudfire/internal/pool"
	"github.com/torosent/crudfire/internal/tracing"
)

// Step names, used as span names, log fields and collector tags.
const (
	StepCreate = "create"
	StepList   = "list"
	StepUpdate = "update"
	StepDelete = "delete"
)

// Metric names recorded by the executor.
const (
	MetricPostDuration   = "post_duration"
	MetricGetDuration    = "get_duration"
	MetricPutDuration    = "put_duration"
	MetricDeleteDuration = "delete_duration"
	MetricSuccessRate    = "success_rate"
	MetricErrors         = "errors"
)

// Response is what a Transport returns for one call. Truncated is set when
// Body holds only a prefix of what the server sent.
type Response struct {
	Status    int
	Body      []byte
	Duration  time.Duration
	Truncated bool
}

// Transport performs one HTTP call. A non-nil error means no usable response
// was received.
type Transport interface {
	Call(ctx context.Context, method, url string, body []byte, header http.Header) (Response, error)
}

// TransportFunc adapts a function to Transport.
type TransportFunc func(ctx context.Context, method, url string, body []byte, header http.Header) (Response, error)

func (f TransportFunc) Call(ctx context.Context, method, url string, body []byte, header http.Header) (Response, error) {
	return f(ctx, method, url, body, header)
}

// Config describes the resource under test.
type Config struct {
	BaseURL      string
	ResourcePath string
	NameField    string
	Headers      map[string]string

	CreateStatus int
	ListStatus   int
	UpdateStatus int
	DeleteStatus int
}

func (c *Config) normalize() {
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	if c.ResourcePath == "" {
		c.ResourcePath = "/usuarios"
	}
	if !strings.HasPrefix(c.ResourcePath, "/") {
		c.ResourcePath = "/" + c.ResourcePath
	}
	c.ResourcePath = strings.TrimRight(c.ResourcePath, "/")
	if c.NameField == "" {
		c.NameField = "nome"
	}
	if c.CreateStatus == 0 {
		c.CreateStatus = http.StatusCreated
	}
	if c.ListStatus == 0 {
		c.ListStatus = http.StatusOK
	}
	if c.UpdateStatus == 0 {
		c.UpdateStatus = http.StatusOK
	}
	if c.DeleteStatus == 0 {
		c.DeleteStatus = http.StatusNoContent
	}
}

// Option customizes an Executor.
type Option func(*Executor)

// WithTracer wraps every step in a client span. When propagate is true the
// W3C trace context is injected into request headers.
func WithTracer(tracer trace.Tracer, propagate bool) Option {
	return func(e *Executor) {
		if tracer != nil {
			e.tracer = tracer
		}
		e.propagate = propagate
	}
}

// WithLogger sets the logger used for failed checks.
func WithLogger(logger *zap.Logger) Option {
	return func(e *Executor) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithClock replaces the clock used for payload generation.
func WithClock(now func() time.Time) Option {
	return func(e *Executor) {
		if now != nil {
			e.now = now
		}
	}
}

// Executor runs workflow iterations. It is safe for concurrent use by many
// virtual users.
type Executor struct {
	cfg       Config
	transport Transport
	ids       *pool.IDPool
	registry  *metrics.Registry
	tracer    trace.Tracer
	propagate bool
	logger    *zap.Logger
	now       func() time.Time

	successRate *metrics.Rate
	errors      *metrics.Counter
	durations   map[string]*metrics.Trend
}

// New creates an Executor. The metrics it records are registered up front so
// thresholds can see them before the first iteration completes.
func New(cfg Config, transport Transport, ids *pool.IDPool, registry *metrics.Registry, opts ...Option) (*Executor, error) {
	if transport == nil {
		return nil, errors.New("workflow: transport is required")
	}
	if ids == nil {
		return nil, errors.New("workflow: id pool is required")
	}
	if registry == nil {
		return nil, errors.New("workflow: metrics registry is required")
	}
	cfg.normalize()

	e := &Executor{
		cfg:       cfg,
		transport: transport,
		ids:       ids,
		registry:  registry,
		tracer:    noop.NewTracerProvider().Tracer("crudfire"),
		logger:    zap.NewNop(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}

	if err := e.registerMetrics(); err != nil {
		return nil, fmt.Errorf("workflow: %w", err)
	}
	return e, nil
}

func (e *Executor) registerMetrics() error {
	var err error
	if e.successRate, err = e.registry.Rate(MetricSuccessRate); err != nil {
		return err
	}
	if e.errors, err = e.registry.Counter(MetricErrors); err != nil {
		return err
	}
	e.durations = make(map[string]*metrics.Trend, 4)
	for step, name := range map[string]string{
		StepCreate: MetricPostDuration,
		StepList:   MetricGetDuration,
		StepUpdate: MetricPutDuration,
		StepDelete: MetricDeleteDuration,
	} {
		trend, err := e.registry.Trend(name)
		if err != nil {
			return err
		}
		e.durations[step] = trend
	}
	return nil
}

// Iterate runs one workflow iteration for virtual user vu. The returned error
// lists failed checks and is meant for logging; outcomes are already recorded.
// If ctx is cancelled mid-call the interrupted step is not recorded and
// ctx.Err() is returned.
func (e *Executor) Iterate(ctx context.Context, vu int) error {
	id, err := e.create(ctx, vu)
	if err != nil {
		return err
	}

	var failed []error
	listCreated := func(ctx context.Context) error { return e.list(ctx, id) }
	for _, step := range []func(context.Context) error{listCreated, e.update, e.remove} {
		if err := step(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			failed = append(failed, err)
		}
	}
	return errors.Join(failed...)
}

func (e *Executor) collectionURL() string {
	return e.cfg.BaseURL + e.cfg.ResourcePath
}

func (e *Executor) itemURL(id pool.ID) string {
	return e.collectionURL() + "/" + string(id)
}

// call performs one request. interrupted is true when the iteration context
// was cancelled, in which case nothing must be recorded.
func (e *Executor) call(ctx context.Context, step, method, url string, payload any) (resp Response, interrupted bool, err error) {
	var body []byte
	if payload != nil {
		if body, err = json.Marshal(payload); err != nil {
			return Response{}, false, fmt.Errorf("encode %s payload: %w", step, err)
		}
	}

	ctx, span := tracing.StartStepSpan(ctx, e.tracer, step, method, url)
	header := make(http.Header, len(e.cfg.Headers)+1)
	for k, v := range e.cfg.Headers {
		header.Set(k, v)
	}
	if body != nil {
		header.Set("Content-Type", "application/json")
	}
	if e.propagate {
		tracing.InjectHTTPHeaders(ctx, header)
	}

	start := time.Now()
	resp, err = e.transport.Call(ctx, method, url, body, header)
	if resp.Duration <= 0 {
		resp.Duration = time.Since(start)
	}
	if err != nil {
		tracing.EndSpan(span, err)
		return resp, ctx.Err() != nil, err
	}
	if ctx.Err() != nil {
		tracing.EndSpan(span, ctx.Err(), tracing.HTTPStatus(resp.Status))
		return resp, true, ctx.Err()
	}
	tracing.EndSpan(span, nil, tracing.HTTPStatus(resp.Status))
	return resp, false, nil
}

// record stores the outcome of one step. A nil failure counts as success.
func (e *Executor) record(step string, resp Response, responded bool, failure *StepError) {
	meta := &metrics.RequestMetadata{Step: step}
	var reqErr error
	if failure != nil {
		reqErr = failure
		if failure.Status == 0 && failure.Err != nil {
			reqErr = failure.Err
		}
		meta.StatusCode = failure.statusLabel()
	}
	if c := e.registry.Collector(); c != nil {
		c.RecordRequest(resp.Duration, reqErr, meta)
	}

	if responded {
		e.durations[step].Add(resp.Duration)
	}
	e.successRate.Add(failure == nil)
	if failure != nil {
		e.errors.Add(1)
		e.logger.Debug("check failed",
			zap.String("step", step),
			zap.Int("status", failure.Status),
			zap.String("reason", failure.Reason),
			zap.Error(failure.Err),
		)
	}
}

// attempt runs call and records a transport failure. ok is false when the
// step has nothing left to check.
func (e *Executor) attempt(ctx context.Context, step, method, url string, payload any) (resp Response, ok bool, err error) {
	resp, interrupted, err := e.call(ctx, step, method, url, payload)
	if interrupted {
		return resp, false, ctx.Err()
	}
	if err != nil {
		failure := &StepError{Step: step, Reason: "request failed", Err: err}
		e.record(step, resp, false, failure)
		return resp, false, failure
	}
	return resp, true, nil
}
