package runner_test

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/torosent/crudfire/internal/runner"
)

type recordingLogger struct {
	vus  []int
	errs []error
}

func (r *recordingLogger) LogFailure(vu int, err error) {
	r.vus = append(r.vus, vu)
	r.errs = append(r.errs, err)
}

func TestWithLogging(t *testing.T) {
	boom := errors.New("boom")
	logger := &recordingLogger{}
	iter := runner.WithLogging(func(_ context.Context, vu int) error {
		if vu == 2 {
			return boom
		}
		return nil
	}, logger)

	_ = iter(context.Background(), 1)
	if err := iter(context.Background(), 2); !errors.Is(err, boom) {
		t.Fatalf("error not passed through: %v", err)
	}
	if len(logger.errs) != 1 || logger.vus[0] != 2 {
		t.Fatalf("logged %v for VUs %v", logger.errs, logger.vus)
	}
}

func TestWithLoggingSkipsCancelledIterations(t *testing.T) {
	logger := &recordingLogger{}
	iter := runner.WithLogging(func(ctx context.Context, _ int) error { return ctx.Err() }, logger)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_ = iter(ctx, 1)
	if len(logger.errs) != 0 {
		t.Fatalf("cancelled iteration should not be logged, got %v", logger.errs)
	}
}

func TestWithLoggingNilLogger(t *testing.T) {
	called := false
	iter := runner.WithLogging(func(context.Context, int) error { called = true; return nil }, nil)
	_ = iter(context.Background(), 1)
	if !called {
		t.Fatal("inner iteration not called")
	}
}

func TestZapFailureLogger(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	runner.NewZapFailureLogger(zap.New(core)).LogFailure(4, errors.New("list: created id 9 not listed"))

	entries := logs.FilterMessage("iteration failed").All()
	if len(entries) != 1 {
		t.Fatalf("got %d log entries, want 1", len(entries))
	}
	if vu := entries[0].ContextMap()["vu"]; vu != int64(4) {
		t.Fatalf("vu field = %v", vu)
	}
}
