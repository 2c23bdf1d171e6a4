package runner

import (
	"context"

	"go.uber.org/zap"
)

// FailureLogger logs failed iterations.
type FailureLogger interface {
	LogFailure(vu int, err error)
}

// WithLogging wraps an IterationFunc to log failures.
func WithLogging(iter IterationFunc, logger FailureLogger) IterationFunc {
	if logger == nil || iter == nil {
		return iter
	}
	return func(ctx context.Context, vu int) error {
		err := iter(ctx, vu)
		if err != nil && ctx.Err() == nil {
			logger.LogFailure(vu, err)
		}
		return err
	}
}

type zapFailureLogger struct {
	logger *zap.Logger
}

// NewZapFailureLogger reports failed iterations at debug level.
func NewZapFailureLogger(logger *zap.Logger) FailureLogger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return zapFailureLogger{logger: logger}
}

func (z zapFailureLogger) LogFailure(vu int, err error) {
	z.logger.Debug("iteration failed", zap.Int("vu", vu), zap.Error(err))
}
