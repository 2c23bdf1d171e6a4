package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/torosent/crudfire/internal/config"
	"github.com/torosent/crudfire/internal/loadtest"
	"github.com/torosent/crudfire/internal/logging"
	"github.com/torosent/crudfire/internal/output"
	"github.com/torosent/crudfire/internal/tracing"
)

// Process exit codes.
const (
	exitPass             = 0
	exitFatal            = 1
	exitThresholdsFailed = 99
)

const (
	progressInterval = time.Second
	shutdownTimeout  = 5 * time.Second
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	cancel()
	os.Exit(code)
}

// run executes the CLI and returns the process exit code.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	code := exitPass
	root := newRootCommand(stdout, stderr, &code)
	root.SetArgs(args)
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitFatal
	}
	return code
}

func newRootCommand(stdout, stderr io.Writer, code *int) *cobra.Command {
	root := &cobra.Command{
		Use:           "crudfire",
		Short:         "Staged CRUD load testing for HTTP APIs",
		Args:          cobra.NoArgs,
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			passed, err := runLoadTest(cmd.Context(), cmd, stdout, stderr)
			if err != nil {
				return err
			}
			if !passed {
				*code = exitThresholdsFailed
			}
			return nil
		},
	}
	root.SetOut(stdout)
	root.SetErr(stderr)
	config.RegisterFlags(root)
	root.AddCommand(newHistoryCommand(stdout))
	return root
}

func runLoadTest(ctx context.Context, cmd *cobra.Command, stdout, stderr io.Writer) (bool, error) {
	cfg, err := config.NewLoader().LoadFlags(cmd.Flags())
	if err != nil {
		return false, err
	}
	if err := cfg.Validate(); err != nil {
		return false, err
	}

	var logger *zap.Logger
	if cfg.Log.File != "" {
		logger, err = logging.New(cfg.Log)
	} else {
		logger, err = logging.NewWithWriter(cfg.Log, stderr)
	}
	if err != nil {
		return false, err
	}
	defer func() { _ = logger.Sync() }()
	for _, w := range cfg.Warnings() {
		logger.Warn(w)
	}

	tp, err := tracing.Init(ctx, cfg.Tracing)
	if err != nil {
		return false, err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := tp.Shutdown(shutdownCtx); err != nil {
			logger.Warn("tracing shutdown failed", zap.Error(err))
		}
	}()

	ctrl, err := loadtest.New(cfg, loadtest.WithLogger(logger), loadtest.WithTracing(tp))
	if err != nil {
		return false, err
	}

	var progress *output.ProgressReporter
	if cfg.Progress && !cfg.JSONOutput {
		progress = output.NewProgressReporter(ctrl.Progress, len(cfg.Stages), progressInterval, stderr)
		progress.Start()
	}
	report, err := ctrl.Run(ctx)
	if progress != nil {
		progress.Stop()
	}
	if err != nil {
		return false, err
	}

	if cfg.JSONOutput {
		if err := output.PrintJSONReport(stdout, report); err != nil {
			return false, err
		}
	} else {
		output.PrintReport(stdout, report)
	}

	var exportErrs []error
	if cfg.ReportFile != "" {
		if err := output.WriteReportFile(cfg.ReportFile, report); err != nil {
			exportErrs = append(exportErrs, err)
		} else {
			logger.Info("report written", zap.String("path", cfg.ReportFile))
		}
	}
	if cfg.HistoryFile != "" {
		if err := output.AppendHistory(cfg.HistoryFile, report); err != nil {
			exportErrs = append(exportErrs, err)
		}
	}
	if err := errors.Join(exportErrs...); err != nil {
		return false, err
	}
	return report.Passed(), nil
}
