package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/torosent/crudfire/internal/output"
)

func newHistoryCommand(stdout io.Writer) *cobra.Command {
	var (
		file string
		last int
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show previous runs recorded with --history-file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if file == "" {
				return errors.New("--file is required")
			}
			entries, err := output.ReadHistory(file)
			if err != nil {
				return err
			}
			if last > 0 && len(entries) > last {
				entries = entries[len(entries)-last:]
			}
			if len(entries) == 0 {
				fmt.Fprintln(stdout, "No runs recorded.")
				return nil
			}
			for _, e := range entries {
				verdict := "PASS"
				if !e.Pass {
					verdict = "FAIL"
				}
				fmt.Fprintf(stdout, "%s  %s  %s  iterations=%d requests=%d failures=%d p95=%.2fms vus=%d\n",
					e.StartedAt.Format("2006-01-02 15:04:05"), e.RunID, verdict,
					e.Iterations, e.Requests, e.Failures, e.P95Ms, e.VUsMax)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "History file written by --history-file")
	cmd.Flags().IntVar(&last, "last", 10, "Show only the most recent N runs (0 shows all)")
	return cmd
}
