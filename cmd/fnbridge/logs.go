package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/oriys/fnbridge/internal/logging"
	"github.com/oriys/fnbridge/internal/logs"
)

func logsCmd() *cobra.Command {
	var (
		follow     bool
		limit      int64
		since      time.Duration
		requestID  string
		failedOnly bool
	)

	cmd := &cobra.Command{
		Use:   "logs <function>",
		Short: "Show invocation records stored in Redis",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			store, err := logs.Dial(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
			if err != nil {
				return err
			}
			defer store.Close()

			out := cmd.OutOrStdout()
			if follow {
				return tailLogs(ctx, out, store.Tail(ctx, args[0]))
			}

			opts := logs.QueryOptions{
				Function:   args[0],
				Limit:      limit,
				RequestID:  requestID,
				FailedOnly: failedOnly,
			}
			if since > 0 {
				opts.Since = time.Now().Add(-since)
			}
			entries, err := store.Query(ctx, opts)
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				fmt.Fprintln(out, "No invocation records")
				return nil
			}
			printLogs(out, entries)
			return nil
		},
	}

	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Stream new records")
	cmd.Flags().Int64VarP(&limit, "limit", "n", 100, "Maximum records to show")
	cmd.Flags().DurationVar(&since, "since", 0, "Only records newer than this (e.g., 15m)")
	cmd.Flags().StringVar(&requestID, "request-id", "", "Only the record of this request")
	cmd.Flags().BoolVar(&failedOnly, "failed", false, "Only failed calls")

	return cmd
}

func printLogs(out io.Writer, entries []logging.InvocationLog) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tREQUEST\tKIND\tDURATION\tSTATUS\tERROR")
	for _, e := range entries {
		fmt.Fprintln(w, logLine(e))
	}
	w.Flush()
}

func tailLogs(ctx context.Context, out io.Writer, ch <-chan logging.InvocationLog) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case e, ok := <-ch:
			if !ok {
				return nil
			}
			fmt.Fprintln(out, logLine(e))
		}
	}
}

func logLine(e logging.InvocationLog) string {
	state := "ok"
	if !e.Success {
		state = "failed"
		if e.ErrorKind != "" {
			state = e.ErrorKind
		}
	}
	return fmt.Sprintf("%s\t%s\t%s\t%dms\t%s\t%s",
		e.Timestamp.Format("2006-01-02 15:04:05.000"),
		e.RequestID,
		e.Kind,
		e.DurationMs,
		state,
		e.Error,
	)
}
