package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"goa.design/clue/log"

	"moodcam/internal/session"
	"moodcam/internal/summary"
)

func newRecordCmd(opts *globalOptions) *cobra.Command {
	var duration, interval float64
	cmd := &cobra.Command{
		Use:   "record",
		Short: "Record one session in the foreground and print its summary",
		Long: `Record samples the camera every --interval seconds for --duration seconds
(0 records until interrupted), saves the report to the configured store and
prints its summary. Ctrl-C stops the session early; the report is still saved.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			sc, err := session.ConfigFromSeconds(duration, interval)
			if err != nil {
				return err
			}
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			ctx := opts.logContext(cmd.Context())

			store, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			mgr := session.NewManager(ctx, store, newSamplerFor(ctx, cfg), 1)
			done := make(chan session.View, 1)
			mgr.OnUpdate(func(v session.View) {
				if v.Terminal() {
					select {
					case done <- v:
					default:
					}
				}
			})

			id, err := mgr.Start(sc)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "recording session %s\n", id)

			sigCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			var final session.View
			select {
			case final = <-done:
			case <-sigCtx.Done():
				log.Info(ctx, log.KV{K: "msg", V: "interrupted"}, log.KV{K: "session", V: id})
				if err := mgr.Stop(id); err != nil {
					return err
				}
				final = <-done
			}
			if final.Status == session.StatusFailed {
				return fmt.Errorf("%w: %s", session.ErrSessionFailed, final.Error)
			}

			res, err := mgr.Report(context.WithoutCancel(ctx), id)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "report saved to %s\n", final.ReportLocation)
			return printJSON(cmd, summary.Summarize(res.Report))
		},
	}
	cmd.Flags().Float64Var(&duration, "duration", 0, "seconds to record, 0 = until interrupted")
	cmd.Flags().Float64Var(&interval, "interval", 1, "seconds between samples")
	return cmd
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
