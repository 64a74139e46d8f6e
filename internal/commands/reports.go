package commands

import (
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"moodcam/internal/report"
	"moodcam/internal/summary"
)

func newReportsCmd(opts *globalOptions) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "reports",
		Short: "List stored reports",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			store, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			entries, err := store.List(cmd.Context())
			if err != nil {
				return fmt.Errorf("list reports: %w", err)
			}
			if asJSON {
				if entries == nil {
					entries = []report.Entry{}
				}
				return printJSON(cmd, entries)
			}
			if len(entries) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no reports")
				return nil
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tSTARTED\tSAMPLES")
			for _, e := range entries {
				fmt.Fprintf(tw, "%s\t%s\t%d\n", e.ID, e.StartedAt.Local().Format(time.DateTime), e.SampleCount)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print entries as JSON")
	return cmd
}

func newSummaryCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "summary <report-id>",
		Short: "Print the summary of a stored report",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			store, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			rep, err := store.Load(cmd.Context(), args[0])
			if errors.Is(err, report.ErrNotFound) {
				return fmt.Errorf("report %q not found", args[0])
			}
			if err != nil {
				return err
			}
			return printJSON(cmd, summary.Summarize(rep))
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "moodcam %s\n", version)
		},
	}
}
