package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newLanesCmd() *cobra.Command {
	var failed int
	cmd := &cobra.Command{
		Use:   "lanes",
		Short: "Prints registry sizes per lane",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "LANE\tPENDING\tPROCESSING\tSTARTED\tFAILED")
			for _, lane := range a.Lanes() {
				stats, err := lane.Stats(cmd.Context())
				if err != nil {
					return fmt.Errorf("lane %s stats: %w", lane.Name(), err)
				}
				fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\n", stats.Lane, stats.Pending, stats.Processing, stats.Started, stats.Failed)
			}
			if err := tw.Flush(); err != nil {
				return fmt.Errorf("write lanes: %w", err)
			}
			if failed <= 0 {
				return nil
			}

			tw = tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "\nLANE\tJOB\tKEY\tERROR")
			for _, lane := range a.Lanes() {
				jobs, err := lane.Failed(cmd.Context(), failed)
				if err != nil {
					return fmt.Errorf("lane %s failed jobs: %w", lane.Name(), err)
				}
				for _, job := range jobs {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", job.Lane, job.ID, job.Key(), job.Error)
				}
			}
			if err := tw.Flush(); err != nil {
				return fmt.Errorf("write failed jobs: %w", err)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&failed, "failed", 0, "also list up to N failed jobs per lane")
	return cmd
}
