package cmd

import (
	"github.com/spf13/cobra"
)

func newScheduleCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "schedule",
		Short: "Runs discovery cycles on the configured cron schedule",
		Long: `Runs one discovery cycle immediately and then one per tick of
discovery.schedule. A tick that lands while a cycle is still running is skipped.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			if err := requireDurableQueue(a); err != nil {
				return err
			}
			return a.Scheduler().Run(cmd.Context())
		},
	}
}
