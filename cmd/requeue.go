package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newRequeueCmd() *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "requeue <lane> [job_id...]",
		Short: "Moves failed jobs back to pending",
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return fmt.Errorf("lane name required")
			}
			if !all && len(args) < 2 {
				return fmt.Errorf("give at least one job id or --all")
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			lane, err := a.Lane(args[0])
			if err != nil {
				return err
			}
			ids := args[1:]
			if all {
				jobs, err := lane.Failed(cmd.Context(), 0)
				if err != nil {
					return fmt.Errorf("list failed jobs: %w", err)
				}
				ids = make([]string, 0, len(jobs))
				for _, job := range jobs {
					ids = append(ids, job.ID)
				}
			}
			for _, id := range ids {
				job, err := lane.Requeue(cmd.Context(), id)
				if err != nil {
					return fmt.Errorf("requeue %s: %w", id, err)
				}
				a.Logger().Info("job requeued", zap.String("lane", string(job.Lane)), zap.String("job_id", job.ID))
				fmt.Fprintf(cmd.OutOrStdout(), "requeued %s\n", job.ID)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "requeue every failed job on the lane")
	return cmd
}
