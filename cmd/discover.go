package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/pricecompare-crawler/internal/discovery"
)

// errEphemeralQueue rejects a standalone discovery run against in-process
// lanes. Nothing drains them, so the run blocks once a lane is full and loses
// every job on exit.
var errEphemeralQueue = errors.New("standalone discovery needs queue.provider=redis; use work --schedule for in-memory lanes")

func requireDurableQueue(a App) error {
	if !a.Config().Queue.Durable() {
		return errEphemeralQueue
	}
	return nil
}

func newDiscoverCmd() *cobra.Command {
	var keywords []string
	cmd := &cobra.Command{
		Use:   "discover",
		Short: "Runs one discovery cycle and enqueues fetch jobs",
		Long: `Walks the search results for every keyword from the keyword source (or
only the --keyword values given) and enqueues one fetch job per product URL.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			if err := requireDurableQueue(a); err != nil {
				return err
			}
			runner := a.DiscoveryRunner()

			var report discovery.CycleReport
			if len(keywords) > 0 {
				for _, kw := range keywords {
					report.Keywords = append(report.Keywords, runner.RunKeyword(cmd.Context(), kw))
				}
			} else {
				report, err = runner.RunCycle(cmd.Context())
				if err != nil {
					return fmt.Errorf("run discovery cycle: %w", err)
				}
			}

			out := cmd.OutOrStdout()
			for _, k := range report.Keywords {
				if k.Err != nil {
					a.Logger().Warn("keyword failed", zap.String("keyword", k.Keyword), zap.Error(k.Err))
					fmt.Fprintf(out, "%s\tdiscovered=%d\tenqueued=%d\terror=%v\n", k.Keyword, k.Discovered, k.Enqueued, k.Err)
					continue
				}
				fmt.Fprintf(out, "%s\tdiscovered=%d\tenqueued=%d\n", k.Keyword, k.Discovered, k.Enqueued)
			}
			fmt.Fprintf(out, "keywords=%d failed=%d enqueued=%d\n", len(report.Keywords), report.Failed(), report.Enqueued())
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&keywords, "keyword", nil, "discover only these keywords (repeatable)")
	return cmd
}
