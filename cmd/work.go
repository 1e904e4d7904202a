package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func newWorkCmd() *cobra.Command {
	var withSchedule bool
	cmd := &cobra.Command{
		Use:   "work",
		Short: "Runs the fetch and review worker pools plus the ops server",
		Long: `Consumes the fetch and review lanes until interrupted. The ops server
exposes health, metrics and failed-job endpoints. With --schedule the process
also runs discovery cycles on the configured schedule.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			return runWork(cmd.Context(), a, withSchedule)
		},
	}
	cmd.Flags().BoolVar(&withSchedule, "schedule", false, "also run scheduled discovery cycles")
	return cmd
}

func runWork(ctx context.Context, a App, withSchedule bool) error {
	logger := a.Logger()
	g, ctx := errgroup.WithContext(ctx)

	srv := a.OpsServer()
	g.Go(func() error {
		logger.Info("ops server started", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("ops server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("ops server shutdown error", zap.Error(err))
		}
		return nil
	})

	dispatch := a.Dispatcher()
	g.Go(func() error {
		logger.Info("dispatcher started")
		dispatch.Run(ctx)
		return nil
	})

	if withSchedule {
		sched := a.Scheduler()
		g.Go(func() error { return sched.Run(ctx) })
	}

	err := g.Wait()
	logger.Info("shutdown complete")
	return err
}
