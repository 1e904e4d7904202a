// Package worker runs lane jobs through a handler and records the outcome.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/pricecompare-crawler/internal/crawler"
	"github.com/JakeFAU/pricecompare-crawler/internal/metrics"
)

// Handler processes one job. Returning crawler.ErrSkipped marks the job
// finished without doing work.
type Handler interface {
	Handle(ctx context.Context, job crawler.Job) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, job crawler.Job) error

// Handle calls f.
func (f HandlerFunc) Handle(ctx context.Context, job crawler.Job) error { return f(ctx, job) }

// Config controls Worker behavior.
type Config struct {
	// NotifyTopic receives a crawler.FailureNotice per failed job. Empty disables notices.
	NotifyTopic string
}

// Worker consumes one lane, one job at a time.
type Worker struct {
	lane      crawler.Lane
	handler   Handler
	publisher crawler.Publisher
	clock     crawler.Clock
	cfg       Config
	logger    *zap.Logger
}

// New constructs a Worker. publisher and clock may be nil.
func New(
	lane crawler.Lane,
	handler Handler,
	publisher crawler.Publisher,
	clock crawler.Clock,
	cfg Config,
	logger *zap.Logger,
) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		lane:      lane,
		handler:   handler,
		publisher: publisher,
		clock:     clock,
		cfg:       cfg,
		logger:    logger.With(zap.String("lane", string(lane.Name()))),
	}
}

// Run blocks, consuming jobs until the context finishes or the lane closes.
func (w *Worker) Run(ctx context.Context) {
	for {
		job, err := w.lane.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, crawler.ErrLaneClosed) {
				return
			}
			w.logger.Error("lane dequeue failed", zap.Error(err))
			if !sleep(ctx, time.Second) {
				return
			}
			continue
		}
		w.logger.Debug("dequeued job", zap.String("job_id", job.ID))
		w.processJob(ctx, job)
	}
}

func (w *Worker) processJob(ctx context.Context, job crawler.Job) {
	lane := string(job.Lane)
	logger := w.logger.With(zap.String("job_id", job.ID), zap.String("key", job.Key()))
	metrics.IncActiveWorkers(lane)
	defer metrics.DecActiveWorkers(lane)

	ctx, span := otel.Tracer("pricecrawler/worker").Start(ctx, "lane.job",
		trace.WithAttributes(
			attribute.String("lane", lane),
			attribute.String("job_id", job.ID),
		),
	)
	defer span.End()

	jobCtx := ctx
	if job.Timeout > 0 {
		var cancel context.CancelFunc
		jobCtx, cancel = context.WithTimeout(ctx, job.Timeout)
		defer cancel()
	}

	start := w.now()
	err := w.handler.Handle(jobCtx, job)
	if ctx.Err() != nil {
		// Shutdown mid-job: the started registry keeps it until the reaper fails it.
		logger.Warn("job interrupted by shutdown", zap.Error(err))
		metrics.ObserveJob(lane, "interrupted")
		return
	}

	switch {
	case err == nil, errors.Is(err, crawler.ErrSkipped):
		outcome := "finished"
		if err != nil {
			outcome = "skipped"
			logger.Info("job skipped", zap.String("reason", err.Error()))
		}
		if cerr := w.lane.Complete(ctx, job); cerr != nil {
			logger.Error("complete job failed", zap.Error(cerr))
			return
		}
		metrics.ObserveJob(lane, outcome)
		logger.Info("job finished", zap.String("outcome", outcome), zap.Duration("elapsed", w.now().Sub(start)))
	default:
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Error("job failed", zap.Error(err))
		if ferr := w.lane.Fail(ctx, job, err); ferr != nil {
			logger.Error("fail job failed", zap.Error(ferr))
			return
		}
		metrics.ObserveJob(lane, "failed")
		w.notify(ctx, job, err, logger)
	}
}

func (w *Worker) notify(ctx context.Context, job crawler.Job, cause error, logger *zap.Logger) {
	if w.publisher == nil || w.cfg.NotifyTopic == "" {
		return
	}
	notice := crawler.FailureNotice{
		JobID:    job.ID,
		Lane:     job.Lane,
		Key:      job.Key(),
		Error:    crawler.FailureReason(cause),
		FailedAt: w.now(),
	}
	if _, err := w.publisher.Publish(ctx, w.cfg.NotifyTopic, notice); err != nil {
		logger.Warn("publish failure notice failed", zap.Error(fmt.Errorf("topic %s: %w", w.cfg.NotifyTopic, err)))
	}
}

func (w *Worker) now() time.Time {
	if w.clock == nil {
		return time.Now().UTC()
	}
	return w.clock.Now()
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
