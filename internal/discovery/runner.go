package discovery

import (
	"context"
	"fmt"
	"iter"
	"runtime"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/pricecompare-crawler/internal/crawler"
)

// Discoverer yields item references for one keyword.
type Discoverer interface {
	Discover(ctx context.Context, keyword string) iter.Seq2[crawler.ItemReference, error]
}

// RunnerConfig controls a discovery cycle.
type RunnerConfig struct {
	Parallelism int
	Jobs        crawler.JobOptions
}

// KeywordReport summarizes one keyword's discovery.
type KeywordReport struct {
	Keyword    string
	Discovered int
	Enqueued   int
	Err        error
}

// CycleReport summarizes a full pass over the keyword source.
type CycleReport struct {
	StartedAt  time.Time
	FinishedAt time.Time
	Keywords   []KeywordReport
}

// Failed counts keywords whose discovery ended with an error.
func (r CycleReport) Failed() int {
	n := 0
	for _, k := range r.Keywords {
		if k.Err != nil {
			n++
		}
	}
	return n
}

// Enqueued totals the fetch jobs enqueued across keywords.
func (r CycleReport) Enqueued() int {
	n := 0
	for _, k := range r.Keywords {
		n += k.Enqueued
	}
	return n
}

// Runner fans keywords out over a bounded pool and enqueues fetch jobs.
type Runner struct {
	discoverer Discoverer
	keywords   crawler.KeywordSource
	lane       crawler.Enqueuer
	clock      crawler.Clock
	cfg        RunnerConfig
	logger     *zap.Logger
}

// NewRunner wires a Runner. Parallelism defaults to the number of CPUs.
func NewRunner(
	discoverer Discoverer,
	keywords crawler.KeywordSource,
	lane crawler.Enqueuer,
	clock crawler.Clock,
	cfg RunnerConfig,
	logger *zap.Logger,
) *Runner {
	if cfg.Parallelism <= 0 {
		cfg.Parallelism = runtime.NumCPU()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		discoverer: discoverer,
		keywords:   keywords,
		lane:       lane,
		clock:      clock,
		cfg:        cfg,
		logger:     logger,
	}
}

func (r *Runner) now() time.Time {
	if r.clock == nil {
		return time.Now().UTC()
	}
	return r.clock.Now()
}

// RunCycle discovers every keyword once. A keyword that fails is reported and
// does not stop the others; only context cancellation aborts the cycle.
func (r *Runner) RunCycle(ctx context.Context) (CycleReport, error) {
	report := CycleReport{StartedAt: r.now()}
	keywords, err := r.keywords.Keywords(ctx)
	if err != nil {
		return report, fmt.Errorf("load keywords: %w", err)
	}
	r.logger.Info("discovery cycle started",
		zap.Int("keywords", len(keywords)),
		zap.Int("parallelism", r.cfg.Parallelism),
	)

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.Parallelism)
	for _, keyword := range keywords {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			kr := r.RunKeyword(gctx, keyword)
			mu.Lock()
			report.Keywords = append(report.Keywords, kr)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	report.FinishedAt = r.now()

	r.logger.Info("discovery cycle finished",
		zap.Int("keywords", len(report.Keywords)),
		zap.Int("failed", report.Failed()),
		zap.Int("enqueued", report.Enqueued()),
		zap.Duration("elapsed", report.FinishedAt.Sub(report.StartedAt)),
	)
	if err := ctx.Err(); err != nil {
		return report, fmt.Errorf("discovery cycle canceled: %w", err)
	}
	return report, nil
}

// RunKeyword discovers one keyword and enqueues a fetch job per reference.
func (r *Runner) RunKeyword(ctx context.Context, keyword string) KeywordReport {
	logger := r.logger.With(zap.String("keyword", keyword))
	report := KeywordReport{Keyword: keyword}
	for ref, err := range r.discoverer.Discover(ctx, keyword) {
		if err != nil {
			report.Err = err
			logger.Error("keyword discovery failed", zap.Error(err))
			break
		}
		report.Discovered++
		job := crawler.NewFetchJob(crawler.FetchTask{URL: ref.URL, Keyword: keyword}, r.cfg.Jobs)
		stored, err := r.lane.Enqueue(ctx, job)
		if err != nil {
			report.Err = fmt.Errorf("enqueue %s: %w", ref.URL, err)
			logger.Error("enqueue fetch job failed", zap.String("url", ref.URL), zap.Error(err))
			break
		}
		report.Enqueued++
		logger.Debug("fetch job enqueued",
			zap.String("job_id", stored.ID),
			zap.String("item", ref.Name),
			zap.String("url", ref.URL),
		)
	}
	return report
}
