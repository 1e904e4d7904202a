// Package dispatcher fans lane work out to worker pools and reaps stalled jobs.
package dispatcher

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/pricecompare-crawler/internal/crawler"
	"github.com/JakeFAU/pricecompare-crawler/internal/metrics"
	"github.com/JakeFAU/pricecompare-crawler/internal/worker"
)

const defaultReapInterval = 30 * time.Second

// Pool binds a handler to a lane with a fixed number of workers.
type Pool struct {
	Lane    crawler.Lane
	Handler worker.Handler
	Workers int
}

// Config controls the dispatcher.
type Config struct {
	ReapInterval time.Duration
	NotifyTopic  string
}

// Dispatcher runs every pool and a reaper over their lanes.
type Dispatcher struct {
	pools     []Pool
	publisher crawler.Publisher
	clock     crawler.Clock
	cfg       Config
	logger    *zap.Logger
}

// New creates a Dispatcher. Pools with no workers run one.
func New(cfg Config, pools []Pool, publisher crawler.Publisher, clock crawler.Clock, logger *zap.Logger) *Dispatcher {
	if cfg.ReapInterval <= 0 {
		cfg.ReapInterval = defaultReapInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		pools:     pools,
		publisher: publisher,
		clock:     clock,
		cfg:       cfg,
		logger:    logger,
	}
}

// Run starts all workers and blocks until the context finishes.
func (d *Dispatcher) Run(ctx context.Context) {
	var wg sync.WaitGroup
	wcfg := worker.Config{NotifyTopic: d.cfg.NotifyTopic}
	for _, p := range d.pools {
		n := p.Workers
		if n <= 0 {
			n = 1
		}
		d.logger.Info("starting pool", zap.String("lane", string(p.Lane.Name())), zap.Int("workers", n))
		for range n {
			w := worker.New(p.Lane, p.Handler, d.publisher, d.clock, wcfg, d.logger)
			wg.Add(1)
			go func() {
				defer wg.Done()
				w.Run(ctx)
			}()
		}
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		d.reapLoop(ctx)
	}()

	<-ctx.Done()
	wg.Wait()
}

func (d *Dispatcher) reapLoop(ctx context.Context) {
	ticker := time.NewTicker(d.cfg.ReapInterval)
	defer ticker.Stop()
	d.Reap(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.Reap(ctx)
		}
	}
}

// Reap fails timed-out jobs on every lane and refreshes the depth gauges.
func (d *Dispatcher) Reap(ctx context.Context) {
	now := d.now()
	for _, p := range d.pools {
		name := string(p.Lane.Name())
		reaped, err := p.Lane.Reap(ctx, now)
		if err != nil {
			d.logger.Warn("reap lane failed", zap.String("lane", name), zap.Error(err))
		}
		if reaped > 0 {
			d.logger.Warn("reaped stalled jobs", zap.String("lane", name), zap.Int("count", reaped))
			for range reaped {
				metrics.ObserveJob(name, "timed_out")
			}
		}
		stats, err := p.Lane.Stats(ctx)
		if err != nil {
			d.logger.Warn("lane stats failed", zap.String("lane", name), zap.Error(err))
			continue
		}
		metrics.SetLaneDepth(name, stats.Pending, stats.Processing, stats.Started, stats.Failed)
	}
}

func (d *Dispatcher) now() time.Time {
	if d.clock == nil {
		return time.Now().UTC()
	}
	return d.clock.Now()
}
