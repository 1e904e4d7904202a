// Package review reconciles stored reviews against the totals the site
// reports and fetches only the pages needed to close the gap.
package review

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/pricecompare-crawler/internal/crawler"
	"github.com/JakeFAU/pricecompare-crawler/internal/metrics"
)

// State is where a source's sync ended up (or currently is).
type State string

// Sync states. Satisfied, Exhausted and PageBudgetMet are terminal.
const (
	StateUnstarted     State = "unstarted"
	StateCounting      State = "counting"
	StateSatisfied     State = "satisfied"
	StatePaging        State = "paging"
	StateExhausted     State = "exhausted"
	StatePageBudgetMet State = "page_budget_met"
)

// SourceResult reports the sync of one review source.
type SourceResult struct {
	Source       crawler.ReviewSource
	State        State
	Remote       int
	Local        int64
	PagesNeeded  int
	PagesFetched int
	Inserted     int
	Duplicates   int
	Replies      int
}

// Result reports both sources of one sync call.
type Result struct {
	FKey   string
	Native SourceResult
	Mall   SourceResult
}

// Deps are the collaborators an Engine needs.
type Deps struct {
	Fetcher   crawler.Fetcher
	Extractor crawler.Extractor
	Store     crawler.ReviewStore
	Pauser    crawler.Pauser
	Clock     crawler.Clock
	Hasher    crawler.Hasher
}

// Config controls endpoints and pacing.
type Config struct {
	Site  crawler.Site
	Delay crawler.Delay
}

// Engine handles review-lane jobs.
type Engine struct {
	deps   Deps
	cfg    Config
	logger *zap.Logger
}

// New builds an Engine.
func New(cfg Config, deps Deps, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.Pauser == nil {
		deps.Pauser = crawler.TimerPauser{}
	}
	return &Engine{deps: deps, cfg: cfg, logger: logger}
}

// Handle runs a review-lane job.
func (e *Engine) Handle(ctx context.Context, job crawler.Job) error {
	if job.Review == nil {
		return fmt.Errorf("job %s has no review task", job.ID)
	}
	_, err := e.Sync(ctx, job.Review.Session, job.Review.FKey)
	return err
}

// run carries the per-call pacing state: every request after the first
// waits out the politeness delay.
type run struct {
	engine  *Engine
	session crawler.Session
	fkey    string
	sent    int
	logger  *zap.Logger
}

func (r *run) fetch(ctx context.Context, build func(crawler.Session, int, time.Time) crawler.FetchRequest, page int) ([]byte, error) {
	if r.sent > 0 {
		if err := r.engine.deps.Pauser.Pause(ctx, r.engine.cfg.Delay.Next()); err != nil {
			return nil, fmt.Errorf("pause before review page %d: %w", page, err)
		}
	}
	r.sent++
	resp, err := r.engine.deps.Fetcher.Fetch(ctx, build(r.session, page, r.engine.now()))
	if err != nil {
		return nil, fmt.Errorf("fetch review page %d: %w", page, err)
	}
	return resp.Body, nil
}

// Sync brings the stored native and mall reviews for fkey up to the remote
// totals. The first native page supplies both totals and is reused as native
// page 1.
func (e *Engine) Sync(ctx context.Context, session crawler.Session, fkey string) (Result, error) {
	r := &run{engine: e, session: session, fkey: fkey, logger: e.logger.With(zap.String("fkey", fkey))}
	result := Result{
		FKey:   fkey,
		Native: SourceResult{Source: crawler.SourceNative, State: StateUnstarted},
		Mall:   SourceResult{Source: crawler.SourceMall, State: StateUnstarted},
	}

	result.Native.State = StateCounting
	result.Mall.State = StateCounting
	body, err := r.fetch(ctx, e.cfg.Site.NativeReviewRequest, 1)
	if err != nil {
		return result, err
	}
	totals, err := e.deps.Extractor.ReviewTotals(body)
	if err != nil {
		return result, fmt.Errorf("extract review totals: %w", err)
	}
	firstPage, err := e.deps.Extractor.NativeReviews(body)
	if err != nil {
		return result, fmt.Errorf("extract review page 1: %w", err)
	}

	native := source{
		kind:    crawler.SourceNative,
		request: e.cfg.Site.NativeReviewRequest,
		parse:   e.deps.Extractor.NativeReviews,
		first:   &firstPage,
	}
	if result.Native, err = r.sync(ctx, native, totals.Native); err != nil {
		return result, err
	}

	mall := source{
		kind:    crawler.SourceMall,
		request: e.cfg.Site.MallReviewRequest,
		parse:   e.deps.Extractor.MallReviews,
	}
	if result.Mall, err = r.sync(ctx, mall, totals.Mall); err != nil {
		return result, err
	}
	return result, nil
}

type source struct {
	kind    crawler.ReviewSource
	request func(crawler.Session, int, time.Time) crawler.FetchRequest
	parse   func([]byte) (crawler.ReviewPage, error)
	first   *crawler.ReviewPage
}

// exhausted reports whether a page carries the source's stop signal.
func (s source) exhausted(page crawler.ReviewPage) bool {
	if page.NoContent {
		return true
	}
	return s.kind == crawler.SourceMall && (!page.ListingPresent || len(page.Reviews) == 0)
}

func (r *run) sync(ctx context.Context, src source, remote *int) (SourceResult, error) {
	res := SourceResult{Source: src.kind, State: StateCounting}
	logger := r.logger.With(zap.String("source", string(src.kind)))

	if remote == nil || *remote <= 0 {
		res.State = StateSatisfied
		metrics.ObserveReviewSync(string(src.kind), string(res.State))
		logger.Debug("no remote review total, skipping source")
		return res, nil
	}
	res.Remote = *remote

	local, err := r.engine.deps.Store.CountReviews(ctx, r.fkey, src.kind)
	if err != nil {
		return res, fmt.Errorf("count %s reviews: %w", src.kind, err)
	}
	res.Local = local
	if local >= int64(res.Remote) {
		res.State = StateSatisfied
		metrics.ObserveReviewSync(string(src.kind), string(res.State))
		logger.Debug("reviews already in sync", zap.Int("remote", res.Remote), zap.Int64("local", local))
		return res, nil
	}

	gap := res.Remote - int(local)
	res.PagesNeeded = crawler.PageCount(gap, r.engine.cfg.Site.ReviewPageSize)
	res.State = StatePaging
	logger.Info("syncing reviews",
		zap.Int("remote", res.Remote),
		zap.Int64("local", local),
		zap.Int("gap", gap),
		zap.Int("pages_needed", res.PagesNeeded),
	)

	res.State = StatePageBudgetMet
	for pageNo := 1; pageNo <= res.PagesNeeded; pageNo++ {
		var page crawler.ReviewPage
		if pageNo == 1 && src.first != nil {
			page = *src.first
		} else {
			body, err := r.fetch(ctx, src.request, pageNo)
			if err != nil {
				return res, err
			}
			res.PagesFetched++
			if page, err = src.parse(body); err != nil {
				return res, fmt.Errorf("extract %s review page %d: %w", src.kind, pageNo, err)
			}
		}
		if src.exhausted(page) {
			res.State = StateExhausted
			logger.Info("review listing exhausted", zap.Int("page", pageNo))
			break
		}
		if err := r.persist(ctx, page, &res); err != nil {
			return res, err
		}
	}

	metrics.ObserveReviews(string(src.kind), "inserted", res.Inserted)
	metrics.ObserveReviews(string(src.kind), "duplicate", res.Duplicates)
	metrics.ObserveReviewSync(string(src.kind), string(res.State))
	logger.Info("review sync finished",
		zap.String("state", string(res.State)),
		zap.Int("inserted", res.Inserted),
		zap.Int("duplicates", res.Duplicates),
	)
	return res, nil
}

// persist inserts the page's top-level reviews that are not stored yet.
func (r *run) persist(ctx context.Context, page crawler.ReviewPage, res *SourceResult) error {
	store := r.engine.deps.Store
	crawledAt := r.engine.now().Unix()
	for _, extracted := range page.Reviews {
		if extracted.IsReply {
			res.Replies++
			continue
		}
		review := extracted.Review
		review.FKey = r.fkey
		review.Source = res.Source
		review.CrawledAt = crawledAt
		id, err := crawler.ReviewID(r.engine.deps.Hasher, review)
		if err != nil {
			return err
		}
		review.ID = id

		exists, err := store.ReviewExists(ctx, id)
		if err != nil {
			return fmt.Errorf("look up review %s: %w", id, err)
		}
		if exists {
			res.Duplicates++
			continue
		}
		if err := store.InsertReview(ctx, review); err != nil {
			if errors.Is(err, crawler.ErrDuplicate) {
				res.Duplicates++
				continue
			}
			return fmt.Errorf("store review %s: %w", id, err)
		}
		res.Inserted++
	}
	return nil
}

func (e *Engine) now() time.Time {
	if e.deps.Clock == nil {
		return time.Now()
	}
	return e.deps.Clock.Now()
}
