// Package product crawls product detail pages into product documents and
// hands each product on to the review lane.
package product

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/pricecompare-crawler/internal/crawler"
	"github.com/JakeFAU/pricecompare-crawler/internal/metrics"
)

// Deps are the collaborators a Crawler needs. Archive is optional.
type Deps struct {
	Fetcher   crawler.Fetcher
	Extractor crawler.Extractor
	Store     crawler.ProductStore
	Reviews   crawler.Enqueuer
	Pauser    crawler.Pauser
	Clock     crawler.Clock
	Hasher    crawler.Hasher
	Archive   crawler.BlobStore
}

// Config controls pacing and the jobs the crawler enqueues.
type Config struct {
	Site       crawler.Site
	Delay      crawler.Delay
	ReviewJobs crawler.JobOptions
}

// Crawler handles fetch-lane jobs.
type Crawler struct {
	deps   Deps
	cfg    Config
	logger *zap.Logger
}

// New builds a Crawler.
func New(cfg Config, deps Deps, logger *zap.Logger) *Crawler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.Pauser == nil {
		deps.Pauser = crawler.TimerPauser{}
	}
	return &Crawler{deps: deps, cfg: cfg, logger: logger}
}

// Handle runs a fetch-lane job.
func (c *Crawler) Handle(ctx context.Context, job crawler.Job) error {
	if job.Fetch == nil {
		return fmt.Errorf("job %s has no fetch task", job.ID)
	}
	_, err := c.Crawl(ctx, job.Fetch.URL, job.Fetch.Keyword)
	return err
}

// Crawl fetches one detail page, upserts the product, and enqueues its review
// sync. It returns crawler.ErrSkipped for fragment links and bridge redirects.
func (c *Crawler) Crawl(ctx context.Context, rawURL, keyword string) (crawler.Product, error) {
	logger := c.logger.With(zap.String("url", rawURL), zap.String("keyword", keyword))
	if strings.HasPrefix(rawURL, "#") {
		metrics.ObserveProduct("skipped")
		return crawler.Product{}, fmt.Errorf("fragment link %q: %w", rawURL, crawler.ErrSkipped)
	}

	if err := c.deps.Pauser.Pause(ctx, c.cfg.Delay.Next()); err != nil {
		return crawler.Product{}, fmt.Errorf("pause before detail fetch: %w", err)
	}
	resp, err := c.deps.Fetcher.Fetch(ctx, c.cfg.Site.DetailRequest(rawURL))
	if err != nil {
		return crawler.Product{}, fmt.Errorf("fetch detail page: %w", err)
	}
	finalURL := resp.FinalURL
	if finalURL == "" {
		finalURL = rawURL
	}
	if c.cfg.Site.IsBridge(finalURL) {
		logger.Info("detail page redirects off-site, skipping", zap.String("final_url", finalURL))
		metrics.ObserveProduct("skipped")
		return crawler.Product{}, fmt.Errorf("bridge redirect to %s: %w", finalURL, crawler.ErrSkipped)
	}

	page, err := c.deps.Extractor.ProductPage(resp.Body)
	if err != nil {
		return crawler.Product{}, fmt.Errorf("extract detail page: %w", err)
	}
	if !page.State.ScriptsFound {
		metrics.ObserveProduct("failed")
		return crawler.Product{}, fmt.Errorf("detail page %s: %w", finalURL, crawler.ErrPageStateMissing)
	}

	session := NewSession(finalURL, page.State)
	identity := Identity(session)
	if !identity.Valid() {
		metrics.ObserveProduct("failed")
		return crawler.Product{}, fmt.Errorf("detail page %s: %w", finalURL, crawler.ErrMissingIdentity)
	}
	fkey := identity.FKey()

	product := c.buildProduct(page, fkey, keyword)
	if err := c.deps.Store.UpsertProduct(ctx, product); err != nil {
		metrics.ObserveProduct("failed")
		return crawler.Product{}, fmt.Errorf("store product %s: %w", product.UID, err)
	}
	metrics.ObserveProduct("upserted")
	logger.Info("product stored",
		zap.String("product_uid", product.UID),
		zap.String("fkey", fkey),
		zap.Int("offers", len(product.Offers)),
	)

	c.archive(ctx, fkey, resp.Body, logger)

	reviewJob := crawler.NewReviewJob(crawler.ReviewTask{Session: session, FKey: fkey}, c.cfg.ReviewJobs)
	stored, err := c.deps.Reviews.Enqueue(ctx, reviewJob)
	if err != nil {
		return product, fmt.Errorf("enqueue review sync for %s: %w", fkey, err)
	}
	logger.Debug("review sync enqueued", zap.String("job_id", stored.ID), zap.String("fkey", fkey))
	return product, nil
}

func (c *Crawler) buildProduct(page crawler.ProductPage, fkey, keyword string) crawler.Product {
	category := ResolveCategory(page.State)
	offers := page.Offers
	if !page.OffersPresent || len(offers) == 0 {
		offers = []crawler.PriceOffer{{}}
	}
	return crawler.Product{
		UID:          crawler.ProductUID(fkey, keyword),
		FKey:         fkey,
		Keyword:      keyword,
		Maker:        page.Maker,
		Name:         page.Name,
		Offers:       offers,
		RegisteredAt: page.RegisteredAt,
		CrawledAt:    c.now().Unix(),
		Section:      category.Section,
		Category:     category.Category,
		SubCategory:  category.SubCategory,
	}
}

// archive stores the raw detail page. Failures are logged and never fail the job.
func (c *Crawler) archive(ctx context.Context, fkey string, body []byte, logger *zap.Logger) {
	if c.deps.Archive == nil || c.deps.Hasher == nil {
		return
	}
	digest, err := c.deps.Hasher.Hash(body)
	if err != nil {
		logger.Warn("hash detail page failed", zap.Error(err))
		return
	}
	uri, err := c.deps.Archive.PutObject(ctx, fkey+"/"+digest+".html", "text/html; charset=utf-8", bytes.NewReader(body))
	if err != nil {
		logger.Warn("archive detail page failed", zap.String("fkey", fkey), zap.Error(err))
		return
	}
	logger.Debug("detail page archived", zap.String("uri", uri))
}

func (c *Crawler) now() time.Time {
	if c.deps.Clock == nil {
		return time.Now()
	}
	return c.deps.Clock.Now()
}
