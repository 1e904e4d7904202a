// Package discovery walks keyword search results and feeds product detail
// URLs into the fetch lane.
package discovery

import (
	"context"
	"fmt"
	"iter"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/pricecompare-crawler/internal/crawler"
	"github.com/JakeFAU/pricecompare-crawler/internal/metrics"
)

// Controller paginates the search results for one keyword at a time.
type Controller struct {
	fetcher   crawler.Fetcher
	extractor crawler.Extractor
	pauser    crawler.Pauser
	site      crawler.Site
	delay     crawler.Delay
	logger    *zap.Logger
}

// NewController wires a Controller. delay is the pause between search pages.
func NewController(
	fetcher crawler.Fetcher,
	extractor crawler.Extractor,
	pauser crawler.Pauser,
	site crawler.Site,
	delay crawler.Delay,
	logger *zap.Logger,
) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	if pauser == nil {
		pauser = crawler.TimerPauser{}
	}
	return &Controller{
		fetcher:   fetcher,
		extractor: extractor,
		pauser:    pauser,
		site:      site,
		delay:     delay,
		logger:    logger,
	}
}

// Discover yields every item reference found for keyword. Pages are fetched
// strictly in order with the politeness delay between them. The sequence ends
// after the first error it yields.
func (c *Controller) Discover(ctx context.Context, keyword string) iter.Seq2[crawler.ItemReference, error] {
	return func(yield func(crawler.ItemReference, error) bool) {
		logger := c.logger.With(zap.String("keyword", keyword))
		limit := 1
		for page := 1; page <= limit; page++ {
			if page > 1 {
				if err := c.pauser.Pause(ctx, c.delay.Next()); err != nil {
					yield(crawler.ItemReference{}, fmt.Errorf("pause before page %d: %w", page, err))
					return
				}
			}

			result, err := c.searchPage(ctx, keyword, page)
			if err != nil {
				yield(crawler.ItemReference{}, err)
				return
			}
			if page == 1 {
				if result.TotalCount == nil {
					logger.Error("search item count missing")
					yield(crawler.ItemReference{}, fmt.Errorf("discover %q: %w", keyword, crawler.ErrItemCountMissing))
					return
				}
				limit = crawler.PageCount(*result.TotalCount, c.site.SearchPageSize)
			}
			logger.Info("search page fetched",
				zap.Int("page", page),
				zap.Int("page_limit", limit),
				zap.Int("listings", len(result.Listings)),
			)
			if len(result.Listings) == 0 {
				logger.Info("search page empty, stopping", zap.Int("page", page))
				return
			}

			for _, listing := range result.Listings {
				for _, ref := range c.expand(listing, keyword) {
					if !yield(ref, nil) {
						return
					}
				}
			}
		}
	}
}

func (c *Controller) searchPage(ctx context.Context, keyword string, page int) (crawler.SearchResult, error) {
	resp, err := c.fetcher.Fetch(ctx, c.site.SearchRequest(keyword, page))
	if err != nil {
		return crawler.SearchResult{}, fmt.Errorf("fetch search page %d: %w", page, err)
	}
	result, err := c.extractor.SearchPage(resp.Body)
	if err != nil {
		return crawler.SearchResult{}, fmt.Errorf("extract search page %d: %w", page, err)
	}
	return result, nil
}

// expand fans a listing out into one reference per variant, dropping variants
// without a name or URL.
func (c *Controller) expand(listing crawler.Listing, keyword string) []crawler.ItemReference {
	refs := make([]crawler.ItemReference, 0, len(listing.Variants))
	dropped := 0
	for _, v := range listing.Variants {
		name := VariantName(listing.Name, v.Label)
		if name == "" || v.URL == nil || strings.TrimSpace(*v.URL) == "" {
			dropped++
			continue
		}
		refs = append(refs, crawler.ItemReference{
			Name:    name,
			URL:     c.resolve(strings.TrimSpace(*v.URL)),
			Keyword: keyword,
		})
	}
	metrics.ObserveDiscovered("accepted", len(refs))
	metrics.ObserveDiscovered("dropped", dropped)
	return refs
}

// resolve makes a variant link absolute against the search endpoint. Fragment
// links stay as they are so the product worker can skip them.
func (c *Controller) resolve(link string) string {
	if strings.HasPrefix(link, "#") {
		return link
	}
	base, err := url.Parse(c.site.SearchURL)
	if err != nil {
		return link
	}
	ref, err := url.Parse(link)
	if err != nil {
		return link
	}
	return base.ResolveReference(ref).String()
}

// VariantName derives the display name of a listing variant: "base(label)",
// or whichever of the two is present.
func VariantName(base, label *string) string {
	b, l := trimmed(base), trimmed(label)
	switch {
	case b != "" && l != "":
		return b + "(" + l + ")"
	case b != "":
		return b
	default:
		return l
	}
}

func trimmed(s *string) string {
	if s == nil {
		return ""
	}
	return strings.TrimSpace(*s)
}
