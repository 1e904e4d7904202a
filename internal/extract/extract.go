// Package extract parses search, detail, and review pages of the price
// comparison site with goquery.
package extract

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/pricecompare-crawler/internal/crawler"
)

const noContentMarker = "NO_CONTENT"

// Selectors used against the site's markup.
const (
	selItemCount    = "a.vmTab[data-count]"
	selListing      = "div.main_prodlist.main_prodlist_list ul.product_list li.prod_item"
	selListingName  = "div.prod_main_info div.prod_info p.prod_name a"
	selPriceList    = "div.prod_main_info div.prod_pricelist ul"
	selMemorySect   = "p.memory_sect"
	selMemoryNoise  = "span.rank, em.lowest, span.memory_price_sect"
	selProductName  = "div.top_summary h3"
	selMadeInfo     = "div.made_info span.txt"
	selMaker        = "#makerTxtArea"
	selPriceTable   = "div.lowest_area div.lowest_list table.lwst_tbl tbody.high_list"
	selNativeTab    = "#danawa-prodBlog-productOpinion-button-tab-productOpinion span.cen_w strong"
	selMallTab      = "#danawa-prodBlog-productOpinion-button-tab-companyReview span.cen_w strong"
	selNativeList   = "div.danawa_review"
	selNativeItems  = "div.post_comments ul li[id^='danawa-prodBlog-productOpinion-list-self-']"
	selNativeAuthor = "div.r_info .id_name strong"
	selNativeDate   = "div.r_info span.date"
	selNativeIP     = "div.r_info span.ip"
	selNativeText   = "div[id^='danawa-prodBlog-productOpinion-content-text-']"
	selNativeLikes  = "button[id^='danawa-prodBlog-productOpinion-button-recommend-'] span.num_c"
	selMallList     = "div.mall_review div.area_right ul.rvw_list"
	selMallItems    = "li[id^='danawa-prodBlog']"
)

// Layouts of the timestamps the site prints.
const (
	layoutRegistration = "2006.01"
	layoutNativeReview = "2006.01.02 15:04:05"
	layoutMallReview   = "2006.01.02"
)

// Extractor implements crawler.Extractor. Timestamps are interpreted in the
// site's local zone.
type Extractor struct {
	loc *time.Location
}

var _ crawler.Extractor = (*Extractor)(nil)

// New returns an extractor that reads site timestamps in loc.
func New(loc *time.Location) *Extractor {
	if loc == nil {
		loc = time.UTC
	}
	return &Extractor{loc: loc}
}

func parse(body []byte) (*goquery.Document, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	return doc, nil
}

// SearchPage reads the total item count and the product listings.
func (e *Extractor) SearchPage(body []byte) (crawler.SearchResult, error) {
	doc, err := parse(body)
	if err != nil {
		return crawler.SearchResult{}, err
	}
	var result crawler.SearchResult
	if raw, ok := doc.Find(selItemCount).First().Attr("data-count"); ok {
		result.TotalCount = parseCount(raw)
	}
	doc.Find(selListing).Each(func(_ int, item *goquery.Selection) {
		result.Listings = append(result.Listings, parseListing(item))
	})
	return result, nil
}

func parseListing(item *goquery.Selection) crawler.Listing {
	listing := crawler.Listing{Name: optionalText(item.Find(selListingName).First())}
	item.Find(selPriceList).First().Find("li").Each(func(_ int, li *goquery.Selection) {
		li.Find(selMemoryNoise).Remove()
		sect := li.Find(selMemorySect).First()
		variant := crawler.Variant{Label: optionalText(sect)}
		if href, ok := sect.Find("a").First().Attr("href"); ok {
			href = strings.TrimSpace(href)
			variant.URL = &href
		}
		listing.Variants = append(listing.Variants, variant)
	})
	return listing
}

// ProductPage reads the summary, embedded page state, and price table.
func (e *Extractor) ProductPage(body []byte) (crawler.ProductPage, error) {
	doc, err := parse(body)
	if err != nil {
		return crawler.ProductPage{}, err
	}
	page := crawler.ProductPage{
		Name:  optionalText(doc.Find(selProductName).First()),
		Maker: afterColon(optionalText(doc.Find(selMaker).First())),
	}
	if month := afterColon(optionalText(doc.Find(selMadeInfo).First())); month != nil {
		if ts, err := time.ParseInLocation(layoutRegistration, strings.TrimSuffix(*month, "."), e.loc); err == nil {
			unix := ts.Unix()
			page.RegisteredAt = &unix
		}
	}
	page.State = readPageState(doc)

	table := doc.Find(selPriceTable).First()
	if table.Length() > 0 {
		page.OffersPresent = true
		table.Find("tr").Each(func(i int, tr *goquery.Selection) {
			page.Offers = append(page.Offers, parseOffer(i+1, tr))
		})
	}
	return page, nil
}

func parseOffer(rank int, tr *goquery.Selection) crawler.PriceOffer {
	offer := crawler.PriceOffer{Rank: &rank}
	if class, ok := tr.Attr("class"); ok {
		if fields := strings.Fields(class); len(fields) > 0 {
			offer.Option = &fields[0]
		}
	}
	mall := tr.Find("td.mall")
	if alt, ok := mall.Find("img").First().Attr("alt"); ok {
		alt = strings.TrimSpace(alt)
		offer.Mall = &alt
	} else {
		offer.Mall = optionalText(mall.Find(".logo_over a").First())
	}
	offer.Price = stripMoney(optionalText(tr.Find("td.price span.txt_prc em").First()))
	offer.Shipping = stripMoney(optionalText(tr.Find("td.ship span.stxt").First()))
	offer.Benefit = optionalText(tr.Find("td.bnfit a").First())
	return offer
}

// ReviewTotals reads the native and mall review counts from the tab headers.
func (e *Extractor) ReviewTotals(body []byte) (crawler.ReviewTotals, error) {
	doc, err := parse(body)
	if err != nil {
		return crawler.ReviewTotals{}, err
	}
	var totals crawler.ReviewTotals
	if s := optionalText(doc.Find(selNativeTab).First()); s != nil {
		totals.Native = parseCount(*s)
	}
	if s := optionalText(doc.Find(selMallTab).First()); s != nil {
		totals.Mall = parseCount(*s)
	}
	return totals, nil
}

// NativeReviews reads one page of site-native reviews, flagging replies.
func (e *Extractor) NativeReviews(body []byte) (crawler.ReviewPage, error) {
	doc, err := parse(body)
	if err != nil {
		return crawler.ReviewPage{}, err
	}
	list := doc.Find(selNativeList).First()
	if list.Length() == 0 {
		return crawler.ReviewPage{NoContent: hasNoContent(doc)}, nil
	}
	page := crawler.ReviewPage{ListingPresent: true}
	list.Find(selNativeItems).Each(func(_ int, li *goquery.Selection) {
		review := crawler.Review{
			Source:   crawler.SourceNative,
			Author:   optionalText(li.Find(selNativeAuthor).First()),
			AuthorIP: optionalText(li.Find(selNativeIP).First()),
			Body:     optionalText(li.Find(selNativeText).First()),
		}
		review.PublishedAt = e.parseTime(layoutNativeReview, optionalText(li.Find(selNativeDate).First()))
		likes := 0
		if s := optionalText(li.Find(selNativeLikes).First()); s != nil {
			if n := parseCount(*s); n != nil {
				likes = *n
			}
		}
		review.Likes = &likes
		page.Reviews = append(page.Reviews, crawler.ExtractedReview{
			Review:  review,
			IsReply: li.HasClass("sub_item"),
		})
	})
	return page, nil
}

// MallReviews reads one page of reviews imported from partner malls.
func (e *Extractor) MallReviews(body []byte) (crawler.ReviewPage, error) {
	doc, err := parse(body)
	if err != nil {
		return crawler.ReviewPage{}, err
	}
	list := doc.Find(selMallList).First()
	if list.Length() == 0 {
		return crawler.ReviewPage{NoContent: hasNoContent(doc)}, nil
	}
	page := crawler.ReviewPage{ListingPresent: true}
	list.Find(selMallItems).Each(func(_ int, li *goquery.Selection) {
		top := li.Find("div.top_info")
		review := crawler.Review{
			Source: crawler.SourceMall,
			Mall:   optionalText(top.Find("span.mall").First()),
			Author: optionalText(top.Find("span.name").First()),
			Title:  optionalText(li.Find("div.rvw_atc div.tit_W p").First()),
			Body:   optionalText(li.Find("div.rvw_atc div.atc").First()),
		}
		if rating := optionalText(top.Find("span.star_mask").First()); rating != nil {
			trimmed := strings.TrimSpace(strings.ReplaceAll(*rating, "점", ""))
			review.Rating = &trimmed
		}
		review.PublishedAt = e.parseTime(layoutMallReview, optionalText(top.Find("span.date").First()))
		page.Reviews = append(page.Reviews, crawler.ExtractedReview{Review: review})
	})
	return page, nil
}

func (e *Extractor) parseTime(layout string, raw *string) *int64 {
	if raw == nil {
		return nil
	}
	ts, err := time.ParseInLocation(layout, *raw, e.loc)
	if err != nil {
		return nil
	}
	unix := ts.Unix()
	return &unix
}

func hasNoContent(doc *goquery.Document) bool {
	return strings.Contains(doc.Text(), noContentMarker)
}

// optionalText returns nil when the selection matched nothing.
func optionalText(sel *goquery.Selection) *string {
	if sel.Length() == 0 {
		return nil
	}
	text := strings.TrimSpace(sel.Text())
	return &text
}

func afterColon(s *string) *string {
	if s == nil {
		return nil
	}
	_, after, found := strings.Cut(*s, ":")
	if !found {
		return nil
	}
	after = strings.TrimSpace(after)
	return &after
}

func stripMoney(s *string) *string {
	if s == nil {
		return nil
	}
	cleaned := strings.NewReplacer(",", "", "원", "").Replace(*s)
	cleaned = strings.TrimSpace(cleaned)
	return &cleaned
}

func parseCount(raw string) *int {
	n, err := strconv.Atoi(strings.ReplaceAll(strings.TrimSpace(raw), ",", ""))
	if err != nil {
		return nil
	}
	return &n
}
