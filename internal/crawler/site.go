package crawler

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Site holds the endpoints and page sizes of the price-comparison site.
type Site struct {
	SearchURL       string `mapstructure:"search_url"`
	SearchPageURL   string `mapstructure:"search_page_url"`
	NativeReviewURL string `mapstructure:"native_review_url"`
	MallReviewURL   string `mapstructure:"mall_review_url"`
	BridgePrefix    string `mapstructure:"bridge_prefix"`
	SearchPageSize  int    `mapstructure:"search_page_size"`
	ReviewPageSize  int    `mapstructure:"review_page_size"`
}

// DefaultSite returns the production endpoints.
func DefaultSite() Site {
	return Site{
		SearchURL:       "http://search.danawa.com/ajax/getProductList.ajax.php",
		SearchPageURL:   "http://search.danawa.com/dsearch.php",
		NativeReviewURL: "http://prod.danawa.com/info/dpg/ajax/productOpinion.ajax.php",
		MallReviewURL:   "http://prod.danawa.com/info/dpg/ajax/companyProductReview.ajax.php",
		BridgePrefix:    "http://prod.danawa.com/bridge/",
		SearchPageSize:  90,
		ReviewPageSize:  10,
	}
}

const (
	acceptLanguage = "ko-KR,ko;q=0.8,en-US;q=0.5,en;q=0.3"
	formEncoded    = "application/x-www-form-urlencoded"
)

// SearchRequest builds the XHR search POST for one results page.
func (s Site) SearchRequest(keyword string, page int) FetchRequest {
	origin, host := originOf(s.SearchURL)
	headers := http.Header{}
	headers.Set("Accept", "text/html, */*; q=0.01")
	headers.Set("Accept-Language", acceptLanguage)
	headers.Set("Cache-Control", "no-cache")
	headers.Set("Pragma", "no-cache")
	headers.Set("Content-Type", formEncoded)
	headers.Set("Origin", origin)
	headers.Set("Host", host)
	headers.Set("Referer", s.SearchPageURL+"?query="+url.QueryEscape(keyword)+"&tab=main")
	headers.Set("X-Requested-With", "XMLHttpRequest")
	return FetchRequest{
		Method: http.MethodPost,
		URL:    s.SearchURL,
		Form: map[string]string{
			"query":           keyword,
			"originalQuery":   keyword,
			"previousKeyword": keyword,
			"volumeType":      "vmvs",
			"page":            strconv.Itoa(page),
			"limit":           strconv.Itoa(s.SearchPageSize),
			"sort":            "saveDESC",
			"list":            "list",
			"boost":           "true",
			"addDelivery":     "N",
			"tab":             "goods",
		},
		Headers: headers,
	}
}

// DetailRequest builds the browser-style GET for a product detail page.
func (s Site) DetailRequest(rawURL string) FetchRequest {
	_, host := originOf(rawURL)
	headers := http.Header{}
	headers.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	headers.Set("Accept-Language", acceptLanguage)
	headers.Set("Cache-Control", "no-cache")
	headers.Set("Pragma", "no-cache")
	headers.Set("Upgrade-Insecure-Requests", "1")
	if host != "" {
		headers.Set("Host", host)
	}
	return FetchRequest{Method: http.MethodGet, URL: rawURL, Headers: headers}
}

// NativeReviewRequest builds the GET for one page of site-native reviews.
func (s Site) NativeReviewRequest(session Session, page int, now time.Time) FetchRequest {
	q := url.Values{}
	q.Set("prodCode", session.ProductCode)
	q.Set("keyword", "")
	q.Set("condition", "")
	q.Set("page", strconv.Itoa(page))
	q.Set("limit", strconv.Itoa(s.ReviewPageSize))
	q.Set("past", "N")
	q.Set("_", strconv.FormatInt(now.UnixMilli(), 10))
	return FetchRequest{Method: http.MethodGet, URL: s.NativeReviewURL + "?" + q.Encode(), Headers: reviewHeaders(session)}
}

// MallReviewRequest builds the GET for one page of merchant reviews.
func (s Site) MallReviewRequest(session Session, page int, now time.Time) FetchRequest {
	q := url.Values{}
	q.Set("prodCode", session.ProductCode)
	q.Set("cate1Code", session.Cate1)
	q.Set("page", strconv.Itoa(page))
	q.Set("limit", strconv.Itoa(s.ReviewPageSize))
	q.Set("score", "0")
	q.Set("sortType", "NEW")
	q.Set("usefullScore", "Y")
	q.Set("innerKeyword", "")
	q.Set("subjectWord", "0")
	q.Set("subjectWordString", "")
	q.Set("subjectSimilarWordString", "")
	q.Set("_", strconv.FormatInt(now.UnixMilli(), 10))
	return FetchRequest{Method: http.MethodGet, URL: s.MallReviewURL + "?" + q.Encode(), Headers: reviewHeaders(session)}
}

func reviewHeaders(session Session) http.Header {
	headers := http.Header{}
	headers.Set("Accept", "*/*")
	headers.Set("Accept-Language", acceptLanguage)
	headers.Set("Cache-Control", "no-cache")
	headers.Set("Pragma", "no-cache")
	headers.Set("Content-Type", formEncoded+";charset=UTF-8")
	if session.Host != "" {
		headers.Set("Host", session.Host)
	}
	if session.Referer != "" {
		headers.Set("Referer", session.Referer)
	}
	return headers
}

// IsBridge reports whether a resolved detail URL points at an external seller.
func (s Site) IsBridge(finalURL string) bool {
	return s.BridgePrefix != "" && strings.HasPrefix(finalURL, s.BridgePrefix)
}

func originOf(rawURL string) (origin, host string) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return "", ""
	}
	return u.Scheme + "://" + u.Host, u.Host
}
