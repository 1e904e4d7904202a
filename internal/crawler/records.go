package crawler

import (
	"fmt"
	"strconv"
)

// PriceOffer is one row of a product's price comparison table.
type PriceOffer struct {
	Mall     *string `json:"mall" bson:"mall"`
	Price    *string `json:"price" bson:"price"`
	Shipping *string `json:"shipping" bson:"shipping"`
	Benefit  *string `json:"benefit" bson:"benefit"`
	Option   *string `json:"option" bson:"option"`
	Rank     *int    `json:"summary_rank" bson:"summary_rank"`
}

// Product is the persisted product document. UID is unique per (product, keyword).
type Product struct {
	UID          string       `json:"_id" bson:"_id"`
	FKey         string       `json:"fkey" bson:"fkey"`
	Keyword      string       `json:"query" bson:"query"`
	Maker        *string      `json:"brands" bson:"brands"`
	Name         *string      `json:"productName" bson:"productName"`
	Offers       []PriceOffer `json:"priceSummary" bson:"priceSummary"`
	RegisteredAt *int64       `json:"publishedAtTimestamp" bson:"publishedAtTimestamp"`
	CrawledAt    int64        `json:"crawlAtTimestamp" bson:"crawlAtTimestamp"`
	Section      *string      `json:"sectionCategory" bson:"sectionCategory"`
	Category     *string      `json:"category" bson:"category"`
	SubCategory  *string      `json:"subCategory" bson:"subCategory"`
}

// ReviewSource distinguishes site-native reviews from reviews imported from malls.
type ReviewSource string

// Review source kinds.
const (
	SourceNative ReviewSource = "danawa"
	SourceMall   ReviewSource = "mall"
)

// Review is the persisted review document. ID is the content hash.
type Review struct {
	ID          string       `json:"_id" bson:"_id"`
	FKey        string       `json:"fkey" bson:"fkey"`
	Source      ReviewSource `json:"source" bson:"source"`
	Mall        *string      `json:"mall,omitempty" bson:"mall,omitempty"`
	Author      *string      `json:"userName" bson:"userName"`
	AuthorIP    *string      `json:"userIp,omitempty" bson:"userIp,omitempty"`
	PublishedAt *int64       `json:"publishedAtTimestamp" bson:"publishedAtTimestamp"`
	Title       *string      `json:"contentTitle,omitempty" bson:"contentTitle,omitempty"`
	Body        *string      `json:"contentText" bson:"contentText"`
	Rating      *string      `json:"ratingPoint,omitempty" bson:"ratingPoint,omitempty"`
	Likes       *int         `json:"likeCount,omitempty" bson:"likeCount,omitempty"`
	CrawledAt   int64        `json:"crawlAtTimestamp" bson:"crawlAtTimestamp"`
}

// Tag is the source label mixed into the review hash: the native tag, the
// mall name, or the generic mall tag when the mall is unknown.
func (r Review) Tag() string {
	if r.Source == SourceNative {
		return string(SourceNative)
	}
	if r.Mall != nil && *r.Mall != "" {
		return *r.Mall
	}
	return string(SourceMall)
}

// HashInput is the canonical string a review's ID is derived from.
func (r Review) HashInput() string {
	published := ""
	if r.PublishedAt != nil {
		published = strconv.FormatInt(*r.PublishedAt, 10)
	}
	body := ""
	if r.Body != nil {
		body = firstRunes(*r.Body, 10)
	}
	return r.FKey + published + deref(r.Author) + r.Tag() + body
}

// ReviewID hashes the review's canonical fields into its document ID.
func ReviewID(hasher Hasher, review Review) (string, error) {
	id, err := hasher.Hash([]byte(review.HashInput()))
	if err != nil {
		return "", fmt.Errorf("hash review: %w", err)
	}
	return id, nil
}

// ProductIdentity is the (product code, category code) pair that keys a product.
type ProductIdentity struct {
	ProductCode  string
	CategoryCode string
}

// Valid reports whether both codes are present.
func (p ProductIdentity) Valid() bool {
	return p.ProductCode != "" && p.CategoryCode != ""
}

// FKey joins the identity into the foreign key shared by products and reviews.
func (p ProductIdentity) FKey() string {
	return p.ProductCode + "_" + p.CategoryCode
}

// ProductUID scopes a product document to the keyword that discovered it.
func ProductUID(fkey, keyword string) string {
	return fkey + "_" + keyword
}

// PageCount returns how many pages of size are needed to cover total items.
func PageCount(total, size int) int {
	if total <= 0 || size <= 0 {
		return 0
	}
	if total%size == 0 {
		return total / size
	}
	return total/size + 1
}

func firstRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
