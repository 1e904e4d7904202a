package crawler

// SearchResult is what one search results page yields.
type SearchResult struct {
	TotalCount *int
	Listings   []Listing
}

// Listing is one product entry on a search page.
type Listing struct {
	Name     *string
	Variants []Variant
}

// Variant is one purchasable option of a listing with its own detail URL.
type Variant struct {
	Label *string
	URL   *string
}

// ItemReference is a discovered product detail URL ready for the fetch lane.
type ItemReference struct {
	Name    string
	URL     string
	Keyword string
}

// NavNode is one entry of the page's category navigation tree.
type NavNode struct {
	Code   string
	Name   string
	Parent string
	Group  string
	Depth  string
}

// GlobalSetting holds the category codes a detail page declares about itself.
type GlobalSetting struct {
	GroupName    *string
	CategoryCode *string
	Cate1        *string
	Cate2        *string
	Cate3        *string
	Cate4        *string
}

// PageState is the structured state embedded in a detail page's inline scripts.
type PageState struct {
	ScriptsFound       bool
	Navigation         map[string]NavNode
	Global             *GlobalSetting
	PriceCompare       map[string]any
	ProductDescription map[string]any
	PhysicalCategories []string
}

// ProductPage is what a product detail page yields.
type ProductPage struct {
	Name          *string
	Maker         *string
	RegisteredAt  *int64
	State         PageState
	Offers        []PriceOffer
	OffersPresent bool
}

// ReviewTotals are the remote review counts shown on the first native review page.
type ReviewTotals struct {
	Native *int
	Mall   *int
}

// ExtractedReview is a parsed review row before identity is assigned.
type ExtractedReview struct {
	Review
	IsReply bool
}

// ReviewPage is what one page of reviews yields. NoContent is set when the
// listing is absent and the page carries the site's no-content marker.
type ReviewPage struct {
	Reviews        []ExtractedReview
	ListingPresent bool
	NoContent      bool
}
