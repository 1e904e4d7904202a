package product

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/pricecompare-crawler/internal/crawler"
)

func ptr[T any](v T) *T { return &v }

func TestNewSessionPrefersPageCodes(t *testing.T) {
	t.Parallel()

	state := crawler.PageState{
		ScriptsFound: true,
		Global: &crawler.GlobalSetting{
			CategoryCode: ptr("12345"),
			Cate1:        ptr("860"),
			Cate2:        ptr("861"),
		},
		PriceCompare:       map[string]any{"sProductFullName": "삼성 SSD 1TB", "nPage": float64(1)},
		ProductDescription: map[string]any{"productName": "SSD 1TB", "makerName": "삼성 전자"},
	}
	s := NewSession("http://prod.danawa.com/info/?pcode=777&cate=999&keyword=ssd", state)

	require.Equal(t, "777", s.ProductCode)
	require.Equal(t, "12345", s.CategoryCode)
	require.Equal(t, "860", s.Cate1)
	require.Equal(t, "", s.Cate3)
	require.Equal(t, "http://prod.danawa.com", s.Origin)
	require.Equal(t, "prod.danawa.com", s.Host)
	require.Equal(t, "http://prod.danawa.com/info/?pcode=777&cate=999&keyword=ssd", s.Referer)

	require.Equal(t, "삼성+SSD+1TB", s.PriceCompare["sProductFullName"])
	require.Equal(t, "777", s.PriceCompare["pcode"])
	require.Equal(t, float64(1), s.PriceCompare["nPage"])
	require.Equal(t, "삼성+SSD+1TB", s.ProductDescription["productFullName"])
	require.Equal(t, "삼성+전자", s.ProductDescription["makerName"])
	require.Equal(t, "861", s.ProductDescription["cate2"])

	require.Equal(t, "삼성 SSD 1TB", state.PriceCompare["sProductFullName"], "page state must not be mutated")
	require.Equal(t, "777_12345", Identity(s).FKey())
}

func TestNewSessionFromURLOnly(t *testing.T) {
	t.Parallel()

	s := NewSession("http://prod.danawa.com/info/?pcode=1&cate=2", crawler.PageState{ScriptsFound: true})
	require.True(t, Identity(s).Valid())
	require.Nil(t, s.PriceCompare)
	require.Nil(t, s.ProductDescription)

	s = NewSession("http://prod.danawa.com/info/?pcode=1", crawler.PageState{})
	require.False(t, Identity(s).Valid())

	s = NewSession("http://prod.danawa.com/info/?cate=2", crawler.PageState{})
	require.False(t, Identity(s).Valid(), "a category code alone cannot form an fkey")
}

func TestResolveCategoryUsesNavigation(t *testing.T) {
	t.Parallel()

	state := crawler.PageState{
		Global: &crawler.GlobalSetting{GroupName: ptr("컴퓨터")},
		Navigation: map[string]crawler.NavNode{
			"1": {Name: "저장장치"},
			"2": {Name: "SSD"},
		},
		PhysicalCategories: []string{"a", "b", "c"},
	}
	got := ResolveCategory(state)
	require.Equal(t, "컴퓨터", *got.Section)
	require.Equal(t, "저장장치", *got.Category)
	require.Equal(t, "SSD", *got.SubCategory)
}

func TestResolveCategoryFallsBackToPhysicalList(t *testing.T) {
	t.Parallel()

	state := crawler.PageState{
		Global:             &crawler.GlobalSetting{GroupName: ptr("컴퓨터")},
		Navigation:         map[string]crawler.NavNode{"1": {Name: "저장장치"}},
		PhysicalCategories: []string{"PC부품", "저장장치", "SSD", "M.2"},
	}
	got := ResolveCategory(state)
	require.Equal(t, "PC부품", *got.Section)
	require.Equal(t, "저장장치", *got.Category)
	require.Equal(t, "SSD", *got.SubCategory)
}

func TestResolveCategoryBothMissing(t *testing.T) {
	t.Parallel()

	got := ResolveCategory(crawler.PageState{PhysicalCategories: []string{"PC부품"}})
	require.Equal(t, "PC부품", *got.Section)
	require.Nil(t, got.Category)
	require.Nil(t, got.SubCategory)

	require.Equal(t, Category{}, ResolveCategory(crawler.PageState{}))
}
