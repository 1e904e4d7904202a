package product

import (
	"maps"
	"net/url"
	"strings"

	"github.com/JakeFAU/pricecompare-crawler/internal/crawler"
)

// NewSession derives the review-lane session from the resolved detail URL and
// the page's script state. Codes declared by the page win over the URL query.
func NewSession(finalURL string, state crawler.PageState) crawler.Session {
	var s crawler.Session
	if u, err := url.Parse(finalURL); err == nil {
		q := u.Query()
		s.ProductCode = q.Get("pcode")
		s.CategoryCode = q.Get("cate")
		if u.Host != "" {
			s.Host = u.Host
			s.Origin = u.Scheme + "://" + u.Host
		}
	}
	s.Referer = finalURL

	if g := state.Global; g != nil {
		setIf(&s.CategoryCode, g.CategoryCode)
		setIf(&s.Cate1, g.Cate1)
		setIf(&s.Cate2, g.Cate2)
		setIf(&s.Cate3, g.Cate3)
		setIf(&s.Cate4, g.Cate4)
	}

	codes := map[string]any{
		"pcode": s.ProductCode,
		"cate1": s.Cate1,
		"cate2": s.Cate2,
		"cate3": s.Cate3,
		"cate4": s.Cate4,
	}
	if state.PriceCompare != nil {
		pc := maps.Clone(state.PriceCompare)
		maps.Copy(pc, codes)
		plusSpaces(pc, "sProductFullName")
		s.PriceCompare = pc
	}
	if state.ProductDescription != nil {
		pd := maps.Clone(state.ProductDescription)
		maps.Copy(pd, codes)
		if state.PriceCompare != nil {
			if name, ok := state.PriceCompare["sProductFullName"]; ok {
				pd["productFullName"] = name
			}
		}
		plusSpaces(pd, "productFullName", "productName", "makerName")
		s.ProductDescription = pd
	}
	return s
}

// Identity returns the product identity carried by a session.
func Identity(s crawler.Session) crawler.ProductIdentity {
	return crawler.ProductIdentity{ProductCode: s.ProductCode, CategoryCode: s.CategoryCode}
}

func setIf(dst *string, v *string) {
	if v != nil && *v != "" {
		*dst = *v
	}
}

func plusSpaces(m map[string]any, keys ...string) {
	for _, k := range keys {
		if v, ok := m[k].(string); ok {
			m[k] = strings.ReplaceAll(v, " ", "+")
		}
	}
}

// Category is the resolved section/category/subcategory triple.
type Category struct {
	Section     *string
	Category    *string
	SubCategory *string
}

// ResolveCategory prefers the live navigation taxonomy and falls back to the
// physical category name list taken positionally. Either source may be
// missing; the result then has nil fields.
func ResolveCategory(state crawler.PageState) Category {
	if g := state.Global; g != nil && g.GroupName != nil && len(state.Navigation) > 0 {
		first, ok1 := state.Navigation["1"]
		second, ok2 := state.Navigation["2"]
		if ok1 && ok2 {
			return Category{Section: g.GroupName, Category: &first.Name, SubCategory: &second.Name}
		}
	}
	return Category{
		Section:     at(state.PhysicalCategories, 0),
		Category:    at(state.PhysicalCategories, 1),
		SubCategory: at(state.PhysicalCategories, 2),
	}
}

func at(list []string, i int) *string {
	if i >= len(list) {
		return nil
	}
	v := list[i]
	return &v
}
