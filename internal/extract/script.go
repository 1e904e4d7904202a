package extract

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/hjson/hjson-go/v4"

	"github.com/JakeFAU/pricecompare-crawler/internal/crawler"
)

// Inline script variables are JavaScript object literals, not JSON, so they
// are decoded with hjson.
var (
	reNavigation   = regexp.MustCompile(`var\s+oCurrentNavigation\s*=\s*(.*?);`)
	rePriceCompare = regexp.MustCompile(`var\s+oPriceCompareSetting\s*=\s*(.*?);`)
	reDescription  = regexp.MustCompile(`var\s+oProductDescriptionInfo\s*=\s*(.*?);`)
	reGlobal       = regexp.MustCompile(`var\s+oGlobalSetting\s*=\s*(.*?);`)
	rePhysical     = regexp.MustCompile(`var\s+oPhysicalCategoryNameList\s*=\s*(.*?);`)
)

var scriptNoise = strings.NewReplacer("\r", "", "\n", "", "\t", "")

func readPageState(doc *goquery.Document) crawler.PageState {
	scripts := doc.Find("script:not([src])")
	state := crawler.PageState{ScriptsFound: scripts.Length() > 0}
	if !state.ScriptsFound {
		return state
	}

	var sb strings.Builder
	scripts.Each(func(_ int, s *goquery.Selection) {
		sb.WriteString(scriptNoise.Replace(s.Text()))
		sb.WriteString("\n")
	})
	src := sb.String()

	if obj := findObject(reNavigation, src); obj != nil {
		state.Navigation = make(map[string]crawler.NavNode, len(obj))
		for key, raw := range obj {
			node, ok := raw.(map[string]any)
			if !ok {
				continue
			}
			state.Navigation[key] = crawler.NavNode{
				Code:   stringField(node, "code"),
				Name:   stringField(node, "name"),
				Parent: stringField(node, "parent"),
				Group:  stringField(node, "group"),
				Depth:  stringField(node, "depth"),
			}
		}
	}
	state.PriceCompare = findObject(rePriceCompare, src)
	state.ProductDescription = findObject(reDescription, src)
	if obj := findObject(reGlobal, src); obj != nil {
		state.Global = &crawler.GlobalSetting{
			GroupName:    optionalField(obj, "sGroupName"),
			CategoryCode: optionalField(obj, "nCategoryCode"),
			Cate1:        optionalField(obj, "nCategoryCode1"),
			Cate2:        optionalField(obj, "nCategoryCode2"),
			Cate3:        optionalField(obj, "nCategoryCode3"),
			Cate4:        optionalField(obj, "nCategoryCode4"),
		}
	}
	if m := rePhysical.FindStringSubmatch(src); m != nil {
		var list []any
		if err := hjson.Unmarshal([]byte(m[1]), &list); err == nil {
			for _, item := range list {
				if s, ok := stringValue(item); ok {
					s = strings.TrimSpace(strings.ReplaceAll(s, `\`, ""))
					state.PhysicalCategories = append(state.PhysicalCategories, s)
				}
			}
		}
	}
	return state
}

func findObject(re *regexp.Regexp, src string) map[string]any {
	m := re.FindStringSubmatch(src)
	if m == nil {
		return nil
	}
	var out map[string]any
	if err := hjson.Unmarshal([]byte(m[1]), &out); err != nil {
		return nil
	}
	return out
}

func stringField(obj map[string]any, key string) string {
	s, _ := stringValue(obj[key])
	return s
}

func optionalField(obj map[string]any, key string) *string {
	s, ok := stringValue(obj[key])
	if !ok || s == "" {
		return nil
	}
	return &s
}

// stringValue renders scalar script values the way they appear in URLs.
func stringValue(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, true
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case int:
		return strconv.Itoa(t), true
	case int64:
		return strconv.FormatInt(t, 10), true
	case bool:
		return strconv.FormatBool(t), true
	case interface{ String() string }:
		return t.String(), true
	default:
		return "", false
	}
}
