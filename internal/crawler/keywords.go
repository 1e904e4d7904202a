package crawler

import (
	"context"
	"math/rand/v2"
	"strings"
)

// ShuffleKeywords trims, drops empty entries, and randomizes the crawl order.
func ShuffleKeywords(keywords []string) []string {
	out := make([]string, 0, len(keywords))
	for _, kw := range keywords {
		if kw = strings.TrimSpace(kw); kw != "" {
			out = append(out, kw)
		}
	}
	rand.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
	return out
}

// StaticKeywords is a KeywordSource backed by a fixed list.
type StaticKeywords []string

// Keywords returns a shuffled copy of the list.
func (s StaticKeywords) Keywords(context.Context) ([]string, error) {
	return ShuffleKeywords(s), nil
}
