package crawler

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestShuffleKeywordsDropsBlanks(t *testing.T) {
	t.Parallel()

	in := []string{" ssd ", "", "monitor", "   "}
	out := ShuffleKeywords(in)
	require.ElementsMatch(t, []string{"ssd", "monitor"}, out)
	require.Equal(t, " ssd ", in[0], "input must not be modified")
}

func TestStaticKeywords(t *testing.T) {
	t.Parallel()

	src := StaticKeywords{"ssd", "monitor", "keyboard"}
	got, err := src.Keywords(context.Background())
	require.NoError(t, err)
	require.ElementsMatch(t, []string(src), got)
}
