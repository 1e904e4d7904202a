package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/pricecompare-crawler/internal/crawler"
)

func TestDocumentStoreUpsertReplaces(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewDocumentStore()
	name := "first"
	require.NoError(t, store.UpsertProduct(ctx, crawler.Product{UID: "1_2_ssd", Name: &name}))
	second := "second"
	require.NoError(t, store.UpsertProduct(ctx, crawler.Product{UID: "1_2_ssd", Name: &second}))

	got, ok := store.Product("1_2_ssd")
	require.True(t, ok)
	require.Equal(t, "second", *got.Name)
	require.Equal(t, 1, store.Products())
	require.Equal(t, 2, store.ProductWrites("1_2_ssd"))
}

func TestDocumentStoreReviews(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewDocumentStore()
	review := crawler.Review{ID: "h1", FKey: "1_2", Source: crawler.SourceNative}

	require.NoError(t, store.InsertReview(ctx, review))
	require.ErrorIs(t, store.InsertReview(ctx, review), crawler.ErrDuplicate)
	require.NoError(t, store.InsertReview(ctx, crawler.Review{ID: "h2", FKey: "1_2", Source: crawler.SourceMall}))

	n, err := store.CountReviews(ctx, "1_2", crawler.SourceNative)
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	ok, err := store.ReviewExists(ctx, "h2")
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, store.Reviews("1_2"), 2)
}

func TestDocumentStoreKeywords(t *testing.T) {
	t.Parallel()

	store := NewDocumentStore("ssd", "", "모니터")
	keywords, err := store.Keywords(context.Background())
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"ssd", "모니터"}, keywords)
}
