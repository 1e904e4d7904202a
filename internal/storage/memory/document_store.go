package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/pricecompare-crawler/internal/crawler"
)

// DocumentStore implements crawler.DocumentStore with maps guarded by a mutex.
type DocumentStore struct {
	mu       sync.RWMutex
	products map[string]crawler.Product
	reviews  map[string]crawler.Review
	keywords []string
	writes   map[string]int
}

var _ crawler.DocumentStore = (*DocumentStore)(nil)

// NewDocumentStore creates an empty store seeded with the given keywords.
func NewDocumentStore(keywords ...string) *DocumentStore {
	return &DocumentStore{
		products: make(map[string]crawler.Product),
		reviews:  make(map[string]crawler.Review),
		keywords: append([]string(nil), keywords...),
		writes:   make(map[string]int),
	}
}

// UpsertProduct replaces the product stored under its UID.
func (s *DocumentStore) UpsertProduct(_ context.Context, product crawler.Product) error {
	if product.UID == "" {
		return fmt.Errorf("product uid is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.products[product.UID] = product
	s.writes[product.UID]++
	return nil
}

// CountReviews counts stored reviews for fkey and source.
func (s *DocumentStore) CountReviews(_ context.Context, fkey string, source crawler.ReviewSource) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var n int64
	for _, r := range s.reviews {
		if r.FKey == fkey && r.Source == source {
			n++
		}
	}
	return n, nil
}

// ReviewExists reports whether the review hash is stored.
func (s *DocumentStore) ReviewExists(_ context.Context, id string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.reviews[id]
	return ok, nil
}

// InsertReview stores the review unless its ID is already present.
func (s *DocumentStore) InsertReview(_ context.Context, review crawler.Review) error {
	if review.ID == "" {
		return fmt.Errorf("review id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.reviews[review.ID]; ok {
		return fmt.Errorf("insert review %s: %w", review.ID, crawler.ErrDuplicate)
	}
	s.reviews[review.ID] = review
	return nil
}

// Keywords returns the seeded keywords shuffled.
func (s *DocumentStore) Keywords(context.Context) ([]string, error) {
	s.mu.RLock()
	keywords := append([]string(nil), s.keywords...)
	s.mu.RUnlock()
	return crawler.ShuffleKeywords(keywords), nil
}

// Close is a no-op.
func (s *DocumentStore) Close(context.Context) error { return nil }

// Product returns the stored product for uid.
func (s *DocumentStore) Product(uid string) (crawler.Product, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.products[uid]
	return p, ok
}

// ProductWrites reports how many times uid was upserted.
func (s *DocumentStore) ProductWrites(uid string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.writes[uid]
}

// Products returns the number of stored products.
func (s *DocumentStore) Products() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.products)
}

// Reviews returns the stored reviews for fkey.
func (s *DocumentStore) Reviews(fkey string) []crawler.Review {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []crawler.Review
	for _, r := range s.reviews {
		if r.FKey == fkey {
			out = append(out, r)
		}
	}
	return out
}
