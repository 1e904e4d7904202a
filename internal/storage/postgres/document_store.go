// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/pricecompare-crawler/internal/crawler"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the Postgres connection pool and table names.
type Config struct {
	DSN             string
	ProductsTable   string
	ReviewsTable    string
	KeywordsTable   string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Close()
}

// DocumentStore keeps products and reviews as JSONB documents with their
// lookup keys promoted to columns.
type DocumentStore struct {
	pool     pool
	products string
	reviews  string
	keywords string
}

var _ crawler.DocumentStore = (*DocumentStore)(nil)

// New connects a pool and returns a DocumentStore.
func New(ctx context.Context, cfg Config) (*DocumentStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("store.postgres.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	store, err := NewWithPool(p, cfg)
	if err != nil {
		p.Close()
		return nil, err
	}
	return store, nil
}

// NewWithPool constructs a store from an existing pool (primarily for testing).
func NewWithPool(p pool, cfg Config) (*DocumentStore, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	s := &DocumentStore{
		pool:     p,
		products: orDefault(cfg.ProductsTable, "products"),
		reviews:  orDefault(cfg.ReviewsTable, "reviews"),
		keywords: orDefault(cfg.KeywordsTable, "keywords"),
	}
	for _, table := range []string{s.products, s.reviews, s.keywords} {
		if !validTableName.MatchString(table) {
			return nil, fmt.Errorf("invalid table name %q", table)
		}
	}
	return s, nil
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

// EnsureSchema creates the tables and indexes when missing.
func (s *DocumentStore) EnsureSchema(ctx context.Context) error {
	statements := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	id TEXT PRIMARY KEY,
	fkey TEXT NOT NULL,
	keyword TEXT NOT NULL,
	doc JSONB NOT NULL,
	crawled_at BIGINT NOT NULL
)`, s.products),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	id TEXT PRIMARY KEY,
	fkey TEXT NOT NULL,
	source TEXT NOT NULL,
	doc JSONB NOT NULL,
	crawled_at BIGINT NOT NULL
)`, s.reviews),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_fkey_source_idx ON %s (fkey, source)`, s.reviews, s.reviews),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	keyword TEXT PRIMARY KEY,
	type TEXT NOT NULL DEFAULT 'product'
)`, s.keywords),
	}
	for _, stmt := range statements {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// UpsertProduct fully replaces the product document keyed by its UID.
func (s *DocumentStore) UpsertProduct(ctx context.Context, product crawler.Product) error {
	if product.UID == "" {
		return fmt.Errorf("product uid is required")
	}
	doc, err := json.Marshal(product)
	if err != nil {
		return fmt.Errorf("marshal product: %w", err)
	}
	query := fmt.Sprintf(`
INSERT INTO %s (id, fkey, keyword, doc, crawled_at)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (id) DO UPDATE SET
	fkey = EXCLUDED.fkey,
	keyword = EXCLUDED.keyword,
	doc = EXCLUDED.doc,
	crawled_at = EXCLUDED.crawled_at`, s.products)
	if _, err := s.pool.Exec(ctx, query, product.UID, product.FKey, product.Keyword, doc, product.CrawledAt); err != nil {
		return fmt.Errorf("upsert product: %w", err)
	}
	return nil
}

// CountReviews counts stored reviews for a product and source kind.
func (s *DocumentStore) CountReviews(ctx context.Context, fkey string, source crawler.ReviewSource) (int64, error) {
	query := fmt.Sprintf(`SELECT count(*) FROM %s WHERE fkey = $1 AND source = $2`, s.reviews)
	var n int64
	if err := s.pool.QueryRow(ctx, query, fkey, string(source)).Scan(&n); err != nil {
		return 0, fmt.Errorf("count reviews: %w", err)
	}
	return n, nil
}

// ReviewExists reports whether a review with the given hash is stored.
func (s *DocumentStore) ReviewExists(ctx context.Context, id string) (bool, error) {
	query := fmt.Sprintf(`SELECT EXISTS (SELECT 1 FROM %s WHERE id = $1)`, s.reviews)
	var exists bool
	if err := s.pool.QueryRow(ctx, query, id).Scan(&exists); err != nil {
		return false, fmt.Errorf("check review: %w", err)
	}
	return exists, nil
}

// InsertReview stores a new review; an existing ID yields crawler.ErrDuplicate.
func (s *DocumentStore) InsertReview(ctx context.Context, review crawler.Review) error {
	if review.ID == "" {
		return fmt.Errorf("review id is required")
	}
	doc, err := json.Marshal(review)
	if err != nil {
		return fmt.Errorf("marshal review: %w", err)
	}
	query := fmt.Sprintf(`
INSERT INTO %s (id, fkey, source, doc, crawled_at)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (id) DO NOTHING`, s.reviews)
	tag, err := s.pool.Exec(ctx, query, review.ID, review.FKey, string(review.Source), doc, review.CrawledAt)
	if err != nil {
		return fmt.Errorf("insert review: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("insert review %s: %w", review.ID, crawler.ErrDuplicate)
	}
	return nil
}

// Keywords returns the product keywords in random order.
func (s *DocumentStore) Keywords(ctx context.Context) ([]string, error) {
	query := fmt.Sprintf(`SELECT keyword FROM %s WHERE type = $1`, s.keywords)
	rows, err := s.pool.Query(ctx, query, "product")
	if err != nil {
		return nil, fmt.Errorf("query keywords: %w", err)
	}
	keywords, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("scan keywords: %w", err)
	}
	return crawler.ShuffleKeywords(keywords), nil
}

// Close releases the underlying pool resources.
func (s *DocumentStore) Close(context.Context) error {
	if s == nil || s.pool == nil {
		return nil
	}
	s.pool.Close()
	return nil
}

