// Package mongo persists products, reviews and keywords in MongoDB.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/JakeFAU/pricecompare-crawler/internal/crawler"
)

const keywordTypeProduct = "product"

// Config names the database and collections.
type Config struct {
	URI      string
	Database string
	Products string
	Reviews  string
	Keywords string
	Timeout  time.Duration
}

func (c Config) withDefaults() Config {
	if c.Database == "" {
		c.Database = "pricecompare"
	}
	if c.Products == "" {
		c.Products = "products"
	}
	if c.Reviews == "" {
		c.Reviews = "reviews"
	}
	if c.Keywords == "" {
		c.Keywords = "keywords"
	}
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
	return c
}

// Store implements crawler.DocumentStore on MongoDB collections.
type Store struct {
	client   *mongo.Client
	products *mongo.Collection
	reviews  *mongo.Collection
	keywords *mongo.Collection
}

var _ crawler.DocumentStore = (*Store)(nil)

// Connect dials MongoDB and verifies the deployment is reachable.
func Connect(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.URI == "" {
		return nil, fmt.Errorf("store.mongo.uri is required")
	}
	cfg = cfg.withDefaults()

	connectCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()
	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(cfg.URI).SetTimeout(cfg.Timeout))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(connectCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}
	store := NewWithDatabase(client.Database(cfg.Database), cfg)
	store.client = client
	return store, nil
}

// NewWithDatabase binds a store to an existing database handle. Close does
// not disconnect clients it did not create.
func NewWithDatabase(db *mongo.Database, cfg Config) *Store {
	cfg = cfg.withDefaults()
	return &Store{
		products: db.Collection(cfg.Products),
		reviews:  db.Collection(cfg.Reviews),
		keywords: db.Collection(cfg.Keywords),
	}
}

// EnsureIndexes creates the review lookup index used by CountReviews.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	_, err := s.reviews.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "fkey", Value: 1}, {Key: "source", Value: 1}},
		Options: options.Index().SetName("fkey_source"),
	})
	if err != nil {
		return fmt.Errorf("create review index: %w", err)
	}
	return nil
}

// UpsertProduct replaces the whole product document, inserting it when new.
func (s *Store) UpsertProduct(ctx context.Context, product crawler.Product) error {
	if product.UID == "" {
		return fmt.Errorf("product uid is required")
	}
	_, err := s.products.ReplaceOne(ctx, bson.M{"_id": product.UID}, product, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("upsert product %s: %w", product.UID, err)
	}
	return nil
}

// CountReviews counts stored reviews for a product family and source kind.
func (s *Store) CountReviews(ctx context.Context, fkey string, source crawler.ReviewSource) (int64, error) {
	n, err := s.reviews.CountDocuments(ctx, bson.M{"fkey": fkey, "source": source})
	if err != nil {
		return 0, fmt.Errorf("count reviews: %w", err)
	}
	return n, nil
}

// ReviewExists looks a review up by its content hash.
func (s *Store) ReviewExists(ctx context.Context, id string) (bool, error) {
	err := s.reviews.FindOne(ctx, bson.M{"_id": id}, options.FindOne().SetProjection(bson.M{"_id": 1})).Err()
	if errors.Is(err, mongo.ErrNoDocuments) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("find review %s: %w", id, err)
	}
	return true, nil
}

// InsertReview inserts a review; a duplicate key yields crawler.ErrDuplicate.
func (s *Store) InsertReview(ctx context.Context, review crawler.Review) error {
	if review.ID == "" {
		return fmt.Errorf("review id is required")
	}
	if _, err := s.reviews.InsertOne(ctx, review); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("insert review %s: %w", review.ID, crawler.ErrDuplicate)
		}
		return fmt.Errorf("insert review %s: %w", review.ID, err)
	}
	return nil
}

type keywordDoc struct {
	Keyword string `bson:"_id"`
	Type    string `bson:"type"`
}

// Keywords returns the product-typed keywords in random order.
func (s *Store) Keywords(ctx context.Context) ([]string, error) {
	cursor, err := s.keywords.Find(ctx, bson.M{"type": keywordTypeProduct})
	if err != nil {
		return nil, fmt.Errorf("find keywords: %w", err)
	}
	var docs []keywordDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode keywords: %w", err)
	}
	keywords := make([]string, 0, len(docs))
	for _, doc := range docs {
		keywords = append(keywords, doc.Keyword)
	}
	return crawler.ShuffleKeywords(keywords), nil
}

// Close disconnects the client when the store owns it.
func (s *Store) Close(ctx context.Context) error {
	if s == nil || s.client == nil {
		return nil
	}
	if err := s.client.Disconnect(ctx); err != nil {
		return fmt.Errorf("disconnect mongo: %w", err)
	}
	return nil
}
