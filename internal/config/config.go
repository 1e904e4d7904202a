// Package config loads and validates crawler configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/pricecompare-crawler/internal/crawler"
)

// Provider names accepted by the pluggable sections.
const (
	ProviderNone     = "none"
	ProviderMemory   = "memory"
	ProviderRedis    = "redis"
	ProviderMongo    = "mongo"
	ProviderPostgres = "postgres"
	ProviderLocal    = "local"
	ProviderGCS      = "gcs"
	ProviderPubSub   = "pubsub"

	KeywordsFromStore  = "store"
	KeywordsFromStatic = "static"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Logging    LoggingConfig      `mapstructure:"logging"`
	Site       crawler.Site       `mapstructure:"site"`
	Politeness crawler.Politeness `mapstructure:"politeness"`
	HTTP       HTTPConfig         `mapstructure:"http"`
	Queue      QueueConfig        `mapstructure:"queue"`
	Store      StoreConfig        `mapstructure:"store"`
	Keywords   KeywordsConfig     `mapstructure:"keywords"`
	Discovery  DiscoveryConfig    `mapstructure:"discovery"`
	Archive    ArchiveConfig      `mapstructure:"archive"`
	Notify     NotifyConfig       `mapstructure:"notify"`
	Ops        OpsConfig          `mapstructure:"ops"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// HTTPConfig controls the outbound client and its identity pool.
type HTTPConfig struct {
	Timeout       time.Duration `mapstructure:"timeout"`
	MaxRPS        float64       `mapstructure:"max_rps"`
	Burst         int           `mapstructure:"burst"`
	MaxBodySize   int           `mapstructure:"max_body_size"`
	Proxies       []string      `mapstructure:"proxies"`
	ProxyAPIURL   string        `mapstructure:"proxy_api_url"`
	ProxyAPIToken string        `mapstructure:"proxy_api_token"`
	ProxyType     string        `mapstructure:"proxy_type"`
	UserAgents    []string      `mapstructure:"user_agents"`
}

// QueueConfig selects the lane backend and sizes the worker pools.
type QueueConfig struct {
	Provider      string        `mapstructure:"provider"`
	RedisAddr     string        `mapstructure:"redis_addr"`
	RedisPassword string        `mapstructure:"redis_password"`
	RedisDB       int           `mapstructure:"redis_db"`
	KeyPrefix     string        `mapstructure:"key_prefix"`
	PollInterval  time.Duration `mapstructure:"poll_interval"`
	ClaimGrace    time.Duration `mapstructure:"claim_grace"`
	Capacity      int           `mapstructure:"capacity"`
	JobTimeout    time.Duration `mapstructure:"job_timeout"`
	ResultTTL     time.Duration `mapstructure:"result_ttl"`
	ReapInterval  time.Duration `mapstructure:"reap_interval"`
	FetchWorkers  int           `mapstructure:"fetch_workers"`
	ReviewWorkers int           `mapstructure:"review_workers"`
}

// JobOptions returns the limits stamped onto new jobs.
func (q QueueConfig) JobOptions() crawler.JobOptions {
	return crawler.JobOptions{Timeout: q.JobTimeout, ResultTTL: q.ResultTTL}
}

// Durable reports whether enqueued jobs outlive the process that queued them.
func (q QueueConfig) Durable() bool {
	return q.Provider == ProviderRedis
}

// StoreConfig selects the document store.
type StoreConfig struct {
	Provider string         `mapstructure:"provider"`
	Mongo    MongoConfig    `mapstructure:"mongo"`
	Postgres PostgresConfig `mapstructure:"postgres"`
}

// MongoConfig names the Mongo deployment and collections.
type MongoConfig struct {
	URI      string        `mapstructure:"uri"`
	Database string        `mapstructure:"database"`
	Products string        `mapstructure:"products"`
	Reviews  string        `mapstructure:"reviews"`
	Keywords string        `mapstructure:"keywords"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// PostgresConfig holds the pool DSN and table names.
type PostgresConfig struct {
	DSN           string `mapstructure:"dsn"`
	ProductsTable string `mapstructure:"products_table"`
	ReviewsTable  string `mapstructure:"reviews_table"`
	KeywordsTable string `mapstructure:"keywords_table"`
	MaxConns      int32  `mapstructure:"max_conns"`
}

// KeywordsConfig selects where discovery keywords come from.
type KeywordsConfig struct {
	Source string   `mapstructure:"source"`
	Static []string `mapstructure:"static"`
}

// DiscoveryConfig controls discovery cycles.
type DiscoveryConfig struct {
	Parallelism int    `mapstructure:"parallelism"`
	Schedule    string `mapstructure:"schedule"`
}

// ArchiveConfig selects where fetched detail pages are archived.
type ArchiveConfig struct {
	Provider string `mapstructure:"provider"`
	BaseDir  string `mapstructure:"base_dir"`
	Bucket   string `mapstructure:"bucket"`
	Prefix   string `mapstructure:"prefix"`
}

// NotifyConfig selects the operator failure channel.
type NotifyConfig struct {
	Provider  string `mapstructure:"provider"`
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// OpsConfig controls the operator HTTP server.
type OpsConfig struct {
	Addr   string `mapstructure:"addr"`
	APIKey string `mapstructure:"api_key"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("PRICECRAWLER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	site := crawler.DefaultSite()
	polite := crawler.DefaultPoliteness()

	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "info")
	v.SetDefault("site.search_url", site.SearchURL)
	v.SetDefault("site.search_page_url", site.SearchPageURL)
	v.SetDefault("site.native_review_url", site.NativeReviewURL)
	v.SetDefault("site.mall_review_url", site.MallReviewURL)
	v.SetDefault("site.bridge_prefix", site.BridgePrefix)
	v.SetDefault("site.search_page_size", site.SearchPageSize)
	v.SetDefault("site.review_page_size", site.ReviewPageSize)
	v.SetDefault("politeness.search_page.min", polite.SearchPage.Min)
	v.SetDefault("politeness.search_page.max", polite.SearchPage.Max)
	v.SetDefault("politeness.detail.min", polite.Detail.Min)
	v.SetDefault("politeness.detail.max", polite.Detail.Max)
	v.SetDefault("politeness.review_page.min", polite.ReviewPage.Min)
	v.SetDefault("politeness.review_page.max", polite.ReviewPage.Max)
	v.SetDefault("http.timeout", 60*time.Second)
	v.SetDefault("http.max_rps", 1.0)
	v.SetDefault("http.burst", 1)
	v.SetDefault("queue.provider", ProviderMemory)
	v.SetDefault("queue.redis_addr", "localhost:6379")
	v.SetDefault("queue.key_prefix", "pricecrawler")
	v.SetDefault("queue.poll_interval", time.Second)
	v.SetDefault("queue.claim_grace", time.Minute)
	v.SetDefault("queue.capacity", 1024)
	v.SetDefault("queue.job_timeout", crawler.DefaultJobTimeout)
	v.SetDefault("queue.result_ttl", crawler.DefaultResultTTL)
	v.SetDefault("queue.reap_interval", 30*time.Second)
	v.SetDefault("queue.fetch_workers", 1)
	v.SetDefault("queue.review_workers", 1)
	v.SetDefault("store.provider", ProviderMemory)
	v.SetDefault("store.mongo.database", "pricecompare")
	v.SetDefault("store.mongo.timeout", 10*time.Second)
	v.SetDefault("keywords.source", KeywordsFromStore)
	v.SetDefault("discovery.schedule", "@every 24h")
	v.SetDefault("archive.provider", ProviderNone)
	v.SetDefault("archive.prefix", "pages")
	v.SetDefault("notify.provider", ProviderNone)
	v.SetDefault("notify.topic", "crawler-failures")
	v.SetDefault("ops.addr", ":8080")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Site.SearchURL == "" || c.Site.NativeReviewURL == "" || c.Site.MallReviewURL == "" {
		return fmt.Errorf("site endpoints must be set")
	}
	if c.Site.SearchPageSize <= 0 || c.Site.ReviewPageSize <= 0 {
		return fmt.Errorf("site page sizes must be > 0")
	}
	for name, d := range map[string]crawler.Delay{
		"search_page": c.Politeness.SearchPage,
		"detail":      c.Politeness.Detail,
		"review_page": c.Politeness.ReviewPage,
	} {
		if d.Min < 0 || d.Max < d.Min {
			return fmt.Errorf("politeness.%s must satisfy 0 <= min <= max", name)
		}
	}
	if c.HTTP.Timeout <= 0 {
		return fmt.Errorf("http.timeout must be > 0")
	}
	if c.Queue.JobTimeout <= 0 {
		return fmt.Errorf("queue.job_timeout must be > 0")
	}
	if c.Queue.FetchWorkers <= 0 || c.Queue.ReviewWorkers <= 0 {
		return fmt.Errorf("queue worker counts must be > 0")
	}
	switch c.Queue.Provider {
	case ProviderMemory:
	case ProviderRedis:
		if c.Queue.RedisAddr == "" {
			return fmt.Errorf("queue.redis_addr is required for the redis provider")
		}
	default:
		return fmt.Errorf("unknown queue.provider %q", c.Queue.Provider)
	}
	switch c.Store.Provider {
	case ProviderMemory:
	case ProviderMongo:
		if c.Store.Mongo.URI == "" {
			return fmt.Errorf("store.mongo.uri is required for the mongo provider")
		}
	case ProviderPostgres:
		if c.Store.Postgres.DSN == "" {
			return fmt.Errorf("store.postgres.dsn is required for the postgres provider")
		}
	default:
		return fmt.Errorf("unknown store.provider %q", c.Store.Provider)
	}
	switch c.Keywords.Source {
	case KeywordsFromStore:
	case KeywordsFromStatic:
		if len(c.Keywords.Static) == 0 {
			return fmt.Errorf("keywords.static must list at least one keyword")
		}
	default:
		return fmt.Errorf("unknown keywords.source %q", c.Keywords.Source)
	}
	switch c.Archive.Provider {
	case ProviderNone, ProviderMemory:
	case ProviderLocal:
		if c.Archive.BaseDir == "" {
			return fmt.Errorf("archive.base_dir is required for the local provider")
		}
	case ProviderGCS:
		if c.Archive.Bucket == "" {
			return fmt.Errorf("archive.bucket is required for the gcs provider")
		}
	default:
		return fmt.Errorf("unknown archive.provider %q", c.Archive.Provider)
	}
	switch c.Notify.Provider {
	case ProviderNone, ProviderMemory:
	case ProviderPubSub:
		if c.Notify.ProjectID == "" || c.Notify.Topic == "" {
			return fmt.Errorf("notify.project_id and notify.topic are required for the pubsub provider")
		}
	default:
		return fmt.Errorf("unknown notify.provider %q", c.Notify.Provider)
	}
	return nil
}
