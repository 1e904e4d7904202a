// Package collyfetcher implements Fetcher using gocolly.
package collyfetcher

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/gocolly/colly/v2/extensions"
	"go.uber.org/zap"

	"github.com/JakeFAU/pricecompare-crawler/internal/crawler"
	"github.com/JakeFAU/pricecompare-crawler/internal/metrics"
)

// Config controls collector behavior.
type Config struct {
	Timeout     time.Duration
	MaxBodySize int
}

// Waiter throttles requests per host before they leave the process.
type Waiter interface {
	Wait(ctx context.Context, rawURL string) error
}

// Fetcher implements crawler.Fetcher using the Colly collector. Each request
// runs on a clone of the base collector so callbacks never cross requests.
type Fetcher struct {
	cfg           Config
	identity      crawler.IdentityProvider
	limiter       Waiter
	baseCollector *colly.Collector
	logger        *zap.Logger
}

var _ crawler.Fetcher = (*Fetcher)(nil)

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Fetcher. identity and limiter may be nil.
func New(cfg Config, identity crawler.IdentityProvider, limiter Waiter, logger *zap.Logger) *Fetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	f := &Fetcher{
		cfg:      cfg,
		identity: identity,
		limiter:  limiter,
		logger:   logger,
	}

	c := colly.NewCollector(colly.Async(false), colly.AllowURLRevisit())
	c.ParseHTTPErrorResponse = true
	if cfg.MaxBodySize > 0 {
		c.MaxBodySize = cfg.MaxBodySize
	}
	c.WithTransport(f.newHTTPTransport())
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	c.SetRequestTimeout(timeout)
	f.baseCollector = c
	return f
}

// Fetch executes a single GET or form POST using Colly.
func (f *Fetcher) Fetch(ctx context.Context, request crawler.FetchRequest) (crawler.FetchResponse, error) {
	if f.limiter != nil {
		if err := f.limiter.Wait(ctx, request.URL); err != nil {
			return crawler.FetchResponse{}, err
		}
	}

	var (
		result   crawler.FetchResponse
		fetchErr error
	)
	start := time.Now()
	collector := f.baseCollector.Clone()
	collector.Context = ctx
	extensions.RandomUserAgent(collector)
	f.configureCollectorHooks(collector, request, start, &result, &fetchErr)

	err := f.runCollector(ctx, collector, request, &fetchErr)
	status := strconv.Itoa(result.StatusCode)
	if err != nil && result.StatusCode == 0 {
		status = "error"
	}
	metrics.ObserveFetch(request.URL, status, len(result.Body))
	if err != nil {
		f.logger.Debug("fetch failed", zap.String("url", request.URL), zap.Error(err))
		return crawler.FetchResponse{}, err
	}
	return result, nil
}

func (f *Fetcher) configureCollectorHooks(
	hooks collectorHooks,
	request crawler.FetchRequest,
	start time.Time,
	result *crawler.FetchResponse,
	fetchErr *error,
) {
	hooks.OnRequest(func(r *colly.Request) {
		if f.identity != nil {
			if agent := f.identity.UserAgent(); agent != "" {
				r.Headers.Set("User-Agent", agent)
			}
		}
		f.copyHeaders(request, r)
	})

	hooks.OnResponse(func(r *colly.Response) {
		*result = crawler.FetchResponse{
			URL:        request.URL,
			FinalURL:   r.Request.URL.String(),
			StatusCode: r.StatusCode,
			Headers:    r.Headers.Clone(),
			Body:       append([]byte(nil), r.Body...),
			Duration:   time.Since(start),
		}
		if r.StatusCode < http.StatusOK || r.StatusCode >= http.StatusMultipleChoices {
			*fetchErr = &crawler.StatusError{URL: request.URL, StatusCode: r.StatusCode}
		}
	})

	hooks.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode != 0 {
			*fetchErr = &crawler.StatusError{URL: request.URL, StatusCode: r.StatusCode}
			return
		}
		*fetchErr = err
	})
}

func (f *Fetcher) runCollector(
	ctx context.Context,
	collector *colly.Collector,
	request crawler.FetchRequest,
	fetchErr *error,
) error {
	done := make(chan error, 1)
	go func() {
		if request.Method == http.MethodPost {
			done <- collector.Post(request.URL, request.Form)
			return
		}
		done <- collector.Visit(request.URL)
	}()

	select {
	case <-ctx.Done():
		// The request carries ctx, so the visit unwinds promptly. Waiting for
		// it keeps the callbacks from writing after Fetch reads the result.
		<-done
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if *fetchErr != nil {
			return fmt.Errorf("colly response failed: %w", *fetchErr)
		}
		if err != nil {
			return fmt.Errorf("colly visit failed: %w", err)
		}
		return nil
	}
}

func (f *Fetcher) copyHeaders(request crawler.FetchRequest, r *colly.Request) {
	for key, values := range request.Headers {
		r.Headers.Del(key)
		for _, v := range values {
			r.Headers.Add(key, v)
		}
	}
}

// proxyFor asks the identity provider for a proxy on every dial.
func (f *Fetcher) proxyFor(req *http.Request) (*url.URL, error) {
	if f.identity == nil {
		return http.ProxyFromEnvironment(req)
	}
	proxy, err := f.identity.Proxy()
	if err != nil {
		return nil, fmt.Errorf("select proxy: %w", err)
	}
	return proxy, nil
}

func (f *Fetcher) newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: f.proxyFor,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
