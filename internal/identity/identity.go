// Package identity supplies the outbound proxy and user agent for each request.
package identity

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/pricecompare-crawler/internal/crawler"
)

// Config controls where proxies and user agents come from.
type Config struct {
	Proxies       []string
	ProxyAPIURL   string
	ProxyAPIToken string
	// ProxyType narrows the proxy API listing to one proxy class.
	ProxyType     string
	UserAgents    []string
	Timeout       time.Duration
}

// Provider picks a random proxy and user agent from fixed pools.
type Provider struct {
	proxies []*url.URL
	agents  []string
}

var _ crawler.IdentityProvider = (*Provider)(nil)

// New builds a provider from static proxies plus, when configured, the list
// served by the proxy API.
func New(ctx context.Context, cfg Config, client *http.Client, logger *zap.Logger) (*Provider, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Provider{}
	for _, agent := range cfg.UserAgents {
		if agent = strings.TrimSpace(agent); agent != "" {
			p.agents = append(p.agents, agent)
		}
	}
	for _, raw := range cfg.Proxies {
		u, err := parseProxy(raw)
		if err != nil {
			return nil, err
		}
		p.proxies = append(p.proxies, u)
	}
	if cfg.ProxyAPIURL != "" {
		fetched, err := fetchProxies(ctx, cfg, client)
		if err != nil {
			return nil, err
		}
		p.proxies = append(p.proxies, fetched...)
	}
	logger.Info("identity pool ready",
		zap.Int("proxies", len(p.proxies)),
		zap.Int("user_agents", len(p.agents)),
	)
	return p, nil
}

// Proxy returns a random proxy, or nil when the pool is empty.
func (p *Provider) Proxy() (*url.URL, error) {
	if len(p.proxies) == 0 {
		return nil, nil
	}
	return p.proxies[pick(len(p.proxies))], nil
}

// UserAgent returns a random configured agent, or "" to defer to the fetcher.
func (p *Provider) UserAgent() string {
	if len(p.agents) == 0 {
		return ""
	}
	return p.agents[pick(len(p.agents))]
}

func pick(n int) int {
	i, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		return 0
	}
	return int(i.Int64())
}

func parseProxy(raw string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, fmt.Errorf("parse proxy %q: %w", raw, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("proxy %q must include scheme and host", raw)
	}
	return u, nil
}

type proxyEntry struct {
	Protocol string     `json:"protocol"`
	User     string     `json:"user"`
	Password string     `json:"password"`
	IP       string     `json:"ip"`
	Port     portNumber `json:"port"`
}

// portNumber accepts the port as either a JSON number or string.
type portNumber string

func (p *portNumber) UnmarshalJSON(data []byte) error {
	var n json.Number
	if err := json.Unmarshal(data, &n); err == nil {
		*p = portNumber(n.String())
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("decode port: %w", err)
	}
	*p = portNumber(s)
	return nil
}

func (e proxyEntry) url() (*url.URL, error) {
	if e.IP == "" || e.Port == "" {
		return nil, fmt.Errorf("proxy entry missing ip or port")
	}
	if _, err := strconv.Atoi(string(e.Port)); err != nil {
		return nil, fmt.Errorf("proxy entry port %q: %w", e.Port, err)
	}
	scheme := strings.ToLower(e.Protocol)
	if scheme == "" {
		scheme = "http"
	}
	u := &url.URL{Scheme: scheme, Host: e.IP + ":" + string(e.Port)}
	if e.User != "" {
		u.User = url.UserPassword(e.User, e.Password)
	}
	return u, nil
}

func fetchProxies(ctx context.Context, cfg Config, client *http.Client) ([]*url.URL, error) {
	if client == nil {
		client = http.DefaultClient
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	endpoint, err := url.Parse(cfg.ProxyAPIURL)
	if err != nil {
		return nil, fmt.Errorf("parse proxy api url: %w", err)
	}
	if cfg.ProxyType != "" {
		q := endpoint.Query()
		q.Set("type", cfg.ProxyType)
		endpoint.RawQuery = q.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("build proxy api request: %w", err)
	}
	if cfg.ProxyAPIToken != "" {
		req.Header.Set("Authorization", "Token "+cfg.ProxyAPIToken)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call proxy api: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &crawler.StatusError{URL: cfg.ProxyAPIURL, StatusCode: resp.StatusCode}
	}

	var entries []proxyEntry
	if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
		return nil, fmt.Errorf("decode proxy api response: %w", err)
	}
	out := make([]*url.URL, 0, len(entries))
	for _, entry := range entries {
		u, err := entry.url()
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, nil
}
