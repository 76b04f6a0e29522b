// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package websearch finds pages on allowed domains through DuckDuckGo's
// HTML endpoint and fetches their main text concurrently.
package websearch

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
)

const (
	// DefaultSearchURL is DuckDuckGo's JavaScript-free results page.
	DefaultSearchURL = "https://html.duckduckgo.com/html/"

	DefaultMaxResults    = 3
	DefaultFetchTimeout  = 5 * time.Second
	DefaultSearchTimeout = 10 * time.Second
	DefaultPoolSize      = 8

	defaultUserAgent = "Mozilla/5.0 (compatible; medrag/1.0)"
	maxBodyBytes     = 2 << 20
)

// Config controls search and fetch behavior.
type Config struct {
	SearchURL      string
	AllowedDomains []string // substrings matched against the host; empty allows every domain
	MaxResults     int
	QuerySuffix    string // appended to every search, e.g. preferred site names
	FetchTimeout   time.Duration
	SearchTimeout  time.Duration
	PoolSize       int
	UserAgent      string
}

// DefaultConfig returns a Config with default values and no domain restriction.
func DefaultConfig() Config {
	return Config{
		SearchURL:     DefaultSearchURL,
		MaxResults:    DefaultMaxResults,
		FetchTimeout:  DefaultFetchTimeout,
		SearchTimeout: DefaultSearchTimeout,
		PoolSize:      DefaultPoolSize,
		UserAgent:     defaultUserAgent,
	}
}

func (c Config) normalize() Config {
	d := DefaultConfig()
	if c.SearchURL == "" {
		c.SearchURL = d.SearchURL
	}
	if c.MaxResults <= 0 {
		c.MaxResults = d.MaxResults
	}
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = d.FetchTimeout
	}
	if c.SearchTimeout <= 0 {
		c.SearchTimeout = d.SearchTimeout
	}
	if c.PoolSize <= 0 {
		c.PoolSize = d.PoolSize
	}
	if c.UserAgent == "" {
		c.UserAgent = d.UserAgent
	}
	c.AllowedDomains = normalizeDomains(c.AllowedDomains)
	return c
}

// ParseDomains splits a comma-separated allow-list.
func ParseDomains(list string) []string {
	return normalizeDomains(strings.Split(list, ","))
}

func normalizeDomains(domains []string) []string {
	var out []string
	for _, d := range domains {
		if d = strings.ToLower(strings.TrimSpace(d)); d != "" {
			out = append(out, d)
		}
	}
	return out
}

// Page is the outcome of fetching one URL.
type Page struct {
	URL     string
	Text    string
	Success bool
}

// Client searches and fetches web pages.
type Client struct {
	config Config
	http   *http.Client
	pool   *ants.Pool
	logger *slog.Logger
}

// Option configures a Client.
type Option func(*Client) error

// WithHTTPClient replaces the HTTP client used for search and fetch.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) error {
		if hc != nil {
			c.http = hc
		}
		return nil
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) error {
		if logger == nil {
			logger = slog.Default()
		}
		c.logger = logger.With("component", "websearch")
		return nil
	}
}

// NewClient creates a client with its fetch worker pool.
// Caller must call Release when done.
func NewClient(cfg Config, opts ...Option) (*Client, error) {
	cfg = cfg.normalize()
	if _, err := url.Parse(cfg.SearchURL); err != nil {
		return nil, fmt.Errorf("invalid search url: %w", err)
	}

	pool, err := ants.NewPool(cfg.PoolSize)
	if err != nil {
		return nil, err
	}

	c := &Client{
		config: cfg,
		http:   &http.Client{},
		pool:   pool,
		logger: slog.Default().With("component", "websearch"),
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			c.Release()
			return nil, err
		}
	}
	return c, nil
}

// Release stops the fetch worker pool.
func (c *Client) Release() {
	if c.pool != nil {
		c.pool.Release()
	}
}

// SearchURLs returns up to MaxResults distinct result URLs on allowed domains.
func (c *Client) SearchURLs(ctx context.Context, query string) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.config.SearchTimeout)
	defer cancel()

	u, err := url.Parse(c.config.SearchURL)
	if err != nil {
		return nil, err
	}
	q := u.Query()
	q.Set("q", strings.TrimSpace(query+" "+c.config.QuerySuffix))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", c.config.UserAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSearchFailed, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", ErrSearchFailed, resp.StatusCode)
	}

	links, err := ParseResultLinks(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSearchFailed, err)
	}

	urls := FilterURLs(links, c.config.AllowedDomains, c.config.MaxResults)
	c.logger.Debug("web search", "query", query, "results", len(links), "allowed", len(urls))
	return urls, nil
}

// Fetch downloads one page and extracts its main text. Any failure,
// including a non-200 status or an empty extraction, yields Success false.
func (c *Client) Fetch(ctx context.Context, pageURL string) Page {
	page := Page{URL: pageURL}

	ctx, cancel := context.WithTimeout(ctx, c.config.FetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		c.logger.Warn("invalid fetch url", "url", pageURL, "err", err)
		return page
	}
	req.Header.Set("User-Agent", c.config.UserAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Warn("fetch failed", "url", pageURL, "err", err)
		return page
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		c.logger.Warn("fetch returned non-200", "url", pageURL, "status", resp.StatusCode)
		return page
	}

	text, err := ExtractText(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		c.logger.Warn("text extraction failed", "url", pageURL, "err", err)
		return page
	}
	page.Text = text
	page.Success = text != ""
	return page
}

// FetchAll fetches every URL on the worker pool and returns the pages that
// succeeded with non-empty text, in input order.
func (c *Client) FetchAll(ctx context.Context, urls []string) []Page {
	if len(urls) == 0 {
		return nil
	}

	pages := make([]Page, len(urls))
	var wg sync.WaitGroup
	for i, u := range urls {
		wg.Add(1)
		task := func() {
			defer wg.Done()
			pages[i] = c.Fetch(ctx, u)
		}
		if err := c.pool.Submit(task); err != nil {
			c.logger.Warn("fetch pool unavailable, fetching inline", "err", err)
			task()
		}
	}
	wg.Wait()

	var ok []Page
	for _, p := range pages {
		if p.Success && p.Text != "" {
			ok = append(ok, p)
		}
	}
	c.logger.Debug("fetched pages", "requested", len(urls), "succeeded", len(ok))
	return ok
}

// FilterURLs keeps the first limit distinct URLs on allowed domains.
// A non-positive limit disables the cap.
func FilterURLs(urls []string, allowed []string, limit int) []string {
	seen := make(map[string]bool, len(urls))
	var out []string
	for _, u := range urls {
		if u == "" || seen[u] || !IsAllowedDomain(u, allowed) {
			continue
		}
		seen[u] = true
		out = append(out, u)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}

// IsAllowedDomain reports whether rawURL is an http(s) URL whose host
// contains one of the allowed substrings. An empty list allows any host.
func IsAllowedDomain(rawURL string, allowed []string) bool {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return false
	}
	allowed = normalizeDomains(allowed)
	if len(allowed) == 0 {
		return true
	}
	host := strings.ToLower(u.Hostname())
	for _, d := range allowed {
		if strings.Contains(host, d) {
			return true
		}
	}
	return false
}
