// Package extractor holds the site-specific extractors the bot ships with and
// the HTTP plumbing they share.
package extractor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/time/rate"

	"unfurlbot/pkg/config"
)

// ErrNoContent marks a fetch that completed but had nothing usable
// (non-200 status, wrong content type, missing element).
var ErrNoContent = errors.New("no content")

// Page is a fetched HTTP response with its body read.
type Page struct {
	URL         *url.URL
	StatusCode  int
	Header      http.Header
	Body        []byte
	ContentType string
}

// IsHTML reports whether the response declared an HTML body.
func (p *Page) IsHTML() bool {
	return p.ContentType == "text/html" || p.ContentType == "application/xhtml+xml"
}

// Document parses the body as HTML.
func (p *Page) Document() (*goquery.Document, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(p.Body))
	if err != nil {
		return nil, fmt.Errorf("parse html from %s: %w", p.URL, err)
	}
	return doc, nil
}

// Fetcher performs the outbound requests of every extractor. Requests to the
// same host are throttled by a shared token bucket.
type Fetcher struct {
	client         *http.Client
	userAgent      string
	acceptLanguage string
	maxBody        int64
	limit          rate.Limit
	burst          int

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewFetcher builds a fetcher from fetch settings. client may be nil.
func NewFetcher(cfg config.FetchConfig, client *http.Client) *Fetcher {
	if client == nil {
		client = &http.Client{}
	}
	if cfg.TimeoutSeconds > 0 {
		withTimeout := *client
		withTimeout.Timeout = cfg.Timeout()
		client = &withTimeout
	}

	userAgent := strings.TrimSpace(cfg.UserAgent)
	if userAgent == "" {
		userAgent = config.DefaultUserAgent
	}
	acceptLanguage := strings.TrimSpace(cfg.AcceptLanguage)
	if acceptLanguage == "" {
		acceptLanguage = config.DefaultAcceptLanguage
	}

	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}

	return &Fetcher{
		client:         client,
		userAgent:      userAgent,
		acceptLanguage: acceptLanguage,
		maxBody:        cfg.MaxBodyBytes,
		limit:          limit,
		burst:          burst,
		limiters:       make(map[string]*rate.Limiter),
	}
}

// Get fetches rawURL and returns the page whatever the status code.
func (f *Fetcher) Get(ctx context.Context, rawURL string, referer string) (*Page, error) {
	req, err := f.newRequest(ctx, http.MethodGet, rawURL, referer)
	if err != nil {
		return nil, err
	}

	resp, err := f.do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var reader io.Reader = resp.Body
	if f.maxBody > 0 {
		reader = io.LimitReader(resp.Body, f.maxBody)
	}
	body, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", rawURL, err)
	}

	contentType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))

	return &Page{
		URL:         resp.Request.URL,
		StatusCode:  resp.StatusCode,
		Header:      resp.Header,
		Body:        body,
		ContentType: strings.ToLower(contentType),
	}, nil
}

// GetOK fetches rawURL and fails with ErrNoContent unless the status is 200.
func (f *Fetcher) GetOK(ctx context.Context, rawURL string) (*Page, error) {
	page, err := f.Get(ctx, rawURL, "")
	if err != nil {
		return nil, err
	}
	if page.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: %s returned %d", ErrNoContent, rawURL, page.StatusCode)
	}
	return page, nil
}

// Document fetches rawURL and parses it as HTML. Non-200 responses fail with ErrNoContent.
func (f *Fetcher) Document(ctx context.Context, rawURL string) (*goquery.Document, error) {
	page, err := f.GetOK(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	return page.Document()
}

// Headers returns the response headers for rawURL without reading the body.
func (f *Fetcher) Headers(ctx context.Context, rawURL string) (http.Header, error) {
	req, err := f.newRequest(ctx, http.MethodGet, rawURL, "")
	if err != nil {
		return nil, err
	}

	resp, err := f.do(req)
	if err != nil {
		return nil, err
	}
	_ = resp.Body.Close()

	return resp.Header, nil
}

func (f *Fetcher) newRequest(ctx context.Context, method string, rawURL string, referer string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request for %s: %w", rawURL, err)
	}

	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept-Language", f.acceptLanguage)
	if referer != "" {
		req.Header.Set("Referer", referer)
	}
	return req, nil
}

func (f *Fetcher) do(req *http.Request) (*http.Response, error) {
	if err := f.limiter(req.URL.Hostname()).Wait(req.Context()); err != nil {
		return nil, fmt.Errorf("wait for %s rate limit: %w", req.URL.Hostname(), err)
	}

	started := time.Now()
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s after %s: %w", req.URL, time.Since(started).Round(time.Millisecond), err)
	}
	return resp, nil
}

// limiter returns the token bucket for host, creating it on first use.
func (f *Fetcher) limiter(host string) *rate.Limiter {
	host = strings.ToLower(host)

	f.mu.Lock()
	defer f.mu.Unlock()

	limiter, ok := f.limiters[host]
	if !ok {
		limiter = rate.NewLimiter(f.limit, f.burst)
		f.limiters[host] = limiter
	}
	return limiter
}

// attrOf returns the first selection's attribute or fails with ErrNoContent.
func attrOf(doc *goquery.Document, selector string, name string) (string, error) {
	value, ok := doc.Find(selector).First().Attr(name)
	value = strings.TrimSpace(value)
	if !ok || value == "" {
		return "", fmt.Errorf("%w: %s[%s] not found", ErrNoContent, selector, name)
	}
	return value, nil
}

// textOf returns the first selection's trimmed text or fails with ErrNoContent.
func textOf(doc *goquery.Document, selector string) (string, error) {
	selection := doc.Find(selector).First()
	if selection.Length() == 0 {
		return "", fmt.Errorf("%w: %s not found", ErrNoContent, selector)
	}
	return strings.TrimSpace(selection.Text()), nil
}
