package extractor

import (
	"bytes"
	"context"
	"strings"

	"github.com/PuerkitoBio/goquery"
	readability "github.com/go-shiori/go-readability"

	"unfurlbot/pkg/dispatch"
)

// PageMeta is the title and preview image of an HTML page.
type PageMeta struct {
	Title string
	Image string
}

// PageExtractor unfurls any http(s) URL into its escaped form (when escaping
// changed it), its title and its preview image.
type PageExtractor struct {
	fetcher   *Fetcher
	withImage bool
}

// NewPageExtractor returns the catch-all URL extractor.
func NewPageExtractor(fetcher *Fetcher) *PageExtractor {
	return &PageExtractor{fetcher: fetcher, withImage: true}
}

// NewTitleExtractor is like NewPageExtractor but leaves out the image.
func NewTitleExtractor(fetcher *Fetcher) *PageExtractor {
	return &PageExtractor{fetcher: fetcher}
}

func (e *PageExtractor) Extract(ctx context.Context, m dispatch.Match) (string, error) {
	rawURL := m.Group(1)
	if rawURL == "" {
		rawURL = m.Span
	}
	return e.Describe(ctx, rawURL)
}

// Describe fetches rawURL and formats its metadata one item per line.
func (e *PageExtractor) Describe(ctx context.Context, rawURL string) (string, error) {
	escaped, err := EscapeURL(rawURL)
	if err != nil {
		return "", err
	}

	meta, err := e.Meta(ctx, escaped)
	if err != nil {
		return "", err
	}

	var lines []string
	if escaped != rawURL {
		lines = append(lines, escaped)
	}
	if meta.Title != "" {
		lines = append(lines, meta.Title)
	}
	if e.withImage && meta.Image != "" {
		lines = append(lines, meta.Image)
	}
	return strings.Join(lines, "\n"), nil
}

// Meta fetches rawURL and scrapes its metadata. Non-HTML or non-200
// responses yield empty metadata, not an error.
func (e *PageExtractor) Meta(ctx context.Context, rawURL string) (PageMeta, error) {
	page, err := e.fetcher.Get(ctx, rawURL, "")
	if err != nil {
		return PageMeta{}, err
	}
	if page.StatusCode != 200 || !page.IsHTML() {
		return PageMeta{}, nil
	}

	return scrapeMeta(page)
}

// scrapeMeta prefers <title>, then og:title, then twitter:title, and
// og:image for the image. Readability fills whatever the tags leave out.
func scrapeMeta(page *Page) (PageMeta, error) {
	doc, err := page.Document()
	if err != nil {
		return PageMeta{}, err
	}

	meta := PageMeta{
		Title: firstNonEmpty(
			strings.TrimSpace(doc.Find("title").First().Text()),
			metaContent(doc, `meta[property="og:title"]`),
			metaContent(doc, `meta[property="twitter:title"]`),
			metaContent(doc, `meta[name="twitter:title"]`),
		),
		Image: metaContent(doc, `meta[property="og:image"]`),
	}

	if meta.Title == "" || meta.Image == "" {
		article, err := readability.FromReader(bytes.NewReader(page.Body), page.URL)
		if err == nil {
			meta.Title = firstNonEmpty(meta.Title, strings.TrimSpace(article.Title))
			meta.Image = firstNonEmpty(meta.Image, strings.TrimSpace(article.Image))
		}
	}

	return meta, nil
}

func metaContent(doc *goquery.Document, selector string) string {
	value, _ := doc.Find(selector).First().Attr("content")
	return strings.TrimSpace(value)
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if value != "" {
			return value
		}
	}
	return ""
}
