// Package extract parses fetched HTML into title, visible text, metadata,
// and outbound links.
package extract

import (
	"bytes"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/agoralabs/agora-crawler/internal/urlutil"
)

// Content is the extracted view of one HTML page.
type Content struct {
	Title           string
	MetaDescription string
	Text            string
	Links           []urlutil.NormalizedURL
}

// Extractor turns HTML bodies into Content. Extraction is best-effort and
// never fails the crawl: malformed markup degrades to empty fields.
type Extractor struct {
	logger *zap.Logger
}

// New constructs an Extractor.
func New(logger *zap.Logger) *Extractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{logger: logger}
}

// Extract parses html and resolves every anchor target against base. Scope
// filtering of the returned links happens downstream; here a link only has
// to be a crawlable URL.
func (e *Extractor) Extract(html []byte, base urlutil.NormalizedURL) Content {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		e.logger.Debug("html parse failed; returning empty content",
			zap.String("url", base.String()), zap.Error(err))
		return Content{}
	}

	content := Content{
		Title:           strings.TrimSpace(doc.Find("title").First().Text()),
		MetaDescription: strings.TrimSpace(doc.Find(`meta[name="description"]`).First().AttrOr("content", "")),
		Links:           e.links(doc, base),
	}

	// Drop boilerplate before pulling visible text.
	doc.Find("script, style, noscript, nav, iframe").Remove()
	body := doc.Find("body")
	raw := body.Text()
	if body.Length() == 0 {
		raw = doc.Text()
	}
	content.Text = strings.Join(strings.Fields(raw), " ")

	return content
}

func (e *Extractor) links(doc *goquery.Document, base urlutil.NormalizedURL) []urlutil.NormalizedURL {
	baseURL := base.URL()
	seen := make(map[string]struct{})
	var links []urlutil.NormalizedURL

	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, ok := s.Attr("href")
		if !ok {
			return
		}
		link, err := urlutil.Normalize(href, baseURL)
		if err != nil {
			// Malformed and non-http links are skipped, never fatal.
			return
		}
		if _, dup := seen[link.Key()]; dup {
			return
		}
		seen[link.Key()] = struct{}{}
		links = append(links, link)
	})
	return links
}
