// Package extract turns a release detail page into a validated
// catalog.ExtractedRelease.
package extract

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"golang.org/x/net/html"

	"github.com/JakeFAU/repack-catalog/internal/catalog"
	"github.com/JakeFAU/repack-catalog/internal/htmlutil"
)

var tracer = otel.Tracer("repack-catalog/internal/extract")

const (
	// DefaultPinkPawToken is the style fragment that marks a pink paw release.
	DefaultPinkPawToken = "#ff00ff"
	// DefaultDescriptionTitle labels the collapsible game description block.
	DefaultDescriptionTitle = "Game Description"
)

// Config tunes page interpretation.
type Config struct {
	PinkPawToken     string
	DescriptionTitle string
}

func (c Config) withDefaults() Config {
	if c.PinkPawToken == "" {
		c.PinkPawToken = DefaultPinkPawToken
	}
	if c.DescriptionTitle == "" {
		c.DescriptionTitle = DefaultDescriptionTitle
	}
	return c
}

// Extractor fetches and parses release detail pages.
type Extractor struct {
	fetcher catalog.Fetcher
	cfg     Config
	logger  *zap.Logger
}

// New builds an Extractor.
func New(fetcher catalog.Fetcher, cfg Config, logger *zap.Logger) *Extractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{fetcher: fetcher, cfg: cfg.withDefaults(), logger: logger}
}

// Extract fetches link and parses it. Every failure is a *catalog.ExtractionError.
func (e *Extractor) Extract(ctx context.Context, link string) (catalog.ExtractedRelease, error) {
	ctx, span := tracer.Start(ctx, "Extractor.Extract")
	defer span.End()
	span.SetAttributes(attribute.String("url", link))

	resp, err := e.fetcher.Fetch(ctx, link)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "fetch failed")
		return catalog.ExtractedRelease{}, &catalog.ExtractionError{URL: link, Err: err}
	}
	rel, err := Parse(resp.Body, link, e.cfg)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "parse failed")
		return catalog.ExtractedRelease{}, err
	}
	e.logger.Debug("extracted release",
		zap.String("title", rel.Title),
		zap.String("link", link),
		zap.Int("genres", len(rel.Genres)),
		zap.Int("mirrors", len(rel.Mirrors)),
		zap.Bool("pink_paw", rel.PinkPaw),
	)
	return rel, nil
}

// Parse interprets a detail page body fetched from link.
func Parse(body []byte, link string, cfg Config) (catalog.ExtractedRelease, error) {
	cfg = cfg.withDefaults()
	fail := func(err error) (catalog.ExtractedRelease, error) {
		return catalog.ExtractedRelease{}, &catalog.ExtractionError{URL: link, Err: err}
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return fail(fmt.Errorf("parse html: %w", err))
	}
	content, err := contentRegion(doc)
	if err != nil {
		return fail(err)
	}

	base, _ := url.Parse(link)
	p := &pageParser{
		content: content,
		base:    base,
		rel:     catalog.ExtractedRelease{Link: strings.TrimSpace(link)},
	}
	p.rel.PinkPaw = hasStyleToken(content, cfg.PinkPawToken)

	published, ok := doc.Find(`meta[property="article:published_time"]`).First().Attr("content")
	if !ok || strings.TrimSpace(published) == "" {
		return fail(fmt.Errorf("published time is missing"))
	}
	p.rel.PublishedAt, err = time.Parse(time.RFC3339, strings.TrimSpace(published))
	if err != nil {
		return fail(fmt.Errorf("published time %q: %w", published, err))
	}

	p.rel.Title = htmlutil.Text(doc.Find(".entry-title"))
	if p.rel.Title == "" {
		return fail(fmt.Errorf("title is missing"))
	}

	if src, ok := content.Find("h3 + p > a > img").First().Attr("src"); ok {
		p.rel.CoverImage = htmlutil.Resolve(base, src)
	}

	p.parseSections()
	if err := p.parseLabels(); err != nil {
		return fail(err)
	}
	p.rel.GameDescription = gameDescription(content, cfg.DescriptionTitle)

	if err := validate(p.rel); err != nil {
		return fail(err)
	}
	return p.rel, nil
}

type pageParser struct {
	content *goquery.Selection
	base    *url.URL
	rel     catalog.ExtractedRelease
}

func (p *pageParser) parseSections() {
	p.content.Find("h3 + *").Each(func(_ int, section *goquery.Selection) {
		heading := section.Prev().Text()
		if rule, ok := matchSection(heading); ok {
			rule.apply(p, section)
		}
	})
}

func (p *pageParser) parseLabels() error {
	var labelErr error
	p.content.Find("h3 + p strong").EachWithBreak(func(_ int, strong *goquery.Selection) bool {
		prev := strong.Nodes[0].PrevSibling
		label := nodeText(prev)
		if label == "" {
			labelErr = fmt.Errorf("label is missing for value %q", strings.TrimSpace(strong.Text()))
			return false
		}
		if rule, ok := matchLabel(label); ok {
			rule.apply(&p.rel, strong.Text())
		}
		return true
	})
	return labelErr
}

// contentRegion returns the primary content container, or a container built
// from the siblings after the page header up to the first style block.
func contentRegion(doc *goquery.Document) (*goquery.Selection, error) {
	if content := doc.Find(".entry-content").First(); content.Length() > 0 {
		return content, nil
	}
	header := doc.Find("header.entry-header").First()
	if header.Length() == 0 {
		return nil, fmt.Errorf("content region is missing")
	}

	var buf strings.Builder
	buf.WriteString("<div>")
	header.NextAll().EachWithBreak(func(_ int, el *goquery.Selection) bool {
		if goquery.NodeName(el) == "style" {
			return false
		}
		outer, err := goquery.OuterHtml(el)
		if err == nil {
			buf.WriteString(outer)
		}
		return true
	})
	buf.WriteString("</div>")

	wrapped, err := goquery.NewDocumentFromReader(strings.NewReader(buf.String()))
	if err != nil {
		return nil, fmt.Errorf("build fallback content region: %w", err)
	}
	return wrapped.Find("body > div").First(), nil
}

func hasStyleToken(content *goquery.Selection, token string) bool {
	token = strings.ToLower(token)
	matches := func(s *goquery.Selection) bool {
		style, ok := s.Attr("style")
		return ok && strings.Contains(strings.ToLower(style), token)
	}
	if matches(content) {
		return true
	}
	found := false
	content.Find("[style]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		found = matches(s)
		return !found
	})
	return found
}

// gameDescription returns the inner markup of the spoiler block titled title.
func gameDescription(content *goquery.Selection, title string) string {
	var desc string
	content.Find(".su-spoiler").EachWithBreak(func(_ int, spoiler *goquery.Selection) bool {
		if !strings.EqualFold(htmlutil.Text(spoiler.Find(".su-spoiler-title")), title) {
			return true
		}
		desc = htmlutil.InnerHTML(spoiler.Find(".su-spoiler-content"))
		return false
	})
	return desc
}

func nodeText(n *html.Node) string {
	if n == nil {
		return ""
	}
	if n.Type == html.TextNode {
		return n.Data
	}
	var b strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		b.WriteString(nodeText(c))
	}
	return b.String()
}

func validate(rel catalog.ExtractedRelease) error {
	var missing []string
	if rel.Title == "" {
		missing = append(missing, "title")
	}
	if !htmlutil.IsAbsoluteURL(rel.Link) {
		missing = append(missing, "link")
	}
	if rel.PublishedAt.IsZero() {
		missing = append(missing, "publishedAt")
	}
	if rel.CoverImage == "" {
		missing = append(missing, "coverImage")
	}
	if rel.OriginalSize == "" {
		missing = append(missing, "originalSize")
	}
	if rel.RepackSize == "" {
		missing = append(missing, "repackSize")
	}
	if len(missing) > 0 {
		return &catalog.ValidationError{Fields: missing}
	}
	return nil
}
