package source

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/antchfx/xmlquery"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/JakeFAU/repack-catalog/internal/catalog"
	"github.com/JakeFAU/repack-catalog/internal/htmlutil"
)

const (
	// DefaultFeedPath is the RSS feed on the source site.
	DefaultFeedPath = "/feed/"
	// DefaultReleaseCategory marks feed items that announce a release.
	DefaultReleaseCategory = "Lossless Repack"
)

var pubDateLayouts = []string{time.RFC1123Z, time.RFC1123}

// Feed reads release announcements from the syndication feed.
type Feed struct {
	fetcher  catalog.Fetcher
	url      string
	category string
}

// NewFeed builds a Feed reading feedURL and keeping items tagged with category.
func NewFeed(fetcher catalog.Fetcher, feedURL, category string) (*Feed, error) {
	if fetcher == nil {
		return nil, fmt.Errorf("fetcher is required")
	}
	u, err := url.Parse(feedURL)
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("invalid feed url %q", feedURL)
	}
	if category == "" {
		category = DefaultReleaseCategory
	}
	return &Feed{fetcher: fetcher, url: u.String(), category: category}, nil
}

// URL returns the feed location.
func (f *Feed) URL() string { return f.url }

// FetchItems returns release items in feed order, newest first. Any fetch or
// parse failure is a *catalog.FeedFetchError.
func (f *Feed) FetchItems(ctx context.Context) ([]catalog.FeedItem, error) {
	ctx, span := tracer.Start(ctx, "Feed.FetchItems")
	defer span.End()

	resp, err := f.fetcher.Fetch(ctx, f.url)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "fetch failed")
		return nil, &catalog.FeedFetchError{URL: f.url, Err: err}
	}
	items, err := ParseFeed(resp.Body, f.category)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "parse failed")
		return nil, &catalog.FeedFetchError{URL: f.url, Err: err}
	}
	span.SetAttributes(attribute.Int("items", len(items)))
	return items, nil
}

// ParseFeed reads an RSS 2.0 document and keeps the items carrying category.
func ParseFeed(body []byte, category string) ([]catalog.FeedItem, error) {
	doc, err := xmlquery.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse feed: %w", err)
	}
	channel := xmlquery.FindOne(doc, "//channel")
	if channel == nil {
		return nil, fmt.Errorf("parse feed: channel element is missing")
	}

	items := make([]catalog.FeedItem, 0)
	for _, node := range xmlquery.Find(channel, "item") {
		item := catalog.FeedItem{
			Title: htmlutil.Decode(childText(node, "title")),
			Link:  strings.TrimSpace(childText(node, "link")),
		}
		for _, c := range node.SelectElements("category") {
			item.Categories = append(item.Categories, strings.TrimSpace(c.InnerText()))
		}
		if !hasCategory(item.Categories, category) || item.Title == "" || item.Link == "" {
			continue
		}
		item.PublishedAt = parsePubDate(childText(node, "pubDate"))
		items = append(items, item)
	}
	return items, nil
}

func childText(node *xmlquery.Node, name string) string {
	child := node.SelectElement(name)
	if child == nil {
		return ""
	}
	return child.InnerText()
}

func hasCategory(categories []string, want string) bool {
	for _, c := range categories {
		if c == want {
			return true
		}
	}
	return false
}

// parsePubDate returns the zero time when raw matches no known layout.
func parsePubDate(raw string) time.Time {
	raw = strings.TrimSpace(raw)
	for _, layout := range pubDateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}
