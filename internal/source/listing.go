package source

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/JakeFAU/repack-catalog/internal/catalog"
	"github.com/JakeFAU/repack-catalog/internal/htmlutil"
)

var tracer = otel.Tracer("repack-catalog/internal/source")

const (
	// DefaultListingPath is the A-Z index on the source site.
	DefaultListingPath = "/all-my-repacks-a-z/"
	listingPageParam   = "lcp_page0"
	listingContainer   = ".lcp_catlist"
)

// Listing reads pages of the A-Z catalog index.
type Listing struct {
	fetcher catalog.Fetcher
	base    *url.URL
}

// NewListing builds a Listing for baseURL. An empty path uses DefaultListingPath.
func NewListing(fetcher catalog.Fetcher, baseURL, path string) (*Listing, error) {
	if fetcher == nil {
		return nil, fmt.Errorf("fetcher is required")
	}
	if path == "" {
		path = DefaultListingPath
	}
	base, err := url.Parse(strings.TrimRight(baseURL, "/") + "/")
	if err != nil || base.Host == "" {
		return nil, fmt.Errorf("invalid base url %q", baseURL)
	}
	index, err := base.Parse(strings.TrimLeft(path, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid listing path %q: %w", path, err)
	}
	return &Listing{fetcher: fetcher, base: index}, nil
}

// PageURL returns the URL of index page n (1-based).
func (l *Listing) PageURL(page int) string {
	u := *l.base
	q := u.Query()
	q.Set(listingPageParam, strconv.Itoa(page))
	u.RawQuery = q.Encode()
	return u.String()
}

// FetchPage returns the entries on one index page. An empty slice means the
// index is exhausted. A page without the list container yields a
// *catalog.ListParseError.
func (l *Listing) FetchPage(ctx context.Context, page int) ([]catalog.ListingEntry, error) {
	ctx, span := tracer.Start(ctx, "Listing.FetchPage")
	defer span.End()
	span.SetAttributes(attribute.Int("page", page))

	pageURL := l.PageURL(page)
	resp, err := l.fetcher.Fetch(ctx, pageURL)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "fetch failed")
		return nil, fmt.Errorf("fetch listing page %d: %w", page, err)
	}

	entries, err := ParseListing(resp.Body, pageURL, page)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "parse failed")
		return nil, err
	}
	span.SetAttributes(attribute.Int("entries", len(entries)))
	return entries, nil
}

// ParseListing extracts entries from an index page body. Links are resolved
// against pageURL.
func ParseListing(body []byte, pageURL string, page int) ([]catalog.ListingEntry, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, &catalog.ListParseError{Page: page, Reason: err.Error()}
	}
	list := doc.Find(listingContainer).First()
	if list.Length() == 0 {
		return nil, &catalog.ListParseError{Page: page, Reason: "list container is missing"}
	}

	base, _ := url.Parse(pageURL)
	entries := make([]catalog.ListingEntry, 0)
	list.Find("li").Each(func(_ int, li *goquery.Selection) {
		a := li.Find("a").First()
		if a.Length() == 0 {
			return
		}
		href, _ := a.Attr("href")
		title := htmlutil.Decode(a.Text())
		if title == "" || strings.TrimSpace(href) == "" {
			return
		}
		entries = append(entries, catalog.ListingEntry{
			Title: title,
			Link:  htmlutil.Resolve(base, href),
		})
	})
	return entries, nil
}
