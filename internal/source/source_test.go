package source

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/repack-catalog/internal/catalog"
	collyfetcher "github.com/JakeFAU/repack-catalog/internal/fetcher/colly"
)

const listingPage = `<html><body>
<ul class="lcp_catlist">
  <li><a href="https://source.example/game-a/">Game A</a></li>
  <li><a href="/baldurs-gate/">Baldur&#8217;s Gate &#8211; Deluxe</a></li>
  <li>no anchor here</li>
  <li><a href="/blank/">   </a></li>
</ul>
</body></html>`

const emptyListingPage = `<html><body><ul class="lcp_catlist"></ul></body></html>`

const feedDoc = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0" xmlns:content="http://purl.org/rss/1.0/modules/content/">
<channel>
  <title>Source</title>
  <item>
    <title>Game C &#8211; v1.1</title>
    <link>https://source.example/game-c/</link>
    <pubDate>Tue, 14 May 2024 10:00:00 +0000</pubDate>
    <category><![CDATA[Lossless Repack]]></category>
    <category><![CDATA[Action]]></category>
    <content:encoded><![CDATA[<p>body</p>]]></content:encoded>
  </item>
  <item>
    <title>Upcoming repacks</title>
    <link>https://source.example/upcoming/</link>
    <pubDate>Tue, 14 May 2024 09:00:00 +0000</pubDate>
    <category>Uncategorized</category>
  </item>
  <item>
    <title>Game B</title>
    <link>https://source.example/game-b/</link>
    <pubDate>not a date</pubDate>
    <category>Lossless Repack</category>
  </item>
</channel>
</rss>`

type stubFetcher struct {
	pages map[string]string
	err   error
	calls []string
}

func (s *stubFetcher) Fetch(_ context.Context, url string) (catalog.FetchResponse, error) {
	s.calls = append(s.calls, url)
	if s.err != nil {
		return catalog.FetchResponse{}, s.err
	}
	body, ok := s.pages[url]
	if !ok {
		return catalog.FetchResponse{}, errors.New("status 404: Not Found")
	}
	return catalog.FetchResponse{URL: url, StatusCode: http.StatusOK, Body: []byte(body)}, nil
}

func TestListingFetchPage(t *testing.T) {
	t.Parallel()

	fetcher := &stubFetcher{pages: map[string]string{
		"https://source.example/all-my-repacks-a-z/?lcp_page0=1": listingPage,
		"https://source.example/all-my-repacks-a-z/?lcp_page0=2": emptyListingPage,
	}}
	listing, err := NewListing(fetcher, "https://source.example", "")
	require.NoError(t, err)

	entries, err := listing.FetchPage(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, []catalog.ListingEntry{
		{Title: "Game A", Link: "https://source.example/game-a/"},
		{Title: "Baldur's Gate – Deluxe", Link: "https://source.example/baldurs-gate/"},
	}, entries)

	entries, err = listing.FetchPage(context.Background(), 2)
	require.NoError(t, err)
	require.Empty(t, entries)
	require.NotNil(t, entries)
}

func TestListingMissingContainer(t *testing.T) {
	t.Parallel()

	fetcher := &stubFetcher{pages: map[string]string{
		"https://source.example/all-my-repacks-a-z/?lcp_page0=3": `<html><body><p>maintenance</p></body></html>`,
	}}
	listing, err := NewListing(fetcher, "https://source.example/", "/all-my-repacks-a-z/")
	require.NoError(t, err)

	_, err = listing.FetchPage(context.Background(), 3)
	var parseErr *catalog.ListParseError
	require.ErrorAs(t, err, &parseErr)
	require.Equal(t, 3, parseErr.Page)
	require.True(t, catalog.IsFatal(err))
}

func TestListingFetchError(t *testing.T) {
	t.Parallel()

	boom := errors.New("connection reset")
	listing, err := NewListing(&stubFetcher{err: boom}, "https://source.example", "")
	require.NoError(t, err)

	_, err = listing.FetchPage(context.Background(), 1)
	require.ErrorIs(t, err, boom)
}

func TestNewListingValidation(t *testing.T) {
	t.Parallel()

	_, err := NewListing(nil, "https://source.example", "")
	require.Error(t, err)
	_, err = NewListing(&stubFetcher{}, "not a url", "")
	require.Error(t, err)
}

func TestFeedFetchItems(t *testing.T) {
	t.Parallel()

	fetcher := &stubFetcher{pages: map[string]string{"https://source.example/feed/": feedDoc}}
	feed, err := NewFeed(fetcher, "https://source.example/feed/", "")
	require.NoError(t, err)

	items, err := feed.FetchItems(context.Background())
	require.NoError(t, err)
	require.Len(t, items, 2)

	require.Equal(t, "Game C – v1.1", items[0].Title)
	require.Equal(t, "https://source.example/game-c/", items[0].Link)
	require.True(t, time.Date(2024, 5, 14, 10, 0, 0, 0, time.UTC).Equal(items[0].PublishedAt))
	require.Equal(t, []string{"Lossless Repack", "Action"}, items[0].Categories)

	require.Equal(t, "Game B", items[1].Title)
	require.True(t, items[1].PublishedAt.IsZero())
}

func TestFeedFetchErrors(t *testing.T) {
	t.Parallel()

	feed, err := NewFeed(&stubFetcher{err: errors.New("timeout")}, "https://source.example/feed/", "")
	require.NoError(t, err)
	_, err = feed.FetchItems(context.Background())
	var feedErr *catalog.FeedFetchError
	require.ErrorAs(t, err, &feedErr)
	require.True(t, catalog.IsFatal(err))

	feed, err = NewFeed(&stubFetcher{pages: map[string]string{
		"https://source.example/feed/": "<html><body>not a feed</body></html>",
	}}, "https://source.example/feed/", "")
	require.NoError(t, err)
	_, err = feed.FetchItems(context.Background())
	require.ErrorAs(t, err, &feedErr)

	_, err = NewFeed(&stubFetcher{}, "relative/feed", "")
	require.Error(t, err)
}

func TestListingOverHTTP(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/all-my-repacks-a-z/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if r.URL.Query().Get("lcp_page0") == "1" {
			_, _ = w.Write([]byte(`<ul class="lcp_catlist"><li><a href="/game-a/">Game A</a></li></ul>`))
			return
		}
		_, _ = w.Write([]byte(emptyListingPage))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	listing, err := NewListing(collyfetcher.New(collyfetcher.Config{Timeout: 5 * time.Second}), srv.URL, "")
	require.NoError(t, err)

	entries, err := listing.FetchPage(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, []catalog.ListingEntry{{Title: "Game A", Link: srv.URL + "/game-a/"}}, entries)

	entries, err = listing.FetchPage(context.Background(), 2)
	require.NoError(t, err)
	require.Empty(t, entries)
}
