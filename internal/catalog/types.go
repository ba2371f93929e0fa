package catalog

import (
	"net/http"
	"time"
)

// ListingEntry is one row of the A-Z catalog index.
type ListingEntry struct {
	Title string
	Link  string
}

// FeedItem is one release announcement from the syndication feed.
type FeedItem struct {
	Title       string
	Link        string
	PublishedAt time.Time
	Categories  []string
}

// Link is a labeled download link inside a mirror group.
type Link struct {
	Name string `json:"name"`
	Link string `json:"link"`
}

// Mirror groups the links published under one mirror heading.
type Mirror struct {
	Name  string `json:"name"`
	Links []Link `json:"links"`
}

// ExtractedRelease is the validated record parsed from one detail page.
// Genres, companies and languages are raw text and may contain duplicates.
type ExtractedRelease struct {
	Title             string
	Link              string
	PublishedAt       time.Time
	CoverImage        string
	Genres            []string
	Companies         []string
	Languages         []string
	OriginalSize      string
	RepackSize        string
	Mirrors           []Mirror
	Screenshots       []string
	RepackDescription string
	GameDescription   string
	PinkPaw           bool
}

// Release is the persisted catalog row plus its taxonomy links.
// Genres hold canonical genre names.
type Release struct {
	ID                string    `json:"id"`
	Slug              string    `json:"slug"`
	Title             string    `json:"title"`
	Link              string    `json:"link"`
	PublishedAt       time.Time `json:"published"`
	CoverImage        string    `json:"coverSrc"`
	OriginalSize      string    `json:"originalSize"`
	RepackSize        string    `json:"repackSize"`
	Mirrors           []Mirror  `json:"mirrors"`
	Screenshots       []string  `json:"screenshots"`
	RepackDescription string    `json:"repackDescription"`
	GameDescription   string    `json:"gameDescription"`
	PinkPaw           bool      `json:"pinkPaw"`
	Genres            []string  `json:"genres,omitempty"`
	Companies         []string  `json:"companies,omitempty"`
	Languages         []string  `json:"languages,omitempty"`
}

// Genre is a canonical genre with the raw strings known to denote it.
type Genre struct {
	Name    string
	Aliases []string
}

// HasAlias reports whether raw is an exact member of the alias set.
func (g Genre) HasAlias(raw string) bool {
	for _, a := range g.Aliases {
		if a == raw {
			return true
		}
	}
	return false
}

// ListQuery filters the release listing. Page is zero-based. Title, Genre and
// Company are case-insensitive substring filters.
type ListQuery struct {
	Page    int
	Title   string
	PinkPaw bool
	Genre   string
	Company string
	Slugs   []string
}

// ListPageSize is the number of releases returned per listing page.
const ListPageSize = 100

// FetchResponse is the body and metadata of a fetched page.
type FetchResponse struct {
	URL        string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
}
