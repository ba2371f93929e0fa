package catalog

import (
	"context"
	"io"
	"time"
)

// Store persists releases and taxonomy. Implementations must enforce slug and
// link uniqueness on releases and composite-key uniqueness on join rows.
type Store interface {
	// ReleaseTitles returns the title of every stored release.
	ReleaseTitles(ctx context.Context) ([]string, error)
	// ReleaseLinks returns the source link of every stored release.
	ReleaseLinks(ctx context.Context) ([]string, error)
	// LatestReleaseTitle returns the title of the most recently published
	// release, or ErrNotFound when the catalog is empty.
	LatestReleaseTitle(ctx context.Context) (string, error)
	// FindGenresByAlias returns genres whose alias set contains alias exactly,
	// ordered by canonical name.
	FindGenresByAlias(ctx context.Context, alias string) ([]Genre, error)
	// UpsertGenre creates the genre or unions its alias set into the existing
	// row with the same name, returning the stored row.
	UpsertGenre(ctx context.Context, genre Genre) (Genre, error)
	// SaveRelease writes the release, its taxonomy entities and join rows as
	// one unit. A slug or link collision yields a *ConflictError.
	SaveRelease(ctx context.Context, release Release) error
	// ListReleases returns one page of releases, newest first.
	ListReleases(ctx context.Context, query ListQuery) ([]Release, error)
}

// Fetcher retrieves a page body.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (FetchResponse, error)
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Publisher pushes messages to a topic (Pub/Sub or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Hasher computes content digests.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces release IDs.
type IDGenerator interface {
	NewID() (string, error)
}
