// Package syncer keeps the catalog current from the source site using either
// a full crawl of the A-Z index or the syndication feed.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/repack-catalog/internal/catalog"
	"github.com/JakeFAU/repack-catalog/internal/metrics"
	"github.com/JakeFAU/repack-catalog/internal/slug"
)

// ErrRunInProgress is returned when a sync is requested while another runs.
var ErrRunInProgress = errors.New("sync run already in progress")

// ListingSource pages through the catalog index.
type ListingSource interface {
	FetchPage(ctx context.Context, page int) ([]catalog.ListingEntry, error)
}

// FeedSource returns recent release announcements, newest first.
type FeedSource interface {
	FetchItems(ctx context.Context) ([]catalog.FeedItem, error)
}

// Extractor turns a detail page into a release record.
type Extractor interface {
	Extract(ctx context.Context, link string) (catalog.ExtractedRelease, error)
}

// Canonicalizer maps raw genres to canonical names.
type Canonicalizer interface {
	Canonicalize(ctx context.Context, raw []string) ([]string, error)
}

// Config bounds a run.
type Config struct {
	// MaxListingPages caps the full crawl pagination; 0 means until an empty page.
	MaxListingPages int
}

// Deps are the collaborators of a Syncer.
type Deps struct {
	Store         catalog.Store
	Listing       ListingSource
	Feed          FeedSource
	Extractor     Extractor
	Canonicalizer Canonicalizer
	IDs           catalog.IDGenerator
	Clock         catalog.Clock
	Logger        *zap.Logger
}

// Syncer runs one sync at a time against a store.
type Syncer struct {
	deps    Deps
	cfg     Config
	logger  *zap.Logger
	running sync.Mutex
}

// New validates deps and builds a Syncer.
func New(deps Deps, cfg Config) (*Syncer, error) {
	switch {
	case deps.Store == nil:
		return nil, errors.New("syncer: store is required")
	case deps.Listing == nil:
		return nil, errors.New("syncer: listing source is required")
	case deps.Feed == nil:
		return nil, errors.New("syncer: feed source is required")
	case deps.Extractor == nil:
		return nil, errors.New("syncer: extractor is required")
	case deps.Canonicalizer == nil:
		return nil, errors.New("syncer: canonicalizer is required")
	case deps.IDs == nil:
		return nil, errors.New("syncer: id generator is required")
	case deps.Clock == nil:
		return nil, errors.New("syncer: clock is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Syncer{deps: deps, cfg: cfg, logger: logger.Named("syncer")}, nil
}

// SyncAll crawls the whole index and adds every release not yet stored.
// A listing failure aborts the run with no additions reported.
func (s *Syncer) SyncAll(ctx context.Context) (Result, error) {
	return s.run(ctx, StrategyFull, s.discoverListing)
}

// SyncFeed walks the feed newest-first and stops at the most recently
// published stored title. A feed failure aborts the run.
func (s *Syncer) SyncFeed(ctx context.Context) (Result, error) {
	return s.run(ctx, StrategyFeed, s.discoverFeed)
}

type candidate struct {
	Title string
	Link  string
}

type discoverFunc func(ctx context.Context, logger *zap.Logger) ([]candidate, error)

func (s *Syncer) run(ctx context.Context, strategy string, discover discoverFunc) (Result, error) {
	if !s.running.TryLock() {
		return Result{Strategy: strategy}, ErrRunInProgress
	}
	defer s.running.Unlock()

	logger := s.logger.With(zap.String("strategy", strategy))
	result := Result{Strategy: strategy, StartedAt: s.deps.Clock.Now()}
	finish := func(err error) (Result, error) {
		result.FinishedAt = s.deps.Clock.Now()
		duration := result.FinishedAt.Sub(result.StartedAt)
		outcome := result.outcome()
		if err != nil {
			outcome = "aborted"
		}
		metrics.ObserveSyncRun(strategy, outcome, duration)
		fields := []zap.Field{
			zap.Int("added", len(result.Added)),
			zap.Int("errors", len(result.Errors)),
			zap.Duration("duration", duration),
			zap.String("outcome", outcome),
		}
		if err != nil {
			logger.Error("sync run aborted", append(fields, zap.Error(err))...)
		} else {
			logger.Info("sync run finished", fields...)
		}
		return result, err
	}

	state, err := s.loadKnown(ctx)
	if err != nil {
		return finish(err)
	}
	candidates, err := discover(ctx, logger)
	if err != nil {
		return finish(err)
	}
	logger.Info("sync candidates discovered", zap.Int("candidates", len(candidates)))

	for _, c := range candidates {
		if err := ctx.Err(); err != nil {
			return finish(fmt.Errorf("sync %s interrupted: %w", strategy, err))
		}
		added, ok, err := s.ensurePersisted(ctx, state, c)
		if err != nil {
			if ctx.Err() != nil {
				return finish(fmt.Errorf("sync %s interrupted: %w", strategy, ctx.Err()))
			}
			result.Errors = append(result.Errors, ItemError{Title: c.Title, Link: c.Link, Err: err})
			metrics.ObserveItemError(strategy, catalog.ErrorKind(err))
			logger.Warn("release not added",
				zap.String("title", c.Title),
				zap.String("link", c.Link),
				zap.String("kind", catalog.ErrorKind(err)),
				zap.Error(err),
			)
			continue
		}
		if !ok {
			continue
		}
		result.Added = append(result.Added, added)
		metrics.ObserveReleaseAdded(strategy)
		logger.Info("release added", zap.String("title", added.Title), zap.String("slug", added.Slug))
	}
	return finish(nil)
}

func (s *Syncer) discoverListing(ctx context.Context, logger *zap.Logger) ([]candidate, error) {
	var out []candidate
	for page := 1; s.cfg.MaxListingPages <= 0 || page <= s.cfg.MaxListingPages; page++ {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("listing interrupted at page %d: %w", page, err)
		}
		entries, err := s.deps.Listing.FetchPage(ctx, page)
		if err != nil {
			return nil, err
		}
		if len(entries) == 0 {
			break
		}
		logger.Debug("listing page fetched", zap.Int("page", page), zap.Int("entries", len(entries)))
		for _, e := range entries {
			out = append(out, candidate(e))
		}
	}
	return out, nil
}

func (s *Syncer) discoverFeed(ctx context.Context, logger *zap.Logger) ([]candidate, error) {
	cutoff, err := s.deps.Store.LatestReleaseTitle(ctx)
	if err != nil && !errors.Is(err, catalog.ErrNotFound) {
		return nil, fmt.Errorf("load latest release title: %w", err)
	}
	items, err := s.deps.Feed.FetchItems(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]candidate, 0, len(items))
	for _, item := range items {
		if cutoff != "" && item.Title == cutoff {
			logger.Debug("feed cutoff reached", zap.String("title", cutoff))
			break
		}
		out = append(out, candidate{Title: item.Title, Link: item.Link})
	}
	return out, nil
}

// knownSet tracks what is stored or already attempted during one run.
type knownSet struct {
	titles    map[string]struct{}
	links     map[string]struct{}
	attempted map[string]struct{}
}

func (k *knownSet) has(c candidate) bool {
	_, title := k.titles[c.Title]
	_, link := k.links[c.Link]
	_, tried := k.attempted[c.Title]
	return title || link || tried
}

func (s *Syncer) loadKnown(ctx context.Context) (*knownSet, error) {
	titles, err := s.deps.Store.ReleaseTitles(ctx)
	if err != nil {
		return nil, fmt.Errorf("load release titles: %w", err)
	}
	links, err := s.deps.Store.ReleaseLinks(ctx)
	if err != nil {
		return nil, fmt.Errorf("load release links: %w", err)
	}
	k := &knownSet{
		titles:    make(map[string]struct{}, len(titles)),
		links:     make(map[string]struct{}, len(links)),
		attempted: make(map[string]struct{}),
	}
	for _, t := range titles {
		k.titles[t] = struct{}{}
	}
	for _, l := range links {
		k.links[l] = struct{}{}
	}
	return k, nil
}

// ensurePersisted adds the release behind c unless it is already known.
// ok is false when the candidate was skipped.
func (s *Syncer) ensurePersisted(ctx context.Context, known *knownSet, c candidate) (AddedRelease, bool, error) {
	if known.has(c) {
		return AddedRelease{}, false, nil
	}
	known.attempted[c.Title] = struct{}{}

	extracted, err := s.deps.Extractor.Extract(ctx, c.Link)
	if err != nil {
		return AddedRelease{}, false, err
	}
	if _, dup := known.titles[extracted.Title]; dup {
		return AddedRelease{}, false, &catalog.ConflictError{Field: "title", Value: extracted.Title}
	}

	genres, err := s.deps.Canonicalizer.Canonicalize(ctx, extracted.Genres)
	if err != nil {
		return AddedRelease{}, false, fmt.Errorf("canonicalize genres: %w", err)
	}
	id, err := s.deps.IDs.NewID()
	if err != nil {
		return AddedRelease{}, false, fmt.Errorf("generate release id: %w", err)
	}

	release := buildRelease(id, extracted, genres)
	if err := s.deps.Store.SaveRelease(ctx, release); err != nil {
		return AddedRelease{}, false, fmt.Errorf("save release: %w", err)
	}
	known.titles[release.Title] = struct{}{}
	known.links[release.Link] = struct{}{}
	return AddedRelease{Title: release.Title, Slug: release.Slug}, true, nil
}

func buildRelease(id string, e catalog.ExtractedRelease, genres []string) catalog.Release {
	releaseSlug := slug.Make(e.Title)
	if releaseSlug == "" {
		releaseSlug = "release-" + shortID(id)
	}
	return catalog.Release{
		ID:                id,
		Slug:              releaseSlug,
		Title:             e.Title,
		Link:              e.Link,
		PublishedAt:       e.PublishedAt.UTC().Truncate(time.Second),
		CoverImage:        e.CoverImage,
		OriginalSize:      e.OriginalSize,
		RepackSize:        e.RepackSize,
		Mirrors:           e.Mirrors,
		Screenshots:       e.Screenshots,
		RepackDescription: e.RepackDescription,
		GameDescription:   e.GameDescription,
		PinkPaw:           e.PinkPaw,
		Genres:            genres,
		Companies:         unique(e.Companies),
		Languages:         unique(e.Languages),
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func unique(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	out := make([]string, 0, len(values))
	seen := make(map[string]struct{}, len(values))
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
