package memory

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/JakeFAU/repack-catalog/internal/catalog"
)

// CatalogStore is an in-memory catalog.Store for development and tests.
type CatalogStore struct {
	mu        sync.RWMutex
	releases  map[string]catalog.Release // by id
	bySlug    map[string]string
	byLink    map[string]string
	genres    map[string][]string // canonical name -> aliases
	companies map[string]struct{}
	languages map[string]struct{}
}

var _ catalog.Store = (*CatalogStore)(nil)

// NewCatalogStore constructs an empty CatalogStore.
func NewCatalogStore() *CatalogStore {
	return &CatalogStore{
		releases:  make(map[string]catalog.Release),
		bySlug:    make(map[string]string),
		byLink:    make(map[string]string),
		genres:    make(map[string][]string),
		companies: make(map[string]struct{}),
		languages: make(map[string]struct{}),
	}
}

// ReleaseTitles returns every stored title.
func (s *CatalogStore) ReleaseTitles(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	titles := make([]string, 0, len(s.releases))
	for _, r := range s.releases {
		titles = append(titles, r.Title)
	}
	sort.Strings(titles)
	return titles, nil
}

// ReleaseLinks returns every stored link.
func (s *CatalogStore) ReleaseLinks(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	links := make([]string, 0, len(s.byLink))
	for link := range s.byLink {
		links = append(links, link)
	}
	sort.Strings(links)
	return links, nil
}

// LatestReleaseTitle returns the title with the newest published time; ties
// go to the greatest ID.
func (s *CatalogStore) LatestReleaseTitle(_ context.Context) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var (
		latest catalog.Release
		found  bool
	)
	for _, r := range s.releases {
		newer := r.PublishedAt.After(latest.PublishedAt) ||
			(r.PublishedAt.Equal(latest.PublishedAt) && r.ID > latest.ID)
		if !found || newer {
			latest = r
			found = true
		}
	}
	if !found {
		return "", catalog.ErrNotFound
	}
	return latest.Title, nil
}

// FindGenresByAlias returns genres whose alias set contains alias, ordered by name.
func (s *CatalogStore) FindGenresByAlias(_ context.Context, alias string) ([]catalog.Genre, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []catalog.Genre
	for name, aliases := range s.genres {
		g := catalog.Genre{Name: name, Aliases: aliases}
		if g.HasAlias(alias) {
			g.Aliases = append([]string(nil), aliases...)
			out = append(out, g)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// UpsertGenre creates the genre or merges aliases into the existing row.
func (s *CatalogStore) UpsertGenre(_ context.Context, genre catalog.Genre) (catalog.Genre, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	merged := catalog.MergeAliases(s.genres[genre.Name], genre.Aliases)
	s.genres[genre.Name] = merged
	return catalog.Genre{Name: genre.Name, Aliases: append([]string(nil), merged...)}, nil
}

// SaveRelease stores the release and its taxonomy as one unit.
func (s *CatalogStore) SaveRelease(_ context.Context, release catalog.Release) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.bySlug[release.Slug]; exists {
		return &catalog.ConflictError{Field: "slug", Value: release.Slug}
	}
	if _, exists := s.byLink[release.Link]; exists {
		return &catalog.ConflictError{Field: "link", Value: release.Link}
	}
	for _, g := range release.Genres {
		if _, ok := s.genres[g]; !ok {
			s.genres[g] = []string{g}
		}
	}
	for _, c := range release.Companies {
		s.companies[c] = struct{}{}
	}
	for _, l := range release.Languages {
		s.languages[l] = struct{}{}
	}
	stored := cloneRelease(release)
	stored.Genres = dedupe(stored.Genres)
	stored.Companies = dedupe(stored.Companies)
	stored.Languages = dedupe(stored.Languages)
	s.releases[release.ID] = stored
	s.bySlug[release.Slug] = release.ID
	s.byLink[release.Link] = release.ID
	return nil
}

// ListReleases returns one page of matching releases, newest first. Taxonomy
// values are sorted, matching the SQL stores.
func (s *CatalogStore) ListReleases(_ context.Context, query catalog.ListQuery) ([]catalog.Release, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	matched := make([]catalog.Release, 0, len(s.releases))
	for _, r := range s.releases {
		if matchesQuery(r, query) {
			c := cloneRelease(r)
			sort.Strings(c.Genres)
			sort.Strings(c.Companies)
			sort.Strings(c.Languages)
			matched = append(matched, c)
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].PublishedAt.Equal(matched[j].PublishedAt) {
			return matched[i].ID < matched[j].ID
		}
		return matched[i].PublishedAt.After(matched[j].PublishedAt)
	})
	start := query.Page * catalog.ListPageSize
	if query.Page < 0 || start >= len(matched) {
		return []catalog.Release{}, nil
	}
	end := start + catalog.ListPageSize
	if end > len(matched) {
		end = len(matched)
	}
	return matched[start:end], nil
}

// Genres returns a snapshot of canonical genres, ordered by name.
func (s *CatalogStore) Genres() []catalog.Genre {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]catalog.Genre, 0, len(s.genres))
	for name, aliases := range s.genres {
		out = append(out, catalog.Genre{Name: name, Aliases: append([]string(nil), aliases...)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func matchesQuery(r catalog.Release, q catalog.ListQuery) bool {
	if q.Title != "" && !containsFold(r.Title, q.Title) {
		return false
	}
	if q.PinkPaw && !r.PinkPaw {
		return false
	}
	if len(q.Slugs) > 0 && !contains(q.Slugs, r.Slug) {
		return false
	}
	if q.Genre != "" && !anyContainsFold(r.Genres, q.Genre) {
		return false
	}
	if q.Company != "" && !anyContainsFold(r.Companies, q.Company) {
		return false
	}
	return true
}

func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}

func anyContainsFold(values []string, substr string) bool {
	for _, v := range values {
		if containsFold(v, substr) {
			return true
		}
	}
	return false
}

func contains(values []string, v string) bool {
	for _, candidate := range values {
		if candidate == v {
			return true
		}
	}
	return false
}

func dedupe(values []string) []string {
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

func cloneRelease(r catalog.Release) catalog.Release {
	out := r
	out.Screenshots = append([]string(nil), r.Screenshots...)
	out.Genres = append([]string(nil), r.Genres...)
	out.Companies = append([]string(nil), r.Companies...)
	out.Languages = append([]string(nil), r.Languages...)
	out.Mirrors = make([]catalog.Mirror, len(r.Mirrors))
	for i, m := range r.Mirrors {
		out.Mirrors[i] = catalog.Mirror{Name: m.Name, Links: append([]catalog.Link(nil), m.Links...)}
	}
	return out
}
