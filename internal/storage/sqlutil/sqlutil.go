// Package sqlutil holds the SQL fragments and column codecs shared by the
// Postgres and SQLite catalog stores.
package sqlutil

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/JakeFAU/repack-catalog/internal/catalog"
)

// Dialect selects placeholder and matching syntax.
type Dialect int

const (
	// Postgres uses $n placeholders and ILIKE.
	Postgres Dialect = iota
	// SQLite uses ? placeholders and LIKE, which is case-insensitive for ASCII.
	SQLite
)

// ReleaseColumns is the column list scanned by ScanRelease callers.
const ReleaseColumns = `r.id, r.slug, r.title, r.link, r.published, r.cover_src, r.original_size, ` +
	`r.repack_size, r.mirrors, r.screenshots, r.repack_description, r.game_description, r.pink_paw`

// EncodeCollections serializes mirrors and screenshots as JSON text.
func EncodeCollections(r catalog.Release) (string, string, error) {
	mirrors := r.Mirrors
	if mirrors == nil {
		mirrors = []catalog.Mirror{}
	}
	screenshots := r.Screenshots
	if screenshots == nil {
		screenshots = []string{}
	}
	m, err := json.Marshal(mirrors)
	if err != nil {
		return "", "", fmt.Errorf("marshal mirrors: %w", err)
	}
	sc, err := json.Marshal(screenshots)
	if err != nil {
		return "", "", fmt.Errorf("marshal screenshots: %w", err)
	}
	return string(m), string(sc), nil
}

// DecodeCollections fills r.Mirrors and r.Screenshots from their JSON text.
func DecodeCollections(r *catalog.Release, mirrors, screenshots string) error {
	if mirrors != "" {
		if err := json.Unmarshal([]byte(mirrors), &r.Mirrors); err != nil {
			return fmt.Errorf("unmarshal mirrors for %s: %w", r.ID, err)
		}
	}
	if screenshots != "" {
		if err := json.Unmarshal([]byte(screenshots), &r.Screenshots); err != nil {
			return fmt.Errorf("unmarshal screenshots for %s: %w", r.ID, err)
		}
	}
	return nil
}

// ListQuery renders the release listing query for d.
func ListQuery(q catalog.ListQuery, d Dialect) (string, []any) {
	var (
		conds []string
		args  []any
	)
	next := func(v any) string {
		args = append(args, v)
		if d == SQLite {
			return "?"
		}
		return "$" + strconv.Itoa(len(args))
	}
	like := "ILIKE"
	if d == SQLite {
		like = "LIKE"
	}

	if q.Title != "" {
		conds = append(conds, fmt.Sprintf("r.title %s '%%' || %s || '%%'", like, next(q.Title)))
	}
	if q.PinkPaw {
		conds = append(conds, "r.pink_paw")
	}
	if len(q.Slugs) > 0 {
		marks := make([]string, len(q.Slugs))
		for i, slug := range q.Slugs {
			marks[i] = next(slug)
		}
		conds = append(conds, "r.slug IN ("+strings.Join(marks, ", ")+")")
	}
	if q.Genre != "" {
		conds = append(conds, fmt.Sprintf(
			"EXISTS (SELECT 1 FROM release_genres g WHERE g.release_id = r.id AND g.genre %s '%%' || %s || '%%')",
			like, next(q.Genre)))
	}
	if q.Company != "" {
		conds = append(conds, fmt.Sprintf(
			"EXISTS (SELECT 1 FROM release_companies c WHERE c.release_id = r.id AND c.company %s '%%' || %s || '%%')",
			like, next(q.Company)))
	}

	var b strings.Builder
	b.WriteString("SELECT ")
	b.WriteString(ReleaseColumns)
	b.WriteString(" FROM releases r")
	if len(conds) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(conds, " AND "))
	}
	page := q.Page
	if page < 0 {
		page = 0
	}
	b.WriteString(" ORDER BY r.published DESC, r.id LIMIT ")
	b.WriteString(next(catalog.ListPageSize))
	b.WriteString(" OFFSET ")
	b.WriteString(next(page * catalog.ListPageSize))
	return b.String(), args
}

// JoinTable is a release join table whose values are read back into a
// Release field.
type JoinTable struct {
	Name   string
	Column string
	field  func(*catalog.Release) *[]string
}

// JoinTables are the taxonomy join tables loaded for listed releases.
var JoinTables = []JoinTable{
	{Name: "release_genres", Column: "genre", field: func(r *catalog.Release) *[]string { return &r.Genres }},
	{Name: "release_companies", Column: "company", field: func(r *catalog.Release) *[]string { return &r.Companies }},
	{Name: "release_languages", Column: "language", field: func(r *catalog.Release) *[]string { return &r.Languages }},
}

// Query renders the lookup of t's values for ids, ordered by release then value.
func (t JoinTable) Query(ids []string, d Dialect) (string, []any) {
	marks := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
		if d == SQLite {
			marks[i] = "?"
		} else {
			marks[i] = "$" + strconv.Itoa(i+1)
		}
	}
	return fmt.Sprintf("SELECT release_id, %s FROM %s WHERE release_id IN (%s) ORDER BY release_id, %s",
		t.Column, t.Name, strings.Join(marks, ", "), t.Column), args
}

// Attach appends value to the matching release field. Unknown ids are ignored.
func (t JoinTable) Attach(byID map[string]*catalog.Release, id, value string) {
	if r, ok := byID[id]; ok {
		f := t.field(r)
		*f = append(*f, value)
	}
}

// IndexByID returns the release ids in order and a lookup into releases.
func IndexByID(releases []catalog.Release) ([]string, map[string]*catalog.Release) {
	ids := make([]string, len(releases))
	byID := make(map[string]*catalog.Release, len(releases))
	for i := range releases {
		ids[i] = releases[i].ID
		byID[releases[i].ID] = &releases[i]
	}
	return ids, byID
}
