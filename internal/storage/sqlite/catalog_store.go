// Package sqlite provides a single-file catalog store backed by modernc.org/sqlite.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/JakeFAU/repack-catalog/internal/catalog"
	"github.com/JakeFAU/repack-catalog/internal/storage/sqlutil"
)

//go:embed schema.sql
var schemaSQL string

// published is stored as UTC RFC3339 text so lexical order matches time order.
const timeLayout = time.RFC3339

// CatalogStore implements catalog.Store on SQLite.
type CatalogStore struct {
	db   *sql.DB
	path string
}

var _ catalog.Store = (*CatalogStore)(nil)

// Open opens (or creates) the database at path and applies the schema.
func Open(ctx context.Context, path string) (*CatalogStore, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite.path is required")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// A single connection keeps writes serialized and makes ":memory:" usable.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.ExecContext(ctx, pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}
	if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &CatalogStore{db: db, path: path}, nil
}

// Close closes the underlying database.
func (s *CatalogStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Ping checks that the database is reachable.
func (s *CatalogStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping sqlite %s: %w", s.path, err)
	}
	return nil
}

// ReleaseTitles returns every stored title.
func (s *CatalogStore) ReleaseTitles(ctx context.Context) ([]string, error) {
	return s.queryStrings(ctx, "SELECT title FROM releases")
}

// ReleaseLinks returns every stored link.
func (s *CatalogStore) ReleaseLinks(ctx context.Context) ([]string, error) {
	return s.queryStrings(ctx, "SELECT link FROM releases")
}

// LatestReleaseTitle returns the title of the most recently published release.
func (s *CatalogStore) LatestReleaseTitle(ctx context.Context) (string, error) {
	var title string
	err := s.db.QueryRowContext(ctx, "SELECT title FROM releases ORDER BY published DESC, id DESC LIMIT 1").Scan(&title)
	if errors.Is(err, sql.ErrNoRows) {
		return "", catalog.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("query latest release: %w", err)
	}
	return title, nil
}

// FindGenresByAlias returns genres whose alias set contains alias, ordered by name.
func (s *CatalogStore) FindGenresByAlias(ctx context.Context, alias string) ([]catalog.Genre, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT name, aliases FROM genres WHERE instr(aliases, ?) > 0 ORDER BY name",
		catalog.AliasToken(alias))
	if err != nil {
		return nil, fmt.Errorf("query genres by alias: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []catalog.Genre
	for rows.Next() {
		var name, aliases string
		if err := rows.Scan(&name, &aliases); err != nil {
			return nil, fmt.Errorf("scan genre: %w", err)
		}
		out = append(out, catalog.Genre{Name: name, Aliases: catalog.SplitAliases(aliases)})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate genres: %w", err)
	}
	return out, nil
}

// UpsertGenre creates the genre or merges aliases into the existing row.
func (s *CatalogStore) UpsertGenre(ctx context.Context, genre catalog.Genre) (catalog.Genre, error) {
	var stored catalog.Genre
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var existing string
		err := tx.QueryRowContext(ctx, "SELECT aliases FROM genres WHERE name = ?", genre.Name).Scan(&existing)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("read genre: %w", err)
		}
		merged := catalog.MergeAliases(catalog.SplitAliases(existing), genre.Aliases)
		if _, err := tx.ExecContext(ctx, `
INSERT INTO genres (name, aliases) VALUES (?, ?)
ON CONFLICT (name) DO UPDATE SET aliases = excluded.aliases`,
			genre.Name, catalog.JoinAliases(merged)); err != nil {
			return fmt.Errorf("upsert genre: %w", err)
		}
		stored = catalog.Genre{Name: genre.Name, Aliases: merged}
		return nil
	})
	if err != nil {
		return catalog.Genre{}, err
	}
	return stored, nil
}

// SaveRelease writes the release, its taxonomy and join rows in one transaction.
func (s *CatalogStore) SaveRelease(ctx context.Context, release catalog.Release) error {
	mirrors, screenshots, err := sqlutil.EncodeCollections(release)
	if err != nil {
		return err
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		for _, name := range release.Languages {
			if _, err := tx.ExecContext(ctx, "INSERT OR IGNORE INTO languages (name) VALUES (?)", name); err != nil {
				return fmt.Errorf("insert language: %w", err)
			}
		}
		for _, name := range release.Companies {
			if _, err := tx.ExecContext(ctx, "INSERT OR IGNORE INTO companies (name) VALUES (?)", name); err != nil {
				return fmt.Errorf("insert company: %w", err)
			}
		}
		for _, name := range release.Genres {
			if _, err := tx.ExecContext(ctx, "INSERT OR IGNORE INTO genres (name, aliases) VALUES (?, ?)",
				name, catalog.JoinAliases([]string{name})); err != nil {
				return fmt.Errorf("insert genre: %w", err)
			}
		}

		_, err := tx.ExecContext(ctx, `
INSERT INTO releases (
	id, slug, title, link, published, cover_src, original_size, repack_size,
	mirrors, screenshots, repack_description, game_description, pink_paw
) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`,
			release.ID,
			release.Slug,
			release.Title,
			release.Link,
			release.PublishedAt.UTC().Format(timeLayout),
			release.CoverImage,
			release.OriginalSize,
			release.RepackSize,
			mirrors,
			screenshots,
			release.RepackDescription,
			release.GameDescription,
			release.PinkPaw,
		)
		if err != nil {
			return releaseInsertError(release, err)
		}

		joins := []struct {
			query  string
			values []string
		}{
			{"INSERT OR IGNORE INTO release_languages (release_id, language) VALUES (?, ?)", release.Languages},
			{"INSERT OR IGNORE INTO release_companies (release_id, company) VALUES (?, ?)", release.Companies},
			{"INSERT OR IGNORE INTO release_genres (release_id, genre) VALUES (?, ?)", release.Genres},
		}
		for _, j := range joins {
			for _, v := range j.values {
				if _, err := tx.ExecContext(ctx, j.query, release.ID, v); err != nil {
					return fmt.Errorf("insert release join: %w", err)
				}
			}
		}
		return nil
	})
}

// ListReleases returns one page of matching releases, newest first.
func (s *CatalogStore) ListReleases(ctx context.Context, query catalog.ListQuery) ([]catalog.Release, error) {
	q, args := sqlutil.ListQuery(query, sqlutil.SQLite)
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query releases: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := make([]catalog.Release, 0)
	for rows.Next() {
		var (
			r                               catalog.Release
			published, mirrors, screenshots string
		)
		if err := rows.Scan(
			&r.ID, &r.Slug, &r.Title, &r.Link, &published, &r.CoverImage,
			&r.OriginalSize, &r.RepackSize, &mirrors, &screenshots,
			&r.RepackDescription, &r.GameDescription, &r.PinkPaw,
		); err != nil {
			return nil, fmt.Errorf("scan release: %w", err)
		}
		r.PublishedAt, err = time.Parse(timeLayout, published)
		if err != nil {
			return nil, fmt.Errorf("parse published for %s: %w", r.ID, err)
		}
		if err := sqlutil.DecodeCollections(&r, mirrors, screenshots); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate releases: %w", err)
	}
	// The single connection must be free before the join tables are read.
	if err := rows.Close(); err != nil {
		return nil, fmt.Errorf("close release rows: %w", err)
	}
	if err := s.loadTaxonomy(ctx, out); err != nil {
		return nil, err
	}
	return out, nil
}

// loadTaxonomy fills genres, companies and languages from the join tables.
func (s *CatalogStore) loadTaxonomy(ctx context.Context, releases []catalog.Release) error {
	if len(releases) == 0 {
		return nil
	}
	ids, byID := sqlutil.IndexByID(releases)
	for _, table := range sqlutil.JoinTables {
		q, args := table.Query(ids, sqlutil.SQLite)
		if err := s.attachJoinRows(ctx, table, byID, q, args); err != nil {
			return err
		}
	}
	return nil
}

func (s *CatalogStore) attachJoinRows(
	ctx context.Context,
	table sqlutil.JoinTable,
	byID map[string]*catalog.Release,
	q string,
	args []any,
) error {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("query %s: %w", table.Name, err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var id, value string
		if err := rows.Scan(&id, &value); err != nil {
			return fmt.Errorf("scan %s: %w", table.Name, err)
		}
		table.Attach(byID, id, value)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate %s: %w", table.Name, err)
	}
	return nil
}

func (s *CatalogStore) queryStrings(ctx context.Context, query string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query %q: %w", query, err)
	}
	defer func() { _ = rows.Close() }()
	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scan %q: %w", query, err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %q: %w", query, err)
	}
	return out, nil
}

func (s *CatalogStore) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("%w (rollback: %v)", err, rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// releaseInsertError maps SQLite unique violations, reported as
// "UNIQUE constraint failed: releases.<column>", onto ConflictError.
func releaseInsertError(release catalog.Release, err error) error {
	msg := err.Error()
	if strings.Contains(msg, "UNIQUE constraint failed") {
		switch {
		case strings.Contains(msg, "releases.slug"):
			return &catalog.ConflictError{Field: "slug", Value: release.Slug}
		case strings.Contains(msg, "releases.link"):
			return &catalog.ConflictError{Field: "link", Value: release.Link}
		default:
			return &catalog.ConflictError{Field: "id", Value: release.ID}
		}
	}
	return fmt.Errorf("insert release: %w", err)
}
