// Package postgres provides the Postgres-backed catalog store.
package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/repack-catalog/internal/catalog"
	"github.com/JakeFAU/repack-catalog/internal/storage/sqlutil"
)

//go:embed schema.sql
var schemaSQL string

const uniqueViolation = "23505"

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	// ApplySchema runs the bootstrap schema at start-up.
	ApplySchema bool
}

type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Begin(context.Context) (pgx.Tx, error)
	Ping(context.Context) error
	Close()
}

// CatalogStore implements catalog.Store on Postgres.
type CatalogStore struct {
	pool pool
}

var _ catalog.Store = (*CatalogStore)(nil)

// NewCatalogStore connects to Postgres using cfg.
func NewCatalogStore(ctx context.Context, cfg Config) (*CatalogStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	store := &CatalogStore{pool: p}
	if cfg.ApplySchema {
		if err := store.EnsureSchema(ctx); err != nil {
			p.Close()
			return nil, err
		}
	}
	return store, nil
}

// NewCatalogStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewCatalogStoreWithPool(p pool) (*CatalogStore, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &CatalogStore{pool: p}, nil
}

// EnsureSchema creates the catalog tables when they do not exist.
func (s *CatalogStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Ping checks connectivity.
func (s *CatalogStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

// Close releases the underlying pool resources.
func (s *CatalogStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
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
	err := s.pool.QueryRow(ctx, "SELECT title FROM releases ORDER BY published DESC, id DESC LIMIT 1").Scan(&title)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", catalog.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("query latest release: %w", err)
	}
	return title, nil
}

// FindGenresByAlias returns genres whose alias set contains alias, ordered by name.
func (s *CatalogStore) FindGenresByAlias(ctx context.Context, alias string) ([]catalog.Genre, error) {
	rows, err := s.pool.Query(ctx,
		"SELECT name, aliases FROM genres WHERE position($1 in aliases) > 0 ORDER BY name",
		catalog.AliasToken(alias))
	if err != nil {
		return nil, fmt.Errorf("query genres by alias: %w", err)
	}
	defer rows.Close()

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
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		var existing string
		err := tx.QueryRow(ctx, "SELECT aliases FROM genres WHERE name = $1 FOR UPDATE", genre.Name).Scan(&existing)
		if err != nil && !errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("lock genre: %w", err)
		}
		merged := catalog.MergeAliases(catalog.SplitAliases(existing), genre.Aliases)
		if _, err := tx.Exec(ctx, `
INSERT INTO genres (name, aliases) VALUES ($1, $2)
ON CONFLICT (name) DO UPDATE SET aliases = EXCLUDED.aliases`,
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
	return s.inTx(ctx, func(tx pgx.Tx) error {
		for _, name := range release.Languages {
			if _, err := tx.Exec(ctx, "INSERT INTO languages (name) VALUES ($1) ON CONFLICT DO NOTHING", name); err != nil {
				return fmt.Errorf("insert language: %w", err)
			}
		}
		for _, name := range release.Companies {
			if _, err := tx.Exec(ctx, "INSERT INTO companies (name) VALUES ($1) ON CONFLICT DO NOTHING", name); err != nil {
				return fmt.Errorf("insert company: %w", err)
			}
		}
		for _, name := range release.Genres {
			if _, err := tx.Exec(ctx, "INSERT INTO genres (name, aliases) VALUES ($1, $2) ON CONFLICT DO NOTHING",
				name, catalog.JoinAliases([]string{name})); err != nil {
				return fmt.Errorf("insert genre: %w", err)
			}
		}

		_, err := tx.Exec(ctx, `
INSERT INTO releases (
	id, slug, title, link, published, cover_src, original_size, repack_size,
	mirrors, screenshots, repack_description, game_description, pink_paw
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`,
			release.ID,
			release.Slug,
			release.Title,
			release.Link,
			release.PublishedAt,
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
			{"INSERT INTO release_languages (release_id, language) VALUES ($1, $2) ON CONFLICT DO NOTHING", release.Languages},
			{"INSERT INTO release_companies (release_id, company) VALUES ($1, $2) ON CONFLICT DO NOTHING", release.Companies},
			{"INSERT INTO release_genres (release_id, genre) VALUES ($1, $2) ON CONFLICT DO NOTHING", release.Genres},
		}
		for _, j := range joins {
			for _, v := range j.values {
				if _, err := tx.Exec(ctx, j.query, release.ID, v); err != nil {
					return fmt.Errorf("insert release join: %w", err)
				}
			}
		}
		return nil
	})
}

// ListReleases returns one page of matching releases, newest first.
func (s *CatalogStore) ListReleases(ctx context.Context, query catalog.ListQuery) ([]catalog.Release, error) {
	sql, args := sqlutil.ListQuery(query, sqlutil.Postgres)
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query releases: %w", err)
	}
	defer rows.Close()

	out := make([]catalog.Release, 0)
	for rows.Next() {
		var (
			r                    catalog.Release
			mirrors, screenshots string
		)
		if err := rows.Scan(
			&r.ID, &r.Slug, &r.Title, &r.Link, &r.PublishedAt, &r.CoverImage,
			&r.OriginalSize, &r.RepackSize, &mirrors, &screenshots,
			&r.RepackDescription, &r.GameDescription, &r.PinkPaw,
		); err != nil {
			return nil, fmt.Errorf("scan release: %w", err)
		}
		if err := sqlutil.DecodeCollections(&r, mirrors, screenshots); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate releases: %w", err)
	}
	rows.Close()
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
		q, args := table.Query(ids, sqlutil.Postgres)
		rows, err := s.pool.Query(ctx, q, args...)
		if err != nil {
			return fmt.Errorf("query %s: %w", table.Name, err)
		}
		for rows.Next() {
			var id, value string
			if err := rows.Scan(&id, &value); err != nil {
				rows.Close()
				return fmt.Errorf("scan %s: %w", table.Name, err)
			}
			table.Attach(byID, id, value)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return fmt.Errorf("iterate %s: %w", table.Name, err)
		}
	}
	return nil
}

func (s *CatalogStore) queryStrings(ctx context.Context, query string) ([]string, error) {
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query %q: %w", query, err)
	}
	defer rows.Close()
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

func (s *CatalogStore) inTx(ctx context.Context, fn func(pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			return fmt.Errorf("%w (rollback: %v)", err, rbErr)
		}
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func releaseInsertError(release catalog.Release, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		switch {
		case strings.Contains(pgErr.ConstraintName, "slug"):
			return &catalog.ConflictError{Field: "slug", Value: release.Slug}
		case strings.Contains(pgErr.ConstraintName, "link"):
			return &catalog.ConflictError{Field: "link", Value: release.Link}
		default:
			return &catalog.ConflictError{Field: "id", Value: release.ID}
		}
	}
	return fmt.Errorf("insert release: %w", err)
}
