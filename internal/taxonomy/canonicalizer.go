// Package taxonomy resolves raw genre labels to canonical genres.
package taxonomy

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/repack-catalog/internal/catalog"
)

// GenreStore is the subset of catalog.Store the canonicalizer reads and writes.
type GenreStore interface {
	FindGenresByAlias(ctx context.Context, alias string) ([]catalog.Genre, error)
	UpsertGenre(ctx context.Context, genre catalog.Genre) (catalog.Genre, error)
}

// Canonicalizer maps raw genre strings onto canonical genre names, creating
// canonical rows on first sight.
type Canonicalizer struct {
	store  GenreStore
	table  *AliasTable
	logger *zap.Logger
}

// New builds a Canonicalizer. A nil table means no static synonyms.
func New(store GenreStore, table *AliasTable, logger *zap.Logger) *Canonicalizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Canonicalizer{store: store, table: table, logger: logger}
}

// Canonicalize resolves each raw genre in order:
//  1. an existing genre whose alias set contains the raw string (lowest name wins),
//  2. else the static group containing it, stored under the group's first entry,
//  3. else a new genre named after the raw string itself.
//
// The result is de-duplicated and keeps first-seen order.
func (c *Canonicalizer) Canonicalize(ctx context.Context, raw []string) ([]string, error) {
	out := make([]string, 0, len(raw))
	seen := make(map[string]struct{}, len(raw))
	for _, r := range raw {
		name := normalizeRaw(r)
		if name == "" {
			continue
		}
		canonical, err := c.resolve(ctx, name)
		if err != nil {
			return nil, err
		}
		if _, ok := seen[canonical]; ok {
			continue
		}
		seen[canonical] = struct{}{}
		out = append(out, canonical)
	}
	return out, nil
}

func (c *Canonicalizer) resolve(ctx context.Context, raw string) (string, error) {
	matches, err := c.store.FindGenresByAlias(ctx, raw)
	if err != nil {
		return "", fmt.Errorf("find genre by alias %q: %w", raw, err)
	}
	if len(matches) > 0 {
		if len(matches) > 1 {
			c.logger.Warn("ambiguous genre alias",
				zap.String("alias", raw),
				zap.Int("matches", len(matches)),
				zap.String("chosen", matches[0].Name),
			)
		}
		return matches[0].Name, nil
	}

	genre := catalog.Genre{Name: raw, Aliases: []string{raw}}
	if group, ok := c.table.Lookup(raw); ok {
		genre = catalog.Genre{Name: group[0], Aliases: group}
	}
	stored, err := c.store.UpsertGenre(ctx, genre)
	if err != nil {
		return "", fmt.Errorf("upsert genre %q: %w", genre.Name, err)
	}
	c.logger.Debug("created canonical genre",
		zap.String("raw", raw),
		zap.String("genre", stored.Name),
	)
	return stored.Name, nil
}

// normalizeRaw trims raw and removes the alias separator, which cannot appear
// inside a persisted alias.
func normalizeRaw(raw string) string {
	return strings.TrimSpace(strings.ReplaceAll(raw, catalog.AliasSeparator, " "))
}
