package sqlutil

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/repack-catalog/internal/catalog"
)

func TestListQueryPostgres(t *testing.T) {
	t.Parallel()

	sql, args := ListQuery(catalog.ListQuery{
		Page:    2,
		Title:   "gate",
		PinkPaw: true,
		Genre:   "rpg",
		Company: "larian",
		Slugs:   []string{"a", "b"},
	}, Postgres)

	require.Contains(t, sql, "r.title ILIKE '%' || $1 || '%'")
	require.Contains(t, sql, "r.pink_paw")
	require.Contains(t, sql, "r.slug IN ($2, $3)")
	require.Contains(t, sql, "g.genre ILIKE '%' || $4 || '%'")
	require.Contains(t, sql, "c.company ILIKE '%' || $5 || '%'")
	require.Contains(t, sql, "ORDER BY r.published DESC, r.id LIMIT $6 OFFSET $7")
	require.Equal(t, []any{"gate", "a", "b", "rpg", "larian", catalog.ListPageSize, 2 * catalog.ListPageSize}, args)
}

func TestListQuerySQLiteNoFilters(t *testing.T) {
	t.Parallel()

	sql, args := ListQuery(catalog.ListQuery{Page: -1}, SQLite)
	require.NotContains(t, sql, "WHERE")
	require.Contains(t, sql, "LIMIT ? OFFSET ?")
	require.Equal(t, []any{catalog.ListPageSize, 0}, args)

	sql, _ = ListQuery(catalog.ListQuery{Title: "x"}, SQLite)
	require.Contains(t, sql, "r.title LIKE '%' || ? || '%'")
}

func TestCollectionsCodec(t *testing.T) {
	t.Parallel()

	rel := catalog.Release{ID: "1"}
	mirrors, screenshots, err := EncodeCollections(rel)
	require.NoError(t, err)
	require.Equal(t, "[]", mirrors)
	require.Equal(t, "[]", screenshots)

	rel.Mirrors = []catalog.Mirror{{Name: "M", Links: []catalog.Link{{Name: "M", Link: "https://m.example/"}}}}
	rel.Screenshots = []string{"https://img.example/1.jpg"}
	mirrors, screenshots, err = EncodeCollections(rel)
	require.NoError(t, err)
	require.Equal(t, `[{"name":"M","links":[{"name":"M","link":"https://m.example/"}]}]`, mirrors)

	var decoded catalog.Release
	require.NoError(t, DecodeCollections(&decoded, mirrors, screenshots))
	require.Equal(t, rel.Mirrors, decoded.Mirrors)
	require.Equal(t, rel.Screenshots, decoded.Screenshots)

	require.Error(t, DecodeCollections(&decoded, "{", "[]"))
}

func TestJoinTableQueryAndAttach(t *testing.T) {
	t.Parallel()

	genres := JoinTables[0]
	sql, args := genres.Query([]string{"a", "b"}, Postgres)
	require.Equal(t, "SELECT release_id, genre FROM release_genres WHERE release_id IN ($1, $2) ORDER BY release_id, genre", sql)
	require.Equal(t, []any{"a", "b"}, args)

	sql, _ = JoinTables[2].Query([]string{"a"}, SQLite)
	require.Equal(t, "SELECT release_id, language FROM release_languages WHERE release_id IN (?) ORDER BY release_id, language", sql)

	releases := []catalog.Release{{ID: "a"}, {ID: "b"}}
	ids, byID := IndexByID(releases)
	require.Equal(t, []string{"a", "b"}, ids)
	genres.Attach(byID, "b", "RPG")
	genres.Attach(byID, "missing", "Shooter")
	JoinTables[1].Attach(byID, "a", "Larian Studios")
	require.Equal(t, []string{"RPG"}, releases[1].Genres)
	require.Equal(t, []string{"Larian Studios"}, releases[0].Companies)
	require.Empty(t, releases[0].Genres)
}
