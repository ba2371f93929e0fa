package taxonomy

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultAliasTable(t *testing.T) {
	t.Parallel()

	table := DefaultAliasTable()
	require.Equal(t, 47, table.Len())

	group, ok := table.Lookup("Point-and-click")
	require.True(t, ok)
	require.Equal(t, "Point & Click", group[0])

	// Listed in both the Adventure and RPG groups: first group in table order wins.
	group, ok = table.Lookup("Adventure. RPG")
	require.True(t, ok)
	require.Equal(t, "Adventure", group[0])

	group, ok = table.Lookup("Action (Shooter)")
	require.True(t, ok)
	require.Equal(t, "Action", group[0])

	_, ok = table.Lookup("point and click")
	require.False(t, ok, "lookup is case-sensitive")
}

func TestLookupReturnsCopy(t *testing.T) {
	t.Parallel()

	table := DefaultAliasTable()
	group, ok := table.Lookup("Zombies")
	require.True(t, ok)
	group[0] = "mutated"

	again, _ := table.Lookup("Zombies")
	require.Equal(t, "Zombie", again[0])
}

func TestParseAliasTable(t *testing.T) {
	t.Parallel()

	table, err := ParseAliasTable(strings.NewReader("# comment\n\n|Sci-Fi|Science Fiction|\n|Space|Sci-Fi|\n"))
	require.NoError(t, err)
	require.Equal(t, 2, table.Len())
	group, ok := table.Lookup("Sci-Fi")
	require.True(t, ok)
	require.Equal(t, []string{"Sci-Fi", "Science Fiction"}, group)

	_, err = ParseAliasTable(strings.NewReader("||\n"))
	require.Error(t, err)
}

func TestLoadAliasTable(t *testing.T) {
	t.Parallel()

	table, err := LoadAliasTable("")
	require.NoError(t, err)
	require.Equal(t, 47, table.Len())

	path := filepath.Join(t.TempDir(), "aliases.txt")
	require.NoError(t, os.WriteFile(path, []byte("|Racing|Racer|\n"), 0o600))
	table, err = LoadAliasTable(path)
	require.NoError(t, err)
	require.Equal(t, 1, table.Len())

	_, err = LoadAliasTable(filepath.Join(t.TempDir(), "missing.txt"))
	require.Error(t, err)
}

func TestNilAliasTable(t *testing.T) {
	t.Parallel()

	var table *AliasTable
	_, ok := table.Lookup("Action")
	require.False(t, ok)
	require.Zero(t, table.Len())
}
