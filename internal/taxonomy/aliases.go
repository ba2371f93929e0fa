package taxonomy

import (
	"bufio"
	"bytes"
	_ "embed"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/JakeFAU/repack-catalog/internal/catalog"
)

//go:embed aliases.txt
var defaultAliases []byte

// AliasTable is the static list of genre synonym groups. The first entry of
// each group is its canonical name. It is read-only once loaded.
type AliasTable struct {
	groups [][]string
	index  map[string]int
}

// DefaultAliasTable returns the built-in table.
func DefaultAliasTable() *AliasTable {
	table, err := ParseAliasTable(bytes.NewReader(defaultAliases))
	if err != nil {
		panic(fmt.Sprintf("embedded alias table: %v", err))
	}
	return table
}

// LoadAliasTable reads a table from path, or returns the built-in table when
// path is empty.
func LoadAliasTable(path string) (*AliasTable, error) {
	if strings.TrimSpace(path) == "" {
		return DefaultAliasTable(), nil
	}
	f, err := os.Open(path) // #nosec G304 -- operator supplied path.
	if err != nil {
		return nil, fmt.Errorf("open alias table: %w", err)
	}
	defer func() { _ = f.Close() }()
	return ParseAliasTable(f)
}

// ParseAliasTable reads one pipe-delimited group per line. Blank lines and
// lines starting with '#' are ignored.
func ParseAliasTable(r io.Reader) (*AliasTable, error) {
	table := &AliasTable{index: make(map[string]int)}
	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		group := catalog.SplitAliases(line)
		if len(group) == 0 {
			return nil, fmt.Errorf("alias table line %d: empty group", lineNo)
		}
		pos := len(table.groups)
		table.groups = append(table.groups, group)
		for _, alias := range group {
			// First group in table order wins for aliases listed twice.
			if _, ok := table.index[alias]; !ok {
				table.index[alias] = pos
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read alias table: %w", err)
	}
	return table, nil
}

// Lookup returns the group containing raw exactly.
func (t *AliasTable) Lookup(raw string) ([]string, bool) {
	if t == nil {
		return nil, false
	}
	pos, ok := t.index[raw]
	if !ok {
		return nil, false
	}
	return append([]string(nil), t.groups[pos]...), true
}

// Len returns the number of groups.
func (t *AliasTable) Len() int {
	if t == nil {
		return 0
	}
	return len(t.groups)
}
