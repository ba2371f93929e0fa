package catalog

import "strings"

// AliasSeparator delimits entries of a persisted alias set.
const AliasSeparator = "|"

// JoinAliases encodes an alias set as "|a|b|" so that an exact member can be
// found with a substring search for "|a|".
func JoinAliases(aliases []string) string {
	clean := make([]string, 0, len(aliases))
	for _, a := range aliases {
		if a = strings.TrimSpace(a); a != "" {
			clean = append(clean, a)
		}
	}
	if len(clean) == 0 {
		return AliasSeparator
	}
	return AliasSeparator + strings.Join(clean, AliasSeparator) + AliasSeparator
}

// SplitAliases decodes a persisted alias set.
func SplitAliases(encoded string) []string {
	parts := strings.Split(encoded, AliasSeparator)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// AliasToken is the substring that marks alias as a member of an encoded set.
func AliasToken(alias string) string {
	return AliasSeparator + alias + AliasSeparator
}

// MergeAliases returns base followed by the members of extra it does not
// already contain.
func MergeAliases(base, extra []string) []string {
	out := make([]string, 0, len(base)+len(extra))
	seen := make(map[string]struct{}, len(base)+len(extra))
	for _, list := range [][]string{base, extra} {
		for _, a := range list {
			if a == "" {
				continue
			}
			if _, ok := seen[a]; ok {
				continue
			}
			seen[a] = struct{}{}
			out = append(out, a)
		}
	}
	return out
}
