// Package slug derives URL-safe identifiers from release titles.
package slug

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var (
	nonAlnum  = regexp.MustCompile(`[^a-z0-9]+`)
	tagUnsafe = regexp.MustCompile(`[^a-zA-Z0-9]`)
)

// replacements cover characters that carry meaning in titles but have no
// decomposed ASCII form.
var replacements = strings.NewReplacer(
	"&", " and ",
	"+", " plus ",
	"ß", "ss",
	"æ", "ae",
	"Æ", "ae",
	"ø", "o",
	"Ø", "o",
	"œ", "oe",
	"Œ", "oe",
	"ł", "l",
	"Ł", "l",
	"đ", "d",
	"Đ", "d",
)

// Make lowercases title, strips diacritics and joins alphanumeric runs with
// hyphens. It returns "" when nothing alphanumeric survives.
func Make(title string) string {
	s := replacements.Replace(title)
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}
	folded = strings.ToLower(folded)
	folded = nonAlnum.ReplaceAllString(folded, "-")
	return strings.Trim(folded, "-")
}

// CacheTag turns a slug into an identifier-safe cache tag.
func CacheTag(slug string) string {
	return tagUnsafe.ReplaceAllString(slug, "_")
}
