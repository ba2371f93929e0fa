// Package htmlutil holds the text and link helpers shared by the listing
// parser and the detail extractor.
package htmlutil

import (
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

var numericRef = regexp.MustCompile(`&#(\d+);`)

// Decode trims s, resolves decimal character references left in the text and
// replaces the typographic apostrophe with a plain one.
func Decode(s string) string {
	s = strings.TrimSpace(s)
	s = numericRef.ReplaceAllStringFunc(s, func(ref string) string {
		n, err := strconv.Atoi(ref[2 : len(ref)-1])
		if err != nil || n <= 0 || n > 0x10FFFF {
			return ref
		}
		return string(rune(n))
	})
	return strings.ReplaceAll(s, "’", "'")
}

// Text returns the decoded text of the first node in sel.
func Text(sel *goquery.Selection) string {
	return Decode(sel.First().Text())
}

// InnerHTML returns the trimmed inner markup of the first node in sel.
func InnerHTML(sel *goquery.Selection) string {
	html, err := sel.First().Html()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(html)
}

// Resolve makes href absolute against base. Unparseable input is returned
// unchanged.
func Resolve(base *url.URL, href string) string {
	href = strings.TrimSpace(href)
	if base == nil || href == "" {
		return href
	}
	ref, err := url.Parse(href)
	if err != nil {
		return href
	}
	return base.ResolveReference(ref).String()
}

// IsAbsoluteURL reports whether raw is an absolute http(s) URL.
func IsAbsoluteURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
