package extract

import (
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/repack-catalog/internal/catalog"
	"github.com/JakeFAU/repack-catalog/internal/htmlutil"
)

// sectionRule handles the element that follows an h3 whose text contains marker.
type sectionRule struct {
	name   string
	marker string
	apply  func(p *pageParser, section *goquery.Selection)
}

// sectionRules are evaluated in order; the first rule whose marker appears in
// the heading text (case-sensitive) handles the section.
var sectionRules = []sectionRule{
	{name: "screenshots", marker: "Screenshots", apply: (*pageParser).applyScreenshots},
	{name: "repack", marker: "Repack", apply: (*pageParser).applyRepackNotes},
	{name: "mirrors", marker: "Mirrors", apply: (*pageParser).applyMirrors},
}

func matchSection(heading string) (sectionRule, bool) {
	for _, rule := range sectionRules {
		if strings.Contains(heading, rule.marker) {
			return rule, true
		}
	}
	return sectionRule{}, false
}

// labelRule assigns the text of a bolded value based on the label before it.
type labelRule struct {
	name   string
	marker string
	apply  func(rel *catalog.ExtractedRelease, value string)
}

// labelRules are evaluated in order against the lower-cased label text; the
// first match wins.
var labelRules = []labelRule{
	{name: "genres", marker: "genre", apply: func(rel *catalog.ExtractedRelease, v string) {
		rel.Genres = splitList(v)
	}},
	{name: "companies", marker: "compan", apply: func(rel *catalog.ExtractedRelease, v string) {
		rel.Companies = splitList(v)
	}},
	{name: "languages", marker: "language", apply: func(rel *catalog.ExtractedRelease, v string) {
		rel.Languages = splitLanguages(v)
	}},
	{name: "original size", marker: "original", apply: func(rel *catalog.ExtractedRelease, v string) {
		rel.OriginalSize = htmlutil.Decode(v)
	}},
	{name: "repack size", marker: "repack", apply: func(rel *catalog.ExtractedRelease, v string) {
		rel.RepackSize = htmlutil.Decode(v)
	}},
}

func matchLabel(label string) (labelRule, bool) {
	label = strings.ToLower(label)
	for _, rule := range labelRules {
		if strings.Contains(label, rule.marker) {
			return rule, true
		}
	}
	return labelRule{}, false
}

func (p *pageParser) applyScreenshots(_ *goquery.Selection) {
	var shots []string
	p.content.Find("a > img").Each(func(_ int, img *goquery.Selection) {
		if src, ok := img.Attr("src"); ok && strings.TrimSpace(src) != "" {
			shots = append(shots, htmlutil.Resolve(p.base, src))
		}
	})
	p.rel.Screenshots = shots
}

func (p *pageParser) applyRepackNotes(section *goquery.Selection) {
	p.rel.RepackDescription = htmlutil.InnerHTML(section)
}

// applyMirrors appends one group per list item. The first anchor names the
// group and is also its first link.
func (p *pageParser) applyMirrors(section *goquery.Selection) {
	section.Find("li").Each(func(_ int, li *goquery.Selection) {
		anchors := li.Find("a")
		if anchors.Length() == 0 {
			return
		}
		var mirror catalog.Mirror
		anchors.Each(func(i int, a *goquery.Selection) {
			name := htmlutil.Decode(a.Text())
			if i == 0 {
				mirror.Name = name
			}
			href, _ := a.Attr("href")
			mirror.Links = append(mirror.Links, catalog.Link{Name: name, Link: resolveHref(p.base, href)})
		})
		p.rel.Mirrors = append(p.rel.Mirrors, mirror)
	})
}

// resolveHref keeps magnet and other non-http links untouched.
func resolveHref(base *url.URL, href string) string {
	href = strings.TrimSpace(href)
	if strings.HasPrefix(href, "/") || strings.HasPrefix(href, ".") {
		return htmlutil.Resolve(base, href)
	}
	return href
}

// splitList splits genre or company text on ", " and then "/".
func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ", ") {
		for _, piece := range strings.Split(part, "/") {
			if piece = htmlutil.Decode(piece); piece != "" {
				out = append(out, piece)
			}
		}
	}
	return out
}

// splitLanguages splits language text on "/" and upper-cases each entry.
func splitLanguages(value string) []string {
	var out []string
	for _, piece := range strings.Split(value, "/") {
		if piece = htmlutil.Decode(piece); piece != "" {
			out = append(out, strings.ToUpper(piece))
		}
	}
	return out
}
