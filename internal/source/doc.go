// Package source discovers release candidates on the source site: the
// paginated A-Z index and the syndication feed.
package source
