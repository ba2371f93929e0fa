// Package archive decorates a catalog.Fetcher so every fetched page is copied
// to a blob store under its content hash.
package archive

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/repack-catalog/internal/catalog"
)

const defaultPrefix = "pages"

// Fetcher archives successful responses from the wrapped fetcher.
type Fetcher struct {
	next   catalog.Fetcher
	blobs  catalog.BlobStore
	hasher catalog.Hasher
	prefix string
	logger *zap.Logger
}

// New wraps next. Archive failures are logged and never fail the fetch.
func New(next catalog.Fetcher, blobs catalog.BlobStore, hasher catalog.Hasher, prefix string, logger *zap.Logger) *Fetcher {
	if prefix == "" {
		prefix = defaultPrefix
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fetcher{
		next:   next,
		blobs:  blobs,
		hasher: hasher,
		prefix: prefix,
		logger: logger.Named("archive"),
	}
}

// Fetch delegates to the wrapped fetcher and stores the body on success.
func (f *Fetcher) Fetch(ctx context.Context, url string) (catalog.FetchResponse, error) {
	resp, err := f.next.Fetch(ctx, url)
	if err != nil {
		return resp, err
	}
	uri, err := f.store(ctx, resp)
	if err != nil {
		f.logger.Warn("archive page failed", zap.String("url", url), zap.Error(err))
		return resp, nil
	}
	f.logger.Debug("archived page", zap.String("url", url), zap.String("uri", uri))
	return resp, nil
}

func (f *Fetcher) store(ctx context.Context, resp catalog.FetchResponse) (string, error) {
	digest, err := f.hasher.Hash(resp.Body)
	if err != nil {
		return "", fmt.Errorf("hash body: %w", err)
	}
	contentType := "text/html"
	if resp.Headers != nil {
		if ct := resp.Headers.Get("Content-Type"); ct != "" {
			contentType = ct
		}
	}
	name := path.Join(f.prefix, digest+extension(contentType))
	uri, err := f.blobs.PutObject(ctx, name, contentType, bytes.NewReader(resp.Body))
	if err != nil {
		return "", fmt.Errorf("put %s: %w", name, err)
	}
	return uri, nil
}

func extension(contentType string) string {
	switch {
	case strings.Contains(contentType, "xml"):
		return ".xml"
	case strings.Contains(contentType, "json"):
		return ".json"
	default:
		return ".html"
	}
}
