package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound signals that the requested record does not exist.
var ErrNotFound = errors.New("catalog record not found")

// ListParseError means an index page no longer has the expected shape. It
// aborts a full crawl.
type ListParseError struct {
	Page   int
	Reason string
}

func (e *ListParseError) Error() string {
	return fmt.Sprintf("parse listing page %d: %s", e.Page, e.Reason)
}

// FeedFetchError means the syndication feed could not be fetched or parsed.
// It aborts a feed sync.
type FeedFetchError struct {
	URL string
	Err error
}

func (e *FeedFetchError) Error() string {
	return fmt.Sprintf("fetch feed %s: %v", e.URL, e.Err)
}

func (e *FeedFetchError) Unwrap() error { return e.Err }

// ExtractionError is a per-item failure to turn a detail page into a record.
type ExtractionError struct {
	URL string
	Err error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extract %s: %v", e.URL, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// ValidationError lists required fields that were absent after parsing. It is
// always returned wrapped in an ExtractionError.
type ValidationError struct {
	Fields []string
}

func (e *ValidationError) Error() string {
	return "missing required fields: " + strings.Join(e.Fields, ", ")
}

// ConflictError reports a uniqueness violation on a release column.
type ConflictError struct {
	Field string
	Value string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("release %s %q already exists", e.Field, e.Value)
}

// IsFatal reports whether err aborts a whole sync run rather than a single item.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	var listErr *ListParseError
	var feedErr *FeedFetchError
	return errors.As(err, &listErr) ||
		errors.As(err, &feedErr) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

// ErrorKind returns a short label for metrics and logs.
func ErrorKind(err error) string {
	var (
		listErr     *ListParseError
		feedErr     *FeedFetchError
		validateErr *ValidationError
		extractErr  *ExtractionError
		conflictErr *ConflictError
	)
	switch {
	case err == nil:
		return "none"
	case errors.As(err, &listErr):
		return "list_parse"
	case errors.As(err, &feedErr):
		return "feed_fetch"
	case errors.As(err, &validateErr):
		return "validation"
	case errors.As(err, &extractErr):
		return "extraction"
	case errors.As(err, &conflictErr):
		return "store_conflict"
	default:
		return "other"
	}
}
