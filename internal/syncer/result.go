package syncer

import (
	"strings"
	"time"
)

// Discovery strategies.
const (
	StrategyFull = "full"
	StrategyFeed = "feed"
)

// AddedRelease identifies a release inserted during a run.
type AddedRelease struct {
	Title string `json:"title"`
	Slug  string `json:"slug"`
}

// ItemError records why one candidate was not added.
type ItemError struct {
	Title string
	Link  string
	Err   error
}

func (e ItemError) Error() string {
	return e.Title + ": " + e.Err.Error()
}

func (e ItemError) Unwrap() error { return e.Err }

// Result summarizes one sync run.
type Result struct {
	Strategy   string
	Added      []AddedRelease
	Errors     []ItemError
	StartedAt  time.Time
	FinishedAt time.Time
}

// Partial reports a run with both additions and failures.
func (r Result) Partial() bool {
	return len(r.Added) > 0 && len(r.Errors) > 0
}

// Failed reports a run that only produced failures.
func (r Result) Failed() bool {
	return len(r.Added) == 0 && len(r.Errors) > 0
}

// Titles returns the added titles in insertion order.
func (r Result) Titles() []string {
	titles := make([]string, len(r.Added))
	for i, a := range r.Added {
		titles[i] = a.Title
	}
	return titles
}

// Summary renders the added titles, one per line, followed by one
// "title: error" line per failure.
func (r Result) Summary() string {
	lines := make([]string, 0, len(r.Added)+len(r.Errors))
	lines = append(lines, r.Titles()...)
	for _, e := range r.Errors {
		lines = append(lines, e.Error())
	}
	return strings.Join(lines, "\n")
}

func (r Result) outcome() string {
	switch {
	case r.Failed():
		return "failed"
	case r.Partial():
		return "partial"
	default:
		return "success"
	}
}
