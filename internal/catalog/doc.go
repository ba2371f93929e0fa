// Package catalog defines the release catalog domain: the transient record
// produced by the detail extractor, the persisted release and taxonomy rows,
// the collaborator interfaces used by the sync pipeline, and the error kinds
// that decide whether a run aborts or records a per-item failure.
package catalog
