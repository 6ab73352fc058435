// Package fileindex keeps a searchable index of local text files.
//
// Invariants:
// - Files are re-chunked only when their mtime moved by more than a second.
// - Sensitive paths, oversized files and binary content never enter the index.
// - A chunk row is never left pointing at stale trailing chunks after a shrink.
// - Per-file failures are counted, never fatal to a run.
package fileindex
