// Package types defines the shared domain types used across the pipeline:
// keywords, cached trend series, daily snapshots, and the per-run report.
// These are the canonical in-memory representations, separate from the
// SQLite row layout and the rendered page output.
package types
