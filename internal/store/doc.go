// Package store is the SQLite persistence layer: keywords, cached trend
// series, and append-only daily snapshots.
//
// New(path) opens the database with the pure-Go modernc driver and applies
// the embedded golang-migrate migrations. Snapshot inserts are
// insert-or-skip on (keyword, date) so a re-run of the same date never
// duplicates rows; cache entries are replaced wholesale on
// (keyword, geo, timeframe). Backup produces a consistent point-in-time
// copy via VACUUM INTO.
package store
