// Package pipeline orchestrates one nightly run end to end: ingest candidate
// keywords, resolve them against the store, fetch-or-reuse each weekly
// series, score it, snapshot it, then stage, policy-check, and publish the
// static site.
//
// Run never returns an error. Every keyword iteration produces a tagged
// outcome that is folded into the RunReport; only run-level failures (no
// keyword source, store unreachable at resolve time, staging or publish
// errors) move the run to the failed state. A run that scores nothing skips
// publishing and reports success=false while still terminating cleanly.
//
// All collaborators arrive as interfaces through Deps, so tests drive the
// state machine with fakes and no network or database.
package pipeline
