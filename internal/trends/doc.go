// Package trends fetches weekly interest series from the external trends
// endpoint and decides fetch-vs-reuse through a TTL cache.
//
// client.go is the HTTP fetcher: every attempt passes through a shared rate
// Gate, retryable failures (connect errors, 408/429/5xx) are retried on an
// exponential backoff schedule, and the decoded series is validated before
// being returned.
//
// cache.go wraps the fetcher: entries younger than the TTL are served
// without any external call, successful fetches replace the stored entry
// wholesale, and a failed fetch falls back to the stale entry when one
// exists. ErrFetchFailed surfaces only when there is no cached data at all.
//
// gate.go is the instance-scoped rate gate. One Gate is shared by the whole
// process so external calls are spaced regardless of keyword.
package trends
