// Package crawl mirrors library assets from a remote origin into the local
// asset store.
//
// A crawl takes manifest entries, fetches each entry's blob unless it is
// already stored or already handled in this run, and then resolves sprite
// descriptors one level deep to fetch the costumes and sounds they reference.
// Fetches run on a bounded worker pool with per-request timeouts, bounded
// retries, and an optional request rate limit. Failures are collected into
// the Result rather than stopping the run.
package crawl
