// Package crawler implements the breadth-first site walk: URL normalization,
// link discovery, the per-job frontier and the rate-limited scheduler that
// drives a Fetcher over it.
package crawler
