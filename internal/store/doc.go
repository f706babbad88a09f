// Package store defines the persistence contracts for crawl status records,
// stored pages and the set of indexed seeds. Implementations live under
// internal/storage; this package must not import database drivers or
// concrete clients.
package store
