// Package storage persists apartment listings and task run records in a
// local sqlite database (modernc.org/sqlite, so no cgo).
//
// The scrape task upserts listings, the health-check task pings the
// database, and the cleanup task prunes rows older than the retention
// window. Times are stored as unix milliseconds so range queries compare
// correctly.
package storage
