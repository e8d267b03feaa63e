// Package storage persists units, sources, alerts, dedup history, groups,
// sinks and responses.
//
// It currently supports:
//   - an in-memory repository for tests and single-run setups
//   - SQLite (modernc.org/sqlite, no cgo)
//   - PostgreSQL (pgx stdlib driver)
//
// Both SQL backends share one schema and one query set.
package storage
