// Package storage keeps an audit trail of job fires.
//
// Drivers:
//   - "file": append-only JSON Lines, recent records kept in memory
//   - "sqlite": SQLite database (modernc.org/sqlite, pure Go)
//
// History is informational only. Job state is never restored from it.
package storage
