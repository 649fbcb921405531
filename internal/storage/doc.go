// Package storage persists named snapshot documents.
//
// Drivers:
//   - "file": one file per snapshot, replaced atomically (tmp + rename)
//   - "sqlite": one row per snapshot in a SQLite database (modernc.org/sqlite)
package storage
