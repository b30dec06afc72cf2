// Package storage persists distribution records, channels and settings.
//
// Two drivers ship:
//   - memory: maps behind a mutex, for tests and throwaway runs
//   - sqlite: a single database file (modernc.org/sqlite, no cgo)
package storage
