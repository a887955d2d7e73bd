// Package storage persists the recipient directory and the win ledger.
//
// Drivers:
//   - "sqlite": modernc.org/sqlite database file (cgo-free)
//   - "memory": process-local maps, used by tests and dry runs
package storage
