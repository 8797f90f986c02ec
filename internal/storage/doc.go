// Package storage is the host key-value settings store.
//
// Plugins keep their durable settings here (namespaced by plugin), and the
// command router appends an audit entry for every command it runs.
//
// Drivers:
//   - "memory": process-local map (lost on restart)
//   - "file":   JSON snapshot + append-only journal
//   - "sqlite": SQLite database file (modernc.org/sqlite, no cgo)
//   - "pebble": Pebble LSM directory
package storage
