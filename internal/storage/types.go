package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// Driver values: "memory", "file", "sqlite", "pebble".
// If Driver is empty or "none", an in-memory store is used.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// AuditEntry records a command run.
// Keep it compact and schema-stable.
type AuditEntry struct {
	At       time.Time `json:"at"`
	ActorID  int64     `json:"actor_id"`
	ChatID   int64     `json:"chat_id"`
	Plugin   string    `json:"plugin"`
	Action   string    `json:"action"`
	Args     string    `json:"args,omitempty"`
	Error    string    `json:"error,omitempty"`
	TookMS   int64     `json:"took_ms"`
	MetaJSON string    `json:"meta,omitempty"`
}

func storeKey(ns, key string) string { return ns + "/" + key }
