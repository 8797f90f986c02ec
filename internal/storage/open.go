package storage

import (
	"context"
	"errors"
	"strings"

	logx "userbot/pkg/logx"
)

// Store is the persistence API used by the router and plugins.
//
// Values are opaque UTF-8 text (Settings stores JSON).
// Get reports ok=false for a missing key; that is not an error.
type Store interface {
	Get(ctx context.Context, ns, key string) (val []byte, ok bool, err error)
	Set(ctx context.Context, ns, key string, val []byte) error
	Delete(ctx context.Context, ns, key string) error
	AppendAudit(ctx context.Context, e AuditEntry) error
	Close() error
}

// Open initializes the configured store.
func Open(cfg Config, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	switch driver {
	case "", "none", "memory":
		if driver != "memory" {
			log.Warn("storage driver not set; settings will not survive a restart")
		}
		return NewMemory(), nil
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	case "pebble":
		return openPebble(cfg, log, nil)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
