package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/pebble"

	logx "userbot/pkg/logx"
)

// pebbleStore keeps settings under "kv/<ns>/<key>" and audit records
// under "audit/<unixnano>-<seq>" so they iterate in time order.
type pebbleStore struct {
	db  *pebble.DB
	log logx.Logger

	seq atomic.Uint64
}

const (
	pebbleKVPrefix    = "kv/"
	pebbleAuditPrefix = "audit/"
)

// openPebble opens a pebble directory at cfg.Path.
// opts may be nil; tests pass an in-memory FS.
func openPebble(cfg Config, log logx.Logger, opts *pebble.Options) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("pebble path is required")
	}
	if opts == nil {
		opts = &pebble.Options{}
		if err := os.MkdirAll(path, 0o755); err != nil {
			return nil, err
		}
	}
	db, err := pebble.Open(path, opts)
	if err != nil {
		return nil, fmt.Errorf("pebble open %s: %w", path, err)
	}
	return &pebbleStore{db: db, log: log}, nil
}

func (s *pebbleStore) kvKey(ns, key string) []byte {
	return []byte(pebbleKVPrefix + storeKey(ns, key))
}

func (s *pebbleStore) Get(_ context.Context, ns, key string) ([]byte, bool, error) {
	v, closer, err := s.db.Get(s.kvKey(ns, key))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("pebble get: %w", err)
	}
	defer closer.Close()
	out := make([]byte, len(v))
	copy(out, v)
	return out, true, nil
}

func (s *pebbleStore) Set(_ context.Context, ns, key string, val []byte) error {
	return s.db.Set(s.kvKey(ns, key), val, pebble.Sync)
}

func (s *pebbleStore) Delete(_ context.Context, ns, key string) error {
	err := s.db.Delete(s.kvKey(ns, key), pebble.Sync)
	if err != nil && !errors.Is(err, pebble.ErrNotFound) {
		return fmt.Errorf("pebble delete: %w", err)
	}
	return nil
}

func (s *pebbleStore) AppendAudit(_ context.Context, e AuditEntry) error {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	b, err := json.Marshal(e)
	if err != nil {
		return err
	}
	key := fmt.Sprintf("%s%020d-%06d", pebbleAuditPrefix, e.At.UnixNano(), s.seq.Add(1)%1000000)
	return s.db.Set([]byte(key), b, pebble.NoSync)
}

func (s *pebbleStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	if err := s.db.Flush(); err != nil {
		s.log.Warn("pebble flush failed", logx.Err(err))
	}
	return s.db.Close()
}
