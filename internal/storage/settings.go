package storage

import (
	"context"
	"encoding/json"
	"fmt"
)

// Settings is a namespaced, JSON-encoded view over a Store.
// Each plugin gets one keyed by its name.
type Settings struct {
	st Store
	ns string
}

func NewSettings(st Store, ns string) *Settings {
	return &Settings{st: st, ns: ns}
}

// Get decodes the value of key into out. ok is false when the key is unset.
func (s *Settings) Get(ctx context.Context, key string, out any) (bool, error) {
	if s == nil || s.st == nil {
		return false, ErrDisabled
	}
	b, ok, err := s.st.Get(ctx, s.ns, key)
	if err != nil || !ok {
		return false, err
	}
	if err := json.Unmarshal(b, out); err != nil {
		return false, fmt.Errorf("settings %s/%s: %w", s.ns, key, err)
	}
	return true, nil
}

func (s *Settings) Set(ctx context.Context, key string, v any) error {
	if s == nil || s.st == nil {
		return ErrDisabled
	}
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.st.Set(ctx, s.ns, key, b)
}

func (s *Settings) Delete(ctx context.Context, key string) error {
	if s == nil || s.st == nil {
		return ErrDisabled
	}
	return s.st.Delete(ctx, s.ns, key)
}

// Bool returns the stored bool, or def when unset. A failed read returns def
// and the error.
func (s *Settings) Bool(ctx context.Context, key string, def bool) (bool, error) {
	var v bool
	ok, err := s.Get(ctx, key, &v)
	if err != nil || !ok {
		return def, err
	}
	return v, nil
}

// String returns the stored string, or def when unset. A failed read returns
// def and the error.
func (s *Settings) String(ctx context.Context, key string, def string) (string, error) {
	var v string
	ok, err := s.Get(ctx, key, &v)
	if err != nil || !ok {
		return def, err
	}
	return v, nil
}

func (s *Settings) SetBool(ctx context.Context, key string, v bool) error { return s.Set(ctx, key, v) }

func (s *Settings) SetString(ctx context.Context, key string, v string) error {
	return s.Set(ctx, key, v)
}
