package config

import (
	"bytes"
	"encoding/json"
)

type Config struct {
	Telegram      TelegramConfig             `json:"telegram"`
	Logging       LoggingConfig              `json:"logging"`
	Observability ObservabilityConfig        `json:"observability,omitempty"`
	Storage       *StorageConfig             `json:"storage,omitempty"`
	Plugins       map[string]PluginConfigRaw `json:"plugins"`
}

// TelegramConfig configures the MTProto user session.
//
// api_id, api_hash, phone and password may be left empty in the file and
// supplied through USERBOT_* environment variables (or .env) instead.
type TelegramConfig struct {
	APIID       int    `json:"api_id"`
	APIHash     string `json:"api_hash"`
	Phone       string `json:"phone,omitempty"`
	Password    string `json:"password,omitempty"`
	SessionFile string `json:"session_file,omitempty"` // default: "./userbot.session.json"

	// OwnerUserIDs may run owner-only commands besides the account itself.
	OwnerUserIDs []int64 `json:"owner_user_ids,omitempty"`
	// LogChat receives WARN+ log records when logging.telegram is enabled
	// (@username or numeric user id).
	LogChat string `json:"log_chat,omitempty"`
	// CommandPrefix defaults to ".".
	CommandPrefix string `json:"command_prefix,omitempty"`
	// ResolveCacheTTL is a Go duration string (default "10m").
	ResolveCacheTTL string `json:"resolve_cache_ttl,omitempty"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// StorageConfig controls the settings store.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./data/userbot.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// ObservabilityConfig controls the optional debug HTTP server.
//
// Security note:
//   - Prefer binding to localhost (e.g. "127.0.0.1:6060").
//   - If you bind to a non-loopback address, set a token or explicitly allow_insecure.
type ObservabilityConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`  // default: "127.0.0.1:6060"
	Token         string `json:"token,omitempty"` // optional bearer token (do not log)
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
	Metrics       *bool  `json:"metrics,omitempty"` // default true
	Pprof         bool   `json:"pprof,omitempty"`

	ReadTimeout string `json:"read_timeout,omitempty"`
	IdleTimeout string `json:"idle_timeout,omitempty"`
}

func (o ObservabilityConfig) MetricsEnabled() bool { return o.Metrics == nil || *o.Metrics }

type PluginConfigRaw struct {
	Enabled bool            `json:"enabled"`
	Config  json.RawMessage `json:"config,omitempty"`
}

// UnmarshalJSON disallows unknown fields so typos in plugin blocks are
// caught during reload.
func (p *PluginConfigRaw) UnmarshalJSON(b []byte) error {
	type tmp struct {
		Enabled bool            `json:"enabled"`
		Config  json.RawMessage `json:"config,omitempty"`
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	var t tmp
	if err := dec.Decode(&t); err != nil {
		return err
	}
	*p = PluginConfigRaw{Enabled: t.Enabled, Config: t.Config}
	return nil
}
