package config

import (
	"errors"
	"fmt"
	"net"
	"strings"
)

const (
	DefaultCommandPrefix   = "."
	DefaultSessionFile     = "./userbot.session.json"
	DefaultObservabilityAt = "127.0.0.1:6060"
)

// Validate checks the host-level sections. Plugin blocks are validated by
// their plugins through the plugin manager.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	if cfg.Telegram.APIID <= 0 {
		errs = append(errs, errors.New("telegram.api_id is required (or set "+EnvAPIID+")"))
	}
	if strings.TrimSpace(cfg.Telegram.APIHash) == "" {
		errs = append(errs, errors.New("telegram.api_hash is required (or set "+EnvAPIHash+")"))
	}
	if p := cfg.Telegram.CommandPrefix; strings.ContainsAny(p, " \t\n") {
		errs = append(errs, fmt.Errorf("telegram.command_prefix %q must not contain whitespace", p))
	}
	if _, err := ParseDurationField("telegram.resolve_cache_ttl", cfg.Telegram.ResolveCacheTTL); err != nil {
		errs = append(errs, err)
	}

	if st := cfg.Storage; st != nil {
		switch strings.ToLower(strings.TrimSpace(st.Driver)) {
		case "", "none", "memory":
		case "file", "sqlite", "sqlite3", "pebble":
			if strings.TrimSpace(st.Path) == "" {
				errs = append(errs, fmt.Errorf("storage.path is required for driver %q", st.Driver))
			}
		default:
			errs = append(errs, fmt.Errorf("storage.driver %q is not supported", st.Driver))
		}
		if _, err := ParseDurationField("storage.busy_timeout", st.BusyTimeout); err != nil {
			errs = append(errs, err)
		}
	}

	o := cfg.Observability
	if o.Enabled {
		addr := o.Addr
		if strings.TrimSpace(addr) == "" {
			addr = DefaultObservabilityAt
		}
		if !isLoopback(addr) && o.Token == "" && !o.AllowInsecure {
			errs = append(errs, fmt.Errorf("observability.addr %q is not loopback: set observability.token or allow_insecure", addr))
		}
		for path, raw := range map[string]string{
			"observability.read_timeout": o.ReadTimeout,
			"observability.idle_timeout": o.IdleTimeout,
		} {
			if _, err := ParseDurationField(path, raw); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

func isLoopback(addr string) bool {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
