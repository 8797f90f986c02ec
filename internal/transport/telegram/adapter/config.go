package adapter

import (
	"errors"
	"strings"
	"time"
)

// Config configures the MTProto user session.
type Config struct {
	APIID       int
	APIHash     string
	Phone       string
	Password    string
	SessionFile string

	// ResolveCacheTTL bounds how long resolved usernames are reused.
	ResolveCacheTTL time.Duration
	// UpdateBuffer is the capacity callers are expected to give the update channel.
	// Only used for drop reports.
	UpdateBuffer int
	// RequestsPerSecond throttles outgoing RPCs; 0 disables the limiter.
	RequestsPerSecond float64
}

const (
	defaultResolveTTL  = 10 * time.Minute
	resolveCacheSize   = 512
	userCacheSize      = 4096
	defaultRequestRate = 10
)

var errNoCredentials = errors.New("telegram api_id/api_hash are empty")

func (c Config) withDefaults() (Config, error) {
	if c.APIID == 0 || strings.TrimSpace(c.APIHash) == "" {
		return c, errNoCredentials
	}
	if strings.TrimSpace(c.SessionFile) == "" {
		c.SessionFile = "./userbot.session.json"
	}
	if c.ResolveCacheTTL <= 0 {
		c.ResolveCacheTTL = defaultResolveTTL
	}
	if c.RequestsPerSecond == 0 {
		c.RequestsPerSecond = defaultRequestRate
	}
	return c, nil
}
