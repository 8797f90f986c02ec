package activity

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"userbot/internal/plugin"
)

// Config is plugins.activity.config. Zero values mean defaults.
type Config struct {
	RecentCount      int             `json:"recent_count,omitempty"`
	MaxCount         int             `json:"max_count,omitempty"`
	ReportPreviewLen int             `json:"report_preview_len,omitempty"`
	ListPreviewLen   int             `json:"list_preview_len,omitempty"`
	Timezone         string          `json:"timezone,omitempty"`
	ScanLimit        int             `json:"scan_limit,omitempty"`
	Timeouts         plugin.Timeouts `json:"timeouts,omitempty"`

	loc *time.Location
}

func (c Config) withDefaults() Config {
	if c.RecentCount <= 0 {
		c.RecentCount = 5
	}
	if c.MaxCount <= 0 {
		c.MaxCount = 50
	}
	if c.ReportPreviewLen <= 0 {
		c.ReportPreviewLen = 50
	}
	if c.ListPreviewLen <= 0 {
		c.ListPreviewLen = 60
	}
	if c.loc == nil {
		c.loc = time.UTC
	}
	return c
}

func parseConfig(raw []byte) (Config, error) {
	c, err := plugin.DecodePluginConfig[Config](raw)
	if err != nil {
		return Config{}, err
	}
	if c.RecentCount < 0 || c.MaxCount < 0 || c.ScanLimit < 0 {
		return Config{}, errors.New("recent_count, max_count and scan_limit must be >= 0")
	}
	if tz := strings.TrimSpace(c.Timezone); tz != "" {
		loc, err := time.LoadLocation(tz)
		if err != nil {
			return Config{}, fmt.Errorf("timezone: invalid %q: %w", tz, err)
		}
		c.loc = loc
	}
	return c.withDefaults(), nil
}
