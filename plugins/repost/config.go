package repost

import (
	"errors"
	"strings"
	"time"

	"userbot/internal/plugin"
)

const (
	defaultSource     = "Bedrock_RP"
	defaultPromoLabel = "🔥 Лучший канал по ресурс пакам"
	defaultOpTimeout  = 30 * time.Second
)

// Config is plugins.repost.config.
//
//	source_channel: Bedrock_RP
//	exclude_mentions: true
//	creator_handle: Bedrock_RP
//	promo_label: "🔥 Лучший канал по ресурс пакам"
type Config struct {
	SourceChannel   string          `json:"source_channel,omitempty"`
	ExcludeMentions *bool           `json:"exclude_mentions,omitempty"`
	CreatorHandle   string          `json:"creator_handle,omitempty"`
	PromoLabel      string          `json:"promo_label,omitempty"`
	Timeouts        plugin.Timeouts `json:"timeouts,omitempty"`

	opTimeout time.Duration
}

func (c Config) withDefaults() Config {
	c.SourceChannel = strings.TrimPrefix(strings.TrimSpace(c.SourceChannel), "@")
	if c.SourceChannel == "" {
		c.SourceChannel = defaultSource
	}
	if c.ExcludeMentions == nil {
		on := true
		c.ExcludeMentions = &on
	}
	c.CreatorHandle = strings.TrimPrefix(strings.TrimSpace(c.CreatorHandle), "@")
	if c.CreatorHandle == "" {
		c.CreatorHandle = defaultSource
	}
	if strings.TrimSpace(c.PromoLabel) == "" {
		c.PromoLabel = defaultPromoLabel
	}
	c.opTimeout = defaultOpTimeout
	if d, err := time.ParseDuration(c.Timeouts.Operation); err == nil && d > 0 {
		c.opTimeout = d
	}
	return c
}

func (c Config) excludeMentions() bool { return c.ExcludeMentions == nil || *c.ExcludeMentions }

func parseConfig(raw []byte) (Config, error) {
	c, err := plugin.DecodePluginConfig[Config](raw)
	if err != nil {
		return Config{}, err
	}
	if strings.ContainsAny(strings.TrimSpace(c.SourceChannel), " /") {
		return Config{}, errors.New("source_channel must be a channel username")
	}
	return c.withDefaults(), nil
}
