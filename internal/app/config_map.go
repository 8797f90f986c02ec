package app

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"userbot/internal/observability"
	kit "userbot/internal/transport"
	telegram "userbot/internal/transport/telegram/adapter"
	"userbot/internal/transport/telegram/router"
	logx "userbot/pkg/logx"
)

func mapAdapterConfig(cfg *Config) (telegram.Config, error) {
	ttl, err := parseDurationOrDefault("telegram.resolve_cache_ttl", cfg.Telegram.ResolveCacheTTL, 10*time.Minute)
	if err != nil {
		return telegram.Config{}, err
	}
	return telegram.Config{
		APIID:           cfg.Telegram.APIID,
		APIHash:         cfg.Telegram.APIHash,
		Phone:           cfg.Telegram.Phone,
		Password:        cfg.Telegram.Password,
		SessionFile:     cfg.Telegram.SessionFile,
		ResolveCacheTTL: ttl,
		UpdateBuffer:    updateBuffer,
	}, nil
}

func mapLogConfig(cfg *Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Telegram: logx.TelegramConfig{
			Enabled:    cfg.Logging.Telegram.Enabled && strings.TrimSpace(cfg.Telegram.LogChat) != "",
			MinLevel:   cfg.Logging.Telegram.MinLevel,
			RatePerSec: cfg.Logging.Telegram.RatePerSec,
		},
	}
}

func mapObservabilityConfig(cfg *Config) (observability.Config, error) {
	o := cfg.Observability
	read, err := parseDurationOrDefault("observability.read_timeout", o.ReadTimeout, 30*time.Second)
	if err != nil {
		return observability.Config{}, err
	}
	idle, err := parseDurationOrDefault("observability.idle_timeout", o.IdleTimeout, 60*time.Second)
	if err != nil {
		return observability.Config{}, err
	}
	return observability.Config{
		Enabled:       o.Enabled,
		Addr:          o.Addr,
		Token:         o.Token,
		AllowInsecure: o.AllowInsecure,
		Metrics:       o.MetricsEnabled(),
		Pprof:         o.Pprof,
		ReadTimeout:   read,
		IdleTimeout:   idle,
	}, nil
}

func mapRouterOptions(cfg *Config) router.Options {
	return router.Options{Prefix: cfg.Telegram.CommandPrefix, Owners: cfg.Telegram.OwnerUserIDs}
}

// resolveLogChat turns telegram.log_chat into a peer: "me" is Saved
// Messages, digits are a user id, anything else a username.
func resolveLogChat(ctx context.Context, cli kit.Client, self kit.Peer, ref string) (kit.Peer, error) {
	ref = strings.TrimSpace(ref)
	switch {
	case ref == "":
		return kit.Peer{}, nil
	case strings.EqualFold(ref, "me") || strings.EqualFold(ref, "self"):
		if self.IsZero() {
			return kit.Peer{}, errors.New("log_chat: self is unknown")
		}
		return self, nil
	}
	if id, err := strconv.ParseInt(ref, 10, 64); err == nil {
		return cli.ResolveUser(ctx, id)
	}
	return cli.ResolveUsername(ctx, ref)
}
