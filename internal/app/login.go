package app

import (
	"context"

	kit "userbot/internal/transport"
	telegram "userbot/internal/transport/telegram/adapter"
	logx "userbot/pkg/logx"
)

// Login loads cfgPath and runs the interactive session login.
func Login(ctx context.Context, cfgPath string, prompt telegram.CodePrompt) (kit.Peer, error) {
	cfg, err := NewConfigManager(cfgPath).Load()
	if err != nil {
		return kit.Peer{}, err
	}
	adCfg, err := mapAdapterConfig(cfg)
	if err != nil {
		return kit.Peer{}, err
	}
	log := logx.NewConsole(cfg.Logging.Level).With(logx.String("comp", "login"))
	return telegram.Login(ctx, adCfg, prompt, log)
}
