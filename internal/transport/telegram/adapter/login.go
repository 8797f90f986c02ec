package adapter

import (
	"context"
	"errors"
	"fmt"

	"github.com/gotd/contrib/middleware/floodwait"
	"github.com/gotd/td/telegram/auth"
	"github.com/gotd/td/tg"

	kit "userbot/internal/transport"
	logx "userbot/pkg/logx"
)

// CodePrompt asks the operator for the login code Telegram just sent.
type CodePrompt func(ctx context.Context, sentCode *tg.AuthSentCode) (string, error)

// Login runs the interactive phone/code/2FA flow and persists the session
// file. It is a no-op when the session is already authorized.
func Login(ctx context.Context, cfg Config, prompt CodePrompt, log logx.Logger) (kit.Peer, error) {
	cfg, err := cfg.withDefaults()
	if err != nil {
		return kit.Peer{}, err
	}
	if cfg.Phone == "" {
		return kit.Peer{}, errors.New("telegram phone is empty")
	}
	if prompt == nil {
		return kit.Peer{}, errors.New("no code prompt")
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	waiter := floodwait.NewWaiter()
	client := newClient(cfg, nil, waiter)

	var self kit.Peer
	err = waiter.Run(ctx, func(ctx context.Context) error {
		return client.Run(ctx, func(ctx context.Context) error {
			flow := auth.NewFlow(
				auth.Constant(cfg.Phone, cfg.Password, auth.CodeAuthenticatorFunc(prompt)),
				auth.SendCodeOptions{},
			)
			if err := client.Auth().IfNecessary(ctx, flow); err != nil {
				if errors.Is(err, auth.ErrPasswordNotProvided) {
					return fmt.Errorf("account has 2FA enabled, set telegram.password or USERBOT_PASSWORD: %w", err)
				}
				return fmt.Errorf("auth: %w", err)
			}
			u, err := client.Self(ctx)
			if err != nil {
				return fmt.Errorf("get self: %w", err)
			}
			self = peerFromUser(u)
			return nil
		})
	})
	if err != nil {
		return kit.Peer{}, err
	}
	log.Info("telegram session authorized",
		logx.Int64("user_id", self.ID),
		logx.String("username", self.Username),
		logx.String("session", cfg.SessionFile),
	)
	return self, nil
}
