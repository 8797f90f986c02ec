package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gotd/td/tg"
	"github.com/urfave/cli/v2"

	"userbot/internal/app"
	"userbot/internal/config"
	"userbot/plugins/activity"
	"userbot/plugins/repost"
)

func main() {
	// .env first so USERBOT_CONFIG and credentials can come from it.
	if err := config.LoadDotEnv(); err != nil {
		fmt.Fprintln(os.Stderr, "fatal: .env:", err)
		os.Exit(1)
	}

	cfgFlag := &cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Value:   "./config.yaml",
		Usage:   "path to config (yaml or json)",
		EnvVars: []string{config.EnvConfigPath},
	}

	cliApp := &cli.App{
		Name:   "userbot",
		Usage:  "Telegram userbot: channel repost and user activity reports",
		Flags:  []cli.Flag{cfgFlag},
		Action: runCmd,
		Commands: []*cli.Command{
			{
				Name:   "run",
				Usage:  "connect with the saved session and serve commands",
				Action: runCmd,
			},
			{
				Name:   "login",
				Usage:  "log in interactively and save the session file",
				Action: loginCmd,
			},
		},
	}
	if err := cliApp.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}

func runCmd(c *cli.Context) error {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigs)

	a, err := app.NewApp(c.String("config"))
	if err != nil {
		return err
	}
	a.Plugins().Register(
		repost.New(),
		activity.New(),
	)

	if err := a.Start(c.Context); err != nil {
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = a.Stop(stopCtx, app.StopFatalError)
		return fmt.Errorf("start: %w", err)
	}

	var reason app.StopReason
	select {
	case sig := <-sigs:
		reason = app.StopSIGTERM
		if sig == os.Interrupt {
			reason = app.StopSIGINT
		}
	case <-a.Done():
		reason = app.StopFatalError
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	_ = a.Stop(stopCtx, reason)
	return a.Err()
}

func loginCmd(c *cli.Context) error {
	ctx, cancel := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	in := bufio.NewReader(os.Stdin)
	prompt := func(_ context.Context, _ *tg.AuthSentCode) (string, error) {
		fmt.Fprint(os.Stdout, "Enter the code Telegram sent: ")
		code, err := in.ReadString('\n')
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(code), nil
	}

	self, err := app.Login(ctx, c.String("config"), prompt)
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stdout, "Logged in as %s (id %d)\n", self.DisplayName(), self.ID)
	return nil
}
