package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

const (
	EnvConfigPath = "USERBOT_CONFIG"
	EnvAPIID      = "USERBOT_API_ID"
	EnvAPIHash    = "USERBOT_API_HASH"
	EnvPhone      = "USERBOT_PHONE"
	EnvPassword   = "USERBOT_PASSWORD"
)

// LoadDotEnv loads KEY=VALUE pairs from the given files into the process
// environment. Variables already set win; missing files are ignored.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
	}
	return nil
}

// applyEnv overrides Telegram credentials from the environment.
func applyEnv(cfg *Config) error {
	if v := strings.TrimSpace(os.Getenv(EnvAPIID)); v != "" {
		id, err := strconv.Atoi(v)
		if err != nil {
			return errors.New(EnvAPIID + ": not a number")
		}
		cfg.Telegram.APIID = id
	}
	if v := strings.TrimSpace(os.Getenv(EnvAPIHash)); v != "" {
		cfg.Telegram.APIHash = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvPhone)); v != "" {
		cfg.Telegram.Phone = v
	}
	if v := os.Getenv(EnvPassword); v != "" {
		cfg.Telegram.Password = v
	}
	return nil
}
