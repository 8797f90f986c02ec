package app

import (
	"time"

	"userbot/internal/config"
	"userbot/internal/plugin"
	"userbot/internal/runtime/supervisor"
	"userbot/internal/transport/telegram/router"
)

// ---- Config ----

type Config = config.Config

type ConfigManager = config.ConfigManager

var NewConfigManager = config.NewConfigManager

// SummarizeConfigChange produces a safe, structured summary of config diffs.
var SummarizeConfigChange = config.SummarizeConfigChange

func parseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	return config.ParseDurationOrDefault(path, raw, def)
}

// ---- Runtime ----

type Supervisor = supervisor.Supervisor

var NewSupervisor = supervisor.NewSupervisor

var WithLogger = supervisor.WithLogger

var WithCancelOnError = supervisor.WithCancelOnError

// ---- Router ----

type CommandManager = router.CommandManager

var NewCommandManager = router.NewCommandManager

// ---- Plugin ----

type Plugin = plugin.Plugin

type PluginManager = plugin.PluginManager

type PluginDeps = plugin.PluginDeps

var NewPluginManager = plugin.NewPluginManager
