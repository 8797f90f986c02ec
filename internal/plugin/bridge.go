package plugin

import (
	"userbot/internal/config"
	"userbot/internal/transport/telegram/router"
)

// ---- Config ----

type Config = config.Config

type ConfigManager = config.ConfigManager

type PluginConfigRaw = config.PluginConfigRaw

// ---- Router API ----

type Access = router.Access

const (
	AccessEveryone  = router.AccessEveryone
	AccessOwnerOnly = router.AccessOwnerOnly
)

type Command = router.Command

type Request = router.Request

type HandlerFunc = router.HandlerFunc

type CommandManager = router.CommandManager

var ErrorHTML = router.ErrorHTML
