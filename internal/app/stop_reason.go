package app

import "userbot/internal/plugin"

type StopReason = plugin.StopReason

const (
	StopUnknown    = plugin.StopUnknown
	StopSIGINT     = plugin.StopSIGINT
	StopSIGTERM    = plugin.StopSIGTERM
	StopFatalError = plugin.StopFatalError
	StopAppStop    = plugin.StopAppStop
)
