package config

import (
	"reflect"
	"sort"
	"strings"

	logx "userbot/pkg/logx"
)

// SummarizeConfigChange returns (1) the changed sections, (2) safe
// structured fields for logging (never secrets), and (3) the plugins whose
// enable flag or config changed.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field, []string) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 5)
	attrs := make([]logx.Field, 0, 16)

	// Telegram (never log api_hash, phone or password)
	ot, nt := oldCfg.Telegram, newCfg.Telegram
	if ot.APIID != nt.APIID || ot.APIHash != nt.APIHash || ot.Phone != nt.Phone ||
		strings.TrimSpace(ot.SessionFile) != strings.TrimSpace(nt.SessionFile) {
		changed = append(changed, "telegram.session")
		attrs = append(attrs, logx.Bool("telegram.restart_required", true))
	}
	if !reflect.DeepEqual(ot.OwnerUserIDs, nt.OwnerUserIDs) ||
		strings.TrimSpace(ot.LogChat) != strings.TrimSpace(nt.LogChat) ||
		ot.CommandPrefix != nt.CommandPrefix {
		changed = append(changed, "telegram")
		attrs = append(attrs,
			logx.Int("telegram.owner_count", len(nt.OwnerUserIDs)),
			logx.Bool("telegram.log_chat_set", strings.TrimSpace(nt.LogChat) != ""),
			logx.String("telegram.command_prefix", nt.CommandPrefix),
		)
	}

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logging.telegram_enabled", newCfg.Logging.Telegram.Enabled),
		)
	}

	oo, no := oldCfg.Observability, newCfg.Observability
	if oo.Enabled != no.Enabled || strings.TrimSpace(oo.Addr) != strings.TrimSpace(no.Addr) ||
		oo.AllowInsecure != no.AllowInsecure || oo.MetricsEnabled() != no.MetricsEnabled() ||
		oo.Pprof != no.Pprof || oo.ReadTimeout != no.ReadTimeout || oo.IdleTimeout != no.IdleTimeout ||
		(oo.Token != "") != (no.Token != "") {
		changed = append(changed, "observability")
		attrs = append(attrs,
			logx.Bool("observability.enabled", no.Enabled),
			logx.String("observability.addr", strings.TrimSpace(no.Addr)),
			logx.Bool("observability.token_set", no.Token != ""),
			logx.Bool("observability.pprof", no.Pprof),
		)
	}

	var oS, nS StorageConfig
	if oldCfg.Storage != nil {
		oS = *oldCfg.Storage
	}
	if newCfg.Storage != nil {
		nS = *newCfg.Storage
	}
	if oS != nS {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", strings.TrimSpace(nS.Driver)),
			logx.Bool("storage.path_set", strings.TrimSpace(nS.Path) != ""),
			logx.Bool("storage.restart_required", true),
		)
	}

	pluginChanged := diffPlugins(oldCfg.Plugins, newCfg.Plugins)
	if len(pluginChanged) > 0 {
		changed = append(changed, "plugins")
		attrs = append(attrs,
			logx.Int("plugins.changed_count", len(pluginChanged)),
			logx.Int("plugins.enabled_count", countEnabled(newCfg.Plugins)),
		)
	}

	sort.Strings(changed)
	return changed, attrs, pluginChanged
}

func countEnabled(m map[string]PluginConfigRaw) int {
	n := 0
	for _, v := range m {
		if v.Enabled {
			n++
		}
	}
	return n
}

func diffPlugins(oldM, newM map[string]PluginConfigRaw) []string {
	set := map[string]struct{}{}
	for k := range oldM {
		set[k] = struct{}{}
	}
	for k := range newM {
		set[k] = struct{}{}
	}

	out := make([]string, 0, len(set))
	for name := range set {
		o := oldM[name]
		n := newM[name]
		if o.Enabled != n.Enabled || canonicalHashJSON(o.Config) != canonicalHashJSON(n.Config) {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}
