package config

import (
	"reflect"
	"sort"
	"strings"

	logx "sebastian/pkg/logx"
)

// ChangeSummary describes what a reload changed.
type ChangeSummary struct {
	// Sections lists changed top-level sections, sorted.
	Sections []string
	// Attrs are safe log fields; secrets are reported only as "set".
	Attrs []logx.Field
	// RestartRequired lists settings that only take effect after a restart.
	RestartRequired []string
}

func (s ChangeSummary) Empty() bool { return len(s.Sections) == 0 }

// SummarizeChange compares two configs section by section.
func SummarizeChange(oldCfg, newCfg *Config) ChangeSummary {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	var sum ChangeSummary

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		sum.Sections = append(sum.Sections, "logging")
		sum.Attrs = append(sum.Attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	if !reflect.DeepEqual(oldCfg.Storage, newCfg.Storage) {
		sum.Sections = append(sum.Sections, "storage")
		sum.Attrs = append(sum.Attrs,
			logx.String("storage.driver", strings.TrimSpace(newCfg.Storage.Driver)),
			logx.Bool("storage.audit", newCfg.Storage.Audit),
		)
		if oldCfg.Storage.Driver != newCfg.Storage.Driver ||
			oldCfg.Storage.Path != newCfg.Storage.Path ||
			oldCfg.Storage.BusyTimeout != newCfg.Storage.BusyTimeout {
			sum.RestartRequired = append(sum.RestartRequired, "storage")
		}
	}

	if !reflect.DeepEqual(oldCfg.Alarms, newCfg.Alarms) {
		sum.Sections = append(sum.Sections, "alarms")
		sum.Attrs = append(sum.Attrs,
			logx.String("alarms.timezone", newCfg.Alarms.Timezone),
			logx.Duration("alarms.poll_interval", newCfg.Alarms.PollInterval.D()),
			logx.String("alarms.repeat_without_days", newCfg.Alarms.RepeatWithoutDays),
		)
		if oldCfg.Alarms.Timezone != newCfg.Alarms.Timezone {
			sum.RestartRequired = append(sum.RestartRequired, "alarms.timezone")
		}
		if oldCfg.Alarms.RepeatWithoutDays != newCfg.Alarms.RepeatWithoutDays {
			sum.RestartRequired = append(sum.RestartRequired, "alarms.repeat_without_days")
		}
	}

	if !reflect.DeepEqual(oldCfg.Notifier, newCfg.Notifier) {
		n := newCfg.Notifier
		sum.Sections = append(sum.Sections, "notifier")
		sum.Attrs = append(sum.Attrs,
			logx.Bool("notifier.enabled", n.Enabled),
			logx.Int("notifier.workers", n.Workers),
			logx.Int("notifier.rate_per_sec", n.RatePerSec),
			logx.Strings("notifier.channels", enabledChannels(n.Channels)),
		)
		if tg := n.Channels.Telegram; tg != nil {
			sum.Attrs = append(sum.Attrs, logx.Bool("notifier.telegram.token_set", strings.TrimSpace(tg.Token) != "" || tg.TokenEnv != ""))
		}
		if oldCfg.Notifier.Workers != n.Workers || oldCfg.Notifier.QueueSize != n.QueueSize {
			sum.RestartRequired = append(sum.RestartRequired, "notifier.workers/queue_size")
		}
	}

	if !reflect.DeepEqual(oldCfg.HTTP, newCfg.HTTP) {
		sum.Sections = append(sum.Sections, "http")
		sum.Attrs = append(sum.Attrs,
			logx.Bool("http.enabled", newCfg.HTTP.Enabled),
			logx.String("http.addr", newCfg.HTTP.Addr),
			logx.Bool("http.pprof", newCfg.HTTP.PProf.Enabled),
			logx.Bool("http.pprof.token_set", newCfg.HTTP.PProf.Token != ""),
		)
	}

	sort.Strings(sum.Sections)
	return sum
}

func enabledChannels(c ChannelsConfig) []string {
	var out []string
	if c.Log.Enabled {
		out = append(out, "log")
	}
	if c.Webhook != nil && c.Webhook.Enabled {
		out = append(out, "webhook")
	}
	if c.Telegram != nil && c.Telegram.Enabled {
		out = append(out, "telegram")
	}
	return out
}
