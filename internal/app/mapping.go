package app

import (
	"fmt"
	"os"
	"strings"
	"time"

	"sebastian/internal/adapters/telegram"
	"sebastian/internal/config"
	"sebastian/internal/notifier"
	"sebastian/internal/poller"
	"sebastian/internal/storage"
	"sebastian/internal/transport/httpapi"
	logx "sebastian/pkg/logx"
)

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		Format:  cfg.Logging.Format,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapStorageConfig(cfg *config.Config) storage.Config {
	sc := cfg.Storage
	busy := time.Duration(0)
	if d := strings.ToLower(strings.TrimSpace(sc.Driver)); d == "sqlite" || d == "sqlite3" {
		busy = sc.BusyTimeout.Or(time.Second)
	}
	return storage.Config{
		Driver:      strings.TrimSpace(sc.Driver),
		Path:        strings.TrimSpace(sc.Path),
		BusyTimeout: busy,
	}
}

func loadLocation(name string) (*time.Location, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("alarms.timezone: invalid %q: %w", name, err)
	}
	return loc, nil
}

func mapPollerConfig(cfg *config.Config, loc *time.Location) poller.Config {
	return poller.Config{
		Interval: cfg.Alarms.PollInterval.Or(time.Second),
		Location: loc,
	}
}

func mapNotifierConfig(cfg *config.Config) notifier.Config {
	n := cfg.Notifier
	return notifier.Config{
		Enabled:         n.Enabled,
		Workers:         n.Workers,
		QueueSize:       n.QueueSize,
		RatePerSec:      n.RatePerSec,
		RetryMax:        n.RetryMax,
		RetryBase:       n.RetryBase.D(),
		RetryMaxDelay:   n.RetryMaxDelay.D(),
		SendTimeout:     n.SendTimeout.D(),
		DedupWindow:     n.DedupWindow.D(),
		DedupMaxEntries: n.DedupMaxEntries,
		PersistDedup:    n.PersistDedup,
	}
}

// buildDeliverers creates one Deliverer per enabled channel.
func buildDeliverers(cfg *config.Config, log logx.Logger) ([]notifier.Deliverer, error) {
	ch := cfg.Notifier.Channels
	var out []notifier.Deliverer

	if ch.Log.Enabled {
		out = append(out, notifier.NewLogDeliverer(log.With(logx.String("channel", "log"))))
	}
	if w := ch.Webhook; w != nil && w.Enabled {
		d, err := notifier.NewWebhookDeliverer(notifier.WebhookConfig{
			URL:     w.URL,
			Headers: w.Headers,
			Timeout: w.Timeout.D(),
		})
		if err != nil {
			return nil, fmt.Errorf("notifier.channels.webhook: %w", err)
		}
		out = append(out, d)
	}
	if tg := ch.Telegram; tg != nil && tg.Enabled {
		token := strings.TrimSpace(tg.Token)
		if token == "" && tg.TokenEnv != "" {
			token = strings.TrimSpace(os.Getenv(tg.TokenEnv))
		}
		targets := make([]telegram.Target, 0, len(tg.Targets))
		for _, t := range tg.Targets {
			targets = append(targets, telegram.Target{ChatID: t.ChatID, ThreadID: t.ThreadID})
		}
		d, err := telegram.New(telegram.Config{
			Token:   token,
			Targets: targets,
			APIURL:  tg.APIURL,
			Timeout: tg.Timeout.D(),
		}, log)
		if err != nil {
			return nil, fmt.Errorf("notifier.channels.telegram: %w", err)
		}
		out = append(out, d)
	}
	return out, nil
}

func mapHTTPConfig(cfg *config.Config) httpapi.Config {
	h := cfg.HTTP
	return httpapi.Config{
		Enabled:           h.Enabled,
		Addr:              strings.TrimSpace(h.Addr),
		Metrics:           h.Metrics,
		ICS:               h.ICS,
		ReadHeaderTimeout: h.ReadHeaderTimeout.D(),
		PProf: httpapi.PProfConfig{
			Enabled:       h.PProf.Enabled,
			Token:         strings.TrimSpace(h.PProf.Token),
			AllowInsecure: h.PProf.AllowInsecure,
		},
	}
}
