package app

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"sebastian/internal/alarm"
	"sebastian/internal/config"
	logx "sebastian/pkg/logx"
)

func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestAppLifecycleKeepsAlarmsAcrossRestart(t *testing.T) {
	dir := t.TempDir()
	store := filepath.Join(dir, "alarms.json")
	path := writeConfig(t, dir, `
logging: { level: error, console: false }
storage: { driver: file, path: `+store+` }
alarms: { timezone: UTC }
http: { enabled: true, addr: "127.0.0.1:0" }
`)

	ctx := context.Background()
	a, err := NewApp(ctx, path)
	if err != nil {
		t.Fatalf("NewApp: %v", err)
	}
	if err := a.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if a.HTTPAddr() == "" {
		t.Fatalf("http host not listening")
	}

	list, err := a.Commands().Create(ctx, alarm.Payload{
		Title:         "Standup",
		TimeLabel:     "09:30",
		RepeatEnabled: true,
		RepeatDays:    []alarm.Weekday{alarm.Mon, alarm.Tue, alarm.Wed, alarm.Thu, alarm.Fri},
	})
	if err != nil || len(list) != 1 {
		t.Fatalf("Create = %d, %v", len(list), err)
	}

	stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := a.Stop(stopCtx, StopAppStop); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	select {
	case <-a.Done():
	default:
		t.Fatalf("Done not closed after Stop")
	}

	b, err := NewApp(ctx, path)
	if err != nil {
		t.Fatalf("NewApp (restart): %v", err)
	}
	defer func() { _ = b.store.Close() }()
	got := b.Commands().List(ctx)
	if len(got) != 1 || got[0].Title != "Standup" {
		t.Fatalf("reloaded = %+v", got)
	}
}

func TestNewAppRejectsBadConfig(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "alarms: { timezone: Mars/Olympus }\n")
	if _, err := NewApp(context.Background(), path); err == nil {
		t.Fatalf("expected error for invalid timezone")
	}
}

func TestBuildDeliverers(t *testing.T) {
	t.Setenv("SEBASTIAN_TEST_TG", "123:abc")

	tests := []struct {
		name    string
		mutate  func(*config.Config)
		want    []string
		wantErr string
	}{
		{
			name:   "default log only",
			mutate: func(*config.Config) {},
			want:   []string{"log"},
		},
		{
			name: "webhook and telegram from env",
			mutate: func(c *config.Config) {
				c.Notifier.Channels.Webhook = &config.WebhookChannel{Enabled: true, URL: "http://127.0.0.1:9/hook"}
				c.Notifier.Channels.Telegram = &config.TelegramChannel{
					Enabled:  true,
					TokenEnv: "SEBASTIAN_TEST_TG",
					Targets:  []config.TelegramTarget{{ChatID: 42}},
				}
			},
			want: []string{"log", "webhook", "telegram"},
		},
		{
			name: "disabled channels skipped",
			mutate: func(c *config.Config) {
				c.Notifier.Channels.Log.Enabled = false
				c.Notifier.Channels.Webhook = &config.WebhookChannel{Enabled: false}
			},
			want: nil,
		},
		{
			name: "telegram missing token",
			mutate: func(c *config.Config) {
				c.Notifier.Channels.Telegram = &config.TelegramChannel{
					Enabled:  true,
					TokenEnv: "SEBASTIAN_TEST_UNSET",
					Targets:  []config.TelegramTarget{{ChatID: 42}},
				}
			},
			wantErr: "telegram",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			tt.mutate(cfg)
			ds, err := buildDeliverers(cfg, logx.Nop())
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("err = %v, want %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("buildDeliverers: %v", err)
			}
			var names []string
			for _, d := range ds {
				names = append(names, d.Name())
			}
			if strings.Join(names, ",") != strings.Join(tt.want, ",") {
				t.Fatalf("channels = %v, want %v", names, tt.want)
			}
		})
	}
}

func TestMapStorageConfigBusyTimeout(t *testing.T) {
	cfg := config.Default()
	cfg.Storage.Driver = "sqlite"
	cfg.Storage.Path = "/tmp/x.db"
	if got := mapStorageConfig(cfg).BusyTimeout; got != time.Second {
		t.Fatalf("sqlite busy timeout = %v", got)
	}
	cfg.Storage.Driver = "bolt"
	if got := mapStorageConfig(cfg).BusyTimeout; got != 0 {
		t.Fatalf("bolt busy timeout = %v", got)
	}
}
