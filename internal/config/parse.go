package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	yaml "go.yaml.in/yaml/v3"
)

// Decode parses data as YAML (by .yaml/.yml extension) or JSON. YAML is
// coerced to JSON so both formats share the strict decoder that rejects
// unknown fields. Defaults are filled and the result is validated.
func Decode(path string, data []byte) (*Config, error) {
	jb, err := toJSON(path, data)
	if err != nil {
		return nil, err
	}

	cfg := Default()
	dec := json.NewDecoder(bytes.NewReader(jb))
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config %s: %w", filepath.Base(path), err)
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		if err == nil {
			return nil, errors.New("invalid config: trailing data")
		}
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func toJSON(path string, data []byte) ([]byte, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".yaml" && ext != ".yml" {
		return data, nil
	}
	var v any
	if err := yaml.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("yaml unmarshal: %w", err)
	}
	if v == nil {
		return []byte("{}"), nil
	}
	j, err := json.Marshal(stringKeys(v))
	if err != nil {
		return nil, fmt.Errorf("yaml->json marshal: %w", err)
	}
	return j, nil
}

// stringKeys rewrites map[any]any nodes so the tree is JSON-marshalable.
func stringKeys(in any) any {
	switch x := in.(type) {
	case map[any]any:
		m := make(map[string]any, len(x))
		for k, v := range x {
			m[fmt.Sprint(k)] = stringKeys(v)
		}
		return m
	case map[string]any:
		for k, v := range x {
			x[k] = stringKeys(v)
		}
		return x
	case []any:
		for i := range x {
			x[i] = stringKeys(x[i])
		}
		return x
	default:
		return in
	}
}

// Default returns the configuration used for omitted fields.
func Default() *Config {
	return &Config{
		Logging: LoggingConfig{Level: "info", Console: true, Format: "pretty"},
		Storage: StorageConfig{Driver: "file", Path: "./data/alarms.json"},
		Alarms: AlarmsConfig{
			PollInterval:      Duration(time.Second),
			RepeatWithoutDays: "reject",
		},
		Notifier: NotifierConfig{
			Enabled:         true,
			Workers:         2,
			QueueSize:       256,
			RatePerSec:      3,
			RetryMax:        3,
			RetryBase:       Duration(500 * time.Millisecond),
			RetryMaxDelay:   Duration(10 * time.Second),
			SendTimeout:     Duration(10 * time.Second),
			DedupWindow:     Duration(10 * time.Minute),
			DedupMaxEntries: 2000,
			Channels:        ChannelsConfig{Log: LogChannel{Enabled: true}},
		},
		HTTP: HTTPConfig{
			Addr:              "127.0.0.1:8765",
			Metrics:           true,
			ICS:               true,
			ReadHeaderTimeout: Duration(5 * time.Second),
		},
	}
}

// Validate checks values the strict decoder cannot.
func (c *Config) Validate() error {
	var errs []error

	switch strings.ToLower(strings.TrimSpace(c.Logging.Format)) {
	case "", "pretty", "json":
	default:
		errs = append(errs, fmt.Errorf("logging.format: %q is not pretty or json", c.Logging.Format))
	}
	if c.Logging.File.Enabled && strings.TrimSpace(c.Logging.File.Path) == "" {
		errs = append(errs, errors.New("logging.file.path is required when file logging is enabled"))
	}

	switch strings.ToLower(strings.TrimSpace(c.Storage.Driver)) {
	case "", "file", "json", "sqlite", "sqlite3", "bolt", "bbolt", "none":
	default:
		errs = append(errs, fmt.Errorf("storage.driver: unknown driver %q", c.Storage.Driver))
	}
	if strings.TrimSpace(c.Storage.Path) == "" && !strings.EqualFold(c.Storage.Driver, "none") {
		errs = append(errs, errors.New("storage.path is required"))
	}

	if tz := strings.TrimSpace(c.Alarms.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			errs = append(errs, fmt.Errorf("alarms.timezone: %w", err))
		}
	}
	if d := c.Alarms.PollInterval.D(); d != 0 && d < time.Second {
		errs = append(errs, errors.New("alarms.poll_interval must be at least 1s"))
	}
	switch strings.ToLower(strings.TrimSpace(c.Alarms.RepeatWithoutDays)) {
	case "", "reject", "downgrade":
	default:
		errs = append(errs, fmt.Errorf("alarms.repeat_without_days: %q is not reject or downgrade", c.Alarms.RepeatWithoutDays))
	}

	n := c.Notifier
	if n.Workers < 0 || n.QueueSize < 0 || n.RatePerSec < 0 || n.RetryMax < 0 || n.DedupMaxEntries < 0 {
		errs = append(errs, errors.New("notifier: counts must be >= 0"))
	}
	if w := n.Channels.Webhook; w != nil && w.Enabled && strings.TrimSpace(w.URL) == "" {
		errs = append(errs, errors.New("notifier.channels.webhook.url is required when enabled"))
	}
	if tg := n.Channels.Telegram; tg != nil && tg.Enabled {
		if strings.TrimSpace(tg.Token) == "" && strings.TrimSpace(tg.TokenEnv) == "" {
			errs = append(errs, errors.New("notifier.channels.telegram: token or token_env is required"))
		}
		if len(tg.Targets) == 0 {
			errs = append(errs, errors.New("notifier.channels.telegram.targets must not be empty"))
		}
	}

	if c.HTTP.Enabled && strings.TrimSpace(c.HTTP.Addr) == "" {
		errs = append(errs, errors.New("http.addr is required when http is enabled"))
	}
	return errors.Join(errs...)
}
