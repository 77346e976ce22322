package config

// Config is the daemon configuration file (YAML or JSON).
//
// Example (YAML):
//
//	logging:  { level: info, console: true }
//	storage:  { driver: file, path: ./data/alarms.json, audit: true }
//	alarms:   { timezone: Asia/Tokyo, poll_interval: 1s }
//	notifier:
//	  enabled: true
//	  channels:
//	    log: { enabled: true }
//	http:     { enabled: true, addr: "127.0.0.1:8765", metrics: true, ics: true }
type Config struct {
	Logging  LoggingConfig  `json:"logging"`
	Storage  StorageConfig  `json:"storage"`
	Alarms   AlarmsConfig   `json:"alarms"`
	Notifier NotifierConfig `json:"notifier"`
	HTTP     HTTPConfig     `json:"http"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	Format  string      `json:"format,omitempty"` // "pretty" (default) or "json"
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// StorageConfig selects the alarm persistence backend.
//
// Driver is "file" (default), "sqlite" or "bolt". Path is the JSON document
// for "file" and the database file otherwise.
type StorageConfig struct {
	Driver      string   `json:"driver"`
	Path        string   `json:"path"`
	BusyTimeout Duration `json:"busy_timeout,omitempty"` // sqlite
	Audit       bool     `json:"audit,omitempty"`
}

type AlarmsConfig struct {
	// Timezone is an IANA name; empty means the host's local zone.
	Timezone     string   `json:"timezone,omitempty"`
	PollInterval Duration `json:"poll_interval,omitempty"`
	// RepeatWithoutDays is "reject" (default) or "downgrade".
	RepeatWithoutDays string `json:"repeat_without_days,omitempty"`
}

// NotifierConfig controls the async notification pipeline and its channels.
type NotifierConfig struct {
	Enabled         bool     `json:"enabled"`
	Workers         int      `json:"workers,omitempty"`
	QueueSize       int      `json:"queue_size,omitempty"`
	RatePerSec      int      `json:"rate_per_sec,omitempty"`
	RetryMax        int      `json:"retry_max,omitempty"`
	RetryBase       Duration `json:"retry_base,omitempty"`
	RetryMaxDelay   Duration `json:"retry_max_delay,omitempty"`
	SendTimeout     Duration `json:"send_timeout,omitempty"`
	DedupWindow     Duration `json:"dedup_window,omitempty"`
	DedupMaxEntries int      `json:"dedup_max_entries,omitempty"`
	PersistDedup    bool     `json:"persist_dedup,omitempty"`

	Channels ChannelsConfig `json:"channels"`
}

type ChannelsConfig struct {
	Log      LogChannel       `json:"log"`
	Webhook  *WebhookChannel  `json:"webhook,omitempty"`
	Telegram *TelegramChannel `json:"telegram,omitempty"`
}

type LogChannel struct {
	Enabled bool `json:"enabled"`
}

type WebhookChannel struct {
	Enabled bool              `json:"enabled"`
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers,omitempty"`
	Timeout Duration          `json:"timeout,omitempty"`
}

// TelegramChannel sends alarms through a bot. The token is read from the
// environment variable named by TokenEnv when Token is empty.
type TelegramChannel struct {
	Enabled  bool             `json:"enabled"`
	Token    string           `json:"token,omitempty"`
	TokenEnv string           `json:"token_env,omitempty"`
	APIURL   string           `json:"api_url,omitempty"`
	Targets  []TelegramTarget `json:"targets"`
	Timeout  Duration         `json:"timeout,omitempty"`
}

type TelegramTarget struct {
	ChatID   int64 `json:"chat_id"`
	ThreadID int   `json:"thread_id,omitempty"`
}

// HTTPConfig controls the optional HTTP host.
type HTTPConfig struct {
	Enabled           bool        `json:"enabled"`
	Addr              string      `json:"addr,omitempty"`
	Metrics           bool        `json:"metrics,omitempty"`
	ICS               bool        `json:"ics,omitempty"`
	ReadHeaderTimeout Duration    `json:"read_header_timeout,omitempty"`
	PProf             PProfConfig `json:"pprof"`
}

// PProfConfig mounts net/http/pprof under /debug/pprof/ on the HTTP host.
// A non-loopback addr requires Token unless AllowInsecure is set.
type PProfConfig struct {
	Enabled       bool   `json:"enabled"`
	Token         string `json:"token,omitempty"`
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
}
