package storage

import (
	"errors"
	"strings"

	logx "sebastian/pkg/logx"
)

// Open initializes the configured store. An empty driver selects "file";
// "none" keeps alarms in memory only.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "json" {
		driver = "file"
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	log = log.With(logx.String("comp", "storage"), logx.String("driver", driver))

	switch driver {
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	case "bolt", "bbolt":
		return openBolt(cfg, log)
	case "none", "memory":
		log.Warn("alarms are kept in memory only")
		return newMemory(), nil
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
