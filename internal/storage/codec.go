package storage

import (
	"bytes"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"sebastian/internal/alarm"
)

// encodeAlarms writes a missing repeat-day set as [] so readers always get an array.
func encodeAlarms(alarms []alarm.Alarm) ([]byte, error) {
	out := make([]alarm.Alarm, len(alarms))
	for i, a := range alarms {
		if a.RepeatDays == nil {
			a.RepeatDays = []alarm.Weekday{}
		}
		out[i] = a
	}
	return json.MarshalIndent(out, "", "  ")
}

// decodeAlarms treats empty input as an empty collection.
func decodeAlarms(b []byte) ([]alarm.Alarm, error) {
	if len(bytes.TrimSpace(b)) == 0 {
		return []alarm.Alarm{}, nil
	}
	var out []alarm.Alarm
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if out == nil {
		out = []alarm.Alarm{}
	}
	return out, nil
}

// quarantineName is "corrupt-YYYYMMDDHHMMSS" in local time.
func quarantineName(now time.Time) string {
	return "corrupt-" + now.Local().Format("20060102150405")
}

// quarantinePath swaps the file extension for the quarantine name:
// alarms.json -> alarms.corrupt-20250101120000.
func quarantinePath(path string, now time.Time) string {
	ext := filepath.Ext(path)
	return strings.TrimSuffix(path, ext) + "." + quarantineName(now)
}
