// Package importer turns pasted or uploaded alarm documents into payloads.
//
// Accepted roots are a JSON array of records or an object with an "alarms"
// array (the persisted alarms.json shape). Record keys may be camelCase or
// snake_case.
package importer

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"sebastian/internal/alarm"
)

var (
	ErrSyntax = errors.New("import document is not valid JSON")
	ErrShape  = errors.New(`import root must be an array or {"alarms": [...]}`)
)

// EntryError reports a bad record by its 1-based position.
type EntryError struct {
	Index  int
	Field  string
	Reason string
}

func (e *EntryError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("entry %d: %s", e.Index, e.Reason)
	}
	return fmt.Sprintf("entry %d: %s %s", e.Index, e.Field, e.Reason)
}

// Parse decodes raw into payloads. Blank input yields no payloads.
func Parse(raw []byte) ([]alarm.Payload, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, nil
	}
	var root any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&root); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSyntax, err)
	}
	records, err := recordArray(root)
	if err != nil {
		return nil, err
	}
	out := make([]alarm.Payload, 0, len(records))
	for i, r := range records {
		p, err := normalizeRecord(r, i+1)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

func recordArray(v any) ([]any, error) {
	switch t := v.(type) {
	case []any:
		return t, nil
	case map[string]any:
		if arr, ok := t["alarms"].([]any); ok {
			return arr, nil
		}
	}
	return nil, ErrShape
}

func normalizeRecord(v any, index int) (alarm.Payload, error) {
	rec, ok := v.(map[string]any)
	if !ok {
		return alarm.Payload{}, &EntryError{Index: index, Reason: "is not an object"}
	}
	title, err := requiredString(rec, index, "title", "title")
	if err != nil {
		return alarm.Payload{}, err
	}
	timeLabel, err := requiredString(rec, index, "timeLabel", "timeLabel", "time_label")
	if err != nil {
		return alarm.Payload{}, err
	}
	days, err := repeatDays(pick(rec, "repeatDays", "repeat_days"), index)
	if err != nil {
		return alarm.Payload{}, err
	}
	lead := leadMinutes(pick(rec, "leadMinutes", "lead_minutes"))

	return alarm.Payload{
		Title:         strings.TrimSpace(title),
		TimeLabel:     strings.TrimSpace(timeLabel),
		DateLabel:     optionalString(rec, "dateLabel", "date_label"),
		URL:           optionalString(rec, "url"),
		RepeatEnabled: truthy(pick(rec, "repeatEnabled", "repeat_enabled")),
		RepeatDays:    days,
		LeadMinutes:   &lead,
	}, nil
}

func pick(rec map[string]any, keys ...string) any {
	for _, k := range keys {
		if v, ok := rec[k]; ok {
			return v
		}
	}
	return nil
}

func requiredString(rec map[string]any, index int, field string, keys ...string) (string, error) {
	if s, ok := pick(rec, keys...).(string); ok && strings.TrimSpace(s) != "" {
		return s, nil
	}
	return "", &EntryError{Index: index, Field: field, Reason: "is missing or not a string"}
}

func optionalString(rec map[string]any, keys ...string) string {
	if s, ok := pick(rec, keys...).(string); ok {
		return strings.TrimSpace(s)
	}
	return ""
}

func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case json.Number:
		f, err := t.Float64()
		return err == nil && f != 0 && !math.IsNaN(f)
	default:
		return true
	}
}

var daySeparators = regexp.MustCompile(`[, ]+`)

// repeatDays accepts ["Mon", "wednesday"] or "Mon, Wed". Unknown tokens are
// dropped, but a list with no valid token at all is rejected.
func repeatDays(v any, index int) ([]alarm.Weekday, error) {
	var tokens []string
	switch t := v.(type) {
	case []any:
		for _, item := range t {
			if s, ok := item.(string); ok {
				tokens = append(tokens, strings.TrimSpace(s))
			}
		}
	case string:
		for _, s := range daySeparators.Split(t, -1) {
			if s = strings.TrimSpace(s); s != "" {
				tokens = append(tokens, s)
			}
		}
	}

	days := make([]alarm.Weekday, 0, len(tokens))
	seen := make(map[alarm.Weekday]bool, len(tokens))
	for _, tok := range tokens {
		d, ok := alarm.ParseWeekday(tok)
		if !ok || seen[d] {
			continue
		}
		seen[d] = true
		days = append(days, d)
	}
	if len(tokens) > 0 && len(days) == 0 {
		return nil, &EntryError{Index: index, Field: "repeatDays", Reason: "has no valid weekday"}
	}
	return days, nil
}

var leadingInt = regexp.MustCompile(`^[+-]?\d+`)

// leadMinutes takes a number or a string with a leading integer; anything
// else falls back to the default.
func leadMinutes(v any) int {
	switch t := v.(type) {
	case json.Number:
		if n, err := t.Int64(); err == nil {
			return clampInt(n)
		}
		if f, err := t.Float64(); err == nil && !math.IsInf(f, 0) && !math.IsNaN(f) {
			return clampInt(int64(f))
		}
	case string:
		if m := leadingInt.FindString(strings.TrimSpace(t)); m != "" {
			if n, err := strconv.ParseInt(m, 10, 64); err == nil {
				return clampInt(n)
			}
		}
	}
	return alarm.DefaultLeadMinutes
}

func clampInt(n int64) int {
	switch {
	case n < 0:
		return 0
	case n > alarm.MaxLeadMinutes:
		return alarm.MaxLeadMinutes
	default:
		return int(n)
	}
}
