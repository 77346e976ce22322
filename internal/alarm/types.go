package alarm

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Weekday is a persisted weekday token ("Mon".."Sun").
type Weekday string

const (
	Mon Weekday = "Mon"
	Tue Weekday = "Tue"
	Wed Weekday = "Wed"
	Thu Weekday = "Thu"
	Fri Weekday = "Fri"
	Sat Weekday = "Sat"
	Sun Weekday = "Sun"
)

var weekdayByTime = [...]Weekday{Sun, Mon, Tue, Wed, Thu, Fri, Sat}

// WeekdayOf returns the token for a time.Weekday.
func WeekdayOf(d time.Weekday) Weekday { return weekdayByTime[d] }

// Time converts the token to a time.Weekday. ok is false for unknown tokens.
func (w Weekday) Time() (time.Weekday, bool) {
	for i, v := range weekdayByTime {
		if v == w {
			return time.Weekday(i), true
		}
	}
	return 0, false
}

func (w Weekday) Valid() bool {
	_, ok := w.Time()
	return ok
}

func (w *Weekday) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	v := Weekday(s)
	if !v.Valid() {
		return fmt.Errorf("unknown weekday %q", s)
	}
	*w = v
	return nil
}

// ParseWeekday accepts loose tokens such as "monday", "MON" or " tue ".
// Only the first three letters are significant.
func ParseWeekday(token string) (Weekday, bool) {
	t := strings.TrimSpace(token)
	if len(t) < 3 {
		return "", false
	}
	w := Weekday(strings.ToUpper(t[:1]) + strings.ToLower(t[1:3]))
	if !w.Valid() {
		return "", false
	}
	return w, true
}

// Alarm is a persisted alarm record.
type Alarm struct {
	ID            string    `json:"id"`
	Title         string    `json:"title"`
	TimeLabel     string    `json:"timeLabel"`
	NextFireTime  string    `json:"nextFireTime"`
	URL           string    `json:"url,omitempty"`
	RepeatEnabled bool      `json:"repeatEnabled"`
	RepeatDays    []Weekday `json:"repeatDays"`
	LeadMinutes   int       `json:"leadMinutes"`
}

// UnmarshalJSON fills defaults for records written before leadMinutes existed.
func (a *Alarm) UnmarshalJSON(b []byte) error {
	type plain Alarm
	var raw struct {
		plain
		LeadMinutes *int `json:"leadMinutes"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	*a = Alarm(raw.plain)
	a.LeadMinutes = DefaultLeadMinutes
	if raw.LeadMinutes != nil {
		a.LeadMinutes = *raw.LeadMinutes
	}
	if a.RepeatDays == nil {
		a.RepeatDays = []Weekday{}
	}
	return nil
}

// IsRepeating reports whether the alarm re-arms on acknowledgment.
func (a Alarm) IsRepeating() bool { return a.RepeatEnabled && len(a.RepeatDays) > 0 }

// FireTime parses the cached nextFireTime.
func (a Alarm) FireTime() (time.Time, error) { return ParseFireTime(a.NextFireTime) }

func (a Alarm) clone() Alarm {
	a.RepeatDays = append(make([]Weekday, 0, len(a.RepeatDays)), a.RepeatDays...)
	return a
}

// Payload is the user input accepted by create, update and import.
type Payload struct {
	Title         string    `json:"title"`
	TimeLabel     string    `json:"timeLabel"`
	DateLabel     string    `json:"dateLabel,omitempty"`
	URL           string    `json:"url,omitempty"`
	RepeatEnabled bool      `json:"repeatEnabled"`
	RepeatDays    []Weekday `json:"repeatDays"`
	// LeadMinutes defaults to DefaultLeadMinutes when nil.
	LeadMinutes *int `json:"leadMinutes,omitempty"`
}

const (
	DefaultLeadMinutes = 3
	MaxLeadMinutes     = 720
)

// Lead returns the requested lead minutes, clamped into range.
func (p Payload) Lead() int {
	if p.LeadMinutes == nil {
		return DefaultLeadMinutes
	}
	return ClampLead(*p.LeadMinutes)
}

func ClampLead(m int) int {
	if m < 0 {
		return 0
	}
	if m > MaxLeadMinutes {
		return MaxLeadMinutes
	}
	return m
}

// fireTimeLayout is fixed-width UTC so string order equals time order.
const fireTimeLayout = "2006-01-02T15:04:05Z07:00"

// FormatFireTime renders t in the persisted nextFireTime form.
func FormatFireTime(t time.Time) string {
	return t.UTC().Truncate(time.Second).Format(fireTimeLayout)
}

// ParseFireTime accepts any RFC 3339 timestamp with an offset.
func ParseFireTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339, strings.TrimSpace(s))
}
