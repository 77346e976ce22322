package alarm

import (
	"fmt"
	"strings"
	"time"
)

// RepeatPolicy decides what happens to repeatEnabled without weekdays.
type RepeatPolicy int

const (
	// RepeatReject fails the write with ErrValidation.
	RepeatReject RepeatPolicy = iota
	// RepeatDowngrade turns the alarm into a one-shot alarm.
	RepeatDowngrade
)

// ParseRepeatPolicy maps config values ("reject", "downgrade") to a policy.
func ParseRepeatPolicy(s string) (RepeatPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "reject":
		return RepeatReject, nil
	case "downgrade":
		return RepeatDowngrade, nil
	default:
		return RepeatReject, fmt.Errorf("unknown repeat policy %q", s)
	}
}

func (p RepeatPolicy) String() string {
	if p == RepeatDowngrade {
		return "downgrade"
	}
	return "reject"
}

// fields is a normalized payload ready for the calculator.
type fields struct {
	title     string
	timeLabel string
	dateLabel string
	url       string
	repeat    bool
	days      []Weekday
	lead      int
}

func normalize(p Payload, policy RepeatPolicy) (fields, error) {
	f := fields{
		title:     strings.TrimSpace(p.Title),
		timeLabel: strings.TrimSpace(p.TimeLabel),
		dateLabel: strings.TrimSpace(p.DateLabel),
		url:       strings.TrimSpace(p.URL),
		lead:      p.Lead(),
		days:      dedupDays(p.RepeatDays),
	}
	for _, d := range f.days {
		if !d.Valid() {
			return fields{}, fmt.Errorf("%w: unknown weekday %q", ErrValidation, d)
		}
	}
	switch {
	case p.RepeatEnabled && len(f.days) > 0:
		f.repeat = true
	case p.RepeatEnabled:
		if policy == RepeatReject {
			return fields{}, fmt.Errorf("%w: repeat requires at least one weekday", ErrValidation)
		}
		f.days = []Weekday{}
	default:
		f.days = []Weekday{}
	}
	return f, nil
}

func dedupDays(in []Weekday) []Weekday {
	out := make([]Weekday, 0, len(in))
	seen := make(map[Weekday]bool, len(in))
	for _, d := range in {
		if seen[d] {
			continue
		}
		seen[d] = true
		out = append(out, d)
	}
	return out
}

func (f fields) nextFire(calc Calculator, now time.Time) (string, error) {
	next, err := calc.NextFire(f.timeLabel, f.dateLabel, f.repeat, f.days, f.lead, now)
	if err != nil {
		return "", err
	}
	return FormatFireTime(next), nil
}

func (f fields) apply(a *Alarm, next string) {
	a.Title = f.title
	a.TimeLabel = f.timeLabel
	a.URL = f.url
	a.RepeatEnabled = f.repeat
	a.RepeatDays = f.days
	a.LeadMinutes = f.lead
	a.NextFireTime = next
}
