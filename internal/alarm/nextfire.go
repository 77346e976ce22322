package alarm

import (
	"fmt"
	"strings"
	"time"
)

// repeatHorizonDays bounds the weekday search in repeat mode.
const repeatHorizonDays = 14

// Calculator computes next-fire instants in a fixed local zone.
// The zero value uses time.Local.
type Calculator struct {
	Location *time.Location
}

func (c Calculator) loc() *time.Location {
	if c.Location == nil {
		return time.Local
	}
	return c.Location
}

// NextFire returns the instant an alarm must fire: the next nominal
// occurrence of timeLabel minus leadMinutes.
//
// Mode order: repeat (enabled with days) wins, then an explicit dateLabel,
// then the next occurrence of timeLabel within a day.
func (c Calculator) NextFire(timeLabel, dateLabel string, repeatEnabled bool, repeatDays []Weekday, leadMinutes int, now time.Time) (time.Time, error) {
	hour, minute, err := ParseTimeLabel(timeLabel)
	if err != nil {
		return time.Time{}, err
	}
	lead := time.Duration(ClampLead(leadMinutes)) * time.Minute
	loc := c.loc()
	adjusted := now.Add(lead).In(loc)

	switch {
	case repeatEnabled && len(repeatDays) > 0:
		want := make(map[time.Weekday]bool, len(repeatDays))
		for _, d := range repeatDays {
			if wd, ok := d.Time(); ok {
				want[wd] = true
			}
		}
		y, m, d := adjusted.Date()
		for offset := 0; offset < repeatHorizonDays; offset++ {
			day := time.Date(y, m, d+offset, 12, 0, 0, 0, loc)
			if !want[day.Weekday()] {
				continue
			}
			dy, dm, dd := day.Date()
			candidate, err := localInstant(loc, dy, dm, dd, hour, minute)
			if err != nil {
				continue
			}
			if candidate.After(adjusted) {
				return candidate.Add(-lead), nil
			}
		}
		return time.Time{}, ErrNoFeasibleOccurrence

	case strings.TrimSpace(dateLabel) != "":
		y, m, d, err := ParseDateLabel(dateLabel)
		if err != nil {
			return time.Time{}, err
		}
		candidate, err := localInstant(loc, y, m, d, hour, minute)
		if err != nil {
			return time.Time{}, err
		}
		if !candidate.After(adjusted) {
			return time.Time{}, ErrDateInPast
		}
		return candidate.Add(-lead), nil

	default:
		y, m, d := adjusted.Date()
		candidate, err := localInstant(loc, y, m, d, hour, minute)
		if err != nil {
			return time.Time{}, err
		}
		if !candidate.After(adjusted) {
			next := time.Date(y, m, d+1, 12, 0, 0, 0, loc)
			ny, nm, nd := next.Date()
			candidate, err = localInstant(loc, ny, nm, nd, hour, minute)
			if err != nil {
				return time.Time{}, err
			}
		}
		return candidate.Add(-lead), nil
	}
}

// ParseTimeLabel parses a strict 24-hour "HH:MM".
func ParseTimeLabel(s string) (hour, minute int, err error) {
	t, perr := time.Parse("15:04", s)
	if perr != nil || len(s) != 5 {
		return 0, 0, fmt.Errorf("%w: %q", ErrInvalidTimeFormat, s)
	}
	return t.Hour(), t.Minute(), nil
}

// ParseDateLabel parses "YYYY-MM-DD" after trimming surrounding space.
func ParseDateLabel(s string) (int, time.Month, int, error) {
	s = strings.TrimSpace(s)
	t, err := time.Parse("2006-01-02", s)
	if err != nil || len(s) != 10 {
		return 0, 0, 0, fmt.Errorf("%w: %q", ErrInvalidDateFormat, s)
	}
	y, m, d := t.Date()
	return y, m, d, nil
}

// localInstant builds y-m-d hh:mm:00 in loc and fails when that wall-clock
// time does not exist (spring-forward gap) or occurs twice (fall-back overlap).
func localInstant(loc *time.Location, y int, m time.Month, d, hour, minute int) (time.Time, error) {
	wall := time.Date(y, m, d, hour, minute, 0, 0, time.UTC)
	guess := time.Date(y, m, d, hour, minute, 0, 0, loc)

	offsets := make(map[int]struct{}, 2)
	for _, shift := range []time.Duration{-24 * time.Hour, 0, 24 * time.Hour} {
		_, off := guess.Add(shift).Zone()
		offsets[off] = struct{}{}
	}

	var found []time.Time
	for off := range offsets {
		t := wall.Add(-time.Duration(off) * time.Second).In(loc)
		if sameWallClock(t, y, m, d, hour, minute) {
			found = append(found, t)
		}
	}
	if len(found) != 1 {
		return time.Time{}, fmt.Errorf("%w: %04d-%02d-%02d %02d:%02d", ErrAmbiguousLocalTime, y, m, d, hour, minute)
	}
	return found[0], nil
}

func sameWallClock(t time.Time, y int, m time.Month, d, hour, minute int) bool {
	ty, tm, td := t.Date()
	return ty == y && tm == m && td == d && t.Hour() == hour && t.Minute() == minute
}
