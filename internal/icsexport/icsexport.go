// Package icsexport renders the alarm list as an iCalendar feed.
//
// Each alarm becomes a VEVENT at its nominal instant (nextFireTime plus
// lead). Repeat alarms get a weekly RRULE, and a lead time becomes a VALARM
// trigger so calendar clients ring early the same way the daemon does.
package icsexport

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/emersion/go-ical"

	"sebastian/internal/alarm"
)

const productID = "-//sebastian//alarms//EN"

var byDay = map[alarm.Weekday]string{
	alarm.Mon: "MO", alarm.Tue: "TU", alarm.Wed: "WE", alarm.Thu: "TH",
	alarm.Fri: "FR", alarm.Sat: "SA", alarm.Sun: "SU",
}

// Calendar builds the feed. Alarms whose nextFireTime cannot be parsed are skipped.
func Calendar(alarms []alarm.Alarm, loc *time.Location, stamp time.Time) *ical.Calendar {
	if loc == nil || loc.String() == "Local" {
		loc = time.UTC
	}
	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropVersion, "2.0")
	cal.Props.SetText(ical.PropProductID, productID)

	for _, a := range alarms {
		fire, err := a.FireTime()
		if err != nil {
			continue
		}
		nominal := fire.Add(time.Duration(a.LeadMinutes) * time.Minute).In(loc)
		cal.Children = append(cal.Children, event(a, nominal, stamp).Component)
	}
	return cal
}

// Write encodes the feed to w.
func Write(w io.Writer, alarms []alarm.Alarm, loc *time.Location, stamp time.Time) error {
	return ical.NewEncoder(w).Encode(Calendar(alarms, loc, stamp))
}

func event(a alarm.Alarm, nominal, stamp time.Time) *ical.Event {
	ev := ical.NewEvent()
	ev.Props.SetText(ical.PropUID, a.ID+"@sebastian")
	ev.Props.SetDateTime(ical.PropDateTimeStamp, stamp.UTC())
	ev.Props.SetDateTime(ical.PropDateTimeStart, nominal)
	ev.Props.SetText(ical.PropSummary, a.Title)
	if a.URL != "" {
		u := ical.NewProp(ical.PropURL)
		u.SetValueType(ical.ValueURI)
		u.Value = a.URL
		ev.Props.Set(u)
	}
	if a.IsRepeating() {
		rr := ical.NewProp(ical.PropRecurrenceRule)
		rr.SetValueType(ical.ValueRecurrence)
		rr.Value = RRule(a.RepeatDays)
		ev.Props.Set(rr)
	}
	if a.LeadMinutes > 0 {
		ev.Children = append(ev.Children, valarm(a))
	}
	return ev
}

func valarm(a alarm.Alarm) *ical.Component {
	c := ical.NewComponent(ical.CompAlarm)
	c.Props.SetText(ical.PropAction, "DISPLAY")
	c.Props.SetText(ical.PropDescription, a.Title)
	tr := ical.NewProp(ical.PropTrigger)
	tr.SetValueType(ical.ValueDuration)
	tr.Value = fmt.Sprintf("-PT%dM", a.LeadMinutes)
	c.Props.Set(tr)
	return c
}

// RRule returns the weekly rule for days, in Mon..Sun order.
func RRule(days []alarm.Weekday) string {
	set := map[alarm.Weekday]bool{}
	for _, d := range days {
		set[d] = true
	}
	var codes []string
	for _, d := range []alarm.Weekday{alarm.Mon, alarm.Tue, alarm.Wed, alarm.Thu, alarm.Fri, alarm.Sat, alarm.Sun} {
		if set[d] {
			codes = append(codes, byDay[d])
		}
	}
	return "FREQ=WEEKLY;BYDAY=" + strings.Join(codes, ",")
}
