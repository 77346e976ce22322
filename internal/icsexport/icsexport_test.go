package icsexport

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/emersion/go-ical"

	"sebastian/internal/alarm"
)

func TestWriteRoundTrip(t *testing.T) {
	alarms := []alarm.Alarm{
		{
			ID: "a1", Title: "Standup", TimeLabel: "09:00",
			NextFireTime:  "2025-01-13T08:55:00Z",
			RepeatEnabled: true,
			RepeatDays:    []alarm.Weekday{alarm.Wed, alarm.Mon},
			LeadMinutes:   5,
			URL:           "https://meet.example/standup",
		},
		{ID: "a2", Title: "Dentist", TimeLabel: "14:30", NextFireTime: "2025-01-08T14:30:00Z", RepeatDays: []alarm.Weekday{}},
		{ID: "bad", Title: "Broken", TimeLabel: "10:00", NextFireTime: "garbage", RepeatDays: []alarm.Weekday{}},
	}

	var buf bytes.Buffer
	if err := Write(&buf, alarms, time.UTC, time.Date(2025, 1, 7, 9, 0, 0, 0, time.UTC)); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if !strings.HasPrefix(buf.String(), "BEGIN:VCALENDAR") {
		t.Fatalf("output = %q", buf.String())
	}

	cal, err := ical.NewDecoder(&buf).Decode()
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	events := cal.Events()
	if len(events) != 2 {
		t.Fatalf("events = %d, want 2", len(events))
	}

	first := events[0]
	start, err := first.DateTimeStart(time.UTC)
	if err != nil {
		t.Fatalf("DTSTART: %v", err)
	}
	if want := time.Date(2025, 1, 13, 9, 0, 0, 0, time.UTC); !start.Equal(want) {
		t.Fatalf("DTSTART = %v, want %v", start, want)
	}
	if rr := first.Props.Get(ical.PropRecurrenceRule); rr == nil || rr.Value != "FREQ=WEEKLY;BYDAY=MO,WE" {
		t.Fatalf("RRULE = %+v", rr)
	}
	if len(first.Children) != 1 || first.Children[0].Name != ical.CompAlarm {
		t.Fatalf("children = %+v", first.Children)
	}
	if tr := first.Children[0].Props.Get(ical.PropTrigger); tr == nil || tr.Value != "-PT5M" {
		t.Fatalf("TRIGGER = %+v", tr)
	}

	second := events[1]
	if second.Props.Get(ical.PropRecurrenceRule) != nil {
		t.Fatalf("one-shot alarm has RRULE")
	}
	if len(second.Children) != 0 {
		t.Fatalf("zero-lead alarm has VALARM")
	}
}

func TestRRuleOrder(t *testing.T) {
	got := RRule([]alarm.Weekday{alarm.Sun, alarm.Fri, alarm.Mon, alarm.Fri})
	if got != "FREQ=WEEKLY;BYDAY=MO,FR,SU" {
		t.Fatalf("RRule = %q", got)
	}
}
