package alarm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"testing"
	"time"
)

type memPersister struct {
	mu      sync.Mutex
	initial []Alarm
	saved   []Alarm
	saves   int
	failErr error
}

func (m *memPersister) Load(context.Context) ([]Alarm, error) { return m.initial, nil }

func (m *memPersister) Save(_ context.Context, alarms []Alarm) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil {
		return m.failErr
	}
	m.saves++
	m.saved = alarms
	return nil
}

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time { return c.t }

func newTestStore(t *testing.T, p *memPersister, opts ...Option) (*Store, *fakeClock) {
	t.Helper()
	clock := &fakeClock{t: at(tokyo, 2025, 1, 7, 9, 0)} // Tuesday
	n := 0
	base := []Option{
		WithLocation(tokyo),
		WithClock(clock.Now),
		WithIDGenerator(func() string { n++; return fmt.Sprintf("id-%d", n) }),
	}
	s, err := Open(context.Background(), p, append(base, opts...)...)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	return s, clock
}

func lead(n int) *int { return &n }

func TestCreateNormalizesAndPersists(t *testing.T) {
	p := &memPersister{}
	s, _ := newTestStore(t, p)
	ctx := context.Background()

	a, err := s.Create(ctx, Payload{Title: "  wake up ", TimeLabel: " 07:30 ", URL: " https://example.com "})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if a.ID != "id-1" || a.Title != "wake up" || a.TimeLabel != "07:30" || a.URL != "https://example.com" {
		t.Fatalf("unexpected alarm: %+v", a)
	}
	if a.LeadMinutes != DefaultLeadMinutes {
		t.Fatalf("lead=%d want default", a.LeadMinutes)
	}
	if want := FormatFireTime(at(tokyo, 2025, 1, 8, 7, 27)); a.NextFireTime != want {
		t.Fatalf("next=%s want %s", a.NextFireTime, want)
	}
	if p.saves != 1 || len(p.saved) != 1 {
		t.Fatalf("saves=%d saved=%d", p.saves, len(p.saved))
	}
	if a.RepeatDays == nil {
		t.Fatalf("repeat days should be an empty slice")
	}
}

func TestCreateRepeatPolicy(t *testing.T) {
	ctx := context.Background()
	payload := Payload{Title: "x", TimeLabel: "08:00", RepeatEnabled: true}

	s, _ := newTestStore(t, &memPersister{})
	if _, err := s.Create(ctx, payload); !errors.Is(err, ErrValidation) {
		t.Fatalf("reject policy err=%v", err)
	}
	if len(s.List()) != 0 {
		t.Fatalf("rejected payload must not be stored")
	}

	s, _ = newTestStore(t, &memPersister{}, WithRepeatPolicy(RepeatDowngrade))
	a, err := s.Create(ctx, payload)
	if err != nil {
		t.Fatalf("downgrade policy: %v", err)
	}
	if a.RepeatEnabled || len(a.RepeatDays) != 0 {
		t.Fatalf("expected one-shot alarm, got %+v", a)
	}
}

func TestCreateRepeatDisabledDropsDays(t *testing.T) {
	s, _ := newTestStore(t, &memPersister{})
	a, err := s.Create(context.Background(), Payload{Title: "x", TimeLabel: "08:00", RepeatDays: []Weekday{Mon}})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if a.RepeatEnabled || len(a.RepeatDays) != 0 {
		t.Fatalf("got %+v", a)
	}
}

func TestCreateCalculatorErrors(t *testing.T) {
	s, _ := newTestStore(t, &memPersister{})
	ctx := context.Background()
	cases := []struct {
		p    Payload
		want error
	}{
		{Payload{TimeLabel: "7am"}, ErrInvalidTimeFormat},
		{Payload{TimeLabel: "07:00", DateLabel: "01/02/2025"}, ErrInvalidDateFormat},
		{Payload{TimeLabel: "07:00", DateLabel: "2025-01-06"}, ErrDateInPast},
		{Payload{TimeLabel: "07:00", RepeatEnabled: true, RepeatDays: []Weekday{"Funday"}}, ErrValidation},
	}
	for _, c := range cases {
		if _, err := s.Create(ctx, c.p); !errors.Is(err, c.want) {
			t.Fatalf("%+v: err=%v want %v", c.p, err, c.want)
		}
	}
}

func TestListSortedAndIdempotent(t *testing.T) {
	s, _ := newTestStore(t, &memPersister{})
	ctx := context.Background()
	for _, tl := range []string{"20:00", "10:00", "15:00"} {
		if _, err := s.Create(ctx, Payload{Title: tl, TimeLabel: tl, LeadMinutes: lead(0)}); err != nil {
			t.Fatalf("create %s: %v", tl, err)
		}
	}
	first := s.List()
	second := s.List()
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("list not idempotent")
	}
	var got []string
	for _, a := range first {
		got = append(got, a.TimeLabel)
	}
	if want := []string{"10:00", "15:00", "20:00"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("order=%v want %v", got, want)
	}

	first[0].Title = "mutated"
	if s.List()[0].Title == "mutated" {
		t.Fatalf("List must return copies")
	}
}

func TestUpdateAndUpdateTitle(t *testing.T) {
	p := &memPersister{}
	s, _ := newTestStore(t, p)
	ctx := context.Background()
	a, _ := s.Create(ctx, Payload{Title: "a", TimeLabel: "10:00"})

	if err := s.UpdateTitle(ctx, a.ID, "  renamed  "); err != nil {
		t.Fatalf("update title: %v", err)
	}
	got, _ := s.Get(a.ID)
	if got.Title != "renamed" || got.NextFireTime != a.NextFireTime {
		t.Fatalf("title update changed wrong fields: %+v", got)
	}

	if err := s.Update(ctx, a.ID, Payload{Title: "b", TimeLabel: "08:00", RepeatEnabled: true, RepeatDays: []Weekday{Mon, Mon}, LeadMinutes: lead(0)}); err != nil {
		t.Fatalf("update: %v", err)
	}
	got, _ = s.Get(a.ID)
	if got.Title != "b" || !got.RepeatEnabled || !reflect.DeepEqual(got.RepeatDays, []Weekday{Mon}) || got.LeadMinutes != 0 {
		t.Fatalf("update result: %+v", got)
	}
	if want := FormatFireTime(at(tokyo, 2025, 1, 13, 8, 0)); got.NextFireTime != want {
		t.Fatalf("next=%s want %s", got.NextFireTime, want)
	}

	if err := s.UpdateTitle(ctx, "missing", "x"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("update title missing: %v", err)
	}
	if err := s.Update(ctx, "missing", Payload{TimeLabel: "08:00"}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("update missing: %v", err)
	}
	if err := s.Update(ctx, a.ID, Payload{TimeLabel: "08:00", RepeatEnabled: true}); !errors.Is(err, ErrValidation) {
		t.Fatalf("update validation: %v", err)
	}
}

func TestDueTransitionsOnce(t *testing.T) {
	s, clock := newTestStore(t, &memPersister{})
	ctx := context.Background()
	a, _ := s.Create(ctx, Payload{Title: "a", TimeLabel: "09:05", LeadMinutes: lead(0)})

	if due := s.Due(clock.t); len(due) != 0 {
		t.Fatalf("nothing should be due yet: %v", due)
	}
	fire, _ := a.FireTime()
	due := s.Due(fire)
	if len(due) != 1 || due[0].ID != a.ID {
		t.Fatalf("due at exact fire time: %v", due)
	}
	if again := s.Due(fire.Add(time.Minute)); len(again) != 0 {
		t.Fatalf("ringing alarm reported twice: %v", again)
	}
	if r := s.Ringing(); !reflect.DeepEqual(r, []string{a.ID}) {
		t.Fatalf("ringing=%v", r)
	}
}

func TestDueSkipsUnparseable(t *testing.T) {
	p := &memPersister{initial: []Alarm{
		{ID: "bad", Title: "bad", TimeLabel: "08:00", NextFireTime: "not-a-time", RepeatDays: []Weekday{}},
		{ID: "ok", Title: "ok", TimeLabel: "08:00", NextFireTime: "2025-01-01T00:00:00Z", RepeatDays: []Weekday{}},
	}}
	s, clock := newTestStore(t, p)
	due := s.Due(clock.t)
	if len(due) != 1 || due[0].ID != "ok" {
		t.Fatalf("due=%v", due)
	}
	if _, ok := s.Get("bad"); !ok {
		t.Fatalf("unparseable alarm must be kept")
	}
}

func TestAcknowledgeOneShotRemoves(t *testing.T) {
	p := &memPersister{}
	s, _ := newTestStore(t, p)
	ctx := context.Background()
	a, _ := s.Create(ctx, Payload{Title: "a", TimeLabel: "09:05", LeadMinutes: lead(0)})
	fire, _ := a.FireTime()
	s.Due(fire)

	out, err := s.Acknowledge(ctx, a.ID)
	if err != nil || out != AckRemoved {
		t.Fatalf("ack=%v err=%v", out, err)
	}
	if _, ok := s.Get(a.ID); ok {
		t.Fatalf("one-shot alarm should be removed")
	}
	if len(s.Ringing()) != 0 {
		t.Fatalf("ringing not cleared")
	}
	if due := s.Due(fire.Add(48 * time.Hour)); len(due) != 0 {
		t.Fatalf("removed alarm reported: %v", due)
	}
	if len(p.saved) != 0 {
		t.Fatalf("removal not persisted")
	}
}

func TestAcknowledgeRepeatRearms(t *testing.T) {
	s, clock := newTestStore(t, &memPersister{})
	ctx := context.Background()
	a, _ := s.Create(ctx, Payload{Title: "a", TimeLabel: "09:05", RepeatEnabled: true, RepeatDays: []Weekday{Tue, Thu}, LeadMinutes: lead(5)})
	fire, _ := a.FireTime()
	clock.t = fire
	if due := s.Due(clock.t); len(due) != 1 {
		t.Fatalf("due=%v", due)
	}

	clock.t = fire.Add(30 * time.Second)
	out, err := s.Acknowledge(ctx, a.ID)
	if err != nil || out != AckRearmed {
		t.Fatalf("ack=%v err=%v", out, err)
	}
	got, ok := s.Get(a.ID)
	if !ok {
		t.Fatalf("repeat alarm removed")
	}
	next, _ := got.FireTime()
	if !next.Add(5 * time.Minute).After(clock.t) {
		t.Fatalf("next %s not after ack instant %s", next, clock.t)
	}
	// Created Tuesday 09:00 with a 5 minute lead, so the first fire is Thursday;
	// acknowledging then re-arms for the following Tuesday.
	if want := at(tokyo, 2025, 1, 14, 9, 0); !next.Equal(want) {
		t.Fatalf("next=%s want %s", next.In(tokyo), want)
	}
	if len(s.Ringing()) != 0 {
		t.Fatalf("ringing not cleared")
	}
}

func TestAcknowledgeAbsentIsNoop(t *testing.T) {
	p := &memPersister{}
	s, _ := newTestStore(t, p)
	out, err := s.Acknowledge(context.Background(), "missing")
	if err != nil || out != AckAbsent {
		t.Fatalf("ack=%v err=%v", out, err)
	}
	if p.saves != 0 {
		t.Fatalf("absent ack must not save")
	}
}

func TestDeleteClearsRinging(t *testing.T) {
	s, _ := newTestStore(t, &memPersister{})
	ctx := context.Background()
	a, _ := s.Create(ctx, Payload{Title: "a", TimeLabel: "09:05", LeadMinutes: lead(0)})
	fire, _ := a.FireTime()
	s.Due(fire)

	if err := s.Delete(ctx, a.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := s.Delete(ctx, "missing"); err != nil {
		t.Fatalf("delete missing: %v", err)
	}
	if len(s.List()) != 0 || len(s.Ringing()) != 0 {
		t.Fatalf("delete left state behind")
	}
}

func TestImportManyAllOrNothing(t *testing.T) {
	p := &memPersister{}
	s, _ := newTestStore(t, p)
	ctx := context.Background()
	existing, _ := s.Create(ctx, Payload{Title: "keep", TimeLabel: "12:00"})
	fire, _ := existing.FireTime()
	s.Due(fire)

	_, err := s.ImportMany(ctx, []Payload{
		{Title: "ok", TimeLabel: "10:00"},
		{Title: "bad", TimeLabel: "25:00"},
	}, true)
	if !errors.Is(err, ErrInvalidTimeFormat) {
		t.Fatalf("err=%v", err)
	}
	if list := s.List(); len(list) != 1 || list[0].ID != existing.ID {
		t.Fatalf("failed import changed the store: %v", list)
	}

	added, err := s.ImportMany(ctx, []Payload{{Title: "one", TimeLabel: "10:00"}, {Title: "two", TimeLabel: "11:00"}}, false)
	if err != nil || len(added) != 2 {
		t.Fatalf("append import: %v %v", added, err)
	}
	if len(s.List()) != 3 || len(s.Ringing()) != 1 {
		t.Fatalf("append should keep existing alarms and ringing set")
	}

	if _, err := s.ImportMany(ctx, []Payload{{Title: "only", TimeLabel: "10:00"}}, true); err != nil {
		t.Fatalf("replace import: %v", err)
	}
	if list := s.List(); len(list) != 1 || list[0].Title != "only" {
		t.Fatalf("replace result: %v", list)
	}
	if len(s.Ringing()) != 0 {
		t.Fatalf("replace must clear ringing set")
	}
	if len(p.saved) != 1 {
		t.Fatalf("persisted=%d", len(p.saved))
	}
}

func TestSaveFailureKeepsMemoryState(t *testing.T) {
	p := &memPersister{failErr: errors.New("disk full")}
	s, _ := newTestStore(t, p)
	a, err := s.Create(context.Background(), Payload{Title: "a", TimeLabel: "10:00"})
	if !errors.Is(err, ErrPersistence) {
		t.Fatalf("err=%v", err)
	}
	if _, ok := s.Get(a.ID); !ok {
		t.Fatalf("in-memory change should survive a failed save")
	}
}

func TestLoadedAlarmDefaults(t *testing.T) {
	var a Alarm
	if err := a.UnmarshalJSON([]byte(`{"id":"x","title":"t","timeLabel":"08:00","nextFireTime":"2025-01-01T00:00:00Z","url":null,"repeatEnabled":false}`)); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if a.LeadMinutes != DefaultLeadMinutes || a.RepeatDays == nil {
		t.Fatalf("defaults not applied: %+v", a)
	}
	if err := a.UnmarshalJSON([]byte(`{"id":"x","repeatDays":["Someday"]}`)); err == nil {
		t.Fatalf("unknown weekday should fail")
	}
}

func TestNonRepeatAlarmWritesEmptyRepeatDays(t *testing.T) {
	p := &memPersister{}
	s, _ := newTestStore(t, p)
	if _, err := s.Create(context.Background(), Payload{Title: "x", TimeLabel: "07:30"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	for name, a := range map[string]Alarm{"list": s.List()[0], "saved": p.saved[0]} {
		b, err := json.Marshal(a)
		if err != nil {
			t.Fatalf("%s marshal: %v", name, err)
		}
		var m map[string]json.RawMessage
		if err := json.Unmarshal(b, &m); err != nil {
			t.Fatalf("%s unmarshal: %v", name, err)
		}
		if got := string(m["repeatDays"]); got != "[]" {
			t.Fatalf("%s repeatDays = %s, want []", name, got)
		}
	}
}

func TestAcknowledgeRearmFailureKeepsRinging(t *testing.T) {
	past := FormatFireTime(at(tokyo, 2025, 1, 7, 8, 0))
	p := &memPersister{initial: []Alarm{{
		ID: "r", Title: "broken", TimeLabel: "25:00", NextFireTime: past,
		RepeatEnabled: true, RepeatDays: []Weekday{Mon}, LeadMinutes: 3,
	}}}
	s, clock := newTestStore(t, p)
	ctx := context.Background()

	if due := s.Due(clock.t); len(due) != 1 {
		t.Fatalf("due=%v", due)
	}
	if _, err := s.Acknowledge(ctx, "r"); !errors.Is(err, ErrInvalidTimeFormat) {
		t.Fatalf("ack err=%v", err)
	}
	if got := s.Ringing(); len(got) != 1 || got[0] != "r" {
		t.Fatalf("ringing=%v, want [r]", got)
	}
	if due := s.Due(clock.t.Add(time.Second)); len(due) != 0 {
		t.Fatalf("alarm announced again: %v", due)
	}
}

func TestAcknowledgeRearmClampsLoadedLead(t *testing.T) {
	past := FormatFireTime(at(tokyo, 2025, 1, 7, 8, 0))
	p := &memPersister{initial: []Alarm{{
		ID: "r", Title: "far", TimeLabel: "23:00", NextFireTime: past,
		RepeatEnabled: true, RepeatDays: []Weekday{Mon, Tue, Wed, Thu, Fri, Sat, Sun}, LeadMinutes: 900,
	}}}
	s, _ := newTestStore(t, p)
	out, err := s.Acknowledge(context.Background(), "r")
	if err != nil || out != AckRearmed {
		t.Fatalf("ack=%v err=%v", out, err)
	}
	if len(p.saved) != 1 || p.saved[0].LeadMinutes != MaxLeadMinutes {
		t.Fatalf("saved=%+v, want lead %d", p.saved, MaxLeadMinutes)
	}
}

func TestConcurrentDueAndMutations(t *testing.T) {
	s, clock := newTestStore(t, &memPersister{})
	ctx := context.Background()
	now := clock.t
	far := now.Add(48 * time.Hour)

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				for _, a := range s.Due(far) {
					if _, err := s.Acknowledge(ctx, a.ID); err != nil {
						t.Errorf("ack %s: %v", a.ID, err)
						return
					}
				}
			}
		}()
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				p := Payload{Title: fmt.Sprintf("w%d-%d", w, i), TimeLabel: "10:00"}
				if i%2 == 0 {
					p.RepeatEnabled = true
					p.RepeatDays = []Weekday{Mon, Wed}
				}
				if _, err := s.Create(ctx, p); err != nil {
					t.Errorf("create: %v", err)
					return
				}
				_ = s.List()
			}
		}(w)
	}
	wg.Wait()

	stored, ringing := s.Counts()
	if ringing > stored {
		t.Fatalf("ringing=%d exceeds stored=%d", ringing, stored)
	}
	for _, id := range s.Ringing() {
		if _, ok := s.Get(id); !ok {
			t.Fatalf("ringing id %s has no alarm", id)
		}
	}
}
