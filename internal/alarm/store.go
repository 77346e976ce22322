package alarm

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	logx "sebastian/pkg/logx"

	"github.com/google/uuid"
)

// Persister loads and saves the full alarm collection.
//
// Load must self-heal unreadable data and return an empty collection rather
// than an error; an error from Load means the backend itself is unusable.
type Persister interface {
	Load(ctx context.Context) ([]Alarm, error)
	Save(ctx context.Context, alarms []Alarm) error
}

// Store is the authoritative alarm collection plus the ringing set.
// Every mutation ends with a full-collection Save while the lock is held.
type Store struct {
	mu      sync.Mutex
	alarms  []Alarm
	ringing map[string]struct{}

	persist Persister
	calc    Calculator
	policy  RepeatPolicy
	now     func() time.Time
	newID   func() string
	log     logx.Logger
}

type Option func(*Store)

func WithLocation(loc *time.Location) Option {
	return func(s *Store) { s.calc.Location = loc }
}

func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

func WithRepeatPolicy(p RepeatPolicy) Option {
	return func(s *Store) { s.policy = p }
}

func WithIDGenerator(fn func() string) Option {
	return func(s *Store) {
		if fn != nil {
			s.newID = fn
		}
	}
}

func WithLogger(log logx.Logger) Option {
	return func(s *Store) { s.log = log }
}

// Open loads the collection from p and returns a ready Store.
func Open(ctx context.Context, p Persister, opts ...Option) (*Store, error) {
	s := &Store{
		ringing: make(map[string]struct{}),
		persist: p,
		now:     time.Now,
		newID:   func() string { return uuid.NewString() },
	}
	for _, o := range opts {
		o(s)
	}
	if s.log.IsZero() {
		s.log = logx.Nop()
	}
	s.log = s.log.With(logx.String("comp", "alarm.store"))

	alarms, err := p.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load alarms: %w", err)
	}
	s.alarms = alarms
	if s.alarms == nil {
		s.alarms = []Alarm{}
	}
	s.log.Info("alarms loaded", logx.Int("count", len(s.alarms)), logx.String("repeat_policy", s.policy.String()))
	return s, nil
}

// Location is the zone used for wall-clock arithmetic.
func (s *Store) Location() *time.Location { return s.calc.loc() }

// List returns a copy of all alarms sorted by nextFireTime (string order).
func (s *Store) List() []Alarm {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listLocked()
}

func (s *Store) listLocked() []Alarm {
	out := make([]Alarm, len(s.alarms))
	for i, a := range s.alarms {
		out[i] = a.clone()
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].NextFireTime < out[j].NextFireTime })
	return out
}

// Get returns a copy of one alarm.
func (s *Store) Get(id string) (Alarm, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i := s.indexLocked(id); i >= 0 {
		return s.alarms[i].clone(), true
	}
	return Alarm{}, false
}

// Ringing returns the ids currently fired but not acknowledged.
func (s *Store) Ringing() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.ringing))
	for id := range s.ringing {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Counts returns the number of stored and ringing alarms.
func (s *Store) Counts() (stored, ringing int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.alarms), len(s.ringing)
}

// Create validates p, computes its next fire time and appends it.
func (s *Store) Create(ctx context.Context, p Payload) (Alarm, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, err := s.buildLocked(p)
	if err != nil {
		return Alarm{}, err
	}
	s.alarms = append(s.alarms, a)
	return a.clone(), s.saveLocked(ctx)
}

// Delete removes id. A missing id is not an error.
func (s *Store) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.alarms[:0]
	for _, a := range s.alarms {
		if a.ID != id {
			kept = append(kept, a)
		}
	}
	s.alarms = kept
	delete(s.ringing, id)
	return s.saveLocked(ctx)
}

// UpdateTitle replaces the title only.
func (s *Store) UpdateTitle(ctx context.Context, id, title string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexLocked(id)
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	s.alarms[i].Title = strings.TrimSpace(title)
	return s.saveLocked(ctx)
}

// Update replaces every mutable field of id and recomputes nextFireTime.
func (s *Store) Update(ctx context.Context, id string, p Payload) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := normalize(p, s.policy)
	if err != nil {
		return err
	}
	next, err := f.nextFire(s.calc, s.now())
	if err != nil {
		return err
	}
	i := s.indexLocked(id)
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	f.apply(&s.alarms[i], next)
	return s.saveLocked(ctx)
}

// Due moves every armed alarm whose fire time is <= now into the ringing set
// and returns them. Alarms with an unparseable nextFireTime are skipped.
func (s *Store) Due(now time.Time) []Alarm {
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []Alarm
	for _, a := range s.alarms {
		if _, ringing := s.ringing[a.ID]; ringing {
			continue
		}
		fire, err := a.FireTime()
		if err != nil {
			s.log.Warn("skip alarm with unparseable next fire time",
				logx.String("id", a.ID), logx.String("next_fire_time", a.NextFireTime), logx.Err(err))
			continue
		}
		if !fire.After(now) {
			s.ringing[a.ID] = struct{}{}
			due = append(due, a.clone())
		}
	}
	return due
}

// AckOutcome reports what Acknowledge did.
type AckOutcome int

const (
	AckAbsent AckOutcome = iota
	AckRearmed
	AckRemoved
)

func (o AckOutcome) String() string {
	switch o {
	case AckRearmed:
		return "rearmed"
	case AckRemoved:
		return "removed"
	default:
		return "absent"
	}
}

// Acknowledge re-arms a repeat alarm or removes a one-shot alarm, and the
// id leaves the ringing set. An absent id is a no-op. If a repeat alarm
// cannot be re-armed it stays ringing so the next tick does not announce it again.
func (s *Store) Acknowledge(ctx context.Context, id string) (AckOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexLocked(id)
	if i < 0 {
		delete(s.ringing, id)
		return AckAbsent, nil
	}
	a := &s.alarms[i]
	if !a.IsRepeating() {
		delete(s.ringing, id)
		s.alarms = append(s.alarms[:i], s.alarms[i+1:]...)
		return AckRemoved, s.saveLocked(ctx)
	}

	a.LeadMinutes = ClampLead(a.LeadMinutes)
	next, err := s.calc.NextFire(a.TimeLabel, "", true, a.RepeatDays, a.LeadMinutes, s.now())
	if err != nil {
		return AckAbsent, err
	}
	delete(s.ringing, id)
	a.NextFireTime = FormatFireTime(next)
	return AckRearmed, s.saveLocked(ctx)
}

// ImportMany builds every payload first and applies nothing if any fails.
// With replace the collection and the ringing set are swapped wholesale.
func (s *Store) ImportMany(ctx context.Context, payloads []Payload, replace bool) ([]Alarm, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	incoming := make([]Alarm, 0, len(payloads))
	for i, p := range payloads {
		a, err := s.buildLocked(p)
		if err != nil {
			return nil, fmt.Errorf("entry %d: %w", i+1, err)
		}
		incoming = append(incoming, a)
	}
	if replace {
		s.alarms = incoming
		s.ringing = make(map[string]struct{})
	} else {
		s.alarms = append(s.alarms, incoming...)
	}

	out := make([]Alarm, len(incoming))
	for i, a := range incoming {
		out[i] = a.clone()
	}
	return out, s.saveLocked(ctx)
}

func (s *Store) buildLocked(p Payload) (Alarm, error) {
	f, err := normalize(p, s.policy)
	if err != nil {
		return Alarm{}, err
	}
	next, err := f.nextFire(s.calc, s.now())
	if err != nil {
		return Alarm{}, err
	}
	a := Alarm{ID: s.newID()}
	f.apply(&a, next)
	return a, nil
}

func (s *Store) indexLocked(id string) int {
	for i, a := range s.alarms {
		if a.ID == id {
			return i
		}
	}
	return -1
}

// saveLocked persists the full collection. The in-memory change stays even
// when the write fails.
func (s *Store) saveLocked(ctx context.Context) error {
	snapshot := make([]Alarm, len(s.alarms))
	for i, a := range s.alarms {
		snapshot[i] = a.clone()
	}
	if err := s.persist.Save(context.WithoutCancel(ctx), snapshot); err != nil {
		s.log.Error("persist alarms failed", logx.Int("count", len(s.alarms)), logx.Err(err))
		return fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	return nil
}
