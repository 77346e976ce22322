// Package poller runs due-detection on a fixed tick and hands due alarms to a Sink.
package poller

import (
	"context"
	"fmt"
	"sync"
	"time"

	"sebastian/internal/alarm"
	"sebastian/internal/metrics"
	logx "sebastian/pkg/logx"

	"github.com/robfig/cron/v3"
)

// Source is the part of the alarm store the poller needs.
type Source interface {
	Due(now time.Time) []alarm.Alarm
	Counts() (stored, ringing int)
}

// Sink receives every non-empty due batch.
type Sink interface {
	AlarmsDue(ctx context.Context, due []alarm.Alarm)
}

type Config struct {
	Interval time.Duration
	Location *time.Location
}

const minInterval = time.Second

type Service struct {
	mu  sync.Mutex
	cfg Config

	src    Source
	sink   Sink
	log    logx.Logger
	now    func() time.Time
	onTick func()

	parser cron.Parser
	c      *cron.Cron
	ctx    context.Context
}

type Option func(*Service)

// WithClock overrides the tick reference time.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithTickHook runs fn after every tick (e.g. a watchdog ping).
func WithTickHook(fn func()) Option {
	return func(s *Service) { s.onTick = fn }
}

func New(cfg Config, src Source, sink Sink, log logx.Logger, opts ...Option) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		cfg:  cfg,
		src:  src,
		sink: sink,
		log:  log.With(logx.String("comp", "poller")),
		now:  time.Now,
		// SecondOptional allows "@every 1s" as well as 6-field specs.
		parser: cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Service) spec() string {
	every := s.cfg.Interval
	if every < minInterval {
		every = minInterval
	}
	return fmt.Sprintf("@every %s", every.Truncate(time.Second))
}

// Start registers the tick job and starts cron. ctx is handed to the sink.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return nil
	}
	s.ctx = ctx
	return s.startLocked()
}

func (s *Service) startLocked() error {
	loc := s.cfg.Location
	if loc == nil {
		loc = time.Local
	}
	c := cron.New(
		cron.WithParser(s.parser),
		cron.WithLocation(loc),
		cron.WithChain(cron.Recover(cronLogger{s.log}), cron.SkipIfStillRunning(cronLogger{s.log})),
	)
	spec := s.spec()
	ctx := s.ctx
	if _, err := c.AddFunc(spec, func() { s.Tick(ctx, s.now()) }); err != nil {
		return fmt.Errorf("register poll job %q: %w", spec, err)
	}
	c.Start()
	s.c = c
	s.log.Info("poller started", logx.String("spec", spec), logx.String("tz", loc.String()))
	return nil
}

// Stop stops triggering and waits for a running tick, bounded by ctx.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.c
	s.c = nil
	s.mu.Unlock()
	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
	s.log.Info("poller stopped")
}

// Apply swaps the config and restarts cron when the interval changed.
func (s *Service) Apply(cfg Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	changed := cfg.Interval != s.cfg.Interval
	s.cfg = cfg
	if s.c == nil || !changed {
		return nil
	}
	<-s.c.Stop().Done()
	s.c = nil
	return s.startLocked()
}

// Tick runs one due-detection pass and returns the number of alarms fired.
// The store lock is taken per call, never held across ticks.
func (s *Service) Tick(ctx context.Context, now time.Time) int {
	start := time.Now()
	due := s.src.Due(now)
	stored, ringing := s.src.Counts()
	metrics.RecordPoll(time.Since(start), len(due), stored, ringing)

	if len(due) > 0 {
		ids := make([]string, len(due))
		for i, a := range due {
			ids[i] = a.ID
		}
		s.log.Info("alarms due", logx.Int("count", len(due)), logx.Strings("ids", ids))
		if s.sink != nil {
			s.sink.AlarmsDue(ctx, due)
		}
	}
	if s.onTick != nil {
		s.onTick()
	}
	return len(due)
}

// cronLogger adapts logx to cron.Logger.
type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug("cron: "+msg, logx.Any("kv", keysAndValues))
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error("cron: "+msg, logx.Err(err), logx.Any("kv", keysAndValues))
}
