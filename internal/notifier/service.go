package notifier

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"sebastian/internal/alarm"
	"sebastian/internal/eventbus"
	"sebastian/internal/metrics"
	rtsup "sebastian/internal/runtime/supervisor"
	logx "sebastian/pkg/logx"

	"golang.org/x/time/rate"
)

var (
	ErrDisabled  = errors.New("notifier disabled")
	ErrQueueFull = errors.New("notifier queue full")
	ErrStopped   = errors.New("notifier stopped")
)

// workerMaxRestarts bounds how often a panicking worker is restarted.
const workerMaxRestarts = 5

type job struct {
	to  Deliverer
	msg Message
	key string
}

// Service implements poller.Sink on top of an async delivery pipeline.
//
// It is safe for concurrent use.
type Service struct {
	mu sync.Mutex

	log        logx.Logger
	bus        eventbus.Bus
	store      DedupStore
	deliverers []Deliverer

	cfg     Config
	limiter *rate.Limiter

	accepting bool
	sendWG    sync.WaitGroup

	queue    chan job
	sup      *rtsup.Supervisor
	stopDone chan struct{} // non-nil while stopping

	dmu   sync.Mutex
	dedup map[string]time.Time
}

func New(cfg Config, deliverers []Deliverer, log logx.Logger, bus eventbus.Bus, store DedupStore) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		log:        log.With(logx.String("comp", "notifier")),
		bus:        bus,
		store:      store,
		deliverers: deliverers,
		dedup:      map[string]time.Time{},
	}
	s.applyLocked(cfg)
	return s
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled
}

// Apply swaps pipeline knobs. Workers and queue size take effect on the next Start.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.applyLocked(cfg)
	s.mu.Unlock()
}

// SetDeliverers replaces the delivery channels; queued jobs keep their channel.
func (s *Service) SetDeliverers(ds []Deliverer) {
	s.mu.Lock()
	s.deliverers = ds
	s.mu.Unlock()
}

// Channels lists the active channel names.
func (s *Service) Channels() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.deliverers))
	for _, d := range s.deliverers {
		out = append(out, d.Name())
	}
	return out
}

func (s *Service) applyLocked(cfg Config) {
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 3
	}
	if cfg.RetryMax < 0 {
		cfg.RetryMax = 0
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 500 * time.Millisecond
	}
	if cfg.RetryMaxDelay <= 0 {
		cfg.RetryMaxDelay = 10 * time.Second
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 10 * time.Second
	}
	if cfg.DedupWindow < 0 {
		cfg.DedupWindow = 0
	}
	if cfg.DedupMaxEntries <= 0 {
		cfg.DedupMaxEntries = 2000
	}

	s.cfg = cfg
	// Burst = rate per sec so a handful of simultaneous alarms go out at once.
	s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
}

// Start spins up the worker pool. It is idempotent and a no-op when disabled.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	if s.stopDone != nil {
		done := s.stopDone
		s.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
			return
		}
		s.mu.Lock()
	}
	if s.queue != nil || !s.cfg.Enabled {
		s.mu.Unlock()
		return
	}

	s.queue = make(chan job, s.cfg.QueueSize)
	s.accepting = true
	workers := s.cfg.Workers
	s.sup = rtsup.New(ctx,
		rtsup.WithLogger(s.log),
		// A failed worker must not take the daemon down.
		rtsup.WithCancelOnError(false),
	)
	sup := s.sup
	q := s.queue
	s.mu.Unlock()

	for i := 0; i < workers; i++ {
		sup.GoRestart(fmt.Sprintf("worker.%d", i), func(c context.Context) error {
			s.workerLoop(c, q)
			return nil
		},
			rtsup.WithRestartBackoff(500*time.Millisecond, 10*time.Second),
			rtsup.WithMaxRestarts(workerMaxRestarts),
		)
	}
	s.log.Info("notifier started", logx.Int("workers", workers), logx.Strings("channels", s.Channels()))
}

// Stop stops intake and drains the queue best-effort until ctx deadline.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	q := s.queue
	sup := s.sup
	if q == nil {
		s.mu.Unlock()
		return
	}
	if s.stopDone != nil {
		done := s.stopDone
		s.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
		}
		return
	}
	done := make(chan struct{})
	s.stopDone = done
	s.accepting = false
	s.mu.Unlock()

	go func() {
		defer close(done)
		s.sendWG.Wait()
		close(q)
		_ = sup.Wait(context.Background())

		s.mu.Lock()
		s.queue = nil
		s.stopDone = nil
		s.sup = nil
		s.mu.Unlock()
	}()

	select {
	case <-done:
	case <-ctx.Done():
		sup.Cancel()
	}
}

// AlarmsDue publishes each alarm on the bus and queues it for every channel.
func (s *Service) AlarmsDue(ctx context.Context, due []alarm.Alarm) {
	now := time.Now()
	for _, a := range due {
		if s.bus != nil {
			s.bus.Publish(eventbus.Event{Type: eventbus.AlarmTriggered, Time: now, Data: a})
		}
		if !s.Enabled() {
			continue
		}
		msg := MessageFor(a, now)
		for _, d := range s.snapshotDeliverers() {
			if err := s.Notify(ctx, d, msg); err != nil {
				s.log.Warn("notification not queued", logx.String("channel", d.Name()), logx.String("alarm_id", a.ID), logx.Err(err))
			}
		}
	}
}

func (s *Service) snapshotDeliverers() []Deliverer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Deliverer(nil), s.deliverers...)
}

// Notify queues msg for one channel, subject to dedup.
func (s *Service) Notify(ctx context.Context, to Deliverer, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	if !s.cfg.Enabled {
		s.mu.Unlock()
		return ErrDisabled
	}
	if !s.accepting || s.queue == nil {
		s.mu.Unlock()
		return ErrStopped
	}
	q := s.queue
	window := s.cfg.DedupWindow
	maxEntries := s.cfg.DedupMaxEntries
	var st DedupStore
	if s.cfg.PersistDedup {
		st = s.store
	}
	s.sendWG.Add(1)
	s.mu.Unlock()
	defer s.sendWG.Done()

	key := dedupKey(to.Name(), msg)
	if window > 0 && !s.dedupAllow(ctx, key, window, maxEntries, st) {
		metrics.RecordNotification(to.Name(), "deduped")
		return nil
	}

	select {
	case q <- job{to: to, msg: msg, key: key}:
		return nil
	default:
		metrics.RecordNotification(to.Name(), "dropped")
		return ErrQueueFull
	}
}

func (s *Service) workerLoop(ctx context.Context, q <-chan job) {
	for {
		select {
		case <-ctx.Done():
			return
		case j, ok := <-q:
			if !ok {
				return
			}
			s.sendWithRetry(ctx, j)
		}
	}
}

func (s *Service) sendWithRetry(ctx context.Context, j job) {
	s.mu.Lock()
	cfg := s.cfg
	lim := s.limiter
	s.mu.Unlock()

	channel := j.to.Name()
	maxAttempts := 1 + cfg.RetryMax

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := lim.Wait(ctx); err != nil {
			return
		}
		callCtx, cancel := context.WithTimeout(ctx, cfg.SendTimeout)
		err := j.to.Deliver(callCtx, j.msg)
		cancel()
		if err == nil {
			metrics.RecordNotification(channel, "sent")
			s.publish(eventbus.NotificationSent, channel, j, nil)
			return
		}
		lastErr = err
		s.log.Debug("notification send failed", logx.String("channel", channel), logx.Int("attempt", attempt), logx.Int("max", maxAttempts), logx.Err(err))
		if attempt >= maxAttempts {
			break
		}

		t := time.NewTimer(retryDelay(cfg, attempt))
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return
		}
	}

	metrics.RecordNotification(channel, "failed")
	s.log.Warn("notification failed", logx.String("channel", channel), logx.String("alarm_id", j.msg.AlarmID), logx.Err(lastErr))
	s.publish(eventbus.NotificationFailed, channel, j, lastErr)
}

func (s *Service) publish(typ, channel string, j job, err error) {
	if s.bus == nil {
		return
	}
	ev := DeliveryEvent{Channel: channel, AlarmID: j.msg.AlarmID, Key: j.key, At: time.Now()}
	if err != nil {
		ev.Error = err.Error()
	}
	s.bus.Publish(eventbus.Event{Type: typ, Time: ev.At, Data: ev})
}

// dedupKey identifies one firing of one alarm on one channel.
func dedupKey(channel string, m Message) string {
	return channel + "|" + m.AlarmID + "|" + m.NextFireTime
}

func (s *Service) dedupAllow(ctx context.Context, key string, window time.Duration, maxEntries int, st DedupStore) bool {
	now := time.Now()

	s.dmu.Lock()
	if until, ok := s.dedup[key]; ok && now.Before(until) {
		s.dmu.Unlock()
		return false
	}
	s.dmu.Unlock()

	if st != nil {
		cctx, cancel := context.WithTimeout(ctx, 250*time.Millisecond)
		until, ok, err := st.GetDedup(cctx, key)
		cancel()
		if err == nil && ok && now.Before(until) {
			s.dmu.Lock()
			s.dedup[key] = until
			s.dmu.Unlock()
			return false
		}
	}

	until := now.Add(window)
	s.dmu.Lock()
	s.dedup[key] = until
	for k, u := range s.dedup {
		if !now.Before(u) {
			delete(s.dedup, k)
		}
	}
	for len(s.dedup) > maxEntries {
		var (
			oldest  string
			oldestT time.Time
		)
		for k, u := range s.dedup {
			if oldest == "" || u.Before(oldestT) {
				oldest, oldestT = k, u
			}
		}
		delete(s.dedup, oldest)
	}
	s.dmu.Unlock()

	if st != nil {
		cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 250*time.Millisecond)
		if err := st.PutDedup(cctx, key, until); err != nil {
			s.log.Debug("persist dedup failed", logx.String("key", key), logx.Err(err))
		}
		cancel()
	}
	return true
}

// retryDelay is the wait before attempt+1: base * 2^(attempt-1) with 0.7..1.3 jitter.
func retryDelay(cfg Config, attempt int) time.Duration {
	d := cfg.RetryBase
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= cfg.RetryMaxDelay {
			d = cfg.RetryMaxDelay
			break
		}
	}
	d = time.Duration(float64(d) * (0.7 + rand.Float64()*0.6))
	if d > cfg.RetryMaxDelay {
		d = cfg.RetryMaxDelay
	}
	if d < 0 {
		return 0
	}
	return d
}
