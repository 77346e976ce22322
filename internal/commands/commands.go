// Package commands is the command surface hosts call: every command returns
// the fresh alarm list or a user-facing *Error.
//
// Each mutation is audited (best-effort), counted in metrics, and announced
// on the event bus as alarms.changed.
package commands

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"sebastian/internal/alarm"
	"sebastian/internal/eventbus"
	"sebastian/internal/importer"
	"sebastian/internal/metrics"
	"sebastian/internal/storage"
	logx "sebastian/pkg/logx"
)

// Auditor receives one entry per mutation.
type Auditor interface {
	AppendAudit(ctx context.Context, e storage.AuditEntry) error
}

type Dispatcher struct {
	store *alarm.Store
	audit Auditor
	bus   eventbus.Bus
	log   logx.Logger
}

type Option func(*Dispatcher)

func WithAuditor(a Auditor) Option    { return func(d *Dispatcher) { d.audit = a } }
func WithBus(b eventbus.Bus) Option   { return func(d *Dispatcher) { d.bus = b } }
func WithLogger(l logx.Logger) Option { return func(d *Dispatcher) { d.log = l } }

func New(store *alarm.Store, opts ...Option) *Dispatcher {
	d := &Dispatcher{store: store}
	for _, o := range opts {
		o(d)
	}
	if d.log.IsZero() {
		d.log = logx.Nop()
	}
	d.log = d.log.With(logx.String("comp", "commands"))
	return d
}

// Location is the zone alarms are computed in.
func (d *Dispatcher) Location() *time.Location { return d.store.Location() }

// List returns every alarm sorted by next fire time.
func (d *Dispatcher) List(context.Context) []alarm.Alarm {
	metrics.RecordCommand("list", "ok")
	return d.store.List()
}

func (d *Dispatcher) Create(ctx context.Context, p alarm.Payload) ([]alarm.Alarm, error) {
	var id string
	return d.mutate(ctx, "create", "", p.Title, func(ctx context.Context) error {
		a, err := d.store.Create(ctx, p)
		id = a.ID
		return err
	}, &id)
}

func (d *Dispatcher) Delete(ctx context.Context, id string) ([]alarm.Alarm, error) {
	title := d.titleOf(id)
	return d.mutate(ctx, "delete", id, title, func(ctx context.Context) error {
		return d.store.Delete(ctx, id)
	}, nil)
}

func (d *Dispatcher) UpdateTitle(ctx context.Context, id, title string) ([]alarm.Alarm, error) {
	return d.mutate(ctx, "update_title", id, title, func(ctx context.Context) error {
		return d.store.UpdateTitle(ctx, id, title)
	}, nil)
}

func (d *Dispatcher) Update(ctx context.Context, id string, p alarm.Payload) ([]alarm.Alarm, error) {
	return d.mutate(ctx, "update", id, p.Title, func(ctx context.Context) error {
		return d.store.Update(ctx, id, p)
	}, nil)
}

func (d *Dispatcher) Acknowledge(ctx context.Context, id string) ([]alarm.Alarm, error) {
	title := d.titleOf(id)
	return d.mutate(ctx, "acknowledge", id, title, func(ctx context.Context) error {
		out, err := d.store.Acknowledge(ctx, id)
		metrics.RecordAcknowledgement(out.String())
		d.log.Debug("alarm acknowledged", logx.String("id", id), logx.String("outcome", out.String()))
		return err
	}, nil)
}

// Import adds (or with replace, swaps in) a batch. An empty batch is rejected.
func (d *Dispatcher) Import(ctx context.Context, payloads []alarm.Payload, replace bool) ([]alarm.Alarm, error) {
	action := "import_append"
	if replace {
		action = "import_replace"
	}
	return d.mutate(ctx, action, "", fmt.Sprintf("%d alarms", len(payloads)), func(ctx context.Context) error {
		if len(payloads) == 0 {
			return ErrEmptyImport
		}
		_, err := d.store.ImportMany(ctx, payloads, replace)
		return err
	}, nil)
}

// ImportDocument parses raw with the importer and imports the result.
func (d *Dispatcher) ImportDocument(ctx context.Context, raw []byte, replace bool) ([]alarm.Alarm, error) {
	payloads, err := importer.Parse(raw)
	if err != nil {
		metrics.RecordCommand("import", "invalid")
		return nil, classify(err)
	}
	return d.Import(ctx, payloads, replace)
}

func (d *Dispatcher) titleOf(id string) string {
	if a, ok := d.store.Get(id); ok {
		return a.Title
	}
	return ""
}

// mutate runs fn with panic recovery, then logs, audits, counts and publishes.
// A persistence failure still publishes because the in-memory change stands.
func (d *Dispatcher) mutate(ctx context.Context, action, id, title string, fn func(context.Context) error, idOut *string) (list []alarm.Alarm, err error) {
	start := time.Now()
	err = d.recovered(ctx, action, fn)
	took := time.Since(start)
	if idOut != nil && *idOut != "" {
		id = *idOut
	}

	ce := classify(err)
	result := "ok"
	if ce != nil {
		result = ce.Code
	}
	metrics.RecordCommand(action, result)

	fields := []logx.Field{
		logx.String("cmd", action),
		logx.String("id", id),
		logx.Duration("dur", took),
	}
	if ce != nil {
		d.log.Warn("command failed", append(fields, logx.String("code", ce.Code), logx.Err(err))...)
	} else {
		d.log.Info("command ok", fields...)
	}

	d.appendAudit(ctx, storage.AuditEntry{
		At:      start,
		Action:  action,
		AlarmID: id,
		Title:   title,
		OK:      ce == nil,
		Error:   errStr(err),
		TookMS:  took.Milliseconds(),
	})

	if ce == nil || ce.Code == CodePersistence {
		list = d.store.List()
		stored, ringing := d.store.Counts()
		metrics.RecordStoreSize(stored, ringing)
		if d.bus != nil {
			d.bus.Publish(eventbus.Event{Type: eventbus.AlarmsChanged, Time: time.Now(), Data: list})
		}
	}
	if ce != nil {
		return list, ce
	}
	return list, nil
}

func (d *Dispatcher) recovered(ctx context.Context, action string, fn func(context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("panic recovered", logx.String("cmd", action), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn(ctx)
}

func (d *Dispatcher) appendAudit(ctx context.Context, e storage.AuditEntry) {
	if d.audit == nil {
		return
	}
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
	defer cancel()
	if err := d.audit.AppendAudit(cctx, e); err != nil && !errors.Is(err, storage.ErrDisabled) {
		d.log.Debug("audit append failed", logx.String("cmd", e.Action), logx.Err(err))
	}
}

func errStr(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
