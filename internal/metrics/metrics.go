// Package metrics defines Prometheus metrics for sebastian.
//
// All metrics live in Registry, which the HTTP host serves on /metrics.
//
// Metric naming follows Prometheus conventions:
//   - sebastian_ prefix for all custom metrics
//   - _total suffix for counters
//   - _seconds suffix for duration histograms
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds every sebastian collector plus the Go runtime collectors.
var Registry = prometheus.NewRegistry()

var (
	// AlarmsStored is the number of alarms in the store.
	AlarmsStored = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "sebastian_alarms_stored",
			Help: "Number of alarms currently stored.",
		},
	)

	// AlarmsRinging is the number of alarms fired but not yet acknowledged.
	AlarmsRinging = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "sebastian_alarms_ringing",
			Help: "Number of alarms fired and awaiting acknowledgment.",
		},
	)

	// CommandsTotal counts host commands by name and result.
	CommandsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sebastian_commands_total",
			Help: "Total commands handled by command and result code.",
		},
		[]string{"command", "result"},
	)

	// AlarmsFiredTotal counts armed -> ringing transitions.
	AlarmsFiredTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sebastian_alarms_fired_total",
			Help: "Total alarms detected as due.",
		},
	)

	// AcknowledgementsTotal counts acknowledgments by outcome.
	AcknowledgementsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sebastian_acknowledgements_total",
			Help: "Total acknowledgments by outcome (rearmed, removed, absent).",
		},
		[]string{"outcome"},
	)

	// PersistFailuresTotal counts failed saves by storage driver.
	PersistFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sebastian_persist_failures_total",
			Help: "Total failed alarm collection saves.",
		},
		[]string{"driver"},
	)

	// LoadRecoveriesTotal counts corrupt documents quarantined on load.
	LoadRecoveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sebastian_load_recoveries_total",
			Help: "Total unreadable alarm documents quarantined at load.",
		},
		[]string{"driver"},
	)

	// NotificationsTotal counts delivery attempts by channel and result.
	NotificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sebastian_notifications_total",
			Help: "Total notification deliveries by channel and result.",
		},
		[]string{"channel", "result"},
	)

	// PollDurationSeconds observes how long one due-detection tick takes.
	PollDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sebastian_poll_duration_seconds",
			Help:    "Duration of one due-detection tick in seconds.",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .05, .1, .5, 1},
		},
	)
)

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		AlarmsStored,
		AlarmsRinging,
		CommandsTotal,
		AlarmsFiredTotal,
		AcknowledgementsTotal,
		PersistFailuresTotal,
		LoadRecoveriesTotal,
		NotificationsTotal,
		PollDurationSeconds,
	)
}

// Handler serves Registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// RecordCommand records one handled command.
func RecordCommand(command, result string) {
	CommandsTotal.WithLabelValues(command, result).Inc()
}

// RecordPoll records a due-detection tick.
func RecordPoll(took time.Duration, fired, stored, ringing int) {
	PollDurationSeconds.Observe(took.Seconds())
	AlarmsFiredTotal.Add(float64(fired))
	AlarmsStored.Set(float64(stored))
	AlarmsRinging.Set(float64(ringing))
}

// RecordStoreSize updates the store gauges after a mutation.
func RecordStoreSize(stored, ringing int) {
	AlarmsStored.Set(float64(stored))
	AlarmsRinging.Set(float64(ringing))
}

// RecordAcknowledgement records one acknowledgment outcome.
func RecordAcknowledgement(outcome string) {
	AcknowledgementsTotal.WithLabelValues(outcome).Inc()
}

// RecordPersistFailure records a failed save.
func RecordPersistFailure(driver string) {
	PersistFailuresTotal.WithLabelValues(driver).Inc()
}

// RecordLoadRecovery records a quarantined document.
func RecordLoadRecovery(driver string) {
	LoadRecoveriesTotal.WithLabelValues(driver).Inc()
}

// RecordNotification records one delivery result ("sent", "failed", "dropped", "deduped").
func RecordNotification(channel, result string) {
	NotificationsTotal.WithLabelValues(channel, result).Inc()
}
