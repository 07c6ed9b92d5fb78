// Package metrics declares the Prometheus collectors exported on /metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds the collectors below plus the Go runtime and process
// collectors. It is what Handler serves.
var Registry = prometheus.NewRegistry()

var factory = promauto.With(Registry)

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
}

// Handler serves Registry in the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{Registry: Registry})
}

// Register adds the agent's own collectors to reg, for embedding them in
// another registry.
func Register(reg prometheus.Registerer) error {
	for _, c := range Collectors() {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// Collectors lists the agent's own collectors.
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		TicksTotal, TickDuration, ProbeFailuresTotal, RebootRequired, PendingSeconds,
		DecisionsTotal, DeliveryFailuresTotal, InteractionsTotal, OrchestrationTransitionsTotal,
		Subscribers, WatchdogFailuresTotal, WatchdogRestartsTotal, WatchdogGivingUp,
	}
}

var (
	// TicksTotal counts reminder evaluations by result (ok, error).
	TicksTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "rebootreminder_ticks_total",
		Help: "Reminder evaluations by result",
	}, []string{"result"})

	// TickDuration tracks how long one evaluation takes end to end.
	TickDuration = factory.NewHistogram(prometheus.HistogramOpts{
		Name:    "rebootreminder_tick_duration_seconds",
		Help:    "Reminder evaluation duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~10s
	})

	// ProbeFailuresTotal counts probes that could not be evaluated.
	ProbeFailuresTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "rebootreminder_probe_failures_total",
		Help: "Detection probes that failed or timed out",
	}, []string{"probe"})

	// RebootRequired is 1 while a restart is pending, 0 otherwise.
	RebootRequired = factory.NewGauge(prometheus.GaugeOpts{
		Name: "rebootreminder_reboot_required",
		Help: "Whether a restart is currently pending",
	})

	// PendingSeconds is how long the current requirement has been pending.
	PendingSeconds = factory.NewGauge(prometheus.GaugeOpts{
		Name: "rebootreminder_pending_seconds",
		Help: "Seconds since the pending restart was first detected",
	})

	// DecisionsTotal counts scheduler decisions by action and reason.
	DecisionsTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "rebootreminder_decisions_total",
		Help: "Scheduler decisions by action and reason",
	}, []string{"action", "reason"})

	// DeliveryFailuresTotal counts reminders the presentation layer did not take.
	DeliveryFailuresTotal = factory.NewCounter(prometheus.CounterOpts{
		Name: "rebootreminder_delivery_failures_total",
		Help: "Reminders that could not be delivered and will be retried",
	})

	// InteractionsTotal counts user actions by kind.
	InteractionsTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "rebootreminder_interactions_total",
		Help: "User actions on reminders by kind",
	}, []string{"interaction"})

	// OrchestrationTransitionsTotal counts restart state transitions.
	OrchestrationTransitionsTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "rebootreminder_orchestration_transitions_total",
		Help: "Restart state machine transitions by target state",
	}, []string{"state"})

	// Subscribers is the number of connected presentation clients.
	Subscribers = factory.NewGauge(prometheus.GaugeOpts{
		Name: "rebootreminder_subscribers",
		Help: "Connected presentation clients",
	})

	// WatchdogFailuresTotal counts unhealthy watchdog probes.
	WatchdogFailuresTotal = factory.NewCounter(prometheus.CounterOpts{
		Name: "rebootreminder_watchdog_failures_total",
		Help: "Unhealthy watchdog health checks",
	})

	// WatchdogRestartsTotal counts restart attempts by result.
	WatchdogRestartsTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "rebootreminder_watchdog_restarts_total",
		Help: "Watchdog restart attempts by result",
	}, []string{"result"})

	// WatchdogGivingUp is 1 once the watchdog has exhausted its attempts.
	WatchdogGivingUp = factory.NewGauge(prometheus.GaugeOpts{
		Name: "rebootreminder_watchdog_giving_up",
		Help: "Whether the watchdog has given up restarting the agent",
	})
)
