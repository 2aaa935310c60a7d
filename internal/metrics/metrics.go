// Package metrics exposes the bot's Prometheus metrics: inbound verdicts,
// command outcomes and latency, and session lifecycle.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"wabot/internal/bus"
	"wabot/internal/domain"
)

const namespace = "wabot"

// unknownCommandLabel keeps unregistered names out of the label set.
const unknownCommandLabel = "_unknown"

// Metrics owns a private prometheus.Registry.
type Metrics struct {
	registry *prometheus.Registry

	Verdicts         *prometheus.CounterVec
	Commands         *prometheus.CounterVec
	CommandDuration  *prometheus.HistogramVec
	SessionState     *prometheus.GaugeVec
	Reconnects       prometheus.Counter
	CredentialSaves  prometheus.Counter
	OutboundMessages *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		Verdicts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "inbound",
				Name:      "messages_total",
				Help:      "Inbound messages by normalizer verdict",
			},
			[]string{"verdict"},
		),

		Commands: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "commands",
				Name:      "dispatched_total",
				Help:      "Command dispatches by command and outcome",
			},
			[]string{"command", "outcome"},
		),

		CommandDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "commands",
				Name:      "duration_seconds",
				Help:      "Command handler duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"command"},
		),

		SessionState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "session",
				Name:      "state",
				Help:      "1 for the current session state, 0 otherwise",
			},
			[]string{"state"},
		),

		Reconnects: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "session",
				Name:      "reconnects_total",
				Help:      "Scheduled reconnect and startup retry attempts",
			},
		),

		CredentialSaves: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "session",
				Name:      "credential_saves_total",
				Help:      "Credential updates persisted",
			},
		),

		OutboundMessages: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "outbound",
				Name:      "messages_total",
				Help:      "Outbound sends by status",
			},
			[]string{"status"},
		),
	}

	m.registry.MustRegister(
		m.Verdicts,
		m.Commands,
		m.CommandDuration,
		m.SessionState,
		m.Reconnects,
		m.CredentialSaves,
		m.OutboundMessages,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m.RecordSessionState(domain.StateConnecting)
	return m
}

// Registry returns the underlying registry for the HTTP handler and tests.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) ObserveVerdict(verdict string) {
	m.Verdicts.WithLabelValues(verdict).Inc()
}

// ObserveCommand implements command.Recorder.
func (m *Metrics) ObserveCommand(name, outcome string, d time.Duration) {
	if outcome == "unknown" {
		name = unknownCommandLabel
	}
	m.Commands.WithLabelValues(name, outcome).Inc()
	if outcome != "unknown" {
		m.CommandDuration.WithLabelValues(name).Observe(d.Seconds())
	}
}

func (m *Metrics) ObserveSend(err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.OutboundMessages.WithLabelValues(status).Inc()
}

func (m *Metrics) RecordSessionState(s domain.SessionState) {
	for _, st := range []domain.SessionState{
		domain.StateConnecting, domain.StateOpen, domain.StateClosedRecoverable, domain.StateClosedTerminal,
	} {
		v := 0.0
		if st == s {
			v = 1
		}
		m.SessionState.WithLabelValues(st.String()).Set(v)
	}
}

// Subscribe feeds session lifecycle events from eb into the gauges and
// counters.
func (m *Metrics) Subscribe(eb *bus.EventBus) {
	eb.On(bus.EventSessionState, func(e bus.Event) {
		if s, ok := e.Payload["state"].(domain.SessionState); ok {
			m.RecordSessionState(s)
		}
	})
	eb.On(bus.EventReconnectScheduled, func(bus.Event) { m.Reconnects.Inc() })
	eb.On(bus.EventCredentialsSaved, func(bus.Event) { m.CredentialSaves.Inc() })
}
