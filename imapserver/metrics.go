package imapserver

import (
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/emersion/go-imapsession"
	"github.com/emersion/go-imapsession/mailbox"
)

// Metrics collects server statistics. A nil *Metrics discards everything.
type Metrics struct {
	connections *prometheus.CounterVec
	active      prometheus.Gauge
	commands    *prometheus.HistogramVec
	events      *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		connections: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "imapsession_connection_total",
				Help: "Incoming IMAP connections.",
			},
			[]string{
				"service", // imap, imaps
			},
		),
		active: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "imapsession_connections_active",
				Help: "Currently open IMAP connections.",
			},
		),
		commands: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "imapsession_command_duration_seconds",
				Help:    "IMAP command duration and result in seconds.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.100, 0.5, 1, 5, 10, 20},
			},
			[]string{
				"cmd",
				"result", // ok, no, bad
			},
		),
		events: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "imapsession_mailbox_events_total",
				Help: "Mailbox change events delivered to other sessions.",
			},
			[]string{
				"kind", // append, flags, expunge, deleted
			},
		),
	}
}

func (m *Metrics) connOpened(service string) {
	if m == nil {
		return
	}
	m.connections.WithLabelValues(service).Inc()
	m.active.Inc()
}

func (m *Metrics) connClosed() {
	if m == nil {
		return
	}
	m.active.Dec()
}

func (m *Metrics) observeCommand(name string, result imap.StatusResponseType, d time.Duration) {
	if m == nil {
		return
	}
	m.commands.WithLabelValues(name, strings.ToLower(string(result))).Observe(d.Seconds())
}

// ObserveEvent counts events fanned out by a mailbox registry. It can be used
// as mailbox.Options.OnEvent.
func (m *Metrics) ObserveEvent(kind mailbox.EventKind, n int) {
	if m == nil || n == 0 {
		return
	}
	m.events.WithLabelValues(kind.String()).Add(float64(n))
}
