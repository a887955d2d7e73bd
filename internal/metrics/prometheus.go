package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"bigben/internal/eventbus"
	logx "bigben/pkg/logx"
)

// Manager owns the bot's metrics and keeps them current from the event bus.
type Manager struct {
	namespace       string
	subsystem       string
	reactionBuckets []float64
	constLabels     map[string]string
	registry        *prometheus.Registry

	ticks         prometheus.Counter
	broadcasts    *prometheus.CounterVec
	broadcastTook prometheus.Histogram
	deliveries    *prometheus.CounterVec
	responses     *prometheus.CounterVec
	ledgerErrors  prometheus.Counter
	openMessages  prometheus.Gauge
	reaction      prometheus.Histogram
}

// Reaction times range from a lucky sub-second press to the end of the hour.
var defaultReactionBuckets = []float64{0.5, 1, 2, 5, 10, 30, 60, 300, 900, 3600}

// NewManager builds the metrics on a fresh registry unless one is given.
// Go runtime and process collectors are registered alongside.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:       "bigben",
		subsystem:       "bong",
		reactionBuckets: defaultReactionBuckets,
		constLabels:     map[string]string{},
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.registry == nil {
		m.registry = prometheus.NewRegistry()
		m.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	m.initializeMetrics()
	return m
}

func (m *Manager) initializeMetrics() {
	auto := promauto.With(m.registry)
	labels := prometheus.Labels(m.constLabels)

	m.ticks = auto.NewCounter(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   "clock",
		Name:        "ticks_fired_total",
		Help:        "Hour changes detected by the clock",
		ConstLabels: labels,
	})
	m.broadcasts = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        "broadcasts_total",
		Help:        "Completed broadcasts by trigger source",
		ConstLabels: labels,
	}, []string{"source"})
	m.broadcastTook = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        "broadcast_duration_seconds",
		Help:        "Wall time of one broadcast fan-out",
		Buckets:     prometheus.DefBuckets,
		ConstLabels: labels,
	})
	m.deliveries = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        "deliveries_total",
		Help:        "Per-recipient sends by result",
		ConstLabels: labels,
	}, []string{"result"})
	m.responses = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        "responses_total",
		Help:        "Button presses by outcome",
		ConstLabels: labels,
	}, []string{"outcome"})
	m.ledgerErrors = auto.NewCounter(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        "ledger_errors_total",
		Help:        "Wins that could not be recorded",
		ConstLabels: labels,
	})
	m.openMessages = auto.NewGauge(prometheus.GaugeOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        "open_messages",
		Help:        "Bongs of the current hour nobody has won yet",
		ConstLabels: labels,
	})
	m.reaction = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        "reaction_seconds",
		Help:        "Time from send to the winning press",
		Buckets:     m.reactionBuckets,
		ConstLabels: labels,
	})
}

// Registry returns the registry the metrics live on.
func (m *Manager) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Manager) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Observe updates metrics for one event. Unknown events are ignored.
func (m *Manager) Observe(ev eventbus.Event) {
	switch d := ev.Data.(type) {
	case eventbus.TickFired:
		m.ticks.Inc()
	case eventbus.Broadcast:
		m.broadcasts.WithLabelValues(d.Source).Inc()
		m.broadcastTook.Observe(d.Took.Seconds())
		m.openMessages.Set(float64(d.Open))
	case eventbus.Delivery:
		m.deliveries.WithLabelValues(d.Result).Inc()
	case eventbus.Response:
		m.responses.WithLabelValues(d.Outcome).Inc()
		m.openMessages.Set(float64(d.Open))
		if d.Reaction > 0 {
			m.reaction.Observe(d.Reaction.Seconds())
		}
	case eventbus.LedgerError:
		m.ledgerErrors.Inc()
	}
}

// Run consumes bus events until ctx is done.
func (m *Manager) Run(ctx context.Context, bus eventbus.Bus, log logx.Logger) error {
	ch, unsub := bus.Subscribe(256)
	defer unsub()
	log.Debug("metrics consumer started")
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-ch:
			if !ok {
				return nil
			}
			m.Observe(ev)
		}
	}
}
