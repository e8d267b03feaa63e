// Package metrics exposes the alert lifecycle as Prometheus metrics. It is
// fed exclusively from the event bus.
package metrics

import (
	"context"
	"net/http"

	"pagerbuddy/internal/eventbus"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors of the server.
type Metrics struct {
	reg *prometheus.Registry

	AlertsTotal       *prometheus.CounterVec
	SuppressedTotal   *prometheus.CounterVec
	DeliveriesTotal   *prometheus.CounterVec
	DeliveryLatency   *prometheus.HistogramVec
	ChannelPauses     *prometheus.CounterVec
	ChannelPausedTime *prometheus.CounterVec
	ResponsesTotal    *prometheus.CounterVec
	ComponentHealthy  *prometheus.GaugeVec
	EventsDropped     prometheus.Counter
}

// New creates a registry with process and Go collectors plus the server
// metrics.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := &Metrics{
		reg: reg,
		AlertsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pagerbuddy_alerts_total",
			Help: "Resolved alert candidates by action.",
		}, []string{"action"}),
		SuppressedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pagerbuddy_alerts_suppressed_total",
			Help: "Suppressed candidates by reason.",
		}, []string{"reason"}),
		DeliveriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pagerbuddy_deliveries_total",
			Help: "Finished delivery jobs by channel, priority and result.",
		}, []string{"channel", "priority", "result"}),
		DeliveryLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pagerbuddy_delivery_latency_seconds",
			Help:    "Time from enqueue to successful send.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12), // 50ms .. ~100s
		}, []string{"channel", "priority"}),
		ChannelPauses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pagerbuddy_channel_pauses_total",
			Help: "Channel-wide pauses by error class.",
		}, []string{"channel", "class"}),
		ChannelPausedTime: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pagerbuddy_channel_paused_seconds_total",
			Help: "Accumulated announced pause time.",
		}, []string{"channel"}),
		ResponsesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pagerbuddy_responses_total",
			Help: "Recorded responses by type.",
		}, []string{"type"}),
		ComponentHealthy: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "pagerbuddy_component_healthy",
			Help: "1 when the source or channel is healthy, 0 otherwise.",
		}, []string{"component"}),
		EventsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pagerbuddy_metrics_events_dropped_total",
			Help: "Events the metrics consumer could not read in time.",
		}),
	}
	reg.MustRegister(
		m.AlertsTotal,
		m.SuppressedTotal,
		m.DeliveriesTotal,
		m.DeliveryLatency,
		m.ChannelPauses,
		m.ChannelPausedTime,
		m.ResponsesTotal,
		m.ComponentHealthy,
		m.EventsDropped,
	)
	return m
}

// Registry is the registry backing Handler.
func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

// QueueLength registers a gauge reading the length of one channel queue.
func (m *Metrics) QueueLength(channel string, length func() int) {
	m.reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name:        "pagerbuddy_delivery_queue_length",
		Help:        "Queued and parked jobs per channel.",
		ConstLabels: prometheus.Labels{"channel": channel},
	}, func() float64 { return float64(length()) }))
}

// Consume counts bus events until ctx ends.
func (m *Metrics) Consume(ctx context.Context, bus eventbus.Bus) {
	ch, unsubscribe := bus.Subscribe(512)
	defer unsubscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			m.Observe(e)
		}
	}
}

// Observe applies one event.
func (m *Metrics) Observe(e eventbus.Event) {
	switch e.Type {
	case eventbus.AlertCreated:
		m.AlertsTotal.WithLabelValues("create").Inc()
	case eventbus.AlertMerged:
		m.AlertsTotal.WithLabelValues("merge").Inc()
	case eventbus.AlertSuppressed:
		m.AlertsTotal.WithLabelValues("suppress").Inc()
		if d, ok := e.Data.(eventbus.AlertEvent); ok {
			m.SuppressedTotal.WithLabelValues(d.Reason).Inc()
		}

	case eventbus.DeliverySent, eventbus.DeliveryFailed, eventbus.DeliveryExpired:
		d, ok := e.Data.(eventbus.DeliveryEvent)
		if !ok {
			return
		}
		result := map[string]string{
			eventbus.DeliverySent:    "sent",
			eventbus.DeliveryFailed:  "failed",
			eventbus.DeliveryExpired: "expired",
		}[e.Type]
		m.DeliveriesTotal.WithLabelValues(d.Channel, d.Priority, result).Inc()
		if e.Type == eventbus.DeliverySent {
			m.DeliveryLatency.WithLabelValues(d.Channel, d.Priority).Observe(d.Latency.Seconds())
		}
	case eventbus.DeliveryPaused:
		if d, ok := e.Data.(eventbus.DeliveryEvent); ok {
			m.ChannelPauses.WithLabelValues(d.Channel, d.Class).Inc()
			m.ChannelPausedTime.WithLabelValues(d.Channel).Add(d.Pause.Seconds())
		}

	case eventbus.ResponseRecorded:
		if d, ok := e.Data.(eventbus.ResponseEvent); ok {
			m.ResponsesTotal.WithLabelValues(d.Type).Inc()
		}
	case eventbus.HealthChanged:
		if d, ok := e.Data.(eventbus.HealthEvent); ok {
			v := 0.0
			if d.Healthy {
				v = 1
			}
			m.ComponentHealthy.WithLabelValues(d.Component).Set(v)
		}
	}
}
