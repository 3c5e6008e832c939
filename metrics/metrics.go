// Package metrics holds the relay's prometheus collectors. Collectors live on
// a private registry so several servers (or tests) can coexist in one process.
// Every method is safe on a nil *Metrics, which lets components run without
// instrumentation.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "chatrelay"

// Label values.
const (
	ReasonDecode   = "decode"
	ReasonProtocol = "protocol"

	ResultAccepted  = "accepted"
	ResultDuplicate = "duplicate"

	ModeBroadcast = "broadcast"
	ModeUnicast   = "unicast"
	ModeDropped   = "dropped"
)

// Metrics groups the relay's collectors.
type Metrics struct {
	registry *prometheus.Registry

	connectionsTotal  prometheus.Counter
	connectionsActive *prometheus.GaugeVec
	sessionsActive    prometheus.Gauge
	framesReceived    prometheus.Counter
	framesInvalid     *prometheus.CounterVec
	loginsTotal       *prometheus.CounterVec
	messagesRouted    *prometheus.CounterVec
}

// New creates the collectors and registers them, together with the Go
// runtime and process collectors, on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		connectionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connections_total",
			Help:      "Connections handed to a lane.",
		}),
		connectionsActive: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections_active",
			Help:      "Open connections per lane.",
		}, []string{"lane"}),
		sessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Logged in sessions.",
		}),
		framesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_received_total",
			Help:      "Complete frames read from clients.",
		}),
		framesInvalid: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_invalid_total",
			Help:      "Frames dropped as malformed.",
		}, []string{"reason"}),
		loginsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "logins_total",
			Help:      "Login attempts by result.",
		}, []string{"result"}),
		messagesRouted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_routed_total",
			Help:      "Chat messages by routing mode.",
		}, []string{"mode"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.connectionsTotal,
		m.connectionsActive,
		m.sessionsActive,
		m.framesReceived,
		m.framesInvalid,
		m.loginsTotal,
		m.messagesRouted,
	)

	return m
}

// Registry exposes the underlying registry, e.g. for tests that gather.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}

	return m.registry
}

// Handler serves the registry in the prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}

	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ConnectionOpened records a connection assigned to lane.
func (m *Metrics) ConnectionOpened(lane int) {
	if m == nil {
		return
	}

	m.connectionsTotal.Inc()
	m.connectionsActive.WithLabelValues(strconv.Itoa(lane)).Inc()
}

// ConnectionClosed records a connection leaving lane.
func (m *Metrics) ConnectionClosed(lane int) {
	if m == nil {
		return
	}

	m.connectionsActive.WithLabelValues(strconv.Itoa(lane)).Dec()
}

// FrameReceived counts a complete inbound frame.
func (m *Metrics) FrameReceived() {
	if m == nil {
		return
	}

	m.framesReceived.Inc()
}

// FrameInvalid counts a dropped frame; reason is ReasonDecode or ReasonProtocol.
func (m *Metrics) FrameInvalid(reason string) {
	if m == nil {
		return
	}

	m.framesInvalid.WithLabelValues(reason).Inc()
}

// Login counts a login attempt; result is ResultAccepted or ResultDuplicate.
func (m *Metrics) Login(result string) {
	if m == nil {
		return
	}

	m.loginsTotal.WithLabelValues(result).Inc()
}

// SessionsActive sets the number of logged in sessions.
func (m *Metrics) SessionsActive(n int) {
	if m == nil {
		return
	}

	m.sessionsActive.Set(float64(n))
}

// MessageRouted counts a chat message; mode is ModeBroadcast, ModeUnicast or ModeDropped.
func (m *Metrics) MessageRouted(mode string) {
	if m == nil {
		return
	}

	m.messagesRouted.WithLabelValues(mode).Inc()
}
