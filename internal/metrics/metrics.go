// Package metrics holds the server's Prometheus collectors.
//
// Every method is safe on a nil *Metrics so components can run without a registry
// (tests, tools).
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "cellarena"

type Metrics struct {
	sessionsActive  prometheus.Gauge
	handshakes      *prometheus.CounterVec
	disconnects     *prometheus.CounterVec
	frames          prometheus.Counter
	cellsEaten      prometheus.Counter
	eliminations    prometheus.Counter
	broadcastFrames prometheus.Counter
	broadcastDrops  prometheus.Counter
	acceptLimited   prometheus.Counter
	observers       prometheus.Gauge
}

// New registers the collectors on reg. A nil reg uses prometheus.DefaultRegisterer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &Metrics{
		sessionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Sessions that completed the handshake and have not terminated.",
		}),
		handshakes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "handshakes_total",
			Help:      "Username handshake attempts by result code.",
		}, []string{"result"}),
		disconnects: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "disconnects_total",
			Help:      "Session terminations by reason.",
		}, []string{"reason"}),
		frames: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "movement_frames_total",
			Help:      "Movement frames received from clients.",
		}),
		cellsEaten: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cells_eaten_total",
			Help:      "Cells consumed and respawned.",
		}),
		eliminations: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "eliminations_total",
			Help:      "Players eaten by other players.",
		}),
		broadcastFrames: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "broadcast_frames_total",
			Help:      "Event frames enqueued to client outboxes.",
		}),
		broadcastDrops: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "broadcast_drops_total",
			Help:      "Event frames not enqueued because the recipient outbox was closed or full.",
		}),
		acceptLimited: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "accept_rate_limited_total",
			Help:      "Connections refused by the per-address accept limiter.",
		}),
		observers: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "observers_active",
			Help:      "Connected observer websocket feeds.",
		}),
	}
}

// WorldGauges exposes live world sizes through callbacks evaluated at scrape time.
func WorldGauges(reg prometheus.Registerer, players, connections func() int) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "players",
		Help:      "Players currently in the world.",
	}, func() float64 { return float64(players()) })
	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "connections",
		Help:      "Registered broadcast connections.",
	}, func() float64 { return float64(connections()) })
}

func (m *Metrics) SessionStarted() {
	if m == nil {
		return
	}
	m.sessionsActive.Inc()
}

func (m *Metrics) SessionEnded(reason string) {
	if m == nil {
		return
	}
	m.sessionsActive.Dec()
	m.disconnects.WithLabelValues(reason).Inc()
}

func (m *Metrics) Handshake(result string) {
	if m == nil {
		return
	}
	m.handshakes.WithLabelValues(result).Inc()
}

func (m *Metrics) Frame() {
	if m == nil {
		return
	}
	m.frames.Inc()
}

func (m *Metrics) CellsEaten(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.cellsEaten.Add(float64(n))
}

func (m *Metrics) Elimination() {
	if m == nil {
		return
	}
	m.eliminations.Inc()
}

func (m *Metrics) Broadcast(sent, dropped int) {
	if m == nil {
		return
	}
	if sent > 0 {
		m.broadcastFrames.Add(float64(sent))
	}
	if dropped > 0 {
		m.broadcastDrops.Add(float64(dropped))
	}
}

func (m *Metrics) AcceptLimited() {
	if m == nil {
		return
	}
	m.acceptLimited.Inc()
}

func (m *Metrics) ObserverDelta(d int) {
	if m == nil {
		return
	}
	m.observers.Add(float64(d))
}
