// Package metrics exposes Prometheus collectors for peer exchanges and instrument
// commands, and serves them over HTTP.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/LivTel/moptop/internal/model"
)

type Metrics struct {
	registry *prometheus.Registry

	peerCommands     *prometheus.CounterVec
	peerDuration     *prometheus.HistogramVec
	commands         *prometheus.CounterVec
	commandDuration  *prometheus.HistogramVec
	sequenceAdvances *prometheus.CounterVec
	aborts           prometheus.Counter
	inProgress       prometheus.Gauge
	reloadPending    prometheus.Gauge
}

// New registers all collectors on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		peerCommands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "moptop_peer_commands_total",
			Help: "Commands sent to C layer peers, by verb, peer index and result.",
		}, []string{"verb", "peer", "result"}),
		peerDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "moptop_peer_command_duration_seconds",
			Help:    "Round trip time of one peer exchange.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 16),
		}, []string{"verb"}),
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "moptop_commands_total",
			Help: "Instrument commands executed, by kind and result.",
		}, []string{"kind", "result"}),
		commandDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "moptop_command_duration_seconds",
			Help:    "Wall time of one instrument command.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 18),
		}, []string{"kind"}),
		sequenceAdvances: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "moptop_sequence_advances_total",
			Help: "Sequence advances issued to lagging peers during reconciliation.",
		}, []string{"peer"}),
		aborts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "moptop_aborts_total",
			Help: "Abort requests that reached an executing command.",
		}),
		inProgress: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "moptop_command_in_progress",
			Help: "1 while a non-interrupt command is executing.",
		}),
		reloadPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "moptop_config_reload_pending",
			Help: "1 when the config file changed and REBOOT REDATUM has not applied it yet.",
		}),
	}
	m.registry.MustRegister(m.peerCommands, m.peerDuration, m.commands, m.commandDuration,
		m.sequenceAdvances, m.aborts, m.inProgress, m.reloadPending)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) ObservePeer(verb string, peerIndex int, result string, d time.Duration) {
	if m == nil {
		return
	}
	m.peerCommands.WithLabelValues(verb, strconv.Itoa(peerIndex), result).Inc()
	m.peerDuration.WithLabelValues(verb).Observe(d.Seconds())
}

func (m *Metrics) ObserveCommand(kind model.CommandKind, res model.AggregateResult, d time.Duration) {
	if m == nil {
		return
	}
	result := "success"
	switch {
	case res.ErrorNum == model.ErrorCodeAborted:
		result = "aborted"
	case !res.Successful:
		result = "failure"
	}
	m.commands.WithLabelValues(string(kind), result).Inc()
	m.commandDuration.WithLabelValues(string(kind)).Observe(d.Seconds())
}

func (m *Metrics) ObserveAdvance(peerIndex int) {
	if m == nil {
		return
	}
	m.sequenceAdvances.WithLabelValues(strconv.Itoa(peerIndex)).Inc()
}

func (m *Metrics) ObserveAbort() {
	if m == nil {
		return
	}
	m.aborts.Inc()
}

func (m *Metrics) SetInProgress(running bool) {
	if m == nil {
		return
	}
	m.inProgress.Set(boolGauge(running))
}

func (m *Metrics) SetReloadPending(pending bool) {
	if m == nil {
		return
	}
	m.reloadPending.Set(boolGauge(pending))
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
