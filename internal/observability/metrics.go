package observability

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mediaswitch/tsswitch/internal/switchengine"
)

// Metrics is the Prometheus-backed implementation of switchengine.Metrics,
// extended with counters for the HLS input and ring-overwrite paths that
// sit outside the Core's own event surface. It is a pure observer: every
// method here is called from switchengine/hlsinput after a decision has
// already been made, never consulted to make one.
type Metrics struct {
	registry *prometheus.Registry

	coreState        *prometheus.GaugeVec
	switchesTotal    *prometheus.CounterVec
	watchdogTimeouts prometheus.Counter
	hlsSegmentsTotal prometheus.Counter
	hlsReloadsTotal  *prometheus.CounterVec
	ringOverwrites   *prometheus.CounterVec
	inputPackets     *prometheus.GaugeVec
}

// New creates and registers the Prometheus collectors tsswitch exposes on
// its metrics server, each bound to a private Registry rather than the
// global default so multiple tsswitch instances in one process never
// collide on metric names.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		coreState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "tsswitch_core_state",
			Help: "Current Core state (1 for the active state label, 0 otherwise).",
		}, []string{"state"}),
		switchesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tsswitch_switches_total",
			Help: "Total number of input switches applied, by strategy.",
		}, []string{"strategy"}),
		watchdogTimeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tsswitch_watchdog_timeouts_total",
			Help: "Total number of watchdog receive-timeout events delivered to the Core.",
		}),
		hlsSegmentsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tsswitch_hls_segments_total",
			Help: "Total number of HLS media segments opened across all HlsInput sessions.",
		}),
		hlsReloadsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tsswitch_hls_reloads_total",
			Help: "Total number of HLS live-playlist reload attempts, by outcome.",
		}, []string{"outcome"}),
		ringOverwrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tsswitch_ring_overwrites_total",
			Help: "Total number of packets dropped by overwrite-oldest policy, by input index.",
		}, []string{"input"}),
		inputPackets: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "tsswitch_input_packets_received",
			Help: "Cumulative packets received by one InputExecutor, sampled at scrape time.",
		}, []string{"input"}),
	}

	registry.MustRegister(
		m.coreState,
		m.switchesTotal,
		m.watchdogTimeouts,
		m.hlsSegmentsTotal,
		m.hlsReloadsTotal,
		m.ringOverwrites,
		m.inputPackets,
	)
	return m
}

// SetCoreState implements switchengine.Metrics.
func (m *Metrics) SetCoreState(s switchengine.CoreState) {
	for _, label := range []string{"stopped", "starting_next", "running", "stopping_previous"} {
		v := 0.0
		if label == s.String() {
			v = 1.0
		}
		m.coreState.WithLabelValues(label).Set(v)
	}
}

// IncSwitch implements switchengine.Metrics.
func (m *Metrics) IncSwitch(strategy switchengine.Strategy) {
	m.switchesTotal.WithLabelValues(strategy.String()).Inc()
}

// IncWatchdogTimeout implements switchengine.Metrics.
func (m *Metrics) IncWatchdogTimeout() {
	m.watchdogTimeouts.Inc()
}

// IncHLSSegment records one HLS segment having been opened.
func (m *Metrics) IncHLSSegment() {
	m.hlsSegmentsTotal.Inc()
}

// IncHLSReload records one live-playlist reload attempt, ok distinguishing
// a successful refresh from a failed one.
func (m *Metrics) IncHLSReload(ok bool) {
	outcome := "ok"
	if !ok {
		outcome = "error"
	}
	m.hlsReloadsTotal.WithLabelValues(outcome).Inc()
}

// IncRingOverwrite records n packets dropped from input index's ring by
// the overwrite-oldest policy.
func (m *Metrics) IncRingOverwrite(index int, n int) {
	label := "none"
	if index >= 0 {
		label = strconv.Itoa(index)
	}
	m.ringOverwrites.WithLabelValues(label).Add(float64(n))
}

// SetInputPackets records index's cumulative received-packet count, sampled
// at scrape time rather than incremented per packet to avoid taking the
// InputExecutor's lock on every single receive.
func (m *Metrics) SetInputPackets(index int, n uint64) {
	m.inputPackets.WithLabelValues(strconv.Itoa(index)).Set(float64(n))
}

// Handler returns the http.Handler tsswitch's metrics server mounts at
// /metrics. updateGauges, if non-nil, runs immediately before each scrape
// so point-in-time gauges (like SetInputPackets) reflect current state.
func (m *Metrics) Handler(updateGauges func()) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if updateGauges != nil {
			updateGauges()
		}
		promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}).ServeHTTP(w, r)
	})
}
