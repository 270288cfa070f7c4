// Copyright (c) 2024 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package processor

import (
	"github.com/btcsuite/utxowatch/utxo"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricsNamespace = "utxowatch"
	metricsSubsystem = "processor"
)

// metrics holds the collectors of a processor.  They are always updated and
// only exported when a registerer is configured.
type metrics struct {
	notifications    *prometheus.CounterVec
	discarded        prometheus.Counter
	utxos            prometheus.Gauge
	addresses        prometheus.Gauge
	mature           prometheus.Gauge
	pending          prometheus.Gauge
	daaScore         prometheus.Gauge
	listenerFailures prometheus.Counter
	reconnects       prometheus.Counter
}

func newMetrics(reg prometheus.Registerer) (*metrics, error) {
	opts := func(name, help string) prometheus.Opts {
		return prometheus.Opts{
			Namespace: metricsNamespace,
			Subsystem: metricsSubsystem,
			Name:      name,
			Help:      help,
		}
	}

	m := &metrics{
		notifications: prometheus.NewCounterVec(
			prometheus.CounterOpts(opts("notifications_total",
				"Notifications applied to the index, by type.")),
			[]string{"type"},
		),
		discarded: prometheus.NewCounter(prometheus.CounterOpts(opts(
			"notifications_discarded_total",
			"Notifications dropped while not active."))),
		utxos: prometheus.NewGauge(prometheus.GaugeOpts(opts(
			"utxos", "Unspent outputs currently indexed."))),
		addresses: prometheus.NewGauge(prometheus.GaugeOpts(opts(
			"addresses", "Addresses currently tracked."))),
		mature: prometheus.NewGauge(prometheus.GaugeOpts(opts(
			"mature_balance_sompi", "Aggregate mature balance."))),
		pending: prometheus.NewGauge(prometheus.GaugeOpts(opts(
			"pending_balance_sompi", "Aggregate pending balance."))),
		daaScore: prometheus.NewGauge(prometheus.GaugeOpts(opts(
			"daa_score", "Latest known virtual DAA score."))),
		listenerFailures: prometheus.NewCounter(prometheus.CounterOpts(
			opts("listener_failures_total",
				"Listener invocations that failed."))),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts(opts(
			"reconnects_total", "Successful resyncs after a drop."))),
	}

	if reg == nil {
		return m, nil
	}

	for _, c := range []prometheus.Collector{
		m.notifications, m.discarded, m.utxos, m.addresses, m.mature,
		m.pending, m.daaScore, m.listenerFailures, m.reconnects,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}

	return m, nil
}

// observe refreshes the gauges from the index and tracker.
func (m *metrics) observe(index *utxo.Index, tracker *utxo.Tracker) {
	total := tracker.Total()
	m.utxos.Set(float64(index.Len()))
	m.addresses.Set(float64(len(index.Addresses())))
	m.mature.Set(float64(total.Mature))
	m.pending.Set(float64(total.Pending))
	m.daaScore.Set(float64(tracker.Tip()))
}
