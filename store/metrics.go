// SPDX-License-Identifier: Apache-2.0

package store

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// metrics are the store's Prometheus collectors. A nil *metrics records nothing.
type metrics struct {
	commits   prometheus.Counter
	rollbacks prometheus.Counter
	patches   *prometheus.CounterVec
	duration  prometheus.Histogram
}

func newMetrics(reg prometheus.Registerer) (*metrics, error) {
	if reg == nil {
		return nil, nil
	}
	m := &metrics{
		commits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "reconcile_commits_total",
			Help: "Total batches committed to the live store",
		}),
		rollbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "reconcile_rollbacks_total",
			Help: "Total batches rolled back",
		}),
		patches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "reconcile_patches_total",
			Help: "Total patches applied to the live store by operation",
		}, []string{"op"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "reconcile_batch_duration_seconds",
			Help:    "Duration of committed batches in seconds",
			Buckets: prometheus.ExponentialBuckets(0.00001, 4, 10), // 10µs to ~2.6s
		}),
	}
	for _, c := range []prometheus.Collector{m.commits, m.rollbacks, m.patches, m.duration} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *metrics) commit(c Commit, took time.Duration) {
	if m == nil {
		return
	}
	m.commits.Inc()
	m.duration.Observe(took.Seconds())
	for _, p := range c.Patches {
		m.patches.WithLabelValues(p.Op.String()).Inc()
	}
}

func (m *metrics) rollback() {
	if m == nil {
		return
	}
	m.rollbacks.Inc()
}
