// Package metrics provides an optional Prometheus-backed recorder for
// the publisher and client packages, grounded on the promauto pattern
// used by wal-adjacent systems in the example pack (see DESIGN.md). The
// core packages depend only on the small Recorder interface here, not
// on Prometheus directly, so library users who don't want the
// dependency can pass nil.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder is the set of counters/gauges the publisher and client
// packages report against, if supplied.
type Recorder interface {
	LogsAppended(n int)
	LogsIgnored(n int)
	GCRemoved(n int)
	BroadcastsSent(n int)
	SnapshotsSent(n int)
	HeartbeatsSent(n int)
	SubscribersActive(n int)
	LastFinishedLogKey(key float64)
}

// Prometheus is a Recorder backed by client_golang collectors.
type Prometheus struct {
	logsAppended       prometheus.Counter
	logsIgnored        prometheus.Counter
	gcRemoved          prometheus.Counter
	broadcastsSent     prometheus.Counter
	snapshotsSent      prometheus.Counter
	heartbeatsSent     prometheus.Counter
	subscribersActive  prometheus.Gauge
	lastFinishedLogKey prometheus.Gauge
}

// NewPrometheus registers a fresh set of collectors under the given
// namespace/subsystem and returns a Recorder backed by them.
func NewPrometheus(registerer prometheus.Registerer, namespace, subsystem string) *Prometheus {
	factory := promauto.With(registerer)
	return &Prometheus{
		logsAppended: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem, Name: "logs_appended_total",
			Help: "Total log records appended to the WAL object.",
		}),
		logsIgnored: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem, Name: "logs_ignored_total",
			Help: "Total incoming logs ignored as already applied.",
		}),
		gcRemoved: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem, Name: "gc_removed_total",
			Help: "Total log records removed by garbage collection.",
		}),
		broadcastsSent: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem, Name: "broadcasts_total",
			Help: "Total log batches broadcast to tracked subscribers; new-tail and hole-log batches count separately.",
		}),
		snapshotsSent: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem, Name: "snapshots_sent_total",
			Help: "Total snapshots sent to subscribers.",
		}),
		heartbeatsSent: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem, Name: "heartbeats_sent_total",
			Help: "Total subscribe/heartbeat requests emitted by a client.",
		}),
		subscribersActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: subsystem, Name: "subscribers_active",
			Help: "Current number of tracked subscribers.",
		}),
		lastFinishedLogKey: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: subsystem, Name: "client_last_finished_log_key",
			Help: "Greatest log key observed by a client so far.",
		}),
	}
}

func (p *Prometheus) LogsAppended(n int)             { p.logsAppended.Add(float64(n)) }
func (p *Prometheus) LogsIgnored(n int)              { p.logsIgnored.Add(float64(n)) }
func (p *Prometheus) GCRemoved(n int)                { p.gcRemoved.Add(float64(n)) }
func (p *Prometheus) BroadcastsSent(n int)           { p.broadcastsSent.Add(float64(n)) }
func (p *Prometheus) SnapshotsSent(n int)            { p.snapshotsSent.Add(float64(n)) }
func (p *Prometheus) HeartbeatsSent(n int)           { p.heartbeatsSent.Add(float64(n)) }
func (p *Prometheus) SubscribersActive(n int)        { p.subscribersActive.Set(float64(n)) }
func (p *Prometheus) LastFinishedLogKey(key float64) { p.lastFinishedLogKey.Set(key) }
