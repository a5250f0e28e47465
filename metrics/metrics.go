// Package metrics is the explicit metrics sink called for by spec §9
// Design Notes ("Global Statistics singleton... model as an explicit
// metrics sink passed to constructors; each statistic is a typed atomic
// counter"), backed by Prometheus the way the teacher's ConnectionManager
// exposes clientConnsGauge/serverConnsGauge (network/connectionmanager.go).
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Sink bundles every counter/gauge/histogram the core publishes. It is
// constructed once per process and passed by reference into every
// component constructor; nothing here is a package-level global.
type Sink struct {
	Phase1Fails       prometheus.Counter
	Phase2Fails       prometheus.Counter
	VoteFails         prometheus.Counter
	UnknownValueVotes prometheus.Counter
	RecoveredVotes    prometheus.Counter

	AcceptorWindowOccupancy prometheus.Gauge
	RingSize                prometheus.Gauge

	PingRTT           prometheus.Histogram
	RecoveryBatchSize prometheus.Histogram

	RPCSent     *prometheus.CounterVec
	RPCTimeouts *prometheus.CounterVec
	RPCReplies  *prometheus.CounterVec
}

// NewSink registers every metric against reg and returns the bundle. Pass
// prometheus.NewRegistry() in production and a fresh registry per test in
// tests, to avoid the global default registry's cross-test collisions.
func NewSink(reg prometheus.Registerer) *Sink {
	s := &Sink{
		Phase1Fails: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ringpaxos", Subsystem: "acceptor", Name: "phase1_fails_total",
			Help: "Phase-1 (nextBallot) requests rejected for an already-higher promise.",
		}),
		Phase2Fails: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ringpaxos", Subsystem: "acceptor", Name: "phase2_fails_total",
			Help: "Phase-2 (beginBallot) requests rejected for a ballot below the current promise.",
		}),
		VoteFails: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ringpaxos", Subsystem: "acceptor", Name: "vote_fails_total",
			Help: "Votes rejected as stale (ballot below the current promise).",
		}),
		UnknownValueVotes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ringpaxos", Subsystem: "acceptor", Name: "unknown_value_votes_total",
			Help: "Votes stashed pending the Phase-2 message carrying their value bytes.",
		}),
		RecoveredVotes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ringpaxos", Subsystem: "acceptor", Name: "recovered_votes_total",
			Help: "Stashed votes released once the matching Phase-2 message arrived.",
		}),
		AcceptorWindowOccupancy: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "ringpaxos", Subsystem: "acceptor", Name: "window_occupancy",
			Help: "Number of pending (uncommitted) instances currently held by the acceptor store.",
		}),
		RingSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "ringpaxos", Subsystem: "ring", Name: "size",
			Help: "Number of acceptors in the currently installed ring.",
		}),
		PingRTT: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "ringpaxos", Subsystem: "ping", Name: "rtt_seconds",
			Help:    "Observed ping round-trip time to remote hosts.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
		}),
		RecoveryBatchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "ringpaxos", Subsystem: "recovery", Name: "batch_size",
			Help:    "Number of instance ids recovered per BatchRecovery round trip.",
			Buckets: prometheus.LinearBuckets(0, 500, 13),
		}),
		RPCSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ringpaxos", Subsystem: "rpc", Name: "sent_total",
			Help: "RPC requests sent, by message type.",
		}, []string{"type"}),
		RPCTimeouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ringpaxos", Subsystem: "rpc", Name: "timeouts_total",
			Help: "RPC requests that reached their timeout without the expected replies.",
		}, []string{"type"}),
		RPCReplies: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ringpaxos", Subsystem: "rpc", Name: "replies_total",
			Help: "RPC replies received, by message type.",
		}, []string{"type"}),
	}

	for _, c := range []prometheus.Collector{
		s.Phase1Fails, s.Phase2Fails, s.VoteFails, s.UnknownValueVotes, s.RecoveredVotes,
		s.AcceptorWindowOccupancy, s.RingSize, s.PingRTT, s.RecoveryBatchSize,
		s.RPCSent, s.RPCTimeouts, s.RPCReplies,
	} {
		reg.MustRegister(c)
	}
	return s
}

// NewNopSink returns a Sink wired to a private registry, for tests and
// components that don't care about exposing metrics but still need a
// non-nil Sink to construct.
func NewNopSink() *Sink {
	return NewSink(prometheus.NewRegistry())
}
