package ping

import (
	"sync"
	"time"
)

// Tracker owns one Stats window per remote acceptor and raises a HostDown
// event whenever any tracked host crosses the no-heartbeat threshold (spec
// §4.5). It holds its maps behind a single mutex, per spec §5's "each
// protected by a single cooperative mutex" shared-resource policy; no
// suspension point is ever reached while the lock is held.
type Tracker struct {
	mu    sync.Mutex
	stats map[int]*Stats

	windowSize         int
	singlePingTimeout  time.Duration
	noHeartbeatTimeout time.Duration

	down     map[int]bool
	hostDown chan struct{}
}

// NewTracker constructs a Tracker for the given window/timeout parameters
// (spec §6 bootstrap scalars).
func NewTracker(windowSize int, singlePingTimeout, noHeartbeatTimeout time.Duration) *Tracker {
	return &Tracker{
		stats:              make(map[int]*Stats),
		windowSize:         windowSize,
		singlePingTimeout:  singlePingTimeout,
		noHeartbeatTimeout: noHeartbeatTimeout,
		down:               make(map[int]bool),
		hostDown:           make(chan struct{}, 1),
	}
}

func (t *Tracker) statsFor(hostId int) *Stats {
	s, ok := t.stats[hostId]
	if !ok {
		s = NewStats(t.windowSize, t.singlePingTimeout, t.noHeartbeatTimeout)
		t.stats[hostId] = s
	}
	return s
}

// RecordSend records a new outgoing ping to hostId.
func (t *Tracker) RecordSend(hostId int, id uint64, sendTime time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.statsFor(hostId).RecordSend(id, sendTime)
}

// RecordPong records a pong from hostId and clears its down mark if the
// host is no longer down. It never signals HostDown: only down transitions
// are signalled (the ring manager reacts only to hosts going away, per
// spec §4.6).
func (t *Tracker) RecordPong(hostId int, id uint64, sendTime, recvTime time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.statsFor(hostId).RecordPong(id, sendTime, recvTime)
	if t.down[hostId] && !t.statsFor(hostId).Down(recvTime) {
		delete(t.down, hostId)
	}
}

// Sweep re-evaluates every tracked host's down state as of now, signalling
// HostDown for any host that has just crossed the threshold.
func (t *Tracker) Sweep(now time.Time) {
	t.mu.Lock()
	var newlyDown bool
	for hostId, s := range t.stats {
		if s.Down(now) && !t.down[hostId] {
			t.down[hostId] = true
			newlyDown = true
		}
	}
	t.mu.Unlock()

	if newlyDown {
		select {
		case t.hostDown <- struct{}{}:
		default:
		}
	}
}

// HostDown is signalled (non-blocking, coalesced) whenever Sweep finds a
// newly-down host. Consumers (the ring manager) drain it and then call
// DownHosts to find out which ones.
func (t *Tracker) HostDown() <-chan struct{} {
	return t.hostDown
}

// DownHosts returns the set of hosts currently considered down.
func (t *Tracker) DownHosts() []int {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]int, 0, len(t.down))
	for hostId, isDown := range t.down {
		if isDown {
			out = append(out, hostId)
		}
	}
	return out
}

// Snapshot returns a read-only copy of every tracked host's stats as of
// now, for the ring oracle to consume (spec §4.5 "Inputs: ping stats
// map").
func (t *Tracker) Snapshot(now time.Time) map[int]HostStat {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[int]HostStat, len(t.stats))
	for hostId, s := range t.stats {
		out[hostId] = HostStat{
			HostId:                  hostId,
			MeanLatency:             s.MeanLatency(),
			PacketLoss:              s.PacketLoss(now),
			MaxReceivedPongSendTime: s.MaxReceivedPongSendTime(),
			Live:                    !s.Down(now),
		}
	}
	return out
}

// HostStat is the immutable snapshot of one host's ping statistics handed
// to the ring oracle.
type HostStat struct {
	HostId                  int
	MeanLatency             time.Duration
	PacketLoss              float64
	MaxReceivedPongSendTime time.Time
	Live                    bool
}
