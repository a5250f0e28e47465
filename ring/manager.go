package ring

import (
	"math/rand"
	"time"

	"github.com/go-kit/kit/log"

	"ringpaxos.io/server"
	"ringpaxos.io/server/paxos"
	"ringpaxos.io/server/ping"
)

// state is the ring manager's three-state controller (spec §4.6).
type state int

const (
	stateLooking state = iota
	stateWaitAck
	stateOK
)

func (s state) String() string {
	switch s {
	case stateLooking:
		return "LOOKING"
	case stateWaitAck:
		return "WAIT_ACK"
	case stateOK:
		return "OK"
	default:
		return "INVALID"
	}
}

// SetRingBroadcaster multicasts a SetRing and collects unicast acks from
// every participant (spec §4.6 "WAIT_ACK"). acked reports, per hostId in
// hostIds, whether an ack was received before timeout.
type SetRingBroadcaster interface {
	BroadcastSetRing(epoch paxos.Epoch, ringId uint32, hostIds []int, timeout time.Duration) (acked map[int]bool, err error)
}

// Manager is the master-side ring controller (spec §4.6). It is the sole
// writer of every Holder's ring snapshot and the sole consumer of the ping
// tracker's HostDown signal.
type Manager struct {
	self    int
	n       int
	epoch   paxos.Epoch
	tracker *ping.Tracker
	dcOf    DatacenterOf

	broadcaster        SetRingBroadcaster
	okToMissDatacenter bool
	lookupRingRetry    time.Duration
	setRingTimeout     time.Duration

	holders  []Holder
	notifier *ChangeNotifier

	rng     *rand.Rand
	backoff *server.BinaryBackoffEngine
	logger  log.Logger

	current state
	ring    *Configuration

	stop chan struct{}
	done chan struct{}
}

// NewManager constructs a ring Manager for the master host self, running
// over a group of n acceptors.
func NewManager(self, n int, epoch paxos.Epoch, tracker *ping.Tracker, dcOf DatacenterOf, broadcaster SetRingBroadcaster, okToMissDatacenter bool, lookupRingRetry, setRingTimeout time.Duration, holders []Holder, notifier *ChangeNotifier, logger log.Logger) *Manager {
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	min := lookupRingRetry / 20
	if min <= 0 {
		min = time.Millisecond
	}
	return &Manager{
		self:               self,
		n:                  n,
		epoch:              epoch,
		tracker:            tracker,
		dcOf:               dcOf,
		broadcaster:        broadcaster,
		okToMissDatacenter: okToMissDatacenter,
		lookupRingRetry:    lookupRingRetry,
		setRingTimeout:     setRingTimeout,
		holders:            holders,
		notifier:           notifier,
		rng:                rng,
		backoff:            server.NewBinaryBackoffEngine(rng, min, lookupRingRetry),
		logger:             logger,
		current:            stateLooking,
		stop:               make(chan struct{}),
		done:               make(chan struct{}),
	}
}

// Start runs the manager's LOOKING/WAIT_ACK/OK loop on a new goroutine.
func (m *Manager) Start() {
	go m.run()
}

// Stop requests the manager's goroutine to exit and waits for it to do so.
func (m *Manager) Stop() {
	close(m.stop)
	<-m.done
}

func (m *Manager) run() {
	defer close(m.done)
	for {
		select {
		case <-m.stop:
			return
		default:
		}

		switch m.current {
		case stateLooking:
			if !m.look() {
				return
			}
		case stateWaitAck:
			m.waitAck()
		case stateOK:
			if !m.waitForDown() {
				return
			}
		}
	}
}

// look implements the LOOKING state (spec §4.6): invoke the oracle; on
// failure back off (binary, capped at lookupRingRetry) and retry; on
// success pick a fresh random ringId and move to WAIT_ACK. The backoff is
// shrunk by waitAck once a ring is installed.
func (m *Manager) look() bool {
	stats := m.tracker.Snapshot(time.Now())
	hostIds, err := ChooseRing(stats, m.dcOf, m.n, m.okToMissDatacenter)
	if err != nil {
		if m.logger != nil {
			m.logger.Log("msg", "ring oracle failed, retrying", "error", err)
		}
		m.backoff.Advance()
		select {
		case <-m.stop:
			return false
		case <-time.After(m.backoff.Cur):
		}
		return true
	}

	var ringId uint32
	for {
		ringId = m.rng.Uint32()
		if ringId != InvalidRingId && (m.ring == nil || ringId != m.ring.RingId) {
			break
		}
	}

	m.ring = &Configuration{RingId: ringId, HostIds: hostIds, Epoch: m.epoch}
	m.current = stateWaitAck
	return true
}

// waitAck implements the WAIT_ACK state (spec §4.6): multicast SetRing,
// collect acks under setRingTimeout. All present -> install locally and go
// OK; any missing -> back to LOOKING.
func (m *Manager) waitAck() {
	acked, err := m.broadcaster.BroadcastSetRing(m.epoch, m.ring.RingId, m.ring.HostIds, m.setRingTimeout)
	if err != nil {
		if m.logger != nil {
			m.logger.Log("msg", "SetRing broadcast failed", "error", err)
		}
		m.current = stateLooking
		return
	}
	for _, hostId := range m.ring.HostIds {
		if !acked[hostId] {
			if m.logger != nil {
				m.logger.Log("msg", "SetRing ack missing, retrying", "host", hostId, "ringId", m.ring.RingId)
			}
			m.current = stateLooking
			return
		}
	}
	m.backoff.Shrink(0)
	m.install(m.ring)
	m.current = stateOK
}

// waitForDown implements the OK state: block on the host-down event; if
// the downed host is in the current ring, tear it down and return to
// LOOKING; otherwise keep waiting.
func (m *Manager) waitForDown() bool {
	for {
		select {
		case <-m.stop:
			return false
		case <-m.tracker.HostDown():
			downed := m.tracker.DownHosts()
			relevant := false
			for _, hostId := range downed {
				if m.ring.InRing(hostId) {
					relevant = true
					break
				}
			}
			if !relevant {
				continue
			}
			m.install(nil)
			m.current = stateLooking
			return true
		}
	}
}

func (m *Manager) install(cfg *Configuration) {
	for _, h := range m.holders {
		h.ResetRingConfiguration(cfg)
	}
	if m.notifier != nil {
		m.notifier.Publish(cfg)
	}
	if cfg != nil && m.logger != nil {
		server.DebugLog(m.logger, "msg", "ring installed", "ringId", cfg.RingId, "hosts", cfg.HostIds)
	}
}
