// Package ring implements the ring configuration, the datacenter-aware
// ring oracle, the ring voter's vote-forwarding chain, and the ring
// manager's LOOKING/WAIT_ACK/OK controller (spec §3 "Ring configuration",
// §4.3, §4.5, §4.6). It is grounded on the teacher's configuration package
// (Topology's Clone/atomic-swap/String conventions) and on
// topologytransmogrifier/topologytransmogrifier.go's versioned
// currentTask controller shape.
package ring

import (
	"fmt"
	"sync/atomic"

	"ringpaxos.io/server/paxos"
)

// InvalidRingId marks "no ring installed".
const InvalidRingId uint32 = 0

// InvalidIndex marks a host not present in a ring.
const InvalidIndex = -1

// Configuration is the immutable ring descriptor (spec §3). HostIds is
// ordered with host 0 (the master) first, followed by the rest of the
// quorum in the order votes should chain through them.
type Configuration struct {
	RingId  uint32
	HostIds []int
	Epoch   paxos.Epoch
}

// Clone returns a deep copy, used when handing a Configuration to a reader
// that must not observe later in-place mutation (none occur today, but the
// teacher's Topology.Clone establishes the convention for any derived
// config type).
func (c *Configuration) Clone() *Configuration {
	if c == nil {
		return nil
	}
	hostIds := make([]int, len(c.HostIds))
	copy(hostIds, c.HostIds)
	return &Configuration{RingId: c.RingId, HostIds: hostIds, Epoch: c.Epoch}
}

// Index returns hostId's position in the ring, or InvalidIndex.
func (c *Configuration) Index(hostId int) int {
	if c == nil {
		return InvalidIndex
	}
	for i, h := range c.HostIds {
		if h == hostId {
			return i
		}
	}
	return InvalidIndex
}

// InRing reports whether hostId appears in the ring.
func (c *Configuration) InRing(hostId int) bool {
	return c.Index(hostId) != InvalidIndex
}

// Mask returns a bitmask of every acceptor in the ring other than self,
// spec §3's "ringMask".
func (c *Configuration) Mask(self int) uint64 {
	if c == nil {
		return 0
	}
	var mask uint64
	for _, h := range c.HostIds {
		if h != self {
			mask |= 1 << uint(h)
		}
	}
	return mask
}

// NextHost returns the hostId immediately after self in the ring, wrapping
// back to the master (spec §3 "nextRingAddress", §4.3 "the last acceptor
// forwards the vote to the master... which wraps to the master's source
// address"). ok is false if self is not in the ring.
func (c *Configuration) NextHost(self int) (hostId int, ok bool) {
	idx := c.Index(self)
	if idx == InvalidIndex {
		return 0, false
	}
	next := (idx + 1) % len(c.HostIds)
	return c.HostIds[next], true
}

// LastHost returns the final hop of the ring (the last acceptor before the
// chain wraps to the master), spec §3 "lastRingAddress".
func (c *Configuration) LastHost() int {
	if c == nil || len(c.HostIds) == 0 {
		return InvalidIndex
	}
	return c.HostIds[len(c.HostIds)-1]
}

// Master returns the ring's host 0, the master/proposer (spec §2).
func (c *Configuration) Master() int {
	if c == nil || len(c.HostIds) == 0 {
		return InvalidIndex
	}
	return c.HostIds[0]
}

// IsFirstAcceptor reports whether hostId is the first acceptor to receive
// a Phase-2 multicast (ringIndex == 1; index 0 is the master sender),
// spec §4.3.
func (c *Configuration) IsFirstAcceptor(hostId int) bool {
	return c.Index(hostId) == 1
}

func (c *Configuration) String() string {
	if c == nil {
		return "<no ring>"
	}
	return fmt.Sprintf("Ring{id: %d, hosts: %v, epoch: %v}", c.RingId, c.HostIds, c.Epoch)
}

// Holder is implemented by every component that consumes a ring snapshot
// (the Phase-1 batcher, Phase-1/Phase-2 handlers, the ring voter) per spec
// §4.6: "Every ring holder consumes RingConfiguration via a shared
// snapshot; all ring-dependent operations stall until a valid ring is
// installed."
type Holder interface {
	// ResetRingConfiguration atomically installs cfg (or nil to tear the
	// ring down pending a rebuild).
	ResetRingConfiguration(cfg *Configuration)
}

// Snapshot is a lock-free single-writer/multi-reader holder of the current
// Configuration, implemented via atomic pointer swap per spec §5 ("Ring
// snapshots are read via atomic pointer swap so readers never block
// writers").
type Snapshot struct {
	ptr atomic.Pointer[Configuration]
}

// NewSnapshot returns an empty Snapshot (no ring installed).
func NewSnapshot() *Snapshot {
	return &Snapshot{}
}

// ResetRingConfiguration installs cfg as the new snapshot (Holder).
func (s *Snapshot) ResetRingConfiguration(cfg *Configuration) {
	s.ptr.Store(cfg)
}

// Get returns the currently installed configuration, or nil.
func (s *Snapshot) Get() *Configuration {
	return s.ptr.Load()
}

// WaitValid blocks on changed (a ChangeNotifier subscription channel)
// until Get returns non-nil, matching spec §4.6's stall-until-installed
// behaviour for ring holders. It returns nil if stop closes first.
func (s *Snapshot) WaitValid(changed <-chan *Configuration, stop <-chan struct{}) *Configuration {
	for {
		if cfg := s.Get(); cfg != nil {
			return cfg
		}
		select {
		case <-changed:
		case <-stop:
			return nil
		}
	}
}
