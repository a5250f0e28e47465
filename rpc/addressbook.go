package rpc

import (
	"ringpaxos.io/server/config"
	"ringpaxos.io/server/ring"
)

// GroupAddressBook resolves hostIds to wire addresses from the bootstrap
// group configuration (spec §6 "Bootstrap configuration"), and ring
// membership from the live ring.Snapshot, satisfying both AddressBook and
// the unexported ringAddressBook this package's Client uses.
type GroupAddressBook struct {
	group *config.Group
	ring  *ring.Snapshot

	byAddr map[string]int
}

// NewGroupAddressBook builds the address/hostId maps once from group;
// ring supplies live ring membership for RingHosts.
func NewGroupAddressBook(group *config.Group, ring *ring.Snapshot) *GroupAddressBook {
	byAddr := make(map[string]int, len(group.Hosts))
	for i, h := range group.Hosts {
		byAddr[h.UnicastAddr] = i
	}
	return &GroupAddressBook{group: group, ring: ring, byAddr: byAddr}
}

// Address implements AddressBook.
func (b *GroupAddressBook) Address(hostId int) (string, bool) {
	if hostId < 0 || hostId >= len(b.group.Hosts) {
		return "", false
	}
	return b.group.Hosts[hostId].UnicastAddr, true
}

// HostId implements AddressBook: reverse lookup by the UDP source address
// a reply arrived from.
func (b *GroupAddressBook) HostId(addr string) (int, bool) {
	id, ok := b.byAddr[addr]
	return id, ok
}

// RingHosts implements ringAddressBook: every acceptor in the current
// ring (HostIds[1:] — HostIds[0] is the master, which runs no acceptor
// Store/Voter and never receives a BatchPhase1/Phase1/Phase2 multicast),
// for the multicast requests Client sends.
func (b *GroupAddressBook) RingHosts(ringId uint32) []int {
	cfg := b.ring.Get()
	if cfg == nil || cfg.RingId != ringId || len(cfg.HostIds) < 2 {
		return nil
	}
	return cfg.HostIds[1:]
}
