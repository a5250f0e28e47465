// Package cache implements the per-acceptor committed-value cache used to
// answer recovery queries (spec §4.8). It is grounded on the teacher's
// consistenthash/cache.go fixed-size ring-buffer-with-eviction shape,
// generalized from a content-addressed cache to an instance-id-ordered
// one.
package cache

import (
	"ringpaxos.io/server/paxos"
)

// QueryResult is the outcome of a Query call (spec §4.8 "query(epoch,
// id)").
type QueryResult int

const (
	QueryOK QueryResult = iota
	QueryNotYet
	QueryTooOld
	QueryWrongEpoch
)

func (r QueryResult) String() string {
	switch r {
	case QueryOK:
		return "OK"
	case QueryNotYet:
		return "NOT_YET"
	case QueryTooOld:
		return "TOO_OLD"
	case QueryWrongEpoch:
		return "WRONG_EPOCH"
	default:
		return "INVALID"
	}
}

type entry struct {
	instance paxos.InstanceId
	value    paxos.Value
	set      bool
}

// Cache is a fixed-size ordered cache of recently committed values for
// one epoch (spec §4.8). Entries are addressed by instance id modulo the
// cache size; firstNotForgotten tracks the oldest id still guaranteed
// present.
type Cache struct {
	epoch paxos.Epoch
	slots []entry

	firstNotForgotten paxos.InstanceId
	highestSeen       paxos.InstanceId
	any               bool
}

// New constructs a Cache of the given size for epoch.
func New(size int, epoch paxos.Epoch) *Cache {
	return &Cache{epoch: epoch, slots: make([]entry, size)}
}

// ResetEpoch clears every entry and rebases to a new epoch (spec §3
// "Epoch... resets... value cache").
func (c *Cache) ResetEpoch(epoch paxos.Epoch) {
	c.epoch = epoch
	for i := range c.slots {
		c.slots[i] = entry{}
	}
	c.firstNotForgotten = 0
	c.highestSeen = 0
	c.any = false
}

// Put records a committed value at instance, evicting whatever previously
// occupied that slot modulo len(slots) and advancing firstNotForgotten
// past any instance that slot reuse just forgot.
func (c *Cache) Put(instance paxos.InstanceId, value paxos.Value) {
	idx := int(instance) % len(c.slots)
	c.slots[idx] = entry{instance: instance, value: value, set: true}

	if !c.any || instance > c.highestSeen {
		c.highestSeen = instance
		c.any = true
	}

	oldestRetained := paxos.InstanceId(0)
	if uint64(c.highestSeen) >= uint64(len(c.slots)) {
		oldestRetained = c.highestSeen - paxos.InstanceId(len(c.slots)) + 1
	}
	if oldestRetained > c.firstNotForgotten {
		c.firstNotForgotten = oldestRetained
	}
}

// Deliver implements commit.Consumer: the ordered delivery sink calls
// this with each committed instance in order, and the cache simply
// records it the same way Put does.
func (c *Cache) Deliver(instance paxos.InstanceId, value paxos.Value) {
	c.Put(instance, value)
}

// Query answers a recovery request for (epoch, instance) (spec §4.8).
func (c *Cache) Query(epoch paxos.Epoch, instance paxos.InstanceId) (paxos.Value, QueryResult) {
	if epoch != c.epoch {
		return paxos.Value{}, QueryWrongEpoch
	}
	if instance < c.firstNotForgotten {
		return paxos.Value{}, QueryTooOld
	}
	idx := int(instance) % len(c.slots)
	e := c.slots[idx]
	switch {
	case e.set && e.instance == instance:
		return e.value, QueryOK
	case !c.any || instance > c.highestSeen:
		return paxos.Value{}, QueryNotYet
	default:
		// slot reused by a different instance sharing the same modulus
		return paxos.Value{}, QueryTooOld
	}
}
