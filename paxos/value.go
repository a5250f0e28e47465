// Package paxos implements the per-instance Paxos state machines at the
// heart of the system: the acceptor-instance promise/vote rules (spec
// §4.1), the windowed acceptor store (§4.2), and the proposer-instance
// bookkeeping consumed by the proposer engine (§4.4). It is grounded on
// the teacher's paxos/acceptor.go state-machine shape (a struct holding an
// embedded current-state component, transitioned via nextState) and
// txnengine/ballot.go's ballot/vote data modelling.
package paxos

import (
	"fmt"

	"ringpaxos.io/server"
	"ringpaxos.io/server/guid"
)

// InstanceId identifies one consensus decision, dense from 0 within an
// epoch (spec §3).
type InstanceId uint64

// BallotId is the proposer-assigned ballot number; 0 is never valid
// (spec §3).
type BallotId uint32

// InvalidBallot is the reserved "no ballot" sentinel.
const InvalidBallot BallotId = 0

// Epoch identifies a master incarnation (spec §3); it is just a GUID but
// given its own name so call sites read clearly.
type Epoch = guid.GUID

// Value is the opaque payload proposers submit: a producer-assigned id
// plus up to MaxValueSize bytes (spec §3). Two values with the same Id are
// assumed to carry the same Data, which is what lets the ring voter
// de-duplicate on Id alone.
type Value struct {
	Id   guid.GUID
	Data []byte
}

// Empty reports whether v is the zero value (never voted).
func (v Value) Empty() bool {
	return v.Id.Empty()
}

// Validate enforces the spec §3 size bound. Called at the ingest boundary,
// not on every internal pass-through, per spec §7 ("only validate at
// system boundaries").
func (v Value) Validate() error {
	if len(v.Data) > server.MaxValueSize {
		return fmt.Errorf("paxos: value %v has %d bytes, exceeds limit %d", v.Id, len(v.Data), server.MaxValueSize)
	}
	return nil
}

func (v Value) String() string {
	if v.Empty() {
		return "<empty-value>"
	}
	return fmt.Sprintf("Value{%v, %d bytes}", v.Id, len(v.Data))
}

// BallotGenerator hands out strictly increasing ballots owned by one host,
// of the form 1 + hostId + k*N (spec §3, §4.4). Ballots issued by distinct
// hosts never collide, and repeated calls after a rejection produce a
// strictly greater ballot than any previously issued by this host.
type BallotGenerator struct {
	hostId uint64
	n      uint64
	last   BallotId
}

// NewBallotGenerator constructs a generator for a host at index hostId
// within a group of n acceptors.
func NewBallotGenerator(hostId, n uint64) *BallotGenerator {
	return &BallotGenerator{hostId: hostId, n: n}
}

// First returns this host's first ballot, 1+hostId.
func (g *BallotGenerator) First() BallotId {
	b := BallotId(1 + g.hostId)
	if b > g.last {
		g.last = b
	}
	return b
}

// Next returns a ballot strictly greater than both the previously issued
// ballot and lastPromised (the value an acceptor rejected us with), still
// congruent to 1+hostId mod n (spec §4.4 "Ballot generator").
func (g *BallotGenerator) Next(lastPromised BallotId) BallotId {
	floor := g.last
	if BallotId(lastPromised) > floor {
		floor = lastPromised
	}
	k := (uint64(floor) - (1 + g.hostId)) / g.n
	next := BallotId(1 + g.hostId + (k+1)*g.n)
	g.last = next
	return next
}

// OwnedBy reports whether ballot belongs to hostId within a group of n,
// i.e. ballot mod n == (1+hostId) mod n (spec §8 invariant 4).
func OwnedBy(ballot BallotId, hostId, n uint64) bool {
	return uint64(ballot)%n == (1+hostId)%n
}
