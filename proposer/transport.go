// Package proposer implements the master-side proposer engine (spec
// §4.4): the Phase-1 batcher, the reserved and client workers, and the
// Phase-2 sender with commit-piggyback. It is grounded on the teacher's
// paxos/proposermanager.go dispatch shape (one goroutine-free struct
// reacting to inbound events, owning a map of in-flight per-instance
// state) generalized from distributed transactions to single-value Ring
// Paxos instances.
package proposer

import (
	"fmt"

	"ringpaxos.io/server/guid"
	"ringpaxos.io/server/paxos"
)

// Phase1Status enumerates the outcomes of a single-instance Phase 1 RPC
// (spec §4.4 "Reserved worker").
type Phase1Status int

const (
	Phase1OK Phase1Status = iota
	Phase1TooLow
	Phase1Forgotten
)

func (s Phase1Status) String() string {
	switch s {
	case Phase1OK:
		return "OK"
	case Phase1TooLow:
		return "BALLOT_TOO_LOW"
	case Phase1Forgotten:
		return "FORGOTTEN"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", int(s))
	}
}

// Phase1Reply is the outcome of Transport.Phase1.
type Phase1Reply struct {
	Status          Phase1Status
	CurrentPromise  paxos.BallotId // valid when Status == Phase1TooLow
	LastVotedBallot paxos.BallotId // valid when Status == Phase1OK
	LastVotedValue  paxos.Value    // valid when Status == Phase1OK; empty if nothing was ever voted
}

// BatchPhase1Reply is the outcome of Transport.BatchPhase1 (spec §4.4
// "Batcher"). When TooLow is set the caller fast-forwards to RetryIid;
// otherwise Reserved lists every instance in the requested range for
// which an acceptor reports a prior vote.
type BatchPhase1Reply struct {
	TooLow   bool
	RetryIid paxos.InstanceId
	Reserved []paxos.InstanceId
}

// CommitRecord is a single (instance, valueId) pair queued for piggyback
// on the next Phase-2 message (spec §3 "Commit record", batch cap 10).
type CommitRecord struct {
	Instance paxos.InstanceId
	ValueId  guid.GUID
}

// Transport abstracts the ring RPC fabric the proposer engine drives. The
// rpc package's Client satisfies this; tests substitute a fake.
type Transport interface {
	// BatchPhase1 reserves [lo, hi) at ballot across the ring (spec §4.4).
	BatchPhase1(epoch paxos.Epoch, ringId uint32, ballot paxos.BallotId, lo, hi paxos.InstanceId) (BatchPhase1Reply, error)

	// Phase1 runs a single-instance Phase 1 against instance (spec §4.4
	// "Reserved worker").
	Phase1(epoch paxos.Epoch, ringId uint32, instance paxos.InstanceId, ballot paxos.BallotId) (Phase1Reply, error)

	// Phase2 multicasts a Phase2Request carrying value and the drained
	// commits; completion is signalled asynchronously via Engine.OnVote,
	// not a reply (spec §4.4 "Phase-2").
	Phase2(epoch paxos.Epoch, ringId uint32, instance paxos.InstanceId, ballot paxos.BallotId, value paxos.Value, commits []CommitRecord) error
}

// IngestQueue is the client-value source the client worker drains (spec
// §4.4 "Client worker"). The ingest package's value buffer satisfies
// this.
type IngestQueue interface {
	// PopValue blocks until a client value is available or stop closes,
	// in which case ok is false.
	PopValue(stop <-chan struct{}) (value paxos.Value, ok bool)

	// PushFront returns a value to the head of the queue (spec §4.4
	// "On timeout... the value is pushed back to the ingest queue's
	// head").
	PushFront(value paxos.Value)
}
