package paxos

import (
	"ringpaxos.io/server/guid"
	"ringpaxos.io/server/metrics"
)

// VoteResult is the outcome of delivering a ring-forwarded Vote to one
// acceptor's Instance (spec §4.3).
type VoteResult int

const (
	VoteOK VoteResult = iota
	VoteUnknownValue
	VoteTooLow
)

func (r VoteResult) String() string {
	switch r {
	case VoteOK:
		return "OK"
	case VoteUnknownValue:
		return "UNKNOWN_VALUE"
	case VoteTooLow:
		return "TOO_LOW"
	default:
		return "INVALID"
	}
}

// Vote is the message an acceptor unicasts to the next hop around the
// ring once it has voted (spec §4.3). RequestId lets the sender match a
// delayed reply to the request that caused it; it plays no role in the
// acceptor state machine itself.
type Vote struct {
	RequestId guid.GUID
	Epoch     Epoch
	RingId    uint32
	Instance  InstanceId
	Ballot    BallotId
	ValueId   guid.GUID
}

// Instance is one acceptor's local state for a single consensus decision
// (spec §4.1): the highest ballot promised, the last ballot/value voted
// for, whether it has been committed, and at most one Vote stashed while
// waiting for the Phase-2 message that will make sense of it.
type Instance struct {
	id InstanceId

	promise     BallotId
	votedBallot BallotId
	votedValue  Value

	committed        bool
	committedValueId guid.GUID

	stash *Vote

	metrics *metrics.Sink
}

// NewInstance constructs an Instance with no promise yet made.
func NewInstance(id InstanceId, m *metrics.Sink) *Instance {
	return &Instance{id: id, metrics: m}
}

// NextBallot is the Phase-1 promise rule (spec §4.1): b is promised iff
// it strictly exceeds every ballot already promised.
func (inst *Instance) NextBallot(b BallotId) (ok bool, lastVotedBallot BallotId, lastVotedValue Value, currentPromise BallotId) {
	if b <= inst.promise {
		return false, inst.votedBallot, inst.votedValue, inst.promise
	}
	inst.promise = b
	return true, inst.votedBallot, inst.votedValue, inst.promise
}

// BeginBallot is the Phase-2 accept rule (spec §4.1): (b, v) is accepted
// iff b is not below any ballot already promised. If a Vote was stashed
// earlier by Vote and matches the now-accepted (b, v), it is released so
// the caller can forward it immediately.
func (inst *Instance) BeginBallot(b BallotId, v Value) (ok bool, currentPromise BallotId, released *Vote) {
	if b < inst.promise {
		return false, inst.promise, nil
	}
	inst.promise = b
	inst.votedBallot = b
	inst.votedValue = v

	if inst.stash != nil && inst.stash.Ballot == b && inst.stash.ValueId == v.Id {
		released = inst.stash
		inst.stash = nil
	}
	return true, inst.promise, released
}

// Vote processes a ring-forwarded Vote against this acceptor's own record
// (spec §4.3). VoteOK means this acceptor's own BeginBallot already
// accepted the same (ballot, value), so the vote is confirmed and should
// be forwarded on; VoteUnknownValue stashes it, to be released once the
// matching Phase-2 message arrives; VoteTooLow means a higher ballot has
// since superseded it and it is dropped.
func (inst *Instance) Vote(v Vote) VoteResult {
	switch {
	case v.Ballot < inst.promise:
		return VoteTooLow
	case inst.votedBallot == v.Ballot && inst.votedValue.Id == v.ValueId:
		return VoteOK
	default:
		stashed := v
		inst.stash = &stashed
		return VoteUnknownValue
	}
}

// Commit marks the instance committed at valueId, which must match the
// value already voted for (spec §4.1 "commit").
func (inst *Instance) Commit(valueId guid.GUID) bool {
	if inst.votedValue.Id != valueId {
		return false
	}
	inst.committed = true
	inst.committedValueId = valueId
	return true
}

// Value returns the value this instance has voted for, whether or not it
// has been committed yet. A ring-forwarded Vote can reach an acceptor
// whose own BeginBallot already recorded the value but whose Commit call
// (driven by that very Vote) has not run yet, so callers must not require
// committed to be true here.
func (inst *Instance) Value() (Value, BallotId, bool) {
	if inst.votedBallot == InvalidBallot {
		return Value{}, 0, false
	}
	return inst.votedValue, inst.votedBallot, true
}
