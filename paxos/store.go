package paxos

import (
	"ringpaxos.io/server/guid"
	"ringpaxos.io/server/metrics"
)

// Result is the outcome of a Store operation (spec §4.2).
type Result int

const (
	ResultOK Result = iota
	ResultNacked
	ResultRefused
)

func (r Result) String() string {
	switch r {
	case ResultOK:
		return "OK"
	case ResultNacked:
		return "NACKED"
	case ResultRefused:
		return "REFUSED"
	default:
		return "INVALID"
	}
}

// Store is a windowed sparse map from InstanceId to Instance, split into
// pending (not yet committed) and committed halves, each independently
// bounded (spec §4.2). It is designed to be owned by a single actor
// goroutine; it does no internal locking.
type Store struct {
	epoch Epoch

	pending   map[InstanceId]*Instance
	committed map[InstanceId]*Instance

	// committedOrder is a FIFO of committed instance ids in commit order,
	// used to evict the oldest committed entry on overflow.
	committedOrder []InstanceId
	orderHead      int

	pendingLimit   int
	committedLimit int

	metrics *metrics.Sink
}

// NewStore constructs an empty store bounded by pendingLimit and
// committedLimit (spec §4.2).
func NewStore(pendingLimit, committedLimit int, m *metrics.Sink) *Store {
	return &Store{
		pending:        make(map[InstanceId]*Instance),
		committed:      make(map[InstanceId]*Instance),
		pendingLimit:   pendingLimit,
		committedLimit: committedLimit,
		metrics:        m,
	}
}

// Epoch returns the epoch this store is currently scoped to.
func (s *Store) Epoch() Epoch { return s.epoch }

// ResetEpoch atomically clears the store and rebases the window, per spec
// §4.2 "Epoch change (master swap)" and §9 Open Question 1 (reset occurs
// strictly on epoch change, never from any other path).
func (s *Store) ResetEpoch(epoch Epoch) {
	s.epoch = epoch
	s.pending = make(map[InstanceId]*Instance)
	s.committed = make(map[InstanceId]*Instance)
	s.committedOrder = nil
	s.orderHead = 0
	if s.metrics != nil {
		s.metrics.AcceptorWindowOccupancy.Set(0)
	}
}

// lookup finds an existing instance (pending or committed) without
// creating one.
func (s *Store) lookup(id InstanceId) *Instance {
	if inst, ok := s.committed[id]; ok {
		return inst
	}
	return s.pending[id]
}

// reserve returns the instance for id, creating a pending entry if needed.
// It returns ResultRefused instead of creating a new pending entry once
// pendingLimit would be exceeded (spec §4.2: "a proposer receiving REFUSED
// knows it must retry after the window advances").
func (s *Store) reserve(id InstanceId) (*Instance, Result) {
	if inst := s.lookup(id); inst != nil {
		return inst, ResultOK
	}
	if len(s.pending) >= s.pendingLimit {
		return nil, ResultRefused
	}
	inst := NewInstance(id, s.metrics)
	s.pending[id] = inst
	if s.metrics != nil {
		s.metrics.AcceptorWindowOccupancy.Set(float64(len(s.pending)))
	}
	return inst, ResultOK
}

// NextBallot runs Phase 1 against instance id (spec §4.1 via §4.2).
func (s *Store) NextBallot(id InstanceId, b BallotId) (result Result, ok bool, lastVotedBallot BallotId, lastVotedValue Value, currentPromise BallotId) {
	inst, result := s.reserve(id)
	if result != ResultOK {
		return result, false, 0, Value{}, 0
	}
	ok, lastVotedBallot, lastVotedValue, currentPromise = inst.NextBallot(b)
	if !ok {
		return ResultNacked, false, lastVotedBallot, lastVotedValue, currentPromise
	}
	return ResultOK, true, lastVotedBallot, lastVotedValue, currentPromise
}

// BeginBallot runs Phase 2 against instance id (spec §4.1 via §4.2).
func (s *Store) BeginBallot(id InstanceId, b BallotId, v Value) (result Result, ok bool, currentPromise BallotId, released *Vote) {
	inst, result := s.reserve(id)
	if result != ResultOK {
		return result, false, 0, nil
	}
	ok, currentPromise, released = inst.BeginBallot(b, v)
	if !ok {
		return ResultNacked, false, currentPromise, nil
	}
	return ResultOK, true, currentPromise, released
}

// Vote runs the ring-voter vote entry point against instance id (spec
// §4.1, §4.3). Unlike NextBallot/BeginBallot, an unknown instance here is
// itself meaningful (the acceptor hasn't heard of this instance at all
// yet); it is still created pending, so the eventual Phase-2 message has
// somewhere to land its value.
func (s *Store) Vote(id InstanceId, v Vote) (result Result, voteResult VoteResult) {
	inst, result := s.reserve(id)
	if result != ResultOK {
		return result, VoteTooLow
	}
	return ResultOK, inst.Vote(v)
}

// Commit marks instance id committed and moves it from pending to
// committed, evicting the oldest committed entry if committedLimit would
// be exceeded (spec §4.2).
func (s *Store) Commit(id InstanceId, valueId guid.GUID) (result Result, ok bool) {
	inst := s.lookup(id)
	if inst == nil {
		return ResultNacked, false
	}
	if !inst.Commit(valueId) {
		return ResultNacked, false
	}
	if _, wasPending := s.pending[id]; wasPending {
		delete(s.pending, id)
		s.committed[id] = inst
		s.committedOrder = append(s.committedOrder, id)
		s.evictCommittedOverflow()
	}
	if s.metrics != nil {
		s.metrics.AcceptorWindowOccupancy.Set(float64(len(s.pending)))
	}
	return ResultOK, true
}

func (s *Store) evictCommittedOverflow() {
	for len(s.committed) > s.committedLimit && s.orderHead < len(s.committedOrder) {
		oldest := s.committedOrder[s.orderHead]
		s.orderHead++
		delete(s.committed, oldest)
	}
	// compact occasionally so committedOrder doesn't grow unbounded
	if s.orderHead > 1024 && s.orderHead*2 > len(s.committedOrder) {
		s.committedOrder = append([]InstanceId(nil), s.committedOrder[s.orderHead:]...)
		s.orderHead = 0
	}
}

// Value returns the (value, ballot) this acceptor has voted for at id,
// whether or not it has been committed yet: a ring-forwarded Vote can
// reach this acceptor confirming a value its own BeginBallot already
// recorded, before the matching Commit call has run.
func (s *Store) Value(id InstanceId) (Value, BallotId, bool) {
	inst := s.lookup(id)
	if inst == nil {
		return Value{}, 0, false
	}
	return inst.Value()
}

// LowestInstanceId returns the smallest id with no committed entry,
// scanning the pending set; used to answer IID_TOO_LOW in the Phase-1
// batcher (spec §4.2, §4.4). Instances are dense from 0, so the lowest
// uncommitted id is the smallest pending id, or (if none are pending) one
// past the highest committed id seen so far.
func (s *Store) LowestInstanceId() InstanceId {
	var lowestPending InstanceId
	havePending := false
	for id := range s.pending {
		if !havePending || id < lowestPending {
			lowestPending = id
			havePending = true
		}
	}
	if havePending {
		return lowestPending
	}
	var highestCommitted InstanceId
	haveCommitted := false
	for id := range s.committed {
		if !haveCommitted || id > highestCommitted {
			highestCommitted = id
			haveCommitted = true
		}
	}
	if haveCommitted {
		return highestCommitted + 1
	}
	return 0
}

// PendingCount and CommittedCount support status/metrics reporting.
func (s *Store) PendingCount() int   { return len(s.pending) }
func (s *Store) CommittedCount() int { return len(s.committed) }
