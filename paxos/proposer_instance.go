package paxos

// ProposerState enumerates the proposer-instance state machine (spec
// §4.4): an instance moves from awaiting a Phase-1 reply, to either free
// for a client value or carrying a recovered one, to closed once the
// ring confirms its Phase-2 vote.
type ProposerState int

const (
	ProposerP1Pending ProposerState = iota
	ProposerP1Open
	ProposerP2Pending
	ProposerClosed
)

func (s ProposerState) String() string {
	switch s {
	case ProposerP1Pending:
		return "P1_PENDING"
	case ProposerP1Open:
		return "P1_OPEN"
	case ProposerP2Pending:
		return "P2_PENDING"
	case ProposerClosed:
		return "CLOSED"
	default:
		return "INVALID"
	}
}

// ProposerInstance is the proposer-side bookkeeping for one instance
// (spec §4.4), tracked by paxos.Pool and driven by the proposer engine's
// batcher, reserved worker and client worker.
type ProposerInstance struct {
	InstanceId InstanceId
	State      ProposerState
	Ballot     BallotId
	Value      Value
}

// NewProposerInstance starts a fresh instance with no ballot assigned.
func NewProposerInstance(id InstanceId) *ProposerInstance {
	return &ProposerInstance{InstanceId: id, State: ProposerP1Pending}
}

// ToP1Pending marks the instance awaiting a Phase-1 reply at ballot.
func (p *ProposerInstance) ToP1Pending(ballot BallotId) {
	p.State = ProposerP1Pending
	p.Ballot = ballot
}

// ToP1Open marks the instance Phase-1-complete with no prior voted
// value, free for the client worker to assign any value (spec §4.4
// "Reserved worker... OK with no value").
func (p *ProposerInstance) ToP1Open(ballot BallotId) {
	p.State = ProposerP1Open
	p.Ballot = ballot
}

// ToP2Pending marks the instance ready for Phase 2 carrying a value
// recovered from a prior round that this proposer must re-propose (spec
// §4.4 "Reserved worker... OK with a value").
func (p *ProposerInstance) ToP2Pending(value Value) {
	p.State = ProposerP2Pending
	p.Value = value
}

// ToP2PendingClientValue marks the instance ready for Phase 2 carrying a
// freshly chosen client value (spec §4.4 "Client worker").
func (p *ProposerInstance) ToP2PendingClientValue(value Value) {
	p.State = ProposerP2Pending
	p.Value = value
}

// ToClosed marks the instance done once the ring confirms its vote (spec
// §4.4 "On COMPLETED").
func (p *ProposerInstance) ToClosed() {
	p.State = ProposerClosed
}
