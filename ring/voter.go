package ring

import (
	"github.com/go-kit/kit/log"

	"ringpaxos.io/server/guid"
	"ringpaxos.io/server/paxos"
)

// VoteSender delivers a single unicast Vote datagram to hostId, abstracting
// over the RPC fabric (spec §4.3: "unicasts it to the next address in the
// ring"). rpc.Client satisfies this.
type VoteSender interface {
	SendVote(hostId int, v paxos.Vote) error
}

// CommitSink receives a locally-decided (instance, value) pair, satisfied
// by commit.Tracker. A Vote reaching an acceptor is that acceptor's own
// proof the instance is decided (spec §4.3/§4.7): unlike classic
// majority-quorum Paxos, Ring Paxos needs no separate commit broadcast —
// voting IS deciding.
type CommitSink interface {
	Push(instance paxos.InstanceId, value paxos.Value)
}

// Voter runs on every acceptor that is in the ring (spec §4.3). It owns a
// reference to the acceptor store and the current ring snapshot; it never
// owns the socket itself (that belongs to the rpc package), only the
// forwarding decision.
type Voter struct {
	self   int
	store  *paxos.Store
	ring   *Snapshot
	sender VoteSender
	commit CommitSink
	logger log.Logger
}

// NewVoter constructs a Voter for host self. commit may be nil, in which
// case locally-decided instances are recorded in store but never handed
// to a learner-side consumer (used by tests that only exercise ring
// forwarding).
func NewVoter(self int, store *paxos.Store, snapshot *Snapshot, sender VoteSender, commit CommitSink, logger log.Logger) *Voter {
	return &Voter{self: self, store: store, ring: snapshot, sender: sender, commit: commit, logger: logger}
}

// HandlePhase2 processes an incoming Phase-2 multicast (spec §4.3): every
// acceptor runs beginBallot; the first acceptor in the ring additionally
// synthesizes and forwards a Vote. Stale ringId/epoch is silently dropped
// (spec §7 "Protocol stale").
func (v *Voter) HandlePhase2(epoch paxos.Epoch, ringId uint32, instance paxos.InstanceId, ballot paxos.BallotId, value paxos.Value) {
	cfg := v.ring.Get()
	if cfg == nil || cfg.Epoch != epoch || cfg.RingId != ringId {
		return
	}

	result, ok, _, released := v.store.BeginBallot(instance, ballot, value)
	if result != paxos.ResultOK || !ok {
		return
	}

	if released != nil {
		v.decide(instance, value)
		v.forward(cfg, *released)
	}

	if cfg.IsFirstAcceptor(v.self) {
		v.decide(instance, value)
		vote := paxos.Vote{
			RequestId: guid.New(),
			Epoch:     epoch,
			RingId:    ringId,
			Instance:  instance,
			Ballot:    ballot,
			ValueId:   value.Id,
		}
		v.forward(cfg, vote)
	}
}

// HandleVote processes an incoming Vote from the previous hop in the ring
// (spec §4.3). On success it forwards the identical vote onward; on
// VoteUnknownValue the vote has already been stashed by Store.Vote and
// will be released (and forwarded) once the matching Phase-2 message
// arrives; on VoteTooLow or a ring/epoch mismatch it is dropped.
func (v *Voter) HandleVote(vote paxos.Vote) {
	cfg := v.ring.Get()
	if cfg == nil || cfg.RingId != vote.RingId || cfg.Epoch != vote.Epoch {
		return
	}

	result, voteResult := v.store.Vote(vote.Instance, vote)
	if result != paxos.ResultOK {
		return
	}

	switch voteResult {
	case paxos.VoteOK:
		if value, _, ok := v.store.Value(vote.Instance); ok {
			v.decide(vote.Instance, value)
		}
		v.forward(cfg, vote)
	case paxos.VoteUnknownValue:
		// stashed; HandlePhase2's BeginBallot will release and forward it.
	case paxos.VoteTooLow:
		// dropped per spec §4.1 edge-case policy.
	}
}

// CommitRecord is a piggybacked (instance, valueId) pair carried on a
// Phase-2 message (spec §2 data-flow (e)/(f), §4.4, §4.7): the master
// attaches recently-decided instances to outgoing Phase-2 requests so
// every holder's commit state advances without a dedicated broadcast.
type CommitRecord struct {
	Instance paxos.InstanceId
	ValueId  guid.GUID
}

// HandleCommits applies every commit record piggybacked on a Phase-2
// message. A record only advances this acceptor's state if it already
// holds the matching value from its own earlier Phase-2 receipt for that
// instance; one it never voted on is left for TCP recovery instead.
func (v *Voter) HandleCommits(records []CommitRecord) {
	for _, rec := range records {
		value, _, ok := v.store.Value(rec.Instance)
		if !ok || value.Id != rec.ValueId {
			continue
		}
		v.decide(rec.Instance, value)
	}
}

// decide marks instance committed in the local store and, if a
// CommitSink is wired, hands the value to the learner-side delivery path.
func (v *Voter) decide(instance paxos.InstanceId, value paxos.Value) {
	if result, ok := v.store.Commit(instance, value.Id); result != paxos.ResultOK || !ok {
		return
	}
	if v.commit != nil {
		v.commit.Push(instance, value)
	}
}

func (v *Voter) forward(cfg *Configuration, vote paxos.Vote) {
	next, ok := cfg.NextHost(v.self)
	if !ok {
		return
	}
	if err := v.sender.SendVote(next, vote); err != nil && v.logger != nil {
		v.logger.Log("msg", "failed to forward vote", "instance", vote.Instance, "to", next, "error", err)
	}
}
