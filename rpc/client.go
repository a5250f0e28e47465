package rpc

import (
	"fmt"
	"sync"
	"time"

	"ringpaxos.io/server/guid"
	"ringpaxos.io/server/paxos"
	"ringpaxos.io/server/proposer"
	"ringpaxos.io/server/wire"
)

// Client adapts a Requester into the concrete transports the rest of the
// system drives against: ring.VoteSender, ring.SetRingBroadcaster and
// proposer.Transport. Splitting the generic request/reply plumbing
// (Requester) from this per-message-kind encode/decode glue mirrors the
// teacher's network/connectionmanager.go (generic dispatch) plus
// network/protocols.go (per-message codec) split.
type Client struct {
	req            *Requester
	requestTimeout time.Duration
}

// NewClient wraps req. requestTimeout bounds the BatchPhase1 and Phase1
// round trips (Phase2 has no reply to wait on; its own retry timing lives
// in proposer.Engine).
func NewClient(req *Requester, requestTimeout time.Duration) *Client {
	return &Client{req: req, requestTimeout: requestTimeout}
}

// SendVote implements ring.VoteSender: a fire-and-forget unicast, no reply
// expected (spec §4.3 forwards a vote and moves on).
func (c *Client) SendVote(hostId int, v paxos.Vote) error {
	body, err := encodeBody(voteBody{Epoch: v.Epoch, RingId: v.RingId, Instance: v.Instance, Ballot: v.Ballot, ValueId: v.ValueId}, 48)
	if err != nil {
		return err
	}
	addr, ok := c.req.addrs.Address(hostId)
	if !ok {
		return fmt.Errorf("rpc: no address for host %d", hostId)
	}
	return c.req.send(v.RequestId, wire.TypeVote, body, addr)
}

// BroadcastSetRing implements ring.SetRingBroadcaster (spec §4.6
// "WAIT_ACK"): multicasts SetRing to every hostId and waits up to timeout
// for every one of them to ack.
func (c *Client) BroadcastSetRing(epoch paxos.Epoch, ringId uint32, hostIds []int, timeout time.Duration) (map[int]bool, error) {
	body, err := encodeBody(SetRing{GroupGuid: epoch, RingId: ringId, HostIds: hostIds}, 64+4*len(hostIds))
	if err != nil {
		return nil, err
	}

	var mu sync.Mutex
	acked := make(map[int]bool, len(hostIds))
	done := make(chan struct{})
	onReply := func(hostId int, _ []byte) {
		mu.Lock()
		acked[hostId] = true
		mu.Unlock()
	}
	onComplete := func(timedOut bool) { close(done) }

	if _, err := c.req.Multicast(hostIds, wire.TypeSetRing, body, timeout, onReply, onComplete); err != nil {
		return nil, err
	}
	<-done
	mu.Lock()
	defer mu.Unlock()
	return acked, nil
}

// BatchPhase1 implements proposer.Transport (spec §4.4 "Batcher issues
// BatchPhase1Request... to the ring"): multicasts to every acceptor in
// the ring and merges their replies per spec §9 Open Question 2 (any
// IID_TOO_LOW makes the merged result IID_TOO_LOW, but OK replies'
// reserved instances still accumulate).
func (c *Client) BatchPhase1(epoch paxos.Epoch, ringId uint32, ballot paxos.BallotId, lo, hi paxos.InstanceId) (proposer.BatchPhase1Reply, error) {
	hosts := ringHosts(ringId, c.req.addrs)
	if len(hosts) == 0 {
		return proposer.BatchPhase1Reply{}, fmt.Errorf("rpc: no ring hosts known for ring %d", ringId)
	}
	body, err := encodeBody(BatchPhase1Request{Epoch: epoch, RingId: ringId, Ballot: ballot, StartIid: lo, EndIid: hi}, 48)
	if err != nil {
		return proposer.BatchPhase1Reply{}, err
	}

	var mu sync.Mutex
	var replies []BatchPhase1Reply
	done := make(chan struct{})
	onReply := func(_ int, b []byte) {
		r, err := decodeBatchPhase1Reply(wire.NewDecoder(b))
		if err != nil {
			return
		}
		mu.Lock()
		replies = append(replies, r)
		mu.Unlock()
	}
	onComplete := func(timedOut bool) { close(done) }

	if _, err := c.req.Multicast(hosts, wire.TypeBatchPhase1Request, body, c.requestTimeout, onReply, onComplete); err != nil {
		return proposer.BatchPhase1Reply{}, err
	}
	<-done

	mu.Lock()
	defer mu.Unlock()
	if len(replies) == 0 {
		return proposer.BatchPhase1Reply{}, fmt.Errorf("rpc: batch phase1 timed out with no replies")
	}
	return mergeBatchPhase1(replies), nil
}

func mergeBatchPhase1(replies []BatchPhase1Reply) proposer.BatchPhase1Reply {
	var result proposer.BatchPhase1Reply
	seen := make(map[paxos.InstanceId]struct{})
	tooLow := false
	for _, r := range replies {
		if r.TooLow {
			if !tooLow || r.RetryIid < result.RetryIid {
				result.RetryIid = r.RetryIid
			}
			tooLow = true
			continue
		}
		for _, id := range r.Reserved {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			result.Reserved = append(result.Reserved, id)
		}
	}
	result.TooLow = tooLow
	return result
}

// Phase1 implements proposer.Transport (spec §4.4 "Reserved worker runs
// per-instance Phase-1"): multicasts to every ring acceptor, merging
// replies the way a classic Paxos proposer gathers a Phase-1 quorum —
// any BALLOT_TOO_LOW wins (with the highest rejecting promise seen), else
// FORGOTTEN wins, else OK with the highest-ballot previously-voted value
// found, if any.
func (c *Client) Phase1(epoch paxos.Epoch, ringId uint32, instance paxos.InstanceId, ballot paxos.BallotId) (proposer.Phase1Reply, error) {
	hosts := ringHosts(ringId, c.req.addrs)
	if len(hosts) == 0 {
		return proposer.Phase1Reply{}, fmt.Errorf("rpc: no ring hosts known for ring %d", ringId)
	}
	body, err := encodeBody(Phase1Request{Epoch: epoch, RingId: ringId, Instance: instance, Ballot: ballot}, 40)
	if err != nil {
		return proposer.Phase1Reply{}, err
	}

	var mu sync.Mutex
	var replies []Phase1Reply
	done := make(chan struct{})
	onReply := func(_ int, b []byte) {
		r, err := decodePhase1Reply(wire.NewDecoder(b))
		if err != nil {
			return
		}
		mu.Lock()
		replies = append(replies, r)
		mu.Unlock()
	}
	onComplete := func(timedOut bool) { close(done) }

	if _, err := c.req.Multicast(hosts, wire.TypePhase1Request, body, c.requestTimeout, onReply, onComplete); err != nil {
		return proposer.Phase1Reply{}, err
	}
	<-done

	mu.Lock()
	defer mu.Unlock()
	if len(replies) == 0 {
		return proposer.Phase1Reply{}, fmt.Errorf("rpc: phase1 timed out with no replies")
	}
	return mergePhase1(replies), nil
}

func mergePhase1(replies []Phase1Reply) proposer.Phase1Reply {
	var tooLow, forgotten, ok *Phase1Reply
	for i := range replies {
		r := &replies[i]
		switch r.Status {
		case phase1StatusTooLow:
			if tooLow == nil || r.CurrentPromise > tooLow.CurrentPromise {
				tooLow = r
			}
		case phase1StatusForgotten:
			forgotten = r
		case phase1StatusOK:
			if ok == nil || r.LastVotedBallot > ok.LastVotedBallot {
				ok = r
			}
		}
	}
	switch {
	case tooLow != nil:
		return proposer.Phase1Reply{Status: proposer.Phase1TooLow, CurrentPromise: tooLow.CurrentPromise}
	case forgotten != nil:
		return proposer.Phase1Reply{Status: proposer.Phase1Forgotten}
	default:
		return proposer.Phase1Reply{Status: proposer.Phase1OK, LastVotedBallot: ok.LastVotedBallot, LastVotedValue: ok.LastVotedValue}
	}
}

// Phase2 implements proposer.Transport: it multicasts to every ring
// acceptor and returns as soon as the send completes. Completion is
// observed asynchronously when the forwarded vote returns to the master
// (Engine.OnVote), not via this call's reply (spec §4.4 "Phase-2").
func (c *Client) Phase2(epoch paxos.Epoch, ringId uint32, instance paxos.InstanceId, ballot paxos.BallotId, value paxos.Value, commits []proposer.CommitRecord) error {
	wireCommits := make([]phase2Commit, len(commits))
	for i, cr := range commits {
		wireCommits[i] = phase2Commit{Instance: cr.Instance, ValueId: cr.ValueId}
	}
	body, err := encodeBody(Phase2Request{Epoch: epoch, RingId: ringId, Instance: instance, Ballot: ballot, Value: value, Commits: wireCommits}, 64+len(value.Data)+16*len(wireCommits))
	if err != nil {
		return err
	}

	hosts := ringHosts(ringId, c.req.addrs)
	if len(hosts) == 0 {
		return fmt.Errorf("rpc: no ring hosts known for ring %d", ringId)
	}
	for _, hostId := range hosts {
		addr, ok := c.req.addrs.Address(hostId)
		if !ok {
			continue
		}
		if err := c.req.send(guid.New(), wire.TypePhase2Request, body, addr); err != nil {
			return err
		}
	}
	return nil
}

// ringAddressBook exposes the live ring membership an AddressBook alone
// does not carry; ringHosts calls into it when the concrete AddressBook
// implementation also satisfies it (the production one, backed by
// ring.Snapshot, does).
type ringAddressBook interface {
	RingHosts(ringId uint32) []int
}

func ringHosts(ringId uint32, addrs AddressBook) []int {
	if rb, ok := addrs.(ringAddressBook); ok {
		return rb.RingHosts(ringId)
	}
	return nil
}
