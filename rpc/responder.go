package rpc

import (
	"github.com/go-kit/kit/log"

	"ringpaxos.io/server/guid"
	"ringpaxos.io/server/paxos"
	"ringpaxos.io/server/ring"
	"ringpaxos.io/server/wire"
)

// AcceptorStore is the subset of paxos.Store the responder's Phase-1
// handlers need.
type AcceptorStore interface {
	Epoch() paxos.Epoch
	NextBallot(id paxos.InstanceId, b paxos.BallotId) (result paxos.Result, ok bool, lastVotedBallot paxos.BallotId, lastVotedValue paxos.Value, currentPromise paxos.BallotId)
	LowestInstanceId() paxos.InstanceId
}

// VoteHandler receives Phase-2 multicasts and forwarded votes, satisfied
// by ring.Voter.
type VoteHandler interface {
	HandlePhase2(epoch paxos.Epoch, ringId uint32, instance paxos.InstanceId, ballot paxos.BallotId, value paxos.Value)
	HandleVote(vote paxos.Vote)
	HandleCommits(commits []ring.CommitRecord)
}

// Responder is the acceptor/master-side dispatch loop (spec §6): it
// listens on sock, decodes each datagram's Envelope, routes the body to
// the matching handler, and — for request/reply message kinds — unicasts
// a reply back to the sender (spec §4.9 "Responder... echoes the request
// GUID into the reply").
type Responder struct {
	self  int
	sock  Socket
	store AcceptorStore
	voter VoteHandler

	holders  []ring.Holder
	notifier *ring.ChangeNotifier

	ringSnapshot *ring.Snapshot

	// onMasterVote is invoked instead of voter.HandleVote when self is the
	// ring master and a vote has completed its full lap (spec §4.3 "The
	// last acceptor forwards the vote to the master... whose receipt is
	// the single ack the proposer awaits").
	onMasterVote func(instance paxos.InstanceId, ballot paxos.BallotId, valueId guid.GUID)

	logger log.Logger

	stop chan struct{}
	done chan struct{}
}

// NewResponder constructs a Responder for host self.
func NewResponder(self int, sock Socket, store AcceptorStore, voter VoteHandler, holders []ring.Holder, notifier *ring.ChangeNotifier, ringSnapshot *ring.Snapshot, logger log.Logger) *Responder {
	return &Responder{
		self:         self,
		sock:         sock,
		store:        store,
		voter:        voter,
		holders:      holders,
		notifier:     notifier,
		ringSnapshot: ringSnapshot,
		logger:       logger,
		stop:         make(chan struct{}),
		done:         make(chan struct{}),
	}
}

// OnMasterVote registers the callback fired when a completed vote returns
// to this host acting as ring master (typically proposer.Engine.OnVote).
func (r *Responder) OnMasterVote(f func(instance paxos.InstanceId, ballot paxos.BallotId, valueId guid.GUID)) {
	r.onMasterVote = f
}

// Start launches the read loop.
func (r *Responder) Start() { go r.readLoop() }

// Stop closes the socket, unblocking the read loop.
func (r *Responder) Stop() {
	close(r.stop)
	r.sock.Close()
	<-r.done
}

func (r *Responder) readLoop() {
	defer close(r.done)
	buf := make([]byte, wire.MaxDatagramSize)
	for {
		n, addr, err := r.sock.ReadFrom(buf)
		if err != nil {
			select {
			case <-r.stop:
				return
			default:
				continue
			}
		}
		datagram := make([]byte, n)
		copy(datagram, buf[:n])
		// Handled inline, not in a spawned goroutine: r.store and r.voter
		// are single-actor types with no internal locking, so dispatch must
		// stay serialized on this one loop (spec §5 shared-resource policy).
		r.handle(datagram, addr)
	}
}

func (r *Responder) handle(data []byte, addr string) {
	d := wire.NewDecoder(data)
	env, err := wire.DecodeHeader(d)
	if err != nil {
		if r.logger != nil {
			r.logger.Log("msg", "rpc: malformed datagram", "from", addr, "error", err)
		}
		return
	}
	body := data[d.Pos():]

	switch env.Type {
	case wire.TypePing:
		r.handlePing(env, body, addr)
	case wire.TypeSetRing:
		r.handleSetRing(env, body, addr)
	case wire.TypeBatchPhase1Request:
		r.handleBatchPhase1(env, body, addr)
	case wire.TypePhase1Request:
		r.handlePhase1(env, body, addr)
	case wire.TypePhase2Request:
		r.handlePhase2(body)
	case wire.TypeVote:
		r.handleVote(env, body)
	default:
		if r.logger != nil {
			r.logger.Log("msg", "rpc: unhandled message type", "type", env.Type.String(), "from", addr)
		}
	}
}

func (r *Responder) reply(id guid.GUID, typ wire.Type, body []byte, addr string) {
	e := wire.NewEncoder(guid.Len + 1 + len(body))
	wire.Envelope{RequestId: id, Type: typ}.EncodeHeader(e)
	buf, err := e.Bytes()
	if err != nil {
		if r.logger != nil {
			r.logger.Log("msg", "rpc: failed to encode reply", "type", typ.String(), "error", err)
		}
		return
	}
	buf = append(buf, body...)
	if err := r.sock.WriteTo(buf, addr); err != nil && r.logger != nil {
		r.logger.Log("msg", "rpc: failed to send reply", "type", typ.String(), "to", addr, "error", err)
	}
}

// handlePing answers a ping with an identical echo (spec §4.5 "every
// acceptor pongs"); the sender's own RecordSend/RecordPong bookkeeping
// happens where the ping is issued, not here.
func (r *Responder) handlePing(env wire.Envelope, body []byte, addr string) {
	r.reply(env.RequestId, wire.TypePing, body, addr)
}

func (r *Responder) handleSetRing(env wire.Envelope, body []byte, addr string) {
	sr, err := decodeSetRing(wire.NewDecoder(body))
	if err != nil {
		return
	}
	cfg := &ring.Configuration{RingId: sr.RingId, HostIds: sr.HostIds, Epoch: sr.GroupGuid}
	for _, h := range r.holders {
		h.ResetRingConfiguration(cfg)
	}
	if r.notifier != nil {
		r.notifier.Publish(cfg)
	}
	r.reply(env.RequestId, wire.TypeSetRing, nil, addr)
}

func (r *Responder) handleBatchPhase1(env wire.Envelope, body []byte, addr string) {
	req, err := decodeBatchPhase1Request(wire.NewDecoder(body))
	if err != nil {
		return
	}
	if req.Epoch != r.store.Epoch() {
		r.reply(env.RequestId, wire.TypeBatchPhase1Reply, mustEncode(BatchPhase1Reply{TooLow: true, RetryIid: r.store.LowestInstanceId()}), addr)
		return
	}

	var reserved []paxos.InstanceId
	for id := req.StartIid; id < req.EndIid; id++ {
		result, ok, _, lastVotedValue, _ := r.store.NextBallot(id, req.Ballot)
		if result == paxos.ResultRefused || !ok {
			r.reply(env.RequestId, wire.TypeBatchPhase1Reply, mustEncode(BatchPhase1Reply{TooLow: true, RetryIid: r.store.LowestInstanceId()}), addr)
			return
		}
		if !lastVotedValue.Id.Empty() {
			reserved = append(reserved, id)
		}
	}
	r.reply(env.RequestId, wire.TypeBatchPhase1Reply, mustEncode(BatchPhase1Reply{Reserved: reserved}), addr)
}

func (r *Responder) handlePhase1(env wire.Envelope, body []byte, addr string) {
	req, err := decodePhase1Request(wire.NewDecoder(body))
	if err != nil {
		return
	}
	if req.Epoch != r.store.Epoch() {
		r.reply(env.RequestId, wire.TypePhase1Reply, mustEncode(Phase1Reply{Status: phase1StatusTooLow}), addr)
		return
	}
	result, ok, lastVotedBallot, lastVotedValue, currentPromise := r.store.NextBallot(req.Instance, req.Ballot)
	switch {
	case result == paxos.ResultRefused:
		r.reply(env.RequestId, wire.TypePhase1Reply, mustEncode(Phase1Reply{Status: phase1StatusTooLow, CurrentPromise: currentPromise}), addr)
	case !ok:
		r.reply(env.RequestId, wire.TypePhase1Reply, mustEncode(Phase1Reply{Status: phase1StatusTooLow, CurrentPromise: currentPromise}), addr)
	default:
		r.reply(env.RequestId, wire.TypePhase1Reply, mustEncode(Phase1Reply{Status: phase1StatusOK, LastVotedBallot: lastVotedBallot, LastVotedValue: lastVotedValue}), addr)
	}
}

func (r *Responder) handlePhase2(body []byte) {
	req, err := decodePhase2Request(wire.NewDecoder(body))
	if err != nil || r.voter == nil {
		return
	}
	r.voter.HandlePhase2(req.Epoch, req.RingId, req.Instance, req.Ballot, req.Value)
	if len(req.Commits) == 0 {
		return
	}
	commits := make([]ring.CommitRecord, len(req.Commits))
	for i, c := range req.Commits {
		commits[i] = ring.CommitRecord{Instance: c.Instance, ValueId: c.ValueId}
	}
	r.voter.HandleCommits(commits)
}

func (r *Responder) handleVote(env wire.Envelope, body []byte) {
	v, err := decodeVote(wire.NewDecoder(body))
	if err != nil {
		return
	}
	vote := paxos.Vote{RequestId: env.RequestId, Epoch: v.Epoch, RingId: v.RingId, Instance: v.Instance, Ballot: v.Ballot, ValueId: v.ValueId}

	cfg := r.ringSnapshot.Get()
	if cfg != nil && cfg.RingId == v.RingId && cfg.Master() == r.self && r.onMasterVote != nil {
		r.onMasterVote(v.Instance, v.Ballot, v.ValueId)
		return
	}
	if r.voter != nil {
		r.voter.HandleVote(vote)
	}
}

func mustEncode(b encodable) []byte {
	buf, err := encodeBody(b, 64)
	if err != nil {
		return nil
	}
	return buf
}
