// Package rpc implements the UDP request/reply fabric (spec §4.9, §6):
// the requester (pending-request map, multicast bitmask tracking,
// timeout timers), the responder (dispatch-by-type, unicast reply), and
// the per-message-kind wire bodies built on the wire package's explicit
// little-endian primitives. It is grounded on the teacher's
// network/protocols.go explicit Set*/Get* codec discipline and
// network/connectionmanager.go's mailbox-per-connection dispatch shape.
package rpc

import (
	"ringpaxos.io/server/guid"
	"ringpaxos.io/server/paxos"
	"ringpaxos.io/server/wire"
)

// encodable is satisfied by every body type's encode method below; encodeBody
// lets callers get straight from a typed body to its wire bytes.
type encodable interface {
	encode(e *wire.Encoder)
}

func encodeBody(b encodable, sizeHint int) ([]byte, error) {
	e := wire.NewEncoder(sizeHint)
	b.encode(e)
	return e.Bytes()
}

// Ping is the PING body (spec §6).
type Ping struct {
	Id        uint64
	SenderNow uint64
}

func (p Ping) encode(e *wire.Encoder) {
	e.PutUint64(p.Id)
	e.PutUint64(p.SenderNow)
}

func decodePing(d *wire.Decoder) (Ping, error) {
	id, err := d.GetUint64()
	if err != nil {
		return Ping{}, err
	}
	now, err := d.GetUint64()
	if err != nil {
		return Ping{}, err
	}
	return Ping{Id: id, SenderNow: now}, nil
}

// SetRing is the SET_RING body (spec §6).
type SetRing struct {
	GroupGuid guid.GUID
	RingId    uint32
	HostIds   []int
}

func (s SetRing) encode(e *wire.Encoder) {
	e.PutGUID(s.GroupGuid)
	e.PutUint32(s.RingId)
	e.PutUint32(uint32(len(s.HostIds)))
	for _, h := range s.HostIds {
		e.PutUint32(uint32(h))
	}
}

func decodeSetRing(d *wire.Decoder) (SetRing, error) {
	groupGuid, err := d.GetGUID()
	if err != nil {
		return SetRing{}, err
	}
	ringId, err := d.GetUint32()
	if err != nil {
		return SetRing{}, err
	}
	n, err := d.GetUint32()
	if err != nil {
		return SetRing{}, err
	}
	hostIds := make([]int, n)
	for i := range hostIds {
		h, err := d.GetUint32()
		if err != nil {
			return SetRing{}, err
		}
		hostIds[i] = int(h)
	}
	return SetRing{GroupGuid: groupGuid, RingId: ringId, HostIds: hostIds}, nil
}

// batchPhase1Status enumerates the PAXOS_BATCH_PHASE1 reply status byte.
type batchPhase1Status uint8

const (
	batchPhase1OK batchPhase1Status = iota
	batchPhase1IidTooLow
)

// BatchPhase1Request is the PAXOS_BATCH_PHASE1 request body (spec §6).
type BatchPhase1Request struct {
	Epoch    paxos.Epoch
	RingId   uint32
	Ballot   paxos.BallotId
	StartIid paxos.InstanceId
	EndIid   paxos.InstanceId
}

func (r BatchPhase1Request) encode(e *wire.Encoder) {
	e.PutGUID(r.Epoch)
	e.PutUint32(r.RingId)
	e.PutUint32(uint32(r.Ballot))
	e.PutUint64(uint64(r.StartIid))
	e.PutUint64(uint64(r.EndIid))
}

func decodeBatchPhase1Request(d *wire.Decoder) (BatchPhase1Request, error) {
	epoch, err := d.GetGUID()
	if err != nil {
		return BatchPhase1Request{}, err
	}
	ringId, err := d.GetUint32()
	if err != nil {
		return BatchPhase1Request{}, err
	}
	ballot, err := d.GetUint32()
	if err != nil {
		return BatchPhase1Request{}, err
	}
	start, err := d.GetUint64()
	if err != nil {
		return BatchPhase1Request{}, err
	}
	end, err := d.GetUint64()
	if err != nil {
		return BatchPhase1Request{}, err
	}
	return BatchPhase1Request{Epoch: epoch, RingId: ringId, Ballot: paxos.BallotId(ballot), StartIid: paxos.InstanceId(start), EndIid: paxos.InstanceId(end)}, nil
}

// BatchPhase1Reply is the PAXOS_BATCH_PHASE1 reply body (spec §6).
type BatchPhase1Reply struct {
	TooLow   bool
	RetryIid paxos.InstanceId
	Reserved []paxos.InstanceId
}

func (r BatchPhase1Reply) encode(e *wire.Encoder) {
	if r.TooLow {
		e.PutUint8(uint8(batchPhase1IidTooLow))
		e.PutUint64(uint64(r.RetryIid))
		return
	}
	e.PutUint8(uint8(batchPhase1OK))
	e.PutUint32(uint32(len(r.Reserved)))
	for _, id := range r.Reserved {
		e.PutUint64(uint64(id))
	}
}

func decodeBatchPhase1Reply(d *wire.Decoder) (BatchPhase1Reply, error) {
	status, err := d.GetUint8()
	if err != nil {
		return BatchPhase1Reply{}, err
	}
	if batchPhase1Status(status) == batchPhase1IidTooLow {
		retry, err := d.GetUint64()
		if err != nil {
			return BatchPhase1Reply{}, err
		}
		return BatchPhase1Reply{TooLow: true, RetryIid: paxos.InstanceId(retry)}, nil
	}
	n, err := d.GetUint32()
	if err != nil {
		return BatchPhase1Reply{}, err
	}
	reserved := make([]paxos.InstanceId, n)
	for i := range reserved {
		id, err := d.GetUint64()
		if err != nil {
			return BatchPhase1Reply{}, err
		}
		reserved[i] = paxos.InstanceId(id)
	}
	return BatchPhase1Reply{Reserved: reserved}, nil
}

// Phase1Request is the PAXOS_PHASE1 request body (spec §6).
type Phase1Request struct {
	Epoch    paxos.Epoch
	RingId   uint32
	Instance paxos.InstanceId
	Ballot   paxos.BallotId
}

func (r Phase1Request) encode(e *wire.Encoder) {
	e.PutGUID(r.Epoch)
	e.PutUint32(r.RingId)
	e.PutUint64(uint64(r.Instance))
	e.PutUint32(uint32(r.Ballot))
}

func decodePhase1Request(d *wire.Decoder) (Phase1Request, error) {
	epoch, err := d.GetGUID()
	if err != nil {
		return Phase1Request{}, err
	}
	ringId, err := d.GetUint32()
	if err != nil {
		return Phase1Request{}, err
	}
	instance, err := d.GetUint64()
	if err != nil {
		return Phase1Request{}, err
	}
	ballot, err := d.GetUint32()
	if err != nil {
		return Phase1Request{}, err
	}
	return Phase1Request{Epoch: epoch, RingId: ringId, Instance: paxos.InstanceId(instance), Ballot: paxos.BallotId(ballot)}, nil
}

type phase1Status uint8

const (
	phase1StatusOK phase1Status = iota
	phase1StatusTooLow
	phase1StatusForgotten
)

// Phase1Reply is the PAXOS_PHASE1 reply body (spec §6).
type Phase1Reply struct {
	Status          phase1Status
	CurrentPromise  paxos.BallotId
	LastVotedBallot paxos.BallotId
	LastVotedValue  paxos.Value
}

func (r Phase1Reply) encode(e *wire.Encoder) {
	e.PutUint8(uint8(r.Status))
	switch r.Status {
	case phase1StatusTooLow:
		e.PutUint32(uint32(r.CurrentPromise))
	case phase1StatusOK:
		e.PutUint32(uint32(r.LastVotedBallot))
		e.PutGUID(r.LastVotedValue.Id)
		e.PutBytes(r.LastVotedValue.Data)
	}
}

func decodePhase1Reply(d *wire.Decoder) (Phase1Reply, error) {
	status, err := d.GetUint8()
	if err != nil {
		return Phase1Reply{}, err
	}
	reply := Phase1Reply{Status: phase1Status(status)}
	switch reply.Status {
	case phase1StatusTooLow:
		promise, err := d.GetUint32()
		if err != nil {
			return Phase1Reply{}, err
		}
		reply.CurrentPromise = paxos.BallotId(promise)
	case phase1StatusOK:
		ballot, err := d.GetUint32()
		if err != nil {
			return Phase1Reply{}, err
		}
		valueId, err := d.GetGUID()
		if err != nil {
			return Phase1Reply{}, err
		}
		data, err := d.GetBytes()
		if err != nil {
			return Phase1Reply{}, err
		}
		reply.LastVotedBallot = paxos.BallotId(ballot)
		reply.LastVotedValue = paxos.Value{Id: valueId, Data: data}
	}
	return reply, nil
}

// phase2Commit is one (instance, valueId) commit record piggybacked on a
// Phase2Request (spec §3 "Commit record").
type phase2Commit struct {
	Instance paxos.InstanceId
	ValueId  guid.GUID
}

// Phase2Request is the PAXOS_PHASE2 body (spec §6). No reply is defined;
// quorum is signalled by a Vote.
type Phase2Request struct {
	Epoch    paxos.Epoch
	RingId   uint32
	Instance paxos.InstanceId
	Ballot   paxos.BallotId
	Value    paxos.Value
	Commits  []phase2Commit
}

func (r Phase2Request) encode(e *wire.Encoder) {
	e.PutGUID(r.Epoch)
	e.PutUint32(r.RingId)
	e.PutUint64(uint64(r.Instance))
	e.PutUint32(uint32(r.Ballot))
	e.PutGUID(r.Value.Id)
	e.PutBytes(r.Value.Data)
	e.PutUint32(uint32(len(r.Commits)))
	for _, c := range r.Commits {
		e.PutUint64(uint64(c.Instance))
		e.PutGUID(c.ValueId)
	}
}

func decodePhase2Request(d *wire.Decoder) (Phase2Request, error) {
	epoch, err := d.GetGUID()
	if err != nil {
		return Phase2Request{}, err
	}
	ringId, err := d.GetUint32()
	if err != nil {
		return Phase2Request{}, err
	}
	instance, err := d.GetUint64()
	if err != nil {
		return Phase2Request{}, err
	}
	ballot, err := d.GetUint32()
	if err != nil {
		return Phase2Request{}, err
	}
	valueId, err := d.GetGUID()
	if err != nil {
		return Phase2Request{}, err
	}
	data, err := d.GetBytes()
	if err != nil {
		return Phase2Request{}, err
	}
	n, err := d.GetUint32()
	if err != nil {
		return Phase2Request{}, err
	}
	commits := make([]phase2Commit, n)
	for i := range commits {
		iid, err := d.GetUint64()
		if err != nil {
			return Phase2Request{}, err
		}
		vid, err := d.GetGUID()
		if err != nil {
			return Phase2Request{}, err
		}
		commits[i] = phase2Commit{Instance: paxos.InstanceId(iid), ValueId: vid}
	}
	return Phase2Request{
		Epoch: epoch, RingId: ringId, Instance: paxos.InstanceId(instance), Ballot: paxos.BallotId(ballot),
		Value: paxos.Value{Id: valueId, Data: data}, Commits: commits,
	}, nil
}

// voteBody is the VOTE body (spec §6): identical to paxos.Vote minus its
// RequestId, which travels in the envelope instead.
type voteBody struct {
	Epoch    paxos.Epoch
	RingId   uint32
	Instance paxos.InstanceId
	Ballot   paxos.BallotId
	ValueId  guid.GUID
}

func (v voteBody) encode(e *wire.Encoder) {
	e.PutGUID(v.Epoch)
	e.PutUint32(v.RingId)
	e.PutUint64(uint64(v.Instance))
	e.PutUint32(uint32(v.Ballot))
	e.PutGUID(v.ValueId)
}

func decodeVote(d *wire.Decoder) (voteBody, error) {
	epoch, err := d.GetGUID()
	if err != nil {
		return voteBody{}, err
	}
	ringId, err := d.GetUint32()
	if err != nil {
		return voteBody{}, err
	}
	instance, err := d.GetUint64()
	if err != nil {
		return voteBody{}, err
	}
	ballot, err := d.GetUint32()
	if err != nil {
		return voteBody{}, err
	}
	valueId, err := d.GetGUID()
	if err != nil {
		return voteBody{}, err
	}
	return voteBody{Epoch: epoch, RingId: ringId, Instance: paxos.InstanceId(instance), Ballot: paxos.BallotId(ballot), ValueId: valueId}, nil
}

// RecoveryRequest is the unicast-UDP RECOVERY request body (spec §6).
type RecoveryRequest struct {
	Epoch    paxos.Epoch
	Instance paxos.InstanceId
}

func (r RecoveryRequest) encode(e *wire.Encoder) {
	e.PutGUID(r.Epoch)
	e.PutUint64(uint64(r.Instance))
}

func decodeRecoveryRequest(d *wire.Decoder) (RecoveryRequest, error) {
	epoch, err := d.GetGUID()
	if err != nil {
		return RecoveryRequest{}, err
	}
	instance, err := d.GetUint64()
	if err != nil {
		return RecoveryRequest{}, err
	}
	return RecoveryRequest{Epoch: epoch, Instance: paxos.InstanceId(instance)}, nil
}

type recoveryStatus uint8

const (
	recoveryStatusOK recoveryStatus = iota
	recoveryStatusNotCommitted
	recoveryStatusForgotten
)

// RecoveryReply is the unicast-UDP RECOVERY reply body (spec §6).
type RecoveryReply struct {
	Status recoveryStatus
	Value  paxos.Value
}

func (r RecoveryReply) encode(e *wire.Encoder) {
	e.PutUint8(uint8(r.Status))
	if r.Status == recoveryStatusOK {
		e.PutGUID(r.Value.Id)
		e.PutBytes(r.Value.Data)
	}
}

func decodeRecoveryReply(d *wire.Decoder) (RecoveryReply, error) {
	status, err := d.GetUint8()
	if err != nil {
		return RecoveryReply{}, err
	}
	reply := RecoveryReply{Status: recoveryStatus(status)}
	if reply.Status == recoveryStatusOK {
		valueId, err := d.GetGUID()
		if err != nil {
			return RecoveryReply{}, err
		}
		data, err := d.GetBytes()
		if err != nil {
			return RecoveryReply{}, err
		}
		reply.Value = paxos.Value{Id: valueId, Data: data}
	}
	return reply, nil
}
