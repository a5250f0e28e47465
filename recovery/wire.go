package recovery

import (
	"encoding/binary"
	"fmt"
	"io"

	"ringpaxos.io/server/guid"
	"ringpaxos.io/server/paxos"
	"ringpaxos.io/server/wire"
)

// encodeRequest builds a BatchRecoveryRequest body (spec §6 "TCP recovery
// protocol": "Request: (epoch, instances[])").
func encodeRequest(epoch paxos.Epoch, ids []paxos.InstanceId) []byte {
	e := wire.NewEncoder(guid.Len + 4 + len(ids)*8)
	e.PutGUID(epoch)
	e.PutUint32(uint32(len(ids)))
	for _, id := range ids {
		e.PutUint64(uint64(id))
	}
	buf, _ := e.Bytes() // TCP body has no 8950-byte datagram limit
	return buf
}

func decodeRequest(body []byte) (paxos.Epoch, []paxos.InstanceId, error) {
	d := wire.NewDecoder(body)
	epoch, err := d.GetGUID()
	if err != nil {
		return paxos.Epoch{}, nil, err
	}
	n, err := d.GetUint32()
	if err != nil {
		return paxos.Epoch{}, nil, err
	}
	ids := make([]paxos.InstanceId, n)
	for i := range ids {
		v, err := d.GetUint64()
		if err != nil {
			return paxos.Epoch{}, nil, err
		}
		ids[i] = paxos.InstanceId(v)
	}
	return epoch, ids, nil
}

// encodeReply builds a BatchRecoveryReply body (spec §6: "Reply: (epoch,
// recovered[{instance_id, ballot, value}], not_committed[], forgotten[])").
func encodeReply(epoch paxos.Epoch, recovered []RecoveredInstance, notCommitted, forgotten []paxos.InstanceId) []byte {
	e := wire.NewEncoder(256)
	e.PutGUID(epoch)

	e.PutUint32(uint32(len(recovered)))
	for _, r := range recovered {
		e.PutUint64(uint64(r.Instance))
		e.PutUint32(uint32(r.Ballot))
		e.PutGUID(r.Value.Id)
		e.PutBytes(r.Value.Data)
	}

	e.PutUint32(uint32(len(notCommitted)))
	for _, id := range notCommitted {
		e.PutUint64(uint64(id))
	}

	e.PutUint32(uint32(len(forgotten)))
	for _, id := range forgotten {
		e.PutUint64(uint64(id))
	}

	buf, _ := e.Bytes()
	return buf
}

func decodeReply(body []byte) (Reply, error) {
	d := wire.NewDecoder(body)
	epoch, err := d.GetGUID()
	if err != nil {
		return Reply{}, err
	}

	recoveredCount, err := d.GetUint32()
	if err != nil {
		return Reply{}, err
	}
	recovered := make([]RecoveredInstance, recoveredCount)
	for i := range recovered {
		instance, err := d.GetUint64()
		if err != nil {
			return Reply{}, err
		}
		ballot, err := d.GetUint32()
		if err != nil {
			return Reply{}, err
		}
		valueId, err := d.GetGUID()
		if err != nil {
			return Reply{}, err
		}
		data, err := d.GetBytes()
		if err != nil {
			return Reply{}, err
		}
		recovered[i] = RecoveredInstance{
			Instance: paxos.InstanceId(instance),
			Ballot:   paxos.BallotId(ballot),
			Value:    paxos.Value{Id: valueId, Data: data},
		}
	}

	notCommitted, err := readIds(d)
	if err != nil {
		return Reply{}, err
	}
	forgotten, err := readIds(d)
	if err != nil {
		return Reply{}, err
	}

	_ = epoch
	return Reply{Recovered: recovered, NotCommitted: notCommitted, Forgotten: forgotten}, nil
}

func readIds(d *wire.Decoder) ([]paxos.InstanceId, error) {
	n, err := d.GetUint32()
	if err != nil {
		return nil, err
	}
	ids := make([]paxos.InstanceId, n)
	for i := range ids {
		v, err := d.GetUint64()
		if err != nil {
			return nil, err
		}
		ids[i] = paxos.InstanceId(v)
	}
	return ids, nil
}

// writeFramed writes a 4-byte big-endian length prefix (spec §6
// "FixedSizeHeader{size}") followed by body.
func writeFramed(w io.Writer, body []byte) error {
	var header [4]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(body)))
	if _, err := w.Write(header[:]); err != nil {
		return err
	}
	_, err := w.Write(body)
	return err
}

// readFramed reads one length-prefixed body off r.
func readFramed(r io.Reader) ([]byte, error) {
	var header [4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}
	size := binary.BigEndian.Uint32(header[:])
	if size > 64<<20 {
		return nil, fmt.Errorf("recovery: framed body of %d bytes exceeds sanity limit", size)
	}
	body := make([]byte, size)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, err
	}
	return body, nil
}
