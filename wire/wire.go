// Package wire implements the byte-oriented encode/decode for every
// message on the UDP and TCP wires (spec §6). Per spec §9 Design Notes
// ("Struct-packed wire records — replace with explicit little-endian
// encoders; do not rely on layout"), every record below is hand-encoded
// with encoding/binary rather than reinterpreting Go struct memory, the
// same discipline the teacher applies to its capnp-generated encoders in
// network/protocols.go (explicit Set*/Get* calls, never raw struct casts).
package wire

import (
	"encoding/binary"
	"fmt"

	"ringpaxos.io/server/guid"
)

// Type enumerates the UDP message kinds from spec §6.
type Type uint8

const (
	TypePing Type = iota + 1
	TypeSetRing
	TypeBatchPhase1Request
	TypeBatchPhase1Reply
	TypePhase1Request
	TypePhase1Reply
	TypePhase2Request
	TypeVote
	TypeRecoveryRequest
	TypeRecoveryReply
)

func (t Type) String() string {
	switch t {
	case TypePing:
		return "PING"
	case TypeSetRing:
		return "SET_RING"
	case TypeBatchPhase1Request:
		return "PAXOS_BATCH_PHASE1_REQUEST"
	case TypeBatchPhase1Reply:
		return "PAXOS_BATCH_PHASE1_REPLY"
	case TypePhase1Request:
		return "PAXOS_PHASE1_REQUEST"
	case TypePhase1Reply:
		return "PAXOS_PHASE1_REPLY"
	case TypePhase2Request:
		return "PAXOS_PHASE2"
	case TypeVote:
		return "VOTE"
	case TypeRecoveryRequest:
		return "RECOVERY_REQUEST"
	case TypeRecoveryReply:
		return "RECOVERY_REPLY"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", uint8(t))
	}
}

// MaxDatagramSize is the hard UDP frame limit from spec §4.9/§6.
const MaxDatagramSize = 8950

// Encoder accumulates a little-endian byte record. It never reflects over
// struct layout: every field is appended explicitly.
type Encoder struct {
	buf []byte
}

// NewEncoder returns an Encoder with buf pre-allocated to sizeHint bytes.
func NewEncoder(sizeHint int) *Encoder {
	return &Encoder{buf: make([]byte, 0, sizeHint)}
}

func (e *Encoder) PutUint8(v uint8)   { e.buf = append(e.buf, v) }
func (e *Encoder) PutUint32(v uint32) { e.buf = binary.LittleEndian.AppendUint32(e.buf, v) }
func (e *Encoder) PutUint64(v uint64) { e.buf = binary.LittleEndian.AppendUint64(e.buf, v) }
func (e *Encoder) PutGUID(g guid.GUID) { e.buf = append(e.buf, g.Bytes()...) }

// PutBytes appends a length-prefixed (uint32) byte blob.
func (e *Encoder) PutBytes(b []byte) {
	e.PutUint32(uint32(len(b)))
	e.buf = append(e.buf, b...)
}

// Bytes returns the accumulated record. Fails the caller at the RPC layer
// (per spec §7 "Serialization failure") if it exceeds MaxDatagramSize.
func (e *Encoder) Bytes() ([]byte, error) {
	if len(e.buf) > MaxDatagramSize {
		return nil, fmt.Errorf("wire: encoded record of %d bytes exceeds datagram limit %d", len(e.buf), MaxDatagramSize)
	}
	return e.buf, nil
}

// Decoder reads fields off a byte slice in the same explicit order an
// Encoder wrote them.
type Decoder struct {
	buf []byte
	pos int
}

// NewDecoder wraps buf for sequential decode.
func NewDecoder(buf []byte) *Decoder {
	return &Decoder{buf: buf}
}

func (d *Decoder) need(n int) error {
	if d.pos+n > len(d.buf) {
		return fmt.Errorf("wire: short record: need %d bytes at offset %d, have %d total", n, d.pos, len(d.buf))
	}
	return nil
}

func (d *Decoder) GetUint8() (uint8, error) {
	if err := d.need(1); err != nil {
		return 0, err
	}
	v := d.buf[d.pos]
	d.pos++
	return v, nil
}

func (d *Decoder) GetUint32() (uint32, error) {
	if err := d.need(4); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint32(d.buf[d.pos:])
	d.pos += 4
	return v, nil
}

func (d *Decoder) GetUint64() (uint64, error) {
	if err := d.need(8); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint64(d.buf[d.pos:])
	d.pos += 8
	return v, nil
}

func (d *Decoder) GetGUID() (guid.GUID, error) {
	if err := d.need(guid.Len); err != nil {
		return guid.GUID{}, err
	}
	g, err := guid.FromBytes(d.buf[d.pos : d.pos+guid.Len])
	d.pos += guid.Len
	return g, err
}

func (d *Decoder) GetBytes() ([]byte, error) {
	n, err := d.GetUint32()
	if err != nil {
		return nil, err
	}
	if err := d.need(int(n)); err != nil {
		return nil, err
	}
	b := make([]byte, n)
	copy(b, d.buf[d.pos:d.pos+int(n)])
	d.pos += int(n)
	return b, nil
}

// Remaining reports whether unread bytes remain, used by callers that want
// to assert a record was consumed exactly (a stray trailing byte indicates
// a version skew a production system should not silently tolerate).
func (d *Decoder) Remaining() int {
	return len(d.buf) - d.pos
}

// Pos returns the number of bytes consumed so far, letting a caller that
// decoded only a header slice off the as-yet-undecoded body.
func (d *Decoder) Pos() int {
	return d.pos
}

// Envelope is the common header every UDP datagram carries: a request
// correlation GUID and the message type (spec §6: "Every message is a
// framed record carrying uuid: 16 bytes, type: enum").
type Envelope struct {
	RequestId guid.GUID
	Type      Type
}

// EncodeHeader writes the envelope fields onto e. Callers append their
// type-specific body afterwards.
func (env Envelope) EncodeHeader(e *Encoder) {
	e.PutGUID(env.RequestId)
	e.PutUint8(uint8(env.Type))
}

// DecodeHeader reads the envelope fields off d; callers then decode the
// type-specific body based on the returned Type.
func DecodeHeader(d *Decoder) (Envelope, error) {
	id, err := d.GetGUID()
	if err != nil {
		return Envelope{}, err
	}
	t, err := d.GetUint8()
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{RequestId: id, Type: Type(t)}, nil
}
