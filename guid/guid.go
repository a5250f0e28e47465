// Package guid implements the 128-bit process-unique identifiers used
// throughout the system for epochs, request correlation and value ids
// (spec §3 "GUID").
package guid

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync/atomic"
)

// Len is the serialized width of a GUID.
const Len = 16

// GUID is a 128-bit identifier. The zero value is the Empty guid.
type GUID [Len]byte

var (
	processSeed  [8]byte
	processBase  uint64
	processCount uint64
)

func init() {
	if _, err := rand.Read(processSeed[:]); err != nil {
		panic(fmt.Sprintf("guid: failed to seed process randomness: %v", err))
	}
	for i, b := range processSeed {
		processBase |= uint64(b) << (8 * uint(i))
	}
}

// New returns a fresh GUID derived from process-unique seed data plus a
// monotonically increasing counter, per spec §3.
func New() GUID {
	n := atomic.AddUint64(&processCount, 1)
	var g GUID
	copy(g[:8], processSeed[:])
	hi := processBase ^ n
	for i := 0; i < 8; i++ {
		g[8+i] = byte(hi >> (8 * uint(i)))
	}
	return g
}

// FromData returns a content-hash GUID over arbitrary bytes, used for the
// bootstrap configuration epoch (spec §6 "Bootstrap configuration").
func FromData(data []byte) GUID {
	sum := sha256.Sum256(data)
	var g GUID
	copy(g[:], sum[:Len])
	return g
}

// FromBytes parses a 16-byte slice into a GUID.
func FromBytes(b []byte) (GUID, error) {
	var g GUID
	if len(b) != Len {
		return g, fmt.Errorf("guid: expected %d bytes, got %d", Len, len(b))
	}
	copy(g[:], b)
	return g, nil
}

// Bytes returns the 16-byte wire encoding of the GUID.
func (g GUID) Bytes() []byte {
	out := make([]byte, Len)
	copy(out, g[:])
	return out
}

// Empty reports whether g is the zero GUID.
func (g GUID) Empty() bool {
	return g == GUID{}
}

// Equal reports value equality.
func (g GUID) Equal(other GUID) bool {
	return g == other
}

// Compare returns -1, 0 or 1 comparing g to other lexicographically. It
// gives GUIDs a total order, used only for deterministic tie-breaking
// (e.g. choosing a fresh ring id distinct from the current one).
func (g GUID) Compare(other GUID) int {
	for i := range g {
		if g[i] != other[i] {
			if g[i] < other[i] {
				return -1
			}
			return 1
		}
	}
	return 0
}

func (g GUID) String() string {
	if g.Empty() {
		return "<empty-guid>"
	}
	return hex.EncodeToString(g[:])
}
