package ring

import (
	"fmt"
	"sort"

	"ringpaxos.io/server/ping"
)

// ErrDatacenterNotCovered is returned by ChooseRing when the live acceptors
// do not cover every tracked datacenter (live or not) and the caller has
// not set okToMissDatacenter (spec §4.5 step 4).
var ErrDatacenterNotCovered = fmt.Errorf("ring: not every live datacenter can be covered")

// DatacenterOf resolves a hostId to its datacenter name.
type DatacenterOf func(hostId int) string

// ChooseRing is the datacenter-aware quorum ring oracle (spec §4.5). n is
// the total acceptor count; the returned ring always has host 0 (the
// master) prepended and otherwise holds at least ceil(n/2) live acceptors,
// in an order chosen to cover every live datacenter first.
func ChooseRing(stats map[int]ping.HostStat, dcOf DatacenterOf, n int, okToMissDatacenter bool) ([]int, error) {
	type candidate struct {
		hostId     int
		packetLoss float64
		latencyNs  int64
	}

	live := make([]candidate, 0, len(stats))
	// allDatacenters holds every *configured* datacenter, not just ones with
	// a live host right now: stats carries one entry per tracked acceptor
	// (see ping.Tracker.Snapshot) regardless of its current liveness, so its
	// key set already is the full configured membership.
	allDatacenters := make(map[string]struct{})
	for hostId, s := range stats {
		if hostId == 0 {
			continue // master is prepended separately below
		}
		allDatacenters[dcOf(hostId)] = struct{}{}
		if !s.Live {
			continue
		}
		live = append(live, candidate{hostId: hostId, packetLoss: s.PacketLoss, latencyNs: int64(s.MeanLatency)})
	}

	// Stable order by (loss, latency, hostId), spec §4.5 tie-break.
	sort.SliceStable(live, func(i, j int) bool {
		if live[i].packetLoss != live[j].packetLoss {
			return live[i].packetLoss < live[j].packetLoss
		}
		if live[i].latencyNs != live[j].latencyNs {
			return live[i].latencyNs < live[j].latencyNs
		}
		return live[i].hostId < live[j].hostId
	})

	covered := make(map[string]struct{})
	var chosen []int
	var stash []int
	for _, c := range live {
		dc := dcOf(c.hostId)
		if _, ok := covered[dc]; !ok {
			covered[dc] = struct{}{}
			chosen = append(chosen, c.hostId)
		} else {
			stash = append(stash, c.hostId)
		}
	}

	if len(covered) < len(allDatacenters) && !okToMissDatacenter {
		return nil, ErrDatacenterNotCovered
	}

	majority := (n + 1) / 2 // ceil(n/2)
	for _, hostId := range stash {
		if len(chosen) >= majority {
			break
		}
		chosen = append(chosen, hostId)
	}

	ringHosts := append([]int{0}, chosen...)
	return dedupeKeepOrder(ringHosts), nil
}

func dedupeKeepOrder(ids []int) []int {
	seen := make(map[int]struct{}, len(ids))
	out := make([]int, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
