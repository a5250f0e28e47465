// Package commit implements the learner-side commit tracker and the
// blocking ordered-delivery sink (spec §4.7). It is grounded on the
// teacher's topologytransmogrifier.go versioned-cursor pattern
// (afterLastCommitted mirrors its currentTask/lastRequestSeq fencing) and
// the original C++ prototype's commit_tracker.{h,cc}.
package commit

import (
	"container/heap"
	"sync"

	"ringpaxos.io/server/paxos"
)

// Consumer receives committed values in strictly increasing instance id
// with no gaps and no duplicates (spec §8 invariant 3).
type Consumer interface {
	Deliver(instance paxos.InstanceId, value paxos.Value)
}

type pushedItem struct {
	instance paxos.InstanceId
	value    paxos.Value
}

type itemHeap []pushedItem

func (h itemHeap) Len() int            { return len(h) }
func (h itemHeap) Less(i, j int) bool  { return h[i].instance < h[j].instance }
func (h itemHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *itemHeap) Push(x interface{}) { *h = append(*h, x.(pushedItem)) }
func (h *itemHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// OrderedSink buffers out-of-order committed pushes in a min-heap and
// delivers them to a Consumer in strict instance-id order (spec §4.7 "the
// blocking abcast wrapper holds a min-heap of buffered pushes and signals
// the consumer when the top equals the next-to-deliver id").
type OrderedSink struct {
	mu       sync.Mutex
	next     paxos.InstanceId
	buffered itemHeap
	consumer Consumer
}

// NewOrderedSink returns a sink that delivers to consumer starting at
// instance id 0.
func NewOrderedSink(consumer Consumer) *OrderedSink {
	return &OrderedSink{consumer: consumer}
}

// Push buffers a committed (instance, value) pair and delivers every
// now-contiguous prefix to the consumer.
func (s *OrderedSink) Push(instance paxos.InstanceId, value paxos.Value) {
	s.mu.Lock()
	defer s.mu.Unlock()
	heap.Push(&s.buffered, pushedItem{instance: instance, value: value})
	s.drainLocked()
}

func (s *OrderedSink) drainLocked() {
	for len(s.buffered) > 0 && s.buffered[0].instance <= s.next {
		item := heap.Pop(&s.buffered).(pushedItem)
		if item.instance < s.next {
			continue // already delivered: drop the duplicate
		}
		s.next++
		s.consumer.Deliver(item.instance, item.value)
	}
}

// Reset drops every buffered push and rewinds the delivery cursor to 0
// (spec §4.7 "Epoch change... reset cursor, forward epoch-change to the
// downstream sink").
func (s *OrderedSink) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buffered = nil
	s.next = 0
}

// NextInstance reports the next instance id the sink is waiting to
// deliver, used for status reporting and tests.
func (s *OrderedSink) NextInstance() paxos.InstanceId {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.next
}
