// Package ingest implements the TCP client-value ingest listener (spec §6
// "TCP client value ingest"): a framed request/reply protocol, grounded
// on recovery/conn.go's and recovery/server.go's length-prefixed framing,
// feeding accepted values into a Queue that satisfies proposer.IngestQueue.
package ingest

import (
	"container/list"
	"sync"

	"ringpaxos.io/server/paxos"
)

// Queue is a FIFO of client values awaiting a Phase-2 slot (spec §4.4
// "Client worker"), with PushFront support for the retry path where a
// timed-out instance's value is returned to the head of the line rather
// than lost.
type Queue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	values *list.List
	closed bool
}

// NewQueue constructs an empty Queue.
func NewQueue() *Queue {
	q := &Queue{values: list.New()}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Push appends value to the tail (a newly arrived client value).
func (q *Queue) Push(value paxos.Value) {
	q.mu.Lock()
	q.values.PushBack(value)
	q.mu.Unlock()
	q.cond.Signal()
}

// PushFront implements proposer.IngestQueue.
func (q *Queue) PushFront(value paxos.Value) {
	q.mu.Lock()
	q.values.PushFront(value)
	q.mu.Unlock()
	q.cond.Signal()
}

// PopValue implements proposer.IngestQueue. It blocks until a value is
// available or stop closes.
func (q *Queue) PopValue(stop <-chan struct{}) (paxos.Value, bool) {
	done := make(chan struct{})
	go func() {
		select {
		case <-stop:
			q.mu.Lock()
			q.closed = true
			q.mu.Unlock()
			q.cond.Broadcast()
		case <-done:
		}
	}()
	defer close(done)

	q.mu.Lock()
	defer q.mu.Unlock()
	for q.values.Len() == 0 && !q.closed {
		q.cond.Wait()
	}
	if q.values.Len() == 0 {
		return paxos.Value{}, false
	}
	front := q.values.Remove(q.values.Front())
	return front.(paxos.Value), true
}

// Depth returns the number of values currently queued.
func (q *Queue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.values.Len()
}
