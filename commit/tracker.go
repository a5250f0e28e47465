package commit

import (
	"sync/atomic"
	"time"

	"ringpaxos.io/server/actor"
	"ringpaxos.io/server/paxos"
)

// RecoveryEnqueuer hands a gap off to the recovery manager (spec §4.8
// "main queue"). The recovery package's Manager satisfies this.
type RecoveryEnqueuer interface {
	Enqueue(epoch paxos.Epoch, instance paxos.InstanceId)
}

type pushMsg struct {
	instance paxos.InstanceId
	value    paxos.Value
}

type resetMsg struct {
	epoch paxos.Epoch
}

type gapTimeoutMsg struct {
	instance paxos.InstanceId
}

type stopMsg struct{}

// Tracker is the learner-side commit tracker (spec §4.7): it maintains
// the afterLastCommitted cursor, opens a recovery timer for every gap,
// and forwards every push to the ordered delivery sink. It runs as a
// single actor (package actor): Push, ResetEpoch and every gap timeout
// are messages processed one at a time by its own goroutine, so the
// cursor and timer map need no lock.
type Tracker struct {
	mb *actor.Mailbox

	// cursor mirrors afterLastCommitted for lock-free reads from
	// AfterLastCommitted, which status reporting and tests call from
	// outside the actor goroutine.
	cursor uint64

	epoch              paxos.Epoch
	afterLastCommitted paxos.InstanceId
	timers             map[paxos.InstanceId]*time.Timer

	recoveryGracePeriod time.Duration
	recovery            RecoveryEnqueuer
	sink                *OrderedSink
}

// NewTracker constructs a Tracker for epoch, scheduling a recovery
// request recoveryGracePeriod after a gap opens, and starts its actor
// loop.
func NewTracker(epoch paxos.Epoch, recoveryGracePeriod time.Duration, recovery RecoveryEnqueuer, sink *OrderedSink) *Tracker {
	head, mb := actor.NewMailbox()
	t := &Tracker{
		mb:                  mb,
		epoch:               epoch,
		timers:              make(map[paxos.InstanceId]*time.Timer),
		recoveryGracePeriod: recoveryGracePeriod,
		recovery:            recovery,
		sink:                sink,
	}
	go actor.Loop(head, mb, t.handle)
	return t
}

func (t *Tracker) handle(msg actor.Msg) (terminate bool, err error) {
	switch m := msg.(type) {
	case pushMsg:
		t.doPush(m.instance, m.value)
	case resetMsg:
		t.doReset(m.epoch)
	case gapTimeoutMsg:
		t.doTimeout(m.instance)
	case stopMsg:
		return true, nil
	}
	return false, nil
}

// Push records a committed push from the Phase-2 path (spec §4.7). It is
// safe to call with instance ids below, at, or above the cursor, and with
// duplicate ids (idempotent). Push only enqueues; the actor loop does the
// work.
func (t *Tracker) Push(instance paxos.InstanceId, value paxos.Value) {
	t.mb.Enqueue(pushMsg{instance: instance, value: value})
}

func (t *Tracker) doPush(instance paxos.InstanceId, value paxos.Value) {
	if instance < t.afterLastCommitted {
		if timer, ok := t.timers[instance]; ok {
			timer.Stop()
			delete(t.timers, instance)
		}
	} else {
		for iid := t.afterLastCommitted; iid < instance; iid++ {
			if _, exists := t.timers[iid]; exists {
				continue
			}
			gap := iid
			t.timers[iid] = time.AfterFunc(t.recoveryGracePeriod, func() { t.mb.Enqueue(gapTimeoutMsg{instance: gap}) })
		}
		if timer, ok := t.timers[instance]; ok {
			timer.Stop()
			delete(t.timers, instance)
		}
		t.afterLastCommitted = instance + 1
		atomic.StoreUint64(&t.cursor, uint64(t.afterLastCommitted))
	}

	t.sink.Push(instance, value)
}

func (t *Tracker) doTimeout(instance paxos.InstanceId) {
	_, stillOpen := t.timers[instance]
	if stillOpen {
		delete(t.timers, instance)
	}
	if !stillOpen {
		return // already committed, or a second now-stale fire; idempotent per spec §4.7
	}
	t.recovery.Enqueue(t.epoch, instance)
}

// ResetEpoch drops every outstanding recovery timer, rewinds the cursor,
// and resets the downstream sink (spec §4.7 "Epoch change").
func (t *Tracker) ResetEpoch(epoch paxos.Epoch) {
	t.mb.Enqueue(resetMsg{epoch: epoch})
}

func (t *Tracker) doReset(epoch paxos.Epoch) {
	for _, timer := range t.timers {
		timer.Stop()
	}
	t.timers = make(map[paxos.InstanceId]*time.Timer)
	t.afterLastCommitted = 0
	atomic.StoreUint64(&t.cursor, 0)
	t.epoch = epoch
	t.sink.Reset()
}

// AfterLastCommitted reports the cursor, used for status reporting and
// tests. Safe to call from any goroutine.
func (t *Tracker) AfterLastCommitted() paxos.InstanceId {
	return paxos.InstanceId(atomic.LoadUint64(&t.cursor))
}

// Stop terminates the actor loop. Pending timers already fired before Stop
// is processed may still enqueue a gapTimeoutMsg after termination; Enqueue
// silently drops it, matching spec §4.7's idempotent gap handling.
func (t *Tracker) Stop() {
	t.mb.Enqueue(stopMsg{})
}
