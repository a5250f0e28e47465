package commit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"ringpaxos.io/server/guid"
	"ringpaxos.io/server/paxos"
)

type recordingRecovery struct {
	enqueued chan paxos.InstanceId
}

func newRecordingRecovery() *recordingRecovery {
	return &recordingRecovery{enqueued: make(chan paxos.InstanceId, 16)}
}

func (r *recordingRecovery) Enqueue(epoch paxos.Epoch, instance paxos.InstanceId) {
	r.enqueued <- instance
}

func TestTrackerPushAdvancesCursorContiguously(t *testing.T) {
	epoch := guid.New()
	consumer := &recordingConsumer{}
	sink := NewOrderedSink(consumer)
	recovery := newRecordingRecovery()
	tr := NewTracker(epoch, time.Hour, recovery, sink)
	defer tr.Stop()

	tr.Push(0, paxos.Value{Id: guid.New()})
	require.Eventually(t, func() bool { return tr.AfterLastCommitted() == 1 }, time.Second, time.Millisecond)

	tr.Push(1, paxos.Value{Id: guid.New()})
	require.Eventually(t, func() bool { return tr.AfterLastCommitted() == 2 }, time.Second, time.Millisecond)
}

func TestTrackerPushOpensGapTimersForMissingInstances(t *testing.T) {
	epoch := guid.New()
	consumer := &recordingConsumer{}
	sink := NewOrderedSink(consumer)
	recovery := newRecordingRecovery()
	tr := NewTracker(epoch, 20*time.Millisecond, recovery, sink)
	defer tr.Stop()

	// Pushing instance 2 first opens gap timers for 0 and 1.
	tr.Push(2, paxos.Value{Id: guid.New()})

	seen := map[paxos.InstanceId]bool{}
	for i := 0; i < 2; i++ {
		select {
		case id := <-recovery.enqueued:
			seen[id] = true
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for gap recovery enqueue")
		}
	}
	require.True(t, seen[0])
	require.True(t, seen[1])
}

func TestTrackerGapFilledBeforeTimeoutSuppressesRecovery(t *testing.T) {
	epoch := guid.New()
	consumer := &recordingConsumer{}
	sink := NewOrderedSink(consumer)
	recovery := newRecordingRecovery()
	tr := NewTracker(epoch, 100*time.Millisecond, recovery, sink)
	defer tr.Stop()

	tr.Push(1, paxos.Value{Id: guid.New()})
	tr.Push(0, paxos.Value{Id: guid.New()})

	select {
	case id := <-recovery.enqueued:
		t.Fatalf("unexpected recovery enqueue for instance %d once the gap was filled", id)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestTrackerResetEpochClearsCursorAndSink(t *testing.T) {
	epoch := guid.New()
	consumer := &recordingConsumer{}
	sink := NewOrderedSink(consumer)
	recovery := newRecordingRecovery()
	tr := NewTracker(epoch, time.Hour, recovery, sink)
	defer tr.Stop()

	tr.Push(0, paxos.Value{Id: guid.New()})
	require.Eventually(t, func() bool { return tr.AfterLastCommitted() == 1 }, time.Second, time.Millisecond)

	newEpoch := guid.New()
	tr.ResetEpoch(newEpoch)
	require.Eventually(t, func() bool { return tr.AfterLastCommitted() == 0 }, time.Second, time.Millisecond)

	tr.Push(0, paxos.Value{Id: guid.New()})
	require.Eventually(t, func() bool { return tr.AfterLastCommitted() == 1 }, time.Second, time.Millisecond)
}
