package commit

import (
	"testing"

	"github.com/stretchr/testify/require"

	"ringpaxos.io/server/guid"
	"ringpaxos.io/server/paxos"
)

type recordingConsumer struct {
	delivered []paxos.InstanceId
}

func (c *recordingConsumer) Deliver(instance paxos.InstanceId, value paxos.Value) {
	c.delivered = append(c.delivered, instance)
}

func TestOrderedSinkDeliversInOrderDespiteOutOfOrderPush(t *testing.T) {
	c := &recordingConsumer{}
	s := NewOrderedSink(c)

	s.Push(2, paxos.Value{Id: guid.New()})
	require.Empty(t, c.delivered, "instance 2 must wait for 0 and 1")

	s.Push(0, paxos.Value{Id: guid.New()})
	require.Equal(t, []paxos.InstanceId{0}, c.delivered)

	s.Push(1, paxos.Value{Id: guid.New()})
	require.Equal(t, []paxos.InstanceId{0, 1, 2}, c.delivered)
	require.Equal(t, paxos.InstanceId(3), s.NextInstance())
}

func TestOrderedSinkResetRewindsCursor(t *testing.T) {
	c := &recordingConsumer{}
	s := NewOrderedSink(c)
	s.Push(0, paxos.Value{Id: guid.New()})
	s.Push(5, paxos.Value{Id: guid.New()})

	s.Reset()
	require.Equal(t, paxos.InstanceId(0), s.NextInstance())

	s.Push(0, paxos.Value{Id: guid.New()})
	require.Equal(t, []paxos.InstanceId{0, 0}, c.delivered, "delivery resumes from 0 after reset")
}

func TestOrderedSinkDuplicatePushIsIgnoredOnceDelivered(t *testing.T) {
	c := &recordingConsumer{}
	s := NewOrderedSink(c)
	s.Push(0, paxos.Value{Id: guid.New()})
	require.Equal(t, paxos.InstanceId(1), s.NextInstance())

	s.Push(0, paxos.Value{Id: guid.New()})
	require.Equal(t, []paxos.InstanceId{0}, c.delivered, "a push at an already-delivered id must not redeliver")
}
