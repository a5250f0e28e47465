package cache

import (
	"testing"

	"github.com/stretchr/testify/require"

	"ringpaxos.io/server/guid"
	"ringpaxos.io/server/paxos"
)

func TestCacheQueryNotYetBeforeAnyPut(t *testing.T) {
	epoch := guid.New()
	c := New(4, epoch)

	_, result := c.Query(epoch, 0)
	require.Equal(t, QueryNotYet, result)
}

func TestCacheQueryWrongEpoch(t *testing.T) {
	epoch := guid.New()
	c := New(4, epoch)

	_, result := c.Query(guid.New(), 0)
	require.Equal(t, QueryWrongEpoch, result)
}

func TestCachePutThenQueryOK(t *testing.T) {
	epoch := guid.New()
	c := New(4, epoch)
	v := paxos.Value{Id: guid.New(), Data: []byte("hello")}

	c.Put(2, v)

	got, result := c.Query(epoch, 2)
	require.Equal(t, QueryOK, result)
	require.Equal(t, v.Id, got.Id)
}

func TestCacheQueryTooOldAfterSlotReuse(t *testing.T) {
	epoch := guid.New()
	c := New(4, epoch)
	c.Put(0, paxos.Value{Id: guid.New()})
	v4 := paxos.Value{Id: guid.New()}
	c.Put(4, v4) // same slot (4 % 4 == 0), evicts instance 0

	_, result := c.Query(epoch, 0)
	require.Equal(t, QueryTooOld, result)

	got, result := c.Query(epoch, 4)
	require.Equal(t, QueryOK, result)
	require.Equal(t, v4.Id, got.Id)
}

func TestCacheQueryNotYetForFutureInstance(t *testing.T) {
	epoch := guid.New()
	c := New(4, epoch)
	c.Put(1, paxos.Value{Id: guid.New()})

	_, result := c.Query(epoch, 5)
	require.Equal(t, QueryNotYet, result)
}

func TestCacheResetEpochClearsState(t *testing.T) {
	epoch := guid.New()
	c := New(4, epoch)
	c.Put(0, paxos.Value{Id: guid.New()})

	newEpoch := guid.New()
	c.ResetEpoch(newEpoch)

	_, result := c.Query(newEpoch, 0)
	require.Equal(t, QueryNotYet, result)
	_, result = c.Query(epoch, 0)
	require.Equal(t, QueryWrongEpoch, result)
}

func TestCacheDeliverIsAnAliasForPut(t *testing.T) {
	epoch := guid.New()
	c := New(4, epoch)
	v := paxos.Value{Id: guid.New()}

	c.Deliver(0, v)

	got, result := c.Query(epoch, 0)
	require.Equal(t, QueryOK, result)
	require.Equal(t, v.Id, got.Id)
}
