package paxos

import (
	"testing"

	"github.com/stretchr/testify/require"

	"ringpaxos.io/server/guid"
)

func TestValueIdSetAddIsIdempotent(t *testing.T) {
	s := NewValueIdSet()
	id := guid.New()

	require.True(t, s.Add(id))
	require.False(t, s.Add(id), "adding the same id twice must report no-op")
	require.Equal(t, 1, s.Len())
	require.True(t, s.Contains(id))
}

func TestValueIdSetRemove(t *testing.T) {
	s := NewValueIdSet()
	id := guid.New()
	s.Add(id)

	s.Remove(id)
	require.False(t, s.Contains(id))
	require.Equal(t, 0, s.Len())
}
