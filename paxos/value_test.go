package paxos

import (
	"testing"

	"github.com/stretchr/testify/require"

	"ringpaxos.io/server"
)

func TestBallotGeneratorFirstIsOwnedByHost(t *testing.T) {
	g := NewBallotGenerator(2, 5)
	b := g.First()
	require.Equal(t, BallotId(3), b)
	require.True(t, OwnedBy(b, 2, 5))
}

func TestBallotGeneratorNextStaysOwnedAndIncreases(t *testing.T) {
	g := NewBallotGenerator(2, 5)
	first := g.First()

	next := g.Next(first)
	require.Greater(t, uint32(next), uint32(first))
	require.True(t, OwnedBy(next, 2, 5))

	// A rejection carrying a much higher ballot must still produce a
	// strictly greater, still-owned ballot.
	rejected := g.Next(BallotId(100))
	require.Greater(t, uint32(rejected), uint32(100))
	require.True(t, OwnedBy(rejected, 2, 5))
}

func TestBallotGeneratorDistinctHostsNeverCollide(t *testing.T) {
	a := NewBallotGenerator(0, 3)
	b := NewBallotGenerator(1, 3)
	seenA := make(map[BallotId]bool)
	ballot := a.First()
	for i := 0; i < 10; i++ {
		seenA[ballot] = true
		ballot = a.Next(ballot)
	}
	ballot = b.First()
	for i := 0; i < 10; i++ {
		require.False(t, seenA[ballot], "host 1's ballots must never collide with host 0's")
		ballot = b.Next(ballot)
	}
}

func TestValueValidateEnforcesSizeBound(t *testing.T) {
	require.NoError(t, Value{Data: make([]byte, server.MaxValueSize)}.Validate())
	require.Error(t, Value{Data: make([]byte, server.MaxValueSize+1)}.Validate())
}
