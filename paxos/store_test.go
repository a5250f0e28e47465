package paxos

import (
	"testing"

	"github.com/stretchr/testify/require"

	"ringpaxos.io/server/guid"
)

func TestStoreValueVisibleBeforeCommit(t *testing.T) {
	// A non-first ring acceptor's own BeginBallot records a value in the
	// pending half of the store; Value must see it immediately, since the
	// ring voter checks Value before it has had a chance to call Commit.
	s := NewStore(16, 16, nil)
	v := Value{Id: guid.New(), Data: []byte("payload")}

	_, ok, _, _ := s.NextBallot(0, 5)
	require.True(t, ok)
	_, ok, _, _ = s.BeginBallot(0, 5, v)
	require.True(t, ok)

	got, ballot, ok := s.Value(0)
	require.True(t, ok, "Value must see a pending, not-yet-committed vote")
	require.Equal(t, v.Id, got.Id)
	require.Equal(t, BallotId(5), ballot)

	result, ok := s.Commit(0, v.Id)
	require.Equal(t, ResultOK, result)
	require.True(t, ok)
	require.Equal(t, 1, s.CommittedCount())
	require.Equal(t, 0, s.PendingCount())

	got, ballot, ok = s.Value(0)
	require.True(t, ok, "Value must still see the value once committed")
	require.Equal(t, v.Id, got.Id)
	require.Equal(t, BallotId(5), ballot)
}

func TestStoreReserveRefusesOverPendingLimit(t *testing.T) {
	s := NewStore(1, 16, nil)

	_, ok, _, _ := s.NextBallot(0, 1)
	require.True(t, ok)

	result, ok, _, _ := s.NextBallot(1, 1)
	require.Equal(t, ResultRefused, result)
	require.False(t, ok)
}

func TestStoreCommitEvictsOldestOnOverflow(t *testing.T) {
	s := NewStore(16, 2, nil)
	for i := InstanceId(0); i < 3; i++ {
		v := Value{Id: guid.New()}
		s.NextBallot(i, 1)
		s.BeginBallot(i, 1, v)
		s.Commit(i, v.Id)
	}

	require.Equal(t, 2, s.CommittedCount())
	_, _, ok := s.Value(0)
	require.False(t, ok, "oldest committed instance must be evicted once the window overflows")
	_, _, ok = s.Value(2)
	require.True(t, ok)
}

func TestStoreResetEpochClearsEverything(t *testing.T) {
	s := NewStore(16, 16, nil)
	v := Value{Id: guid.New()}
	s.NextBallot(0, 1)
	s.BeginBallot(0, 1, v)
	s.Commit(0, v.Id)

	s.ResetEpoch(guid.New())

	require.Equal(t, 0, s.PendingCount())
	require.Equal(t, 0, s.CommittedCount())
	_, _, ok := s.Value(0)
	require.False(t, ok)
}

func TestStoreLowestInstanceId(t *testing.T) {
	s := NewStore(16, 16, nil)
	require.Equal(t, InstanceId(0), s.LowestInstanceId())

	v0 := Value{Id: guid.New()}
	s.NextBallot(0, 1)
	s.BeginBallot(0, 1, v0)
	s.Commit(0, v0.Id)
	require.Equal(t, InstanceId(1), s.LowestInstanceId(), "lowest uncommitted id advances past a fully committed prefix")

	s.NextBallot(1, 1)
	require.Equal(t, InstanceId(1), s.LowestInstanceId(), "a pending instance is reported over the commit-derived guess")
}
