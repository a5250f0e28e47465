package paxos

import (
	"testing"

	"github.com/stretchr/testify/require"

	"ringpaxos.io/server/guid"
)

func TestInstanceNextBallotPromisesHigherBallot(t *testing.T) {
	inst := NewInstance(0, nil)

	ok, lastBallot, lastValue, promise := inst.NextBallot(5)
	require.True(t, ok)
	require.Equal(t, BallotId(0), lastBallot)
	require.True(t, lastValue.Empty())
	require.Equal(t, BallotId(5), promise)

	ok, _, _, promise = inst.NextBallot(5)
	require.False(t, ok, "a ballot equal to the current promise must not be re-promised")
	require.Equal(t, BallotId(5), promise)

	ok, _, _, promise = inst.NextBallot(3)
	require.False(t, ok, "a lower ballot must be rejected")
	require.Equal(t, BallotId(5), promise)

	ok, _, _, promise = inst.NextBallot(9)
	require.True(t, ok)
	require.Equal(t, BallotId(9), promise)
}

func TestInstanceBeginBallotAcceptsAtOrAbovePromise(t *testing.T) {
	inst := NewInstance(0, nil)
	inst.NextBallot(5)

	v := Value{Id: guid.New(), Data: []byte("hello")}
	ok, promise, released := inst.BeginBallot(5, v)
	require.True(t, ok)
	require.Equal(t, BallotId(5), promise)
	require.Nil(t, released)

	got, ballot, ok := inst.Value()
	require.True(t, ok)
	require.Equal(t, BallotId(5), ballot)
	require.Equal(t, v.Id, got.Id)
}

func TestInstanceBeginBallotRejectsBelowPromise(t *testing.T) {
	inst := NewInstance(0, nil)
	inst.NextBallot(5)

	ok, promise, released := inst.BeginBallot(4, Value{Id: guid.New()})
	require.False(t, ok)
	require.Equal(t, BallotId(5), promise)
	require.Nil(t, released)
}

func TestInstanceBeginBallotReleasesMatchingStash(t *testing.T) {
	inst := NewInstance(0, nil)
	v := Value{Id: guid.New(), Data: []byte("x")}

	// A ring-forwarded vote arrives before this acceptor has ever heard
	// of the instance: it gets stashed, not matched.
	result := inst.Vote(Vote{Ballot: 5, ValueId: v.Id})
	require.Equal(t, VoteUnknownValue, result)

	ok, _, released := inst.BeginBallot(5, v)
	require.True(t, ok)
	require.NotNil(t, released)
	require.Equal(t, v.Id, released.ValueId)
}

func TestInstanceVoteOutcomes(t *testing.T) {
	inst := NewInstance(0, nil)
	v := Value{Id: guid.New()}

	inst.NextBallot(5)
	inst.BeginBallot(5, v)

	require.Equal(t, VoteTooLow, inst.Vote(Vote{Ballot: 1, ValueId: v.Id}))

	require.Equal(t, VoteOK, inst.Vote(Vote{Ballot: 5, ValueId: v.Id}),
		"a vote matching this acceptor's own record must be OK immediately")

	other := guid.New()
	require.Equal(t, VoteUnknownValue, inst.Vote(Vote{Ballot: 6, ValueId: other}))
}

func TestInstanceCommitRequiresMatchingVotedValue(t *testing.T) {
	inst := NewInstance(0, nil)
	v := Value{Id: guid.New()}
	inst.NextBallot(1)
	inst.BeginBallot(1, v)

	require.False(t, inst.Commit(guid.New()), "committing a different valueId must fail")
	require.True(t, inst.Commit(v.Id))
}

func TestInstanceValueUnsetWhenNeverVoted(t *testing.T) {
	inst := NewInstance(0, nil)
	_, _, ok := inst.Value()
	require.False(t, ok)
}
