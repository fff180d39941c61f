package game

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGameType_Valid(t *testing.T) {
	for _, g := range GameTypes {
		assert.True(t, g.Valid(), string(g))
	}
	assert.False(t, GameType("mines").Valid())
	assert.False(t, GameType("").Valid())
}

func TestSideAndColor(t *testing.T) {
	assert.Equal(t, SideTails, SideHeads.Opposite())
	assert.Equal(t, SideHeads, SideTails.Opposite())
	assert.False(t, Side("edge").Valid())

	for _, c := range []Color{ColorGreen, ColorRed, ColorBlack} {
		assert.True(t, c.Valid())
	}
	assert.False(t, Color("blue").Valid())
}

func TestEventKinds(t *testing.T) {
	all := []EventType{
		EventError, EventHeartbeat,
		EventCoinflipGames, EventCoinflipAppend, EventCoinflipUpdate, EventCoinflipDelete, EventCoinflipCreated, EventCoinflipJoined,
		EventCrashPoints, EventCrashNextRound, EventCrashBets, EventCrashPoint, EventCrashCrashed, EventCrashSettled,
		EventCrashJoined, EventCrashCashedOut, EventCrashTargetSet,
		EventRouletteGames, EventRouletteRoundStart, EventRouletteBets, EventRouletteStopPoint, EventRouletteSettled,
		EventRouletteNextRound, EventRouletteJoined,
		EventJackpotGame, EventJackpotUpdate, EventJackpotWinner, EventJackpotSettled, EventJackpotJoined,
	}
	for _, et := range all {
		assert.NotEmpty(t, et.Kind(), "%s has no kind", et)
	}
	assert.Equal(t, KindSettlement, EventCrashSettled.Kind())
	assert.Equal(t, KindTick, EventCrashPoint.Kind())
	assert.Equal(t, KindRoundDeleted, EventCoinflipDelete.Kind())
}

func TestErrorCode(t *testing.T) {
	assert.Equal(t, "INSUFFICIENT_BALANCE", ErrorCode(ErrInsufficientBalance))
	assert.Equal(t, "INVALID_STAKE", ErrorCode(fmt.Errorf("%w: below minimum", ErrInvalidStake)))
	assert.Equal(t, "INTERNAL", ErrorCode(errors.New("disk on fire")))

	evt := ErrorEvent(ErrSelfJoinNotAllowed)
	assert.Equal(t, EventError, evt.Type)
	assert.Equal(t, ErrorPayload{Code: "SELF_JOIN_NOT_ALLOWED", Message: ErrSelfJoinNotAllowed.Error()}, evt.Payload)
}

func TestRoundView(t *testing.T) {
	r := NewRound(GameCrash, 0)
	v := r.View()
	assert.Equal(t, r.ID, v.ID)
	assert.Equal(t, PhaseAwaitingBets, v.Phase)
	assert.Nil(t, v.Deadline)
	assert.Empty(t, v.Bets)
	assert.Zero(t, v.Multiplier, "multiplier only shown in flight")
	assert.Equal(t, r.Seed().Commitment, v.Commitment)
}
