package game

import (
	"errors"
)

// Errors returned to the acting connection. None of them aborts a round.
var (
	ErrInvalidPayload        = errors.New("invalid payload")
	ErrInvalidAction         = errors.New("invalid action")
	ErrInvalidStake          = errors.New("invalid stake")
	ErrInsufficientBalance   = errors.New("insufficient balance")
	ErrDuplicateBet          = errors.New("already in the current round")
	ErrRoundNotAcceptingBets = errors.New("round not accepting bets")
	ErrSelfJoinNotAllowed    = errors.New("cannot join your own game")
	ErrBetNotFound           = errors.New("bet not found")
	ErrAlreadySettled        = errors.New("bet already settled")
	ErrAlreadyCashedOut      = errors.New("already cashed out")
	ErrUnauthorized          = errors.New("unauthorized")
)

// Internal invariant violations. Seeing one of these means an engine bug.
var (
	ErrPhaseRegression = errors.New("phase transition is not forward")
	ErrOutcomeSet      = errors.New("outcome already set")
	ErrNotResolving    = errors.New("outcome can only be set while resolving")
	ErrRoundNotFound   = errors.New("round not found")
	ErrRoundHeld       = errors.New("round is still held in memory")
)

var errorCodes = []struct {
	err  error
	code string
}{
	{ErrInvalidPayload, "INVALID_PAYLOAD"},
	{ErrInvalidAction, "INVALID_ACTION"},
	{ErrInvalidStake, "INVALID_STAKE"},
	{ErrInsufficientBalance, "INSUFFICIENT_BALANCE"},
	{ErrDuplicateBet, "DUPLICATE_BET"},
	{ErrRoundNotAcceptingBets, "ROUND_NOT_ACCEPTING_BETS"},
	{ErrSelfJoinNotAllowed, "SELF_JOIN_NOT_ALLOWED"},
	{ErrBetNotFound, "BET_NOT_FOUND"},
	{ErrAlreadySettled, "ALREADY_SETTLED"},
	{ErrAlreadyCashedOut, "ALREADY_CASHED_OUT"},
	{ErrUnauthorized, "UNAUTHORIZED"},
}

// ErrorCode maps an error to the code sent in ERROR events.
// Anything outside the taxonomy is reported as INTERNAL.
func ErrorCode(err error) string {
	for _, e := range errorCodes {
		if errors.Is(err, e.err) {
			return e.code
		}
	}
	return "INTERNAL"
}
