package game

import (
	"time"

	"github.com/shopspring/decimal"
)

type GameType string

const (
	GameCoinflip GameType = "coinflip"
	GameCrash    GameType = "crash"
	GameRoulette GameType = "roulette"
	GameJackpot  GameType = "jackpot"
)

// GameTypes lists every game in channel order.
var GameTypes = []GameType{GameCoinflip, GameCrash, GameRoulette, GameJackpot}

func (g GameType) Valid() bool {
	switch g {
	case GameCoinflip, GameCrash, GameRoulette, GameJackpot:
		return true
	}
	return false
}

type Phase string

const (
	PhaseAwaitingBets Phase = "AWAITING_BETS"
	PhaseBettingOpen  Phase = "BETTING_OPEN"
	PhaseResolving    Phase = "RESOLVING"
	PhasePayout       Phase = "PAYOUT"
	PhaseCooldown     Phase = "COOLDOWN"
	PhaseCancelled    Phase = "CANCELLED"
)

var phaseRank = map[Phase]int{
	PhaseAwaitingBets: 0,
	PhaseBettingOpen:  1,
	PhaseResolving:    2,
	PhasePayout:       3,
	PhaseCooldown:     4,
}

type Side string

const (
	SideHeads Side = "heads"
	SideTails Side = "tails"
)

func (s Side) Valid() bool { return s == SideHeads || s == SideTails }

func (s Side) Opposite() Side {
	if s == SideHeads {
		return SideTails
	}
	return SideHeads
}

type Color string

const (
	ColorGreen Color = "green"
	ColorRed   Color = "red"
	ColorBlack Color = "black"
)

func (c Color) Valid() bool { return c == ColorGreen || c == ColorRed || c == ColorBlack }

// Bet is a user's stake in a round. Stake is debited before the bet exists.
type Bet struct {
	ID            string          `json:"id"`
	UserID        string          `json:"user_id"`
	Stake         decimal.Decimal `json:"stake"`
	Side          Side            `json:"side,omitempty"`
	Color         Color           `json:"color,omitempty"`
	CashoutTarget float64         `json:"cashout_target,omitempty"`
	CashedOut     bool            `json:"cashed_out,omitempty"`
	PlacedAt      time.Time       `json:"placed_at"`
	Settled       bool            `json:"settled"`
	Payout        decimal.Decimal `json:"payout"`
}

// SettledBet is the immutable result of settling a bet against an outcome.
type SettledBet struct {
	BetID         string          `json:"bet_id"`
	UserID        string          `json:"user_id"`
	Stake         decimal.Decimal `json:"stake"`
	Side          Side            `json:"side,omitempty"`
	Color         Color           `json:"color,omitempty"`
	CashoutTarget float64         `json:"cashout_target,omitempty"`
	Payout        decimal.Decimal `json:"payout"`
}

func (s SettledBet) Won() bool { return s.Payout.IsPositive() }

// RoundHistoryRecord is the archived form of a settled round.
type RoundHistoryRecord struct {
	RoundID     string          `json:"round_id"`
	Game        GameType        `json:"game"`
	Outcome     Outcome         `json:"outcome"`
	Bets        []SettledBet    `json:"bets"`
	TotalStaked decimal.Decimal `json:"total_staked"`
	TotalPaid   decimal.Decimal `json:"total_paid"`
	ServerSeed  string          `json:"server_seed,omitempty"`
	Commitment  string          `json:"commitment,omitempty"`
	StartedAt   time.Time       `json:"started_at"`
	EndedAt     time.Time       `json:"ended_at"`
}
