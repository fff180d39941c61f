package game

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/shopspring/decimal"
)

// RandomSource yields uniform draws in [0, 1).
type RandomSource interface {
	Float64() float64
}

// Outcome is the resolved result of a round. The set of implementations is
// closed: one per game.
type Outcome interface {
	Game() GameType
	isOutcome()
}

type CoinflipOutcome struct {
	Roll       float64 `json:"roll"`
	WinnerSide Side    `json:"winner_side"`
	WinnerID   string  `json:"winner_id"`
}

type CrashOutcome struct {
	CrashPoint float64 `json:"crash_point"`
}

type RouletteOutcome struct {
	StopPoint    int   `json:"stop_point"`
	WinningColor Color `json:"winning_color"`
}

type JackpotOutcome struct {
	WinnerID string          `json:"winner_id"`
	Ticket   int64           `json:"ticket"`
	TotalPot decimal.Decimal `json:"total_pot"`
}

func (CoinflipOutcome) Game() GameType { return GameCoinflip }
func (CrashOutcome) Game() GameType    { return GameCrash }
func (RouletteOutcome) Game() GameType { return GameRoulette }
func (JackpotOutcome) Game() GameType  { return GameJackpot }

func (CoinflipOutcome) isOutcome() {}
func (CrashOutcome) isOutcome()    {}
func (RouletteOutcome) isOutcome() {}
func (JackpotOutcome) isOutcome()  {}

// CrashPoint maps a uniform draw to max(1, 100*u^10). The result lies in [1, 100).
func CrashPoint(u float64) float64 {
	return math.Max(1, 100*math.Pow(u, 10))
}

// crashHundredths is the first multiplier tick, in hundredths, at or past the crash point.
func crashHundredths(cp float64) int64 {
	return int64(math.Ceil(cp*100 - 1e-9))
}

// RouletteStopPoint draws a wheel position in [0, 14]. The first draw picks
// the band, the second the slot inside it.
func RouletteStopPoint(src RandomSource) int {
	u := src.Float64()
	if u < 0.05 {
		return 0
	}
	slot := int(src.Float64()*7) + 1
	if slot > 7 {
		slot = 7
	}
	if u < 0.525 {
		return slot
	}
	return slot + 7
}

func ColorOf(stop int) Color {
	switch {
	case stop == 0:
		return ColorGreen
	case stop <= 7:
		return ColorRed
	default:
		return ColorBlack
	}
}

func CoinflipCreatorWins(u float64) bool {
	return u > 0.5
}

// JackpotWinner picks a bettor with probability proportional to stake. Work
// is done in minor units so the selection is exact: ticket = floor(u*pot)
// and the winner is the first bettor whose cumulative stake exceeds it.
func JackpotWinner(bets []Bet, u float64) (string, int64) {
	if len(bets) == 0 {
		return "", 0
	}
	var total int64
	for _, b := range bets {
		total += toMinor(b.Stake)
	}
	ticket := int64(u * float64(total))
	if ticket >= total {
		ticket = total - 1
	}
	var cumulative int64
	for _, b := range bets {
		cumulative += toMinor(b.Stake)
		if cumulative > ticket {
			return b.UserID, ticket
		}
	}
	return bets[len(bets)-1].UserID, ticket
}

func toMinor(d decimal.Decimal) int64 {
	return d.Shift(2).IntPart()
}

// Draw produces the outcome of a round of the given game from src. bets
// must be in placement order.
func Draw(game GameType, src RandomSource, bets []Bet) (Outcome, error) {
	switch game {
	case GameCoinflip:
		if len(bets) != 2 {
			return nil, fmt.Errorf("coinflip needs 2 bets, got %d", len(bets))
		}
		roll := src.Float64()
		winner := bets[1]
		if CoinflipCreatorWins(roll) {
			winner = bets[0]
		}
		return CoinflipOutcome{Roll: roll, WinnerSide: winner.Side, WinnerID: winner.UserID}, nil
	case GameCrash:
		return CrashOutcome{CrashPoint: CrashPoint(src.Float64())}, nil
	case GameRoulette:
		stop := RouletteStopPoint(src)
		return RouletteOutcome{StopPoint: stop, WinningColor: ColorOf(stop)}, nil
	case GameJackpot:
		if len(bets) == 0 {
			return nil, fmt.Errorf("jackpot needs at least one bet")
		}
		winner, ticket := JackpotWinner(bets, src.Float64())
		pot := decimal.Zero
		for _, b := range bets {
			pot = pot.Add(b.Stake)
		}
		return JackpotOutcome{WinnerID: winner, Ticket: ticket, TotalPot: pot}, nil
	}
	return nil, fmt.Errorf("unknown game %q", game)
}

// DecodeOutcome restores an archived outcome of the given game.
func DecodeOutcome(game GameType, raw []byte) (Outcome, error) {
	var (
		o   Outcome
		err error
	)
	switch game {
	case GameCoinflip:
		o, err = decodeAs[CoinflipOutcome](raw)
	case GameCrash:
		o, err = decodeAs[CrashOutcome](raw)
	case GameRoulette:
		o, err = decodeAs[RouletteOutcome](raw)
	case GameJackpot:
		o, err = decodeAs[JackpotOutcome](raw)
	default:
		return nil, fmt.Errorf("unknown game %q", game)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s outcome: %w", game, err)
	}
	return o, nil
}

func decodeAs[T Outcome](raw []byte) (Outcome, error) {
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	return v, nil
}

func sameOutcome(a, b Outcome) bool {
	switch x := a.(type) {
	case CoinflipOutcome:
		y, ok := b.(CoinflipOutcome)
		return ok && x == y
	case CrashOutcome:
		y, ok := b.(CrashOutcome)
		return ok && x == y
	case RouletteOutcome:
		y, ok := b.(RouletteOutcome)
		return ok && x == y
	case JackpotOutcome:
		y, ok := b.(JackpotOutcome)
		return ok && x.WinnerID == y.WinnerID && x.Ticket == y.Ticket && x.TotalPot.Equal(y.TotalPot)
	}
	return false
}
