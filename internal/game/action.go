package game

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Envelope is the inbound message format on every game channel.
type Envelope struct {
	Action  string          `json:"action"`
	Payload json.RawMessage `json:"payload"`
	Token   string          `json:"token,omitempty"`
}

// Action is a validated inbound request. Implementations are closed.
type Action interface {
	Game() GameType
	isAction()
}

type CoinflipCreate struct {
	Amount decimal.Decimal
	Side   Side
}

type CoinflipJoin struct {
	RoundID string
}

type CrashJoin struct {
	Amount            decimal.Decimal
	CashoutMultiplier float64
}

// CrashCashout locks in the live multiplier when Multiplier is zero,
// otherwise it moves the bet's auto-cashout target.
type CrashCashout struct {
	Multiplier float64
}

type RouletteBet struct {
	Amount decimal.Decimal
	Color  Color
}

type JackpotJoin struct {
	Amount decimal.Decimal
}

func (CoinflipCreate) Game() GameType { return GameCoinflip }
func (CoinflipJoin) Game() GameType   { return GameCoinflip }
func (CrashJoin) Game() GameType      { return GameCrash }
func (CrashCashout) Game() GameType   { return GameCrash }
func (RouletteBet) Game() GameType    { return GameRoulette }
func (JackpotJoin) Game() GameType    { return GameJackpot }

func (CoinflipCreate) isAction() {}
func (CoinflipJoin) isAction()   {}
func (CrashJoin) isAction()      {}
func (CrashCashout) isAction()   {}
func (RouletteBet) isAction()    {}
func (JackpotJoin) isAction()    {}

// ParseAction validates an envelope received on a game channel.
func ParseAction(game GameType, env Envelope) (Action, error) {
	name := strings.ToUpper(env.Action)
	switch {
	case game == GameCoinflip && name == "CREATE":
		var p struct {
			Amount *decimal.Decimal `json:"amount"`
			Side   Side             `json:"side"`
		}
		if err := decodePayload(env.Payload, &p); err != nil {
			return nil, err
		}
		if p.Amount == nil || !p.Side.Valid() {
			return nil, ErrInvalidPayload
		}
		return CoinflipCreate{Amount: *p.Amount, Side: p.Side}, nil

	case game == GameCoinflip && name == "JOIN":
		var p struct {
			ID string `json:"id"`
		}
		if err := decodePayload(env.Payload, &p); err != nil {
			return nil, err
		}
		if p.ID == "" {
			return nil, ErrInvalidPayload
		}
		return CoinflipJoin{RoundID: p.ID}, nil

	case game == GameCrash && name == "JOIN":
		var p struct {
			BetAmount         *decimal.Decimal `json:"betAmount"`
			CashoutMultiplier float64          `json:"cashoutMultiplier"`
		}
		if err := decodePayload(env.Payload, &p); err != nil {
			return nil, err
		}
		if p.BetAmount == nil || p.CashoutMultiplier <= 1 {
			return nil, ErrInvalidPayload
		}
		return CrashJoin{Amount: *p.BetAmount, CashoutMultiplier: p.CashoutMultiplier}, nil

	case game == GameCrash && name == "CASHOUT":
		var p struct {
			Multiplier float64 `json:"multiplier"`
		}
		if len(env.Payload) > 0 {
			if err := decodePayload(env.Payload, &p); err != nil {
				return nil, err
			}
		}
		if p.Multiplier != 0 && p.Multiplier <= 1 {
			return nil, ErrInvalidPayload
		}
		return CrashCashout{Multiplier: p.Multiplier}, nil

	case game == GameRoulette && name == "BET":
		var p struct {
			Amount *decimal.Decimal `json:"amount"`
			Color  Color            `json:"color"`
		}
		if err := decodePayload(env.Payload, &p); err != nil {
			return nil, err
		}
		if p.Amount == nil || !p.Color.Valid() {
			return nil, ErrInvalidPayload
		}
		return RouletteBet{Amount: *p.Amount, Color: p.Color}, nil

	case game == GameJackpot && name == "JOIN":
		var p struct {
			Amount *decimal.Decimal `json:"amount"`
		}
		if err := decodePayload(env.Payload, &p); err != nil {
			return nil, err
		}
		if p.Amount == nil {
			return nil, ErrInvalidPayload
		}
		return JackpotJoin{Amount: *p.Amount}, nil
	}
	return nil, fmt.Errorf("%w: %q on %s", ErrInvalidAction, env.Action, game)
}

func decodePayload(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return ErrInvalidPayload
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return nil
}
