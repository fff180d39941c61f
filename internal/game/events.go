package game

import (
	"time"

	"github.com/shopspring/decimal"
)

type EventType string

const (
	EventError     EventType = "ERROR"
	EventHeartbeat EventType = "HEARTBEAT"

	EventCoinflipGames   EventType = "COINFLIP_GAMES"
	EventCoinflipAppend  EventType = "COINFLIP_GAME_APPEND"
	EventCoinflipUpdate  EventType = "COINFLIP_GAME_UPDATE"
	EventCoinflipDelete  EventType = "COINFLIP_GAME_DELETE"
	EventCoinflipCreated EventType = "COINFLIP_GAME_CREATED"
	EventCoinflipJoined  EventType = "COINFLIP_GAME_JOINED"

	EventCrashPoints    EventType = "CRASH_POINTS"
	EventCrashNextRound EventType = "CRASH_NEXT_ROUND"
	EventCrashBets      EventType = "CRASH_BETS"
	EventCrashPoint     EventType = "CRASH_POINT"
	EventCrashCrashed   EventType = "CRASH_CRASHED"
	EventCrashSettled   EventType = "CRASH_ROUND_SETTLED"
	EventCrashJoined    EventType = "CRASH_JOINED"
	EventCrashCashedOut EventType = "CRASH_CASHED_OUT"
	EventCrashTargetSet EventType = "CRASH_TARGET_SET"

	EventRouletteGames      EventType = "ROULETTE_GAMES"
	EventRouletteRoundStart EventType = "ROULETTE_ROUND_START"
	EventRouletteBets       EventType = "ROULETTE_BETS"
	EventRouletteStopPoint  EventType = "ROULETTE_STOP_POINT"
	EventRouletteSettled    EventType = "ROULETTE_ROUND_SETTLED"
	EventRouletteNextRound  EventType = "ROULETTE_NEXT_ROUND"
	EventRouletteJoined     EventType = "ROULETTE_JOINED"

	EventJackpotGame    EventType = "JACKPOT_GAME"
	EventJackpotUpdate  EventType = "JACKPOT_UPDATE"
	EventJackpotWinner  EventType = "JACKPOT_WINNER"
	EventJackpotSettled EventType = "JACKPOT_ROUND_SETTLED"
	EventJackpotJoined  EventType = "JACKPOT_JOINED"
)

// EventKind groups event types by what they tell a client.
type EventKind string

const (
	KindSnapshot      EventKind = "snapshot"
	KindRoundAppended EventKind = "round-appended"
	KindRoundUpdated  EventKind = "round-updated"
	KindRoundDeleted  EventKind = "round-deleted"
	KindTick          EventKind = "tick"
	KindBets          EventKind = "bets-snapshot"
	KindOutcome       EventKind = "outcome-revealed"
	KindSettlement    EventKind = "settlement"
	KindCountdown     EventKind = "countdown"
	KindReply         EventKind = "reply"
	KindError         EventKind = "error"
	KindHeartbeat     EventKind = "heartbeat"
)

var eventKinds = map[EventType]EventKind{
	EventError:     KindError,
	EventHeartbeat: KindHeartbeat,

	EventCoinflipGames:   KindSnapshot,
	EventCoinflipAppend:  KindRoundAppended,
	EventCoinflipUpdate:  KindSettlement,
	EventCoinflipDelete:  KindRoundDeleted,
	EventCoinflipCreated: KindReply,
	EventCoinflipJoined:  KindReply,

	EventCrashPoints:    KindSnapshot,
	EventCrashNextRound: KindCountdown,
	EventCrashBets:      KindBets,
	EventCrashPoint:     KindTick,
	EventCrashCrashed:   KindOutcome,
	EventCrashSettled:   KindSettlement,
	EventCrashJoined:    KindReply,
	EventCrashCashedOut: KindReply,
	EventCrashTargetSet: KindReply,

	EventRouletteGames:      KindSnapshot,
	EventRouletteRoundStart: KindRoundAppended,
	EventRouletteBets:       KindBets,
	EventRouletteStopPoint:  KindOutcome,
	EventRouletteSettled:    KindSettlement,
	EventRouletteNextRound:  KindCountdown,
	EventRouletteJoined:     KindReply,

	EventJackpotGame:    KindSnapshot,
	EventJackpotUpdate:  KindRoundUpdated,
	EventJackpotWinner:  KindOutcome,
	EventJackpotSettled: KindSettlement,
	EventJackpotJoined:  KindReply,
}

func (t EventType) Kind() EventKind {
	return eventKinds[t]
}

type Event struct {
	Type    EventType `json:"type"`
	Payload any       `json:"payload,omitempty"`
}

// Broadcaster fans an event out to every subscriber of a game channel.
type Broadcaster interface {
	Broadcast(game GameType, evt Event)
}

type BetView struct {
	BetID         string          `json:"bet_id"`
	UserID        string          `json:"user_id"`
	Stake         decimal.Decimal `json:"stake"`
	Side          Side            `json:"side,omitempty"`
	Color         Color           `json:"color,omitempty"`
	CashoutTarget float64         `json:"cashout_target,omitempty"`
	CashedOut     bool            `json:"cashed_out,omitempty"`
}

type RoundView struct {
	ID          string          `json:"id"`
	Game        GameType        `json:"game"`
	Phase       Phase           `json:"phase"`
	Commitment  string          `json:"commitment"`
	Deadline    *time.Time      `json:"deadline,omitempty"`
	Bets        []BetView       `json:"bets"`
	TotalStaked decimal.Decimal `json:"total_staked"`
	Multiplier  float64         `json:"multiplier,omitempty"`
}

// View is a point-in-time copy of the public parts of a round.
func (r *Round) View() RoundView {
	r.mu.Lock()
	defer r.mu.Unlock()
	v := RoundView{
		ID:          r.ID,
		Game:        r.Game,
		Phase:       r.phase,
		Commitment:  r.seed.Commitment,
		Bets:        make([]BetView, 0, len(r.order)),
		TotalStaked: totalStake(r.order),
	}
	if !r.deadline.IsZero() {
		d := r.deadline
		v.Deadline = &d
	}
	if r.Game == GameCrash && r.phase == PhaseResolving {
		v.Multiplier = hundredthsToFloat(r.multiplier)
	}
	for _, b := range r.order {
		v.Bets = append(v.Bets, viewBet(*b))
	}
	return v
}

func viewBet(b Bet) BetView {
	return BetView{
		BetID:         b.ID,
		UserID:        b.UserID,
		Stake:         b.Stake,
		Side:          b.Side,
		Color:         b.Color,
		CashoutTarget: b.CashoutTarget,
		CashedOut:     b.CashedOut,
	}
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func ErrorEvent(err error) Event {
	return Event{Type: EventError, Payload: ErrorPayload{Code: ErrorCode(err), Message: err.Error()}}
}

type HeartbeatPayload struct {
	Timestamp time.Time `json:"timestamp"`
}

type HistoryPayload struct {
	Current *RoundView           `json:"current,omitempty"`
	Rounds  []RoundHistoryRecord `json:"rounds"`
}

type CoinflipGamesPayload struct {
	Ongoing []RoundView          `json:"ongoing"`
	Ended   []RoundHistoryRecord `json:"ended"`
}

type RoundRef struct {
	ID string `json:"id"`
}

type RoundDeletedPayload struct {
	Game RoundRef `json:"game"`
}

type BetsPayload struct {
	RoundID   string    `json:"round_id"`
	Bets      []BetView `json:"bets"`
	Timestamp time.Time `json:"timestamp"`
}

type TickPayload struct {
	RoundID string  `json:"round_id"`
	Current float64 `json:"current"`
}

type CountdownPayload struct {
	RoundID    string    `json:"round_id,omitempty"`
	Commitment string    `json:"commitment,omitempty"`
	StartsAt   time.Time `json:"starts_at"`
}

type OutcomePayload struct {
	RoundID string  `json:"round_id"`
	Outcome Outcome `json:"outcome"`
}

type TargetAckPayload struct {
	RoundID       string  `json:"round_id"`
	CashoutTarget float64 `json:"cashout_target"`
}

type BetAckPayload struct {
	RoundID string          `json:"round_id"`
	Bet     BetView         `json:"bet"`
	Balance decimal.Decimal `json:"balance"`
}

type CashoutAckPayload struct {
	RoundID    string          `json:"round_id"`
	Multiplier float64         `json:"multiplier"`
	Payout     decimal.Decimal `json:"payout"`
}

// SettlementPayload carries the archived record and its winners in one event.
type SettlementPayload struct {
	Record  RoundHistoryRecord `json:"record"`
	Winners []SettledBet       `json:"winners"`
}

func settlementEvent(t EventType) func(*RoundHistoryRecord) Event {
	return func(rec *RoundHistoryRecord) Event {
		winners := make([]SettledBet, 0, 1)
		for _, b := range rec.Bets {
			if b.Won() {
				winners = append(winners, b)
			}
		}
		return Event{Type: t, Payload: SettlementPayload{Record: *rec, Winners: winners}}
	}
}
