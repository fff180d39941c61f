package game

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// BetLimits bound every stake. Values are decoded from strings so that no
// float ever touches a money amount.
type BetLimits struct {
	Min decimal.Decimal
	Max decimal.Decimal
}

func (l *BetLimits) UnmarshalYAML(n *yaml.Node) error {
	var raw struct {
		Min string `yaml:"min"`
		Max string `yaml:"max"`
	}
	if err := n.Decode(&raw); err != nil {
		return err
	}
	if raw.Min != "" {
		d, err := decimal.NewFromString(raw.Min)
		if err != nil {
			return fmt.Errorf("limits.min: %w", err)
		}
		l.Min = d
	}
	if raw.Max != "" {
		d, err := decimal.NewFromString(raw.Max)
		if err != nil {
			return fmt.Errorf("limits.max: %w", err)
		}
		l.Max = d
	}
	return nil
}

type CoinflipSettings struct {
	Timeout       time.Duration `yaml:"timeout"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

type CrashSettings struct {
	BettingWindow time.Duration `yaml:"betting_window"`
	TickInterval  time.Duration `yaml:"tick_interval"`
	Pause         time.Duration `yaml:"pause"`
	BetsInterval  time.Duration `yaml:"bets_interval"`
}

type RouletteSettings struct {
	Betting           time.Duration `yaml:"betting"`
	Payout            time.Duration `yaml:"payout"`
	Cooldown          time.Duration `yaml:"cooldown"`
	CountdownInterval time.Duration `yaml:"countdown_interval"`
}

type JackpotSettings struct {
	Threshold int `yaml:"threshold"`
}

type PayoutSettings struct {
	MaxRetries    int           `yaml:"max_retries"`
	RetryInterval time.Duration `yaml:"retry_interval"`
}

// Settings holds the tunables of every game.
type Settings struct {
	Limits    BetLimits        `yaml:"limits"`
	Coinflip  CoinflipSettings `yaml:"coinflip"`
	Crash     CrashSettings    `yaml:"crash"`
	Roulette  RouletteSettings `yaml:"roulette"`
	Jackpot   JackpotSettings  `yaml:"jackpot"`
	Payout    PayoutSettings   `yaml:"payout"`
	Heartbeat time.Duration    `yaml:"heartbeat"`
}

func DefaultSettings() Settings {
	return Settings{
		Limits: BetLimits{
			Min: decimal.RequireFromString("0.01"),
			Max: decimal.NewFromInt(10000),
		},
		Coinflip: CoinflipSettings{
			Timeout:       8 * time.Minute,
			SweepInterval: time.Second,
		},
		Crash: CrashSettings{
			BettingWindow: 10 * time.Second,
			TickInterval:  100 * time.Millisecond,
			Pause:         5 * time.Second,
			BetsInterval:  time.Second,
		},
		Roulette: RouletteSettings{
			Betting:           30 * time.Second,
			Payout:            5 * time.Second,
			Cooldown:          30 * time.Second,
			CountdownInterval: time.Second,
		},
		Jackpot: JackpotSettings{
			Threshold: 8,
		},
		Payout: PayoutSettings{
			MaxRetries:    5,
			RetryInterval: 200 * time.Millisecond,
		},
		Heartbeat: 30 * time.Second,
	}
}
