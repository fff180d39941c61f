package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"reaper/internal/game"
)

const (
	REDIS_KEY_ACCOUNT_PREFIX = "account:"
	refTTL                   = 7 * 24 * time.Hour
)

// KEYS: balance, ref. ARGV: cents, ref ttl seconds.
// Returns {applied, balance}; applied is 0 when funds are short.
var debitScript = redis.NewScript(`
local bal = tonumber(redis.call('GET', KEYS[1]) or '0')
if redis.call('EXISTS', KEYS[2]) == 1 then
  return {1, bal}
end
local amt = tonumber(ARGV[1])
if bal < amt then
  return {0, bal}
end
bal = redis.call('DECRBY', KEYS[1], amt)
redis.call('SET', KEYS[2], 'debit', 'EX', ARGV[2])
return {1, bal}
`)

var creditScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[2]) == 1 then
  return {1, tonumber(redis.call('GET', KEYS[1]) or '0')}
end
local bal = redis.call('INCRBY', KEYS[1], ARGV[1])
redis.call('SET', KEYS[2], 'credit', 'EX', ARGV[2])
return {1, bal}
`)

// RedisAccounts stores each balance as integer cents. Both keys of a user
// share a hash tag so the scripts stay single-slot on a cluster.
type RedisAccounts struct {
	client *redis.Client
}

func NewRedisAccounts(client *redis.Client) *RedisAccounts {
	return &RedisAccounts{client: client}
}

func balanceKey(userID string) string {
	return fmt.Sprintf("%s{%s}:balance", REDIS_KEY_ACCOUNT_PREFIX, userID)
}

func refKey(userID, ref string) string {
	return fmt.Sprintf("%s{%s}:ref:%s", REDIS_KEY_ACCOUNT_PREFIX, userID, ref)
}

func (a *RedisAccounts) Balance(ctx context.Context, userID string) (decimal.Decimal, error) {
	cents, err := a.client.Get(ctx, balanceKey(userID)).Int64()
	if errors.Is(err, redis.Nil) {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("get balance %s: %w", userID, err)
	}
	return fromMinor(cents), nil
}

func (a *RedisAccounts) SetBalance(ctx context.Context, userID string, amount decimal.Decimal) error {
	if err := checkBalance(amount); err != nil {
		return err
	}
	if err := a.client.Set(ctx, balanceKey(userID), toMinor(amount), 0).Err(); err != nil {
		return fmt.Errorf("set balance %s: %w", userID, err)
	}
	return nil
}

func (a *RedisAccounts) Debit(ctx context.Context, userID string, amount decimal.Decimal, ref string) (decimal.Decimal, error) {
	applied, balance, err := a.run(ctx, debitScript, userID, amount, ref)
	if err != nil {
		return decimal.Zero, fmt.Errorf("debit %s: %w", userID, err)
	}
	if !applied {
		return balance, game.ErrInsufficientBalance
	}
	return balance, nil
}

func (a *RedisAccounts) Credit(ctx context.Context, userID string, amount decimal.Decimal, ref string) (decimal.Decimal, error) {
	_, balance, err := a.run(ctx, creditScript, userID, amount, ref)
	if err != nil {
		return decimal.Zero, fmt.Errorf("credit %s: %w", userID, err)
	}
	return balance, nil
}

func (a *RedisAccounts) run(ctx context.Context, script *redis.Script, userID string, amount decimal.Decimal, ref string) (bool, decimal.Decimal, error) {
	if err := checkAmount(amount); err != nil {
		return false, decimal.Zero, err
	}
	keys := []string{balanceKey(userID), refKey(userID, ref)}
	res, err := script.Run(ctx, a.client, keys, toMinor(amount), int64(refTTL/time.Second)).Int64Slice()
	if err != nil {
		return false, decimal.Zero, err
	}
	if len(res) != 2 {
		return false, decimal.Zero, fmt.Errorf("unexpected script reply %v", res)
	}
	return res[0] == 1, fromMinor(res[1]), nil
}
