package ledger

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"

	"github.com/redis/go-redis/v9"
	"github.com/rocketscienceinc/tictactoe-stake/internal/entity"
)

const (
	statusOK                    = 0
	statusInsufficientAllowance = 1
	statusInsufficientFunds     = 2
	statusBalanceOverflow       = 3
)

// KEYS: balances, allowances. ARGV: owner, recipient, allowance field, amount, -amount.
var transferFromScript = redis.NewScript(`
local amount = tonumber(ARGV[4])
local allowance = tonumber(redis.call('HGET', KEYS[2], ARGV[3]) or '0')
if allowance < amount then
	return 1
end
local balance = tonumber(redis.call('HGET', KEYS[1], ARGV[1]) or '0')
if balance < amount then
	return 2
end
redis.call('HINCRBY', KEYS[1], ARGV[1], ARGV[5])
local credited = redis.pcall('HINCRBY', KEYS[1], ARGV[2], ARGV[4])
if type(credited) == 'table' and credited.err then
	redis.call('HINCRBY', KEYS[1], ARGV[1], ARGV[4])
	return 3
end
redis.call('HINCRBY', KEYS[2], ARGV[3], ARGV[5])
return 0
`)

// KEYS: balances, refs. ARGV: ref, sender, total, -total, then recipient/amount pairs.
// A non-empty ref already in refs makes the call a no-op. A credit that would
// overflow undoes the ones before it.
var transferBatchScript = redis.NewScript(`
if ARGV[1] ~= '' and redis.call('SISMEMBER', KEYS[2], ARGV[1]) == 1 then
	return 0
end
local total = tonumber(ARGV[3])
local balance = tonumber(redis.call('HGET', KEYS[1], ARGV[2]) or '0')
if balance < total then
	return 2
end
redis.call('HINCRBY', KEYS[1], ARGV[2], ARGV[4])
for i = 5, #ARGV, 2 do
	local credited = redis.pcall('HINCRBY', KEYS[1], ARGV[i], ARGV[i + 1])
	if type(credited) == 'table' and credited.err then
		for j = 5, i - 2, 2 do
			if ARGV[j + 1] ~= '0' then
				redis.call('HINCRBY', KEYS[1], ARGV[j], '-' .. ARGV[j + 1])
			end
		end
		redis.call('HINCRBY', KEYS[1], ARGV[2], ARGV[3])
		return 3
	end
end
if ARGV[1] ~= '' then
	redis.call('SADD', KEYS[2], ARGV[1])
end
return 0
`)

// Redis keeps balances and allowances of one token in two hashes. Every
// mutation runs as a single script, so a debit or a batch of credits is
// applied atomically.
type Redis struct {
	client *redis.Client
	token  string
}

func NewRedis(client *redis.Client, token string) *Redis {
	return &Redis{
		client: client,
		token:  token,
	}
}

func (that *Redis) balancesKey() string {
	return "ledger:" + that.token + ":balances"
}

func (that *Redis) allowancesKey() string {
	return "ledger:" + that.token + ":allowances"
}

func (that *Redis) refsKey() string {
	return "ledger:" + that.token + ":refs"
}

func (that *Redis) Mint(ctx context.Context, account string, amount uint64) error {
	if err := checkAmount(amount); err != nil {
		return err
	}

	if err := that.client.HIncrBy(ctx, that.balancesKey(), account, int64(amount)).Err(); err != nil {
		return fmt.Errorf("failed to mint: %w", err)
	}

	return nil
}

func (that *Redis) Approve(ctx context.Context, owner, spender string, amount uint64) error {
	if err := checkAmount(amount); err != nil {
		return err
	}

	err := that.client.HSet(ctx, that.allowancesKey(), allowanceKey(owner, spender), strconv.FormatUint(amount, 10)).Err()
	if err != nil {
		return fmt.Errorf("failed to approve: %w", err)
	}

	return nil
}

func (that *Redis) BalanceOf(ctx context.Context, account string) (uint64, error) {
	return that.getAmount(ctx, that.balancesKey(), account)
}

func (that *Redis) Allowance(ctx context.Context, owner, spender string) (uint64, error) {
	return that.getAmount(ctx, that.allowancesKey(), allowanceKey(owner, spender))
}

func (that *Redis) getAmount(ctx context.Context, key, field string) (uint64, error) {
	amount, err := that.client.HGet(ctx, key, field).Uint64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}

	if err != nil {
		return 0, fmt.Errorf("failed to read %s: %w", key, err)
	}

	return amount, nil
}

func (that *Redis) TransferFrom(ctx context.Context, spender, owner, recipient string, amount uint64) error {
	if err := checkAmount(amount); err != nil {
		return err
	}

	keys := []string{that.balancesKey(), that.allowancesKey()}
	status, err := transferFromScript.Run(ctx, that.client, keys,
		owner, recipient, allowanceKey(owner, spender), formatAmount(amount), formatNegative(amount),
	).Int()
	if err != nil {
		return fmt.Errorf("failed to run transfer-from: %w", err)
	}

	return statusError(status, owner)
}

func (that *Redis) Transfer(ctx context.Context, sender, recipient string, amount uint64) error {
	return that.TransferBatch(ctx, "", sender, []entity.Payout{{Account: recipient, Amount: amount}})
}

// Applied reports whether a batch with ref was already transferred.
func (that *Redis) Applied(ctx context.Context, ref string) (bool, error) {
	applied, err := that.client.SIsMember(ctx, that.refsKey(), ref).Result()
	if err != nil {
		return false, fmt.Errorf("failed to read %s: %w", that.refsKey(), err)
	}

	return applied, nil
}

// TransferBatch applies every credit or none of them. A non-empty ref is
// applied at most once; repeating it is a no-op.
func (that *Redis) TransferBatch(ctx context.Context, ref, sender string, payouts []entity.Payout) error {
	var total uint64
	for _, payout := range payouts {
		if payout.Amount > math.MaxInt64-total {
			return fmt.Errorf("%w: batch total", ErrAmountTooLarge)
		}
		total += payout.Amount
	}

	args := make([]interface{}, 0, 4+2*len(payouts))
	args = append(args, ref, sender, formatAmount(total), formatNegative(total))
	for _, payout := range payouts {
		args = append(args, payout.Account, formatAmount(payout.Amount))
	}

	keys := []string{that.balancesKey(), that.refsKey()}
	status, err := transferBatchScript.Run(ctx, that.client, keys, args...).Int()
	if err != nil {
		return fmt.Errorf("failed to run transfer: %w", err)
	}

	return statusError(status, sender)
}

func statusError(status int, account string) error {
	switch status {
	case statusOK:
		return nil
	case statusInsufficientAllowance:
		return fmt.Errorf("%w: %s", ErrInsufficientAllowance, account)
	case statusInsufficientFunds:
		return fmt.Errorf("%w: %s", ErrInsufficientFunds, account)
	case statusBalanceOverflow:
		return ErrBalanceOverflow
	default:
		return fmt.Errorf("unexpected ledger status %d", status)
	}
}

// checkAmount rejects amounts Redis cannot hold as a signed 64-bit integer.
func checkAmount(amount uint64) error {
	if amount > math.MaxInt64 {
		return fmt.Errorf("%w: %d", ErrAmountTooLarge, amount)
	}

	return nil
}

func formatAmount(amount uint64) string {
	return strconv.FormatUint(amount, 10)
}

// formatNegative avoids "-0", which HINCRBY rejects.
func formatNegative(amount uint64) string {
	if amount == 0 {
		return "0"
	}
	return "-" + strconv.FormatUint(amount, 10)
}
