package ledger

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/rocketscienceinc/tictactoe-stake/internal/entity"
)

var (
	ErrInsufficientFunds     = errors.New("insufficient funds")
	ErrInsufficientAllowance = errors.New("insufficient allowance")
	ErrBalanceOverflow       = errors.New("balance overflow")
	ErrAmountTooLarge        = errors.New("amount too large")
)

// Memory is a process-local ledger used for development and tests.
type Memory struct {
	mu         sync.Mutex
	balances   map[string]uint64
	allowances map[string]uint64
	applied    map[string]struct{}

	// BeforeTransferFrom runs before a debit is applied, outside the ledger
	// lock, so it may call back into the match. A non-nil error fails the debit.
	BeforeTransferFrom func(ctx context.Context, owner string) error
	// BeforeTransfer runs before each credit. A non-nil error fails the credit.
	BeforeTransfer func(ctx context.Context, recipient string) error
}

func NewMemory() *Memory {
	return &Memory{
		balances:   make(map[string]uint64),
		allowances: make(map[string]uint64),
		applied:    make(map[string]struct{}),
	}
}

func allowanceKey(owner, spender string) string {
	return owner + "|" + spender
}

func (that *Memory) Mint(_ context.Context, account string, amount uint64) error {
	that.mu.Lock()
	defer that.mu.Unlock()

	if that.balances[account] > math.MaxUint64-amount {
		return fmt.Errorf("%w: %s", ErrBalanceOverflow, account)
	}

	that.balances[account] += amount

	return nil
}

func (that *Memory) Approve(_ context.Context, owner, spender string, amount uint64) error {
	that.mu.Lock()
	defer that.mu.Unlock()

	that.allowances[allowanceKey(owner, spender)] = amount

	return nil
}

func (that *Memory) BalanceOf(_ context.Context, account string) (uint64, error) {
	that.mu.Lock()
	defer that.mu.Unlock()

	return that.balances[account], nil
}

func (that *Memory) Allowance(_ context.Context, owner, spender string) (uint64, error) {
	that.mu.Lock()
	defer that.mu.Unlock()

	return that.allowances[allowanceKey(owner, spender)], nil
}

func (that *Memory) TransferFrom(ctx context.Context, spender, owner, recipient string, amount uint64) error {
	if that.BeforeTransferFrom != nil {
		if err := that.BeforeTransferFrom(ctx, owner); err != nil {
			return err
		}
	}

	that.mu.Lock()
	defer that.mu.Unlock()

	key := allowanceKey(owner, spender)
	if that.allowances[key] < amount {
		return fmt.Errorf("%w: %s -> %s", ErrInsufficientAllowance, owner, spender)
	}

	if that.balances[owner] < amount {
		return fmt.Errorf("%w: %s", ErrInsufficientFunds, owner)
	}

	if owner != recipient && that.balances[recipient] > math.MaxUint64-amount {
		return fmt.Errorf("%w: %s", ErrBalanceOverflow, recipient)
	}

	that.allowances[key] -= amount
	that.balances[owner] -= amount
	that.balances[recipient] += amount

	return nil
}

func (that *Memory) Transfer(ctx context.Context, sender, recipient string, amount uint64) error {
	return that.TransferBatch(ctx, "", sender, []entity.Payout{{Account: recipient, Amount: amount}})
}

// Applied reports whether a batch with ref was already transferred.
func (that *Memory) Applied(_ context.Context, ref string) (bool, error) {
	that.mu.Lock()
	defer that.mu.Unlock()

	_, ok := that.applied[ref]

	return ok, nil
}

// TransferBatch applies every credit or none of them. A non-empty ref is
// applied at most once; repeating it is a no-op.
func (that *Memory) TransferBatch(ctx context.Context, ref, sender string, payouts []entity.Payout) error {
	if that.BeforeTransfer != nil {
		for _, payout := range payouts {
			if err := that.BeforeTransfer(ctx, payout.Account); err != nil {
				return err
			}
		}
	}

	that.mu.Lock()
	defer that.mu.Unlock()

	if _, ok := that.applied[ref]; ok && ref != "" {
		return nil
	}

	credits := make(map[string]uint64, len(payouts))
	var total uint64
	for _, payout := range payouts {
		if total > math.MaxUint64-payout.Amount {
			return fmt.Errorf("%w: batch total", ErrAmountTooLarge)
		}
		total += payout.Amount
		credits[payout.Account] += payout.Amount
	}

	if that.balances[sender] < total {
		return fmt.Errorf("%w: %s", ErrInsufficientFunds, sender)
	}

	for account, amount := range credits {
		balance := that.balances[account]
		if account == sender {
			balance -= total
		}
		if balance > math.MaxUint64-amount {
			return fmt.Errorf("%w: %s", ErrBalanceOverflow, account)
		}
	}

	that.balances[sender] -= total
	for account, amount := range credits {
		that.balances[account] += amount
	}

	if ref != "" {
		that.applied[ref] = struct{}{}
	}

	return nil
}
