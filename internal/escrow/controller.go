package escrow

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	"github.com/rocketscienceinc/tictactoe-stake/internal/apperror"
	"github.com/rocketscienceinc/tictactoe-stake/internal/entity"
)

// Ledger is the custodian of the staked asset. The match only ever talks to it
// through these calls; any of them may fail, and TransferFrom may call back
// into the controller before it returns.
type Ledger interface {
	BalanceOf(ctx context.Context, account string) (uint64, error)
	Allowance(ctx context.Context, owner, spender string) (uint64, error)
	TransferFrom(ctx context.Context, spender, owner, recipient string, amount uint64) error
	Transfer(ctx context.Context, sender, recipient string, amount uint64) error
}

// BatchTransferer is implemented by ledgers able to apply several credits
// from one sender atomically. A batch is applied at most once per ref.
type BatchTransferer interface {
	TransferBatch(ctx context.Context, ref, sender string, payouts []entity.Payout) error
	Applied(ctx context.Context, ref string) (bool, error)
}

type Controller struct {
	logger *slog.Logger
	ledger Ledger

	mu       sync.Mutex
	inFlight map[string]struct{}
}

func NewController(logger *slog.Logger, ledger Ledger) *Controller {
	return &Controller{
		logger:   logger.With("component", "escrow"),
		ledger:   ledger,
		inFlight: make(map[string]struct{}),
	}
}

// Stake debits the stake amount from caller into the match account. The
// escrow is recorded only after the ledger confirms the debit.
func (that *Controller) Stake(ctx context.Context, match *entity.Match, caller string) error {
	log := that.logger.With("method", "Stake", "matchID", match.ID, "caller", caller)

	if !match.IsPlayer(caller) {
		return apperror.ErrNotAPlayer
	}

	if match.HasStaked(caller) {
		return apperror.ErrAlreadyStaked
	}

	release, err := that.acquire(match.ID, caller)
	if err != nil {
		return err
	}
	defer release()

	balance, err := that.ledger.BalanceOf(ctx, caller)
	if err != nil {
		return fmt.Errorf("failed to get balance: %w", err)
	}

	if balance <= match.StakeAmount {
		return fmt.Errorf("%w: balance %d, stake %d", apperror.ErrInsufficientBalance, balance, match.StakeAmount)
	}

	allowance, err := that.ledger.Allowance(ctx, caller, match.Account)
	if err != nil {
		return fmt.Errorf("failed to get allowance: %w", err)
	}

	if allowance <= match.StakeAmount {
		return fmt.Errorf("%w: allowance %d, stake %d", apperror.ErrInsufficientAllowance, allowance, match.StakeAmount)
	}

	if err = that.ledger.TransferFrom(ctx, match.Account, caller, match.Account, match.StakeAmount); err != nil {
		return fmt.Errorf("%w: %w", apperror.ErrTransferFailed, err)
	}

	match.RecordStake(caller, match.StakeAmount)

	log.Info("stake recorded", "amount", match.StakeAmount, "status", match.Status)

	return nil
}

// Reward pays the whole tracked escrow to winner and clears both stakes.
func (that *Controller) Reward(ctx context.Context, match *entity.Match, winner string) ([]entity.Payout, error) {
	payouts, err := that.settle(ctx, match, []entity.Payout{{Account: winner, Amount: match.EscrowTotal()}})
	if err != nil {
		return nil, err
	}

	that.logger.Info("winner rewarded", "matchID", match.ID, "winner", winner, "amount", payouts[0].Amount)

	return payouts, nil
}

// Refund returns to each player the stake they escrowed and clears both stakes.
func (that *Controller) Refund(ctx context.Context, match *entity.Match) ([]entity.Payout, error) {
	payouts, err := that.settle(ctx, match, []entity.Payout{
		{Account: match.PlayerOne, Amount: match.PlayerOneStake()},
		{Account: match.PlayerTwo, Amount: match.PlayerTwoStake()},
	})
	if err != nil {
		return nil, err
	}

	that.logger.Info("stakes refunded", "matchID", match.ID, "perPlayer", match.StakeAmount)

	return payouts, nil
}

// settle delivers the pending settlement of match, planning it from payouts
// when nothing is pending yet. Progress is kept on match.Settlement so a
// failed settlement resumes where it stopped instead of paying twice.
func (that *Controller) settle(ctx context.Context, match *entity.Match, payouts []entity.Payout) ([]entity.Payout, error) {
	if match.Settlement == nil {
		match.Settlement = &entity.Settlement{}
	}

	plan := match.Settlement
	if len(plan.Payouts) == 0 {
		plan.Payouts = payouts
		plan.Delivered = 0
	}

	if err := that.deliver(ctx, match, plan); err != nil {
		if plan.Delivered == 0 {
			match.Settlement = nil
		} else {
			that.logger.Warn("settlement partially delivered",
				"matchID", match.ID, "delivered", plan.Delivered, "payouts", len(plan.Payouts))
		}

		return nil, err
	}

	settled := plan.Payouts
	match.Settlement = nil
	match.ResetStakes()

	return settled, nil
}

func (that *Controller) deliver(ctx context.Context, match *entity.Match, plan *entity.Settlement) error {
	if batcher, ok := that.ledger.(BatchTransferer); ok {
		ref := settlementRef(match)

		applied, err := batcher.Applied(ctx, ref)
		if err != nil {
			return fmt.Errorf("failed to check settlement %s: %w", ref, err)
		}

		if !applied {
			if err = that.assertHeld(ctx, match, plan.RemainingTotal()); err != nil {
				return err
			}

			if err = batcher.TransferBatch(ctx, ref, match.Account, plan.Remaining()); err != nil {
				return fmt.Errorf("%w: %w", apperror.ErrTransferFailed, err)
			}
		}

		plan.Delivered = len(plan.Payouts)

		return nil
	}

	if err := that.assertHeld(ctx, match, plan.RemainingTotal()); err != nil {
		return err
	}

	for _, payout := range plan.Remaining() {
		if err := that.ledger.Transfer(ctx, match.Account, payout.Account, payout.Amount); err != nil {
			return fmt.Errorf("%w: transfer to %s: %w", apperror.ErrTransferFailed, payout.Account, err)
		}
		plan.Delivered++
	}

	return nil
}

func settlementRef(match *entity.Match) string {
	return match.ID + "/" + strconv.Itoa(match.Round)
}

// assertHeld checks the ledger holds at least the tracked escrow. Anything
// above it is not ours to settle and stays in the match account.
func (that *Controller) assertHeld(ctx context.Context, match *entity.Match, tracked uint64) error {
	held, err := that.ledger.BalanceOf(ctx, match.Account)
	if err != nil {
		return fmt.Errorf("failed to get match balance: %w", err)
	}

	if held < tracked {
		return fmt.Errorf("%w: held %d, tracked %d", apperror.ErrEscrowMismatch, held, tracked)
	}

	if held > tracked {
		that.logger.Warn("match account holds more than the escrow",
			"matchID", match.ID, "held", held, "tracked", tracked)
	}

	return nil
}

func (that *Controller) acquire(matchID, caller string) (func(), error) {
	key := matchID + "/" + caller

	that.mu.Lock()
	defer that.mu.Unlock()

	if _, busy := that.inFlight[key]; busy {
		return nil, apperror.ErrStakeInProgress
	}

	that.inFlight[key] = struct{}{}

	return func() {
		that.mu.Lock()
		delete(that.inFlight, key)
		that.mu.Unlock()
	}, nil
}
