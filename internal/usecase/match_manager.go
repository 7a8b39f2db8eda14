package usecase

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/rocketscienceinc/tictactoe-stake/internal/apperror"
	"github.com/rocketscienceinc/tictactoe-stake/internal/entity"
)

type matchRepo interface {
	CreateOrUpdate(ctx context.Context, match *entity.Match) error
	GetByID(ctx context.Context, id string) (*entity.Match, error)
}

type roundRepo interface {
	Save(ctx context.Context, result *entity.RoundResult) error
	ListByMatch(ctx context.Context, matchID string) ([]*entity.RoundResult, error)
}

type escrowController interface {
	Stake(ctx context.Context, match *entity.Match, caller string) error
}

type gameController interface {
	Play(ctx context.Context, match *entity.Match, caller string, cell int) (*entity.RoundResult, error)
}

// MatchManager runs every operation of a match as one unit: load, apply,
// persist. Operations on the same match never interleave.
type MatchManager struct {
	logger *slog.Logger

	matchRepo matchRepo
	roundRepo roundRepo
	escrow    escrowController
	game      gameController

	stakingToken string
	locks        *keyedLock
	staking      *inFlight
	newID        func() string
}

func NewMatchManager(
	logger *slog.Logger,
	matchRepo matchRepo,
	roundRepo roundRepo,
	escrow escrowController,
	game gameController,
	stakingToken string,
) *MatchManager {
	return &MatchManager{
		logger: logger.With("component", "match_manager"),

		matchRepo: matchRepo,
		roundRepo: roundRepo,
		escrow:    escrow,
		game:      game,

		stakingToken: stakingToken,
		locks:        newKeyedLock(),
		staking:      newInFlight(),
		newID:        uuid.NewString,
	}
}

func (that *MatchManager) CreateMatch(ctx context.Context, params entity.MatchParams) (*entity.Match, error) {
	if params.StakingToken == "" {
		params.StakingToken = that.stakingToken
	}

	if params.StakingToken != that.stakingToken {
		return nil, fmt.Errorf("%w: token %q is not served here", apperror.ErrInvalidConfiguration, params.StakingToken)
	}

	match, err := entity.NewMatch(that.newID(), params)
	if err != nil {
		return nil, fmt.Errorf("failed to create match: %w", err)
	}

	if err = that.matchRepo.CreateOrUpdate(ctx, match); err != nil {
		return nil, fmt.Errorf("failed to save match: %w", err)
	}

	that.logger.Info("match created", "matchID", match.ID, "stakeAmount", match.StakeAmount)

	return match, nil
}

func (that *MatchManager) GetMatch(ctx context.Context, matchID string) (*entity.Match, error) {
	match, err := that.matchRepo.GetByID(ctx, matchID)
	if err != nil {
		return nil, fmt.Errorf("failed to get match: %w", err)
	}

	return match, nil
}

// StakeTokens debits caller's stake into the match. A stake by the same caller
// on the same match that is still underway fails with ErrStakeInProgress
// rather than waiting for it.
func (that *MatchManager) StakeTokens(ctx context.Context, matchID, caller string) (*entity.Match, error) {
	log := that.logger.With("method", "StakeTokens", "matchID", matchID, "caller", caller)

	done, ok := that.staking.acquire(matchID + "/" + caller)
	if !ok {
		return nil, apperror.ErrStakeInProgress
	}
	defer done()

	unlock, err := that.locks.Lock(ctx, matchID)
	if err != nil {
		return nil, fmt.Errorf("failed to lock match: %w", err)
	}
	defer unlock()

	match, err := that.GetMatch(ctx, matchID)
	if err != nil {
		return nil, err
	}

	if err = that.escrow.Stake(ctx, match, caller); err != nil {
		return nil, fmt.Errorf("failed to stake: %w", err)
	}

	if err = that.matchRepo.CreateOrUpdate(ctx, match); err != nil {
		log.Error("stake debited but match not saved", "error", err)
		return nil, fmt.Errorf("failed to save match: %w", err)
	}

	return match, nil
}

// Play applies one move. The returned result is non-nil when the move ended
// the round.
func (that *MatchManager) Play(ctx context.Context, matchID, caller string, cell int) (*entity.Match, *entity.RoundResult, error) {
	log := that.logger.With("method", "Play", "matchID", matchID, "caller", caller)

	unlock, err := that.locks.Lock(ctx, matchID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to lock match: %w", err)
	}
	defer unlock()

	match, err := that.GetMatch(ctx, matchID)
	if err != nil {
		return nil, nil, err
	}

	result, err := that.game.Play(ctx, match, caller, cell)
	if err != nil {
		if pending := match.Settlement; pending != nil && pending.Delivered > 0 {
			if saveErr := that.matchRepo.CreateOrUpdate(ctx, match); saveErr != nil {
				log.Error("settlement progress not saved", "error", saveErr, "delivered", pending.Delivered)
			}
		}

		return nil, nil, fmt.Errorf("failed to make turn: %w", err)
	}

	if err = that.matchRepo.CreateOrUpdate(ctx, match); err != nil {
		log.Error("move applied but match not saved", "error", err, "settled", result != nil)
		return nil, nil, fmt.Errorf("failed to save match: %w", err)
	}

	if result != nil {
		if err = that.roundRepo.Save(ctx, result); err != nil {
			log.Error("failed to journal round", "round", result.Round, "error", err)
		}
	}

	return match, result, nil
}

func (that *MatchManager) ListRounds(ctx context.Context, matchID string) ([]*entity.RoundResult, error) {
	if _, err := that.GetMatch(ctx, matchID); err != nil {
		return nil, err
	}

	rounds, err := that.roundRepo.ListByMatch(ctx, matchID)
	if err != nil {
		return nil, fmt.Errorf("failed to list rounds: %w", err)
	}

	return rounds, nil
}
