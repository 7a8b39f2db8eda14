package tictactoe

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/rocketscienceinc/tictactoe-stake/internal/apperror"
	"github.com/rocketscienceinc/tictactoe-stake/internal/entity"
)

type settler interface {
	Reward(ctx context.Context, match *entity.Match, winner string) ([]entity.Payout, error)
	Refund(ctx context.Context, match *entity.Match) ([]entity.Payout, error)
}

type GameController struct {
	logger *slog.Logger
	escrow settler
	now    func() time.Time
}

func NewGameController(logger *slog.Logger, escrow settler) *GameController {
	return &GameController{
		logger: logger.With("component", "tictactoe"),
		escrow: escrow,
		now:    time.Now,
	}
}

// Play places caller's symbol on cell. A non-nil result means the move ended
// the round: stakes were settled and the board was reset for the next one.
// On any error the match is left as it was, except for a partially delivered
// settlement, which only the same move may resume.
func (that *GameController) Play(ctx context.Context, match *entity.Match, caller string, cell int) (*entity.RoundResult, error) {
	if err := validateMove(match, caller, cell); err != nil {
		return nil, fmt.Errorf("invalid turn: %w", err)
	}

	board := match.Board
	board[cell] = match.SymbolOf(caller)

	result, nextTurn, err := that.resolve(ctx, match, caller, cell, board)
	if err != nil {
		return nil, err
	}

	if result == nil {
		match.Board = board
		match.Turn = match.Opponent(caller)

		return nil, nil
	}

	match.FinishRound(result, nextTurn)

	that.logger.Info("round finished",
		"matchID", match.ID, "round", result.Round, "outcome", result.Outcome, "winner", result.Winner)

	return result, nil
}

// validateMove - checks preconditions in the order they are reported.
func validateMove(match *entity.Match, caller string, cell int) error {
	if cell < 0 || cell >= entity.BoardSize {
		return fmt.Errorf("%w: cell %d", apperror.ErrCellOutOfRange, cell)
	}

	if !match.IsPlayer(caller) {
		return apperror.ErrNotAPlayer
	}

	if !match.StakesComplete() {
		return apperror.ErrStakesIncomplete
	}

	if pending := match.Settlement; pending != nil && (pending.Caller != caller || pending.Cell != cell) {
		return fmt.Errorf("%w: cell %d by %s", apperror.ErrSettlementPending, pending.Cell, pending.Caller)
	}

	if match.Board[cell] != entity.EmptyCell {
		return apperror.ErrCellOccupied
	}

	if match.Turn != caller {
		return apperror.ErrNotYourTurn
	}

	return nil
}

// resolve settles a terminal board. Player one's line is checked first, and
// a full board only counts as a draw when neither player has a line.
func (that *GameController) resolve(
	ctx context.Context, match *entity.Match, caller string, cell int, board entity.Board,
) (*entity.RoundResult, string, error) {
	result := &entity.RoundResult{
		MatchID: match.ID,
		Round:   match.Round,
		Board:   board,
	}

	if !board.HasWon(match.PlayerOneSymbol) && !board.HasWon(match.PlayerTwoSymbol) && !board.IsFilled() {
		return nil, "", nil
	}

	if match.Settlement == nil {
		match.Settlement = &entity.Settlement{Caller: caller, Cell: cell}
	}

	var err error

	switch {
	case board.HasWon(match.PlayerOneSymbol):
		result.Outcome, result.Winner = entity.OutcomeWin, match.PlayerOne
		result.Payouts, err = that.escrow.Reward(ctx, match, match.PlayerOne)
	case board.HasWon(match.PlayerTwoSymbol):
		result.Outcome, result.Winner = entity.OutcomeWin, match.PlayerTwo
		result.Payouts, err = that.escrow.Reward(ctx, match, match.PlayerTwo)
	case board.IsFilled():
		result.Outcome = entity.OutcomeDraw
		result.Payouts, err = that.escrow.Refund(ctx, match)
	}

	if err != nil {
		return nil, "", fmt.Errorf("failed to settle round: %w", err)
	}

	result.FinishedAt = that.now().UTC()

	nextTurn := match.PlayerOne
	if result.Outcome == entity.OutcomeWin {
		nextTurn = result.Winner
	}

	return result, nextTurn, nil
}
