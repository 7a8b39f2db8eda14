package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rocketscienceinc/tictactoe-stake/internal/entity"
)

// RoundRepository is the append-only journal of finished rounds.
type RoundRepository interface {
	Save(ctx context.Context, result *entity.RoundResult) error
	ListByMatch(ctx context.Context, matchID string) ([]*entity.RoundResult, error)
}

type roundRepository struct {
	conn *sql.DB
}

func NewRoundRepository(conn *sql.DB) RoundRepository {
	return &roundRepository{
		conn: conn,
	}
}

func (that *roundRepository) Save(ctx context.Context, result *entity.RoundResult) error {
	query := `INSERT INTO rounds (match_id, round, outcome, winner, payouts, board, finished_at) VALUES (?, ?, ?, ?, ?, ?, ?)`

	payouts, err := json.Marshal(result.Payouts)
	if err != nil {
		return fmt.Errorf("can't marshal payouts: %w", err)
	}

	board, err := json.Marshal(result.Board)
	if err != nil {
		return fmt.Errorf("can't marshal board: %w", err)
	}

	_, err = that.conn.ExecContext(ctx, query,
		result.MatchID, result.Round, string(result.Outcome), result.Winner,
		string(payouts), string(board), result.FinishedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("can't save round: %w", err)
	}

	return nil
}

func (that *roundRepository) ListByMatch(ctx context.Context, matchID string) ([]*entity.RoundResult, error) {
	query := `SELECT match_id, round, outcome, winner, payouts, board, finished_at FROM rounds WHERE match_id = ? ORDER BY round`

	rows, err := that.conn.QueryContext(ctx, query, matchID)
	if err != nil {
		return nil, fmt.Errorf("can't list rounds: %w", err)
	}
	defer rows.Close()

	results := make([]*entity.RoundResult, 0)
	for rows.Next() {
		var (
			result             entity.RoundResult
			outcome            string
			payouts, board, at string
		)

		if err = rows.Scan(&result.MatchID, &result.Round, &outcome, &result.Winner, &payouts, &board, &at); err != nil {
			return nil, fmt.Errorf("can't scan round: %w", err)
		}

		result.Outcome = entity.Outcome(outcome)

		if err = json.Unmarshal([]byte(payouts), &result.Payouts); err != nil {
			return nil, fmt.Errorf("can't unmarshal payouts: %w", err)
		}

		if err = json.Unmarshal([]byte(board), &result.Board); err != nil {
			return nil, fmt.Errorf("can't unmarshal board: %w", err)
		}

		if result.FinishedAt, err = time.Parse(time.RFC3339Nano, at); err != nil {
			return nil, fmt.Errorf("can't parse finish time: %w", err)
		}

		results = append(results, &result)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("can't iterate rounds: %w", err)
	}

	return results, nil
}
