package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rocketscienceinc/tictactoe-stake/internal/apperror"
	"github.com/rocketscienceinc/tictactoe-stake/internal/entity"
)

type MatchRepository interface {
	CreateOrUpdate(ctx context.Context, match *entity.Match) error
	GetByID(ctx context.Context, id string) (*entity.Match, error)
}

type dbMatch struct {
	client *redis.Client
}

func NewMatchRepository(client *redis.Client) MatchRepository {
	return &dbMatch{
		client: client,
	}
}

func matchKey(id string) string {
	return "match:" + id
}

func (that *dbMatch) CreateOrUpdate(ctx context.Context, match *entity.Match) error {
	matchJSON, err := json.Marshal(match)
	if err != nil {
		return fmt.Errorf("could not marshal match: %w", err)
	}

	if err = that.client.Set(ctx, matchKey(match.ID), matchJSON, 0).Err(); err != nil {
		return fmt.Errorf("failed to set match: %w", err)
	}

	return nil
}

func (that *dbMatch) GetByID(ctx context.Context, id string) (*entity.Match, error) {
	response, err := that.client.Get(ctx, matchKey(id)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, apperror.ErrMatchNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("failed to get match by id: %w", err)
	}

	var existingMatch entity.Match
	if err = json.Unmarshal([]byte(response), &existingMatch); err != nil {
		return nil, fmt.Errorf("failed to unmarshal match: %w", err)
	}

	if existingMatch.Stakes == nil {
		existingMatch.Stakes = map[string]uint64{}
	}

	return &existingMatch, nil
}
