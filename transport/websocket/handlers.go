package websocket

import (
	"context"
	"fmt"

	"github.com/rocketscienceinc/tictactoe-stake/internal/entity"
)

func (that *Server) handleSubscribe(ctx context.Context, c *client, msg *Message) error {
	payload, err := parsePayload(msg)
	if err != nil {
		return err
	}

	match, err := that.matches.GetMatch(ctx, payload.MatchID)
	if err != nil {
		return err
	}

	that.hub.Subscribe(match.ID, c)

	return c.send(Response{
		Action:  msg.Action,
		Payload: &ResponsePayload{Match: match.View()},
	})
}

func (that *Server) handleStake(ctx context.Context, c *client, msg *Message) error {
	payload, err := parsePayload(msg)
	if err != nil {
		return err
	}

	match, err := that.matches.StakeTokens(ctx, payload.MatchID, c.account)
	if err != nil {
		return err
	}

	that.hub.Subscribe(match.ID, c)
	that.broadcast(match, nil)

	return nil
}

func (that *Server) handlePlay(ctx context.Context, c *client, msg *Message) error {
	payload, err := parsePayload(msg)
	if err != nil {
		return err
	}

	if payload.Cell == nil {
		return ErrMissingCell
	}

	match, result, err := that.matches.Play(ctx, payload.MatchID, c.account, *payload.Cell)
	if err != nil {
		return err
	}

	that.hub.Subscribe(match.ID, c)
	that.broadcast(match, result)

	return nil
}

// broadcast sends the new state of match to all of its subscribers.
func (that *Server) broadcast(match *entity.Match, result *entity.RoundResult) {
	log := that.logger.With("method", "broadcast", "matchID", match.ID)

	resp := Response{
		Action: actionUpdate,
		Payload: &ResponsePayload{
			Match:  match.View(),
			Result: result,
		},
	}

	for _, c := range that.hub.Subscribers(match.ID) {
		if err := c.send(resp); err != nil {
			log.Error("failed to send match update", "account", c.account, "error", err)
		}
	}
}

func (that *Server) sendError(c *client, action, reason string) {
	if err := c.send(Response{Action: action, Error: reason}); err != nil {
		that.logger.Error("failed to send error response", "account", c.account, "error", fmt.Errorf("%s: %w", reason, err))
	}
}
