package websocket

import (
	"encoding/json"
	"errors"

	"github.com/rocketscienceinc/tictactoe-stake/internal/entity"
)

const (
	actionSubscribe = "match:subscribe"
	actionStake     = "match:stake"
	actionPlay      = "match:play"
	actionUpdate    = "match:update"
)

var (
	ErrUnknownAction = errors.New("unknown action")
	ErrMissingMatch  = errors.New("match_id is required")
	ErrMissingCell   = errors.New("cell is required")
)

// Message represents a WebSocket message with an action type and a payload.
type Message struct {
	Action  string          `json:"action"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type Payload struct {
	MatchID string `json:"match_id"`
	Cell    *int   `json:"cell,omitempty"`
}

type Response struct {
	Action  string           `json:"action"`
	Payload *ResponsePayload `json:"payload,omitempty"`
	Error   string           `json:"error,omitempty"`
}

type ResponsePayload struct {
	Match  entity.MatchView    `json:"match"`
	Result *entity.RoundResult `json:"result,omitempty"`
}

func parsePayload(msg *Message) (Payload, error) {
	var payload Payload

	if len(msg.Payload) > 0 {
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			return payload, err
		}
	}

	if payload.MatchID == "" {
		return payload, ErrMissingMatch
	}

	return payload, nil
}
