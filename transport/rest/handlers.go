package rest

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/rocketscienceinc/tictactoe-stake/internal/apperror"
	"github.com/rocketscienceinc/tictactoe-stake/internal/entity"
	"github.com/rocketscienceinc/tictactoe-stake/internal/ledger"
)

type matchManager interface {
	CreateMatch(ctx context.Context, params entity.MatchParams) (*entity.Match, error)
	GetMatch(ctx context.Context, matchID string) (*entity.Match, error)
	StakeTokens(ctx context.Context, matchID, caller string) (*entity.Match, error)
	Play(ctx context.Context, matchID, caller string, cell int) (*entity.Match, *entity.RoundResult, error)
	ListRounds(ctx context.Context, matchID string) ([]*entity.RoundResult, error)
}

type authService interface {
	GenerateToken(account string) (string, error)
	ParseToken(token string) (string, error)
}

type faucet interface {
	Mint(ctx context.Context, account string, amount uint64) error
	Approve(ctx context.Context, owner, spender string, amount uint64) error
}

type Handlers struct {
	logger *slog.Logger

	matches matchManager
	auth    authService
	faucet  faucet

	// allowIssue enables /tokens and /faucet.
	allowIssue bool
}

func NewHandlers(logger *slog.Logger, matches matchManager, auth authService, faucet faucet, allowIssue bool) *Handlers {
	return &Handlers{
		logger:     logger.With("component", "rest"),
		matches:    matches,
		auth:       auth,
		faucet:     faucet,
		allowIssue: allowIssue,
	}
}

func (that *Handlers) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /ping", that.Ping)
	mux.HandleFunc("POST /tokens", that.IssueToken)
	mux.HandleFunc("POST /faucet", that.Faucet)
	mux.HandleFunc("POST /matches", that.CreateMatch)
	mux.HandleFunc("GET /matches/{id}", that.GetMatch)
	mux.HandleFunc("POST /matches/{id}/stake", that.Stake)
	mux.HandleFunc("POST /matches/{id}/play", that.Play)
	mux.HandleFunc("GET /matches/{id}/rounds", that.ListRounds)

	return mux
}

type tokenRequest struct {
	Account string `json:"account"`
}

type faucetRequest struct {
	Account string `json:"account"`
	MatchID string `json:"match_id"`
	Amount  uint64 `json:"amount"`
}

type playRequest struct {
	Cell *int `json:"cell"`
}

type playResponse struct {
	Match  entity.MatchView    `json:"match"`
	Result *entity.RoundResult `json:"result,omitempty"`
}

func (that *Handlers) IssueToken(w http.ResponseWriter, r *http.Request) {
	if !that.allowIssue {
		http.Error(w, "Not Found", http.StatusNotFound)
		return
	}

	var req tokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	token, err := that.auth.GenerateToken(req.Account)
	if err != nil {
		that.writeError(w, "IssueToken", err)
		return
	}

	that.writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

// Faucet mints amount to account and, when a match is given, approves the
// match escrow account to spend it.
func (that *Handlers) Faucet(w http.ResponseWriter, r *http.Request) {
	log := that.logger.With("method", "Faucet")

	if !that.allowIssue {
		http.Error(w, "Not Found", http.StatusNotFound)
		return
	}

	var req faucetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Account == "" {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	ctx := r.Context()

	if err := that.faucet.Mint(ctx, req.Account, req.Amount); err != nil {
		that.writeError(w, "Faucet", err)
		return
	}

	if req.MatchID != "" {
		if _, err := that.matches.GetMatch(ctx, req.MatchID); err != nil {
			that.writeError(w, "Faucet", err)
			return
		}

		if err := that.faucet.Approve(ctx, req.Account, entity.MatchAccount(req.MatchID), req.Amount); err != nil {
			that.writeError(w, "Faucet", err)
			return
		}
	}

	log.Info("account funded", "account", req.Account, "matchID", req.MatchID, "amount", req.Amount)

	w.WriteHeader(http.StatusNoContent)
}

func (that *Handlers) CreateMatch(w http.ResponseWriter, r *http.Request) {
	var params entity.MatchParams
	if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	match, err := that.matches.CreateMatch(r.Context(), params)
	if err != nil {
		that.writeError(w, "CreateMatch", err)
		return
	}

	that.writeJSON(w, http.StatusCreated, match.View())
}

func (that *Handlers) GetMatch(w http.ResponseWriter, r *http.Request) {
	match, err := that.matches.GetMatch(r.Context(), r.PathValue("id"))
	if err != nil {
		that.writeError(w, "GetMatch", err)
		return
	}

	that.writeJSON(w, http.StatusOK, match.View())
}

func (that *Handlers) Stake(w http.ResponseWriter, r *http.Request) {
	caller, err := that.caller(r)
	if err != nil {
		that.writeError(w, "Stake", err)
		return
	}

	match, err := that.matches.StakeTokens(r.Context(), r.PathValue("id"), caller)
	if err != nil {
		that.writeError(w, "Stake", err)
		return
	}

	that.writeJSON(w, http.StatusOK, match.View())
}

func (that *Handlers) Play(w http.ResponseWriter, r *http.Request) {
	caller, err := that.caller(r)
	if err != nil {
		that.writeError(w, "Play", err)
		return
	}

	var req playRequest
	if err = json.NewDecoder(r.Body).Decode(&req); err != nil || req.Cell == nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	match, result, err := that.matches.Play(r.Context(), r.PathValue("id"), caller, *req.Cell)
	if err != nil {
		that.writeError(w, "Play", err)
		return
	}

	that.writeJSON(w, http.StatusOK, playResponse{
		Match:  match.View(),
		Result: result,
	})
}

func (that *Handlers) ListRounds(w http.ResponseWriter, r *http.Request) {
	rounds, err := that.matches.ListRounds(r.Context(), r.PathValue("id"))
	if err != nil {
		that.writeError(w, "ListRounds", err)
		return
	}

	if rounds == nil {
		rounds = []*entity.RoundResult{}
	}

	that.writeJSON(w, http.StatusOK, rounds)
}

// caller resolves the account from the bearer token.
func (that *Handlers) caller(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")

	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || token == "" {
		return "", apperror.ErrUnauthorized
	}

	return that.auth.ParseToken(token)
}

func (that *Handlers) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(body); err != nil {
		that.logger.Error("failed to write response", "error", err)
	}
}

func (that *Handlers) writeError(w http.ResponseWriter, method string, err error) {
	status := statusOf(err)
	if status == http.StatusInternalServerError || status == http.StatusBadGateway {
		that.logger.Error("request failed", "method", method, "error", err)
	}

	that.writeJSON(w, status, map[string]string{"error": err.Error()})
}

var errorStatuses = []struct {
	err    error
	status int
}{
	{apperror.ErrUnauthorized, http.StatusUnauthorized},
	{apperror.ErrMatchNotFound, http.StatusNotFound},
	{apperror.ErrNotAPlayer, http.StatusForbidden},
	{apperror.ErrInvalidConfiguration, http.StatusBadRequest},
	{apperror.ErrCellOutOfRange, http.StatusBadRequest},
	{apperror.ErrAlreadyStaked, http.StatusConflict},
	{apperror.ErrStakeInProgress, http.StatusConflict},
	{apperror.ErrSettlementPending, http.StatusConflict},
	{apperror.ErrStakesIncomplete, http.StatusConflict},
	{apperror.ErrCellOccupied, http.StatusConflict},
	{apperror.ErrNotYourTurn, http.StatusConflict},
	{apperror.ErrEscrowMismatch, http.StatusConflict},
	{apperror.ErrInsufficientBalance, http.StatusUnprocessableEntity},
	{apperror.ErrInsufficientAllowance, http.StatusUnprocessableEntity},
	{apperror.ErrTransferFailed, http.StatusBadGateway},
	{ledger.ErrAmountTooLarge, http.StatusUnprocessableEntity},
	{ledger.ErrBalanceOverflow, http.StatusUnprocessableEntity},
}

func statusOf(err error) int {
	for _, entry := range errorStatuses {
		if errors.Is(err, entry.err) {
			return entry.status
		}
	}

	return http.StatusInternalServerError
}
